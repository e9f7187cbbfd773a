package mobilemoney

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		APIKey:  "test-key",
		SiteID:  "12345",
		Secret:  "hook-secret",
		BaseURL: srv.URL,
	})
}

func TestSubmit_Success(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment", r.URL.Path)
		w.Write([]byte(`{"code":"201","message":"CREATED","data":{"payment_url":"https://pay.example/abc","payment_token":"tok-1"}}`))
	})

	res, err := a.Submit(context.Background(), gateway.SubmitRequest{
		Ref:      "in-42",
		Amount:   decimal.NewFromInt(5000),
		Currency: "XAF",
		Country:  "CM",
	})
	require.NoError(t, err)
	assert.Equal(t, "in-42", res.ExternalRef)
	assert.Equal(t, "https://pay.example/abc", res.CheckoutURL)
	assert.Equal(t, "tok-1", res.Metadata["payment_token"])
}

func TestSubmit_ProviderRejects(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"608","message":"UNSUPPORTED CURRENCY"}`))
	})

	_, err := a.Submit(context.Background(), gateway.SubmitRequest{
		Ref:      "in-43",
		Amount:   decimal.NewFromInt(100),
		Currency: "EUR",
	})
	require.Error(t, err)
	assert.True(t, gateway.IsRejection(err))
	assert.Contains(t, err.Error(), "UNSUPPORTED CURRENCY")
}

func TestParseWebhook_ValidSignature(t *testing.T) {
	a := New(Config{Secret: "hook-secret"})

	body := []byte(`{"cpm_trans_id":"in-42","cpm_site_id":"12345","cpm_amount":"5000","cpm_currency":"XAF","cpm_trans_status":"ACCEPTED"}`)
	headers := http.Header{}
	headers.Set("x-token", Sign(body, "hook-secret"))

	ev, err := a.ParseWebhook(body, headers)
	require.NoError(t, err)
	assert.Equal(t, "in-42", ev.ExternalRef)
	assert.Equal(t, gateway.StatusSucceeded, ev.Status)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(5000)))
}

func TestParseWebhook_BadSignature(t *testing.T) {
	a := New(Config{Secret: "hook-secret"})

	body := []byte(`{"cpm_trans_id":"in-42","cpm_trans_status":"ACCEPTED"}`)
	headers := http.Header{}
	headers.Set("x-token", "forged")

	_, err := a.ParseWebhook(body, headers)
	require.ErrorIs(t, err, gateway.ErrBadSignature)
}

func TestParseWebhook_MissingToken(t *testing.T) {
	a := New(Config{Secret: "hook-secret"})

	_, err := a.ParseWebhook([]byte(`{}`), http.Header{})
	require.ErrorIs(t, err, gateway.ErrBadSignature)
}

func TestPollStatus_MapsProviderVocabulary(t *testing.T) {
	tests := []struct {
		provider string
		want     gateway.Status
	}{
		{"ACCEPTED", gateway.StatusSucceeded},
		{"REFUSED", gateway.StatusFailed},
		{"WAITING_FOR_CUSTOMER", gateway.StatusProcessing},
		{"CANCELED", gateway.StatusCanceled},
		{"EXPIRED", gateway.StatusExpired},
		{"GIBBERISH", gateway.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/payment/check", r.URL.Path)
				w.Write([]byte(`{"code":"00","data":{"status":"` + tt.provider + `"}}`))
			})

			got, err := a.PollStatus(context.Background(), "in-42")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitPayout_Success(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfer/money", r.URL.Path)
		w.Write([]byte(`{"code":0,"message":"OK","data":{"transaction_id":"tr-900"}}`))
	})

	res, err := a.SubmitPayout(context.Background(), gateway.PayoutRequest{
		Ref:         "wd-7",
		Amount:      decimal.NewFromInt(10000),
		Currency:    "XAF",
		PhoneNumber: "+237650000001",
		Country:     "CM",
	})
	require.NoError(t, err)
	assert.Equal(t, "tr-900", res.ExternalRef)
}
