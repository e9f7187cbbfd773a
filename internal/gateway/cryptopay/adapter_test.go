package cryptopay

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
		APIKey:       "test-key",
		IPNSecret:    "ipn-secret",
		BaseURL:      srv.URL,
		USDToXAFRate: decimal.NewFromInt(660),
	})
}

func TestConvertToUSD_Deterministic(t *testing.T) {
	a := New(Config{USDToXAFRate: decimal.NewFromInt(660)})

	got := a.ConvertToUSD(decimal.NewFromInt(3070))
	want, _ := decimal.NewFromString("4.6515")
	assert.True(t, got.Equal(want), "got %s", got)

	// Same input, same output.
	again := a.ConvertToUSD(decimal.NewFromInt(3070))
	assert.True(t, got.Equal(again))
}

func TestSubmit_ConvertsAndRecordsRate(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"payment_id":4945313521,"payment_status":"waiting","pay_address":"TNDFkcAPv...","pay_amount":4.6515,"pay_currency":"usdttrc20","price_amount":4.6515,"price_currency":"usd"}`))
	})

	res, err := a.Submit(context.Background(), gateway.SubmitRequest{
		Ref:         "in-77",
		Amount:      decimal.NewFromInt(3070),
		Currency:    "XAF",
		PayCurrency: "USDTTRC20",
	})
	require.NoError(t, err)

	assert.Equal(t, "4945313521", res.ExternalRef)
	assert.Equal(t, "TNDFkcAPv...", res.DepositAddress)
	assert.Equal(t, "USDTTRC20", res.PayCurrency)
	assert.Equal(t, 20, res.RequiredConfirmations)

	// Conversion facts must survive for audit.
	assert.Equal(t, "3070", res.Metadata["original_amount"])
	assert.Equal(t, "XAF", res.Metadata["original_currency"])
	assert.Equal(t, "4.6515", res.Metadata["converted_amount_usd"])
	assert.Equal(t, "660", res.Metadata["conversion_rate"])
}

func TestSubmit_ProviderRejects(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Currency xaf was not found","code":"INVALID_REQUEST_PARAMS"}`))
	})

	_, err := a.Submit(context.Background(), gateway.SubmitRequest{
		Ref:         "in-78",
		Amount:      decimal.NewFromInt(100),
		Currency:    "GBP",
		PayCurrency: "btc",
	})
	require.Error(t, err)
	assert.True(t, gateway.IsRejection(err))
}

func TestParseWebhook_ValidSignature(t *testing.T) {
	a := New(Config{IPNSecret: "ipn-secret", USDToXAFRate: decimal.NewFromInt(660)})

	body := []byte(`{"payment_id":4945313521,"payment_status":"finished","price_amount":4.6515,"price_currency":"usd","pay_currency":"usdttrc20"}`)
	sig, err := SignIPN(body, "ipn-secret")
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("x-nowpayments-sig", sig)

	ev, err := a.ParseWebhook(body, headers)
	require.NoError(t, err)
	assert.Equal(t, "4945313521", ev.ExternalRef)
	assert.Equal(t, gateway.StatusConfirmed, ev.Status)
	assert.Equal(t, "USD", ev.Currency)
}

func TestParseWebhook_SignatureCoversSortedKeys(t *testing.T) {
	// The provider signs the payload with keys sorted; delivery order of the
	// keys must not matter.
	a := New(Config{IPNSecret: "ipn-secret"})

	shuffled := []byte(`{"price_currency":"usd","payment_id":1,"payment_status":"waiting"}`)
	ordered := []byte(`{"payment_id":1,"payment_status":"waiting","price_currency":"usd"}`)

	sigShuffled, err := SignIPN(shuffled, "ipn-secret")
	require.NoError(t, err)
	sigOrdered, err := SignIPN(ordered, "ipn-secret")
	require.NoError(t, err)
	assert.Equal(t, sigOrdered, sigShuffled)

	headers := http.Header{}
	headers.Set("x-nowpayments-sig", sigOrdered)
	_, err = a.ParseWebhook(shuffled, headers)
	require.NoError(t, err)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	a := New(Config{IPNSecret: "ipn-secret"})

	headers := http.Header{}
	headers.Set("x-nowpayments-sig", "deadbeef")

	_, err := a.ParseWebhook([]byte(`{"payment_id":1}`), headers)
	require.ErrorIs(t, err, gateway.ErrBadSignature)
}

func TestPollStatus_MapsProviderVocabulary(t *testing.T) {
	tests := []struct {
		provider string
		want     gateway.Status
	}{
		{"waiting", gateway.StatusWaitingDeposit},
		{"confirming", gateway.StatusProcessing},
		{"partially_paid", gateway.StatusPartiallyPaid},
		{"finished", gateway.StatusConfirmed},
		{"failed", gateway.StatusFailed},
		{"expired", gateway.StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payment/4945313521", r.URL.Path)
				w.Write([]byte(`{"payment_id":4945313521,"payment_status":"` + tt.provider + `"}`))
			})

			got, err := a.PollStatus(context.Background(), "4945313521")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitPayout_NotSupported(t *testing.T) {
	a := New(Config{})
	_, err := a.SubmitPayout(context.Background(), gateway.PayoutRequest{Ref: "wd-1"})
	require.Error(t, err)
	assert.True(t, gateway.IsRejection(err))
}
