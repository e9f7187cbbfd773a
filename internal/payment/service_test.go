package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
)

type svcFixture struct {
	repo   *fakeIntentRepo
	mobile *stubGateway
	crypto *stubGateway
	svc    Service
}

func newSvcFixture() *svcFixture {
	f := &svcFixture{
		repo:   newFakeIntentRepo(),
		mobile: &stubGateway{name: "mobilemoney"},
		crypto: &stubGateway{name: "cryptopay"},
	}
	registry := gateway.NewRegistry(f.mobile, f.crypto)
	f.svc = NewService(f.repo, registry)
	return f
}

func (f *svcFixture) createIntent(t *testing.T) *intent.PaymentIntent {
	t.Helper()
	in, err := f.svc.CreateIntent(context.Background(), "user-1", "user@example.com", "subscription", decimal.NewFromInt(3070), "XAF")
	require.NoError(t, err)
	return in
}

func TestCreateIntentStartsAtUserInput(t *testing.T) {
	f := newSvcFixture()

	in := f.createIntent(t)

	assert.Equal(t, intent.StatusPendingUserInput, in.Status)
	assert.NotEmpty(t, in.SessionID)
	assert.Equal(t, "user@example.com", in.Metadata["email"])
}

func TestCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	f := newSvcFixture()

	_, err := f.svc.CreateIntent(context.Background(), "user-1", "u@e.com", "subscription", decimal.Zero, "XAF")
	assert.Error(t, err)
}

func TestSubmitDetailsMobileMoney(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	url := "https://checkout.example/pay/abc"
	f.mobile.submit = &gateway.SubmitResult{ExternalRef: in.ID, CheckoutURL: url}

	got, err := f.svc.SubmitDetails(ctx, in.SessionID, SubmitDetails{
		Kind:        gateway.KindMobileMoney,
		Country:     "CM",
		PhoneNumber: "+237670000001",
	})
	require.NoError(t, err)

	assert.Equal(t, intent.StatusPendingProvider, got.Status)
	assert.Equal(t, "mobilemoney", got.Gateway)
	require.NotNil(t, got.ExternalRef)
	assert.Equal(t, in.ID, *got.ExternalRef)
	require.NotNil(t, got.CheckoutURL)
	assert.Equal(t, url, *got.CheckoutURL)
}

func TestSubmitDetailsCryptoWaitsForDeposit(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	f.crypto.submit = &gateway.SubmitResult{
		ExternalRef:           "np-123",
		DepositAddress:        "TXyzDepositAddr",
		PayCurrency:           "usdttrc20",
		PayAmount:             decimal.RequireFromString("4.6515"),
		RequiredConfirmations: 20,
		Metadata: map[string]interface{}{
			"original_amount":   "3070",
			"original_currency": "XAF",
		},
	}

	got, err := f.svc.SubmitDetails(ctx, in.SessionID, SubmitDetails{
		Kind:        gateway.KindCrypto,
		PayCurrency: "usdttrc20",
	})
	require.NoError(t, err)

	assert.Equal(t, intent.StatusWaitingForDeposit, got.Status)
	assert.Equal(t, "cryptopay", got.Gateway)
	require.NotNil(t, got.DepositAddress)
	assert.Equal(t, "TXyzDepositAddr", *got.DepositAddress)
	assert.Equal(t, "XAF", got.Metadata["original_currency"])
}

func TestSubmitDetailsTwiceConflicts(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	details := SubmitDetails{Kind: gateway.KindMobileMoney, Country: "CM", PhoneNumber: "+237670000001"}

	_, err := f.svc.SubmitDetails(ctx, in.SessionID, details)
	require.NoError(t, err)

	_, err = f.svc.SubmitDetails(ctx, in.SessionID, details)
	assert.ErrorIs(t, err, intent.ErrInvalidState)
}

func TestSubmitDetailsRejectionFailsIntent(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	f.mobile.submitErr = &gateway.RejectionError{Gateway: "mobilemoney", Reason: "MINIMUM_REQUIRED_FIELDS"}

	_, err := f.svc.SubmitDetails(ctx, in.SessionID, SubmitDetails{
		Kind:        gateway.KindMobileMoney,
		Country:     "CM",
		PhoneNumber: "+237670000001",
	})
	require.Error(t, err)
	assert.True(t, gateway.IsRejection(err))

	got, err := f.repo.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusFailed, got.Status)
}

func TestSubmitDetailsTimeoutLeavesIntentRetryable(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	f.mobile.submitErr = gateway.ErrTimeout

	_, err := f.svc.SubmitDetails(ctx, in.SessionID, SubmitDetails{
		Kind:        gateway.KindMobileMoney,
		Country:     "CM",
		PhoneNumber: "+237670000001",
	})
	assert.ErrorIs(t, err, gateway.ErrTimeout)

	got, err := f.repo.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusPendingUserInput, got.Status)

	// The user retries once the provider recovers.
	f.mobile.submitErr = nil
	retried, err := f.svc.SubmitDetails(ctx, in.SessionID, SubmitDetails{
		Kind:        gateway.KindMobileMoney,
		Country:     "CM",
		PhoneNumber: "+237670000001",
	})
	require.NoError(t, err)
	assert.Equal(t, intent.StatusPendingProvider, retried.Status)
}

func TestSubmitDetailsUnservedCountry(t *testing.T) {
	f := newSvcFixture()
	in := f.createIntent(t)

	_, err := f.svc.SubmitDetails(context.Background(), in.SessionID, SubmitDetails{
		Kind:        gateway.KindMobileMoney,
		Country:     "US",
		PhoneNumber: "+15550000001",
	})
	assert.ErrorIs(t, err, gateway.ErrNoGateway)
}

func TestCancelBeforeEngagement(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	got, err := f.svc.Cancel(ctx, in.SessionID)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusCanceled, got.Status)
}

func TestCancelAfterEngagementUnavailable(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	_, err := f.svc.SubmitDetails(ctx, in.SessionID, SubmitDetails{
		Kind:        gateway.KindMobileMoney,
		Country:     "CM",
		PhoneNumber: "+237670000001",
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, in.SessionID)
	assert.ErrorIs(t, err, ErrCancelUnavailable)
}

func TestCancelTerminalIsNoOp(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	_, err := f.svc.Cancel(ctx, in.SessionID)
	require.NoError(t, err)

	// Cancel again: already terminal, returned as-is.
	got, err := f.svc.Cancel(ctx, in.SessionID)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusCanceled, got.Status)
}

func TestStatusBySessionIncludesEvents(t *testing.T) {
	f := newSvcFixture()
	ctx := context.Background()
	in := f.createIntent(t)

	_, err := f.svc.SubmitDetails(ctx, in.SessionID, SubmitDetails{
		Kind:        gateway.KindMobileMoney,
		Country:     "CM",
		PhoneNumber: "+237670000001",
	})
	require.NoError(t, err)

	got, events, err := f.svc.StatusBySession(ctx, in.SessionID)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusPendingProvider, got.Status)
	require.NotEmpty(t, events)
	assert.Equal(t, intent.EventSourceSystem, events[0].Source)
}
