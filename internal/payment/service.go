package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/metrics"
)

var (
	// ErrCancelUnavailable is returned when a local cancel is requested after
	// a provider has been engaged; closure is then up to the provider flow or
	// the expiry sweep.
	ErrCancelUnavailable = errors.New("intent already submitted to provider, cannot cancel locally")
)

// SubmitDetails carries the second step of intent creation: the user's
// country/phone for mobile money, or the pay currency for crypto.
type SubmitDetails struct {
	Kind        gateway.PaymentKind
	Country     string
	PhoneNumber string
	PayCurrency string
}

type Service interface {
	CreateIntent(ctx context.Context, userID, email, purpose string, amount decimal.Decimal, currency string) (*intent.PaymentIntent, error)
	SubmitDetails(ctx context.Context, sessionID string, details SubmitDetails) (*intent.PaymentIntent, error)
	Cancel(ctx context.Context, sessionID string) (*intent.PaymentIntent, error)
	StatusBySession(ctx context.Context, sessionID string) (*intent.PaymentIntent, []intent.Event, error)
}

type service struct {
	repo     intent.Repository
	registry *gateway.Registry
}

func NewService(repo intent.Repository, registry *gateway.Registry) Service {
	return &service{repo: repo, registry: registry}
}

func (s *service) CreateIntent(ctx context.Context, userID, email, purpose string, amount decimal.Decimal, currency string) (*intent.PaymentIntent, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("amount must be positive")
	}

	return s.repo.Create(ctx, &intent.PaymentIntent{
		UserID:   userID,
		Purpose:  purpose,
		Amount:   amount,
		Currency: currency,
		Metadata: intent.Metadata{"email": email},
	})
}

// SubmitDetails picks a gateway and starts the external flow. Amount and
// currency are locked from here on.
func (s *service) SubmitDetails(ctx context.Context, sessionID string, details SubmitDetails) (*intent.PaymentIntent, error) {
	in, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if in.Status != intent.StatusPendingUserInput {
		return nil, intent.ErrInvalidState
	}

	gw, err := s.registry.ForPayment(details.Kind, details.Country, in.Currency)
	if err != nil {
		return nil, err
	}

	result, err := gw.Submit(ctx, gateway.SubmitRequest{
		Ref:         in.ID,
		UserID:      in.UserID,
		Purpose:     in.Purpose,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Country:     details.Country,
		PhoneNumber: details.PhoneNumber,
		PayCurrency: details.PayCurrency,
		Description: fmt.Sprintf("SBC %s payment", in.Purpose),
	})
	if err != nil {
		if gateway.IsRejection(err) {
			s.failRejected(ctx, in, err)
		}
		// Timeouts leave the intent as-is; the user may retry submission.
		return nil, err
	}

	engagement := intent.Engagement{
		Gateway:     gw.Name(),
		ExternalRef: result.ExternalRef,
		Metadata:    result.Metadata,
	}
	if result.CheckoutURL != "" {
		engagement.CheckoutURL = &result.CheckoutURL
	}
	if result.DepositAddress != "" {
		engagement.DepositAddress = &result.DepositAddress
	}
	if result.PayCurrency != "" {
		engagement.PayCurrency = &result.PayCurrency
		payAmount := result.PayAmount
		engagement.PayAmount = &payAmount
		rate := result.ExchangeRate
		engagement.ExchangeRate = &rate
		confirmations := result.RequiredConfirmations
		engagement.RequiredConfirmations = &confirmations
	}

	engaged, err := s.repo.EngageGateway(ctx, in.ID, engagement)
	if err != nil {
		return nil, err
	}

	next := intent.StatusPendingProvider
	if details.Kind == gateway.KindCrypto {
		next = intent.StatusWaitingForDeposit
	}
	moved, err := s.repo.TransitionCAS(ctx, engaged.ID, engaged.Status, next, engaged.Version)
	if err != nil {
		return nil, err
	}
	if moved {
		metrics.RecordTransition(string(next), intent.EventSourceSystem)
	}

	s.appendSystemEvent(ctx, in.ID, "submitted to "+gw.Name())

	return s.repo.GetByID(ctx, in.ID)
}

func (s *service) failRejected(ctx context.Context, in *intent.PaymentIntent, cause error) {
	moved, err := s.repo.TransitionCAS(ctx, in.ID, in.Status, intent.StatusFailed, in.Version)
	if err != nil {
		logger.Error("failed to mark intent failed", "intent_id", in.ID, "error", err)
		return
	}
	if moved {
		metrics.RecordTransition(string(intent.StatusFailed), intent.EventSourceSystem)
		s.appendSystemEvent(ctx, in.ID, "gateway rejected: "+cause.Error())
	}
}

// Cancel closes an intent the user abandoned. Only possible before a
// provider is engaged; afterwards the provider flow or the expiry sweep
// closes it out.
func (s *service) Cancel(ctx context.Context, sessionID string) (*intent.PaymentIntent, error) {
	in, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if intent.IsTerminal(in.Status) {
		return in, nil
	}
	if in.ExternalRef != nil {
		return nil, ErrCancelUnavailable
	}

	moved, err := s.repo.TransitionCAS(ctx, in.ID, in.Status, intent.StatusCanceled, in.Version)
	if err != nil {
		return nil, err
	}
	if moved {
		metrics.RecordTransition(string(intent.StatusCanceled), intent.EventSourceSystem)
		s.appendSystemEvent(ctx, in.ID, "canceled by user")
	}

	return s.repo.GetByID(ctx, in.ID)
}

func (s *service) StatusBySession(ctx context.Context, sessionID string) (*intent.PaymentIntent, []intent.Event, error) {
	in, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.repo.GetEvents(ctx, in.ID)
	if err != nil {
		return nil, nil, err
	}
	return in, events, nil
}

func (s *service) appendSystemEvent(ctx context.Context, id, status string) {
	ev := &intent.Event{IntentID: id, Source: intent.EventSourceSystem, Status: status}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		logger.Error("failed to append intent event", "intent_id", id, "error", err)
	}
}
