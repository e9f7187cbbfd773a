package intent

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, in *PaymentIntent) (*PaymentIntent, error)
	GetByID(ctx context.Context, id string) (*PaymentIntent, error)
	GetBySessionID(ctx context.Context, sessionID string) (*PaymentIntent, error)
	GetByExternalRef(ctx context.Context, gateway, externalRef string) (*PaymentIntent, error)
	EngageGateway(ctx context.Context, id string, e Engagement) (*PaymentIntent, error)
	TransitionCAS(ctx context.Context, id string, from, to Status, version int) (bool, error)
	MarkSettled(ctx context.Context, id string) error
	AppendEvent(ctx context.Context, ev *Event) error
	GetEvents(ctx context.Context, intentID string) ([]Event, error)
	FindStale(ctx context.Context, gateway string, updatedBefore time.Time, limit int) ([]PaymentIntent, error)
	FindOverdue(ctx context.Context, createdBefore time.Time, limit int) ([]PaymentIntent, error)
	FindUnsettled(ctx context.Context, limit int) ([]PaymentIntent, error)
}
