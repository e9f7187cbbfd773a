package withdrawal

import (
	"context"
	"time"

	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
)

type Repository interface {
	Create(ctx context.Context, tx *Transaction) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByExternalRef(ctx context.Context, gateway, externalRef string) (*Transaction, error)
	ListByStatus(ctx context.Context, status intent.Status, limit, offset int) ([]Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
	TransitionCAS(ctx context.Context, id string, from, to intent.Status, version int) (bool, error)
	RecordApproval(ctx context.Context, id, adminID, note string) error
	RecordRejection(ctx context.Context, id, adminID, reason, note string) error
	SetExternalRef(ctx context.Context, id, gateway, externalRef string) error
	MarkDebited(ctx context.Context, id string) error
	MarkRefunded(ctx context.Context, id string) error
	AppendEvent(ctx context.Context, ev *intent.Event) error
	GetEvents(ctx context.Context, id string) ([]intent.Event, error)
	FindStale(ctx context.Context, gateway string, updatedBefore time.Time, limit int) ([]Transaction, error)
	FindOverdue(ctx context.Context, createdBefore time.Time, limit int) ([]Transaction, error)
	FindUndebitedApproved(ctx context.Context, limit int) ([]Transaction, error)
	FindUnrefunded(ctx context.Context, limit int) ([]Transaction, error)
	Stats(ctx context.Context) (*Stats, error)
}
