package withdrawal

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
)

func setupWithdrawalMock(t *testing.T) (Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB)

	closer := func() { sqlxDB.Close() }
	return repo, mock, closer
}

func TestWithdrawalTransitionCAS_Wins(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE withdrawals SET status = $3, version = version + 1, updated_at = NOW() WHERE id = $1 AND status = $2 AND version = $4")).
		WithArgs("wd-1", string(intent.StatusPendingAdminApproval), string(intent.StatusProcessing), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.TransitionCAS(context.Background(), "wd-1", intent.StatusPendingAdminApproval, intent.StatusProcessing, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWithdrawalTransitionCAS_LostRace(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE withdrawals SET status = $3, version = version + 1, updated_at = NOW() WHERE id = $1 AND status = $2 AND version = $4")).
		WithArgs("wd-1", string(intent.StatusPendingAdminApproval), string(intent.StatusRejectedByAdmin), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionCAS(context.Background(), "wd-1", intent.StatusPendingAdminApproval, intent.StatusRejectedByAdmin, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	mock.ExpectQuery("SELECT .+ FROM withdrawals WHERE id = \\$1").
		WithArgs("wd-404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "wd-404")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDebited_OnlyOnce(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	// The guard keeps a second call from touching the row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE withdrawals SET debited = TRUE, debited_at = NOW(), updated_at = NOW() WHERE id = $1 AND debited = FALSE")).
		WithArgs("wd-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDebited(context.Background(), "wd-1")
	require.NoError(t, err)
}

func TestRecordRejection(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE withdrawals SET approved_by = $2, rejected_at = NOW(), rejection_reason = $3, admin_note = $4, updated_at = NOW() WHERE id = $1")).
		WithArgs("wd-1", "admin-1", "limit exceeded", "second offence").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordRejection(context.Background(), "wd-1", "admin-1", "limit exceeded", "second offence")
	require.NoError(t, err)
}

func TestFindUnrefunded_FiltersClosedDebits(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	mock.ExpectQuery("SELECT .+ FROM withdrawals WHERE debited = TRUE AND refunded = FALSE AND status = ANY\\(\\$1\\)").
		WithArgs(pq.Array([]string{
			string(intent.StatusFailed),
			string(intent.StatusRejectedByAdmin),
			string(intent.StatusExpired),
		}), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "debited", "refunded", "version"}).
			AddRow("wd-1", "user-1", string(intent.StatusRejectedByAdmin), true, false, 3))

	owed, err := repo.FindUnrefunded(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, owed, 1)
	require.Equal(t, "wd-1", owed[0].ID)
	require.True(t, owed[0].Debited)
	require.False(t, owed[0].Refunded)
}

func TestFindUndebitedApproved_FiltersInterruptedApprovals(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	mock.ExpectQuery("SELECT .+ FROM withdrawals WHERE status = \\$1 AND approved_at IS NOT NULL AND debited = FALSE AND external_ref IS NULL").
		WithArgs(string(intent.StatusProcessing), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "debited", "version"}).
			AddRow("wd-1", "user-1", string(intent.StatusProcessing), false, 2))

	stuck, err := repo.FindUndebitedApproved(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "wd-1", stuck[0].ID)
	require.False(t, stuck[0].Debited)
}

func TestStats(t *testing.T) {
	repo, mock, close := setupWithdrawalMock(t)
	defer close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(string(intent.StatusPendingAdminApproval), string(intent.StatusSucceeded)).
		WillReturnRows(sqlmock.NewRows([]string{"pending_count", "pending_amount", "approved_today", "rejected_today", "paid_out_total"}).
			AddRow(4, "81500", 2, 1, "240000"))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, stats.PendingCount)
	require.Equal(t, "81500", stats.PendingAmount.String())
	require.Equal(t, 2, stats.ApprovedToday)
}
