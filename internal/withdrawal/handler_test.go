package withdrawal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/metrics"
)

// newRouter wires the handler behind a stubbed auth identity, the way the
// server mounts it after the JWT middleware.
func newRouter(f *fixture, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("user_email", userID+"@example.com")
		c.Set("user_role", "admin")
	})
	r.POST("/withdrawals", h.Request)
	r.POST("/withdrawals/:id/verify", h.VerifyOTP)
	r.POST("/admin/withdrawals/:id/approve", h.Approve)
	r.POST("/admin/withdrawals/:id/reject", h.Reject)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApproveEndpointCountsDecisionOnce(t *testing.T) {
	f := newFixture()
	tx := f.requestAndVerify(t, 10000)
	r := newRouter(f, "admin-1")

	before := testutil.ToFloat64(metrics.WithdrawalDecisionsTotal.WithLabelValues("approved"))

	w := doJSON(t, r, http.MethodPost, "/admin/withdrawals/"+tx.ID+"/approve", gin.H{"note": "ok"})
	require.Equal(t, http.StatusOK, w.Code)

	after := testutil.ToFloat64(metrics.WithdrawalDecisionsTotal.WithLabelValues("approved"))
	assert.Equal(t, 1.0, after-before)
}

func TestRejectEndpointCountsDecisionOnce(t *testing.T) {
	f := newFixture()
	tx := f.requestAndVerify(t, 10000)
	r := newRouter(f, "admin-1")

	before := testutil.ToFloat64(metrics.WithdrawalDecisionsTotal.WithLabelValues("rejected"))

	w := doJSON(t, r, http.MethodPost, "/admin/withdrawals/"+tx.ID+"/reject", gin.H{"reason": "limit exceeded"})
	require.Equal(t, http.StatusOK, w.Code)

	after := testutil.ToFloat64(metrics.WithdrawalDecisionsTotal.WithLabelValues("rejected"))
	assert.Equal(t, 1.0, after-before)
}

func TestVerifyEndpointForbidsForeignWithdrawal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tx, err := f.svc.Request(ctx, "user-1", "u@e.com", decimal.NewFromInt(5000), "XAF", "+237670000001", "CM")
	require.NoError(t, err)

	r := newRouter(f, "user-2")
	w := doJSON(t, r, http.MethodPost, "/withdrawals/"+tx.ID+"/verify", gin.H{"code": f.codes.code})
	assert.Equal(t, http.StatusForbidden, w.Code)

	got, err := f.repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.StatusPendingOTP, got.Status)
}

func TestRequestEndpointReportsFieldErrors(t *testing.T) {
	f := newFixture()
	r := newRouter(f, "user-1")

	w := doJSON(t, r, http.MethodPost, "/withdrawals", gin.H{
		"amount":       5000,
		"currency":     "XA",
		"phone_number": "+237670000001",
		"country":      "CM",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error   string `json:"error"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid request body", resp.Error)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, "currency", resp.Details[0].Field)
	assert.Contains(t, resp.Details[0].Message, "exactly 3 characters")
}
