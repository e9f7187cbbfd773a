package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/api"
	"github.com/TambongStercy/SBC-MS-sub014/internal/auth"
	"github.com/TambongStercy/SBC-MS-sub014/internal/ledger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type requestWithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Currency    string          `json:"currency" binding:"required,len=3"`
	PhoneNumber string          `json:"phone_number" binding:"required"`
	Country     string          `json:"country" binding:"required,len=2"`
}

// Request opens a withdrawal and sends the OTP challenge. The funds stay
// untouched until an admin approves.
func (h *Handler) Request(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	email, _ := auth.GetUserEmail(c)

	var req requestWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": api.BindErrors(err)})
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
		return
	}

	tx, err := h.svc.Request(c.Request.Context(), userID, email, req.Amount, req.Currency, req.PhoneNumber, req.Country)
	if err != nil {
		logger.Error("failed to open withdrawal", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not open withdrawal"})
		return
	}

	c.JSON(http.StatusCreated, tx)
}

type verifyOTPRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

func (h *Handler) VerifyOTP(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": api.BindErrors(err)})
		return
	}

	tx, err := h.svc.VerifyOTP(c.Request.Context(), userID, c.Param("id"), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		case errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Not your withdrawal"})
		case errors.Is(err, ErrOTPInvalid):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		case errors.Is(err, ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "Withdrawal is not awaiting verification"})
		default:
			logger.Error("otp verification failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not verify code"})
		}
		return
	}

	c.JSON(http.StatusOK, tx)
}

// ListPending returns the admin review queue, oldest first.
func (h *Handler) ListPending(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	txs, err := h.svc.ListPending(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not list withdrawals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"withdrawals": txs, "limit": limit, "offset": offset})
}

func (h *Handler) Details(c *gin.Context) {
	details, err := h.svc.Details(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not load withdrawal"})
		return
	}

	c.JSON(http.StatusOK, details)
}

type approveRequest struct {
	Note string `json:"note" binding:"max=500"`
}

func (h *Handler) Approve(c *gin.Context) {
	adminID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": api.BindErrors(err)})
		return
	}

	tx, err := h.svc.Approve(c.Request.Context(), adminID, c.Param("id"), req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		case errors.Is(err, ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "Withdrawal is not awaiting approval"})
		case errors.Is(err, ledger.ErrInsufficientBalance):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Insufficient balance, withdrawal rejected"})
		default:
			logger.Error("approval failed", "withdrawal_id", c.Param("id"), "admin_id", adminID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not approve withdrawal"})
		}
		return
	}

	c.JSON(http.StatusOK, tx)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
	Note   string `json:"note" binding:"max=500"`
}

func (h *Handler) Reject(c *gin.Context) {
	adminID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rejection reason is required"})
		return
	}

	tx, err := h.svc.Reject(c.Request.Context(), adminID, c.Param("id"), req.Reason, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		case errors.Is(err, ErrReasonRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Rejection reason is required"})
		case errors.Is(err, ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "Withdrawal is not awaiting approval"})
		default:
			logger.Error("rejection failed", "withdrawal_id", c.Param("id"), "admin_id", adminID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not reject withdrawal"})
		}
		return
	}

	c.JSON(http.StatusOK, tx)
}

type bulkApproveRequest struct {
	IDs  []string `json:"ids" binding:"required,min=1,max=100,dive,uuid"`
	Note string   `json:"note" binding:"max=500"`
}

// BulkApprove processes each id independently; the response carries a
// per-id outcome instead of failing the batch.
func (h *Handler) BulkApprove(c *gin.Context) {
	adminID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req bulkApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": api.BindErrors(err)})
		return
	}

	result := h.svc.BulkApprove(c.Request.Context(), adminID, req.IDs, req.Note)

	c.JSON(http.StatusOK, result)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
