package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/api"
	"github.com/TambongStercy/SBC-MS-sub014/internal/auth"
	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
)

type Handler struct {
	svc       Service
	processor *Processor
}

func NewHandler(svc Service, processor *Processor) *Handler {
	return &Handler{svc: svc, processor: processor}
}

type createIntentRequest struct {
	Purpose  string          `json:"purpose" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Currency string          `json:"currency" binding:"required,len=3"`
}

// CreateIntent opens a payment session. No gateway is involved yet; the
// caller gets a session id to attach payment details to.
func (h *Handler) CreateIntent(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	email, _ := auth.GetUserEmail(c)

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": api.BindErrors(err)})
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
		return
	}

	in, err := h.svc.CreateIntent(c.Request.Context(), userID, email, req.Purpose, req.Amount, req.Currency)
	if err != nil {
		logger.Error("failed to create payment intent", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create payment"})
		return
	}

	c.JSON(http.StatusCreated, in)
}

type submitDetailsRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required,oneof=mobile_money crypto"`
	Country       string `json:"country"`
	PhoneNumber   string `json:"phone_number"`
	PayCurrency   string `json:"pay_currency"`
}

// SubmitDetails attaches the customer's payment method and hands the
// session to a gateway.
func (h *Handler) SubmitDetails(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req submitDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": api.BindErrors(err)})
		return
	}

	details := SubmitDetails{
		Kind:        gateway.PaymentKind(req.PaymentMethod),
		Country:     req.Country,
		PhoneNumber: req.PhoneNumber,
		PayCurrency: req.PayCurrency,
	}

	in, err := h.svc.SubmitDetails(c.Request.Context(), c.Param("sessionID"), details)
	if err != nil {
		switch {
		case errors.Is(err, intent.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment session not found"})
		case errors.Is(err, intent.ErrAlreadyEngaged):
			c.JSON(http.StatusConflict, gin.H{"error": "Payment details already submitted"})
		case errors.Is(err, intent.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "Payment is not awaiting details"})
		case errors.Is(err, gateway.ErrNoGateway):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No provider serves this payment method"})
		case gateway.IsRejection(err):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Provider declined the payment"})
		case errors.Is(err, gateway.ErrTimeout):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Provider unavailable, try again"})
		default:
			logger.Error("failed to submit payment details", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not start payment"})
		}
		return
	}

	c.JSON(http.StatusOK, in)
}

// Status returns the intent and its event history for polling clients.
func (h *Handler) Status(c *gin.Context) {
	in, events, err := h.svc.StatusBySession(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		if errors.Is(err, intent.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not load payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"intent": in, "events": events})
}

// Cancel aborts a session that has not reached a provider yet.
func (h *Handler) Cancel(c *gin.Context) {
	in, err := h.svc.Cancel(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		switch {
		case errors.Is(err, intent.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment session not found"})
		case errors.Is(err, ErrCancelUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": "Payment already handed to provider, cannot cancel"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not cancel payment"})
		}
		return
	}

	c.JSON(http.StatusOK, in)
}

// Webhook receives provider callbacks. Bad signatures and unroutable
// gateway names are the only client errors; everything after a valid
// signature is acknowledged so the provider does not keep retrying.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	err = h.processor.HandleWebhook(c.Request.Context(), c.Param("gateway"), body, c.Request.Header)
	switch {
	case errors.Is(err, gateway.ErrBadSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	case errors.Is(err, ErrUnknownGateway):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown gateway"})
	case err != nil:
		logger.Error("webhook processing failed", "gateway", c.Param("gateway"), "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "received"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "received"})
	}
}
