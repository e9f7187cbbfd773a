package mobilemoney

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
)

const Name = "mobilemoney"

// Config holds the aggregator credentials. One adapter instance is built
// from it at boot and shared by reference.
type Config struct {
	APIKey        string
	SiteID        string
	Secret        string // shared secret for webhook HMAC
	TransferToken string
	BaseURL       string
	NotifyURL     string
	Timeout       time.Duration
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-checkout.cinetpay.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *Adapter) Name() string { return Name }

type submitResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		PaymentURL   string `json:"payment_url"`
		PaymentToken string `json:"payment_token"`
	} `json:"data"`
}

func (a *Adapter) Submit(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResult, error) {
	payload := map[string]interface{}{
		"apikey":                a.cfg.APIKey,
		"site_id":               a.cfg.SiteID,
		"transaction_id":        req.Ref,
		"amount":                req.Amount.IntPart(),
		"currency":              req.Currency,
		"description":           req.Description,
		"customer_phone_number": req.PhoneNumber,
		"customer_country":      req.Country,
		"notify_url":            a.cfg.NotifyURL,
		"channels":              "MOBILE_MONEY",
	}

	var resp submitResponse
	err := gateway.Retry(ctx, 0, func() error {
		return a.post(ctx, "/v2/payment", payload, &resp)
	})
	if err != nil {
		return nil, err
	}

	if resp.Code != "201" {
		return nil, &gateway.RejectionError{Gateway: Name, Reason: resp.Message}
	}

	return &gateway.SubmitResult{
		ExternalRef: req.Ref, // aggregator keys transactions by the merchant-supplied id
		CheckoutURL: resp.Data.PaymentURL,
		Metadata: map[string]interface{}{
			"payment_token": resp.Data.PaymentToken,
		},
		Raw: map[string]interface{}{"code": resp.Code, "message": resp.Message},
	}, nil
}

type transferResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TransactionID string `json:"transaction_id"`
	} `json:"data"`
}

func (a *Adapter) SubmitPayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.SubmitResult, error) {
	payload := map[string]interface{}{
		"token":                 a.cfg.TransferToken,
		"client_transaction_id": req.Ref,
		"amount":                req.Amount.IntPart(),
		"currency":              req.Currency,
		"phone":                 req.PhoneNumber,
		"country":               req.Country,
		"description":           req.Description,
	}

	var resp transferResponse
	err := gateway.Retry(ctx, 0, func() error {
		return a.post(ctx, "/v1/transfer/money", payload, &resp)
	})
	if err != nil {
		return nil, err
	}

	if resp.Code != 0 {
		return nil, &gateway.RejectionError{Gateway: Name, Reason: resp.Message}
	}

	ref := resp.Data.TransactionID
	if ref == "" {
		ref = req.Ref
	}
	return &gateway.SubmitResult{
		ExternalRef: ref,
		Raw:         map[string]interface{}{"code": resp.Code, "message": resp.Message},
	}, nil
}

// webhookPayload is the aggregator's callback shape.
type webhookPayload struct {
	TransID     string `json:"cpm_trans_id"`
	SiteID      string `json:"cpm_site_id"`
	Amount      string `json:"cpm_amount"`
	Currency    string `json:"cpm_currency"`
	TransStatus string `json:"cpm_trans_status"`
	ErrorMsg    string `json:"cpm_error_message"`
}

// ParseWebhook verifies the x-token HMAC over the raw body before anything
// else. A bad or missing token is rejected without parsing.
func (a *Adapter) ParseWebhook(body []byte, headers http.Header) (*gateway.Event, error) {
	token := headers.Get("x-token")
	if token == "" || !verifyHMAC(body, a.cfg.Secret, token) {
		return nil, gateway.ErrBadSignature
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("mobilemoney: malformed webhook payload: %w", err)
	}

	amount, _ := decimal.NewFromString(p.Amount)
	return &gateway.Event{
		ExternalRef: p.TransID,
		Status:      mapStatus(p.TransStatus),
		Amount:      amount,
		Currency:    p.Currency,
		Raw:         body,
	}, nil
}

type checkResponse struct {
	Code string `json:"code"`
	Data struct {
		Status string `json:"status"`
	} `json:"data"`
}

func (a *Adapter) PollStatus(ctx context.Context, externalRef string) (gateway.Status, error) {
	payload := map[string]interface{}{
		"apikey":         a.cfg.APIKey,
		"site_id":        a.cfg.SiteID,
		"transaction_id": externalRef,
	}

	var resp checkResponse
	err := gateway.Retry(ctx, 0, func() error {
		return a.post(ctx, "/v2/payment/check", payload, &resp)
	})
	if err != nil {
		return gateway.StatusUnknown, err
	}
	return mapStatus(resp.Data.Status), nil
}

func mapStatus(s string) gateway.Status {
	switch s {
	case "ACCEPTED":
		return gateway.StatusSucceeded
	case "REFUSED":
		return gateway.StatusFailed
	case "WAITING_FOR_CUSTOMER", "PENDING":
		return gateway.StatusProcessing
	case "CANCELED":
		return gateway.StatusCanceled
	case "EXPIRED":
		return gateway.StatusExpired
	default:
		return gateway.StatusUnknown
	}
}

func verifyHMAC(body []byte, secret, token string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(token))
}

// Sign computes the webhook token for a body. Exported for tests and for the
// sandbox replay tool.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// Transport failures are all retryable from the caller's side.
		return fmt.Errorf("mobilemoney: %v: %w", err, gateway.ErrTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("mobilemoney: provider returned %d: %w", resp.StatusCode, gateway.ErrTimeout)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mobilemoney: decoding response: %w", err)
	}
	return nil
}
