package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxAttempts = 3
	retryDelay  = 300 * time.Millisecond
)

// HTTPClient talks to the balance service over its internal REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type mutationRequest struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (c *HTTPClient) Credit(ctx context.Context, userID string, amount decimal.Decimal, currency, idempotencyKey string) error {
	return c.mutate(ctx, "/internal/balance/credit", userID, amount, currency, idempotencyKey)
}

func (c *HTTPClient) Debit(ctx context.Context, userID string, amount decimal.Decimal, currency, idempotencyKey string) error {
	return c.mutate(ctx, "/internal/balance/debit", userID, amount, currency, idempotencyKey)
}

func (c *HTTPClient) mutate(ctx context.Context, path, userID string, amount decimal.Decimal, currency, idempotencyKey string) error {
	body, err := json.Marshal(mutationRequest{
		UserID:   userID,
		Amount:   amount,
		Currency: currency,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-Idempotency-Key", idempotencyKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("ledger: %v: %w", err, ErrUnavailable)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusUnprocessableEntity:
			return ErrInsufficientBalance
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("ledger: status %d: %w", resp.StatusCode, ErrUnavailable)
			continue
		default:
			return fmt.Errorf("ledger: unexpected status %d", resp.StatusCode)
		}
	}
	return lastErr
}
