package cryptopay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
)

const Name = "cryptopay"

// conversionScale is the number of decimal places kept when converting the
// platform currency to USD for the provider.
const conversionScale = 4

// Config holds the crypto settlement provider credentials and the fixed
// conversion rate. The provider prices everything in USD and does not accept
// XAF, so submissions are converted at USDToXAFRate before they leave the
// adapter. The conversion is recorded in the submission metadata.
type Config struct {
	APIKey       string
	IPNSecret    string
	BaseURL      string
	IPNURL       string
	USDToXAFRate decimal.Decimal
	Timeout      time.Duration
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.nowpayments.io/v1"
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

// ConvertToUSD applies the fixed rate, rounded to 4 decimal places.
// 3070 XAF at 660 gives 4.6515 USD.
func (a *Adapter) ConvertToUSD(amount decimal.Decimal) decimal.Decimal {
	return amount.DivRound(a.cfg.USDToXAFRate, conversionScale)
}

type createPaymentResponse struct {
	PaymentID      json.Number `json:"payment_id"`
	PaymentStatus  string      `json:"payment_status"`
	PayAddress     string      `json:"pay_address"`
	PayAmount      json.Number `json:"pay_amount"`
	PayCurrency    string      `json:"pay_currency"`
	PriceAmount    json.Number `json:"price_amount"`
	PriceCurrency  string      `json:"price_currency"`
	ExpirationDate string      `json:"expiration_estimate_date"`
	Message        string      `json:"message"`
	Code           string      `json:"code"`
}

func (a *Adapter) Submit(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResult, error) {
	priceAmount := req.Amount
	priceCurrency := strings.ToLower(req.Currency)
	meta := map[string]interface{}{}

	if cur := strings.ToUpper(req.Currency); cur == "XAF" || cur == "XOF" {
		converted := a.ConvertToUSD(req.Amount)
		meta["original_amount"] = req.Amount.String()
		meta["original_currency"] = cur
		meta["converted_amount_usd"] = converted.String()
		meta["conversion_rate"] = a.cfg.USDToXAFRate.String()
		priceAmount = converted
		priceCurrency = "usd"
	}

	payload := map[string]interface{}{
		"price_amount":      priceAmount,
		"price_currency":    priceCurrency,
		"pay_currency":      strings.ToLower(req.PayCurrency),
		"order_id":          req.Ref,
		"order_description": req.Description,
		"ipn_callback_url":  a.cfg.IPNURL,
	}

	var resp createPaymentResponse
	err := gateway.Retry(ctx, 0, func() error {
		return a.post(ctx, "/payment", payload, &resp)
	})
	if err != nil {
		return nil, err
	}

	if resp.PaymentID.String() == "" {
		reason := resp.Message
		if reason == "" {
			reason = "payment was not created"
		}
		return nil, &gateway.RejectionError{Gateway: Name, Reason: reason}
	}

	payAmount, _ := decimal.NewFromString(resp.PayAmount.String())
	result := &gateway.SubmitResult{
		ExternalRef:           resp.PaymentID.String(),
		DepositAddress:        resp.PayAddress,
		PayCurrency:           strings.ToUpper(resp.PayCurrency),
		PayAmount:             payAmount,
		ExchangeRate:          a.cfg.USDToXAFRate,
		RequiredConfirmations: requiredConfirmations(resp.PayCurrency),
		Metadata:              meta,
		Raw:                   map[string]interface{}{"payment_status": resp.PaymentStatus},
	}
	return result, nil
}

func (a *Adapter) SubmitPayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.SubmitResult, error) {
	// Crypto payouts are not offered on this platform; mobile-money handles
	// all withdrawals.
	return nil, &gateway.RejectionError{Gateway: Name, Reason: "payouts not supported"}
}

// ipnPayload is the provider's callback shape.
type ipnPayload struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PayAmount     json.Number `json:"pay_amount"`
	ActuallyPaid  json.Number `json:"actually_paid"`
	PayCurrency   string      `json:"pay_currency"`
	PriceAmount   json.Number `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	OrderID       string      `json:"order_id"`
}

// ParseWebhook authenticates the x-nowpayments-sig header: HMAC-SHA512 of the
// payload re-serialised with its keys sorted, keyed by the IPN secret.
func (a *Adapter) ParseWebhook(body []byte, headers http.Header) (*gateway.Event, error) {
	sig := headers.Get("x-nowpayments-sig")
	if sig == "" {
		return nil, gateway.ErrBadSignature
	}

	expected, err := SignIPN(body, a.cfg.IPNSecret)
	if err != nil {
		return nil, gateway.ErrBadSignature
	}
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, gateway.ErrBadSignature
	}

	var p ipnPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("cryptopay: malformed webhook payload: %w", err)
	}

	amount, _ := decimal.NewFromString(p.PriceAmount.String())
	return &gateway.Event{
		ExternalRef: p.PaymentID.String(),
		Status:      mapStatus(p.PaymentStatus),
		Amount:      amount,
		Currency:    strings.ToUpper(p.PriceCurrency),
		Raw:         body,
	}, nil
}

type statusResponse struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
}

func (a *Adapter) PollStatus(ctx context.Context, externalRef string) (gateway.Status, error) {
	var resp statusResponse
	err := gateway.Retry(ctx, 0, func() error {
		return a.get(ctx, "/payment/"+externalRef, &resp)
	})
	if err != nil {
		return gateway.StatusUnknown, err
	}
	return mapStatus(resp.PaymentStatus), nil
}

func mapStatus(s string) gateway.Status {
	switch s {
	case "waiting":
		return gateway.StatusWaitingDeposit
	case "confirming", "sending":
		return gateway.StatusProcessing
	case "partially_paid":
		return gateway.StatusPartiallyPaid
	case "confirmed", "finished":
		return gateway.StatusConfirmed
	case "failed", "refunded":
		return gateway.StatusFailed
	case "expired":
		return gateway.StatusExpired
	default:
		return gateway.StatusUnknown
	}
}

func requiredConfirmations(payCurrency string) int {
	switch strings.ToLower(payCurrency) {
	case "btc":
		return 2
	case "eth", "usdterc20":
		return 12
	case "usdttrc20", "trx":
		return 20
	default:
		return 6
	}
}

// SignIPN computes the callback signature: HMAC-SHA512 over the JSON payload
// with its keys sorted. Exported for tests.
func SignIPN(body []byte, secret string) (string, error) {
	sorted, err := sortJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// sortJSON re-serialises a JSON object with its keys in sorted order, the
// way the provider computes its signature base.
func sortJSON(body []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a *Adapter) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return a.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (a *Adapter) get(ctx context.Context, path string, out interface{}) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

func (a *Adapter) do(ctx context.Context, method, path string, body *bytes.Reader, out interface{}) error {
	var httpReq *http.Request
	var err error
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, nil)
	}
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cryptopay: %v: %w", err, gateway.ErrTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("cryptopay: provider returned %d: %w", resp.StatusCode, gateway.ErrTimeout)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cryptopay: decoding response: %w", err)
	}
	return nil
}
