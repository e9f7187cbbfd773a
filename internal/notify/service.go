package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/metrics"
)

const (
	queueKey       = "notifications"
	failedQueueKey = "notifications:failed"

	maxTries = 3
)

type Job struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

// Service queues outbound mail in redis and drains the queue from a worker
// goroutine, so HTTP handlers never wait on SMTP.
type Service struct {
	redis    *redis.Client
	from     string
	fromName string
	smtpHost string
	smtpPort string
	smtpUser string
	smtpPass string
}

func New(rdb *redis.Client, fromEmail, fromName, smtpHost, smtpPort, smtpUser, smtpPass string) *Service {
	return &Service{
		redis:    rdb,
		from:     fromEmail,
		fromName: fromName,
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		smtpUser: smtpUser,
		smtpPass: smtpPass,
	}
}

func (s *Service) Send(ctx context.Context, to, subject, body string) error {
	job := Job{
		To:      to,
		Subject: subject,
		Body:    body,
		Created: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	// Queued as a string so the payload round-trips through redis unchanged.
	if err := s.redis.LPush(ctx, queueKey, string(data)).Err(); err != nil {
		logger.Error("failed to queue notification", "to", to, "error", err)
		return err
	}

	logger.Debug("notification queued", "subject", subject, "to", to)
	return nil
}

func (s *Service) Start(ctx context.Context) {
	logger.Info("notification worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("notification worker stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if err != nil {
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Error("dropping malformed notification job", "error", err)
		return
	}

	job.Tries++
	if err := s.sendNow(job); err != nil {
		logger.Error("failed to send notification", "to", job.To, "attempt", job.Tries, "error", err)

		if job.Tries < maxTries {
			time.Sleep(5 * time.Second)
			data, _ := json.Marshal(job)
			s.redis.LPush(context.Background(), queueKey, string(data))
		} else {
			metrics.RecordNotification("email", "failed")
			s.saveFailed(job, err)
		}
		return
	}

	metrics.RecordNotification("email", "sent")
	logger.Debug("notification sent", "to", job.To)
}

func (s *Service) sendNow(job Job) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.fromName, s.from)
	message += fmt.Sprintf("To: %s\r\n", job.To)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	message += "\r\n" + job.Body

	var auth smtp.Auth
	if s.smtpUser != "" && s.smtpPass != "" {
		auth = smtp.PlainAuth("", s.smtpUser, s.smtpPass, s.smtpHost)
	}

	addr := s.smtpHost + ":" + s.smtpPort
	return smtp.SendMail(addr, auth, s.from, []string{job.To}, []byte(message))
}

func (s *Service) saveFailed(job Job, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.Background(), failedQueueKey, string(data))
	logger.Error("notification moved to failed queue", "to", job.To)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	return length
}

// SendOTP delivers the withdrawal confirmation code.
func (s *Service) SendOTP(ctx context.Context, email, code string) error {
	subject := "Your withdrawal confirmation code"
	body := fmt.Sprintf(`Your confirmation code is: %s

It expires in 10 minutes. If you did not request a withdrawal, contact support immediately.

- SBC Payments`, code)

	return s.Send(ctx, email, subject, body)
}

// SendWithdrawalDecision tells the user how their withdrawal was decided.
func (s *Service) SendWithdrawalDecision(ctx context.Context, email, decision, reason string) error {
	subject := "Withdrawal " + decision
	body := "Your withdrawal has been " + decision + "."
	if reason != "" {
		body += "\n\nReason: " + reason
	}
	body += "\n\n- SBC Payments"

	return s.Send(ctx, email, subject, body)
}

// SendPaymentReceipt confirms a completed payment.
func (s *Service) SendPaymentReceipt(ctx context.Context, email string, amount decimal.Decimal, currency string) error {
	subject := "Payment received"
	body := fmt.Sprintf(`We received your payment of %s %s. Your account has been credited.

- SBC Payments`, amount.StringFixed(2), currency)

	return s.Send(ctx, email, subject, body)
}

func (s *Service) Close() error {
	return s.redis.Close()
}
