package withdrawal

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

const otpKeyPrefix = "withdrawal:otp:"

// OTPStore keeps one-time verification codes in redis with a TTL; a code
// disappears when it expires or is consumed, whichever comes first.
type OTPStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewOTPStore(client *redis.Client, ttl time.Duration) *OTPStore {
	return &OTPStore{redis: client, ttl: ttl}
}

// Generate creates a fresh 6-digit code for the withdrawal, replacing any
// previous one.
func (s *OTPStore) Generate(ctx context.Context, withdrawalID string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())

	if err := s.redis.Set(ctx, otpKeyPrefix+withdrawalID, code, s.ttl).Err(); err != nil {
		return "", err
	}
	return code, nil
}

// Consume checks the code and deletes it on a match so it cannot be replayed.
func (s *OTPStore) Consume(ctx context.Context, withdrawalID, code string) (bool, error) {
	key := otpKeyPrefix + withdrawalID
	stored, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored != code {
		return false, nil
	}

	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return false, err
	}
	return true, nil
}
