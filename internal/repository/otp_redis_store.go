package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/pet-licence-api/internal/models"
)

const (
	otpKeyPrefix = "otp:"

	// DefaultOTPMaxAttempts is how many wrong codes a live entry tolerates before it is evicted.
	DefaultOTPMaxAttempts = 5

	mismatchWatchRetries = 5
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisOTP struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// OTPRedisStore keeps codes in Redis so several API instances share one view. Codes are stored bcrypt-hashed.
type OTPRedisStore struct {
	client      *redis.Client
	cost        int
	maxAttempts int
}

// OTPRedisStoreOption customises the Redis store.
type OTPRedisStoreOption func(*OTPRedisStore)

// WithBcryptCost overrides the hashing cost.
func WithBcryptCost(cost int) OTPRedisStoreOption {
	return func(s *OTPRedisStore) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// WithMaxAttempts sets how many wrong codes evict a live entry.
func WithMaxAttempts(n int) OTPRedisStoreOption {
	return func(s *OTPRedisStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewOTPRedisStore constructs the Redis backed store.
func NewOTPRedisStore(client *redis.Client, opts ...OTPRedisStoreOption) *OTPRedisStore {
	store := &OTPRedisStore{client: client, cost: bcrypt.DefaultCost, maxAttempts: DefaultOTPMaxAttempts}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Put stores entry, replacing any previous code for the same identity.
func (s *OTPRedisStore) Put(ctx context.Context, entry models.OTPEntry) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(entry.Code), s.cost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	payload, err := json.Marshal(redisOTP{Hash: string(hash), ExpiresAt: entry.ExpiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("marshal otp: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, otpKey(entry.Identity), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set otp: %w", err)
	}
	return nil
}

// Consume checks code against the live entry and removes it on success, on expiry or after too many misses.
func (s *OTPRedisStore) Consume(ctx context.Context, identity, code string, now time.Time) (models.OTPOutcome, error) {
	key := otpKey(identity)
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.OTPMissing, nil
		}
		return models.OTPMissing, fmt.Errorf("redis get otp: %w", err)
	}

	var stored redisOTP
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return models.OTPMissing, fmt.Errorf("unmarshal otp: %w", err)
	}

	if !now.Before(stored.ExpiresAt) {
		if _, err := compareAndDelete.Run(ctx, s.client, []string{key}, raw).Int(); err != nil {
			return models.OTPExpired, fmt.Errorf("evict expired otp: %w", err)
		}
		return models.OTPExpired, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(code)) != nil {
		if err := s.recordMismatch(ctx, key); err != nil {
			return models.OTPMismatch, fmt.Errorf("record otp mismatch: %w", err)
		}
		return models.OTPMismatch, nil
	}

	deleted, err := compareAndDelete.Run(ctx, s.client, []string{key}, raw).Int()
	if err != nil {
		return models.OTPMissing, fmt.Errorf("consume otp: %w", err)
	}
	if deleted == 0 {
		return models.OTPMissing, nil
	}
	return models.OTPVerified, nil
}

// recordMismatch bumps the attempt counter under WATCH and deletes the entry once the limit is reached.
func (s *OTPRedisStore) recordMismatch(ctx context.Context, key string) error {
	update := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var stored redisOTP
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return err
		}
		stored.Attempts++
		if stored.Attempts >= s.maxAttempts {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}

		payload, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl <= 0 {
			ttl = time.Second
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < mismatchWatchRetries; i++ {
		err := s.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func otpKey(identity string) string {
	return otpKeyPrefix + identity
}
