package repository

import (
	"context"
	"crypto/subtle"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/pet-licence-api/internal/models"
)

const defaultPurgeEvery = 256

type memoryOTP struct {
	code      string
	expiresAt time.Time
	misses    atomic.Int32
}

// OTPMemoryStore keeps one live code per identity in process memory. Identities never contend with each other.
type OTPMemoryStore struct {
	entries     sync.Map
	puts        atomic.Uint64
	purgeEvery  uint64
	maxAttempts int32
}

// OTPMemoryStoreOption customises the memory store.
type OTPMemoryStoreOption func(*OTPMemoryStore)

// WithMemoryMaxAttempts sets how many wrong codes evict a live entry.
func WithMemoryMaxAttempts(n int) OTPMemoryStoreOption {
	return func(s *OTPMemoryStore) {
		if n > 0 {
			s.maxAttempts = int32(n)
		}
	}
}

// NewOTPMemoryStore constructs an empty store.
func NewOTPMemoryStore(opts ...OTPMemoryStoreOption) *OTPMemoryStore {
	store := &OTPMemoryStore{purgeEvery: defaultPurgeEvery, maxAttempts: DefaultOTPMaxAttempts}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Put stores entry, replacing any previous code for the same identity.
func (s *OTPMemoryStore) Put(_ context.Context, entry models.OTPEntry) error {
	s.entries.Store(entry.Identity, &memoryOTP{code: entry.Code, expiresAt: entry.ExpiresAt})
	if s.puts.Add(1)%s.purgeEvery == 0 {
		s.purgeExpired(time.Now())
	}
	return nil
}

// Consume checks code against the live entry and removes it on success, on expiry or after too many misses.
func (s *OTPMemoryStore) Consume(_ context.Context, identity, code string, now time.Time) (models.OTPOutcome, error) {
	value, ok := s.entries.Load(identity)
	if !ok {
		return models.OTPMissing, nil
	}
	entry := value.(*memoryOTP)

	if !now.Before(entry.expiresAt) {
		s.entries.CompareAndDelete(identity, entry)
		return models.OTPExpired, nil
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) != 1 {
		if entry.misses.Add(1) >= s.maxAttempts {
			s.entries.CompareAndDelete(identity, entry)
		}
		return models.OTPMismatch, nil
	}
	// Only the caller that removes this exact entry wins; a concurrent replay or regenerate sees it gone.
	if !s.entries.CompareAndDelete(identity, entry) {
		return models.OTPMissing, nil
	}
	return models.OTPVerified, nil
}

// Len reports the number of stored entries, live or expired.
func (s *OTPMemoryStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *OTPMemoryStore) purgeExpired(now time.Time) {
	s.entries.Range(func(key, value any) bool {
		entry := value.(*memoryOTP)
		if !now.Before(entry.expiresAt) {
			s.entries.CompareAndDelete(key, entry)
		}
		return true
	})
}
