package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/pet-licence-api/internal/models"
)

type otpStore interface {
	Put(ctx context.Context, entry models.OTPEntry) error
	Consume(ctx context.Context, identity, code string, now time.Time) (models.OTPOutcome, error)
}

func otpStores(t *testing.T) map[string]func(t *testing.T) otpStore {
	return map[string]func(t *testing.T) otpStore{
		"memory": func(t *testing.T) otpStore {
			return NewOTPMemoryStore()
		},
		"redis": func(t *testing.T) otpStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewOTPRedisStore(client, WithBcryptCost(bcrypt.MinCost))
		},
	}
}

func TestOTPStores(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for name, build := range otpStores(t) {
		build := build
		t.Run(name, func(t *testing.T) {
			t.Run("verifies once", func(t *testing.T) {
				store := build(t)
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "a@example.com", Code: "123456", ExpiresAt: now.Add(10 * time.Minute)}))

				outcome, err := store.Consume(ctx, "a@example.com", "123456", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPVerified, outcome)

				outcome, err = store.Consume(ctx, "a@example.com", "123456", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPMissing, outcome)
			})

			t.Run("mismatch keeps entry", func(t *testing.T) {
				store := build(t)
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "b@example.com", Code: "111111", ExpiresAt: now.Add(time.Minute)}))

				outcome, err := store.Consume(ctx, "b@example.com", "222222", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPMismatch, outcome)

				outcome, err = store.Consume(ctx, "b@example.com", "111111", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPVerified, outcome)
			})

			t.Run("too many misses evict entry", func(t *testing.T) {
				store := build(t)
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "m@example.com", Code: "135790", ExpiresAt: now.Add(10 * time.Minute)}))

				for i := 0; i < DefaultOTPMaxAttempts; i++ {
					outcome, err := store.Consume(ctx, "m@example.com", fmt.Sprintf("%06d", i), now)
					require.NoError(t, err)
					require.Equal(t, models.OTPMismatch, outcome)
				}

				outcome, err := store.Consume(ctx, "m@example.com", "135790", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPMissing, outcome)

				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "m@example.com", Code: "246802", ExpiresAt: now.Add(10 * time.Minute)}))
				outcome, err = store.Consume(ctx, "m@example.com", "246802", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPVerified, outcome, "a fresh code starts a fresh budget")
			})

			t.Run("expired entry is evicted", func(t *testing.T) {
				store := build(t)
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "c@example.com", Code: "333333", ExpiresAt: now.Add(10 * time.Minute)}))

				later := now.Add(10 * time.Minute)
				outcome, err := store.Consume(ctx, "c@example.com", "333333", later)
				require.NoError(t, err)
				assert.Equal(t, models.OTPExpired, outcome)

				outcome, err = store.Consume(ctx, "c@example.com", "333333", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPMissing, outcome)

				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "c@example.com", Code: "444444", ExpiresAt: later.Add(10 * time.Minute)}))
				outcome, err = store.Consume(ctx, "c@example.com", "444444", later)
				require.NoError(t, err)
				assert.Equal(t, models.OTPVerified, outcome)
			})

			t.Run("regenerate replaces previous code", func(t *testing.T) {
				store := build(t)
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "d@example.com", Code: "555555", ExpiresAt: now.Add(time.Minute)}))
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "d@example.com", Code: "666666", ExpiresAt: now.Add(time.Minute)}))

				outcome, err := store.Consume(ctx, "d@example.com", "555555", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPMismatch, outcome)

				outcome, err = store.Consume(ctx, "d@example.com", "666666", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPVerified, outcome)
			})

			t.Run("identities are independent", func(t *testing.T) {
				store := build(t)
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "e@example.com", Code: "777777", ExpiresAt: now.Add(time.Minute)}))

				outcome, err := store.Consume(ctx, "f@example.com", "777777", now)
				require.NoError(t, err)
				assert.Equal(t, models.OTPMissing, outcome)
			})

			t.Run("concurrent verify succeeds once", func(t *testing.T) {
				store := build(t)
				require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "g@example.com", Code: "888888", ExpiresAt: now.Add(time.Minute)}))

				var successes atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 16; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						outcome, err := store.Consume(ctx, "g@example.com", "888888", now)
						if err == nil && outcome == models.OTPVerified {
							successes.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), successes.Load())
			})
		})
	}
}

func TestOTPMemoryStorePurgesExpiredEntries(t *testing.T) {
	store := NewOTPMemoryStore()
	store.purgeEvery = 2
	past := time.Now().Add(-time.Minute)

	require.NoError(t, store.Put(context.Background(), models.OTPEntry{Identity: "old@example.com", Code: "1", ExpiresAt: past}))
	require.Equal(t, 1, store.Len())
	require.NoError(t, store.Put(context.Background(), models.OTPEntry{Identity: "new@example.com", Code: "2", ExpiresAt: time.Now().Add(time.Hour)}))
	require.Equal(t, 1, store.Len())
}

func TestOTPRedisStoreHashesCodes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewOTPRedisStore(client, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, store.Put(context.Background(), models.OTPEntry{Identity: "h@example.com", Code: "246810", ExpiresAt: time.Now().Add(10 * time.Minute)}))

	raw, err := mr.Get("otp:h@example.com")
	require.NoError(t, err)
	assert.NotContains(t, raw, "246810")
	assert.True(t, mr.TTL("otp:h@example.com") > 9*time.Minute)
}

func TestOTPRedisStoreMismatchKeepsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewOTPRedisStore(client, WithBcryptCost(bcrypt.MinCost), WithMaxAttempts(3))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "k@example.com", Code: "112233", ExpiresAt: time.Now().Add(10 * time.Minute)}))

	outcome, err := store.Consume(ctx, "k@example.com", "000000", time.Now())
	require.NoError(t, err)
	require.Equal(t, models.OTPMismatch, outcome)

	raw, err := mr.Get("otp:k@example.com")
	require.NoError(t, err)
	assert.Contains(t, raw, `"attempts":1`)
	assert.True(t, mr.TTL("otp:k@example.com") > 9*time.Minute)

	for i := 0; i < 2; i++ {
		_, err = store.Consume(ctx, "k@example.com", "000000", time.Now())
		require.NoError(t, err)
	}
	assert.False(t, mr.Exists("otp:k@example.com"))
}

func TestOTPMemoryStoreMaxAttemptsOption(t *testing.T) {
	store := NewOTPMemoryStore(WithMemoryMaxAttempts(1))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, models.OTPEntry{Identity: "n@example.com", Code: "123123", ExpiresAt: time.Now().Add(time.Minute)}))

	outcome, err := store.Consume(ctx, "n@example.com", "999999", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.OTPMismatch, outcome)
	assert.Equal(t, 0, store.Len())
}
