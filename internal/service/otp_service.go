package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/pet-licence-api/internal/models"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
)

const (
	// DefaultOTPTTL is how long a generated code stays valid.
	DefaultOTPTTL = 10 * time.Minute
	otpDigits     = 6
)

var otpUpperBound = big.NewInt(1_000_000)

// OTPStore persists live codes and consumes them atomically.
type OTPStore interface {
	Put(ctx context.Context, entry models.OTPEntry) error
	Consume(ctx context.Context, identity, code string, now time.Time) (models.OTPOutcome, error)
}

// OTPDispatcher sends a generated code to the applicant.
type OTPDispatcher interface {
	Dispatch(ctx context.Context, delivery models.OTPDelivery) error
}

// OTPService issues and checks single-use codes bound to an email identity.
type OTPService struct {
	store      OTPStore
	dispatcher OTPDispatcher
	metrics    *MetricsService
	logger     *zap.Logger
	validator  *validator.Validate
	ttl        time.Duration
	now        func() time.Time
	random     io.Reader
}

// OTPServiceOption configures the service.
type OTPServiceOption func(*OTPService)

// WithOTPTTL overrides the validity window.
func WithOTPTTL(ttl time.Duration) OTPServiceOption {
	return func(s *OTPService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithOTPClock overrides the time source.
func WithOTPClock(clock func() time.Time) OTPServiceOption {
	return func(s *OTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithOTPDispatcher sets the delivery collaborator.
func WithOTPDispatcher(dispatcher OTPDispatcher) OTPServiceOption {
	return func(s *OTPService) {
		s.dispatcher = dispatcher
	}
}

// WithOTPMetrics attaches instrumentation.
func WithOTPMetrics(metrics *MetricsService) OTPServiceOption {
	return func(s *OTPService) {
		s.metrics = metrics
	}
}

// WithOTPRandom overrides the entropy source.
func WithOTPRandom(r io.Reader) OTPServiceOption {
	return func(s *OTPService) {
		if r != nil {
			s.random = r
		}
	}
}

// NewOTPService constructs the verifier around an injected store.
func NewOTPService(store OTPStore, logger *zap.Logger, opts ...OTPServiceOption) *OTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &OTPService{
		store:     store,
		logger:    logger,
		validator: validator.New(),
		ttl:       DefaultOTPTTL,
		now:       func() time.Time { return time.Now().UTC() },
		random:    rand.Reader,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// TTL returns the validity window.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

// Generate issues a fresh code for identity, replacing any live one, and hands it to the dispatcher.
func (s *OTPService) Generate(ctx context.Context, identity string) (string, error) {
	identity = NormalizeEmail(identity)
	if identity == "" || s.validator.Var(identity, "email") != nil {
		return "", appErrors.Validation("email")
	}

	n, err := rand.Int(s.random, otpUpperBound)
	if err != nil {
		return "", appErrors.Internal(err, "failed to generate one-time code")
	}
	code := fmt.Sprintf("%0*d", otpDigits, n.Int64())
	expiresAt := s.now().Add(s.ttl)

	if err := s.store.Put(ctx, models.OTPEntry{Identity: identity, Code: code, ExpiresAt: expiresAt}); err != nil {
		return "", appErrors.Internal(err, "failed to store one-time code")
	}
	s.metrics.RecordOTPIssued()

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, models.OTPDelivery{Identity: identity, Code: code, ExpiresAt: expiresAt}); err != nil {
			return "", appErrors.Internal(err, "failed to dispatch one-time code")
		}
	}
	return code, nil
}

// Verify consumes the live code for identity when it matches. Every failure reason yields false.
func (s *OTPService) Verify(ctx context.Context, identity, code string) (bool, error) {
	identity = NormalizeEmail(identity)
	code = strings.TrimSpace(code)
	if identity == "" || !isOTPShape(code) {
		s.metrics.RecordOTPVerification(models.OTPMismatch)
		return false, nil
	}

	outcome, err := s.store.Consume(ctx, identity, code, s.now())
	if err != nil {
		return false, appErrors.Internal(err, "failed to verify one-time code")
	}
	s.metrics.RecordOTPVerification(outcome)
	if outcome != models.OTPVerified {
		s.logger.Debug("otp verification failed", zap.String("identity", identity), zap.Stringer("outcome", outcome))
		return false, nil
	}
	return true, nil
}

// NormalizeEmail trims and lower-cases an email identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isOTPShape(code string) bool {
	if len(code) != otpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
