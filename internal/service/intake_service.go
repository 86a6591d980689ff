package service

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/pet-licence-api/internal/dto"
	"github.com/noah-isme/pet-licence-api/internal/models"
	"github.com/noah-isme/pet-licence-api/internal/repository"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
)

const maxLicenceRetries = 3

type intakeStore interface {
	Create(ctx context.Context, app *models.Application, entry *models.AuditLog) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	GetByLicenceNumber(ctx context.Context, licenceNumber string) (*models.LicenceView, error)
}

type licenceIssuer interface {
	Next() (string, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// IntakeService accepts public applications and serves the applicant-facing lookups.
type IntakeService struct {
	repo      intakeStore
	licences  licenceIssuer
	cache     cacheInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// IntakeServiceOption configures the service.
type IntakeServiceOption func(*IntakeService)

// WithIntakeClock overrides the time source.
func WithIntakeClock(clock func() time.Time) IntakeServiceOption {
	return func(s *IntakeService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLicenceIssuer overrides licence number generation.
func WithLicenceIssuer(issuer licenceIssuer) IntakeServiceOption {
	return func(s *IntakeService) {
		if issuer != nil {
			s.licences = issuer
		}
	}
}

// WithIntakeCache sets the analytics cache invalidated after each submission.
func WithIntakeCache(cache cacheInvalidator) IntakeServiceOption {
	return func(s *IntakeService) {
		s.cache = cache
	}
}

// WithIntakeMetrics attaches instrumentation.
func WithIntakeMetrics(metrics *MetricsService) IntakeServiceOption {
	return func(s *IntakeService) {
		s.metrics = metrics
	}
}

// NewIntakeService constructs the intake service.
func NewIntakeService(repo intakeStore, validate *validator.Validate, logger *zap.Logger, opts ...IntakeServiceOption) *IntakeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterTagNameFunc(jsonFieldName)

	svc := &IntakeService{
		repo:      repo,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.licences == nil {
		svc.licences = NewLicenceNumberGenerator(svc.now)
	}
	return svc
}

// Submit validates the payload and persists a new application in the Submitted state.
func (s *IntakeService) Submit(ctx context.Context, req dto.SubmitApplicationRequest) (*models.Application, error) {
	req = normalizeSubmission(req)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	now := s.now()
	app := &models.Application{
		ID: uuid.NewString(),
		Applicant: models.Applicant{
			FirstName:        req.FirstName,
			LastName:         req.LastName,
			Email:            req.Email,
			Phone:            req.Phone,
			PrimaryAddress:   req.PrimaryAddress,
			SecondaryAddress: req.SecondaryAddress,
		},
		Pet: models.Pet{
			PetName:        req.PetName,
			PetType:        req.PetType,
			Breed:          req.Breed,
			Age:            req.Age,
			Color:          req.Color,
			Sex:            req.Sex,
			HairLength:     req.HairLength,
			SpayedNeutered: req.SpayedNeutered,
			ClinicName:     req.ClinicName,
			VetName:        req.VetName,
		},
		Status:    models.StatusSubmitted,
		CreatedAt: now,
	}
	submitted := models.StatusSubmitted.String()
	entry := &models.AuditLog{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		OccurredAt:    now,
		Actor:         req.Email,
		Action:        models.AuditActionSubmitted,
		NewValue:      &submitted,
	}

	if err := s.create(ctx, app, entry); err != nil {
		return nil, err
	}

	s.invalidateAnalytics(ctx)
	s.metrics.RecordSubmission()
	s.logger.Info("application submitted",
		zap.String("application_id", app.ID),
		zap.String("licence_number", app.ProvisionalLicenceNumber))
	return app, nil
}

func (s *IntakeService) create(ctx context.Context, app *models.Application, entry *models.AuditLog) error {
	for attempt := 0; attempt <= maxLicenceRetries; attempt++ {
		number, err := s.licences.Next()
		if err != nil {
			return appErrors.Internal(err, "failed to generate licence number")
		}
		app.ProvisionalLicenceNumber = number

		err = s.repo.Create(ctx, app, entry)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrLicenceNumberTaken) {
			return appErrors.Internal(err, "failed to save application")
		}
		s.logger.Warn("licence number collision, regenerating", zap.String("licence_number", number), zap.Int("attempt", attempt+1))
	}
	return appErrors.Internal(repository.ErrLicenceNumberTaken, "failed to allocate licence number")
}

// Get returns an application by id.
func (s *IntakeService) Get(ctx context.Context, id string) (*models.Application, error) {
	return fetchApplication(ctx, s.repo, id)
}

// VerifyLicence returns the public view of a provisional licence.
func (s *IntakeService) VerifyLicence(ctx context.Context, licenceNumber string) (*models.LicenceView, error) {
	licenceNumber = strings.ToUpper(strings.TrimSpace(licenceNumber))
	if !ValidLicenceNumber(licenceNumber) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "licence not found")
	}
	view, err := s.repo.GetByLicenceNumber(ctx, licenceNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "licence not found")
		}
		return nil, appErrors.Internal(err, "failed to load licence")
	}
	return view, nil
}

func (s *IntakeService) invalidateAnalytics(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, AnalyticsCachePattern); err != nil {
		s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
	}
}

type applicationGetter interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
}

func fetchApplication(ctx context.Context, repo applicationGetter, id string) (*models.Application, error) {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	app, err := repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Internal(err, "failed to load application")
	}
	return app, nil
}

func normalizeSubmission(req dto.SubmitApplicationRequest) dto.SubmitApplicationRequest {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = NormalizeEmail(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.PrimaryAddress = strings.TrimSpace(req.PrimaryAddress)
	if req.SecondaryAddress != nil {
		trimmed := strings.TrimSpace(*req.SecondaryAddress)
		if trimmed == "" {
			req.SecondaryAddress = nil
		} else {
			req.SecondaryAddress = &trimmed
		}
	}
	req.PetName = strings.TrimSpace(req.PetName)
	req.PetType = strings.TrimSpace(req.PetType)
	req.Breed = strings.TrimSpace(req.Breed)
	req.Color = strings.TrimSpace(req.Color)
	req.Sex = strings.TrimSpace(req.Sex)
	req.HairLength = strings.TrimSpace(req.HairLength)
	req.ClinicName = strings.TrimSpace(req.ClinicName)
	req.VetName = strings.TrimSpace(req.VetName)
	return req
}

// validationError names every offending field using its JSON name.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	seen := make(map[string]struct{}, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		fields = append(fields, name)
	}
	return appErrors.Validation(fields...)
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}
