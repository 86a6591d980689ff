package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/pet-licence-api/internal/dto"
	"github.com/noah-isme/pet-licence-api/internal/models"
	"github.com/noah-isme/pet-licence-api/internal/repository"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
	"github.com/noah-isme/pet-licence-api/pkg/export"
)

const (
	summaryCacheKey = "analytics:summary"
	monthlyCacheKey = "analytics:monthly"
)

type adminStore interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationSummary, error)
	ListDetailed(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)
	Transition(ctx context.Context, id string, apply repository.TransitionFunc) (*models.Application, error)
	Delete(ctx context.Context, id string) error
}

type analyticsStore interface {
	StatusCounts(ctx context.Context) ([]models.StatusCount, error)
	MonthlyCounts(ctx context.Context) ([]models.MonthlyCount, error)
}

type analyticsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// AdminService backs the review dashboard: listing, transitions, analytics and export.
type AdminService struct {
	repo      adminStore
	analytics analyticsStore
	cache     analyticsCache
	lifecycle *Lifecycle
	metrics   *MetricsService
	logger    *zap.Logger
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	cacheTTL  time.Duration
	now       func() time.Time
}

// AdminServiceOption configures the service.
type AdminServiceOption func(*AdminService)

// WithAdminCache enables analytics caching.
func WithAdminCache(cache analyticsCache, ttl time.Duration) AdminServiceOption {
	return func(s *AdminService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithAdminMetrics attaches instrumentation.
func WithAdminMetrics(metrics *MetricsService) AdminServiceOption {
	return func(s *AdminService) {
		s.metrics = metrics
	}
}

// WithAdminClock overrides the time source for transitions and export stamps.
func WithAdminClock(clock func() time.Time) AdminServiceOption {
	return func(s *AdminService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewAdminService constructs the admin service.
func NewAdminService(repo adminStore, analytics analyticsStore, logger *zap.Logger, opts ...AdminServiceOption) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AdminService{
		repo:      repo,
		analytics: analytics,
		logger:    logger,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.lifecycle = NewLifecycle(svc.now)
	return svc
}

// ParseStatusFilter converts an optional query value into a filter. Empty means no filter.
func ParseStatusFilter(raw string) (*models.ApplicationStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	status, err := models.ParseApplicationStatus(raw)
	if err != nil {
		return nil, appErrors.Validation("status")
	}
	return &status, nil
}

// List returns application summaries, newest first.
func (s *AdminService) List(ctx context.Context, query dto.ApplicationQuery) ([]models.ApplicationSummary, error) {
	summaries, err := s.repo.List(ctx, models.ApplicationFilter{Status: query.Status})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list applications")
	}
	return summaries, nil
}

// GetDetail returns the full application.
func (s *AdminService) GetDetail(ctx context.Context, id string) (*models.Application, error) {
	return fetchApplication(ctx, s.repo, id)
}

// ApplyTransition moves an application to cmd.Target under the store's row lock.
func (s *AdminService) ApplyTransition(ctx context.Context, cmd dto.TransitionCommand) (*models.Application, error) {
	id := strings.TrimSpace(cmd.ApplicationID)
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	reference := strings.TrimSpace(cmd.PaymentReference)

	var from models.ApplicationStatus
	app, err := s.repo.Transition(ctx, id, func(current *models.Application) (*models.AuditLog, error) {
		from = current.Status
		// An illegal move reports InvalidTransition even when the reference is missing too.
		if cmd.Target == models.StatusPaid && reference == "" && CanTransition(current.Status, cmd.Target) {
			return nil, appErrors.Validation("paymentReference")
		}
		entry, err := s.lifecycle.Transition(current, cmd.Target, cmd.Actor)
		if err != nil {
			return nil, err
		}
		if cmd.Target == models.StatusPaid {
			current.PaymentReference = &reference
		}
		return entry, nil
	})
	if err != nil {
		return nil, s.transitionError(err)
	}

	s.metrics.RecordTransition(from, cmd.Target)
	s.invalidateAnalytics(ctx)
	s.logger.Info("application status changed",
		zap.String("application_id", app.ID),
		zap.String("from", from.String()),
		zap.String("to", cmd.Target.String()),
		zap.String("actor", cmd.Actor))
	return app, nil
}

func (s *AdminService) transitionError(err error) error {
	var appErr *appErrors.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "application not found")
	case errors.Is(err, repository.ErrStatusChanged):
		return appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, "application status changed concurrently")
	case errors.As(err, &appErr):
		return appErr
	default:
		return appErrors.Internal(err, "failed to update application status")
	}
}

// Delete removes an application together with its audit trail.
func (s *AdminService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return appErrors.Internal(err, "failed to delete application")
	}
	s.invalidateAnalytics(ctx)
	s.logger.Info("application deleted", zap.String("application_id", id))
	return nil
}

// SummaryCounts returns per-status totals. The boolean reports a cache hit.
func (s *AdminService) SummaryCounts(ctx context.Context) (models.StatusSummary, bool, error) {
	var summary models.StatusSummary
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, summaryCacheKey, &summary); err == nil && hit {
			return summary, true, nil
		}
	}

	counts, err := s.analytics.StatusCounts(ctx)
	if err != nil {
		return models.StatusSummary{}, false, appErrors.Internal(err, "failed to load status summary")
	}
	summary = models.StatusSummary{}
	for _, row := range counts {
		summary.Add(row.Status, row.Count)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, summaryCacheKey, summary, s.cacheTTL)
	}
	return summary, false, nil
}

// MonthlyCounts returns submissions per calendar month, oldest first. The boolean reports a cache hit.
func (s *AdminService) MonthlyCounts(ctx context.Context) ([]models.MonthlyCount, bool, error) {
	var counts []models.MonthlyCount
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, monthlyCacheKey, &counts); err == nil && hit {
			return counts, true, nil
		}
	}

	counts, err := s.analytics.MonthlyCounts(ctx)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to load monthly counts")
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, monthlyCacheKey, counts, s.cacheTTL)
	}
	return counts, false, nil
}

// Export renders the filtered listing as CSV or PDF.
func (s *AdminService) Export(ctx context.Context, query dto.ApplicationQuery, format dto.ExportFormat) (*dto.ExportResult, error) {
	apps, err := s.repo.ListDetailed(ctx, models.ApplicationFilter{Status: query.Status})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load applications for export")
	}
	dataset := applicationDataset(apps)
	stamp := s.now().Format("20060102-150405")

	switch format {
	case dto.ExportFormatCSV, "":
		body, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to render csv export")
		}
		return &dto.ExportResult{Filename: fmt.Sprintf("applications-%s.csv", stamp), ContentType: "text/csv", Body: body}, nil
	case dto.ExportFormatPDF:
		body, err := s.pdf.Render(dataset, "Pet licence applications")
		if err != nil {
			return nil, appErrors.Internal(err, "failed to render pdf export")
		}
		return &dto.ExportResult{Filename: fmt.Sprintf("applications-%s.pdf", stamp), ContentType: "application/pdf", Body: body}, nil
	default:
		return nil, appErrors.Validation("format")
	}
}

// SystemMetrics returns the process instrumentation snapshot.
func (s *AdminService) SystemMetrics() models.SystemMetrics {
	return s.metrics.Snapshot()
}

func (s *AdminService) invalidateAnalytics(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, AnalyticsCachePattern); err != nil {
		s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
	}
}

var exportHeaders = []string{"Application ID", "Licence Number", "Applicant", "Email", "Pet", "Type", "Breed", "Status", "Submitted At"}

func applicationDataset(apps []models.Application) export.Dataset {
	rows := make([]map[string]string, 0, len(apps))
	for _, app := range apps {
		rows = append(rows, map[string]string{
			"Application ID": app.ID,
			"Licence Number": app.ProvisionalLicenceNumber,
			"Applicant":      app.DisplayName(),
			"Email":          app.Email,
			"Pet":            app.PetName,
			"Type":           app.PetType,
			"Breed":          app.Breed,
			"Status":         app.Status.String(),
			"Submitted At":   app.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: exportHeaders, Rows: rows}
}
