package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/pet-licence-api/internal/dto"
	"github.com/noah-isme/pet-licence-api/internal/models"
	"github.com/noah-isme/pet-licence-api/internal/repository"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
)

const (
	appOneID = "0b6f3c1e-9a4d-4e0b-8f57-3d1f2c7a9e11"
	appTwoID = "5c2a8d4f-1e3b-4a6c-9d8e-7f0a1b2c3d44"
)

// adminStoreStub keeps rows in memory and serialises transitions per store, like a row lock would.
type adminStoreStub struct {
	mu        sync.Mutex
	apps      map[string]*models.Application
	audit     map[string][]*models.AuditLog
	listErr   error
	lastQuery models.ApplicationFilter
}

func newAdminStoreStub(apps ...*models.Application) *adminStoreStub {
	store := &adminStoreStub{apps: map[string]*models.Application{}, audit: map[string][]*models.AuditLog{}}
	for _, app := range apps {
		store.apps[app.ID] = app
	}
	return store
}

func (s *adminStoreStub) GetByID(_ context.Context, id string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *app
	return &copied, nil
}

func (s *adminStoreStub) List(_ context.Context, filter models.ApplicationFilter) ([]models.ApplicationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.ApplicationSummary, 0)
	for _, app := range s.filtered(filter) {
		out = append(out, models.ApplicationSummary{ID: app.ID, ApplicantName: app.DisplayName(), PetName: app.PetName, Status: app.Status, CreatedAt: app.CreatedAt})
	}
	return out, nil
}

func (s *adminStoreStub) ListDetailed(_ context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filtered(filter), nil
}

func (s *adminStoreStub) filtered(filter models.ApplicationFilter) []models.Application {
	out := make([]models.Application, 0, len(s.apps))
	for _, app := range s.apps {
		if filter.Status != nil && app.Status != *filter.Status {
			continue
		}
		out = append(out, *app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *adminStoreStub) Transition(_ context.Context, id string, apply repository.TransitionFunc) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	working := *app
	entry, err := apply(&working)
	if err != nil {
		return nil, err
	}
	s.apps[id] = &working
	if entry != nil {
		s.audit[id] = append(s.audit[id], entry)
	}
	result := working
	return &result, nil
}

func (s *adminStoreStub) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.apps, id)
	delete(s.audit, id)
	return nil
}

type analyticsStoreStub struct {
	counts  []models.StatusCount
	monthly []models.MonthlyCount
	calls   atomic.Int32
	err     error
}

func (s *analyticsStoreStub) StatusCounts(context.Context) ([]models.StatusCount, error) {
	s.calls.Add(1)
	return s.counts, s.err
}

func (s *analyticsStoreStub) MonthlyCounts(context.Context) ([]models.MonthlyCount, error) {
	s.calls.Add(1)
	return s.monthly, s.err
}

func adminFixture(id string, status models.ApplicationStatus, created time.Time) *models.Application {
	return &models.Application{
		ID:                       id,
		Applicant:                models.Applicant{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", PrimaryAddress: "1 Main St"},
		Pet:                      models.Pet{PetName: "Rex", PetType: "Dog", Breed: "Beagle"},
		Status:                   status,
		ProvisionalLicenceNumber: "PL-2025-AB12CD34",
		CreatedAt:                created,
	}
}

func TestAdminListParsesStatusFilter(t *testing.T) {
	store := newAdminStoreStub(
		adminFixture(appOneID, models.StatusSubmitted, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		adminFixture(appTwoID, models.StatusApproved, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)),
	)
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	status, err := ParseStatusFilter("approved")
	require.NoError(t, err)
	list, err := svc.List(context.Background(), dto.ApplicationQuery{Status: status})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, appTwoID, list[0].ID)
	assert.Equal(t, "Jane Doe", list[0].ApplicantName)

	all, err := svc.List(context.Background(), dto.ApplicationQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, appTwoID, all[0].ID, "newest first")

	_, err = ParseStatusFilter("Archived")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	none, err := ParseStatusFilter("  ")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAdminListHidesStoreFailure(t *testing.T) {
	store := newAdminStoreStub()
	store.listErr = errors.New("connection reset")
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	_, err := svc.List(context.Background(), dto.ApplicationQuery{})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestAdminApplyTransitionRecordsAudit(t *testing.T) {
	now := time.Date(2025, 3, 3, 3, 3, 3, 0, time.UTC)
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusSubmitted, now.Add(-time.Hour)))
	metrics := NewMetricsService()
	svc := NewAdminService(store, &analyticsStoreStub{}, zap.NewNop(), WithAdminClock(fixedClock(now)), WithAdminMetrics(metrics))

	app, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusUnderReview, Actor: "clerk"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, app.Status)
	require.NotNil(t, app.UpdatedAt)
	assert.Equal(t, now, *app.UpdatedAt)

	require.Len(t, store.audit[appOneID], 1)
	entry := store.audit[appOneID][0]
	assert.Equal(t, "clerk", entry.Actor)
	assert.Equal(t, "Submitted", *entry.OldValue)
	assert.Equal(t, "UnderReview", *entry.NewValue)
	assert.Equal(t, uint64(1), metrics.Snapshot().TransitionsApplied)
}

func TestAdminApplyTransitionRejectsIllegalMove(t *testing.T) {
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusSubmitted, time.Now()))
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	_, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusCompleted, Actor: "admin"})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	stored, err := store.GetByID(context.Background(), appOneID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
	assert.Empty(t, store.audit[appOneID])
}

func TestAdminApplyTransitionNotFound(t *testing.T) {
	svc := NewAdminService(newAdminStoreStub(), &analyticsStoreStub{}, nil)

	_, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusApproved, Actor: "admin"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: "nope", Target: models.StatusApproved, Actor: "admin"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestAdminPaymentRequiresReference(t *testing.T) {
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusApproved, time.Now()))
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	_, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusPaid, Actor: "admin"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	app, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusPaid, Actor: "admin", PaymentReference: " TX-991 "})
	require.NoError(t, err)
	require.NotNil(t, app.PaymentReference)
	assert.Equal(t, "TX-991", *app.PaymentReference)
}

func TestAdminPaymentFromSubmittedIsInvalidTransition(t *testing.T) {
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusSubmitted, time.Now()))
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	_, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusPaid, Actor: "admin"})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.NotErrorIs(t, err, appErrors.ErrValidation)

	app, err := svc.GetDetail(context.Background(), appOneID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, app.Status)
	assert.Nil(t, app.PaymentReference)
}

func TestAdminConcurrentTransitionsCommitOnce(t *testing.T) {
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusUnderReview, time.Now()))
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	targets := []models.ApplicationStatus{models.StatusApproved, models.StatusRejected}
	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(target models.ApplicationStatus) {
			defer wg.Done()
			_, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: target, Actor: "admin"})
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
		}(targets[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	require.Len(t, store.audit[appOneID], 1)
	assert.Equal(t, "UnderReview", *store.audit[appOneID][0].OldValue)
}

func TestAdminTransitionMapsConcurrentChange(t *testing.T) {
	svc := NewAdminService(concurrentChangeStore{newAdminStoreStub()}, &analyticsStoreStub{}, nil)

	_, err := svc.ApplyTransition(context.Background(), dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusApproved, Actor: "admin"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

type concurrentChangeStore struct {
	*adminStoreStub
}

func (concurrentChangeStore) Transition(context.Context, string, repository.TransitionFunc) (*models.Application, error) {
	return nil, repository.ErrStatusChanged
}

func TestAdminDelete(t *testing.T) {
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusSubmitted, time.Now()))
	store.audit[appOneID] = []*models.AuditLog{{ID: "a1"}}
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	require.NoError(t, svc.Delete(context.Background(), appOneID))
	_, err := svc.GetDetail(context.Background(), appOneID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), appOneID), appErrors.ErrNotFound)
}

func TestAdminSummaryCountsZeroFilled(t *testing.T) {
	analytics := &analyticsStoreStub{counts: []models.StatusCount{
		{Status: models.StatusSubmitted, Count: 3},
		{Status: models.StatusCompleted, Count: 2},
	}}
	svc := NewAdminService(newAdminStoreStub(), analytics, nil)

	summary, hit, err := svc.SummaryCounts(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.StatusSummary{Submitted: 3, Completed: 2, Total: 5}, summary)
}

func TestAdminAnalyticsCacheLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	metrics := NewMetricsService()
	cache := NewCacheService(repository.NewCacheRepository(client, zap.NewNop()), metrics, time.Minute, zap.NewNop(), true)
	analytics := &analyticsStoreStub{
		counts:  []models.StatusCount{{Status: models.StatusPaid, Count: 1}},
		monthly: []models.MonthlyCount{{Month: "2025-01", Count: 1}},
	}
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusSubmitted, time.Now()))
	svc := NewAdminService(store, analytics, nil, WithAdminCache(cache, time.Minute), WithAdminMetrics(metrics))
	ctx := context.Background()

	_, hit, err := svc.SummaryCounts(ctx)
	require.NoError(t, err)
	assert.False(t, hit)
	summary, hit, err := svc.SummaryCounts(ctx)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, summary.Paid)

	monthly, hit, err := svc.MonthlyCounts(ctx)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, monthly, 1)
	_, hit, err = svc.MonthlyCounts(ctx)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(2), analytics.calls.Load())

	_, err = svc.ApplyTransition(ctx, dto.TransitionCommand{ApplicationID: appOneID, Target: models.StatusApproved, Actor: "admin"})
	require.NoError(t, err)
	assert.False(t, mr.Exists("analytics:summary"))
	assert.False(t, mr.Exists("analytics:monthly"))

	_, hit, err = svc.SummaryCounts(ctx)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Greater(t, metrics.Snapshot().CacheHitRatio, 0.0)
}

func TestAdminExportCSV(t *testing.T) {
	store := newAdminStoreStub(
		adminFixture(appOneID, models.StatusSubmitted, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		adminFixture(appTwoID, models.StatusPaid, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)),
	)
	now := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)
	svc := NewAdminService(store, &analyticsStoreStub{}, nil, WithAdminClock(fixedClock(now)))

	paid := models.StatusPaid
	result, err := svc.Export(context.Background(), dto.ApplicationQuery{Status: &paid}, dto.ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "applications-20250401-093000.csv", result.Filename)
	assert.Equal(t, "text/csv", result.ContentType)

	records, err := csv.NewReader(bytes.NewReader(result.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, exportHeaders, records[0])
	assert.Equal(t, appTwoID, records[1][0])
	assert.Equal(t, "Paid", records[1][7])
}

func TestAdminExportPDFAndUnknownFormat(t *testing.T) {
	store := newAdminStoreStub(adminFixture(appOneID, models.StatusSubmitted, time.Now()))
	svc := NewAdminService(store, &analyticsStoreStub{}, nil)

	result, err := svc.Export(context.Background(), dto.ApplicationQuery{}, dto.ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Body, []byte("%PDF")))

	_, err = svc.Export(context.Background(), dto.ApplicationQuery{}, dto.ExportFormat("xlsx"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
