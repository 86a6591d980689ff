package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pet-licence-api/internal/models"
)

// AnalyticsRepository exposes read-optimised aggregate queries for the admin dashboard.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository instantiates the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// StatusCounts groups applications by status. Statuses without rows are absent from the result.
func (r *AnalyticsRepository) StatusCounts(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM pet_applications GROUP BY status`
	counts := make([]models.StatusCount, 0, len(models.AllStatuses))
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	return counts, nil
}

// MonthlyCounts buckets applications by UTC creation month, oldest first. Empty months are omitted.
func (r *AnalyticsRepository) MonthlyCounts(ctx context.Context) ([]models.MonthlyCount, error) {
	const query = `SELECT to_char(date_trunc('month', created_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS month, COUNT(*) AS count
	FROM pet_applications
	GROUP BY 1
	ORDER BY 1`
	counts := make([]models.MonthlyCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("query monthly counts: %w", err)
	}
	return counts, nil
}
