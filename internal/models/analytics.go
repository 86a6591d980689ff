package models

import "time"

// StatusCount is a raw per-status aggregate row.
type StatusCount struct {
	Status ApplicationStatus `db:"status" json:"status"`
	Count  int               `db:"count" json:"count"`
}

// StatusSummary counts applications in each lifecycle state.
type StatusSummary struct {
	Submitted   int `json:"submitted"`
	UnderReview int `json:"underReview"`
	Approved    int `json:"approved"`
	Rejected    int `json:"rejected"`
	Paid        int `json:"paid"`
	Completed   int `json:"completed"`
	Total       int `json:"total"`
}

// Add folds count into the bucket for status.
func (s *StatusSummary) Add(status ApplicationStatus, count int) {
	switch status {
	case StatusSubmitted:
		s.Submitted += count
	case StatusUnderReview:
		s.UnderReview += count
	case StatusApproved:
		s.Approved += count
	case StatusRejected:
		s.Rejected += count
	case StatusPaid:
		s.Paid += count
	case StatusCompleted:
		s.Completed += count
	default:
		return
	}
	s.Total += count
}

// MonthlyCount is the number of applications created in a calendar month (YYYY-MM).
type MonthlyCount struct {
	Month string `db:"month" json:"month"`
	Count int    `db:"count" json:"count"`
}

// SystemMetrics is a lightweight snapshot of process instrumentation.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	ApplicationsSubmitted    uint64    `json:"applicationsSubmitted"`
	TransitionsApplied       uint64    `json:"transitionsApplied"`
	OTPVerifications         uint64    `json:"otpVerifications"`
	OTPFailures              uint64    `json:"otpFailures"`
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
