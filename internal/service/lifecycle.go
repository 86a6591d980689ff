package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/pet-licence-api/internal/models"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
)

// transitions lists the statuses reachable from each state. Rejected and Completed are terminal.
var transitions = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.StatusSubmitted:   {models.StatusUnderReview, models.StatusApproved, models.StatusRejected},
	models.StatusUnderReview: {models.StatusApproved, models.StatusRejected},
	models.StatusApproved:    {models.StatusPaid},
	models.StatusPaid:        {models.StatusCompleted},
}

// Lifecycle applies status changes to applications and stamps the matching audit entry.
type Lifecycle struct {
	now func() time.Time
}

// NewLifecycle constructs a lifecycle using clock for timestamps. A nil clock falls back to UTC wall time.
func NewLifecycle(clock func() time.Time) *Lifecycle {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Lifecycle{now: clock}
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to models.ApplicationStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the statuses reachable from status.
func AllowedTargets(status models.ApplicationStatus) []models.ApplicationStatus {
	return append([]models.ApplicationStatus(nil), transitions[status]...)
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status models.ApplicationStatus) bool {
	return status.Valid() && len(transitions[status]) == 0
}

// Transition moves app to target on behalf of actor. The application is left untouched on error.
func (l *Lifecycle) Transition(app *models.Application, target models.ApplicationStatus, actor string) (*models.AuditLog, error) {
	if app == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, appErrors.Validation("actor")
	}
	if !target.Valid() {
		return nil, appErrors.Validation("status")
	}
	from := app.Status
	if !CanTransition(from, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move application from %s to %s", from, target))
	}

	now := l.now()
	oldValue, newValue := from.String(), target.String()
	app.Status = target
	app.UpdatedAt = &now

	return &models.AuditLog{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		OccurredAt:    now,
		Actor:         actor,
		Action:        models.AuditActionStatusChanged,
		OldValue:      &oldValue,
		NewValue:      &newValue,
	}, nil
}
