package models

import "time"

// Audit actions recorded against an application.
const (
	AuditActionSubmitted     = "Application Submitted"
	AuditActionStatusChanged = "StatusChanged"
)

// AuditLog is an immutable entry in an application's audit trail.
type AuditLog struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"applicationId"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurredAt"`
	Actor         string    `db:"actor" json:"actor"`
	Action        string    `db:"action" json:"action"`
	OldValue      *string   `db:"old_value" json:"oldValue,omitempty"`
	NewValue      *string   `db:"new_value" json:"newValue,omitempty"`
}
