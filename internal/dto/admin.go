package dto

import "github.com/noah-isme/pet-licence-api/internal/models"

// ApplicationQuery mirrors the admin listing filters.
type ApplicationQuery struct {
	Status *models.ApplicationStatus
}

// PaymentRequest records the external payment reference when marking an application paid.
type PaymentRequest struct {
	PaymentReference string `json:"paymentReference" validate:"required,max=200"`
}

// TransitionCommand describes an admin-initiated status change.
type TransitionCommand struct {
	ApplicationID    string
	Target           models.ApplicationStatus
	Actor            string
	PaymentReference string
}

// ExportFormat enumerates supported listing export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered export.
type ExportResult struct {
	Filename    string
	ContentType string
	Body        []byte
}
