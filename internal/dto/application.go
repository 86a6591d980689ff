package dto

import (
	"time"

	"github.com/noah-isme/pet-licence-api/internal/models"
)

// SubmitApplicationRequest is the owner + pet payload posted by the intake form.
type SubmitApplicationRequest struct {
	FirstName        string  `json:"firstName" validate:"required,max=100"`
	LastName         string  `json:"lastName" validate:"required,max=100"`
	Email            string  `json:"email" validate:"required,email,max=200"`
	Phone            string  `json:"phone" validate:"max=30"`
	PrimaryAddress   string  `json:"primaryAddress" validate:"required,max=500"`
	SecondaryAddress *string `json:"secondaryAddress" validate:"omitempty,max=500"`

	PetName        string `json:"petName" validate:"required,max=100"`
	PetType        string `json:"petType" validate:"required,max=50"`
	Breed          string `json:"breed" validate:"required,max=100"`
	Age            int    `json:"age" validate:"gte=0,lte=40"`
	Color          string `json:"color" validate:"max=50"`
	Sex            string `json:"sex" validate:"required,max=20"`
	HairLength     string `json:"hairLength" validate:"required,max=20"`
	SpayedNeutered bool   `json:"spayedNeutered"`
	ClinicName     string `json:"clinicName" validate:"required,max=200"`
	VetName        string `json:"vetName" validate:"required,max=200"`
}

// SubmitApplicationResponse is returned by submit and by the public lookup.
type SubmitApplicationResponse struct {
	ApplicationID string                   `json:"applicationId"`
	LicenceNumber string                   `json:"licenceNumber"`
	Status        models.ApplicationStatus `json:"status"`
	CreatedAt     time.Time                `json:"createdAt"`
}

// NewSubmitApplicationResponse projects a stored application.
func NewSubmitApplicationResponse(app *models.Application) SubmitApplicationResponse {
	return SubmitApplicationResponse{
		ApplicationID: app.ID,
		LicenceNumber: app.ProvisionalLicenceNumber,
		Status:        app.Status,
		CreatedAt:     app.CreatedAt,
	}
}
