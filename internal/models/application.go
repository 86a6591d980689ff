package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ApplicationStatus is the closed set of lifecycle states an application can be in.
type ApplicationStatus string

const (
	StatusSubmitted   ApplicationStatus = "Submitted"
	StatusUnderReview ApplicationStatus = "UnderReview"
	StatusApproved    ApplicationStatus = "Approved"
	StatusRejected    ApplicationStatus = "Rejected"
	StatusPaid        ApplicationStatus = "Paid"
	StatusCompleted   ApplicationStatus = "Completed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ApplicationStatus{
	StatusSubmitted,
	StatusUnderReview,
	StatusApproved,
	StatusRejected,
	StatusPaid,
	StatusCompleted,
}

// Valid reports whether s is one of the known statuses.
func (s ApplicationStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s ApplicationStatus) String() string {
	return string(s)
}

// ParseApplicationStatus resolves a status name case-insensitively.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, known := range AllStatuses {
		if strings.EqualFold(trimmed, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown application status %q", raw)
}

// MarshalJSON rejects values outside the closed set.
func (s ApplicationStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown application status %q", string(s))
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON rejects values outside the closed set.
func (s *ApplicationStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("application status must be a string: %w", err)
	}
	parsed, err := ParseApplicationStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer.
func (s ApplicationStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown application status %q", string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *ApplicationStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ApplicationStatus", src)
	}
	parsed, err := ParseApplicationStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Applicant holds the owner's contact details.
type Applicant struct {
	FirstName        string  `db:"applicant_first_name" json:"applicantFirstName"`
	LastName         string  `db:"applicant_last_name" json:"applicantLastName"`
	Email            string  `db:"email" json:"email"`
	Phone            string  `db:"phone" json:"phone"`
	PrimaryAddress   string  `db:"primary_address" json:"primaryAddress"`
	SecondaryAddress *string `db:"secondary_address" json:"secondaryAddress,omitempty"`
}

// DisplayName joins first and last name.
func (a Applicant) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Pet describes the animal being licensed.
type Pet struct {
	PetName        string `db:"pet_name" json:"petName"`
	PetType        string `db:"pet_type" json:"petType"`
	Breed          string `db:"breed" json:"breed"`
	Age            int    `db:"age" json:"age"`
	Color          string `db:"color" json:"color"`
	Sex            string `db:"sex" json:"sex"`
	HairLength     string `db:"hair_length" json:"hairLength"`
	SpayedNeutered bool   `db:"spayed_neutered" json:"spayedNeutered"`
	ClinicName     string `db:"clinic_name" json:"clinicName"`
	VetName        string `db:"vet_name" json:"vetName"`
}

// Application is a persisted pet licence application.
type Application struct {
	ID string `db:"id" json:"id"`
	Applicant
	Pet
	Status                   ApplicationStatus `db:"status" json:"status"`
	ProvisionalLicenceNumber string            `db:"provisional_licence_number" json:"provisionalLicenceNumber"`
	PaymentReference         *string           `db:"payment_reference" json:"paymentReference,omitempty"`
	CreatedAt                time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt                *time.Time        `db:"updated_at" json:"updatedAt,omitempty"`
}

// ApplicationFilter constrains listing queries.
type ApplicationFilter struct {
	Status *ApplicationStatus
}

// ApplicationSummary is the admin list projection.
type ApplicationSummary struct {
	ID            string            `db:"id" json:"id"`
	ApplicantName string            `db:"applicant_name" json:"applicantName"`
	PetName       string            `db:"pet_name" json:"petName"`
	Status        ApplicationStatus `db:"status" json:"status"`
	CreatedAt     time.Time         `db:"created_at" json:"createdAt"`
}

// LicenceView is the public projection returned by licence verification. It carries no owner data.
type LicenceView struct {
	LicenceNumber string            `db:"provisional_licence_number" json:"licenceNumber"`
	PetName       string            `db:"pet_name" json:"petName"`
	PetType       string            `db:"pet_type" json:"petType"`
	Breed         string            `db:"breed" json:"breed"`
	Status        ApplicationStatus `db:"status" json:"status"`
	IssuedAt      time.Time         `db:"created_at" json:"issuedAt"`
}
