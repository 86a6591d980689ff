package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/pet-licence-api/internal/models"
)

const (
	uniqueViolation          = "23505"
	licenceNumberConstraint  = "pet_applications_licence_number_key"
	applicationSelectColumns = `id, applicant_first_name, applicant_last_name, email, phone, primary_address, secondary_address,
       pet_name, pet_type, breed, age, color, sex, hair_length, spayed_neutered, clinic_name, vet_name,
       status, provisional_licence_number, payment_reference, created_at, updated_at`
)

var (
	// ErrLicenceNumberTaken signals a provisional licence number collision on insert.
	ErrLicenceNumberTaken = errors.New("provisional licence number already issued")
	// ErrStatusChanged signals that the row no longer holds the status it was read with.
	ErrStatusChanged = errors.New("application status changed concurrently")
)

// TransitionFunc mutates a locked application and returns the audit entry describing the change.
type TransitionFunc func(app *models.Application) (*models.AuditLog, error)

// ApplicationRepository persists applications together with their audit trail.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts the application and its initial audit entry in one transaction.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application, entry *models.AuditLog) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create application: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertApplication = `INSERT INTO pet_applications
	(id, applicant_first_name, applicant_last_name, email, phone, primary_address, secondary_address,
	 pet_name, pet_type, breed, age, color, sex, hair_length, spayed_neutered, clinic_name, vet_name,
	 status, provisional_licence_number, payment_reference, created_at, updated_at)
	VALUES (:id, :applicant_first_name, :applicant_last_name, :email, :phone, :primary_address, :secondary_address,
	 :pet_name, :pet_type, :breed, :age, :color, :sex, :hair_length, :spayed_neutered, :clinic_name, :vet_name,
	 :status, :provisional_licence_number, :payment_reference, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertApplication, app); err != nil {
		if isLicenceCollision(err) {
			return ErrLicenceNumberTaken
		}
		return fmt.Errorf("insert application: %w", err)
	}

	if entry != nil {
		if err = insertAuditLog(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create application: %w", err)
	}
	return nil
}

// GetByID fetches an application by identifier.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT ` + applicationSelectColumns + ` FROM pet_applications WHERE id = $1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetByLicenceNumber returns the public projection for a provisional licence number.
func (r *ApplicationRepository) GetByLicenceNumber(ctx context.Context, licenceNumber string) (*models.LicenceView, error) {
	const query = `SELECT provisional_licence_number, pet_name, pet_type, breed, status, created_at
	FROM pet_applications WHERE provisional_licence_number = $1`
	var view models.LicenceView
	if err := r.db.GetContext(ctx, &view, query, licenceNumber); err != nil {
		return nil, err
	}
	return &view, nil
}

// List returns application summaries, newest first.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationSummary, error) {
	query := `SELECT id, TRIM(applicant_first_name || ' ' || applicant_last_name) AS applicant_name, pet_name, status, created_at
	FROM pet_applications`
	args := make([]interface{}, 0, 1)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"

	summaries := make([]models.ApplicationSummary, 0)
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return summaries, nil
}

// ListDetailed returns full application rows, newest first.
func (r *ApplicationRepository) ListDetailed(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	query := `SELECT ` + applicationSelectColumns + ` FROM pet_applications`
	args := make([]interface{}, 0, 1)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"

	apps := make([]models.Application, 0)
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, fmt.Errorf("list detailed applications: %w", err)
	}
	return apps, nil
}

// Transition locks the application row, lets apply mutate it and persists the result together with
// the returned audit entry. Nothing is written when apply fails.
func (r *ApplicationRepository) Transition(ctx context.Context, id string, apply TransitionFunc) (app *models.Application, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Application
	lockQuery := `SELECT ` + applicationSelectColumns + ` FROM pet_applications WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &current, lockQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock application: %w", err)
	}

	fromStatus := current.Status
	entry, err := apply(&current)
	if err != nil {
		return nil, err
	}

	const updateQuery = `UPDATE pet_applications
	SET status = $1, updated_at = $2, payment_reference = $3
	WHERE id = $4 AND status = $5`
	result, err := tx.ExecContext(ctx, updateQuery, current.Status, current.UpdatedAt, current.PaymentReference, current.ID, fromStatus)
	if err != nil {
		return nil, fmt.Errorf("update application status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check application update rows: %w", err)
	}
	if rows == 0 {
		err = ErrStatusChanged
		return nil, err
	}

	if entry != nil {
		if err = insertAuditLog(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return &current, nil
}

// Delete removes an application. Audit rows go with it through the foreign key cascade.
func (r *ApplicationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pet_applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check application delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Ping checks database connectivity for readiness probes.
func (r *ApplicationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func insertAuditLog(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLog) error {
	const query = `INSERT INTO application_audit_logs (id, application_id, occurred_at, actor, action, old_value, new_value)
	VALUES (:id, :application_id, :occurred_at, :actor, :action, :old_value, :new_value)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func isLicenceCollision(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == licenceNumberConstraint
}
