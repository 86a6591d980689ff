package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pet-licence-api/internal/models"
)

var applicationColumns = []string{
	"id", "applicant_first_name", "applicant_last_name", "email", "phone", "primary_address", "secondary_address",
	"pet_name", "pet_type", "breed", "age", "color", "sex", "hair_length", "spayed_neutered", "clinic_name", "vet_name",
	"status", "provisional_licence_number", "payment_reference", "created_at", "updated_at",
}

func newApplicationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sampleApplication() *models.Application {
	return &models.Application{
		ID: "7d7f9a3c-51f4-4c55-9d1e-0a8d3c6f1b21",
		Applicant: models.Applicant{
			FirstName:      "Jane",
			LastName:       "Doe",
			Email:          "jane@example.com",
			Phone:          "555-0100",
			PrimaryAddress: "1 Main St",
		},
		Pet: models.Pet{
			PetName:    "Rex",
			PetType:    "Dog",
			Breed:      "Beagle",
			Age:        3,
			Color:      "Brown",
			Sex:        "Male",
			HairLength: "Short",
			ClinicName: "City Vets",
			VetName:    "Dr. Who",
		},
		Status:                   models.StatusSubmitted,
		ProvisionalLicenceNumber: "PL-2025-AB12CD34",
		CreatedAt:                time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func applicationRow(app *models.Application) *sqlmock.Rows {
	return sqlmock.NewRows(applicationColumns).AddRow(
		app.ID, app.FirstName, app.LastName, app.Email, app.Phone, app.PrimaryAddress, nil,
		app.PetName, app.PetType, app.Breed, app.Age, app.Color, app.Sex, app.HairLength, app.SpayedNeutered, app.ClinicName, app.VetName,
		string(app.Status), app.ProvisionalLicenceNumber, nil, app.CreatedAt, nil,
	)
}

func TestApplicationRepositoryCreateWritesAuditEntry(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	app := sampleApplication()
	newValue := "Submitted"
	entry := &models.AuditLog{ID: "audit-1", ApplicationID: app.ID, OccurredAt: app.CreatedAt, Actor: app.Email, Action: models.AuditActionSubmitted, NewValue: &newValue}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pet_applications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO application_audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), app, entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCreateMapsLicenceCollision(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pet_applications")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "pet_applications_licence_number_key"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleApplication(), nil)
	require.ErrorIs(t, err, ErrLicenceNumberTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCreateRollsBackWhenAuditFails(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	app := sampleApplication()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pet_applications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO application_audit_logs")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), app, &models.AuditLog{ID: "audit-1", ApplicationID: app.ID})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLicenceNumberTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	app := sampleApplication()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, applicant_first_name")).
		WithArgs(app.ID).
		WillReturnRows(applicationRow(app))

	found, err := repo.GetByID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, found.ID)
	assert.Equal(t, models.StatusSubmitted, found.Status)
	assert.Equal(t, "Beagle", found.Breed)
	assert.Nil(t, found.SecondaryAddress)
	assert.Nil(t, found.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, applicant_first_name")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(applicationColumns))

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApplicationRepositoryGetByLicenceNumber(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	issued := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"provisional_licence_number", "pet_name", "pet_type", "breed", "status", "created_at"}).
		AddRow("PL-2025-AB12CD34", "Rex", "Dog", "Beagle", "Approved", issued)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT provisional_licence_number, pet_name")).
		WithArgs("PL-2025-AB12CD34").
		WillReturnRows(rows)

	view, err := repo.GetByLicenceNumber(context.Background(), "PL-2025-AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, view.Status)
	assert.Equal(t, issued, view.IssuedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListFiltersByStatus(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	rows := sqlmock.NewRows([]string{"id", "applicant_name", "pet_name", "status", "created_at"}).
		AddRow("app-2", "Jane Doe", "Rex", "Approved", time.Now())
	mock.ExpectQuery(`SELECT id, TRIM\(.+WHERE status = \$1 ORDER BY created_at DESC`).
		WithArgs("Approved").
		WillReturnRows(rows)

	status := models.StatusApproved
	list, err := repo.List(context.Background(), models.ApplicationFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Jane Doe", list[0].ApplicantName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListWithoutFilter(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectQuery(`SELECT id, TRIM\(.+FROM pet_applications ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "applicant_name", "pet_name", "status", "created_at"}))

	list, err := repo.List(context.Background(), models.ApplicationFilter{})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionCommitsUpdateAndAudit(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	app := sampleApplication()
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, applicant_first_name.+FOR UPDATE`).
		WithArgs(app.ID).
		WillReturnRows(applicationRow(app))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pet_applications")).
		WithArgs("UnderReview", now, nil, app.ID, "Submitted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO application_audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.Transition(context.Background(), app.ID, func(current *models.Application) (*models.AuditLog, error) {
		current.Status = models.StatusUnderReview
		current.UpdatedAt = &now
		oldValue, newValue := "Submitted", "UnderReview"
		return &models.AuditLog{ID: "audit-2", ApplicationID: current.ID, OccurredAt: now, Actor: "admin", Action: models.AuditActionStatusChanged, OldValue: &oldValue, NewValue: &newValue}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, updated.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionRollsBackWhenApplyFails(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	app := sampleApplication()
	rejected := errors.New("not allowed")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, applicant_first_name.+FOR UPDATE`).
		WithArgs(app.ID).
		WillReturnRows(applicationRow(app))
	mock.ExpectRollback()

	_, err := repo.Transition(context.Background(), app.ID, func(*models.Application) (*models.AuditLog, error) {
		return nil, rejected
	})
	require.ErrorIs(t, err, rejected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionDetectsConcurrentChange(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	app := sampleApplication()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, applicant_first_name.+FOR UPDATE`).
		WithArgs(app.ID).
		WillReturnRows(applicationRow(app))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pet_applications")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Transition(context.Background(), app.ID, func(current *models.Application) (*models.AuditLog, error) {
		current.Status = models.StatusApproved
		return &models.AuditLog{ID: "audit-3", ApplicationID: current.ID}, nil
	})
	require.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionNotFound(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, applicant_first_name.+FOR UPDATE`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(applicationColumns))
	mock.ExpectRollback()

	_, err := repo.Transition(context.Background(), "missing", func(*models.Application) (*models.AuditLog, error) {
		t.Fatal("apply must not run for a missing row")
		return nil, nil
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pet_applications")).
		WithArgs("app-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pet_applications")).
		WithArgs("app-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "app-1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "app-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
