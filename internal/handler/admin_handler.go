package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pet-licence-api/internal/dto"
	"github.com/noah-isme/pet-licence-api/internal/middleware"
	"github.com/noah-isme/pet-licence-api/internal/models"
	"github.com/noah-isme/pet-licence-api/internal/service"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
	"github.com/noah-isme/pet-licence-api/pkg/response"
)

type adminService interface {
	List(ctx context.Context, query dto.ApplicationQuery) ([]models.ApplicationSummary, error)
	GetDetail(ctx context.Context, id string) (*models.Application, error)
	ApplyTransition(ctx context.Context, cmd dto.TransitionCommand) (*models.Application, error)
	Delete(ctx context.Context, id string) error
	SummaryCounts(ctx context.Context) (models.StatusSummary, bool, error)
	MonthlyCounts(ctx context.Context) ([]models.MonthlyCount, bool, error)
	Export(ctx context.Context, query dto.ApplicationQuery, format dto.ExportFormat) (*dto.ExportResult, error)
	SystemMetrics() models.SystemMetrics
}

// AdminHandler exposes the back-office review endpoints.
type AdminHandler struct {
	service adminService
}

// NewAdminHandler builds a new handler.
func NewAdminHandler(service adminService) *AdminHandler {
	return &AdminHandler{service: service}
}

// List godoc
// @Summary List applications
// @Tags Admin
// @Produce json
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/applications [get]
func (h *AdminHandler) List(c *gin.Context) {
	query, err := parseApplicationQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"total": len(items)})
}

// Export godoc
// @Summary Export the application listing
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Param status query string false "Status filter"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /admin/applications/export [get]
func (h *AdminHandler) Export(c *gin.Context) {
	query, err := parseApplicationQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Export(c.Request.Context(), query, dto.ExportFormat(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Body)
}

// Get godoc
// @Summary Get application detail
// @Tags Admin
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/applications/{id} [get]
func (h *AdminHandler) Get(c *gin.Context) {
	app, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app)
}

// Review moves an application into UnderReview.
func (h *AdminHandler) Review(c *gin.Context) {
	h.transition(c, models.StatusUnderReview, "")
}

// Approve godoc
// @Summary Approve an application
// @Tags Admin
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/applications/{id}/approve [post]
func (h *AdminHandler) Approve(c *gin.Context) {
	h.transition(c, models.StatusApproved, "")
}

// Reject rejects an application.
func (h *AdminHandler) Reject(c *gin.Context) {
	h.transition(c, models.StatusRejected, "")
}

// Complete marks a paid application completed.
func (h *AdminHandler) Complete(c *gin.Context) {
	h.transition(c, models.StatusCompleted, "")
}

// Pay godoc
// @Summary Record payment for an approved application
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.PaymentRequest true "Payment reference"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/applications/{id}/pay [post]
func (h *AdminHandler) Pay(c *gin.Context) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	h.transition(c, models.StatusPaid, req.PaymentReference)
}

func (h *AdminHandler) transition(c *gin.Context, target models.ApplicationStatus, paymentReference string) {
	app, err := h.service.ApplyTransition(c.Request.Context(), dto.TransitionCommand{
		ApplicationID:    c.Param("id"),
		Target:           target,
		Actor:            middleware.ActorFromContext(c),
		PaymentReference: paymentReference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app)
}

// Delete godoc
// @Summary Delete an application and its audit trail
// @Tags Admin
// @Param id path string true "Application ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/applications/{id} [delete]
func (h *AdminHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Summary godoc
// @Summary Application counts per status
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/analytics/summary [get]
func (h *AdminHandler) Summary(c *gin.Context) {
	summary, cacheHit, err := h.service.SummaryCounts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, middleware.ExtractMeta(c))
}

// Monthly godoc
// @Summary Applications created per month
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/analytics/monthly [get]
func (h *AdminHandler) Monthly(c *gin.Context) {
	months, cacheHit, err := h.service.MonthlyCounts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, months, middleware.ExtractMeta(c))
}

// System returns an instrumentation snapshot.
func (h *AdminHandler) System(c *gin.Context) {
	middleware.SetCacheHit(c, false)
	response.JSON(c, http.StatusOK, h.service.SystemMetrics(), middleware.ExtractMeta(c))
}

func parseApplicationQuery(c *gin.Context) (dto.ApplicationQuery, error) {
	status, err := service.ParseStatusFilter(c.Query("status"))
	if err != nil {
		return dto.ApplicationQuery{}, err
	}
	return dto.ApplicationQuery{Status: status}, nil
}
