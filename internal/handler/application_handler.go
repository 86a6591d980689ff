package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pet-licence-api/internal/dto"
	"github.com/noah-isme/pet-licence-api/internal/middleware"
	"github.com/noah-isme/pet-licence-api/internal/models"
	"github.com/noah-isme/pet-licence-api/internal/service"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
	"github.com/noah-isme/pet-licence-api/pkg/response"
)

const (
	otpSentMessage     = "If the address is valid, a verification code has been sent."
	otpVerifiedMessage = "Email verified."
)

type otpVerifier interface {
	Generate(ctx context.Context, identity string) (string, error)
	Verify(ctx context.Context, identity, code string) (bool, error)
}

type identityIssuer interface {
	Issue(email string) (string, time.Time, error)
}

type intakeService interface {
	Submit(ctx context.Context, req dto.SubmitApplicationRequest) (*models.Application, error)
	Get(ctx context.Context, id string) (*models.Application, error)
	VerifyLicence(ctx context.Context, licenceNumber string) (*models.LicenceView, error)
}

// ApplicationHandler serves the public intake endpoints.
type ApplicationHandler struct {
	otp             otpVerifier
	tokens          identityIssuer
	intake          intakeService
	requireIdentity bool
}

// NewApplicationHandler constructs the public handler. When requireIdentity is set, Submit only
// accepts submissions whose email matches the verified identity on the request.
func NewApplicationHandler(otp otpVerifier, tokens identityIssuer, intake intakeService, requireIdentity bool) *ApplicationHandler {
	return &ApplicationHandler{otp: otp, tokens: tokens, intake: intake, requireIdentity: requireIdentity}
}

// SendOTP godoc
// @Summary Send a one-time verification code
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.SendOTPRequest true "Email to verify"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /applications/send-otp [post]
func (h *ApplicationHandler) SendOTP(c *gin.Context) {
	var req dto.SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid otp request payload"))
		return
	}
	if _, err := h.otp.Generate(c.Request.Context(), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SendOTPResponse{Message: otpSentMessage})
}

// VerifyOTP godoc
// @Summary Verify a one-time code
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.VerifyOTPRequest true "Email and code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /applications/verify-otp [post]
func (h *ApplicationHandler) VerifyOTP(c *gin.Context) {
	var req dto.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectOTP(c)
		return
	}
	ok, err := h.otp.Verify(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		h.rejectOTP(c)
		return
	}

	resp := dto.VerifyOTPResponse{Success: true, Message: otpVerifiedMessage}
	if h.tokens != nil {
		token, expiresAt, err := h.tokens.Issue(service.NormalizeEmail(req.Email))
		if err != nil {
			response.Error(c, err)
			return
		}
		resp.IdentityToken = token
		resp.ExpiresIn = int64(time.Until(expiresAt).Round(time.Second).Seconds())
	}
	response.JSON(c, http.StatusOK, resp)
}

func (h *ApplicationHandler) rejectOTP(c *gin.Context) {
	response.ErrorWithData(c, appErrors.ErrInvalidOTP, dto.VerifyOTPResponse{
		Success: false,
		Message: appErrors.ErrInvalidOTP.Message,
	})
}

// Submit godoc
// @Summary Submit a pet licence application
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApplicationRequest true "Applicant and pet details"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /applications/submit [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req dto.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}
	if h.requireIdentity {
		verified, ok := middleware.VerifiedIdentity(c)
		if !ok || verified != service.NormalizeEmail(req.Email) {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "submission email does not match the verified identity"))
			return
		}
	}

	app, err := h.intake.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewSubmitApplicationResponse(app))
}

// Get godoc
// @Summary Get an application's licence status
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, err := h.intake.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewSubmitApplicationResponse(app))
}

// VerifyLicence godoc
// @Summary Look up a provisional licence
// @Tags Licences
// @Produce json
// @Param licenceNumber path string true "Provisional licence number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /licences/{licenceNumber} [get]
func (h *ApplicationHandler) VerifyLicence(c *gin.Context) {
	view, err := h.intake.VerifyLicence(c.Request.Context(), c.Param("licenceNumber"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}
