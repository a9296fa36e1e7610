package handlers

import (
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/axnihao/otp-service/internal/infra/telemetry"
	"github.com/axnihao/otp-service/internal/usecase"
)

var emailFormat = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// OTPHandler exposes endpoints for issuing and verifying one-time codes.
type OTPHandler struct {
	issuance     *usecase.IssuanceService
	verification *usecase.VerificationService
	metrics      *telemetry.Metrics
	isDev        bool // Development mode flag
}

func NewOTPHandler(issuance *usecase.IssuanceService, verification *usecase.VerificationService, metrics *telemetry.Metrics, isDev bool) *OTPHandler {
	return &OTPHandler{
		issuance:     issuance,
		verification: verification,
		metrics:      metrics,
		isDev:        isDev,
	}
}

// RegisterRoutes binds the OTP endpoints.
func (h *OTPHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/send", h.Send)
	r.POST("/verify", h.Verify)
}

// Send issues a fresh verification code and emails it to the address.
func (h *OTPHandler) Send(c *gin.Context) {
	var req SendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if !emailFormat.MatchString(req.Email) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid email format"))
		return
	}

	result, err := h.issuance.Issue(c.Request.Context(), req.Email)
	if err != nil {
		var limited *usecase.RateLimitExceededError
		if errors.As(err, &limited) {
			seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
			if seconds < 0 {
				seconds = 0
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "too many code requests, try again later"))
			return
		}

		if errors.Is(err, usecase.ErrNotificationFailed) {
			if h.metrics != nil {
				h.metrics.DeliveryFailures.Inc()
			}
			c.JSON(http.StatusBadGateway, NewErrorResponse(c, "failed to send verification email"))
			return
		}

		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to issue verification code"))
		return
	}

	if h.metrics != nil {
		h.metrics.CodesIssued.Inc()
	}

	resp := SendCodeResponse{
		Message:   "verification code sent",
		ExpiresAt: result.ExpiresAt.UTC().Format(time.RFC3339),
	}

	// SECURITY: Only expose the raw code in development mode
	if h.isDev {
		code := result.Code
		resp.DevCode = &code
	}

	c.JSON(http.StatusOK, resp)
}

// Verify checks a submitted code against the latest one issued for the address.
// Mismatch and not-found are reported identically so callers cannot probe which
// addresses currently hold codes.
func (h *OTPHandler) Verify(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and code are required"))
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Code = strings.TrimSpace(req.Code)
	if !emailFormat.MatchString(req.Email) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid email format"))
		return
	}
	if req.Code == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return
	}

	result, err := h.verification.Verify(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		h.countVerification(err)
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrCodeNotFound, Status: http.StatusUnauthorized, Message: "invalid or expired verification code"},
			{Err: usecase.ErrInvalidCode, Status: http.StatusUnauthorized, Message: "invalid or expired verification code"},
			{Err: usecase.ErrAttemptsExhausted, Status: http.StatusUnauthorized, Message: "too many failed attempts, request a new code"},
		}, http.StatusInternalServerError, "failed to verify code")
		return
	}

	if h.metrics != nil {
		h.metrics.Verifications.WithLabelValues("verified").Inc()
	}

	c.JSON(http.StatusOK, VerifyCodeResponse{
		Message:    "email verified",
		Email:      result.Address,
		VerifiedAt: result.VerifiedAt,
	})
}

func (h *OTPHandler) countVerification(err error) {
	if h.metrics == nil {
		return
	}

	switch {
	case errors.Is(err, usecase.ErrCodeNotFound):
		h.metrics.Verifications.WithLabelValues("not_found").Inc()
	case errors.Is(err, usecase.ErrInvalidCode):
		h.metrics.Verifications.WithLabelValues("rejected").Inc()
	case errors.Is(err, usecase.ErrAttemptsExhausted):
		h.metrics.Verifications.WithLabelValues("exhausted").Inc()
	default:
		h.metrics.Verifications.WithLabelValues("error").Inc()
	}
}
