package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// SendCodeRequest defines the payload for requesting a verification code.
type SendCodeRequest struct {
	Email string `json:"email" binding:"required"`
}

// SendCodeResponse confirms that a code was issued for the address.
type SendCodeResponse struct {
	Message   string `json:"message"`
	ExpiresAt string `json:"expires_at"`
	// SECURITY: DevCode is ONLY exposed in development mode
	// In production, the code travels via email only
	DevCode *string `json:"dev_code,omitempty"`
}

// VerifyCodeRequest defines the payload for submitting a code.
type VerifyCodeRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// VerifyCodeResponse is returned after a successful verification.
type VerifyCodeResponse struct {
	Message    string    `json:"message"`
	Email      string    `json:"email"`
	VerifiedAt time.Time `json:"verified_at"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
