package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/logger"
	"github.com/marketsync/backend/internal/interfaces/http/dto"
	"github.com/marketsync/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

const (
	// RequestIDKey is the gin context key set by the RequestID middleware
	RequestIDKey = "request_id"
	// RequestIDHeader is the header a caller may supply
	RequestIDHeader = "X-Request-ID"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDHeader)
}

// getUserID extracts the authenticated user from JWT claims
func getUserID(c *gin.Context) (uuid.UUID, error) {
	id, ok := middleware.GetJWTUserUUID(c)
	if !ok {
		return uuid.Nil, errors.New("user ID not found in context")
	}
	return id, nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessList sends a list with its size
func (h *BaseHandler) SuccessList(c *gin.Context, data any, total int) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, total))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work that completes asynchronously
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// TooManyRequests sends a 429 too many requests response
func (h *BaseHandler) TooManyRequests(c *gin.Context, message string) {
	h.Error(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited, message)
}

// requireUser returns the authenticated user or writes a 401
func (h *BaseHandler) requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return uuid.Nil, false
	}
	return userID, true
}

// marketplaceParam parses the :marketplace path segment or writes a 404
func (h *BaseHandler) marketplaceParam(c *gin.Context) (integration.Marketplace, bool) {
	m, err := integration.ParseMarketplace(c.Param("marketplace"))
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeUnknownMarketplace, "Unknown marketplace")
		return "", false
	}
	return m, true
}

// HandleError maps service errors to HTTP responses.
// Messages for 5xx never carry the underlying error text.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		middleware.HandleValidationError(c, err)
		return
	}

	code, message := classifyError(err)
	if dto.GetHTTPStatus(code) >= http.StatusInternalServerError {
		logger.L(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	h.ErrorWithCode(c, code, message)
}

func classifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, integration.ErrUnknownMarketplace), errors.Is(err, integration.ErrInvalidMarketplace):
		return dto.ErrCodeUnknownMarketplace, "Unknown marketplace"
	case errors.Is(err, integration.ErrMarketplaceNotConfigured):
		return dto.ErrCodeMarketplaceNotConfigured, "Marketplace is not configured on this server"
	case errors.Is(err, integration.ErrConnectionNotFound):
		return dto.ErrCodeConnectionNotFound, "Marketplace is not connected"
	case errors.Is(err, integration.ErrConnectionDisconnected):
		return dto.ErrCodeConnectionDisconnected, "Marketplace connection is disconnected"
	case errors.Is(err, integration.ErrAuthStateInvalid):
		return dto.ErrCodeAuthStateInvalid, "Authorization request is invalid or has expired"
	case errors.Is(err, integration.ErrOperationNotSupported):
		return dto.ErrCodeOperationNotSupported, "Marketplace does not support this operation"
	case errors.Is(err, integration.ErrInvalidUserID):
		return dto.ErrCodeUnauthorized, "Authentication required"
	case errors.Is(err, integration.ErrPlatformUnavailable), errors.Is(err, integration.ErrPlatformRateLimited):
		return dto.ErrCodeUpstream, "Marketplace is temporarily unavailable"
	}

	var credErr *integration.CredentialError
	if errors.As(err, &credErr) {
		if credErr.Retryable {
			return dto.ErrCodeUpstream, "Marketplace is temporarily unavailable"
		}
		return dto.ErrCodeCredentialInvalid, "Marketplace rejected the credentials"
	}
	if errors.Is(err, integration.ErrPlatformAuthFailed) ||
		errors.Is(err, integration.ErrInvalidAccessToken) ||
		errors.Is(err, integration.ErrInvalidExternalStoreID) {
		return dto.ErrCodeCredentialInvalid, "Marketplace rejected the credentials"
	}
	return dto.ErrCodeInternal, "An unexpected error occurred"
}
