// errors.go - Structured error responses
package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// Error codes returned in APIError.Code
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeValidation     = "VALIDATION_ERROR"
	CodePathNotAllowed = "PATH_NOT_ALLOWED"
	CodeNotFound       = "NOT_FOUND"
	CodeLaunchFailed   = "LAUNCH_FAILED"
	CodeUnavailable    = "SERVICE_UNAVAILABLE"
	CodeInternal       = "INTERNAL_ERROR"
	CodeHTTP           = "HTTP_ERROR"
	CodeUnknown        = "UNKNOWN_ERROR"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code, message string, cause error) *APIError {
	e := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewBadRequestError reports a malformed request body or parameter.
func NewBadRequestError(message string, cause error) *APIError {
	return newAPIError(http.StatusBadRequest, CodeBadRequest, message, cause)
}

// NewValidationError reports an invalid value for field.
func NewValidationError(field string) *APIError {
	return newAPIError(http.StatusBadRequest, CodeValidation, "invalid value for "+field, nil)
}

// NewForbiddenPathError reports a path escaping the project root.
func NewForbiddenPathError(path string) *APIError {
	return newAPIError(http.StatusBadRequest, CodePathNotAllowed, "path is outside the project: "+path, nil)
}

func NewNotFoundError(resource, id string) *APIError {
	return newAPIError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil)
}

// NewLaunchFailedError reports a tail subprocess that would not start.
// The upstream here is the Salesforce CLI, hence 502.
func NewLaunchFailedError(cause error) *APIError {
	return newAPIError(http.StatusBadGateway, CodeLaunchFailed, "failed to start the log tail process", cause)
}

// NewServiceUnavailableError reports a disabled optional component.
func NewServiceUnavailableError(message string) *APIError {
	return newAPIError(http.StatusServiceUnavailable, CodeUnavailable, message, nil)
}

func NewInternalError(message string, cause error) *APIError {
	return newAPIError(http.StatusInternalServerError, CodeInternal, message, cause)
}

// ErrorHandler renders any handler error as an APIError.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = newAPIError(httpErr.Code, CodeHTTP, fmt.Sprintf("%v", httpErr.Message), nil)
	default:
		apiErr = newAPIError(http.StatusInternalServerError, CodeUnknown, "unexpected error", nil)
		if isDevelopment() {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}

// isDevelopment reports whether unexpected error details may be shown.
func isDevelopment() bool {
	return os.Getenv("SFLOG_ENV") != "production"
}
