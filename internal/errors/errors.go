package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/vvf/internal/logger"
)

// Error codes. The first three form the extension failure taxonomy.
const (
	CodeParse      = "PARSE_ERROR"
	CodeLoad       = "LOAD_ERROR"
	CodeScan       = "SCAN_ERROR"
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeInternal   = "INTERNAL_ERROR"
	CodeDatabase   = "DATABASE_ERROR"
)

// VVFError represents a structured error with HTTP context
type VVFError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	ExtensionID string                 `json:"extension_id,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Cause       error                  `json:"-"`
	HTTPStatus  int                    `json:"-"`
}

func (e *VVFError) Error() string {
	msg := e.Message
	if e.ExtensionID != "" {
		msg = e.ExtensionID + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *VVFError) Unwrap() error {
	return e.Cause
}

// Is matches on code so errors.Is(err, &VVFError{Code: CodeLoad}) works.
func (e *VVFError) Is(target error) bool {
	t, ok := target.(*VVFError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code && t.Message == ""
}

// ToGinResponse sends the error as a standardized JSON response
func (e *VVFError) ToGinResponse(c *gin.Context) {
	statusCode := e.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}

	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	logger.Error("HTTP error response",
		"status", statusCode,
		"code", e.Code,
		"message", e.Message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method)

	c.JSON(statusCode, response)
}

// NewParseError reports a malformed descriptor. extensionID may be empty
// when the descriptor was too broken to yield one.
func NewParseError(extensionID, locator string, cause error) *VVFError {
	return &VVFError{
		Code:        CodeParse,
		Message:     "invalid extension descriptor",
		ExtensionID: extensionID,
		Context:     map[string]interface{}{"locator": locator},
		Cause:       cause,
		HTTPStatus:  http.StatusUnprocessableEntity,
	}
}

// NewLoadError reports a failed capability construction.
func NewLoadError(extensionID, operation string, cause error) *VVFError {
	return &VVFError{
		Code:        CodeLoad,
		Message:     "extension failed to load",
		ExtensionID: extensionID,
		Context:     map[string]interface{}{"operation": operation},
		Cause:       cause,
		HTTPStatus:  http.StatusInternalServerError,
	}
}

// NewScanError reports an origin that could not be enumerated.
func NewScanError(source string, cause error) *VVFError {
	return &VVFError{
		Code:       CodeScan,
		Message:    "extension source unavailable",
		Context:    map[string]interface{}{"source": source},
		Cause:      cause,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Common error constructors
func NewValidationError(message string, field string) *VVFError {
	return &VVFError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource string, id string) *VVFError {
	return &VVFError{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Context:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewInternalError(message string, cause error) *VVFError {
	return &VVFError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewDatabaseError(operation string, cause error) *VVFError {
	return &VVFError{
		Code:       CodeDatabase,
		Message:    "Database operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Context:    map[string]interface{}{"operation": operation},
		Cause:      cause,
	}
}

// CodeOf returns the code of the first VVFError in err's chain, or "".
func CodeOf(err error) string {
	var e *VVFError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ExtensionIDOf returns the extension id carried by err, or "".
func ExtensionIDOf(err error) string {
	var e *VVFError
	if stderrors.As(err, &e) {
		return e.ExtensionID
	}
	return ""
}

// IsParse, IsLoad and IsScan classify errors by taxonomy.
func IsParse(err error) bool { return CodeOf(err) == CodeParse }
func IsLoad(err error) bool  { return CodeOf(err) == CodeLoad }
func IsScan(err error) bool  { return CodeOf(err) == CodeScan }

// HTTP helpers to eliminate duplicate error handling

// HandleValidationError sends a validation error response
func HandleValidationError(c *gin.Context, message string, field string) {
	NewValidationError(message, field).ToGinResponse(c)
}

// HandleNotFound sends a not found error response
func HandleNotFound(c *gin.Context, resource string, id string) {
	NewNotFoundError(resource, id).ToGinResponse(c)
}

// HandleInternalError sends an internal server error response
func HandleInternalError(c *gin.Context, message string, err error) {
	NewInternalError(message, err).ToGinResponse(c)
}

// HandleDatabaseError sends a database error response
func HandleDatabaseError(c *gin.Context, operation string, err error) {
	NewDatabaseError(operation, err).ToGinResponse(c)
}
