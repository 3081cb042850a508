// Package errors maps application errors onto the HTTP error envelope.
//
// Import as apperrors to avoid shadowing the standard library package.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/observability"
	"github.com/phoenix-pocx/phoenixd/pkg/history"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

// Error codes used in HTTP responses.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeResumeFailed       = "RESUME_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrNotFound marks a missing resource.
var ErrNotFound = errors.New("not found")

// HTTPErrorResponse is the JSON error envelope.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the body of HTTPErrorResponse.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// AppError carries an explicit HTTP status and code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// NewBadRequest reports a malformed request.
func NewBadRequest(msg string, err error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: msg, Err: err}
}

// NewNotFound reports a missing resource.
func NewNotFound(msg string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: msg, Err: ErrNotFound}
}

// NewExternalServiceError reports an unavailable dependency.
func NewExternalServiceError(service string, err error) *AppError {
	return &AppError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeServiceUnavailable,
		Message: service + " unavailable",
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// WrapInternal wraps err as an internal error and logs it with the request id.
func WrapInternal(ctx context.Context, err error, msg string) *AppError {
	if logger := observability.CLILogger; logger != nil {
		logger.Error(msg, zap.Error(err), zap.String("request_id", RequestIDFromContext(ctx)))
	}
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: msg, Err: err}
}

// Classify returns the status, code and details for err.
func Classify(err error) (int, string, map[string]any) {
	var app *AppError
	if errors.As(err, &app) {
		return app.Status, app.Code, app.Details
	}

	var verrs plan.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]map[string]string, 0, len(verrs))
		for _, v := range verrs {
			fields = append(fields, map[string]string{"path": v.Path, "message": v.Message})
		}
		return http.StatusBadRequest, CodeValidation, map[string]any{"errors": fields}
	}

	var re *plotter.ResumeError
	if errors.As(err, &re) {
		return http.StatusUnprocessableEntity, CodeResumeFailed, map[string]any{"path": re.Path}
	}

	switch {
	case plotter.IsRejection(err):
		return http.StatusConflict, CodeConflict, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, nil
	case errors.Is(err, plan.ErrValidationFailed):
		return http.StatusBadRequest, CodeValidation, nil
	}
	return http.StatusInternalServerError, CodeInternal, nil
}

// RespondWithError writes err as an HTTPErrorResponse.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := Classify(err)
	msg := err.Error()
	var app *AppError
	if errors.As(err, &app) {
		msg = app.Message
	}
	WriteError(w, r, status, code, msg, details)
}

// WriteError writes an explicit error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details map[string]any) {
	resp := HTTPErrorResponse{Error: HTTPError{
		Code:    code,
		Message: msg,
		Details: details,
	}}
	if r != nil {
		resp.Error.RequestID = RequestIDFromContext(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
