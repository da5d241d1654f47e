package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/core"
	"github.com/clawpulse/syncrelay/internal/core/engine"
	"github.com/clawpulse/syncrelay/internal/metrics"
	"github.com/clawpulse/syncrelay/internal/observability"
	"github.com/clawpulse/syncrelay/internal/server/middleware"
)

// Error codes returned in envelopes.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeStorageFailure     = "STORAGE_FAILURE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
)

// Error creation helpers for common error types

// User Errors (400-level)
func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewForbiddenError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeForbidden, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewPayloadTooLargeError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodePayloadTooLarge, message)
}

func NewRateLimitedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeRateLimited, message)
}

// Server Errors (500-level)
func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

func NewStorageError(message string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeStorageFailure, message)
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

// Wrap functions for existing errors
// These functions accept a context to extract correlation/trace IDs from the request context

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapStorage(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := wrap(ctx, CodeStorageFailure, err, message)
	envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
	return envelope
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeExternalService, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = envelope.WithTraceID(extractTraceID(ctx))
	envelope = withWrappedError(envelope, err)
	return envelope
}

// FromRelayError maps a relay outcome to the envelope returned to clients.
//
// Messages are fixed strings; the underlying error only reaches the logs, so
// storage details and token material never leave the process. A request
// whose context ended is reported as unavailable, whichever layer noticed.
func FromRelayError(ctx context.Context, err error, maxPayloadBytes int64) *errors.ErrorEnvelope {
	var envelope *errors.ErrorEnvelope

	var limited *engine.RateLimitError
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		envelope = NewServiceUnavailableError("Request ended before it could be completed")
		envelope, _ = envelope.WithSeverity(errors.SeverityLow)
	case stderrors.As(err, &limited):
		envelope = NewRateLimitedError("Rate limit exceeded. Try again later.")
		envelope = envelope.WithDetails(map[string]interface{}{
			"class":               string(limited.Class),
			"limit":               limited.Decision.Limit,
			"retry_after_seconds": RetryAfterSeconds(limited.Decision.RetryAfter.Seconds()),
		})
	case stderrors.Is(err, core.ErrRateLimited):
		envelope = NewRateLimitedError("Rate limit exceeded. Try again later.")
	case stderrors.Is(err, core.ErrPayloadTooLarge):
		envelope = NewPayloadTooLargeError("Payload exceeds size limit")
		if maxPayloadBytes > 0 {
			envelope = envelope.WithDetails(map[string]interface{}{
				"max_payload_bytes": maxPayloadBytes,
			})
		}
	case stderrors.Is(err, core.ErrNotFound):
		envelope = NewNotFoundError("No data found for this token (may have expired or never been uploaded)")
	case stderrors.Is(err, core.ErrInvalidInput):
		envelope = NewInvalidInputError(invalidInputMessage(err))
	case stderrors.Is(err, core.ErrTokenRejected):
		envelope = NewForbiddenError("Platform token rejected")
	case stderrors.Is(err, core.ErrStorage):
		envelope = NewStorageError("Storage is temporarily unavailable")
	default:
		envelope = NewInternalError("unexpected error")
		envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
	}

	envelope.Original = err
	return envelope.WithCorrelationID(extractCorrelationID(ctx))
}

// invalidInputMessage keeps the relay's validation text, which never
// contains the token.
func invalidInputMessage(err error) string {
	msg := err.Error()
	prefix := core.ErrInvalidInput.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return "Invalid request"
}

// RetryAfterSeconds rounds a wait up to whole seconds, minimum one.
func RetryAfterSeconds(seconds float64) int {
	wait := int(math.Ceil(seconds))
	if wait < 1 {
		return 1
	}
	return wait
}

// Helper functions for ID generation

// extractCorrelationID gets correlation ID from context, falls back to generating new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	// Fallback: generate new UUID when context is nil or has no request ID
	return uuid.New().String()
}

// extractTraceID gets trace ID from context; the correlation ID doubles as
// trace ID until a tracing system is wired in.
func extractTraceID(ctx context.Context) string {
	return extractCorrelationID(ctx)
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	if envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}

	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs API-safe details map from envelope details.
// Envelope context is diagnostic and stays in the logs.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil || len(envelope.Details) == 0 {
		return nil
	}

	details := make(map[string]interface{}, len(envelope.Details))
	for key, value := range envelope.Details {
		details[key] = value
	}
	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
// Detail repeats the message at the top level for legacy relay clients.
type HTTPErrorResponse struct {
	Error  HTTPErrorDetail `json:"error"`
	Detail string          `json:"detail,omitempty"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}
	if envelope == nil {
		envelope = EnsureEnvelope(nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
		Detail: envelope.Message,
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	if statusCode == http.StatusTooManyRequests {
		if wait, ok := retryAfterValue(envelope.Details["retry_after_seconds"]); ok {
			w.Header().Set("Retry-After", strconv.Itoa(wait))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func retryAfterValue(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return RetryAfterSeconds(v), true
	default:
		return 0, false
	}
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}

	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	if originalErr, ok := envelope.Original.(error); ok && originalErr != nil {
		fields = append(fields, zap.String("cause", originalErr.Error()))
	}

	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(endpointLabel(r), envelope.Code)
	}
}

// endpointLabel prefers the chi route pattern so path parameters (tokens)
// never become metric labels.
func endpointLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "/unknown"
}
