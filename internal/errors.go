package internal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrInvalidRequest ErrorType = iota
	ErrCredentialMissing
	ErrCredentialMalformed
	ErrRemoteProtocol
	ErrRemoteDataMissing
	ErrTransport
	ErrPollTimeout
	ErrPartialSuccess
	ErrCatalog
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// PanError is a failure raised anywhere in the transfer engine
type PanError struct {
	Code       int                    `json:"errno"`
	Message    string                 `json:"errmsg"`
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	Provider   string                 `json:"provider,omitempty"`
	Step       string                 `json:"step,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`

	cause error
}

// Error implements the error interface
func (e *PanError) Error() string {
	var parts []string

	head := fmt.Sprintf("pan error (code: %d, type: %s)", e.Code, e.Type.String())
	if e.Provider != "" {
		head += " provider=" + e.Provider
	}
	if e.Step != "" {
		head += " step=" + e.Step
	}
	parts = append(parts, head)

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}

	return strings.Join(parts, " - ")
}

// Unwrap exposes the underlying cause
func (e *PanError) Unwrap() error {
	return e.cause
}

// DetailedError returns a detailed error message with all available information
func (e *PanError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("Provider: %s", e.Provider))
	}
	if e.Step != "" {
		parts = append(parts, fmt.Sprintf("Step: %s", e.Step))
	}
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}
	if e.cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidRequest:
		return "InvalidRequest"
	case ErrCredentialMissing:
		return "CredentialMissing"
	case ErrCredentialMalformed:
		return "CredentialMalformed"
	case ErrRemoteProtocol:
		return "RemoteProtocolError"
	case ErrRemoteDataMissing:
		return "RemoteDataMissing"
	case ErrTransport:
		return "TransportError"
	case ErrPollTimeout:
		return "PollTimeout"
	case ErrPartialSuccess:
		return "PartialSuccess"
	case ErrCatalog:
		return "CatalogError"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewPanError creates a new PanError with default severity and suggestion
func NewPanError(code int, message string, errorType ErrorType) *PanError {
	return &PanError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType),
		Context:    make(map[string]interface{}),
	}
}

// WrapPanError creates a PanError caused by err
func WrapPanError(err error, message string, errorType ErrorType) *PanError {
	e := NewPanError(0, message, errorType)
	e.cause = err
	return e
}

// AsPanError returns err as a PanError, wrapping foreign errors with fallback
func AsPanError(err error, fallback ErrorType) *PanError {
	if err == nil {
		return nil
	}
	var pe *PanError
	if errors.As(err, &pe) {
		return pe
	}
	return WrapPanError(err, "", fallback)
}

// IsType reports whether err is a PanError of type t
func IsType(err error, t ErrorType) bool {
	var pe *PanError
	if errors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}

// WithSuggestion adds a custom suggestion to the error
func (e *PanError) WithSuggestion(suggestion string) *PanError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *PanError) WithURL(url string) *PanError {
	e.URL = url
	return e
}

// WithProvider records the provider the failure originated from
func (e *PanError) WithProvider(provider string) *PanError {
	e.Provider = provider
	return e
}

// WithStep records the protocol step that failed
func (e *PanError) WithStep(step string) *PanError {
	e.Step = step
	return e
}

// WithSeverity overrides the default severity of the error type
func (e *PanError) WithSeverity(severity ErrorSeverity) *PanError {
	e.Severity = severity
	return e
}

// WithContext adds context information to the error
func (e *PanError) WithContext(key string, value interface{}) *PanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the error is retryable
func (e *PanError) IsRetryable() bool {
	switch e.Type {
	case ErrTransport:
		return true
	case ErrRemoteProtocol:
		return e.Code >= 500 || e.Code == 429
	default:
		return false
	}
}

// IsCritical returns true if the error is critical and should stop execution
func (e *PanError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func getDefaultSuggestion(errorType ErrorType) string {
	switch errorType {
	case ErrInvalidRequest:
		return "Check the share URL and object id supplied with the request"
	case ErrCredentialMissing:
		return "Store a session cookie with 'panshare cookie set <provider>' or set QUARK_PAN_COOKIE / BAIDU_PAN_COOKIE"
	case ErrCredentialMalformed:
		return "The stored cookie looks truncated; copy the full Cookie header from a logged-in browser session"
	case ErrRemoteProtocol:
		return "The provider rejected the request. The share may be expired, the passcode wrong, or the session expired"
	case ErrRemoteDataMissing:
		return "The provider answered without the expected data. Verify the share still contains files"
	case ErrTransport:
		return "Check your internet connection and try again. Consider using a proxy if needed"
	case ErrPollTimeout:
		return "The provider task did not finish in time. Check the account for a half-finished copy before retrying"
	case ErrPartialSuccess:
		return "The file was copied but could not be located; reconcile the catalog row manually"
	case ErrCatalog:
		return "Check the catalog database connection and schema"
	default:
		return "Please check the error details and try again"
	}
}

func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrTransport, ErrPartialSuccess:
		return SeverityWarning
	case ErrCatalog:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts sensitive information from URLs
func redactSensitiveURL(url string) string {
	if strings.Contains(url, "?") {
		parts := strings.Split(url, "?")
		return parts[0] + "?[REDACTED]"
	}
	return url
}

// NewCredentialMissingError creates an error for a provider without a stored cookie
func NewCredentialMissingError(provider string) *PanError {
	return NewPanError(401, "no session cookie configured", ErrCredentialMissing).
		WithProvider(provider).
		WithStep("credential")
}

// NewCredentialMalformedError creates an error for a cookie failing the length heuristic
func NewCredentialMalformedError(provider string, length, minLength int) *PanError {
	return NewPanError(401, fmt.Sprintf("session cookie too short (%d < %d)", length, minLength), ErrCredentialMalformed).
		WithProvider(provider).
		WithStep("credential")
}

// NewRemoteProtocolError creates an error for a non-success application code
func NewRemoteProtocolError(code int, message string) *PanError {
	return NewPanError(code, message, ErrRemoteProtocol)
}

// NewRemoteDataMissingError creates an error for a response lacking a required field
func NewRemoteDataMissingError(field string) *PanError {
	return NewPanError(0, fmt.Sprintf("response is missing %s", field), ErrRemoteDataMissing).
		WithContext("field", field)
}

// NewPollTimeoutError creates an error for a task that never reached a terminal status
func NewPollTimeoutError(taskID string, attempts int) *PanError {
	return NewPanError(408, fmt.Sprintf("task %s not finished after %d attempts", taskID, attempts), ErrPollTimeout).
		WithContext("task_id", taskID).
		WithContext("attempts", attempts)
}

// NewPartialSuccessError creates an error for a copy whose new identity is unknown
func NewPartialSuccessError(objectID string) *PanError {
	return NewPanError(0, "object copied but its new identity could not be located", ErrPartialSuccess).
		WithContext("object_id", objectID)
}
