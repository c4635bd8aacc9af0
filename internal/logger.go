package internal

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// SecureLogger provides secure logging with sensitive data redaction
type SecureLogger struct {
	zl        zerolog.Logger
	level     LogLevel
	debug     bool
	quiet     bool
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// CookieRedactor redacts session cookie values of both providers
type CookieRedactor struct{}

var cookiePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:BDUSS|BDUSS_BFESS|STOKEN|BDCLND|PANPSC|__pus|__puus|__kp|__kps|__ktd|__uid)=)[^;\s&]+`),
	regexp.MustCompile(`(?i)((?:Set-)?Cookie:\s*)[^\r\n]+`),
	regexp.MustCompile(`(?i)((?:Authorization:\s*)?Bearer\s+)\S+`),
}

func (r *CookieRedactor) Redact(input string) string {
	result := input
	for _, re := range cookiePatterns {
		result = re.ReplaceAllString(result, "${1}[REDACTED]")
	}
	return result
}

// URLRedactor redacts sensitive URL parameters, including share passcodes
type URLRedactor struct{}

var sensitiveParamPattern = regexp.MustCompile(`(?i)((?:access_token|bdstoken|stoken|token|key|secret|password|pwd)=)[^&\s"]+`)

func (r *URLRedactor) Redact(input string) string {
	return sensitiveParamPattern.ReplaceAllString(input, "${1}[REDACTED]")
}

// NewSecureLogger creates a new secure logger writing in the given format
func NewSecureLogger(output io.Writer, format string, level LogLevel, debug, quiet bool) *SecureLogger {
	var zl zerolog.Logger
	if strings.EqualFold(format, LogFormatJSON) {
		zl = zerolog.New(output)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			NoColor:    true,
			TimeFormat: "2006-01-02 15:04:05",
		})
	}
	zl = zl.Level(zerolog.TraceLevel).With().Timestamp().Logger()

	return &SecureLogger{
		zl:    zl,
		level: level,
		debug: debug,
		quiet: quiet,
		redactors: []Redactor{
			&CookieRedactor{},
			&URLRedactor{},
		},
	}
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	level := LogLevelInfo
	if debug {
		level = LogLevelDebug
	}
	if quiet {
		level = LogLevelError
	}

	return NewSecureLogger(os.Stderr, LogFormatConsole, level, debug, quiet)
}

// WithFields returns a child logger carrying the given structured fields.
// String values pass through the redactors.
func (sl *SecureLogger) WithFields(fields map[string]interface{}) *SecureLogger {
	zc := sl.zl.With()
	for k, v := range fields {
		if s, ok := v.(string); ok {
			zc = zc.Str(k, sl.redactSensitiveData(s))
			continue
		}
		zc = zc.Interface(k, v)
	}

	child := *sl
	child.zl = zc.Logger()
	child.redactors = append([]Redactor(nil), sl.redactors...)
	return &child
}

// redactSensitiveData applies all redactors to the input string
func (sl *SecureLogger) redactSensitiveData(input string) string {
	result := input
	for _, redactor := range sl.redactors {
		result = redactor.Redact(result)
	}
	return result
}

// caller finds the first frame outside the logging files
func caller() (string, bool) {
	for depth := 3; depth <= 6; depth++ {
		_, file, line, ok := runtime.Caller(depth)
		if ok && !strings.HasSuffix(file, "logger.go") && !strings.HasSuffix(file, "log.go") {
			parts := strings.Split(file, "/")
			return fmt.Sprintf("%s:%d", parts[len(parts)-1], line), true
		}
	}
	return "", false
}

// shouldLog determines if a message should be logged based on level
func (sl *SecureLogger) shouldLog(level LogLevel) bool {
	if sl.quiet && level > LogLevelError {
		return false
	}
	return level <= sl.level
}

func (sl *SecureLogger) emit(level LogLevel, format string, args ...interface{}) {
	if !sl.shouldLog(level) {
		return
	}

	var event *zerolog.Event
	switch level {
	case LogLevelError:
		event = sl.zl.Error()
	case LogLevelWarn:
		event = sl.zl.Warn()
	case LogLevelInfo:
		event = sl.zl.Info()
	default:
		event = sl.zl.Debug()
	}

	if sl.debug {
		if c, ok := caller(); ok {
			event = event.Str("caller", c)
		}
	}

	event.Msg(sl.redactSensitiveData(fmt.Sprintf(format, args...)))
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.emit(LogLevelError, format, args...)
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.emit(LogLevelWarn, format, args...)
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.emit(LogLevelInfo, format, args...)
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.emit(LogLevelDebug, format, args...)
}

// LogHTTPRequest logs an HTTP request with sensitive data redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, sl.redactSensitiveData(req.URL.String()), sl.sanitizeHeaders(req.Header))
}

// LogHTTPResponse logs an HTTP response with sensitive data redacted
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Response: %d %s Headers: %v", resp.StatusCode, resp.Status, sl.sanitizeHeaders(resp.Header))
}

func (sl *SecureLogger) sanitizeHeaders(h http.Header) map[string]string {
	sanitized := make(map[string]string, len(h))
	for name, values := range h {
		if sl.isSensitiveHeader(name) {
			sanitized[name] = "[REDACTED]"
		} else {
			sanitized[name] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

// isSensitiveHeader checks if a header contains sensitive information
func (sl *SecureLogger) isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"set-cookie",
		"x-auth-token",
		"x-api-key",
		"bearer",
		"token",
	}

	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}
