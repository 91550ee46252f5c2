// Package audit records credential admin API mutations (SPEC_FULL.md
// §4.6): who stored or forgot which upstream hostname's token, and
// when. Logging is pluggable (slog, batched S3, or a no-op) so
// deployments without a separate audit sink still get structured log
// lines.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Event names for credential admin API audit entries.
const (
	EventCredentialStore  = "credential.store"
	EventCredentialForget = "credential.forget"
	EventCredentialGet    = "credential.get"
)

// Result values for an audit entry.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Event is a single audit log entry for a credential admin API call.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Event      string    `json:"event"`
	Result     string    `json:"result"`
	Hostname   string    `json:"hostname,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Logger records audit events. LogEvent runs inline in the admin API
// request: SlogLogger writes one log line, NoOpLogger returns at once,
// and S3Logger buffers the event and, when the buffer reaches its batch
// size, uploads the batch before returning.
type Logger interface {
	LogEvent(ctx context.Context, event *Event)
}

// SlogLogger logs each event as a single structured log line, failed
// results at error level and everything else at info level.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger builds a SlogLogger against the default slog logger.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{logger: slog.Default()}
}

func (l *SlogLogger) LogEvent(ctx context.Context, event *Event) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal audit event", slog.String("err", err.Error()))
		return
	}
	if event.Result == ResultFailed {
		l.logger.Error("audit event", slog.String("audit_data", string(eventJSON)))
	} else {
		l.logger.Info("audit event", slog.String("audit_data", string(eventJSON)))
	}
}

// NoOpLogger discards every event; used when audit logging is disabled.
type NoOpLogger struct{}

func (NoOpLogger) LogEvent(ctx context.Context, event *Event) {}

// ExtractRequestInfo pulls the source IP, user agent and request id off
// an admin API request, preferring forwarded headers over RemoteAddr.
func ExtractRequestInfo(r *http.Request) (sourceIP, userAgent, requestID string) {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		sourceIP = forwarded
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		sourceIP = realIP
	} else {
		sourceIP = r.RemoteAddr
	}

	userAgent = r.Header.Get("User-Agent")

	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		requestID = reqID
	} else if reqID := r.Header.Get("X-Correlation-ID"); reqID != "" {
		requestID = reqID
	}
	return sourceIP, userAgent, requestID
}

// LogCredentialMutation records a store, forget or get call against
// hostname. A non-nil err marks the event failed and carries the
// error's message.
func LogCredentialMutation(ctx context.Context, logger Logger, event, hostname, sourceIP, userAgent, requestID string, err error, duration time.Duration) {
	e := &Event{
		Timestamp:  time.Now(),
		Level:      "INFO",
		Event:      event,
		Result:     ResultSuccess,
		Hostname:   hostname,
		SourceIP:   sourceIP,
		UserAgent:  userAgent,
		RequestID:  requestID,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		e.Level = "ERROR"
		e.Result = ResultFailed
		e.Error = err.Error()
	}
	logger.LogEvent(ctx, e)
}
