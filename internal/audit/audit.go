// Package audit records security-relevant outcomes to a write-only sink.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Type names a security-relevant outcome
type Type string

const (
	LoginSuccess       Type = "login_success"
	LoginFailure       Type = "login_failure"
	Logout             Type = "logout"
	Register           Type = "register"
	PasswordChange     Type = "password_change"
	AccountLocked      Type = "account_locked"
	TempPasswordIssued Type = "temp_password_issued"
)

// Event is one audit record as published to the sink
type Event struct {
	Type      Type       `json:"type"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	At        time.Time  `json:"at"`
}

// Sink delivers audit events somewhere durable
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Recorder writes events to a sink and never fails the caller
type Recorder struct {
	sink    Sink
	timeout time.Duration
}

// NewRecorder wraps sink; a nil sink logs events instead
func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = LogSink{}
	}
	return &Recorder{sink: sink, timeout: 3 * time.Second}
}

// Record publishes e. Sink failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.sink.Publish(ctx, e); err != nil {
		log.Printf("audit: failed to record %s event: %v", e.Type, err)
	}
}

// LogSink writes events to the process log
type LogSink struct{}

// Publish logs e
func (LogSink) Publish(_ context.Context, e Event) error {
	user := "-"
	if e.UserID != nil {
		user = e.UserID.String()
	}
	log.Printf("audit: %s user=%s email=%s ip=%s detail=%q", e.Type, user, MaskEmail(e.Email), e.IP, e.Detail)
	return nil
}

// MaskEmail masks the local part of an email for logging (e.g., jo***@example.com)
func MaskEmail(email string) string {
	at := -1
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			at = i
			break
		}
	}
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return "***" + domain
	}
	return local[:2] + "***" + domain
}
