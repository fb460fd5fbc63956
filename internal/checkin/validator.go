// Package checkin decides whether a scanned QR payload admits a user to an event and records
// admitted check-ins.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventpass/server/internal/apperr"
	"github.com/eventpass/server/internal/auth"
	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/qr"
	"github.com/eventpass/server/internal/ratelimit"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
)

// Rejection codes
const (
	CodeRateLimited       = "rate_limited"
	CodeUnauthenticated   = "unauthenticated"
	CodeRoleNotAllowed    = "role_not_allowed"
	CodeInvalidPayload    = "invalid_payload"
	CodeEventNotFound     = "event_not_found"
	CodeProfileIncomplete = "profile_incomplete"
	CodeAlreadyCheckedIn  = "already_checked_in"
	CodeEventCancelled    = "event_cancelled"
	CodeEventCompleted    = "event_completed"
	CodeWindowNotOpen     = "window_not_open"
	CodeWindowClosed      = "window_closed"
	CodeStaleQR           = "stale_qr"
)

const timeLayout = "2006-01-02 15:04 MST"

// Identifier resolves an access token to its claims
type Identifier interface {
	Authenticate(token string) (*auth.Claims, error)
}

// Request is a single check-in attempt
type Request struct {
	// ClientKey identifies the caller for rate limiting, usually the client IP
	ClientKey   string
	AccessToken string
	Payload     string
}

// Result is the admission decision. Valid is true only when Reasons is empty.
type Result struct {
	Valid     bool
	Reasons   []apperr.Reason
	Event     *model.Event
	Claims    *auth.Claims
	Decoded   qr.Decoded
	RateLimit ratelimit.Result
	OpensAt   time.Time
	ClosesAt  time.Time
}

// Has reports whether the result carries a reason with the given code
func (r *Result) Has(code string) bool {
	for _, reason := range r.Reasons {
		if reason.Code == code {
			return true
		}
	}
	return false
}

// Codes lists the reason codes in the order they were added
func (r *Result) Codes() []string {
	codes := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		codes = append(codes, reason.Code)
	}
	return codes
}

func (r *Result) reject(code, message string) {
	r.Reasons = append(r.Reasons, apperr.Reason{Code: code, Message: message})
}

var allowedRoles = map[model.Role]bool{
	model.RoleStudent:       true,
	model.RoleModerator:     true,
	model.RoleAdministrator: true,
}

// Validator runs the read-only admission checks. It never writes attendance.
type Validator struct {
	limiter    ratelimit.Limiter
	identity   Identifier
	events     repo.EventRepo
	attendance repo.AttendanceRepo
	now        func() time.Time
}

// NewValidator creates a validator; a nil now uses time.Now
func NewValidator(
	limiter ratelimit.Limiter,
	identity Identifier,
	events repo.EventRepo,
	attendance repo.AttendanceRepo,
	now func() time.Time,
) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		limiter:    limiter,
		identity:   identity,
		events:     events,
		attendance: attendance,
		now:        now,
	}
}

// Validate decides whether req is admitted. Rate limiting, identity, payload decoding, event
// lookup and the profile check stop at the first failure; the duplicate, status, window and
// freshness checks all run and every failure is reported. A non-nil error means a store failure,
// not a rejection.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}

	res.RateLimit = v.limiter.Check(ctx, req.ClientKey)
	if !res.RateLimit.Allowed {
		res.reject(CodeRateLimited, "too many check-in attempts, try again later")
		return res, nil
	}

	if req.AccessToken == "" {
		res.reject(CodeUnauthenticated, "sign in to check in")
		return res, nil
	}
	claims, err := v.identity.Authenticate(req.AccessToken)
	if err != nil {
		res.reject(CodeUnauthenticated, "your session has expired, sign in again")
		return res, nil
	}
	if claims.AccountStatus == model.AccountSuspended {
		res.reject(CodeUnauthenticated, "your account is suspended")
		return res, nil
	}
	res.Claims = claims
	if !allowedRoles[claims.Role] {
		res.reject(CodeRoleNotAllowed, "your role cannot check in to events")
		return res, nil
	}

	payload := strings.TrimSpace(req.Payload)
	res.Decoded = qr.Decode(payload)
	if !res.Decoded.OK() {
		res.reject(CodeInvalidPayload, "this QR code is not an event check-in code")
		return res, nil
	}
	eventID, err := uuid.Parse(res.Decoded.EventID)
	if err != nil {
		res.reject(CodeInvalidPayload, "this QR code is not an event check-in code")
		return res, nil
	}

	event, err := v.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			res.reject(CodeEventNotFound, "event not found")
			return res, nil
		}
		return nil, fmt.Errorf("load event: %w", err)
	}
	res.Event = &event
	res.OpensAt = event.OpensAt()
	res.ClosesAt = event.ClosesAt()

	if !claims.HasProfile {
		res.reject(CodeProfileIncomplete, "complete your profile before checking in")
		return res, nil
	}

	exists, err := v.attendance.Exists(ctx, event.ID, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("check attendance: %w", err)
	}
	if exists {
		res.reject(CodeAlreadyCheckedIn, "you have already checked in to this event")
	}

	switch event.Status {
	case model.EventCancelled:
		res.reject(CodeEventCancelled, "this event has been cancelled")
	case model.EventCompleted:
		res.reject(CodeEventCompleted, "this event has already been completed")
	}

	now := v.now()
	switch {
	case now.Before(res.OpensAt):
		res.reject(CodeWindowNotOpen, "check-in opens at "+res.OpensAt.UTC().Format(timeLayout))
	case now.After(res.ClosesAt):
		res.reject(CodeWindowClosed, "check-in closed at "+res.ClosesAt.UTC().Format(timeLayout))
	}

	if event.QRPayload != nil && strings.TrimSpace(*event.QRPayload) != payload {
		res.reject(CodeStaleQR, "this QR code has been replaced, scan the current one")
	}

	res.Valid = len(res.Reasons) == 0
	return res, nil
}
