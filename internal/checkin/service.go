package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/eventpass/server/internal/apperr"
	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/qr"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
)

var (
	ErrUnknownShortCode = errors.New("unknown event code")
	ErrNoActiveQR       = errors.New("event has no active QR code")
)

// Outcome is the result of a check-in: the decision plus the stored row when admitted
type Outcome struct {
	Result     *Result
	Attendance *model.Attendance
}

// QRCode is a freshly generated event code
type QRCode struct {
	EventID   uuid.UUID
	Payload   string
	ShortCode string
}

// Service ties validation, recording and QR management together
type Service struct {
	validator *Validator
	recorder  *Recorder
	events    repo.EventRepo
	baseURL   string
	now       func() time.Time
}

// NewService creates a new check-in service; baseURL prefixes generated payloads
func NewService(validator *Validator, recorder *Recorder, events repo.EventRepo, baseURL string) *Service {
	return &Service{
		validator: validator,
		recorder:  recorder,
		events:    events,
		baseURL:   baseURL,
		now:       time.Now,
	}
}

// CheckIn validates req and records the attendance when admitted. Losing an insert race to a
// concurrent request for the same user and event turns into an already_checked_in rejection.
func (s *Service) CheckIn(ctx context.Context, req Request, loc Location) (*Outcome, error) {
	res, err := s.validator.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return &Outcome{Result: res}, nil
	}

	a, err := s.recorder.Record(ctx, res, loc)
	if err != nil {
		if errors.Is(err, ErrAlreadyCheckedIn) {
			res.Valid = false
			res.reject(CodeAlreadyCheckedIn, "you have already checked in to this event")
			return &Outcome{Result: res}, nil
		}
		return nil, err
	}
	log.Printf("checkin: user %s checked in to event %s", a.UserID, a.EventID)
	return &Outcome{Result: res, Attendance: &a}, nil
}

// ResolveShortCode finds the event for a manually entered code and returns it with its current
// payload, so manual entry goes through the same validation as a scan.
func (s *Service) ResolveShortCode(ctx context.Context, input string) (model.Event, string, error) {
	code := qr.CleanShortCode(input)
	if !qr.ValidShortCode(code) {
		return model.Event{}, "", ErrUnknownShortCode
	}
	event, err := s.events.GetByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Event{}, "", ErrUnknownShortCode
		}
		return model.Event{}, "", fmt.Errorf("load event by code: %w", err)
	}
	if event.QRPayload == nil {
		return model.Event{}, "", ErrNoActiveQR
	}
	return event, *event.QRPayload, nil
}

// RegenerateQR assigns a short code if the event has none, then stores a fresh payload, which
// makes every earlier payload stale.
func (s *Service) RegenerateQR(ctx context.Context, eventID uuid.UUID) (QRCode, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return QRCode{}, apperr.New(apperr.NotFound, "event not found")
		}
		return QRCode{}, fmt.Errorf("load event: %w", err)
	}
	if event.Status != model.EventActive {
		return QRCode{}, apperr.New(apperr.Conflict, "QR codes can only be generated for active events")
	}

	// the short code goes first so a failure leaves the current payload valid
	code := ""
	if event.ShortCode != nil {
		code = *event.ShortCode
	} else if code, err = s.assignShortCode(ctx, event.ID); err != nil {
		return QRCode{}, err
	}

	payload := qr.Encode(event.ID.String(), s.baseURL, s.now())
	if err := s.events.UpdateQRPayload(ctx, event.ID, payload); err != nil {
		return QRCode{}, fmt.Errorf("store qr payload: %w", err)
	}

	return QRCode{EventID: event.ID, Payload: payload, ShortCode: code}, nil
}

func (s *Service) assignShortCode(ctx context.Context, eventID uuid.UUID) (string, error) {
	// a concurrent assignment can take the code between the check and the update
	for i := 0; i < 2; i++ {
		code, err := qr.AssignShortCode(ctx, eventID.String(), s.events.ShortCodeExists)
		if err != nil {
			return "", fmt.Errorf("assign short code: %w", err)
		}
		err = s.events.SetShortCode(ctx, eventID, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return "", fmt.Errorf("store short code: %w", err)
		}
	}
	return "", fmt.Errorf("assign short code: %w", qr.ErrShortCodeExhausted)
}
