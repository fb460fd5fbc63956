package handlers

import (
	"net/http"
	"time"

	"github.com/eventpass/server/internal/apperr"
	"github.com/eventpass/server/internal/checkin"
	"github.com/eventpass/server/internal/middleware"
	"github.com/eventpass/server/internal/qr"
	"github.com/eventpass/server/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CheckInHandler handles attendance and event QR endpoints
type CheckInHandler struct {
	service *checkin.Service
}

// NewCheckInHandler creates a new check-in handler
func NewCheckInHandler(service *checkin.Service) *CheckInHandler {
	return &CheckInHandler{service: service}
}

// checkInRequest is the request body for POST /attendance/checkin
type checkInRequest struct {
	Payload   string   `json:"payload"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	DistanceM *float64 `json:"distanceM"`
}

type eventWindowResponse struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	OpensAt  time.Time `json:"opensAt"`
	ClosesAt time.Time `json:"closesAt"`
}

type attendanceResponse struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	CheckInAt time.Time `json:"checkInAt"`
	Status    string    `json:"status"`
}

type checkInResponse struct {
	Success    bool                 `json:"success"`
	Valid      bool                 `json:"valid"`
	Error      string               `json:"error,omitempty"`
	Code       string               `json:"code,omitempty"`
	Reasons    []apperr.Reason      `json:"reasons,omitempty"`
	Event      *eventWindowResponse `json:"event,omitempty"`
	Attendance *attendanceResponse  `json:"attendance,omitempty"`
}

// HandleCheckIn handles POST /attendance/checkin. Identity comes from the access token inside
// the validator so the rate limit is counted before any token work.
func (h *CheckInHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, _ := middleware.AccessToken(r)

	out, err := h.service.CheckIn(r.Context(), checkin.Request{
		ClientKey:   middleware.ClientIP(r),
		AccessToken: token,
		Payload:     req.Payload,
	}, checkin.Location{Lat: req.Lat, Lng: req.Lng, DistanceM: req.DistanceM})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	res := out.Result
	middleware.SetRateLimitHeaders(w, res.RateLimit)
	if res.Has(checkin.CodeRateLimited) {
		respondWithAppError(w, r, &ratelimit.ExceededError{Result: res.RateLimit})
		return
	}

	body := checkInResponse{Success: res.Valid, Valid: res.Valid, Reasons: res.Reasons}
	if res.Event != nil {
		body.Event = &eventWindowResponse{
			ID:       res.Event.ID.String(),
			Title:    res.Event.Title,
			Status:   string(res.Event.Status),
			OpensAt:  res.OpensAt,
			ClosesAt: res.ClosesAt,
		}
	}

	if !res.Valid {
		ae := rejection(res)
		body.Error = ae.Message
		body.Code = ae.Kind.String()
		body.Reasons = ae.Reasons
		respondJSON(w, ae.HTTPStatus(), body)
		return
	}

	a := out.Attendance
	body.Attendance = &attendanceResponse{
		ID:        a.ID.String(),
		EventID:   a.EventID.String(),
		CheckInAt: a.CheckInAt,
		Status:    string(a.Status),
	}
	respondJSON(w, http.StatusCreated, body)
}

// rejection maps the reasons onto an error kind; identity, role and lookup failures keep their
// own statuses, everything else is an admission rejection
func rejection(res *checkin.Result) *apperr.Error {
	ae := apperr.Rejected(res.Reasons)
	switch {
	case res.Has(checkin.CodeUnauthenticated):
		ae.Kind = apperr.Auth
	case res.Has(checkin.CodeRoleNotAllowed):
		ae.Kind = apperr.Forbidden
	case res.Has(checkin.CodeEventNotFound):
		ae.Kind = apperr.NotFound
	}
	return ae
}

// HandleResolveCode handles GET /attendance/code/{code}
func (h *CheckInHandler) HandleResolveCode(w http.ResponseWriter, r *http.Request) {
	event, payload, err := h.service.ResolveShortCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	shortCode := ""
	if event.ShortCode != nil {
		shortCode = qr.FormatShortCode(*event.ShortCode)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"eventId":   event.ID.String(),
		"title":     event.Title,
		"payload":   payload,
		"shortCode": shortCode,
	})
}

// HandleRegenerateQR handles POST /events/{id}/qr (moderators and administrators)
func (h *CheckInHandler) HandleRegenerateQR(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	code, err := h.service.RegenerateQR(r.Context(), eventID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"eventId":   code.EventID.String(),
		"payload":   code.Payload,
		"shortCode": qr.FormatShortCode(code.ShortCode),
	})
}
