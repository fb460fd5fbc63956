package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/eventpass/server/internal/auth"
	"github.com/eventpass/server/internal/checkin"
	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/qr"
	"github.com/eventpass/server/internal/ratelimit"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkInBase = "https://events.example.com"

type fixedLimiter ratelimit.Result

func (l fixedLimiter) Check(context.Context, string) ratelimit.Result { return ratelimit.Result(l) }

type tokenClaims map[string]*auth.Claims

func (c tokenClaims) Authenticate(token string) (*auth.Claims, error) {
	if claims, ok := c[token]; ok {
		return claims, nil
	}
	return nil, auth.ErrInvalidToken
}

type oneEvent struct {
	repo.EventRepo
	event model.Event
}

func (e oneEvent) GetByID(_ context.Context, id uuid.UUID) (model.Event, error) {
	if id != e.event.ID {
		return model.Event{}, repo.ErrNotFound
	}
	return e.event, nil
}

type stubAttendance struct {
	repo.AttendanceRepo
	exists bool
}

func (a stubAttendance) Exists(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return a.exists, nil
}

func (a stubAttendance) Create(_ context.Context, na repo.NewAttendance) (model.Attendance, error) {
	return model.Attendance{
		ID:        uuid.New(),
		EventID:   na.EventID,
		UserID:    na.UserID,
		CheckInAt: na.CheckInAt,
		Status:    model.VerificationPending,
	}, nil
}

type checkInCase struct {
	event      model.Event
	exists     bool
	limit      ratelimit.Result
	claims     *auth.Claims
	token      string
	payload    string
	wantStatus int
}

func openEvent() (model.Event, string) {
	id := uuid.New()
	payload := qr.Encode(id.String(), checkInBase, time.Now().Add(-time.Minute))
	return model.Event{
		ID:                 id,
		Title:              "Compilers lecture",
		StartAt:            time.Now().Add(10 * time.Minute),
		EndAt:              time.Now().Add(time.Hour),
		CheckInBufferMins:  30,
		CheckOutBufferMins: 15,
		Status:             model.EventActive,
		QRPayload:          &payload,
	}, payload
}

func allowed() ratelimit.Result {
	return ratelimit.Result{Allowed: true, Limit: 10, Remaining: 9, ResetAt: time.Now().Add(time.Minute)}
}

func student() *auth.Claims {
	return &auth.Claims{
		UserID:        uuid.New(),
		Email:         "student@example.com",
		Role:          model.RoleStudent,
		HasProfile:    true,
		AccountStatus: model.AccountActive,
		Type:          auth.KindAccess,
	}
}

func serveCheckIn(t *testing.T, c checkInCase) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	identity := tokenClaims{}
	if c.claims != nil {
		identity["good"] = c.claims
	}
	events := oneEvent{event: c.event}
	attendance := stubAttendance{exists: c.exists}
	validator := checkin.NewValidator(fixedLimiter(c.limit), identity, events, attendance, time.Now)
	h := NewCheckInHandler(checkin.NewService(validator, checkin.NewRecorder(attendance), events, checkInBase))

	body, err := json.Marshal(map[string]any{"payload": c.payload, "distanceM": 8.5})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/attendance/checkin", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4000"
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	h.HandleCheckIn(rec, req)

	require.Equal(t, c.wantStatus, rec.Code, rec.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func codesOf(body map[string]any) []string {
	var codes []string
	reasons, _ := body["reasons"].([]any)
	for _, r := range reasons {
		if m, ok := r.(map[string]any); ok {
			codes = append(codes, m["code"].(string))
		}
	}
	return codes
}

func TestHandleCheckIn_Admitted(t *testing.T) {
	event, payload := openEvent()
	_, body := serveCheckIn(t, checkInCase{
		event: event, limit: allowed(), claims: student(), token: "good", payload: payload,
		wantStatus: http.StatusCreated,
	})

	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["valid"])
	assert.Empty(t, codesOf(body))
	att := body["attendance"].(map[string]any)
	assert.Equal(t, event.ID.String(), att["eventId"])
	assert.Equal(t, "Pending", att["status"])
}

func TestHandleCheckIn_RejectionReportsEveryReason(t *testing.T) {
	event, payload := openEvent()
	event.Status = model.EventCancelled
	event.StartAt = time.Now().Add(-4 * time.Hour)
	event.EndAt = time.Now().Add(-3 * time.Hour)
	replaced := qr.Encode(event.ID.String(), checkInBase, time.Now())
	event.QRPayload = &replaced

	_, body := serveCheckIn(t, checkInCase{
		event: event, exists: true, limit: allowed(), claims: student(), token: "good", payload: payload,
		wantStatus: http.StatusUnprocessableEntity,
	})

	assert.Equal(t, false, body["success"])
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "admission_rejected", body["code"])
	assert.Equal(t, []string{
		checkin.CodeAlreadyCheckedIn,
		checkin.CodeEventCancelled,
		checkin.CodeWindowClosed,
		checkin.CodeStaleQR,
	}, codesOf(body))
	assert.NotNil(t, body["event"])
	assert.Nil(t, body["attendance"])
}

func TestHandleCheckIn_StatusPerStage(t *testing.T) {
	event, payload := openEvent()
	guest := student()
	guest.Role = model.Role("Guest")

	cases := []struct {
		name   string
		c      checkInCase
		code   string
		reason string
	}{
		{"no token", checkInCase{event: event, limit: allowed(), payload: payload, wantStatus: http.StatusUnauthorized},
			"auth_error", checkin.CodeUnauthenticated},
		{"unknown token", checkInCase{event: event, limit: allowed(), claims: student(), token: "forged", payload: payload, wantStatus: http.StatusUnauthorized},
			"auth_error", checkin.CodeUnauthenticated},
		{"role", checkInCase{event: event, limit: allowed(), claims: guest, token: "good", payload: payload, wantStatus: http.StatusForbidden},
			"forbidden", checkin.CodeRoleNotAllowed},
		{"bad payload", checkInCase{event: event, limit: allowed(), claims: student(), token: "good", payload: "hello", wantStatus: http.StatusUnprocessableEntity},
			"admission_rejected", checkin.CodeInvalidPayload},
		{"unknown event", checkInCase{event: event, limit: allowed(), claims: student(), token: "good",
			payload: qr.Encode(uuid.NewString(), checkInBase, time.Now()), wantStatus: http.StatusNotFound},
			"not_found", checkin.CodeEventNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, body := serveCheckIn(t, tc.c)
			assert.Equal(t, tc.code, body["code"])
			assert.Equal(t, []string{tc.reason}, codesOf(body))
		})
	}
}

func TestHandleCheckIn_RateLimited(t *testing.T) {
	event, payload := openEvent()
	limit := ratelimit.Result{Allowed: false, Limit: 10, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)}

	rec, body := serveCheckIn(t, checkInCase{
		event: event, limit: limit, claims: student(), token: "good", payload: payload,
		wantStatus: http.StatusTooManyRequests,
	})

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"success", "error", "retryAfter", "remaining"}, keys)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, float64(0), body["remaining"])
	assert.InDelta(t, 30, body["retryAfter"], 1)
	assert.Equal(t, strconv.Itoa(int(body["retryAfter"].(float64))), rec.Header().Get("Retry-After"))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}
