package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/eventpass/server/internal/apperr"
	"github.com/eventpass/server/internal/auth"
	"github.com/eventpass/server/internal/checkin"
	"github.com/eventpass/server/internal/middleware"
	"github.com/eventpass/server/internal/ratelimit"
)

// errorResponse is the JSON body of every mapped error
type errorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
	Reasons []apperr.Reason   `json:"reasons,omitempty"`
}

// toAppErr maps domain errors onto the response taxonomy
func toAppErr(err error) *apperr.Error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apperr.New(apperr.Auth, "invalid email or password")
	case errors.Is(err, auth.ErrInvalidSession), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrWrongTokenKind):
		return apperr.New(apperr.Auth, "session expired, please sign in again")
	case errors.Is(err, auth.ErrAccountLocked):
		return apperr.New(apperr.AccountLocked, "account locked: the temporary password was used too many times, contact an administrator")
	case errors.Is(err, auth.ErrAccountSuspended):
		return apperr.New(apperr.AccountLocked, "account suspended, contact an administrator")
	case errors.Is(err, auth.ErrEmailTaken):
		return apperr.New(apperr.Conflict, "email already registered")
	case errors.Is(err, checkin.ErrUnknownShortCode):
		return apperr.New(apperr.NotFound, "unknown event code")
	case errors.Is(err, checkin.ErrNoActiveQR):
		return apperr.New(apperr.NotFound, "the event has no active QR code")
	}
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		return apperr.Wrap(apperr.RateLimited, "Too many attempts, please try again later", err)
	}
	return apperr.From(err)
}

// respondWithAppError writes err using its mapped status; internal details are only logged
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae := toAppErr(err)
	var exceeded *ratelimit.ExceededError
	if ae.Kind == apperr.RateLimited && errors.As(ae, &exceeded) {
		middleware.WriteRateLimited(w, exceeded.Result, ae.Message)
		return
	}
	if ae.Kind == apperr.Internal {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	respondJSON(w, ae.HTTPStatus(), errorResponse{
		Success: false,
		Error:   ae.Message,
		Code:    ae.Kind.String(),
		Fields:  ae.Fields,
		Reasons: ae.Reasons,
	})
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dst)
}
