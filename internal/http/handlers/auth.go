package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/eventpass/server/internal/audit"
	"github.com/eventpass/server/internal/auth"
	"github.com/eventpass/server/internal/middleware"
	"github.com/eventpass/server/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	cookies     CookieConfig
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{authService: authService, cookies: cookies}
}

// userResponse is the user object in API responses
type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	HasProfile    bool   `json:"hasProfile"`
	AccountStatus string `json:"accountStatus"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Name:          u.Name,
		Role:          string(u.Role),
		HasProfile:    u.HasProfile,
		AccountStatus: string(u.AccountStatus),
	}
}

// registerRequest is the request body for POST /auth/register
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned by register, login and password change
type sessionResponse struct {
	Success            bool         `json:"success"`
	User               userResponse `json:"user"`
	AccessToken        string       `json:"accessToken"`
	RefreshToken       string       `json:"refreshToken"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	MustChangePassword bool         `json:"mustChangePassword,omitempty"`
	FinalWarning       bool         `json:"finalWarning,omitempty"`
	TempPasswordUses   int          `json:"tempPasswordUses,omitempty"`
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, user model.User, issued *auth.IssuedSession) sessionResponse {
	h.cookies.setAccess(w, issued.AccessToken, issued.AccessExpiresAt)
	h.cookies.setRefresh(w, issued.RefreshToken, issued.RefreshExpiresAt)
	return sessionResponse{
		Success:      true,
		User:         toUserResponse(user),
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		ExpiresAt:    issued.AccessExpiresAt,
	}
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, clientMeta(r))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, h.writeSession(w, res.User, res.IssuedSession))
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.authService.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		log.Printf("Login failed for %s: %v", audit.MaskEmail(req.Email), err)
		respondWithAppError(w, r, err)
		return
	}

	body := h.writeSession(w, res.User, res.IssuedSession)
	body.MustChangePassword = res.MustChangePassword
	body.FinalWarning = res.FinalWarning
	body.TempPasswordUses = res.TempUsage
	respondJSON(w, http.StatusOK, body)
}

// refreshRequest is the optional request body for POST /auth/refresh and /auth/logout;
// the refresh cookie takes precedence
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) refreshToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(req.RefreshToken), nil
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshToken(w, r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if token == "" {
		h.cookies.clear(w)
		respondWithError(w, http.StatusUnauthorized, "refresh token is required")
		return
	}

	accessToken, err := h.authService.Sessions().Refresh(r.Context(), token)
	if err != nil {
		h.cookies.clear(w)
		respondWithAppError(w, r, err)
		return
	}

	expiresAt := time.Now().Add(h.authService.Sessions().AccessTTL())
	h.cookies.setAccess(w, accessToken, expiresAt)
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"accessToken": accessToken,
		"expiresAt":   expiresAt,
	})
}

// HandleLogout handles POST /auth/logout. It succeeds whether or not the session exists.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshToken(w, r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.authService.Logout(r.Context(), token, clientMeta(r)); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	h.cookies.clear(w)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "logged out"})
}

// HandleSession handles GET /auth/session: the current user or 401
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "private, max-age=30")

	token, ok := middleware.AccessToken(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	claims, err := h.authService.Sessions().Authenticate(token)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.authService.Me(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) || errors.Is(err, auth.ErrAccountSuspended) {
			respondWithError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		respondWithAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user":      toUserResponse(user),
		"expiresAt": claims.ExpiresAt.Time,
	})
}

// changePasswordRequest is the request body for POST /auth/password
type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// HandleChangePassword handles POST /auth/password (protected)
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	issued, err := h.authService.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword, clientMeta(r))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.writeSession(w, *user, issued))
}

// profileRequest is the request body for POST /auth/profile
type profileRequest struct {
	Name string `json:"name"`
}

// HandleCompleteProfile handles POST /auth/profile (protected)
func (h *AuthHandler) HandleCompleteProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, accessToken, err := h.authService.CompleteProfile(r.Context(), userID, req.Name)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	expiresAt := time.Now().Add(h.authService.Sessions().AccessTTL())
	h.cookies.setAccess(w, accessToken, expiresAt)
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"user":        toUserResponse(user),
		"accessToken": accessToken,
		"expiresAt":   expiresAt,
	})
}

// HandleIssueTempPassword handles POST /admin/users/{id}/temp-password (administrators only)
func (h *AuthHandler) HandleIssueTempPassword(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	plain, err := h.authService.IssueTemporaryPassword(r.Context(), adminID, userID, clientMeta(r))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"temporaryPassword": plain,
		"maxUses":           auth.TempPasswordThreshold,
	})
}
