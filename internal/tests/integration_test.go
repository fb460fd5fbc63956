package tests

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eventpass/server/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

func skipWithoutDB(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
}

func register(t *testing.T, ts *testServer, email, name string) response {
	t.Helper()
	res := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": testPassword, "name": name})
	require.Equal(t, http.StatusCreated, res.Status, res.Raw)
	return res
}

func login(t *testing.T, ts *testServer, email, password string) response {
	t.Helper()
	return ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
}

func TestAuthIntegration(t *testing.T) {
	skipWithoutDB(t)
	ts := newTestServer(t)

	t.Run("A_Health", func(t *testing.T) {
		res := ts.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, true, res.Body["ok"])

		res = ts.do(t, http.MethodGet, "/ready", "", nil)
		assert.Equal(t, http.StatusOK, res.Status)
	})

	t.Run("B_RegisterSessionRefreshLogout", func(t *testing.T) {
		ts.Reset(t)
		reg := register(t, ts, "Ada@Example.com", "Ada")
		access := str(t, reg.Body, "accessToken")
		refresh := str(t, reg.Body, "refreshToken")

		cookies := (&http.Response{Header: reg.Header}).Cookies()
		require.Len(t, cookies, 2)
		for _, c := range cookies {
			assert.True(t, c.HttpOnly)
			assert.Equal(t, "/", c.Path)
			assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		}

		sess := ts.do(t, http.MethodGet, "/auth/session", access, nil)
		require.Equal(t, http.StatusOK, sess.Status, sess.Raw)
		assert.Equal(t, "private, max-age=30", sess.Header.Get("Cache-Control"))
		user := sess.Body["user"].(map[string]any)
		assert.Equal(t, "ada@example.com", user["email"])
		assert.Equal(t, "Student", user["role"])

		// a refresh token is not accepted where an access token is required
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/auth/session", refresh, nil).Status)
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/auth/session", "", nil).Status)

		ref := ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
		require.Equal(t, http.StatusOK, ref.Status, ref.Raw)
		assert.NotEmpty(t, str(t, ref.Body, "accessToken"))

		// an access token is not accepted as a refresh token
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": access}).Status)

		out := ts.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"refreshToken": refresh})
		require.Equal(t, http.StatusOK, out.Status, out.Raw)
		again := ts.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"refreshToken": refresh})
		assert.Equal(t, http.StatusOK, again.Status, "logout is idempotent")

		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh}).Status)

		dup := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "ada@example.com", "password": testPassword})
		assert.Equal(t, http.StatusConflict, dup.Status)
	})

	t.Run("C_SingleSession", func(t *testing.T) {
		ts.Reset(t)
		register(t, ts, "bob@example.com", "Bob")
		first := login(t, ts, "bob@example.com", testPassword)
		require.Equal(t, http.StatusOK, first.Status, first.Raw)
		second := login(t, ts, "bob@example.com", testPassword)
		require.Equal(t, http.StatusOK, second.Status, second.Raw)

		stale := ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": str(t, first.Body, "refreshToken")})
		assert.Equal(t, http.StatusUnauthorized, stale.Status)
		live := ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": str(t, second.Body, "refreshToken")})
		assert.Equal(t, http.StatusOK, live.Status)

		var n int
		require.NoError(t, ts.DB.QueryRow(`SELECT count(*) FROM sessions s JOIN users u ON u.id = s.user_id
			WHERE u.email = 'bob@example.com' AND NOT s.revoked`).Scan(&n))
		assert.Equal(t, 1, n)
	})

	t.Run("D_TemporaryPasswordLockout", func(t *testing.T) {
		ts.Reset(t)
		ctx := context.Background()
		register(t, ts, "admin@example.com", "Admin")
		require.NoError(t, PromoteUser(ctx, ts.DB, "admin@example.com", "Administrator"))
		adminLogin := login(t, ts, "admin@example.com", testPassword)
		require.Equal(t, http.StatusOK, adminLogin.Status)
		adminToken := str(t, adminLogin.Body, "accessToken")

		student := register(t, ts, "carol@example.com", "Carol")
		studentID := str(t, student.Body["user"].(map[string]any), "id")

		denied := ts.do(t, http.MethodPost, "/admin/users/"+studentID+"/temp-password", str(t, student.Body, "accessToken"), nil)
		assert.Equal(t, http.StatusForbidden, denied.Status)

		issued := ts.do(t, http.MethodPost, "/admin/users/"+studentID+"/temp-password", adminToken, nil)
		require.Equal(t, http.StatusOK, issued.Status, issued.Raw)
		temp := str(t, issued.Body, "temporaryPassword")

		for i := 1; i <= 3; i++ {
			res := login(t, ts, "carol@example.com", temp)
			require.Equal(t, http.StatusOK, res.Status, "use %d: %s", i, res.Raw)
			assert.Equal(t, true, res.Body["mustChangePassword"])
			if i == 3 {
				assert.Equal(t, true, res.Body["finalWarning"])
			} else {
				assert.Nil(t, res.Body["finalWarning"])
			}
		}

		locked := login(t, ts, "carol@example.com", temp)
		assert.Equal(t, http.StatusForbidden, locked.Status)
		assert.Equal(t, "account_locked", locked.Body["code"])

		perm := login(t, ts, "carol@example.com", testPassword)
		assert.Equal(t, http.StatusForbidden, perm.Status, "suspended accounts cannot sign in at all")

		var status, reason string
		require.NoError(t, ts.DB.QueryRow(`SELECT account_status, suspend_reason FROM users WHERE email = 'carol@example.com'`).Scan(&status, &reason))
		assert.Equal(t, "SUSPENDED", status)
		assert.NotEmpty(t, reason)

		var logged int
		require.NoError(t, ts.DB.QueryRow(`SELECT count(*) FROM security_logs WHERE event_type = 'account_locked'`).Scan(&logged))
		assert.Equal(t, 1, logged)
	})

	t.Run("E_PasswordChangeClearsTemporaryCredential", func(t *testing.T) {
		ts.Reset(t)
		ctx := context.Background()
		register(t, ts, "admin@example.com", "Admin")
		require.NoError(t, PromoteUser(ctx, ts.DB, "admin@example.com", "Administrator"))
		adminToken := str(t, login(t, ts, "admin@example.com", testPassword).Body, "accessToken")

		student := register(t, ts, "dan@example.com", "Dan")
		studentID := str(t, student.Body["user"].(map[string]any), "id")
		temp := str(t, ts.do(t, http.MethodPost, "/admin/users/"+studentID+"/temp-password", adminToken, nil).Body, "temporaryPassword")

		res := login(t, ts, "dan@example.com", temp)
		require.Equal(t, http.StatusOK, res.Status)

		changed := ts.do(t, http.MethodPost, "/auth/password", str(t, res.Body, "accessToken"),
			map[string]string{"currentPassword": temp, "newPassword": "a-brand-new-password"})
		require.Equal(t, http.StatusOK, changed.Status, changed.Raw)

		var usage int
		var tempHash *string
		require.NoError(t, ts.DB.QueryRow(`SELECT temp_password_usage, temp_password_hash FROM users WHERE email = 'dan@example.com'`).Scan(&usage, &tempHash))
		assert.Zero(t, usage)
		assert.Nil(t, tempHash)

		assert.Equal(t, http.StatusUnauthorized, login(t, ts, "dan@example.com", temp).Status)
		assert.Equal(t, http.StatusOK, login(t, ts, "dan@example.com", "a-brand-new-password").Status)
	})

	t.Run("F_LoginRateLimit", func(t *testing.T) {
		ts.Reset(t)
		var last response
		for i := 0; i < 11; i++ {
			last = login(t, ts, "eve@example.com", "wrong-password")
		}
		require.Equal(t, http.StatusTooManyRequests, last.Status, last.Raw)
		assert.Equal(t, false, last.Body["success"])
		assert.NotEmpty(t, last.Body["error"])
		assert.Contains(t, last.Body, "retryAfter")
		assert.Equal(t, float64(0), last.Body["remaining"])
		assert.NotEmpty(t, last.Header.Get("Retry-After"))
	})
}

func TestCheckInIntegration(t *testing.T) {
	skipWithoutDB(t)
	ts := newTestServer(t)
	ctx := context.Background()

	setup := func(t *testing.T, start time.Time) (eventID, moderatorToken string) {
		t.Helper()
		ts.Reset(t)
		register(t, ts, "mod@example.com", "Moderator")
		require.NoError(t, PromoteUser(ctx, ts.DB, "mod@example.com", "Moderator"))
		moderatorToken = str(t, login(t, ts, "mod@example.com", testPassword).Body, "accessToken")

		ev, err := ts.Events.Create(ctx, repo.NewEvent{
			Title:              "Distributed systems lecture",
			StartAt:            start,
			EndAt:              start.Add(time.Hour),
			CheckInBufferMins:  30,
			CheckOutBufferMins: 15,
		})
		require.NoError(t, err)
		return ev.ID.String(), moderatorToken
	}

	t.Run("A_FullFlow", func(t *testing.T) {
		eventID, modToken := setup(t, time.Now().Add(10*time.Minute))

		student := register(t, ts, "frank@example.com", "Frank")
		studentToken := str(t, student.Body, "accessToken")

		forbidden := ts.do(t, http.MethodPost, "/events/"+eventID+"/qr", studentToken, nil)
		assert.Equal(t, http.StatusForbidden, forbidden.Status)

		qr1 := ts.do(t, http.MethodPost, "/events/"+eventID+"/qr", modToken, nil)
		require.Equal(t, http.StatusOK, qr1.Status, qr1.Raw)
		firstPayload := str(t, qr1.Body, "payload")
		assert.Contains(t, firstPayload, "https://events.example.test/attendance/"+eventID+"?t=")
		shortCode := str(t, qr1.Body, "shortCode")
		assert.Len(t, shortCode, 7)

		time.Sleep(5 * time.Millisecond)
		qr2 := ts.do(t, http.MethodPost, "/events/"+eventID+"/qr", modToken, nil)
		require.Equal(t, http.StatusOK, qr2.Status)
		payload := str(t, qr2.Body, "payload")
		assert.Equal(t, shortCode, str(t, qr2.Body, "shortCode"))

		stale := ts.do(t, http.MethodPost, "/attendance/checkin", studentToken, map[string]any{"payload": firstPayload})
		assert.Equal(t, http.StatusUnprocessableEntity, stale.Status, stale.Raw)
		assert.Equal(t, []string{"stale_qr"}, reasonCodes(stale.Body))

		resolved := ts.do(t, http.MethodGet, "/attendance/code/"+shortCode, studentToken, nil)
		require.Equal(t, http.StatusOK, resolved.Status, resolved.Raw)
		assert.Equal(t, payload, resolved.Body["payload"])

		ok := ts.do(t, http.MethodPost, "/attendance/checkin", studentToken, map[string]any{"payload": payload, "distanceM": 12.5})
		require.Equal(t, http.StatusCreated, ok.Status, ok.Raw)
		assert.Equal(t, true, ok.Body["valid"])
		attendance := ok.Body["attendance"].(map[string]any)
		assert.Equal(t, "Pending", attendance["status"])

		dup := ts.do(t, http.MethodPost, "/attendance/checkin", studentToken, map[string]any{"payload": payload})
		assert.Equal(t, http.StatusUnprocessableEntity, dup.Status)
		assert.Equal(t, []string{"already_checked_in"}, reasonCodes(dup.Body))
	})

	t.Run("B_ProfileRequired", func(t *testing.T) {
		eventID, modToken := setup(t, time.Now())
		payload := str(t, ts.do(t, http.MethodPost, "/events/"+eventID+"/qr", modToken, nil).Body, "payload")

		student := register(t, ts, "grace@example.com", "")
		token := str(t, student.Body, "accessToken")

		res := ts.do(t, http.MethodPost, "/attendance/checkin", token, map[string]any{"payload": payload})
		assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
		assert.Equal(t, []string{"profile_incomplete"}, reasonCodes(res.Body))

		profile := ts.do(t, http.MethodPost, "/auth/profile", token, map[string]string{"name": "Grace"})
		require.Equal(t, http.StatusOK, profile.Status, profile.Raw)

		res = ts.do(t, http.MethodPost, "/attendance/checkin", str(t, profile.Body, "accessToken"), map[string]any{"payload": payload})
		assert.Equal(t, http.StatusCreated, res.Status, res.Raw)
	})

	t.Run("C_WindowNotOpen", func(t *testing.T) {
		eventID, modToken := setup(t, time.Now().Add(31*time.Minute+time.Minute))
		payload := str(t, ts.do(t, http.MethodPost, "/events/"+eventID+"/qr", modToken, nil).Body, "payload")
		token := str(t, register(t, ts, "heidi@example.com", "Heidi").Body, "accessToken")

		res := ts.do(t, http.MethodPost, "/attendance/checkin", token, map[string]any{"payload": payload})
		assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
		assert.Equal(t, []string{"window_not_open"}, reasonCodes(res.Body))
	})

	t.Run("D_Unauthenticated", func(t *testing.T) {
		eventID, modToken := setup(t, time.Now())
		payload := str(t, ts.do(t, http.MethodPost, "/events/"+eventID+"/qr", modToken, nil).Body, "payload")

		res := ts.do(t, http.MethodPost, "/attendance/checkin", "", map[string]any{"payload": payload})
		assert.Equal(t, http.StatusUnauthorized, res.Status)
		assert.Equal(t, []string{"unauthenticated"}, reasonCodes(res.Body))
	})

	t.Run("E_ConcurrentDuplicate", func(t *testing.T) {
		eventID, modToken := setup(t, time.Now())
		payload := str(t, ts.do(t, http.MethodPost, "/events/"+eventID+"/qr", modToken, nil).Body, "payload")
		token := str(t, register(t, ts, "ivan@example.com", "Ivan").Body, "accessToken")

		const n = 8
		statuses := make([]int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				statuses[i] = ts.do(t, http.MethodPost, "/attendance/checkin", token, map[string]any{"payload": payload}).Status
			}(i)
		}
		wg.Wait()

		created := 0
		for _, s := range statuses {
			if s == http.StatusCreated {
				created++
			} else {
				assert.Equal(t, http.StatusUnprocessableEntity, s)
			}
		}
		assert.Equal(t, 1, created)

		var rows int
		require.NoError(t, ts.DB.QueryRow(`SELECT count(*) FROM attendances WHERE event_id = $1`, eventID).Scan(&rows))
		assert.Equal(t, 1, rows)
	})
}
