package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timesheet/models"
)

const testSessionKey = "test-secret-key-12345678901234567890123456789012"

// carryCookies builds a follow-up request holding the cookies set on w.
// Like a browser, the last Set-Cookie for a name wins.
func carryCookies(w *httptest.ResponseRecorder, target string) *http.Request {
	last := map[string]*http.Cookie{}
	var order []string
	for _, c := range w.Result().Cookies() {
		if _, seen := last[c.Name]; !seen {
			order = append(order, c.Name)
		}
		last[c.Name] = c
	}

	r := httptest.NewRequest(http.MethodGet, target, nil)
	for _, name := range order {
		r.AddCookie(last[name])
	}
	return r
}

func sessionCookies(w *httptest.ResponseRecorder) int {
	n := 0
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionName {
			n++
		}
	}
	return n
}

func TestSessionManagement(t *testing.T) {
	m := NewManager(NewCookieStore(testSessionKey, false, 3600))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, int64(0), m.UserID(r))

	require.NoError(t, m.Login(w, r, 42))

	r2 := carryCookies(w, "/")
	assert.Equal(t, int64(42), m.UserID(r2))

	w2 := httptest.NewRecorder()
	require.NoError(t, m.Logout(w2, r2))
	assert.Equal(t, int64(0), m.UserID(carryCookies(w2, "/")))
}

func TestSessionRejectsForeignKey(t *testing.T) {
	signer := NewManager(NewCookieStore("some-other-key", false, 3600))
	w := httptest.NewRecorder()
	require.NoError(t, signer.Login(w, httptest.NewRequest(http.MethodGet, "/", nil), 42))

	m := NewManager(NewCookieStore(testSessionKey, false, 3600))
	assert.Equal(t, int64(0), m.UserID(carryCookies(w, "/")))
}

func TestFlashesAreOneShot(t *testing.T) {
	m := NewManager(NewCookieStore(testSessionKey, false, 3600))

	w := httptest.NewRecorder()
	require.NoError(t, m.AddFlash(w, httptest.NewRequest(http.MethodPost, "/", nil), "Clocked in successfully!"))

	r2 := carryCookies(w, "/dashboard")
	w2 := httptest.NewRecorder()
	assert.Equal(t, []string{"Clocked in successfully!"}, m.Flashes(w2, r2))

	r3 := carryCookies(w2, "/dashboard")
	assert.Empty(t, m.Flashes(httptest.NewRecorder(), r3))
}

func TestLogoutKeepsFlash(t *testing.T) {
	m := NewManager(NewCookieStore(testSessionKey, false, 3600))

	w := httptest.NewRecorder()
	require.NoError(t, m.Login(w, httptest.NewRequest(http.MethodGet, "/", nil), 7))

	r2 := carryCookies(w, "/logout")
	w2 := httptest.NewRecorder()
	require.NoError(t, m.Logout(w2, r2, "bye"))
	assert.Equal(t, 1, sessionCookies(w2))

	r3 := carryCookies(w2, "/login")
	assert.Equal(t, int64(0), m.UserID(r3))
	assert.Equal(t, []string{"bye"}, m.Flashes(httptest.NewRecorder(), r3))
}

func TestLoginStoresFlashWithSingleCookie(t *testing.T) {
	m := NewManager(NewCookieStore(testSessionKey, false, 3600))

	w := httptest.NewRecorder()
	require.NoError(t, m.Login(w, httptest.NewRequest(http.MethodPost, "/login", nil), 7, "welcome"))
	assert.Equal(t, 1, sessionCookies(w))

	r2 := carryCookies(w, "/dashboard")
	assert.Equal(t, int64(7), m.UserID(r2))
	assert.Equal(t, []string{"welcome"}, m.Flashes(httptest.NewRecorder(), r2))
}

func TestLastCookieWins(t *testing.T) {
	m := NewManager(NewCookieStore(testSessionKey, false, 3600))

	w := httptest.NewRecorder()
	require.NoError(t, m.Login(w, httptest.NewRequest(http.MethodGet, "/", nil), 7))

	r2 := carryCookies(w, "/logout")
	w2 := httptest.NewRecorder()
	require.NoError(t, m.Logout(w2, r2))
	require.NoError(t, m.AddFlash(w2, r2, "bye"))
	assert.Equal(t, 2, sessionCookies(w2))

	assert.Equal(t, []string{"bye"}, m.Flashes(httptest.NewRecorder(), carryCookies(w2, "/login")))
}

type fakeUsers map[int64]*models.User

func (f fakeUsers) User(_ context.Context, id int64) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func TestRequire(t *testing.T) {
	m := NewManager(NewCookieStore(testSessionKey, false, 3600))
	users := fakeUsers{1: {ID: 1, Username: "alice"}}

	var seen *models.User
	h := m.Require(users, func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("anonymous is redirected", func(t *testing.T) {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/login", w.Header().Get("Location"))
	})

	t.Run("known user passes through", func(t *testing.T) {
		lw := httptest.NewRecorder()
		require.NoError(t, m.Login(lw, httptest.NewRequest(http.MethodGet, "/", nil), 1))

		w := httptest.NewRecorder()
		h(w, carryCookies(lw, "/dashboard"))
		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "alice", seen.Username)
	})

	t.Run("deleted user is redirected", func(t *testing.T) {
		seen = nil
		lw := httptest.NewRecorder()
		require.NoError(t, m.Login(lw, httptest.NewRequest(http.MethodGet, "/", nil), 99))

		w := httptest.NewRecorder()
		h(w, carryCookies(lw, "/dashboard"))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Nil(t, seen)
	})
}

func newRedisManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewManager(NewRedisStore(client, testSessionKey, false, 60)), mr
}

func TestRedisStore(t *testing.T) {
	m, mr := newRedisManager(t)

	w := httptest.NewRecorder()
	require.NoError(t, m.Login(w, httptest.NewRequest(http.MethodGet, "/", nil), 5))
	require.Len(t, mr.Keys(), 1)
	assert.True(t, strings.HasPrefix(mr.Keys()[0], redisKeyPrefix))
	assert.Equal(t, time.Minute, mr.TTL(mr.Keys()[0]))

	r2 := carryCookies(w, "/")
	assert.Equal(t, int64(5), m.UserID(r2))

	w2 := httptest.NewRecorder()
	require.NoError(t, m.Logout(w2, r2))
	assert.Equal(t, int64(0), m.UserID(carryCookies(w2, "/")))
}

func TestRedisStoreExpiredKeyStartsOver(t *testing.T) {
	m, mr := newRedisManager(t)

	w := httptest.NewRecorder()
	require.NoError(t, m.Login(w, httptest.NewRequest(http.MethodGet, "/", nil), 5))
	mr.FastForward(2 * time.Minute)

	assert.Equal(t, int64(0), m.UserID(carryCookies(w, "/")))
}

func TestRedisLoginIssuesFreshSessionID(t *testing.T) {
	m, mr := newRedisManager(t)

	// An anonymous session, as handed out with a failed-login flash.
	planted := httptest.NewRecorder()
	require.NoError(t, m.AddFlash(planted, httptest.NewRequest(http.MethodPost, "/login", nil), "try again"))
	before := mr.Keys()
	require.Len(t, before, 1)

	w := httptest.NewRecorder()
	require.NoError(t, m.Login(w, carryCookies(planted, "/login"), 42))

	after := mr.Keys()
	require.Len(t, after, 1)
	assert.NotEqual(t, before[0], after[0])

	assert.Equal(t, int64(0), m.UserID(carryCookies(planted, "/dashboard")))
	assert.Equal(t, int64(42), m.UserID(carryCookies(w, "/dashboard")))
}
