package auth

import (
	"context"
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/sessions"

	"timesheet/models"
)

const (
	SessionName = "timesheet-session"

	userIDKey = "userID"
)

// NewCookieStore derives separate signing and encryption keys from the
// configured session key.
func NewCookieStore(sessionKey string, secure bool, maxAge int) *sessions.CookieStore {
	authKey := sha256.Sum256([]byte(sessionKey + "auth"))
	encKey := sha256.Sum256([]byte(sessionKey + "encryption"))

	store := sessions.NewCookieStore(authKey[:], encKey[:])
	store.Options = cookieOptions(secure, maxAge)
	return store
}

func cookieOptions(secure bool, maxAge int) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Manager wraps a session store with the few operations the handlers need.
// Any sessions.Store works; cookie and Redis stores are provided here.
type Manager struct {
	store sessions.Store
}

func NewManager(store sessions.Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) session(r *http.Request) *sessions.Session {
	// On a decode failure gorilla still hands back a fresh session, which
	// is what a tampered or expired cookie should turn into.
	session, _ := m.store.Get(r, SessionName)
	return session
}

// UserID returns the logged-in user id, or 0 for anonymous requests.
func (m *Manager) UserID(r *http.Request) int64 {
	if id, ok := m.session(r).Values[userIDKey].(int64); ok {
		return id
	}
	return 0
}

// regenerator is implemented by stores that keep session state server-side
// and must hand out a fresh session id when the session changes hands.
type regenerator interface {
	Regenerate(r *http.Request, session *sessions.Session) error
}

// Login binds the session to userID, under a fresh id for server-side
// stores. Any flashes are stored with the same write so the response
// carries a single cookie.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, userID int64, flashes ...string) error {
	session := m.session(r)
	if rg, ok := m.store.(regenerator); ok {
		if err := rg.Regenerate(r, session); err != nil {
			return err
		}
	}
	session.Values[userIDKey] = userID
	for _, f := range flashes {
		session.AddFlash(f)
	}
	return session.Save(r, w)
}

// Logout unbinds the session from its user. The session itself survives so
// the flash announcing the logout reaches the next page.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request, flashes ...string) error {
	session := m.session(r)
	delete(session.Values, userIDKey)
	for _, f := range flashes {
		session.AddFlash(f)
	}
	return session.Save(r, w)
}

func (m *Manager) AddFlash(w http.ResponseWriter, r *http.Request, msg string) error {
	session := m.session(r)
	session.AddFlash(msg)
	return session.Save(r, w)
}

// Flashes pops the pending flash messages. It must run before the response
// body is written because consuming them rewrites the session.
func (m *Manager) Flashes(w http.ResponseWriter, r *http.Request) []string {
	session := m.session(r)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	_ = session.Save(r, w)

	msgs := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			msgs = append(msgs, s)
		}
	}
	return msgs
}

type UserLoader interface {
	User(ctx context.Context, id int64) (*models.User, error)
}

// Require resolves the session to exactly one user and hands it to next
// through the request context. Anonymous requests, and sessions whose user
// no longer exists, are redirected to /login without calling next.
func (m *Manager) Require(users UserLoader, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := m.UserID(r)
		if id == 0 {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		user, err := users.User(r.Context(), id)
		if err != nil {
			_ = m.Logout(w, r)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

type userCtxKey struct{}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, user)
}

func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userCtxKey{}).(*models.User)
	return user, ok && user != nil
}
