// v1
// internal/dashboard/session.go
package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	sessionName   = "homemon_session"
	sessionUserID = "user_id"

	flashSuccess = "success"
	flashError   = "error"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string
	Message  string
}

type ctxKey int

const userKey ctxKey = iota

// Sessions keeps the logged-in user and flash messages in a signed cookie.
type Sessions struct {
	store sessions.Store
	users *Users
	log   *slog.Logger
}

// NewSessions builds the cookie store. An empty secret yields a random key,
// so sessions do not survive a restart.
func NewSessions(secret string, users *Users, log *slog.Logger) *Sessions {
	key := []byte(secret)
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(32)
		log.Warn("session_secret_generated")
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{store: cs, users: users, log: log}
}

func (s *Sessions) session(r *http.Request) *sessions.Session {
	sess, err := s.store.Get(r, sessionName)
	if err != nil {
		// A cookie signed with an old key decodes to a fresh session.
		s.log.Debug("session_decode_failed", slog.Any("err", err))
	}
	return sess
}

func (s *Sessions) save(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if err := sess.Save(r, w); err != nil {
		s.log.Error("session_save_failed", slog.Any("err", err))
	}
}

// AddFlash queues a message for the next page.
func (s *Sessions) AddFlash(w http.ResponseWriter, r *http.Request, category, msg string) {
	sess := s.session(r)
	sess.AddFlash(msg, category)
	s.save(w, r, sess)
}

// Flashes pops the queued messages. It must run before the response is
// written.
func (s *Sessions) Flashes(w http.ResponseWriter, r *http.Request) []Flash {
	sess := s.session(r)
	var out []Flash
	for _, cat := range []string{flashSuccess, flashError} {
		for _, v := range sess.Flashes(cat) {
			if msg, ok := v.(string); ok {
				out = append(out, Flash{Category: cat, Message: msg})
			}
		}
	}
	if len(out) > 0 {
		s.save(w, r, sess)
	}
	return out
}

func (s *Sessions) Login(w http.ResponseWriter, r *http.Request, u User) {
	sess := s.session(r)
	sess.Values[sessionUserID] = u.ID
	s.save(w, r, sess)
}

func (s *Sessions) Logout(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	delete(sess.Values, sessionUserID)
	s.save(w, r, sess)
}

// CurrentUser resolves the session's user, if any.
func (s *Sessions) CurrentUser(r *http.Request) (User, bool) {
	if u, ok := r.Context().Value(userKey).(User); ok {
		return u, true
	}
	id, ok := s.session(r).Values[sessionUserID].(uint)
	if !ok {
		return User{}, false
	}
	u, err := s.users.ByID(r.Context(), id)
	if err != nil {
		return User{}, false
	}
	return u, true
}

// RequireLogin redirects anonymous visitors to /login.
func (s *Sessions) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.CurrentUser(r)
		if !ok {
			s.AddFlash(w, r, flashError, "Please log in to access this page.")
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}
