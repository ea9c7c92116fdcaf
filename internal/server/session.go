package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/store"
)

const (
	sessionCookieName = "spdash_session"
	sessionIDKey      = "sid"

	// touchInterval bounds how often a busy session's expiry is pushed out.
	touchInterval = time.Minute
)

func newCookieStore(secret []byte, ttl time.Duration) *sessions.CookieStore {
	cs := sessions.NewCookieStore(secret)
	cs.MaxAge(int(ttl / time.Second))
	cs.Options.Path = "/"
	cs.Options.HttpOnly = true
	cs.Options.SameSite = http.SameSiteLaxMode
	return cs
}

// SessionMiddleware attaches the caller's dashboard session to the request,
// creating one when the cookie is absent, unreadable or points at a session
// the janitor already swept.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A cookie signed with a previous secret decodes with an error but
		// still yields a usable empty session.
		cookie, _ := s.cookies.Get(r, sessionCookieName)
		now := s.now().UTC()

		var sess *model.Session
		if id, ok := cookie.Values[sessionIDKey].(string); ok && id != "" {
			got, err := s.store.GetSession(r.Context(), id)
			switch {
			case err == nil && !got.Expired(now):
				sess = got
			case err != nil && !errors.Is(err, store.ErrNotFound):
				s.logger.Error("loading session", "error", err)
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}
		}

		if sess == nil {
			sess = &model.Session{
				ID:         uuid.New().String(),
				CreatedAt:  now,
				LastSeenAt: now,
				ExpiresAt:  now.Add(s.config.SessionTTL),
			}
			if err := s.store.CreateSession(r.Context(), sess); err != nil {
				s.logger.Error("creating session", "error", err)
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}
			cookie.Values[sessionIDKey] = sess.ID
			cookie.Options.Secure = secureRequest(r)
			if err := cookie.Save(r, w); err != nil {
				s.logger.Error("saving session cookie", "error", err)
			}
		} else if now.Sub(sess.LastSeenAt) >= touchInterval {
			sess.LastSeenAt = now
			sess.ExpiresAt = now.Add(s.config.SessionTTL)
			if err := s.store.TouchSession(r.Context(), sess.ID, sess.LastSeenAt, sess.ExpiresAt); err != nil {
				s.logger.Warn("touching session", "error", err, "session", shortID(sess.ID))
			}
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}
