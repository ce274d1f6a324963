package services

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// SessionTTL is independent of the refresh token's own expiry.
	SessionTTL       = 30 * 24 * time.Hour
	CookieSessionKey = "session_id"

	sessionKeyPrefix = "session:"
)

// SessionStore binds an opaque session id to the refresh token currently
// valid for it. Overwriting the value on refresh is what revokes the
// previous refresh token.
type SessionStore struct {
	db           *badger.DB
	ttl          time.Duration
	secureCookie bool
	metrics      *Metrics
}

func NewSessionStore(db *badger.DB, secureCookie bool, metrics *Metrics) *SessionStore {
	return &SessionStore{
		db:           db,
		ttl:          SessionTTL,
		secureCookie: secureCookie,
		metrics:      metrics,
	}
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// Create stores refreshToken under sessionID, minting a new 128-bit id
// when sessionID is empty, and writes the session cookie.
func (s *SessionStore) Create(ctx context.Context, w http.ResponseWriter, refreshToken, sessionID string) (string, error) {
	rotated := sessionID != ""
	if !rotated {
		sessionID = uuid.NewString()
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(sessionKey(sessionID), []byte(refreshToken)).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return "", err
	}

	if w != nil {
		http.SetCookie(w, s.cookie(sessionID, CookieMaxAge))
	}
	if rotated {
		s.metrics.SessionsRotated.Inc()
	} else {
		s.metrics.SessionsCreated.Inc()
	}
	return sessionID, nil
}

// Validate reports whether the stored token for sessionID equals
// refreshToken exactly. A stale token from before a rotation fails.
func (s *SessionStore) Validate(ctx context.Context, sessionID, refreshToken string) bool {
	if sessionID == "" || refreshToken == "" {
		return false
	}
	var stored []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		stored, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(stored, []byte(refreshToken)) == 1
}

// Revoke drops the session and clears its cookie.
func (s *SessionStore) Revoke(ctx context.Context, w http.ResponseWriter, sessionID string) error {
	if sessionID != "" {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(sessionKey(sessionID))
		})
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		s.metrics.SessionsRevoked.Inc()
	}
	if w != nil {
		http.SetCookie(w, s.cookie("", -1))
	}
	return nil
}

// SessionID reads the session cookie from r.
func (s *SessionStore) SessionID(r *http.Request) string {
	c, err := r.Cookie(CookieSessionKey)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *SessionStore) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieSessionKey,
		Value:    value,
		Path:     CookiePath,
		MaxAge:   maxAge,
		Secure:   s.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
}
