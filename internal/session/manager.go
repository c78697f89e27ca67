package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultCookieName = "linkauth.sid"
	DefaultMaxAge     = 4 * 7 * 24 * time.Hour
)

// ErrInvalidConfig is wrapped by NewManager for every failed precondition.
var ErrInvalidConfig = errors.New("invalid session configuration")

// Config is the cookie and expiry policy.
type Config struct {
	// Secret keys the cookie signature. Required.
	Secret string
	// Domain scopes the cookie. Empty means host-only.
	Domain string
	// MaxAge is the session lifetime, DefaultMaxAge when zero.
	MaxAge time.Duration
	// Dev drops the Secure attribute so cookies work over plain HTTP.
	Dev bool
	// Rolling resets the expiry on every request that carries the session.
	Rolling bool
	// CookieName defaults to DefaultCookieName.
	CookieName string
}

// Manager binds sessions to requests through a signed cookie and persists
// them through a Store.
type Manager struct {
	cfg    Config
	store  Store
	codec  *cookieCodec
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(cfg Config, store Store, logger *slog.Logger) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}
	if cfg.MaxAge < 0 {
		return nil, fmt.Errorf("%w: negative max age", ErrInvalidConfig)
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	codec, err := newCookieCodec(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		codec:  codec,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (m *Manager) Config() Config { return m.cfg }

// New returns an anonymous session that is only persisted once modified.
func (m *Manager) New() *Session {
	return NewSession(m.now().Add(m.cfg.MaxAge))
}

// IssueChallenge stores a fresh sign-in token for email in s, replacing any
// outstanding one, and persists s immediately so the emailed link resolves.
func (m *Manager) IssueChallenge(ctx context.Context, s *Session, email string) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	s.Set(KeyToken, token)
	s.Set(KeyEmail, email)
	s.Expires = m.now().Add(m.cfg.MaxAge)
	if err := m.store.Save(ctx, s); err != nil {
		return "", fmt.Errorf("save challenge: %w", err)
	}
	return token, nil
}

// Destroy deletes s and expires the client cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	s.destroyed = true
	http.SetCookie(w, m.cookie("", -1, time.Unix(0, 0)))
	if !s.persisted {
		return nil
	}
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	s.persisted = false
	return nil
}

// Middleware loads the session named by the request cookie, or starts a new
// one, and commits it before the response headers are written.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.load(r)
		cw := &commitWriter{ResponseWriter: w}
		cw.commit = func() { m.commit(r.Context(), w, sess) }

		next.ServeHTTP(cw, r.WithContext(NewContext(r.Context(), sess)))
		cw.once.Do(cw.commit)
	})
}

func (m *Manager) load(r *http.Request) *Session {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return m.New()
	}
	sid, err := m.codec.Decode(c.Value)
	if err != nil {
		m.logger.Debug("discarding session cookie", "error", err)
		return m.New()
	}
	sess, err := m.store.Load(r.Context(), sid)
	if errors.Is(err, ErrNotFound) {
		return m.New()
	}
	if err != nil {
		m.logger.Error("load session", "error", err, "sid", sid)
		return m.New()
	}
	sess.fromCookie = true
	return sess
}

func (m *Manager) commit(ctx context.Context, w http.ResponseWriter, sess *Session) {
	if sess.destroyed {
		return
	}
	now := m.now()
	saved := false
	switch {
	case sess.modified:
		sess.Expires = now.Add(m.cfg.MaxAge)
		if err := m.store.Save(ctx, sess); err != nil {
			m.logger.Error("save session", "error", err, "sid", sess.ID)
			return
		}
		saved = true
	case sess.persisted && sess.fromCookie && m.cfg.Rolling:
		expires := now.Add(m.cfg.MaxAge)
		if err := m.store.Touch(ctx, sess.ID, expires); err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.Error("touch session", "error", err, "sid", sess.ID)
			}
			return
		}
		sess.Expires = expires
		saved = true
	}

	if !sess.persisted {
		return
	}
	if !saved && sess.fromCookie {
		return
	}
	value, err := m.codec.Encode(sess.ID)
	if err != nil {
		m.logger.Error("encode session cookie", "error", err)
		return
	}
	http.SetCookie(w, m.cookie(value, int(sess.Expires.Sub(now).Seconds()), sess.Expires))
}

func (m *Manager) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.cfg.Domain,
		MaxAge:   maxAge,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   !m.cfg.Dev,
		SameSite: http.SameSiteLaxMode,
	}
}

// commitWriter runs commit once, right before the first header write.
type commitWriter struct {
	http.ResponseWriter
	once   sync.Once
	commit func()
}

func (w *commitWriter) WriteHeader(code int) {
	w.once.Do(w.commit)
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.once.Do(w.commit)
	return w.ResponseWriter.Write(b)
}

func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
