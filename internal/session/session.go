// Package session implements server-side sessions: the store contract with its
// SQLite and Redis implementations, and the Manager that binds sessions to a
// signed cookie.
package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Well-known payload keys.
const (
	KeyToken = "token"
	KeyEmail = "email"
	KeyUser  = "user"
)

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrTokenConsumed is returned by Store.Promote when the session no longer
	// carries the expected token.
	ErrTokenConsumed = errors.New("session token already consumed")
)

// Store persists sessions. Expired sessions behave as if they did not exist.
type Store interface {
	Load(ctx context.Context, sid string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	// FindOne returns a session whose payload contains every key/value of
	// match. Values must be strings, booleans or integers.
	FindOne(ctx context.Context, match Payload) (*Session, error)
	// Promote writes s only if the stored session still holds token.
	Promote(ctx context.Context, s *Session, token string) error
	Touch(ctx context.Context, sid string, expires time.Time) error
	Delete(ctx context.Context, sid string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// Payload is the structured data held by a session.
type Payload map[string]any

// String returns the string stored under key, or "".
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int64 returns the integer stored under key. Decoded JSON numbers are
// accepted.
func (p Payload) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

type Session struct {
	ID      string
	Payload Payload
	Expires time.Time

	persisted  bool
	modified   bool
	fromCookie bool
	destroyed  bool
}

// NewSession returns an anonymous, unsaved session with a fresh id.
func NewSession(expires time.Time) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Payload: Payload{},
		Expires: expires,
	}
}

func (s *Session) Get(key string) any {
	return s.Payload[key]
}

func (s *Session) Set(key string, value any) {
	if s.Payload == nil {
		s.Payload = Payload{}
	}
	s.Payload[key] = value
	s.modified = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.Payload[key]; !ok {
		return
	}
	delete(s.Payload, key)
	s.modified = true
}

func (s *Session) Token() string { return s.Payload.String(KeyToken) }

func (s *Session) Email() string { return s.Payload.String(KeyEmail) }

// UserRef returns the identity reference attached on sign-in.
func (s *Session) UserRef() (int64, bool) { return s.Payload.Int64(KeyUser) }

// IsNew reports whether the session has never been written to the store.
func (s *Session) IsNew() bool { return !s.persisted }

func (s *Session) Modified() bool { return s.modified }

// Promoted returns a copy of s carrying the identity reference and no pending
// token. All other payload fields are kept.
func (s *Session) Promoted(userRef int64) *Session {
	p := maps.Clone(s.Payload)
	if p == nil {
		p = Payload{}
	}
	delete(p, KeyToken)
	p[KeyUser] = userRef
	return &Session{
		ID:        s.ID,
		Payload:   p,
		Expires:   s.Expires,
		persisted: s.persisted,
		modified:  true,
	}
}

func (s *Session) markSaved() {
	s.persisted = true
	s.modified = false
}

// NewToken returns a 32-byte random value, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func encodePayload(p Payload) ([]byte, error) {
	if p == nil {
		p = Payload{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}
	return b, nil
}

func decodePayload(b []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// matchValue normalizes a predicate or payload value for comparison.
func matchValue(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return "s:" + v, true
	case bool:
		return "b:" + strconv.FormatBool(v), true
	case int:
		return "n:" + strconv.Itoa(v), true
	case int64:
		return "n:" + strconv.FormatInt(v, 10), true
	case float64:
		if v != float64(int64(v)) {
			return "", false
		}
		return "n:" + strconv.FormatInt(int64(v), 10), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return "", false
		}
		return "n:" + strconv.FormatInt(n, 10), true
	}
	return "", false
}

// contains reports whether p holds every key/value of match.
func (p Payload) contains(match Payload) bool {
	for k, want := range match {
		w, ok := matchValue(want)
		if !ok {
			return false
		}
		got, ok := matchValue(p[k])
		if !ok || got != w {
			return false
		}
	}
	return true
}
