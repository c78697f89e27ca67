package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/linkauth/internal/auth"
	"github.com/dukerupert/linkauth/internal/model"
	"github.com/dukerupert/linkauth/internal/session"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeUsers struct {
	users map[int64]*model.User
	err   error
}

func (f fakeUsers) CurrentUser(ctx context.Context, sess *session.Session) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	ref, ok := sess.UserRef()
	if !ok {
		return nil, nil
	}
	return f.users[ref], nil
}

func serve(t *testing.T, users UserLoader, sess *session.Session) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	handler := RequireAuth(users, discardLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		if ac.UserID != 7 || ac.Email != "alice@example.com" {
			t.Errorf("AuthContext = %+v", ac)
		}
		if ac.SessionID != sess.ID {
			t.Errorf("SessionID = %q, want %q", ac.SessionID, sess.ID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/auth/me", nil)
	if sess != nil {
		req = req.WithContext(session.NewContext(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, reached
}

func TestRequireAuthNoSession(t *testing.T) {
	rec, reached := serve(t, fakeUsers{}, nil)
	if reached {
		t.Error("should not reach handler")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthAnonymousSession(t *testing.T) {
	sess := session.NewSession(time.Now().Add(time.Hour))
	rec, reached := serve(t, fakeUsers{}, sess)
	if reached {
		t.Error("should not reach handler")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthValidSession(t *testing.T) {
	sess := session.NewSession(time.Now().Add(time.Hour)).Promoted(7)
	users := fakeUsers{users: map[int64]*model.User{7: {ID: 7, Email: "alice@example.com"}}}

	rec, reached := serve(t, users, sess)
	if !reached {
		t.Fatal("handler not reached")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireAuthLoaderFailure(t *testing.T) {
	sess := session.NewSession(time.Now().Add(time.Hour)).Promoted(7)
	rec, reached := serve(t, fakeUsers{err: errors.New("db gone")}, sess)
	if reached {
		t.Error("should not reach handler")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
