package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/dukerupert/linkauth/internal/auth"
	"github.com/dukerupert/linkauth/internal/middleware"
	"github.com/dukerupert/linkauth/internal/session"
)

// LinkSender delivers a sign-in link.
type LinkSender interface {
	SendSigninLink(ctx context.Context, to, token, linkContext string) error
}

type AuthHandler struct {
	svc      *auth.Service
	mailer   LinkSender
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAuthHandler(svc *auth.Service, mailer LinkSender, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:      svc,
		mailer:   mailer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "auth_handler"),
	}
}

// VerifySignin consumes a sign-in link and redirects to the frontend page
// describing the result. It always redirects.
func (h *AuthHandler) VerifySignin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out := h.svc.Verifier.Verify(r.Context(), auth.Request{
		PathToken:  r.PathValue("token"),
		QueryToken: q.Get("token"),
		Email:      q.Get("email"),
		Context:    q.Get("context"),
	})

	attrs := []slog.Attr{
		middleware.RequestAttrs(r),
		slog.String("state", out.State.String()),
	}
	switch {
	case out.State == auth.SessionPromoted:
		attrs = append(attrs, slog.Int64("user_id", out.UserID))
		h.logger.LogAttrs(r.Context(), slog.LevelInfo, "signin verified", attrs...)
	case out.Reason == auth.Exception:
		attrs = append(attrs, slog.Any("error", out.Err))
		h.logger.LogAttrs(r.Context(), slog.LevelError, "signin verification failed", attrs...)
	default:
		attrs = append(attrs, slog.String("reason", string(out.Reason)))
		h.logger.LogAttrs(r.Context(), slog.LevelInfo, "signin rejected", attrs...)
	}

	http.Redirect(w, r, h.svc.RedirectURL(out), http.StatusFound)
}

type signinRequest struct {
	Email   string `json:"email" validate:"required,email,max=254"`
	Context string `json:"context" validate:"max=2048"`
}

type signinResponse struct {
	Email   string    `json:"email"`
	Expires time.Time `json:"expires"`
}

// RequestSignin issues a sign-in challenge on the caller's session and emails
// the link.
func (h *AuthHandler) RequestSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	sess, ok := session.FromContext(r.Context())
	if !ok {
		h.logger.LogAttrs(r.Context(), slog.LevelError, "no session in request context", middleware.RequestAttrs(r))
		writeError(w, http.StatusInternalServerError, h.svc.Formatter.T("api/unexpected", nil))
		return
	}

	token, err := h.svc.Sessions.IssueChallenge(r.Context(), sess, req.Email)
	if err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelError, "issue signin challenge",
			middleware.RequestAttrs(r), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, h.svc.Formatter.T("api/unexpected", nil))
		return
	}

	if err := h.mailer.SendSigninLink(r.Context(), req.Email, token, req.Context); err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelError, "send signin link",
			middleware.RequestAttrs(r), slog.String("sid", sess.ID), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, h.svc.Formatter.T("api/unexpected", nil))
		return
	}

	writeJSON(w, http.StatusAccepted, signinResponse{Email: req.Email, Expires: sess.Expires})
}

// Me returns the signed-in user. It runs behind middleware.RequireAuth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	u, err := h.svc.Identities.Deserialize(r.Context(), ac.UserID)
	if err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelError, "load user",
			middleware.RequestAttrs(r), slog.Int64("user_id", ac.UserID), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, h.svc.Formatter.T("api/unexpected", nil))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Signout deletes the session and clears the cookie.
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.svc.Sessions.Destroy(r.Context(), w, sess); err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelError, "destroy session",
			middleware.RequestAttrs(r), slog.String("sid", sess.ID), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, h.svc.Formatter.T("api/unexpected", nil))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
