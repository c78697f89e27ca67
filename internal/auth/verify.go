package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/linkauth/internal/identity"
	"github.com/dukerupert/linkauth/internal/model"
	"github.com/dukerupert/linkauth/internal/session"
)

// State is a step of a sign-in link verification.
type State int

const (
	AwaitingToken State = iota
	TokenLookup
	EmailCrossCheck
	IdentityResolved
	SessionPromoted
	Rejected
)

func (s State) String() string {
	switch s {
	case AwaitingToken:
		return "awaiting_token"
	case TokenLookup:
		return "token_lookup"
	case EmailCrossCheck:
		return "email_cross_check"
	case IdentityResolved:
		return "identity_resolved"
	case SessionPromoted:
		return "session_promoted"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Reason explains a Rejected outcome.
type Reason string

const (
	NoToken       Reason = "no_token"
	NoSession     Reason = "no_session"
	EmailMismatch Reason = "email_mismatch"
	Exception     Reason = "exception"
)

// Request carries what the sign-in link delivered.
type Request struct {
	PathToken  string
	QueryToken string
	Email      string
	Context    string
}

// Outcome is the terminal state of a verification. Email is the address to
// echo back to the user and Context is always the request context unchanged.
type Outcome struct {
	State   State
	Reason  Reason
	Email   string
	Context string
	UserID  int64
	Err     error
}

// Page names the frontend notification page for the outcome.
func (o Outcome) Page() string {
	switch {
	case o.State == SessionPromoted:
		return "email-confirmed"
	case o.Reason == Exception:
		return "unavailable"
	default:
		return "invalid-token"
	}
}

// IdentityResolver finds or creates the verified user for an email.
type IdentityResolver interface {
	Resolve(ctx context.Context, email string) (*model.User, error)
}

// HookRunner runs the post-sign-in side effects.
type HookRunner interface {
	Run(ctx context.Context, userID int64) int
}

// Verifier turns a sign-in token into an authenticated session.
type Verifier struct {
	store    session.Store
	resolver IdentityResolver
	hooks    HookRunner
	logger   *slog.Logger
}

func NewVerifier(store session.Store, resolver IdentityResolver, hooks HookRunner, logger *slog.Logger) *Verifier {
	return &Verifier{
		store:    store,
		resolver: resolver,
		hooks:    hooks,
		logger:   logger.With("component", "verifier"),
	}
}

// Verify runs the verification for req. It never panics on store or resolver
// failures; they surface as Rejected with reason Exception and Err set.
func (v *Verifier) Verify(ctx context.Context, req Request) Outcome {
	reject := func(reason Reason, email string, err error) Outcome {
		return Outcome{State: Rejected, Reason: reason, Email: email, Context: req.Context, Err: err}
	}

	// AwaitingToken: the query token wins over the path token.
	token := req.QueryToken
	if token == "" {
		token = req.PathToken
	}
	if token == "" {
		return reject(NoToken, req.Email, nil)
	}

	// TokenLookup
	sess, err := v.store.FindOne(ctx, session.Payload{session.KeyToken: token})
	if errors.Is(err, session.ErrNotFound) {
		return reject(NoSession, req.Email, nil)
	}
	if err != nil {
		return reject(Exception, req.Email, err)
	}

	// EmailCrossCheck
	email := sess.Email()
	if email == "" {
		return reject(NoSession, req.Email, nil)
	}
	if req.Email != "" && req.Email != email {
		return reject(EmailMismatch, email, nil)
	}

	// IdentityResolved
	user, err := v.resolver.Resolve(ctx, email)
	if err != nil {
		return reject(Exception, req.Email, err)
	}

	// SessionPromoted
	err = v.store.Promote(ctx, sess.Promoted(identity.Serialize(user)), token)
	if errors.Is(err, session.ErrTokenConsumed) || errors.Is(err, session.ErrNotFound) {
		return reject(NoSession, req.Email, nil)
	}
	if err != nil {
		return reject(Exception, req.Email, err)
	}
	v.logger.Info("session promoted", "user_id", user.ID, "sid", sess.ID)

	if v.hooks != nil {
		v.hooks.Run(ctx, user.ID)
	}

	return Outcome{
		State:   SessionPromoted,
		Email:   email,
		Context: req.Context,
		UserID:  user.ID,
	}
}
