// Package auth wires the passwordless email sign-in: session policy, link
// verification and the frontend redirects that report the result.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/linkauth/internal/i18n"
	"github.com/dukerupert/linkauth/internal/identity"
	"github.com/dukerupert/linkauth/internal/model"
	"github.com/dukerupert/linkauth/internal/session"
)

// ErrConfiguration is wrapped by Configure for every failed precondition.
var ErrConfiguration = errors.New("invalid auth configuration")

// Identities resolves sign-in emails to users and session references back
// to users.
type Identities interface {
	IdentityResolver
	Deserialize(ctx context.Context, ref int64) (*model.User, error)
}

type Options struct {
	Secret     string
	Domain     string
	MaxAge     time.Duration
	Dev        bool
	Rolling    bool
	CookieName string

	Store      session.Store
	Identities Identities
	// Hooks is optional.
	Hooks     HookRunner
	Formatter i18n.Formatter
	Logger    *slog.Logger

	// FrontendBaseURL prefixes the notification pages the verifier
	// redirects to.
	FrontendBaseURL string
}

// Service is the configured sign-in flow.
type Service struct {
	Sessions   *session.Manager
	Verifier   *Verifier
	Identities Identities
	Formatter  i18n.Formatter

	frontend string
	logger   *slog.Logger
}

// Configure validates opts and builds the service. Every missing dependency
// is reported as ErrConfiguration naming the field.
func Configure(opts Options) (*Service, error) {
	switch {
	case opts.Secret == "":
		return nil, configError("secret")
	case opts.Store == nil:
		return nil, configError("session store")
	case opts.Identities == nil:
		return nil, configError("identity resolver")
	case opts.Logger == nil:
		return nil, configError("logger")
	case opts.Formatter == nil:
		return nil, configError("message formatter")
	case opts.FrontendBaseURL == "":
		return nil, configError("frontend base url")
	}

	u, err := url.Parse(opts.FrontendBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: frontend base url %q is not absolute", ErrConfiguration, opts.FrontendBaseURL)
	}

	mgr, err := session.NewManager(session.Config{
		Secret:     opts.Secret,
		Domain:     opts.Domain,
		MaxAge:     opts.MaxAge,
		Dev:        opts.Dev,
		Rolling:    opts.Rolling,
		CookieName: opts.CookieName,
	}, opts.Store, opts.Logger.With("component", "session"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return &Service{
		Sessions:   mgr,
		Verifier:   NewVerifier(opts.Store, opts.Identities, opts.Hooks, opts.Logger),
		Identities: opts.Identities,
		Formatter:  opts.Formatter,
		frontend:   strings.TrimRight(opts.FrontendBaseURL, "/"),
		logger:     opts.Logger.With("component", "auth"),
	}, nil
}

func configError(field string) error {
	return fmt.Errorf("%w: %s is required", ErrConfiguration, field)
}

// RedirectURL returns the frontend notification page for o. The query always
// carries email then context, both possibly empty.
func (s *Service) RedirectURL(o Outcome) string {
	return s.frontend + "/notifications/" + o.Page() +
		"?email=" + url.QueryEscape(o.Email) +
		"&context=" + url.QueryEscape(o.Context)
}

// CurrentUser returns the user bound to sess, or nil for an anonymous or
// orphaned session.
func (s *Service) CurrentUser(ctx context.Context, sess *session.Session) (*model.User, error) {
	if sess == nil {
		return nil, nil
	}
	ref, ok := sess.UserRef()
	if !ok {
		return nil, nil
	}
	u, err := s.Identities.Deserialize(ctx, ref)
	if errors.Is(err, identity.ErrUnknownUser) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
