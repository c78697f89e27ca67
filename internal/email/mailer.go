package email

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dukerupert/linkauth/internal/i18n"
)

// SigninMailer composes and sends the sign-in link and follow-up
// notifications. Without a configured client the messages are logged
// instead, which keeps local development usable.
type SigninMailer struct {
	client  *Client
	t       i18n.Formatter
	baseURL string
	logger  *slog.Logger
}

func NewSigninMailer(client *Client, t i18n.Formatter, publicBaseURL string, logger *slog.Logger) *SigninMailer {
	return &SigninMailer{
		client:  client,
		t:       t,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger.With("component", "mailer"),
	}
}

// SigninLink returns the verification URL carried by the email.
func (m *SigninMailer) SigninLink(token, to, linkContext string) string {
	return m.baseURL + "/auth/email/signin?token=" + url.QueryEscape(token) +
		"&email=" + url.QueryEscape(to) +
		"&context=" + url.QueryEscape(linkContext)
}

func (m *SigninMailer) SendSigninLink(ctx context.Context, to, token, linkContext string) error {
	link := m.SigninLink(token, to, linkContext)
	if !m.client.Configured() {
		m.logger.Warn("email delivery not configured, sign-in link not sent", "to", to, "link", link)
		return nil
	}

	vars := map[string]string{"link": link}
	id, err := m.client.Send(ctx, Message{
		To:       to,
		Subject:  m.t.T("api/signin/mail/subject", vars),
		TextBody: m.t.T("api/signin/mail/body", vars),
		HTMLBody: m.t.T("api/signin/mail/html", vars),
	})
	if err != nil {
		return err
	}
	m.logger.Info("sign-in link sent", "to", to, "message_id", id)
	return nil
}

// Notify sends a plain text message.
func (m *SigninMailer) Notify(ctx context.Context, to, subject, body string) error {
	if !m.client.Configured() {
		m.logger.Info("email delivery not configured, notification not sent", "to", to, "subject", subject)
		return nil
	}
	id, err := m.client.Send(ctx, Message{To: to, Subject: subject, TextBody: body})
	if err != nil {
		return err
	}
	m.logger.Info("notification sent", "to", to, "message_id", id)
	return nil
}
