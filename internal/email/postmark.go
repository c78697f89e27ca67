// Package email delivers sign-in links and notifications through Postmark.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://api.postmarkapp.com"

// ErrNotConfigured is returned by Send when no server token is set.
var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
	rc          *resty.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBaseURL points the client at another Postmark-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = u
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rc = resty.NewWithClient(c.httpClient).
		SetBaseURL(c.baseURL).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Accept", "application/json").
		SetHeader("X-Postmark-Server-Token", c.serverToken).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

// Message is a single outgoing email. HTMLBody is optional.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody,omitempty"`
	TextBody string `json:"TextBody"`
}

// Send delivers m and returns the Postmark message id.
func (c *Client) Send(ctx context.Context, m Message) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(postmarkEmail{
			From:     c.fromEmail,
			To:       m.To,
			Subject:  m.Subject,
			HtmlBody: m.HTMLBody,
			TextBody: m.TextBody,
		}).
		Post("/email")
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}

	body := resp.String()
	if resp.IsError() {
		return "", fmt.Errorf("postmark API error: status %d: code %d: %s",
			resp.StatusCode(), gjson.Get(body, "ErrorCode").Int(), gjson.Get(body, "Message").String())
	}
	return gjson.Get(body, "MessageID").String(), nil
}
