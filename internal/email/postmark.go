package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendVerification sends the email verification link after registration.
func (c *Client) SendVerification(ctx context.Context, toEmail, link string) error {
	text := fmt.Sprintf("Thanks for registering. Please confirm your email to continue:\n\n%s\n\nThis link expires in 24 hours.", link)
	body := fmt.Sprintf(
		`<h2>Verify your email</h2><p>Thanks for registering. Please confirm your email to continue.</p><p><a href="%s">Verify Email</a></p><p>This link expires in 24 hours.</p>`,
		html.EscapeString(link),
	)
	return c.send(ctx, toEmail, "Verify your email", body, text)
}

// SendOTP sends a one-time login code.
func (c *Client) SendOTP(ctx context.Context, toEmail, code string) error {
	text := fmt.Sprintf("Use this code to finish signing in: %s\n\nThis code expires in 5 minutes.", code)
	body := fmt.Sprintf(
		`<h2>Login verification</h2><p>Use this code to finish signing in:</p><p style="font-size:28px;font-weight:700;letter-spacing:6px">%s</p><p>This code expires in 5 minutes.</p>`,
		html.EscapeString(code),
	)
	return c.send(ctx, toEmail, "Your login code", body, text)
}

// SendAccounts summarizes the trading accounts linked to an email. An empty
// realLogin is reported as pending KYC approval.
func (c *Client) SendAccounts(ctx context.Context, toEmail, demoLogin, realLogin string) error {
	live := realLogin
	if live == "" {
		live = "Pending KYC approval"
	}
	text := fmt.Sprintf("Your trading accounts:\n\nLive account: %s\nDemo account: %s\n\nUse the password you set during registration to log in.", live, demoLogin)
	body := fmt.Sprintf(
		`<h2>Accounts created</h2><ul><li><strong>Live account:</strong> %s</li><li><strong>Demo account:</strong> %s</li></ul><p>Use the password you set during registration to log in.</p>`,
		html.EscapeString(live), html.EscapeString(demoLogin),
	)
	return c.send(ctx, toEmail, "Your trading accounts", body, text)
}

func (c *Client) send(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
