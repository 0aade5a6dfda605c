package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
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
	From        string               `json:"From"`
	To          string               `json:"To"`
	Subject     string               `json:"Subject"`
	HtmlBody    string               `json:"HtmlBody"`
	TextBody    string               `json:"TextBody"`
	Attachments []postmarkAttachment `json:"Attachments,omitempty"`
}

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

// SendPasswordReset mails a link to the reset page for token.
func (c *Client) SendPasswordReset(ctx context.Context, toEmail, name, token string) error {
	link := fmt.Sprintf("%s/reset-password/%s", c.baseURL, token)
	textBody := fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password:\n\n%s\n\nThis link expires in 1 hour. If you did not ask for a reset, ignore this email.", name, link)
	htmlBody := fmt.Sprintf(
		`<p>Hi %s,</p><p>Use the link below to choose a new password:</p><p><a href="%s">Reset password</a></p><p>This link expires in 1 hour. If you did not ask for a reset, ignore this email.</p>`,
		name, link,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Reset your HomeBank password",
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

// SendJobInvite mails a new job to the child it was assigned to, with the
// calendar invite attached.
func (c *Client) SendJobInvite(ctx context.Context, toEmail, childName, jobTitle, description, icsFilename, icsContent string) error {
	textBody := fmt.Sprintf("Hi %s,\n\nYou have a new job: %s\n\n%s\n\nAdd the attached invite to your calendar to get reminders.", childName, jobTitle, description)
	htmlBody := fmt.Sprintf(
		`<p>Hi %s,</p><p>You have a new job: <strong>%s</strong></p><pre>%s</pre><p>Add the attached invite to your calendar to get reminders.</p>`,
		childName, jobTitle, description,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "New job: " + jobTitle,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Attachments: []postmarkAttachment{{
			Name:        icsFilename,
			Content:     base64.StdEncoding.EncodeToString([]byte(icsContent)),
			ContentType: "text/calendar; charset=utf-8; method=REQUEST",
		}},
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
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
