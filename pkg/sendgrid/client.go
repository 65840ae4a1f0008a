package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.sendgrid.com/v3"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("sendgrid api key is required")

// Client sends mail through the SendGrid v3 mail send API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	from       Address
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// Address is a mailbox with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is a single HTML email.
type Message struct {
	To      Address
	ReplyTo *Address
	Subject string
	HTML    string
}

// NewClient builds a SendGrid client that sends from the given address.
func NewClient(apiKey string, from Address, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}
	if strings.TrimSpace(from.Email) == "" {
		return nil, errors.New("sendgrid from address is required")
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		from:       from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             Address           `json:"from"`
	ReplyTo          *Address          `json:"reply_to,omitempty"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

type personalization struct {
	To []Address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type errorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// Send delivers msg. SendGrid answers 202 when the message is accepted.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "sendgrid client not configured")
	}
	if strings.TrimSpace(msg.To.Email) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}

	payload, err := json.Marshal(mailRequest{
		Personalizations: []personalization{{To: []Address{msg.To}}},
		From:             c.from,
		ReplyTo:          msg.ReplyTo,
		Subject:          msg.Subject,
		Content:          []content{{Type: "text/html", Value: msg.HTML}},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal mail request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mail/send", bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build mail request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute mail request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sendgrid rejected mail (%d): %s", resp.StatusCode, parsed.Errors[0].Message))
	}
	return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sendgrid rejected mail (%d)", resp.StatusCode))
}
