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

	"github.com/dmlopezc/bizgate-backend/pkg/config"
	pkgerrors "github.com/dmlopezc/bizgate-backend/pkg/errors"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
)

const (
	defaultBaseURL = "https://api.sendgrid.com"
	sendPath       = "/v3/mail/send"
	requestTimeout = 10 * time.Second
)

var (
	errAPIKeyRequired = errors.New("sendgrid api key is required")
	errFromRequired   = errors.New("sendgrid sender email is required")
	errLoggerRequired = errors.New("sendgrid logger is required")
)

// Client wraps the SendGrid v3 mail-send endpoint with auth, logging, and
// error mapping.
type Client struct {
	apiKey  string
	from    address
	baseURL string
	httpc   *http.Client
	logger  *logger.Logger
}

// Message is a single transactional email.
type Message struct {
	To        string
	Subject   string
	PlainText string
	HTML      string
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// NewClient validates the credentials and returns a mail sender.
func NewClient(cfg config.SendgridConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	from := strings.TrimSpace(cfg.DefaultFrom)
	if from == "" {
		return nil, errFromRequired
	}
	return &Client{
		apiKey:  apiKey,
		from:    address{Email: from, Name: cfg.FromName},
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logg,
	}, nil
}

// Send delivers a single message through the v3 mail-send endpoint.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subject is required")
	}

	contents := make([]content, 0, 2)
	if msg.PlainText != "" {
		contents = append(contents, content{Type: "text/plain", Value: msg.PlainText})
	}
	if msg.HTML != "" {
		contents = append(contents, content{Type: "text/html", Value: msg.HTML})
	}
	if len(contents) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "message body is required")
	}

	payload := sendRequest{
		Personalizations: []personalization{{To: []address{{Email: msg.To}}}},
		From:             c.from,
		Subject:          msg.Subject,
		Content:          contents,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding sendgrid payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building sendgrid request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Error(ctx, "sendgrid request failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sendgrid mail send failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info(c.logger.WithField(ctx, "subject", msg.Subject), "sendgrid mail accepted")
		return nil
	}

	detail := readErrorBody(resp.Body)
	err = fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, detail)
	c.logger.Error(ctx, "sendgrid mail rejected", err)
	return pkgerrors.Wrap(codeForStatus(resp.StatusCode), err, "sendgrid mail send failed")
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.CodeDependency
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return "unreadable body"
	}
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Errors) > 0 {
		messages := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			if e.Message != "" {
				messages = append(messages, e.Message)
			}
		}
		if len(messages) > 0 {
			return strings.Join(messages, "; ")
		}
	}
	return strings.TrimSpace(string(raw))
}
