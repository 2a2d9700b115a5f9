package mailout

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"github.com/dmlopezc/bizgate-backend/pkg/sendgrid"
)

// VerificationPayload is the template data stored on a verification outbox row.
type VerificationPayload struct {
	FirstName string `json:"firstName"`
	Link      string `json:"link"`
}

// NewVerificationEmail builds an outbox row carrying a verification link,
// due immediately.
func NewVerificationEmail(recipient, firstName, link string, now time.Time) (*models.EmailOutbox, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(link) == "" {
		return nil, fmt.Errorf("verification link is required")
	}

	payload, err := json.Marshal(VerificationPayload{FirstName: firstName, Link: link})
	if err != nil {
		return nil, fmt.Errorf("encode verification payload: %w", err)
	}

	return &models.EmailOutbox{
		Recipient:     recipient,
		Kind:          models.EmailKindVerification,
		Payload:       payload,
		Status:        models.EmailStatusPending,
		NextAttemptAt: now,
	}, nil
}

// renderMessage turns an outbox row into the sendgrid message for its kind.
func renderMessage(row models.EmailOutbox) (sendgrid.Message, error) {
	switch row.Kind {
	case models.EmailKindVerification:
		var payload VerificationPayload
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return sendgrid.Message{}, fmt.Errorf("decode verification payload: %w", err)
		}
		greeting := "Hi"
		if payload.FirstName != "" {
			greeting = "Hi " + payload.FirstName
		}
		return sendgrid.Message{
			To:      row.Recipient,
			Subject: "Verify your email address",
			PlainText: fmt.Sprintf("%s,\n\nPlease verify your email address by visiting the link below:\n\n%s\n",
				greeting, payload.Link),
			HTML: fmt.Sprintf("<p>%s,</p><p>Please verify your email address by clicking the link below:</p><p><a href=%q>Verify email</a></p>",
				greeting, payload.Link),
		}, nil
	default:
		return sendgrid.Message{}, fmt.Errorf("unknown email kind %q", row.Kind)
	}
}
