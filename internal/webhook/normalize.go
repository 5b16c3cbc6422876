package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/delivery-pipeline/internal/confirmation"
)

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Bounce struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
}

// normalizeSES accepts an SNS envelope or a bare SES notification.
func normalizeSES(body []byte) ([]confirmation.Confirmation, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode ses payload: %w", err)
	}
	switch env.Type {
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		return nil, nil
	case "Notification":
		body = []byte(env.Message)
	}

	var n sesNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode ses notification: %w", err)
	}
	if n.Mail.MessageID == "" {
		return nil, errors.New("ses mail.messageId missing")
	}

	c := confirmation.Confirmation{Provider: "ses", ProviderMessageID: n.Mail.MessageID}
	if ts, err := time.Parse(time.RFC3339, n.Mail.Timestamp); err == nil {
		c.OccurredAt = ts
	}
	switch n.NotificationType {
	case "Delivery":
		c.Outcome = confirmation.OutcomeDelivered
	case "Bounce":
		c.Outcome = confirmation.OutcomeBounced
		c.Reason = n.Bounce.BounceType
		if len(n.Bounce.BouncedRecipients) > 0 && n.Bounce.BouncedRecipients[0].DiagnosticCode != "" {
			c.Reason += ": " + n.Bounce.BouncedRecipients[0].DiagnosticCode
		}
	case "":
		return nil, errors.New("ses notificationType missing")
	default:
		// complaints and other feedback do not change delivery status
		return nil, nil
	}
	return []confirmation.Confirmation{c}, nil
}

type sendGridEvent struct {
	Event        string `json:"event"`
	SGMessageID  string `json:"sg_message_id"`
	Reason       string `json:"reason"`
	BounceStatus string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
}

func normalizeSendGrid(body []byte) ([]confirmation.Confirmation, error) {
	var events []sendGridEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode sendgrid events: %w", err)
	}
	out := make([]confirmation.Confirmation, 0, len(events))
	for _, ev := range events {
		if ev.SGMessageID == "" {
			return nil, errors.New("sendgrid sg_message_id missing")
		}
		c := confirmation.Confirmation{
			Provider: "sendgrid",
			// the send response carries only the part before the first dot
			ProviderMessageID: strings.SplitN(ev.SGMessageID, ".", 2)[0],
			OccurredAt:        unixTime(ev.Timestamp),
		}
		switch ev.Event {
		case "delivered":
			c.Outcome = confirmation.OutcomeDelivered
		case "bounce", "dropped":
			c.Outcome = confirmation.OutcomeBounced
			c.Reason = strings.TrimSpace(ev.BounceStatus + " " + ev.Reason)
		default:
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type whatsAppPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
					Errors    []struct {
						Code  int    `json:"code"`
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func normalizeWhatsApp(body []byte) ([]confirmation.Confirmation, error) {
	var p whatsAppPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode whatsapp payload: %w", err)
	}
	var out []confirmation.Confirmation
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				if st.ID == "" {
					continue
				}
				c := confirmation.Confirmation{Provider: "whatsapp", ProviderMessageID: st.ID}
				if secs, err := strconv.ParseInt(st.Timestamp, 10, 64); err == nil {
					c.OccurredAt = unixTime(secs)
				}
				switch st.Status {
				case "delivered", "read":
					c.Outcome = confirmation.OutcomeDelivered
				case "failed":
					c.Outcome = confirmation.OutcomeBounced
					if len(st.Errors) > 0 {
						c.Reason = fmt.Sprintf("%d %s", st.Errors[0].Code, st.Errors[0].Title)
					}
				default:
					continue
				}
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func unixTime(secs int64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
