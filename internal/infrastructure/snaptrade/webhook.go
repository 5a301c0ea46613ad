package snaptrade

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"finlink/internal/domain/provider"
)

type webhookPayload struct {
	WebhookID                string `json:"webhookId"`
	ClientID                 string `json:"clientId"`
	EventTimestamp           string `json:"eventTimestamp"`
	UserID                   string `json:"userId"`
	EventType                string `json:"eventType"`
	WebhookSecret            string `json:"webhookSecret"`
	BrokerageAuthorizationID string `json:"brokerageAuthorizationId"`
	BrokerageID              string `json:"brokerageId"`
	AccountID                string `json:"accountId"`
	Details                  string `json:"details"`
}

func (c *Client) RequiredFields() []string {
	return []string{"$.eventType", "$.userId", "$.webhookSecret"}
}

// Verify checks the shared webhook secret carried in the body and the
// HMAC-SHA256 Signature header computed with the consumer key
func (c *Client) Verify(header http.Header, body []byte) error {
	if c.webhookSecret == "" {
		return fmt.Errorf("%w: snaptrade webhook secret not configured", provider.ErrAuthentication)
	}

	var payload struct {
		WebhookSecret string `json:"webhookSecret"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: unreadable body", provider.ErrAuthentication)
	}
	if subtle.ConstantTimeCompare([]byte(payload.WebhookSecret), []byte(c.webhookSecret)) != 1 {
		return fmt.Errorf("%w: webhook secret mismatch", provider.ErrAuthentication)
	}

	sig := header.Get("Signature")
	if sig == "" {
		return fmt.Errorf("%w: missing Signature header", provider.ErrAuthentication)
	}
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", provider.ErrAuthentication)
	}
	mac := hmac.New(sha256.New, c.consumerKey)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", provider.ErrAuthentication)
	}
	return nil
}

// Parse maps the SnapTrade eventType (USER_REGISTERED, CONNECTION_ADDED, ...) 1:1 onto the event vocabulary
func (c *Client) Parse(query url.Values, body []byte) ([]provider.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrInvalidEvent, err)
	}

	typ, err := provider.ParseEventType(strings.ToLower(p.EventType))
	if err != nil {
		return nil, err
	}

	occurredAt, _ := parseDate(p.EventTimestamp)

	return []provider.Event{{
		Provider:       Name,
		Type:           typ,
		UserID:         p.UserID,
		ExternalUserID: p.UserID,
		ConnectionID:   p.BrokerageAuthorizationID,
		AccountID:      p.AccountID,
		Reason:         p.Details,
		OccurredAt:     occurredAt,
	}}, nil
}
