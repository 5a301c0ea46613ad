package teller

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finlink/internal/domain/provider"
)

// signatureTolerance bounds how old a signed webhook may be
const signatureTolerance = 3 * time.Minute

type webhookPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   struct {
		EnrollmentID string `json:"enrollment_id"`
		Reason       string `json:"reason"`
		Transactions []struct {
			AccountID string `json:"account_id"`
		} `json:"transactions"`
	} `json:"payload"`
}

func (c *Client) RequiredFields() []string {
	return []string{"$.id", "$.type", "$.payload"}
}

// Verify checks Teller-Signature: t=<unix ts>,v1=<hex hmac>[,v1=...] over "t.body".
// Several v1 values appear while the signing secret is being rotated.
func (c *Client) Verify(header http.Header, body []byte) error {
	if len(c.signingSecret) == 0 {
		return fmt.Errorf("%w: teller signing secret not configured", provider.ErrAuthentication)
	}
	raw := header.Get("Teller-Signature")
	if raw == "" {
		return fmt.Errorf("%w: missing Teller-Signature header", provider.ErrAuthentication)
	}

	var ts string
	var signatures [][]byte
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			if sig, err := hex.DecodeString(v); err == nil {
				signatures = append(signatures, sig)
			}
		}
	}
	if ts == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed Teller-Signature header", provider.ErrAuthentication)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed signature timestamp", provider.ErrAuthentication)
	}
	if age := c.now().Sub(time.Unix(unix, 0)); age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: signature timestamp outside tolerance", provider.ErrAuthentication)
	}

	mac := hmac.New(sha256.New, c.signingSecret)
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	expected := mac.Sum(nil)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", provider.ErrAuthentication)
}

// Parse classifies Teller webhooks. webhook.test yields no events.
func (c *Client) Parse(query url.Values, body []byte) ([]provider.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrInvalidEvent, err)
	}

	switch p.Type {
	case "webhook.test":
		return []provider.Event{}, nil

	case "enrollment.disconnected":
		if p.Payload.EnrollmentID == "" {
			return nil, fmt.Errorf("%w: enrollment.disconnected without enrollment_id", provider.ErrInvalidEvent)
		}
		return []provider.Event{{
			Provider:     Name,
			Type:         provider.EventConnectionBroken,
			ConnectionID: p.Payload.EnrollmentID,
			Reason:       p.Payload.Reason,
			OccurredAt:   p.Timestamp,
		}}, nil

	case "transactions.processed":
		if p.Payload.EnrollmentID == "" {
			return nil, fmt.Errorf("%w: transactions.processed without enrollment_id", provider.ErrInvalidEvent)
		}
		seen := make(map[string]bool)
		var events []provider.Event
		for _, t := range p.Payload.Transactions {
			if t.AccountID == "" || seen[t.AccountID] {
				continue
			}
			seen[t.AccountID] = true
			events = append(events, provider.Event{
				Provider:     Name,
				Type:         provider.EventAccountTransactionsUpdated,
				ConnectionID: p.Payload.EnrollmentID,
				AccountID:    t.AccountID,
				OccurredAt:   p.Timestamp,
			})
		}
		return events, nil
	}

	return nil, &provider.UnknownEventError{Type: p.Type}
}
