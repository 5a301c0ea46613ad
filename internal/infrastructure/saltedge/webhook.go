package saltedge

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"finlink/internal/domain/provider"
)

// Callback kinds, passed as ?type= on the callback URL
const (
	callbackSuccess = "success"
	callbackFail    = "fail"
	callbackDestroy = "destroy"
	callbackNotify  = "notify"
)

const stageFinish = "finish"

type callback struct {
	Data struct {
		ConnectionID string `json:"connection_id"`
		CustomerID   string `json:"customer_id"`
		Stage        string `json:"stage"`
		ErrorClass   string `json:"error_class"`
		ErrorMessage string `json:"error_message"`
	} `json:"data"`
	Meta struct {
		Time time.Time `json:"time"`
	} `json:"meta"`
}

func (c *Client) RequiredFields() []string {
	return []string{"$.data.connection_id", "$.data.customer_id"}
}

// Verify checks the Signature header: base64 RSA-SHA256 over "callback_url|body"
func (c *Client) Verify(header http.Header, body []byte) error {
	if c.publicKey == nil {
		return fmt.Errorf("%w: salt edge public key not configured", provider.ErrAuthentication)
	}
	sig := header.Get("Signature")
	if sig == "" {
		return fmt.Errorf("%w: missing Signature header", provider.ErrAuthentication)
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", provider.ErrAuthentication)
	}

	digest := sha256.Sum256(signedPayload(c.callbackURL, body))
	if err := rsa.VerifyPKCS1v15(c.publicKey, crypto.SHA256, digest[:], raw); err != nil {
		return fmt.Errorf("%w: signature mismatch", provider.ErrAuthentication)
	}
	return nil
}

func signedPayload(callbackURL string, body []byte) []byte {
	payload := make([]byte, 0, len(callbackURL)+1+len(body))
	payload = append(payload, callbackURL...)
	payload = append(payload, '|')
	return append(payload, body...)
}

// Parse classifies a callback by its kind and stage
func (c *Client) Parse(query url.Values, body []byte) ([]provider.Event, error) {
	var cb callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrInvalidEvent, err)
	}

	ev := provider.Event{
		Provider:       Name,
		ExternalUserID: cb.Data.CustomerID,
		ConnectionID:   cb.Data.ConnectionID,
		OccurredAt:     cb.Meta.Time,
	}

	kind := query.Get("type")
	switch kind {
	case callbackSuccess:
		ev.Type = provider.EventConnectionAttempted
		if cb.Data.Stage == stageFinish {
			ev.Type = provider.EventConnectionAdded
		}
	case callbackFail:
		ev.Type = provider.EventConnectionFailed
		ev.Reason = cb.Data.ErrorClass
		if ev.Reason == "" {
			ev.Reason = cb.Data.ErrorMessage
		}
	case callbackDestroy:
		ev.Type = provider.EventConnectionDeleted
	case callbackNotify:
		ev.Type = provider.EventConnectionAttempted
	default:
		return nil, &provider.UnknownEventError{Type: kind}
	}

	return []provider.Event{ev}, nil
}
