package firebase

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"finlink/internal/domain/notification"
)

// FCM rejects multicast messages with more tokens than this
const fcmBatchLimit = 500

// Client implements notification.Messenger on top of Firebase Cloud Messaging
type Client struct {
	msgClient *messaging.Client
}

var _ notification.Messenger = (*Client)(nil)

// NewClient initializes a Firebase app from a service-account file
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return &Client{msgClient: msgClient}, nil
}

// Deliver pushes msg to every token in batches of fcmBatchLimit
func (c *Client) Deliver(ctx context.Context, tokens []string, msg notification.Message) (*notification.DeliveryReport, error) {
	report := &notification.DeliveryReport{}
	for _, batch := range chunkTokens(tokens, fcmBatchLimit) {
		resp, err := c.msgClient.SendEachForMulticast(ctx, multicast(batch, msg))
		if err != nil {
			return report, fmt.Errorf("failed to send FCM multicast: %w", err)
		}
		collect(report, batch, resp.Responses)
	}
	return report, nil
}

// multicast builds the FCM message; connection alerts are sent high priority
func multicast(tokens []string, msg notification.Message) *messaging.MulticastMessage {
	m := &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Payload(),
	}
	if msg.Route == notification.RouteConnections {
		m.Android = &messaging.AndroidConfig{Priority: "high", CollapseKey: msg.Route}
		m.APNS = &messaging.APNSConfig{Headers: map[string]string{"apns-priority": "10", "apns-collapse-id": msg.Route}}
	}
	return m
}

// collect folds one batch's per-token results into the report
func collect(report *notification.DeliveryReport, batch []string, responses []*messaging.SendResponse) {
	for i, r := range responses {
		if r.Success {
			report.Delivered++
			continue
		}
		report.Failed++
		if isDeadToken(r.Error) {
			report.DeadTokens = append(report.DeadTokens, batch[i])
			continue
		}
		log.Printf("FCM send error for token %s: %v", redact(batch[i]), r.Error)
	}
}

func isDeadToken(err error) bool {
	return err != nil && (messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err))
}

// redact keeps enough of a token to correlate log lines
func redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "****"
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for len(tokens) > 0 {
		n := min(size, len(tokens))
		chunks = append(chunks, tokens[:n])
		tokens = tokens[n:]
	}
	return chunks
}
