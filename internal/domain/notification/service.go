package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Service contains the business logic for push notifications
type Service struct {
	repo      Repository
	messenger Messenger
}

// NewService creates a new notification service. messenger may be nil, in which
// case tokens are still registered but nothing is pushed.
func NewService(repo Repository, messenger Messenger) *Service {
	return &Service{repo: repo, messenger: messenger}
}

// RegisterDevice registers a device token for the authenticated user.
// If the token already belongs to another user, it is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params RegisterDeviceParams) (*DeviceToken, error) {
	params.Token = strings.TrimSpace(params.Token)
	if err := params.Validate(); err != nil {
		return nil, err
	}

	token, err := s.repo.UpsertDeviceToken(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	return token, nil
}

// SendToUser pushes a message to every active device of the user and retires
// the tokens the push service reports dead.
// Delivery failures are logged, not returned: a lost push never fails the caller.
func (s *Service) SendToUser(ctx context.Context, userID string, msg Message) error {
	if s.messenger == nil {
		return nil
	}

	tokens, err := s.repo.GetActiveTokensByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get device tokens: %w", err)
	}

	if len(tokens) == 0 {
		log.Printf("No active device tokens for user %s", userID)
		return nil
	}

	tokenStrings := make([]string, len(tokens))
	for i, t := range tokens {
		tokenStrings[i] = t.Token
	}

	report, err := s.messenger.Deliver(ctx, tokenStrings, msg)
	if err != nil {
		log.Printf("Error sending %s notification to user %s: %v", msg.Route, userID, err)
	}
	if report == nil {
		return nil
	}
	if report.Delivered+report.Failed > 0 {
		log.Printf("User %s: %s notification delivered to %d of %d devices", userID, msg.Route, report.Delivered, report.Delivered+report.Failed)
	}
	for _, dead := range report.DeadTokens {
		if err := s.repo.DeactivateToken(ctx, dead); err != nil {
			log.Printf("User %s: failed to deactivate device token: %v", userID, err)
		}
	}

	return nil
}

// NotifyConnectionBroken tells the user that an institution needs to be reconnected
func (s *Service) NotifyConnectionBroken(ctx context.Context, userID, institutionName, reason string) error {
	if institutionName == "" {
		institutionName = "Your bank"
	}

	msg := Message{
		Title: "Connection interrupted",
		Body:  fmt.Sprintf("%s needs to be reconnected to keep your accounts up to date.", institutionName),
		Route: RouteConnections,
		Data:  map[string]string{"institution": institutionName},
	}
	if reason != "" {
		msg.Data["reason"] = reason
	}

	return s.SendToUser(ctx, userID, msg)
}
