package provider

import "time"

// EventType is the normalized lifecycle event vocabulary shared by all vendors
type EventType string

const (
	EventUserRegistered                   EventType = "user_registered"
	EventUserDeleted                      EventType = "user_deleted"
	EventConnectionAttempted              EventType = "connection_attempted"
	EventConnectionAdded                  EventType = "connection_added"
	EventConnectionDeleted                EventType = "connection_deleted"
	EventConnectionBroken                 EventType = "connection_broken"
	EventConnectionFixed                  EventType = "connection_fixed"
	EventConnectionUpdated                EventType = "connection_updated"
	EventConnectionFailed                 EventType = "connection_failed"
	EventNewAccountAvailable              EventType = "new_account_available"
	EventAccountTransactionsInitialUpdate EventType = "account_transactions_initial_update"
	EventAccountTransactionsUpdated       EventType = "account_transactions_updated"
	EventAccountRemoved                   EventType = "account_removed"
	EventTradesPlaced                     EventType = "trades_placed"
	EventAccountHoldingsUpdated           EventType = "account_holdings_updated"
)

var eventTypes = map[EventType]bool{
	EventUserRegistered:                   true,
	EventUserDeleted:                      true,
	EventConnectionAttempted:              true,
	EventConnectionAdded:                  true,
	EventConnectionDeleted:                true,
	EventConnectionBroken:                 true,
	EventConnectionFixed:                  true,
	EventConnectionUpdated:                true,
	EventConnectionFailed:                 true,
	EventNewAccountAvailable:              true,
	EventAccountTransactionsInitialUpdate: true,
	EventAccountTransactionsUpdated:       true,
	EventAccountRemoved:                   true,
	EventTradesPlaced:                     true,
	EventAccountHoldingsUpdated:           true,
}

// ParseEventType validates a vendor event name that maps 1:1 onto the vocabulary
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !eventTypes[t] {
		return "", &UnknownEventError{Type: s}
	}
	return t, nil
}

// Event is one normalized lifecycle notification
type Event struct {
	Provider        string
	Type            EventType
	UserID          string
	ExternalUserID  string
	ConnectionID    string
	InstitutionRef  string
	InstitutionName string
	AccountID       string
	Reason          string
	OccurredAt      time.Time
	// Snapshot is the vendor account when the event source already holds it (polling).
	Snapshot *Account
}

// IsAccountEvent reports whether the event targets a single account
func (e Event) IsAccountEvent() bool {
	switch e.Type {
	case EventNewAccountAvailable, EventAccountTransactionsInitialUpdate, EventAccountTransactionsUpdated,
		EventAccountRemoved, EventTradesPlaced, EventAccountHoldingsUpdated:
		return true
	}
	return false
}
