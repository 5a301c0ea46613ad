package reconcile

import (
	"errors"
	"fmt"

	"finlink/internal/domain/provider"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrUserNotFound = errors.New("no user for event")

	// ErrIntegrity marks events that cannot be applied without corrupting the ledger.
	// They are not retried automatically.
	ErrIntegrity                       = errors.New("integrity violation")
	ErrIncompleteSync                  = fmt.Errorf("%w: account initial sync not completed", ErrIntegrity)
	ErrMissingProviderAccountReference = fmt.Errorf("%w: linked account has no provider account reference", ErrIntegrity)
)

// Result summarizes what one event did to the ledger
type Result struct {
	Event                   provider.EventType `json:"event"`
	InstitutionConnectionID int64              `json:"institutionConnectionId,omitempty"`
	Accounts                int                `json:"accounts"`
	SkippedAccounts         int                `json:"skippedAccounts"`
	Created                 int                `json:"created"`
	Updated                 int                `json:"updated"`
	Unchanged               int                `json:"unchanged"`
	SkippedTransactions     int                `json:"skippedTransactions"`
	Holdings                int                `json:"holdings"`
}

func (r *Result) add(o *Result) {
	if o == nil {
		return
	}
	r.Accounts += o.Accounts
	r.SkippedAccounts += o.SkippedAccounts
	r.Created += o.Created
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.SkippedTransactions += o.SkippedTransactions
	r.Holdings += o.Holdings
}
