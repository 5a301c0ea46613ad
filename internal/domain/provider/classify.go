package provider

import (
	"log"
	"strings"

	"finlink/internal/domain/account"
)

// SubtypeTable maps a vendor's account kind to a ledger subtype
type SubtypeTable map[string]string

// Classify returns the ledger type and subtype for a vendor kind.
// Unknown kinds fall back to a depository asset.
func (t SubtypeTable) Classify(provider, kind string) (typ, subtype string) {
	subtype, ok := t[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		log.Printf("%s: unknown account kind %q, classifying as %s", provider, kind, account.SubtypeDepository)
		subtype = account.SubtypeDepository
	}
	return account.TypeForSubtype(subtype), subtype
}
