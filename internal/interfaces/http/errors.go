package http

import (
	"errors"
	"log"
	"net/http"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/link"
	"finlink/internal/domain/notification"
	"finlink/internal/domain/provider"
	"finlink/internal/domain/reconcile"
	"finlink/internal/domain/transaction"
)

// caller decides how authentication failures are reported: a webhook with a
// bad signature is a bad request, a session without a user is unauthorized
type caller int

const (
	callerSession caller = iota
	callerWebhook
)

var notFoundErrors = []error{
	provider.ErrUnknownProvider,
	connection.ErrProviderNotFound,
	connection.ErrProviderConnectionNotFound,
	connection.ErrInstitutionNotFound,
	connection.ErrInstitutionConnectionNotFound,
	connection.ErrAccountConnectionNotFound,
	account.ErrAccountNotFound,
	transaction.ErrTransactionNotFound,
	notification.ErrDeviceTokenNotFound,
	reconcile.ErrUserNotFound,
}

var badRequestErrors = []error{
	errBodyTooLarge,
	reconcile.ErrUnknownEvent,
	provider.ErrInvalidEvent,
	provider.ErrInvalidParams,
	provider.ErrUnsupported,
	link.ErrInvalidRequest,
	account.ErrInvalidSubtype,
	account.ErrTypeMismatch,
	account.ErrInvalidCurrency,
	account.ErrInvalidInput,
	transaction.ErrInvalidInput,
	notification.ErrInvalidToken,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusFor maps a domain error onto an HTTP status
func statusFor(err error, c caller) int {
	switch {
	case errors.Is(err, provider.ErrAuthentication):
		if c == callerWebhook {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case errors.Is(err, reconcile.ErrIntegrity):
		return http.StatusUnprocessableEntity
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs and reports err. Server-side failures are reported with a
// generic message so vendor responses never leak to clients.
func writeError(w http.ResponseWriter, err error, c caller, logPrefix string) {
	status := statusFor(err, c)
	switch {
	case status == http.StatusUnprocessableEntity:
		log.Printf("%s: integrity violation: %v", logPrefix, err)
	case status >= 500:
		var pe *provider.ProviderError
		if errors.As(err, &pe) {
			log.Printf("%s: %s call failed (status %d): %v", logPrefix, pe.Provider, pe.StatusCode, err)
			break
		}
		log.Printf("%s: %v", logPrefix, err)
	}

	msg := err.Error()
	if status >= 500 {
		msg = http.StatusText(status)
	}
	writeFailure(w, status, msg)
}
