// Package errors provides the error taxonomy shared by the arena services.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Taxonomy. Callers classify with errors.Is; concrete errors wrap one of these.
var (
	// ErrValidation marks bad input. It never touches state.
	ErrValidation = errors.New("validation error")
	// ErrInvalidState marks an operation that is not legal in the current machine state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict marks an operation that would break the single-active-battle rule.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientFunds is reported by the gateway; the caller may top up and retry.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrGateway marks an external dependency failure or timeout.
	ErrGateway = errors.New("gateway error")
	// ErrInvariantViolation is a bookkeeping contradiction. Fatal, never retried.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Common errors
var (
	ErrNoActiveBattle     = fmt.Errorf("%w: no active battle", ErrInvalidState)
	ErrBattleActive       = fmt.Errorf("%w: a battle is already active", ErrConflict)
	ErrRoundLimit         = fmt.Errorf("%w: round limit reached", ErrInvalidState)
	ErrInvalidSlot        = fmt.Errorf("%w: invalid contestant slot", ErrValidation)
	ErrDuplicateRequest   = errors.New("duplicate request in progress")
	ErrSettlementRecorded = fmt.Errorf("%w: settlement already recorded", ErrInvariantViolation)
	ErrMachineHalted      = fmt.Errorf("%w: battle machine halted", ErrInvariantViolation)
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Validationf builds a validation error with a formatted reason.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Invariantf builds an invariant violation with a formatted reason.
func Invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// Gateway wraps a collaborator failure as ErrGateway, keeping the cause in the chain.
func Gateway(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGateway) || errors.Is(err, ErrInsufficientFunds) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGateway, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidState), errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
