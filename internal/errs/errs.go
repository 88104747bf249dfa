// Package errs defines the error taxonomy shared by the broker gateways and
// the execution engine. Every failure crossing the gateway boundary is one of
// these, so callers branch with errors.Is/errors.As instead of matching
// message strings.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBrokerUnavailable marks transport-level failures (timeouts, refused
	// connections, 5xx). Recoverable: retry with backoff, then degrade.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrDataUnavailable marks a quote/snapshot miss after every fallback
	// source was tried.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrNotTradable marks an index symbol with no configured substitution.
	ErrNotTradable = errors.New("instrument not tradable")

	// ErrSessionExpired marks an invalid or expired broker session token.
	ErrSessionExpired = errors.New("session expired")

	// ErrEmergencyStop marks the daily circuit breaker. New entries are
	// refused for the rest of the day; open positions keep being monitored.
	ErrEmergencyStop = errors.New("emergency stop engaged")
)

// CredentialError reports which broker credentials are missing or malformed.
// Live mode treats it as fatal at startup and falls back to paper mode.
type CredentialError struct {
	Broker  string
	Missing []string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s credentials missing: %s", e.Broker, strings.Join(e.Missing, ", "))
}

// SessionError wraps ErrSessionExpired with an actionable hint, e.g. the
// login URL to regenerate a Breeze session token.
type SessionError struct {
	Broker string
	Hint   string
}

func (e *SessionError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s session expired", e.Broker)
	}
	return fmt.Sprintf("%s session expired: %s", e.Broker, e.Hint)
}

func (e *SessionError) Is(target error) bool { return target == ErrSessionExpired }

// OrderRejectedError carries the broker's reason for refusing an order.
// Position-level: the engine logs it and moves on.
type OrderRejectedError struct {
	Broker string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected by %s: %s", e.Broker, e.Reason)
}

// Unavailable wraps err as a broker transport failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBrokerUnavailable, err)
}

// NoData wraps err as a data miss.
func NoData(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDataUnavailable, err)
}

// Recoverable reports whether the engine should keep its cycle running after
// err. Everything in this taxonomy is recoverable except credential errors,
// which require operator action.
func Recoverable(err error) bool {
	var ce *CredentialError
	return !errors.As(err, &ce)
}
