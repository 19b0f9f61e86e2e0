package session

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libgrant-go/wallet"
)

var (
	// ErrUserRejected indicates the actor declined to sign the session challenge.
	ErrUserRejected = fmt.Errorf("session: user rejected signature: %w", wallet.ErrRejected)

	// ErrFetch indicates the encrypted payload could not be fetched from the blob store.
	ErrFetch = errors.New("session: fetch failed")

	// ErrAccessDenied indicates the threshold network refused or could not reach quorum.
	ErrAccessDenied = errors.New("session: access denied")

	// ErrSessionExpired indicates the credential was past its TTL when used.
	ErrSessionExpired = errors.New("session: session expired")

	// ErrUnsigned indicates a credential that has not been signed yet.
	ErrUnsigned = errors.New("session: credential not signed")

	// ErrInvalidConfig indicates a Manager configuration error.
	ErrInvalidConfig = errors.New("session: invalid configuration")
)

// Reason is why a session failed.
type Reason int

const (
	UserRejected Reason = iota + 1
	FetchError
	AccessDenied
	SessionExpired
)

func (r Reason) String() string {
	switch r {
	case UserRejected:
		return "UserRejected"
	case FetchError:
		return "FetchError"
	case AccessDenied:
		return "AccessDenied"
	case SessionExpired:
		return "SessionExpired"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

func (r Reason) sentinel() error {
	switch r {
	case UserRejected:
		return ErrUserRejected
	case FetchError:
		return ErrFetch
	case SessionExpired:
		return ErrSessionExpired
	default:
		return ErrAccessDenied
	}
}

// Failure is the terminal failed state of a session. It matches both the
// sentinel for its Reason and the underlying cause under errors.Is.
type Failure struct {
	Reason Reason
	// State names the state the failed transition started from.
	State string
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("session: %s in %s", f.Reason, f.State)
	}
	return fmt.Sprintf("session: %s in %s: %v", f.Reason, f.State, f.Err)
}

func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Reason.sentinel()}
	}
	return []error{f.Reason.sentinel(), f.Err}
}

func fail(reason Reason, state string, err error) *Failure {
	return &Failure{Reason: reason, State: state, Err: err}
}
