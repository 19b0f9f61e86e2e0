package transfer

import (
	"context"
	"errors"

	"github.com/bitfsorg/libgrant-go/access"
	"github.com/bitfsorg/libgrant-go/blobstore"
	"github.com/bitfsorg/libgrant-go/envelope"
	"github.com/bitfsorg/libgrant-go/identity"
	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/session"
	"github.com/bitfsorg/libgrant-go/threshold"
	"github.com/bitfsorg/libgrant-go/wallet"
)

// Class is the user-facing category of a failure.
type Class int

const (
	ClassNone Class = iota
	ClassNotFound
	ClassDenied
	ClassNetwork
	ClassFunds
	ClassRejected
	ClassExpired
	ClassConflict
	ClassInvalid
	ClassInternal
)

var classNames = map[Class]string{
	ClassNone:     "none",
	ClassNotFound: "not found",
	ClassDenied:   "denied",
	ClassNetwork:  "network",
	ClassFunds:    "funds",
	ClassRejected: "rejected",
	ClassExpired:  "expired",
	ClassConflict: "conflict",
	ClassInvalid:  "invalid",
	ClassInternal: "internal",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "unknown"
}

// Retryable reports whether repeating the operation may succeed: network
// failures, expired sessions (with a new session) and version conflicts
// (after re-reading the object).
func (c Class) Retryable() bool {
	return c == ClassNetwork || c == ClassExpired || c == ClassConflict
}

// classRules are checked in order; the first class with a matching sentinel wins.
var classRules = []struct {
	class     Class
	sentinels []error
}{
	{ClassRejected, []error{wallet.ErrRejected}},
	{ClassFunds, []error{ledger.ErrInsufficientFunds, blobstore.ErrInsufficientFunds}},
	{ClassExpired, []error{threshold.ErrSessionExpired, session.ErrSessionExpired}},
	{ClassConflict, []error{ledger.ErrConflict}},
	{ClassNotFound, []error{ledger.ErrCapabilityNotFound, blobstore.ErrNotFound, ledger.ErrTxNotFound}},
	{ClassNetwork, []error{
		threshold.ErrTransport, blobstore.ErrFetch, blobstore.ErrUpload,
		ledger.ErrConnectionFailed, ledger.ErrInvalidResponse, session.ErrFetch,
		context.DeadlineExceeded,
	}},
	{ClassDenied, []error{
		ErrAccessDenied, threshold.ErrAccessDenied, session.ErrAccessDenied,
		ledger.ErrNotAuthorized, ErrNoActor,
	}},
	{ClassInvalid, []error{
		envelope.ErrMalformedEnvelope, envelope.ErrInvalidHeader, threshold.ErrMalformedObject,
		threshold.ErrDecryption, ledger.ErrInvalidArgument, ledger.ErrInvalidAddress,
		ledger.ErrInvalidTransaction, ledger.ErrBlobOverrideUsed, identity.ErrInvalidLength,
		blobstore.ErrInvalidReference, blobstore.ErrHashMismatch, ErrEmptyFile, ErrInvalidGrant,
	}},
	{ClassInternal, []error{
		access.ErrEvaluation, ledger.ErrCapabilityIDNotFound, ledger.ErrExecutionAborted,
	}},
}

// Classify maps err to a Class. A nil error is ClassNone; anything
// unrecognized is ClassInternal.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	for _, r := range classRules {
		for _, s := range r.sentinels {
			if errors.Is(err, s) {
				return r.class
			}
		}
	}
	return ClassInternal
}
