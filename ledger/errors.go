package ledger

import "errors"

var (
	// ErrCapabilityNotFound indicates the referenced capability object does not exist.
	ErrCapabilityNotFound = errors.New("ledger: capability not found")

	// ErrCapabilityIDNotFound indicates a committed transaction carried no
	// created object of the capability type.
	ErrCapabilityIDNotFound = errors.New("ledger: created capability id not found in object changes")

	// ErrConflict indicates a transaction referenced a stale object version. Retryable.
	ErrConflict = errors.New("ledger: object version conflict")

	// ErrInsufficientFunds indicates the sender cannot pay for gas.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds for gas")

	// ErrNotAuthorized indicates the sender is not the capability's administrator.
	ErrNotAuthorized = errors.New("ledger: sender not authorized")

	// ErrBlobOverrideUsed indicates the one-time blob reference override was already spent.
	ErrBlobOverrideUsed = errors.New("ledger: blob reference override already used")

	// ErrExecutionAborted indicates the transaction aborted during execution.
	ErrExecutionAborted = errors.New("ledger: execution aborted")

	// ErrTxNotFound indicates the requested transaction digest is unknown.
	ErrTxNotFound = errors.New("ledger: transaction not found")

	// ErrInvalidAddress indicates an address or object id is not valid hex.
	ErrInvalidAddress = errors.New("ledger: invalid address")

	// ErrInvalidTransaction indicates transaction bytes could not be decoded or are inconsistent.
	ErrInvalidTransaction = errors.New("ledger: invalid transaction")

	// ErrInvalidArgument indicates a builder argument is out of range.
	ErrInvalidArgument = errors.New("ledger: invalid argument")

	// ErrUndecodableResult indicates a dev-inspect result did not carry the expected return value.
	ErrUndecodableResult = errors.New("ledger: undecodable inspect result")

	// ErrConnectionFailed indicates the client could not reach the ledger node.
	ErrConnectionFailed = errors.New("ledger: connection failed")

	// ErrInvalidResponse indicates the node returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("ledger: invalid response")
)
