package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Service is the ledger boundary: object reads, non-committing inspection,
// signed execution and confirmation.
type Service interface {
	// GetCapability returns the current state of a capability object.
	// It returns ErrCapabilityNotFound if the object does not exist.
	GetCapability(ctx context.Context, id string) (*Capability, error)

	// DevInspect executes tx as sender without committing and returns each
	// command's return values.
	DevInspect(ctx context.Context, tx *Transaction, sender string) (*InspectResult, error)

	// ExecuteTransaction submits signed transaction bytes and returns the digest.
	ExecuteTransaction(ctx context.Context, txBytes, signature []byte) (string, error)

	// WaitForTransaction blocks until the transaction is final and returns its effects.
	WaitForTransaction(ctx context.Context, digest string) (*TxEffects, error)
}

// Signer signs encoded transactions on behalf of one address.
type Signer interface {
	Address() string
	SignTransaction(txBytes []byte) ([]byte, error)
}

// ReturnValue is one value returned by a command, with its declared type.
type ReturnValue struct {
	Bytes []byte `json:"bytes"`
	Type  string `json:"type"`
}

// CommandResult holds the return values of one command.
type CommandResult struct {
	ReturnValues []ReturnValue `json:"return_values"`
}

// InspectResult is the outcome of a dev-inspect run.
type InspectResult struct {
	Results []CommandResult `json:"results"`
	Error   string          `json:"error,omitempty"`
}

// Object change kinds.
const (
	ChangeCreated = "created"
	ChangeMutated = "mutated"
)

// ObjectChange records one object touched by a committed transaction.
type ObjectChange struct {
	Type       string `json:"type"`
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	Version    uint64 `json:"version"`
}

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// TxEffects are the committed effects of a transaction.
type TxEffects struct {
	Digest        string         `json:"digest"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	Sender        string         `json:"sender"`
	GasUsed       uint64         `json:"gas_used"`
	Timestamp     uint64         `json:"timestamp_ms"`
	ObjectChanges []ObjectChange `json:"object_changes"`
}

// BoolResult builds an InspectResult carrying a single bool return value.
func BoolResult(v bool) *InspectResult {
	b := byte(0)
	if v {
		b = 1
	}
	return &InspectResult{Results: []CommandResult{{
		ReturnValues: []ReturnValue{{Bytes: []byte{b}, Type: "bool"}},
	}}}
}

// DecodeBool reads the single boolean returned by the first command. Anything
// other than exactly one one-byte bool value is ErrUndecodableResult.
func (r *InspectResult) DecodeBool() (bool, error) {
	if r == nil {
		return false, fmt.Errorf("%w: nil result", ErrUndecodableResult)
	}
	if r.Error != "" {
		return false, fmt.Errorf("%w: %s", ErrUndecodableResult, r.Error)
	}
	if len(r.Results) == 0 || len(r.Results[0].ReturnValues) != 1 {
		return false, fmt.Errorf("%w: expected one return value", ErrUndecodableResult)
	}
	v := r.Results[0].ReturnValues[0].Bytes
	if len(v) != 1 || v[0] > 1 {
		return false, fmt.Errorf("%w: not a bool: %x", ErrUndecodableResult, v)
	}
	return v[0] == 1, nil
}

// ExtractCapabilityID finds the id of the newly created object whose type is
// capType (or ends in "::<module>::<name>" of it, tolerating generic
// parameters). It returns ErrCapabilityIDNotFound if no such record exists.
func ExtractCapabilityID(changes []ObjectChange, capType string) (string, error) {
	suffix := "::" + ModuleName + "::" + CapabilityTypeName
	for _, c := range changes {
		if c.Type != ChangeCreated {
			continue
		}
		t := c.ObjectType
		if i := strings.IndexByte(t, '<'); i >= 0 {
			t = t[:i]
		}
		if t == capType || (capType == "" && strings.HasSuffix(t, suffix)) {
			return c.ObjectID, nil
		}
	}
	return "", ErrCapabilityIDNotFound
}

// SignAndExecute stamps tx with the signer's address, signs it and submits it.
// It returns the transaction digest.
func SignAndExecute(ctx context.Context, svc Service, tx *Transaction, signer Signer) (string, error) {
	tx.Sender = signer.Address()
	if tx.GasBudget == 0 {
		tx.GasBudget = DefaultGasBudget
	}
	txBytes, err := tx.Encode()
	if err != nil {
		return "", err
	}
	sig, err := signer.SignTransaction(txBytes)
	if err != nil {
		return "", fmt.Errorf("ledger: sign transaction: %w", err)
	}
	digest, err := svc.ExecuteTransaction(ctx, txBytes, sig)
	if err != nil {
		return "", ClassifyExecutionError(err)
	}
	return digest, nil
}

// Submit signs, executes and waits for tx, returning successful effects.
// A failed execution status is reported as an error.
func Submit(ctx context.Context, svc Service, tx *Transaction, signer Signer) (*TxEffects, error) {
	digest, err := SignAndExecute(ctx, svc, tx, signer)
	if err != nil {
		return nil, err
	}
	fx, err := svc.WaitForTransaction(ctx, digest)
	if err != nil {
		return nil, err
	}
	if fx.Status != StatusSuccess {
		return fx, ClassifyExecutionError(fmt.Errorf("%w: %s", ErrExecutionAborted, fx.Error))
	}
	return fx, nil
}
