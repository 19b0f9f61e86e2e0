package localnet

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// ErrUnknownFunction indicates a command targets a function the package does not define.
var ErrUnknownFunction = errors.New("localnet: unknown function")

// isAbort reports whether err is an execution-time abort rather than a
// malformed or unknown input.
func isAbort(err error) bool {
	return errors.Is(err, ledger.ErrNotAuthorized) ||
		errors.Is(err, ledger.ErrBlobOverrideUsed) ||
		errors.Is(err, ledger.ErrConflict)
}

// execution holds the objects touched by one transaction.
type execution struct {
	node    *Node
	tx      *bbolt.Tx
	sender  string
	digest  string
	nowMs   uint64
	objects map[string]*ledger.Capability
	created []string
	mutated map[string]bool
}

func (n *Node) newExecution(tx *bbolt.Tx, sender, digest string) *execution {
	return &execution{
		node:    n,
		tx:      tx,
		sender:  sender,
		digest:  digest,
		nowMs:   ledger.Millis(n.now()),
		objects: make(map[string]*ledger.Capability),
		mutated: make(map[string]bool),
	}
}

// object resolves an object argument, enforcing the observed version.
func (x *execution) object(a ledger.Argument) (*ledger.Capability, error) {
	if a.Kind != ledger.ArgObject {
		return nil, fmt.Errorf("%w: expected object argument", ledger.ErrInvalidTransaction)
	}
	id, err := ledger.NormalizeAddress(a.Object.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: object id: %w", ledger.ErrInvalidTransaction, err)
	}
	if c, ok := x.objects[id]; ok {
		return c, nil
	}
	c, err := loadObject(x.tx, id)
	if err != nil {
		return nil, err
	}
	if a.Object.Version != 0 && a.Object.Version != c.Version {
		return nil, fmt.Errorf("%w: %s at version %d, transaction read %d",
			ledger.ErrConflict, c.ID, c.Version, a.Object.Version)
	}
	x.objects[c.ID] = c
	return c, nil
}

func (x *execution) owned(a ledger.Argument) (*ledger.Capability, error) {
	if !a.Mutable {
		return nil, fmt.Errorf("%w: capability must be passed mutably", ledger.ErrInvalidTransaction)
	}
	c, err := x.object(a)
	if err != nil {
		return nil, err
	}
	if c.Owner != x.sender {
		return nil, fmt.Errorf("%w: %s is not the owner of %s", ledger.ErrNotAuthorized, x.sender, c.ID)
	}
	x.mutated[c.ID] = true
	return c, nil
}

func (x *execution) clock(a ledger.Argument) error {
	if a.Kind != ledger.ArgObject {
		return fmt.Errorf("%w: expected clock object", ledger.ErrInvalidTransaction)
	}
	if id, err := ledger.NormalizeAddress(a.Object.ID); err != nil || id != ledger.ClockObjectID {
		return fmt.Errorf("%w: expected clock object %s", ledger.ErrInvalidTransaction, ledger.ClockObjectID)
	}
	return nil
}

func arity(c *ledger.Command, n int) error {
	if len(c.Args) != n {
		return fmt.Errorf("%w: %s takes %d arguments, got %d",
			ledger.ErrInvalidTransaction, c.Function, n, len(c.Args))
	}
	return nil
}

// run executes one command and returns its return values.
func (x *execution) run(c *ledger.Command) ([]ledger.ReturnValue, error) {
	if c.Package != x.node.packageID || c.Module != ledger.ModuleName {
		return nil, fmt.Errorf("%w: %w: %s", ledger.ErrInvalidTransaction, ErrUnknownFunction, c.Target())
	}

	switch c.Function {
	case ledger.FnCreateAndShare:
		return nil, x.create(c)
	case ledger.FnGrant:
		return nil, x.grant(c)
	case ledger.FnRevoke:
		return nil, x.revoke(c)
	case ledger.FnSetBlobRef:
		return nil, x.setBlobRef(c)
	case ledger.FnCanDownload:
		return x.canDownload(c)
	case ledger.FnApprove:
		return x.approve(c)
	}
	return nil, fmt.Errorf("%w: %w: %s", ledger.ErrInvalidTransaction, ErrUnknownFunction, c.Target())
}

func (x *execution) create(c *ledger.Command) error {
	if err := arity(c, 6); err != nil {
		return err
	}
	blob, err := ledger.DecodePureString(c.Args[0])
	if err != nil {
		return err
	}
	id, err := ledger.DecodePureBytes(c.Args[1])
	if err != nil {
		return err
	}
	public, err := ledger.DecodePureBool(c.Args[2])
	if err != nil {
		return err
	}
	addrs, err := ledger.DecodePureAddressVector(c.Args[3])
	if err != nil {
		return err
	}
	exps, err := ledger.DecodePureU64Vector(c.Args[4])
	if err != nil {
		return err
	}
	if err := x.clock(c.Args[5]); err != nil {
		return err
	}
	if len(addrs) != len(exps) {
		return fmt.Errorf("%w: %d addresses but %d expiries", ledger.ErrInvalidTransaction, len(addrs), len(exps))
	}

	obj := &ledger.Capability{
		ID:                 objectID(x.digest, len(x.created)),
		Owner:              x.sender,
		BlobReference:      blob,
		EncryptionIdentity: id,
		IsPublic:           public,
		Grants:             make(map[string]uint64, len(addrs)),
		Shared:             true,
		CreatedAt:          x.nowMs,
	}
	for i, a := range addrs {
		obj.Grants[a] = exps[i]
	}
	x.objects[obj.ID] = obj
	x.created = append(x.created, obj.ID)
	return nil
}

func (x *execution) grant(c *ledger.Command) error {
	if err := arity(c, 4); err != nil {
		return err
	}
	obj, err := x.owned(c.Args[0])
	if err != nil {
		return err
	}
	addr, err := ledger.DecodePureAddress(c.Args[1])
	if err != nil {
		return err
	}
	exp, err := ledger.DecodePureU64(c.Args[2])
	if err != nil {
		return err
	}
	if err := x.clock(c.Args[3]); err != nil {
		return err
	}
	obj.Grants[addr] = exp
	return nil
}

func (x *execution) revoke(c *ledger.Command) error {
	if err := arity(c, 2); err != nil {
		return err
	}
	obj, err := x.owned(c.Args[0])
	if err != nil {
		return err
	}
	addr, err := ledger.DecodePureAddress(c.Args[1])
	if err != nil {
		return err
	}
	delete(obj.Grants, addr)
	return nil
}

func (x *execution) setBlobRef(c *ledger.Command) error {
	if err := arity(c, 2); err != nil {
		return err
	}
	obj, err := x.owned(c.Args[0])
	if err != nil {
		return err
	}
	blob, err := ledger.DecodePureString(c.Args[1])
	if err != nil {
		return err
	}
	if obj.BlobOverridden {
		return fmt.Errorf("%w: %s", ledger.ErrBlobOverrideUsed, obj.ID)
	}
	obj.BlobReference = blob
	obj.BlobOverridden = true
	return nil
}

func (x *execution) canDownload(c *ledger.Command) ([]ledger.ReturnValue, error) {
	if err := arity(c, 3); err != nil {
		return nil, err
	}
	obj, err := x.object(c.Args[0])
	if err != nil {
		return nil, err
	}
	addr, err := ledger.DecodePureAddress(c.Args[1])
	if err != nil {
		return nil, err
	}
	if err := x.clock(c.Args[2]); err != nil {
		return nil, err
	}
	return boolValue(obj.CanDownload(addr, x.nowMs)), nil
}

// approve evaluates the decryption predicate for the transaction sender.
func (x *execution) approve(c *ledger.Command) ([]ledger.ReturnValue, error) {
	if err := arity(c, 3); err != nil {
		return nil, err
	}
	id, err := ledger.DecodePureBytes(c.Args[0])
	if err != nil {
		return nil, err
	}
	obj, err := x.object(c.Args[1])
	if err != nil {
		return nil, err
	}
	if err := x.clock(c.Args[2]); err != nil {
		return nil, err
	}
	return boolValue(obj.Approve(id, x.sender, x.nowMs)), nil
}

func boolValue(v bool) []ledger.ReturnValue {
	return ledger.BoolResult(v).Results[0].ReturnValues
}

// commit writes every created and mutated object, bumping versions, and
// returns the object changes in a stable order.
func (x *execution) commit() ([]ledger.ObjectChange, error) {
	var changes []ledger.ObjectChange
	for _, id := range x.created {
		obj := x.objects[id]
		obj.Version = 1
		if err := storeObject(x.tx, obj); err != nil {
			return nil, err
		}
		changes = append(changes, ledger.ObjectChange{
			Type: ledger.ChangeCreated, ObjectType: x.node.capType, ObjectID: id, Version: 1,
		})
	}

	ids := make([]string, 0, len(x.mutated))
	for id := range x.mutated {
		if slices.Contains(x.created, id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		obj := x.objects[id]
		obj.Version++
		if err := storeObject(x.tx, obj); err != nil {
			return nil, err
		}
		changes = append(changes, ledger.ObjectChange{
			Type: ledger.ChangeMutated, ObjectType: x.node.capType, ObjectID: id, Version: obj.Version,
		})
	}
	return changes, nil
}
