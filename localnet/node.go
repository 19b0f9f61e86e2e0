// Package localnet is a single-process ledger that executes capability
// transactions against a bbolt database. It implements ledger.Service and is
// used for development, integration tests and the grantctl localnet server.
package localnet

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/wallet"
)

// DefaultPackageID is the package id the local ledger serves when none is configured.
const DefaultPackageID = "0x00000000000000000000000000000000000000000000000000000000000acce5"

// Options configures a Node.
type Options struct {
	// PackageID is the deployed access_grant package. Empty means DefaultPackageID.
	PackageID string

	// Now supplies ledger time. Nil means time.Now.
	Now func() time.Time

	// GasPerCommand is charged to the sender for every executed command.
	// Zero disables gas accounting.
	GasPerCommand uint64

	Logger *zap.Logger
}

// Node is a local ledger.
type Node struct {
	db        *bbolt.DB
	packageID string
	capType   string
	now       func() time.Time
	gas       uint64
	logger    *zap.Logger
}

var _ ledger.Service = (*Node)(nil)

// Open opens or creates a local ledger at dbPath.
func Open(dbPath string, opts Options) (*Node, error) {
	pkg := opts.PackageID
	if pkg == "" {
		pkg = DefaultPackageID
	}
	pkg, err := ledger.NormalizeAddress(pkg)
	if err != nil {
		return nil, fmt.Errorf("localnet: package id: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &Node{
		db:        db,
		packageID: pkg,
		capType:   ledger.CapabilityType(pkg),
		now:       opts.Now,
		gas:       opts.GasPerCommand,
		logger:    opts.Logger,
	}, nil
}

// Close closes the underlying database.
func (n *Node) Close() error { return n.db.Close() }

// PackageID returns the canonical package id this node executes.
func (n *Node) PackageID() string { return n.packageID }

// Faucet credits amount gas units to addr.
func (n *Node) Faucet(addr string, amount uint64) error {
	a, err := ledger.NormalizeAddress(addr)
	if err != nil {
		return err
	}
	return n.db.Update(func(tx *bbolt.Tx) error {
		return storeBalance(tx, a, loadBalance(tx, a)+amount)
	})
}

// Balance returns the gas balance of addr.
func (n *Node) Balance(addr string) (uint64, error) {
	a, err := ledger.NormalizeAddress(addr)
	if err != nil {
		return 0, err
	}
	var bal uint64
	err = n.db.View(func(tx *bbolt.Tx) error {
		bal = loadBalance(tx, a)
		return nil
	})
	return bal, err
}

// GetCapability implements ledger.Service.
func (n *Node) GetCapability(ctx context.Context, id string) (*ledger.Capability, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm, err := ledger.NormalizeAddress(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrCapabilityNotFound, err)
	}
	var c *ledger.Capability
	err = n.db.View(func(tx *bbolt.Tx) error {
		c, err = loadObject(tx, norm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DevInspect implements ledger.Service. Commands run against a private view
// of the objects; nothing is written. Missing objects and malformed commands
// are returned as errors. Aborts are reported in InspectResult.Error.
func (n *Node) DevInspect(ctx context.Context, t *ledger.Transaction, sender string) (*ledger.InspectResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, err := ledger.NormalizeAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %w", ledger.ErrInvalidTransaction, err)
	}

	res := &ledger.InspectResult{}
	err = n.db.View(func(tx *bbolt.Tx) error {
		x := n.newExecution(tx, from, "")
		for i := range t.Commands {
			out, err := x.run(&t.Commands[i])
			if err != nil {
				return err
			}
			res.Results = append(res.Results, ledger.CommandResult{ReturnValues: out})
		}
		return nil
	})
	if err != nil {
		if isAbort(err) {
			return &ledger.InspectResult{Error: err.Error()}, nil
		}
		return nil, err
	}
	return res, nil
}

// ExecuteTransaction implements ledger.Service. The signature must be a
// transaction signature by the encoded sender. All commands commit together
// or not at all.
func (n *Node) ExecuteTransaction(ctx context.Context, txBytes, signature []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t, err := ledger.Decode(txBytes)
	if err != nil {
		return "", err
	}
	if err := wallet.VerifyTransaction(txBytes, signature, t.Sender); err != nil {
		return "", fmt.Errorf("%w: signature: %w", ledger.ErrInvalidTransaction, err)
	}

	var fx *ledger.TxEffects
	err = n.db.Update(func(tx *bbolt.Tx) error {
		seq, err := tx.Bucket(bucketTxs).NextSequence()
		if err != nil {
			return err
		}
		digest := txDigest(txBytes, seq)

		cost := n.gas * uint64(len(t.Commands))
		if n.gas > 0 {
			if cost > t.GasBudget {
				return fmt.Errorf("%w: gas budget %d below cost %d",
					ledger.ErrInsufficientFunds, t.GasBudget, cost)
			}
			bal := loadBalance(tx, t.Sender)
			if bal < cost {
				return fmt.Errorf("%w: insufficient gas: balance %d, need %d",
					ledger.ErrInsufficientFunds, bal, cost)
			}
			if err := storeBalance(tx, t.Sender, bal-cost); err != nil {
				return err
			}
		}

		x := n.newExecution(tx, t.Sender, digest)
		for i := range t.Commands {
			if _, err := x.run(&t.Commands[i]); err != nil {
				return fmt.Errorf("command %d: %w", i, err)
			}
		}
		changes, err := x.commit()
		if err != nil {
			return err
		}

		fx = &ledger.TxEffects{
			Digest:        digest,
			Status:        ledger.StatusSuccess,
			Sender:        t.Sender,
			GasUsed:       cost,
			Timestamp:     x.nowMs,
			ObjectChanges: changes,
		}
		data, err := encodeGob(fx)
		if err != nil {
			return fmt.Errorf("localnet: encode effects: %w", err)
		}
		return tx.Bucket(bucketTxs).Put([]byte(digest), data)
	})
	if err != nil {
		n.logger.Debug("transaction rejected", zap.String("sender", t.Sender), zap.Error(err))
		return "", err
	}

	n.logger.Info("transaction committed",
		zap.String("digest", fx.Digest),
		zap.String("sender", fx.Sender),
		zap.Int("commands", len(t.Commands)),
		zap.Int("changes", len(fx.ObjectChanges)))
	return fx.Digest, nil
}

// WaitForTransaction implements ledger.Service. Execution is synchronous, so
// a known digest is always final.
func (n *Node) WaitForTransaction(ctx context.Context, digest string) (*ledger.TxEffects, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var fx ledger.TxEffects
	err := n.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTxs).Get([]byte(digest))
		if data == nil {
			return fmt.Errorf("%w: %s", ledger.ErrTxNotFound, digest)
		}
		return decodeGob(data, &fx)
	})
	if err != nil {
		return nil, err
	}
	return &fx, nil
}

func txDigest(txBytes []byte, seq uint64) string {
	h, _ := blake2b.New256(nil)
	h.Write(txBytes)
	var b [8]byte
	for i := range b {
		b[i] = byte(seq >> (8 * i))
	}
	h.Write(b[:])
	return hex.EncodeToString(h.Sum(nil))
}

// objectID derives the id of the i-th object created by digest.
func objectID(digest string, i int) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s/%d", digest, i)))
	return ledger.FormatAddress(sum)
}
