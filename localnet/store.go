package localnet

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libgrant-go/ledger"
)

var (
	bucketObjects  = []byte("objects")
	bucketTxs      = []byte("txs")
	bucketBalances = []byte("balances")
)

// openDB opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func openDB(dbPath string) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("localnet: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("localnet: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketTxs, bucketBalances} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("localnet: create buckets: %w", err)
	}
	return db, nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func loadObject(tx *bbolt.Tx, id string) (*ledger.Capability, error) {
	data := tx.Bucket(bucketObjects).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrCapabilityNotFound, id)
	}
	var c ledger.Capability
	if err := decodeGob(data, &c); err != nil {
		return nil, fmt.Errorf("localnet: decode object %s: %w", id, err)
	}
	// gob drops empty maps.
	if c.Grants == nil {
		c.Grants = make(map[string]uint64)
	}
	return &c, nil
}

func storeObject(tx *bbolt.Tx, c *ledger.Capability) error {
	data, err := encodeGob(c)
	if err != nil {
		return fmt.Errorf("localnet: encode object: %w", err)
	}
	return tx.Bucket(bucketObjects).Put([]byte(c.ID), data)
}

func loadBalance(tx *bbolt.Tx, addr string) uint64 {
	v := tx.Bucket(bucketBalances).Get([]byte(addr))
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func storeBalance(tx *bbolt.Tx, addr string, amount uint64) error {
	return tx.Bucket(bucketBalances).Put([]byte(addr), binary.BigEndian.AppendUint64(nil, amount))
}
