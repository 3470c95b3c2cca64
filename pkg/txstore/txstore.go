// Package txstore provides persistent storage for transaction receipts.
package txstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/transaction"
)

var (
	// ErrReceiptNotFound is returned when no receipt exists for a hash.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("transaction store closed")
)

// Bucket names for BoltDB.
var (
	// bucketReceipts stores receipts keyed by transaction hash.
	bucketReceipts = []byte("receipts")

	// bucketByTime indexes receipts by commit time.
	// Key format: timestamp nanos (u64 BE) + transaction hash
	bucketByTime = []byte("by_time")
)

// Receipt records the outcome of a processed transaction.
type Receipt struct {
	// Hash is the transaction hash.
	Hash transaction.Hash

	// Authorized is true if the transaction passed authorization.
	Authorized bool

	// Executed is true if execution ran. False for transactions rejected
	// during authorization.
	Executed bool

	// ExitCode is the contract exit code of execution,
	// contracts.ExitCodeOk on success.
	ExitCode contracts.ExitCode

	// SlotWrites is the number of slot records the transaction modified.
	SlotWrites uint32

	// Timestamp is when the receipt was recorded.
	Timestamp time.Time
}

// Receipt value format: flags (1) + exit code (u32 LE) + slot writes
// (u32 LE) + timestamp nanos (u64 LE).
const receiptValueSize = 17

const (
	flagAuthorized = 1 << 0
	flagExecuted   = 1 << 1
)

func encodeReceipt(r *Receipt) []byte {
	buf := make([]byte, receiptValueSize)
	if r.Authorized {
		buf[0] |= flagAuthorized
	}
	if r.Executed {
		buf[0] |= flagExecuted
	}
	binary.LittleEndian.PutUint32(buf[1:], uint32(r.ExitCode))
	binary.LittleEndian.PutUint32(buf[5:], r.SlotWrites)
	binary.LittleEndian.PutUint64(buf[9:], uint64(r.Timestamp.UnixNano()))
	return buf
}

func decodeReceipt(hash transaction.Hash, buf []byte) (*Receipt, error) {
	if len(buf) != receiptValueSize {
		return nil, fmt.Errorf("corrupted receipt: %d bytes", len(buf))
	}
	return &Receipt{
		Hash:       hash,
		Authorized: buf[0]&flagAuthorized != 0,
		Executed:   buf[0]&flagExecuted != 0,
		ExitCode:   contracts.ExitCode(binary.LittleEndian.Uint32(buf[1:])),
		SlotWrites: binary.LittleEndian.Uint32(buf[5:]),
		Timestamp:  time.Unix(0, int64(binary.LittleEndian.Uint64(buf[9:]))),
	}, nil
}

func timeKey(t time.Time, hash transaction.Hash) []byte {
	key := make([]byte, 8+len(hash))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	copy(key[8:], hash[:])
	return key
}

// Config holds transaction store configuration options.
type Config struct {
	// Path is the file path for the store database.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default transaction store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:     path,
		NoSync:   false,
		ReadOnly: false,
	}
}

// Store persists transaction receipts in a BoltDB file.
type Store struct {
	db     *bolt.DB
	config Config
	closed bool
}

// Open creates or opens a transaction store at the configured path.
func Open(config Config) (*Store, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db, config: config}
	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	return store, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReceipts, bucketByTime} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// PutReceipt stores a receipt. A zero timestamp is replaced with the
// current time.
func (s *Store) PutReceipt(r *Receipt) error {
	if s.closed {
		return ErrClosed
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	value := encodeReceipt(r)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketReceipts).Put(r.Hash[:], value); err != nil {
			return err
		}
		return tx.Bucket(bucketByTime).Put(timeKey(r.Timestamp, r.Hash), r.Hash[:])
	})
}

// GetReceipt retrieves a receipt by transaction hash.
func (s *Store) GetReceipt(hash transaction.Hash) (*Receipt, error) {
	if s.closed {
		return nil, ErrClosed
	}

	var receipt *Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReceipts).Get(hash[:])
		if data == nil {
			return ErrReceiptNotFound
		}
		r, err := decodeReceipt(hash, data)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// HasReceipt checks if a receipt exists for the given hash.
func (s *Store) HasReceipt(hash transaction.Hash) bool {
	if s.closed {
		return false
	}

	exists := false
	s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketReceipts).Get(hash[:]) != nil {
			exists = true
		}
		return nil
	})
	return exists
}

// RecentReceipts returns up to limit receipts, newest first.
func (s *Store) RecentReceipts(limit int) ([]*Receipt, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	var receipts []*Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		receiptsBucket := tx.Bucket(bucketReceipts)
		c := tx.Bucket(bucketByTime).Cursor()
		for k, v := c.Last(); k != nil && len(receipts) < limit; k, v = c.Prev() {
			var hash transaction.Hash
			copy(hash[:], v)
			data := receiptsBucket.Get(hash[:])
			if data == nil {
				continue
			}
			r, err := decodeReceipt(hash, data)
			if err != nil {
				continue
			}
			receipts = append(receipts, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// Prune removes receipts recorded before the given time. Returns the
// number of receipts removed.
func (s *Store) Prune(before time.Time) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	cutoff := make([]byte, 8)
	binary.BigEndian.PutUint64(cutoff, uint64(before.UnixNano()))

	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		receiptsBucket := tx.Bucket(bucketReceipts)
		byTime := tx.Bucket(bucketByTime)
		c := byTime.Cursor()

		var stale [][]byte
		for k, v := c.First(); k != nil && bytes.Compare(k[:8], cutoff) < 0; k, v = c.Next() {
			if err := receiptsBucket.Delete(v); err != nil {
				return err
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := byTime.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

// Count returns the total number of stored receipts.
func (s *Store) Count() (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketReceipts).Stats().KeyN
		return nil
	})
	return count, err
}

// Sync forces a sync of the database to disk.
func (s *Store) Sync() error {
	if s.closed {
		return ErrClosed
	}
	return s.db.Sync()
}

// Close shuts down the store.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
