// Package statedb provides the BadgerDB-backed persistence layer for slot
// storage.
package statedb

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/c2h5oh/datasize"
	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/logging"
	"github.com/fortiblox/cirrus/pkg/slots"
)

// Key prefixes. Prefixes keep slot records and metadata in disjoint
// iteration ranges.
var (
	// prefixSlot is the prefix for slot records.
	// Key format: prefixSlot + owner (16 bytes) + contract (16 bytes)
	prefixSlot = []byte{0x01}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x02}

	// metaShard is the key for storing the shard index.
	metaShard = append(prefixMeta, []byte("shard")...)
)

// Value encoding flags. Every stored value starts with one flag byte.
const (
	valueRaw  = 0x00
	valueZstd = 0x01
)

// compressThreshold is the smallest value worth running through zstd.
const compressThreshold = 64

var ErrClosed = fmt.Errorf("state database is closed")

// Config contains configuration for the state database.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	// Setting to false improves performance but risks data loss on crash.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize datasize.ByteSize

	// CacheEntries is the number of slot records kept in the read cache.
	CacheEntries int

	// Logger is an optional logger. Set to nil to disable logging.
	Logger logging.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		InMemory:         false,
		SyncWrites:       false,
		NumCompactors:    4,
		ValueLogFileSize: 256 * datasize.MB,
		CacheEntries:     16384,
		Logger:           nil,
	}
}

// DB is a BadgerDB-backed store for slot records.
//
// Slot records are keyed by (owner, contract) address pair and values are
// zstd-compressed when that pays off. A small LRU cache sits in front of
// point reads since hot slots (system contract code, wallet states) are
// read on every transaction.
type DB struct {
	db     *badger.DB
	logger logging.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	cache *lru.Cache[slots.SlotKey, []byte]

	closed atomic.Bool
}

// Open opens the state database for a shard. If the database already holds
// records for a different shard, opening fails.
func Open(cfg Config, shard contracts.ShardIndex) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(cfg.NumCompactors).
		WithValueLogFileSize(int64(cfg.ValueLogFileSize.Bytes())).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	cacheEntries := cfg.CacheEntries
	if cacheEntries <= 0 {
		cacheEntries = 1
	}
	cache, err := lru.New[slots.SlotKey, []byte](cacheEntries)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create read cache: %w", err)
	}

	s := &DB{
		db:     db,
		logger: logger,
		enc:    enc,
		dec:    dec,
		cache:  cache,
	}
	if err := s.checkShard(shard); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// checkShard pins the database to a shard on first open and rejects the
// database on mismatch afterwards.
func (s *DB) checkShard(shard contracts.ShardIndex) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(metaShard)
		if err == badger.ErrKeyNotFound {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(shard))
			return txn.Set(metaShard, buf)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("corrupted shard metadata")
			}
			stored := contracts.ShardIndex(binary.LittleEndian.Uint32(val))
			if stored != shard {
				return fmt.Errorf("database belongs to shard %d, not %d", stored, shard)
			}
			return nil
		})
	})
}

// slotRecordKey returns the BadgerDB key for a slot record.
func slotRecordKey(key slots.SlotKey) []byte {
	buf := make([]byte, 1+32)
	buf[0] = prefixSlot[0]
	copy(buf[1:17], key.Owner[:])
	copy(buf[17:], key.Contract[:])
	return buf
}

func slotRecordKeyDecode(buf []byte) (slots.SlotKey, bool) {
	if len(buf) != 33 || buf[0] != prefixSlot[0] {
		return slots.SlotKey{}, false
	}
	var key slots.SlotKey
	copy(key.Owner[:], buf[1:17])
	copy(key.Contract[:], buf[17:])
	return key, true
}

func (s *DB) encodeValue(value []byte) []byte {
	if len(value) >= compressThreshold {
		compressed := s.enc.EncodeAll(value, make([]byte, 1, len(value)/2+1))
		if len(compressed) < len(value)+1 {
			compressed[0] = valueZstd
			return compressed
		}
	}
	out := make([]byte, 1+len(value))
	out[0] = valueRaw
	copy(out[1:], value)
	return out
}

func (s *DB) decodeValue(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("empty slot record")
	}
	switch stored[0] {
	case valueRaw:
		out := make([]byte, len(stored)-1)
		copy(out, stored[1:])
		return out, nil
	case valueZstd:
		return s.dec.DecodeAll(stored[1:], nil)
	default:
		return nil, fmt.Errorf("unknown slot record encoding: %#x", stored[0])
	}
}

// GetSlot reads a single slot record. Missing records return ok=false with
// no error.
func (s *DB) GetSlot(key slots.SlotKey) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}

	if value, ok := s.cache.Get(key); ok {
		return value, true, nil
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotRecordKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(stored []byte) error {
			value, err = s.decodeValue(stored)
			return err
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.cache.Add(key, value)
	return value, true, nil
}

// LoadSlots reads every slot record into a fresh slot storage instance.
// The record count is returned so callers can tell an empty database from
// a populated one and run genesis bootstrap only once.
func (s *DB) LoadSlots(logger logging.Logger) (*slots.Slots, int, error) {
	if s.closed.Load() {
		return nil, 0, ErrClosed
	}

	initial := make(map[slots.SlotKey][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixSlot
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key, ok := slotRecordKeyDecode(item.Key())
			if !ok {
				continue
			}
			err := item.Value(func(stored []byte) error {
				value, err := s.decodeValue(stored)
				if err != nil {
					return fmt.Errorf("slot %s/%s: %w", key.Owner, key.Contract, err)
				}
				initial[key] = value
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return slots.New(initial, logger), len(initial), nil
}

// CommitSlots persists every modified slot record of the given storage.
// Records with empty values are deleted.
func (s *DB) CommitSlots(st *slots.Slots) error {
	if s.closed.Load() {
		return ErrClosed
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	items := st.ModifiedItems()
	for _, item := range items {
		if len(item.Value) == 0 {
			if err := batch.Delete(slotRecordKey(item.Key)); err != nil {
				return err
			}
			continue
		}
		if err := batch.Set(slotRecordKey(item.Key), s.encodeValue(item.Value)); err != nil {
			return err
		}
	}
	if err := batch.Flush(); err != nil {
		return err
	}

	for _, item := range items {
		if len(item.Value) == 0 {
			s.cache.Remove(item.Key)
		} else {
			s.cache.Add(item.Key, item.Value)
		}
	}
	s.logger.Debugf("committed %d slot records", len(items))
	return nil
}

// Digest computes a blake3 hash over every slot record in key order. Two
// databases holding the same records produce the same digest regardless of
// write order or compression.
func (s *DB) Digest() ([32]byte, error) {
	var digest [32]byte
	if s.closed.Load() {
		return digest, ErrClosed
	}

	hasher := blake3.New()
	lenBuf := make([]byte, 4)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixSlot
		it := txn.NewIterator(opts)
		defer it.Close()

		// Badger iterates in byte-sorted key order already.
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key, ok := slotRecordKeyDecode(item.Key())
			if !ok {
				continue
			}
			err := item.Value(func(stored []byte) error {
				value, err := s.decodeValue(stored)
				if err != nil {
					return err
				}
				hasher.Write(key.Owner[:])
				hasher.Write(key.Contract[:])
				binary.LittleEndian.PutUint32(lenBuf, uint32(len(value)))
				hasher.Write(lenBuf)
				hasher.Write(value)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return digest, err
	}

	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// Sync ensures all writes are persisted to disk.
func (s *DB) Sync() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Sync()
}

// RunGC runs garbage collection on the value log. Call periodically to
// reclaim space.
func (s *DB) RunGC() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.RunValueLogGC(0.5)
}

// Close closes the database.
func (s *DB) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
