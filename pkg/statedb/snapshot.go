package statedb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/cirrus/pkg/slots"
)

// Snapshot stream format, zstd-framed:
//
//	magic "cirrus-snapshot\x01" (16 bytes)
//	repeated records: owner (16) + contract (16) + value length (u32 LE) + value
//
// Records appear in key order, so restoring a snapshot yields the same
// Digest as the source database.

var snapshotMagic = [16]byte{'c', 'i', 'r', 'r', 'u', 's', '-', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0x01}

// maxSnapshotValueSize bounds a single record read while restoring. Slot
// values never exceed contract code size.
const maxSnapshotValueSize = 1 << 21

// WriteSnapshot streams every slot record to w as a compressed snapshot.
func (s *DB) WriteSnapshot(w io.Writer) error {
	if s.closed.Load() {
		return ErrClosed
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create snapshot encoder: %w", err)
	}
	if _, err := zw.Write(snapshotMagic[:]); err != nil {
		return err
	}

	lenBuf := make([]byte, 4)
	count := 0
	err = s.db.View(func(txn *badger.Txn) error {
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
					return err
				}
				if _, err := zw.Write(key.Owner[:]); err != nil {
					return err
				}
				if _, err := zw.Write(key.Contract[:]); err != nil {
					return err
				}
				binary.LittleEndian.PutUint32(lenBuf, uint32(len(value)))
				if _, err := zw.Write(lenBuf); err != nil {
					return err
				}
				_, err = zw.Write(value)
				return err
			})
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	s.logger.Infof("wrote snapshot with %d slot records", count)
	return nil
}

// ReadSnapshot restores slot records from a snapshot stream into the
// database, replacing records with matching keys. The read cache is
// dropped afterwards.
func (s *DB) ReadSnapshot(r io.Reader) error {
	if s.closed.Load() {
		return ErrClosed
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create snapshot decoder: %w", err)
	}
	defer zr.Close()

	var magic [16]byte
	if _, err := io.ReadFull(zr, magic[:]); err != nil {
		return fmt.Errorf("read snapshot magic: %w", err)
	}
	if magic != snapshotMagic {
		return fmt.Errorf("not a snapshot stream")
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	header := make([]byte, 36)
	count := 0
	for {
		if _, err := io.ReadFull(zr, header); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read snapshot record: %w", err)
		}
		var key slots.SlotKey
		copy(key.Owner[:], header[:16])
		copy(key.Contract[:], header[16:32])
		valueLen := binary.LittleEndian.Uint32(header[32:])
		if valueLen > maxSnapshotValueSize {
			return fmt.Errorf("snapshot record too large: %d bytes", valueLen)
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(zr, value); err != nil {
			return fmt.Errorf("read snapshot record value: %w", err)
		}
		if err := batch.Set(slotRecordKey(key), s.encodeValue(value)); err != nil {
			return err
		}
		count++
	}
	if err := batch.Flush(); err != nil {
		return err
	}

	s.cache.Purge()
	s.logger.Infof("restored snapshot with %d slot records", count)
	return nil
}
