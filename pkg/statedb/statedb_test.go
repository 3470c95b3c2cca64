package statedb

import (
	"bytes"
	"testing"

	"github.com/fortiblox/cirrus/pkg/slots"
)

func openInMemory(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultConfig("")
	cfg.InMemory = true
	db, err := Open(cfg, 1)
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testKey(owner, contract byte) slots.SlotKey {
	var key slots.SlotKey
	key.Owner[8] = owner
	key.Contract[8] = contract
	return key
}

func TestCommitAndLoad(t *testing.T) {
	db := openInMemory(t)

	keyA := testKey(1, 2)
	keyB := testKey(3, 4)
	// Large enough to take the compressed encoding path.
	large := bytes.Repeat([]byte("slot value "), 100)

	st := slots.New(nil, nil)
	scope := st.NestedRW()
	if !st.AddNewContract(keyA.Owner) || !st.AddNewContract(keyB.Owner) {
		t.Fatal("Failed to register contracts")
	}
	for _, item := range []struct {
		key   slots.SlotKey
		value []byte
	}{
		{keyA, []byte("small")},
		{keyB, large},
	} {
		_, buf, ok := scope.UseRW(item.key, uint32(len(item.value)))
		if !ok {
			t.Fatalf("Failed to open slot %v", item.key)
		}
		if !buf.CopyFrom(item.value) {
			t.Fatalf("Failed to write slot %v", item.key)
		}
	}
	scope.Close()

	if err := db.CommitSlots(st); err != nil {
		t.Fatalf("Failed to commit slots: %v", err)
	}

	loaded, records, err := db.LoadSlots(nil)
	if err != nil {
		t.Fatalf("Failed to load slots: %v", err)
	}
	if records != 2 {
		t.Fatalf("Record count mismatch: got %d", records)
	}

	items := loaded.Items()
	values := make(map[slots.SlotKey][]byte, len(items))
	for _, item := range items {
		values[item.Key] = item.Value
	}
	if !bytes.Equal(values[keyA], []byte("small")) {
		t.Errorf("Slot A value mismatch: got %q", values[keyA])
	}
	if !bytes.Equal(values[keyB], large) {
		t.Errorf("Slot B value mismatch: got %d bytes", len(values[keyB]))
	}
}

func TestGetSlotReadThrough(t *testing.T) {
	db := openInMemory(t)
	key := testKey(1, 2)

	if _, ok, err := db.GetSlot(key); err != nil || ok {
		t.Fatalf("Missing slot read mismatch: ok=%v err=%v", ok, err)
	}

	st := slots.New(nil, nil)
	st.AddNewContract(key.Owner)
	scope := st.NestedRW()
	_, buf, ok := scope.UseRW(key, 16)
	if !ok {
		t.Fatal("Failed to open slot")
	}
	buf.CopyFrom([]byte("value"))
	scope.Close()
	if err := db.CommitSlots(st); err != nil {
		t.Fatalf("Failed to commit slots: %v", err)
	}

	for i := 0; i < 2; i++ {
		value, ok, err := db.GetSlot(key)
		if err != nil || !ok {
			t.Fatalf("Read %d failed: ok=%v err=%v", i, ok, err)
		}
		if !bytes.Equal(value, []byte("value")) {
			t.Errorf("Read %d value mismatch: got %q", i, value)
		}
	}
}

func TestCommitDeletesEmptySlots(t *testing.T) {
	db := openInMemory(t)
	key := testKey(1, 2)

	st := slots.New(nil, nil)
	st.AddNewContract(key.Owner)
	scope := st.NestedRW()
	_, buf, _ := scope.UseRW(key, 16)
	buf.CopyFrom([]byte("value"))
	scope.Close()
	if err := db.CommitSlots(st); err != nil {
		t.Fatalf("Failed to commit slots: %v", err)
	}

	// Clear the slot and commit again.
	scope = st.NestedRW()
	_, buf, _ = scope.UseRW(key, 16)
	buf.SetLen(0)
	scope.Close()
	if err := db.CommitSlots(st); err != nil {
		t.Fatalf("Failed to commit cleared slot: %v", err)
	}

	if _, ok, err := db.GetSlot(key); err != nil || ok {
		t.Errorf("Cleared slot should be gone: ok=%v err=%v", ok, err)
	}
	if _, records, err := db.LoadSlots(nil); err != nil || records != 0 {
		t.Errorf("Database should be empty: records=%d err=%v", records, err)
	}
}

func TestDigestIgnoresWriteOrder(t *testing.T) {
	commit := func(db *DB, reverse bool) {
		keys := []slots.SlotKey{testKey(1, 2), testKey(3, 4), testKey(5, 6)}
		if reverse {
			for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
		for _, key := range keys {
			st := slots.New(nil, nil)
			st.AddNewContract(key.Owner)
			scope := st.NestedRW()
			_, buf, _ := scope.UseRW(key, 16)
			buf.CopyFrom(key.Owner[:])
			scope.Close()
			if err := db.CommitSlots(st); err != nil {
				t.Fatalf("Failed to commit: %v", err)
			}
		}
	}

	dbA := openInMemory(t)
	dbB := openInMemory(t)
	commit(dbA, false)
	commit(dbB, true)

	digestA, err := dbA.Digest()
	if err != nil {
		t.Fatalf("Failed to digest: %v", err)
	}
	digestB, err := dbB.Digest()
	if err != nil {
		t.Fatalf("Failed to digest: %v", err)
	}
	if digestA != digestB {
		t.Error("Digest should not depend on write order")
	}

	empty := openInMemory(t)
	emptyDigest, err := empty.Digest()
	if err != nil {
		t.Fatalf("Failed to digest empty database: %v", err)
	}
	if emptyDigest == digestA {
		t.Error("Empty database digest should differ")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := openInMemory(t)

	st := slots.New(nil, nil)
	for i := byte(1); i <= 5; i++ {
		key := testKey(i, i+1)
		st.AddNewContract(key.Owner)
		scope := st.NestedRW()
		_, buf, _ := scope.UseRW(key, 64)
		buf.CopyFrom(bytes.Repeat([]byte{i}, int(i)*10))
		scope.Close()
	}
	if err := src.CommitSlots(st); err != nil {
		t.Fatalf("Failed to commit slots: %v", err)
	}

	var snapshot bytes.Buffer
	if err := src.WriteSnapshot(&snapshot); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	dst := openInMemory(t)
	if err := dst.ReadSnapshot(bytes.NewReader(snapshot.Bytes())); err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	srcDigest, err := src.Digest()
	if err != nil {
		t.Fatalf("Failed to digest source: %v", err)
	}
	dstDigest, err := dst.Digest()
	if err != nil {
		t.Fatalf("Failed to digest restore: %v", err)
	}
	if srcDigest != dstDigest {
		t.Error("Snapshot restore should reproduce the digest")
	}
}

func TestRejectsForeignShard(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	db, err := Open(cfg, 1)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	if _, err := Open(cfg, 2); err == nil {
		t.Fatal("Opening with a different shard should fail")
	}

	db, err = Open(cfg, 1)
	if err != nil {
		t.Fatalf("Reopening with the original shard failed: %v", err)
	}
	db.Close()
}
