package transaction

import (
	"errors"
	"testing"
)

func testBlockHash(n byte) BlockHash {
	var hash BlockHash
	hash[0] = n
	return hash
}

func poolTransaction(block BlockHash, n byte) *Transaction {
	tx := testTransaction()
	tx.Header.BlockHash = block
	tx.Payload[0] = n
	return tx
}

func TestPoolAddAndPending(t *testing.T) {
	pool, err := NewPool(PoolConfig{})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	block := testBlockHash(1)
	pool.ObserveBestBlock(block)

	tx1 := poolTransaction(block, 1)
	tx2 := poolTransaction(block, 2)

	hash1, err := pool.Add(tx1)
	if err != nil {
		t.Fatalf("Failed to add transaction: %v", err)
	}
	if _, err := pool.Add(tx2); err != nil {
		t.Fatalf("Failed to add second transaction: %v", err)
	}
	if pool.Len() != 2 {
		t.Fatalf("Pool length mismatch: got %d, want 2", pool.Len())
	}
	if pool.Bytes() != wireSize(tx1)+wireSize(tx2) {
		t.Errorf("Pool bytes mismatch: got %d", pool.Bytes())
	}

	// Unauthorized transactions are not pending.
	if pending := pool.Pending(0); len(pending) != 0 {
		t.Fatalf("Expected no pending transactions, got %d", len(pending))
	}

	if !pool.MarkAuthorized(hash1) {
		t.Fatal("Failed to mark transaction authorized")
	}
	pending := pool.Pending(0)
	if len(pending) != 1 || pending[0].Hash() != hash1 {
		t.Fatalf("Pending mismatch: %v", pending)
	}

	got, found := pool.Get(hash1)
	if !found || got.Hash() != hash1 {
		t.Error("Failed to get pooled transaction")
	}

	if !pool.Remove(hash1) {
		t.Fatal("Failed to remove transaction")
	}
	if pool.Len() != 1 {
		t.Errorf("Pool length after removal mismatch: got %d", pool.Len())
	}
	if pool.Remove(hash1) {
		t.Error("Removing a missing transaction succeeded")
	}
}

func TestPoolAddErrors(t *testing.T) {
	pool, err := NewPool(PoolConfig{MaxTransactions: 1})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	block := testBlockHash(1)

	// The anchor block must be known.
	if _, err := pool.Add(poolTransaction(block, 1)); !errors.Is(err, ErrPoolUnknownBlock) {
		t.Errorf("Unknown block error mismatch: %v", err)
	}

	pool.ObserveBestBlock(block)
	tx := poolTransaction(block, 1)
	if _, err := pool.Add(tx); err != nil {
		t.Fatalf("Failed to add transaction: %v", err)
	}
	if _, err := pool.Add(tx); !errors.Is(err, ErrPoolDuplicate) {
		t.Errorf("Duplicate error mismatch: %v", err)
	}
	if _, err := pool.Add(poolTransaction(block, 2)); !errors.Is(err, ErrPoolFull) {
		t.Errorf("Full pool error mismatch: %v", err)
	}

	small, err := NewPool(PoolConfig{MaxBytes: 10})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	small.ObserveBestBlock(block)
	if _, err := small.Add(poolTransaction(block, 1)); !errors.Is(err, ErrPoolOverCapacity) {
		t.Errorf("Capacity error mismatch: %v", err)
	}
}

func TestPoolPrunesStaleAnchors(t *testing.T) {
	pool, err := NewPool(PoolConfig{BlockHistory: 2})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	oldBlock := testBlockHash(1)
	pool.ObserveBestBlock(oldBlock)
	hash, err := pool.Add(poolTransaction(oldBlock, 1))
	if err != nil {
		t.Fatalf("Failed to add transaction: %v", err)
	}

	// One newer block keeps the anchor in the history window.
	pool.ObserveBestBlock(testBlockHash(2))
	if pool.Len() != 1 {
		t.Fatalf("Transaction pruned too early: len %d", pool.Len())
	}

	// The next block evicts the anchor and with it the transaction.
	pool.ObserveBestBlock(testBlockHash(3))
	if pool.Len() != 0 {
		t.Fatalf("Stale transaction not pruned: len %d", pool.Len())
	}
	if _, found := pool.Get(hash); found {
		t.Error("Pruned transaction still retrievable")
	}
	if pool.Bytes() != 0 {
		t.Errorf("Pool bytes not reclaimed: %d", pool.Bytes())
	}
}
