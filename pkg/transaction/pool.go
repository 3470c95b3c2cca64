package transaction

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Pool errors.
var (
	ErrPoolDuplicate    = errors.New("transaction already in pool")
	ErrPoolUnknownBlock = errors.New("transaction anchored at unknown block")
	ErrPoolFull         = errors.New("pool is full")
	ErrPoolOverCapacity = errors.New("pool byte capacity exceeded")
)

// PoolConfig bounds an in-memory transaction pool.
type PoolConfig struct {
	// MaxTransactions bounds how many transactions the pool holds.
	MaxTransactions int

	// MaxBytes bounds the total wire size of pooled transactions.
	MaxBytes uint64

	// BlockHistory is how many recent best blocks a transaction may be
	// anchored at. Older anchors are pruned.
	BlockHistory int
}

const (
	defaultPoolMaxTransactions = 4096
	defaultPoolMaxBytes        = 64 << 20
	defaultPoolBlockHistory    = 32
)

type poolEntry struct {
	tx         *Transaction
	size       uint64
	authorized bool
}

// Pool is an in-memory transaction pool. Transactions enter unauthorized,
// are marked once verification succeeds, and leave when included or when
// their anchor block falls out of the history window.
//
// ObserveBestBlock must be called at least once before transactions are
// accepted.
type Pool struct {
	mu      sync.Mutex
	cfg     PoolConfig
	blocks  *lru.Cache[BlockHash, struct{}]
	entries map[Hash]*poolEntry
	order   []Hash
	bytes   uint64
}

// NewPool returns an empty pool. Zero config fields get defaults.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.MaxTransactions <= 0 {
		cfg.MaxTransactions = defaultPoolMaxTransactions
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = defaultPoolMaxBytes
	}
	if cfg.BlockHistory <= 0 {
		cfg.BlockHistory = defaultPoolBlockHistory
	}
	blocks, err := lru.New[BlockHash, struct{}](cfg.BlockHistory)
	if err != nil {
		return nil, err
	}
	return &Pool{
		cfg:     cfg,
		blocks:  blocks,
		entries: make(map[Hash]*poolEntry),
	}, nil
}

// ObserveBestBlock records a new best block and prunes transactions whose
// anchor block fell out of the history window.
func (p *Pool) ObserveBestBlock(hash BlockHash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.blocks.Add(hash, struct{}{})

	kept := p.order[:0]
	for _, txHash := range p.order {
		entry := p.entries[txHash]
		if p.blocks.Contains(entry.tx.Header.BlockHash) {
			kept = append(kept, txHash)
			continue
		}
		p.bytes -= entry.size
		delete(p.entries, txHash)
	}
	p.order = kept
}

// wireSize is the encoded size of the transaction.
func wireSize(tx *Transaction) uint64 {
	return uint64(prefixSize) +
		uint64(len(tx.ReadSlots)+len(tx.WriteSlots))*SlotSize +
		uint64(len(tx.Payload)) +
		uint64(len(tx.Seal))
}

// Add inserts a transaction and returns its hash.
func (p *Pool) Add(tx *Transaction) (Hash, error) {
	hash := tx.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, found := p.entries[hash]; found {
		return hash, ErrPoolDuplicate
	}
	if !p.blocks.Contains(tx.Header.BlockHash) {
		return hash, ErrPoolUnknownBlock
	}
	if len(p.entries) >= p.cfg.MaxTransactions {
		return hash, ErrPoolFull
	}
	size := wireSize(tx)
	if p.bytes+size > p.cfg.MaxBytes {
		return hash, ErrPoolOverCapacity
	}

	p.entries[hash] = &poolEntry{tx: tx, size: size}
	p.order = append(p.order, hash)
	p.bytes += size
	return hash, nil
}

// Get returns the pooled transaction with the given hash.
func (p *Pool) Get(hash Hash) (*Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, found := p.entries[hash]
	if !found {
		return nil, false
	}
	return entry.tx, true
}

// MarkAuthorized records that the transaction passed verification. Returns
// false if the transaction is not in the pool.
func (p *Pool) MarkAuthorized(hash Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, found := p.entries[hash]
	if !found {
		return false
	}
	entry.authorized = true
	return true
}

// Pending returns up to limit authorized transactions in arrival order.
// A non-positive limit returns all of them.
func (p *Pool) Pending(limit int) []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pending []*Transaction
	for _, hash := range p.order {
		if limit > 0 && len(pending) == limit {
			break
		}
		if entry := p.entries[hash]; entry.authorized {
			pending = append(pending, entry.tx)
		}
	}
	return pending
}

// Remove drops a transaction, typically after inclusion in a block.
func (p *Pool) Remove(hash Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, found := p.entries[hash]
	if !found {
		return false
	}
	p.bytes -= entry.size
	delete(p.entries, hash)
	for i, candidate := range p.order {
		if candidate == hash {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Bytes returns the total wire size of pooled transactions.
func (p *Pool) Bytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}
