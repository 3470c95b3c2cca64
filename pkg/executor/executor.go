// Package executor implements the native contract executor: a registry of
// native methods keyed by contract code and method fingerprint, and the
// dispatcher that runs transactions against a transactional slot store.
package executor

import (
	"errors"
	"fmt"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/logging"
	"github.com/fortiblox/cirrus/pkg/programs/addralloc"
	"github.com/fortiblox/cirrus/pkg/programs/code"
	"github.com/fortiblox/cirrus/pkg/programs/state"
	"github.com/fortiblox/cirrus/pkg/programs/token"
	"github.com/fortiblox/cirrus/pkg/programs/wallet"
)

// Build-time errors. A contract that trips one of these is misassembled;
// there is no point starting the executor.
var (
	ErrContractMetadataNotFound           = errors.New("contract metadata not found")
	ErrContractMetadataDecoding           = errors.New("contract metadata decoding error")
	ErrExpectedContractMetadataFoundTrait = errors.New("expected contract metadata, found trait")
	ErrDuplicateMethodInContract          = errors.New("duplicate method fingerprint in contract")
	ErrInvalidShardIndex                  = errors.New("invalid shard index")
)

type registryKey struct {
	code        string
	fingerprint contracts.MethodFingerprint
}

type methodDetails struct {
	stateCapacity uint32
	slotCapacity  uint32
	tmpCapacity   uint32
	metadata      []byte
	fn            contracts.MethodFn
}

type builderEntry struct {
	contract *contracts.Contract
	methods  []contracts.Method
}

// Builder assembles an Executor. The system contracts are pre-registered;
// WithContract and WithContractTrait add application contracts.
type Builder struct {
	shard   contracts.ShardIndex
	logger  logging.Logger
	entries []builderEntry
}

// NewBuilder returns a builder for the given shard. A nil logger disables
// logging.
func NewBuilder(shard contracts.ShardIndex, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Nop()
	}
	b := &Builder{shard: shard, logger: logger}
	return b.
		WithContract(code.Contract()).
		WithContract(state.Contract()).
		WithContract(addralloc.Contract()).
		WithContract(token.Contract()).
		WithContractTrait(token.Contract(), token.Fungible()).
		WithContract(wallet.Contract())
}

// WithContract registers a contract's own methods.
func (b *Builder) WithContract(c *contracts.Contract) *Builder {
	b.entries = append(b.entries, builderEntry{contract: c, methods: c.Methods})
	return b
}

// WithContractTrait registers a trait implementation of a contract. The
// methods carry the trait's fingerprints but run with the contract's
// capacities.
func (b *Builder) WithContractTrait(c *contracts.Contract, methods []contracts.Method) *Builder {
	b.entries = append(b.entries, builderEntry{contract: c, methods: methods})
	return b
}

// Build verifies every registered contract and returns the executor.
// Shard 0's address partition starts at the null address, so it cannot be
// served.
func (b *Builder) Build() (*Executor, error) {
	if !b.shard.Valid() || b.shard == 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShardIndex, b.shard)
	}

	registry := make(map[registryKey]methodDetails)
	for _, entry := range b.entries {
		if len(entry.contract.Metadata) == 0 {
			return nil, ErrContractMetadataNotFound
		}
		container, err := metadata.NewDecoder(entry.contract.Metadata).DecodeNext()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContractMetadataDecoding, err)
		}
		if container == nil {
			return nil, ErrContractMetadataNotFound
		}
		if container.Kind == metadata.KindTrait {
			return nil, fmt.Errorf("%w: %q", ErrExpectedContractMetadataFoundTrait, container.TraitName)
		}

		for _, m := range entry.methods {
			key := registryKey{
				code:        string(entry.contract.Code),
				fingerprint: m.Fingerprint,
			}
			if _, dup := registry[key]; dup {
				return nil, fmt.Errorf("%w: code=%q fingerprint=%s",
					ErrDuplicateMethodInContract, entry.contract.Code, m.Fingerprint)
			}
			registry[key] = methodDetails{
				stateCapacity: container.State.RecommendedCapacity,
				slotCapacity:  container.Slot.RecommendedCapacity,
				tmpCapacity:   container.Tmp.RecommendedCapacity,
				metadata:      m.Metadata,
				fn:            m.Fn,
			}
		}
	}

	return &Executor{
		shard:     b.shard,
		allocator: contracts.SystemAddressAllocator(b.shard),
		registry:  registry,
		logger:    b.logger,
	}, nil
}

// Executor runs native methods against slot storage. It is immutable after
// Build and safe to share; the slot storage passed to the transaction
// methods is what carries per-transaction state.
type Executor struct {
	shard     contracts.ShardIndex
	allocator contracts.Address
	registry  map[registryKey]methodDetails
	logger    logging.Logger
}

// Shard returns the shard this executor serves.
func (e *Executor) Shard() contracts.ShardIndex {
	return e.shard
}

// Allocator returns the address of the shard's address allocator.
func (e *Executor) Allocator() contracts.Address {
	return e.allocator
}
