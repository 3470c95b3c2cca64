// Package addralloc implements the per-shard address allocator contract.
// Every shard's allocator owns a 2^108 address partition starting at its
// own address and hands addresses out sequentially to the code contract.
package addralloc

import (
	"github.com/holiman/uint256"

	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/standards"
)

// CodeName identifies the native implementation in the code registry.
const CodeName = "system-address-allocator"

const stateSize = 32

// Method metadata and fingerprints.
var (
	NewMetadata             []byte
	AllocateAddressMetadata []byte

	FingerprintNew             contracts.MethodFingerprint
	FingerprintAllocateAddress contracts.MethodFingerprint
)

var contract *contracts.Contract

func init() {
	newMethod := metadata.NewMethod(metadata.MethodInit, "new").
		EnvRo().
		StateOutput("state")
	allocateMethod := metadata.NewMethod(metadata.MethodUpdateStatefulRw, "allocate_address").
		EnvRo().
		Output("address", metadata.TypeAddress())

	NewMetadata, FingerprintNew = standards.MustMethod(newMethod)
	AllocateAddressMetadata, FingerprintAllocateAddress = standards.MustMethod(allocateMethod)

	contractMetadata := standards.Must(metadata.NewContract(
		standards.Must(metadata.TypeStruct("AddressAllocator",
			metadata.Field{Name: "next_address", Type: metadata.TypeAddress()},
			metadata.Field{Name: "max_address", Type: metadata.TypeAddress()},
		)),
		metadata.TypeUnit(),
		metadata.TypeUnit(),
	).
		Method(newMethod).
		Method(allocateMethod).
		Build())

	contract = &contracts.Contract{
		Code:     []byte(CodeName),
		Metadata: contractMetadata,
		Methods: []contracts.Method{
			{Fingerprint: FingerprintNew, Metadata: NewMetadata, Fn: initialize},
			{Fingerprint: FingerprintAllocateAddress, Metadata: AllocateAddressMetadata, Fn: allocateAddress},
		},
	}
}

// Contract returns the native contract definition.
func Contract() *contracts.Contract {
	return contract
}

type allocatorState struct {
	next contracts.Address
	max  contracts.Address
}

func decodeState(b []byte) (allocatorState, bool) {
	if len(b) != stateSize {
		return allocatorState{}, false
	}
	var s allocatorState
	copy(s.next[:], b[:16])
	copy(s.max[:], b[16:])
	return s, true
}

func (s allocatorState) encode() []byte {
	b := make([]byte, 0, stateSize)
	b = append(b, s.next[:]...)
	return append(b, s.max[:]...)
}

func initialize(env *contracts.Env, call *contracts.MethodCall) error {
	base := env.OwnAddress().Uint256()

	span := uint256.NewInt(1)
	span.Lsh(span, 108)
	span.SubUint64(span, 1)

	next, ok := contracts.AddressFromUint256(new(uint256.Int).AddUint64(base, 1))
	if !ok {
		return contracts.ErrInternalError
	}
	max, ok := contracts.AddressFromUint256(new(uint256.Int).Add(base, span))
	if !ok {
		return contracts.ErrInternalError
	}

	state := allocatorState{next: next, max: max}
	if !call.Outputs[0].CopyFrom(state.encode()) {
		return contracts.ErrBadOutput
	}
	return nil
}

func allocateAddress(env *contracts.Env, call *contracts.MethodCall) error {
	// Only the code contract may mint addresses; everything else goes
	// through a deployment.
	if env.Caller() != contracts.AddressSystemCode {
		return contracts.ErrForbidden
	}

	state, ok := decodeState(call.State.RW.Bytes())
	if !ok {
		return contracts.ErrInternalError
	}
	next := state.next.Uint256()
	if next.Cmp(state.max.Uint256()) > 0 {
		// Partition exhausted.
		return contracts.ErrForbidden
	}

	if !call.Outputs[0].CopyFrom(state.next[:]) {
		return contracts.ErrBadOutput
	}

	state.next, ok = contracts.AddressFromUint256(next.AddUint64(next, 1))
	if !ok {
		return contracts.ErrInternalError
	}
	if !call.State.RW.CopyFrom(state.encode()) {
		return contracts.ErrInternalError
	}
	return nil
}

// New initializes the allocator's own state. Called once per shard when the
// system contracts are bootstrapped.
func New(env *contracts.Env, method contracts.MethodContext, allocator contracts.Address) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    allocator,
		Fingerprint: FingerprintNew,
	})
}

// AllocateAddress returns the next free address of the allocator's
// partition.
func AllocateAddress(env *contracts.Env, method contracts.MethodContext, allocator contracts.Address) (contracts.Address, error) {
	out := buffer.New(16)
	err := env.Call(method, &contracts.PreparedMethod{
		Contract:    allocator,
		Fingerprint: FingerprintAllocateAddress,
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return contracts.Address{}, err
	}
	if out.Len() != 16 {
		return contracts.Address{}, contracts.ErrBadOutput
	}
	var addr contracts.Address
	copy(addr[:], out.Bytes())
	return addr, nil
}
