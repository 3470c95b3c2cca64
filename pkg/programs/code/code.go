// Package code implements the system code contract. It owns every deployed
// code slot: deployment allocates a fresh address through the shard's
// address allocator and stores the code under it, and the executor resolves
// callees by reading these slots.
package code

import (
	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/programs/addralloc"
	"github.com/fortiblox/cirrus/pkg/standards"
)

// Address of the code contract.
var Address = contracts.AddressSystemCode

// CodeName identifies the native implementation in the code registry.
const CodeName = "system-code"

// Method metadata and fingerprints.
var (
	DeployMetadata []byte
	StoreMetadata  []byte
	ReadMetadata   []byte

	FingerprintDeploy contracts.MethodFingerprint
	FingerprintStore  contracts.MethodFingerprint
	FingerprintRead   contracts.MethodFingerprint
)

var contract *contracts.Contract

func init() {
	typeCode := metadata.TypeVariableBytes(contracts.MaxCodeSize)

	deployMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "deploy").
		EnvRw().
		Input("code", typeCode).
		Output("new_contract_address", metadata.TypeAddress())
	storeMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "store").
		EnvRo().
		SlotRw("code").
		Input("new_code", typeCode)
	readMethod := metadata.NewMethod(metadata.MethodViewStateless, "read").
		SlotRo("code").
		Output("code", typeCode)

	DeployMetadata, FingerprintDeploy = standards.MustMethod(deployMethod)
	StoreMetadata, FingerprintStore = standards.MustMethod(storeMethod)
	ReadMetadata, FingerprintRead = standards.MustMethod(readMethod)

	contractMetadata := standards.Must(metadata.NewContract(
		standards.Must(metadata.TypeStruct("Code")),
		typeCode,
		metadata.TypeUnit(),
	).
		Method(deployMethod).
		Method(storeMethod).
		Method(readMethod).
		Build())

	contract = &contracts.Contract{
		Code:     []byte(CodeName),
		Metadata: contractMetadata,
		Methods: []contracts.Method{
			{Fingerprint: FingerprintDeploy, Metadata: DeployMetadata, Fn: deploy},
			{Fingerprint: FingerprintStore, Metadata: StoreMetadata, Fn: store},
			{Fingerprint: FingerprintRead, Metadata: ReadMetadata, Fn: read},
		},
	}
}

// Contract returns the native contract definition.
func Contract() *contracts.Contract {
	return contract
}

func deploy(env *contracts.Env, call *contracts.MethodCall) error {
	newCode := call.Inputs[0]
	if len(newCode) == 0 || len(newCode) > contracts.MaxCodeSize {
		return contracts.ErrBadInput
	}

	allocator := contracts.SystemAddressAllocator(env.Shard())
	addr, err := addralloc.AllocateAddress(env, contracts.MethodContextReplace, allocator)
	if err != nil {
		return err
	}
	if err := Store(env, contracts.MethodContextReplace, addr, newCode); err != nil {
		return err
	}

	if !call.Outputs[0].CopyFrom(addr[:]) {
		return contracts.ErrBadOutput
	}
	return nil
}

func store(env *contracts.Env, call *contracts.MethodCall) error {
	slot := &call.Slots[0]
	caller := env.Caller()
	// The bootstrap (null), a deployment (the code contract itself) and
	// the owner replacing its own code are allowed.
	if !caller.IsNull() && caller != env.OwnAddress() && caller != slot.Address {
		return contracts.ErrForbidden
	}
	if len(call.Inputs[0]) == 0 {
		return contracts.ErrBadInput
	}
	if !slot.RW.CopyFrom(call.Inputs[0]) {
		return contracts.ErrBadInput
	}
	return nil
}

func read(_ *contracts.Env, call *contracts.MethodCall) error {
	if !call.Outputs[0].CopyFrom(call.Slots[0].RO) {
		return contracts.ErrBadOutput
	}
	return nil
}

// Deploy allocates a fresh address and stores newCode under it, returning
// the new contract's address.
func Deploy(env *contracts.Env, method contracts.MethodContext, newCode []byte) (contracts.Address, error) {
	out := buffer.New(16)
	err := env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintDeploy,
		Inputs:      [][]byte{newCode},
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

// Store replaces the code stored under owner.
func Store(env *contracts.Env, method contracts.MethodContext, owner contracts.Address, newCode []byte) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintStore,
		Slots:       []contracts.Address{owner},
		Inputs:      [][]byte{newCode},
	})
}

// Read returns the code stored under owner.
func Read(env *contracts.Env, owner contracts.Address) ([]byte, error) {
	out := buffer.New(contracts.MaxCodeSize)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintRead,
		Slots:       []contracts.Address{owner},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
