// Package state implements the system state contract. Contracts that keep
// their state outside the executor's own state binding (wallets managing
// their state across delegated calls, most notably) store it here as a
// slot record owned by the contract itself.
package state

import (
	"bytes"

	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/standards"
)

// Address of the state contract.
var Address = contracts.AddressSystemState

// CodeName identifies the native implementation in the code registry.
const CodeName = "system-state"

// RecommendedCapacity is the allocation recommended for state records.
const RecommendedCapacity = 1024

// Method metadata and fingerprints.
var (
	InitializeMetadata      []byte
	WriteMetadata           []byte
	CompareAndWriteMetadata []byte
	ReadMetadata            []byte
	IsEmptyMetadata         []byte

	FingerprintInitialize      contracts.MethodFingerprint
	FingerprintWrite           contracts.MethodFingerprint
	FingerprintCompareAndWrite contracts.MethodFingerprint
	FingerprintRead            contracts.MethodFingerprint
	FingerprintIsEmpty         contracts.MethodFingerprint
)

var contract *contracts.Contract

func init() {
	typeRecord := metadata.TypeVariableBytes(RecommendedCapacity)

	initializeMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "initialize").
		EnvRo().
		SlotRw("target").
		Input("state", typeRecord)
	writeMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "write").
		EnvRo().
		SlotRw("target").
		Input("state", typeRecord)
	compareAndWriteMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "compare_and_write").
		EnvRo().
		SlotRw("target").
		Input("old_state", typeRecord).
		Input("new_state", typeRecord).
		Output("written", metadata.TypeBool())
	readMethod := metadata.NewMethod(metadata.MethodViewStateless, "read").
		SlotRo("target").
		Output("state", typeRecord)
	isEmptyMethod := metadata.NewMethod(metadata.MethodViewStateless, "is_empty").
		SlotRo("target").
		Output("is_empty", metadata.TypeBool())

	InitializeMetadata, FingerprintInitialize = standards.MustMethod(initializeMethod)
	WriteMetadata, FingerprintWrite = standards.MustMethod(writeMethod)
	CompareAndWriteMetadata, FingerprintCompareAndWrite = standards.MustMethod(compareAndWriteMethod)
	ReadMetadata, FingerprintRead = standards.MustMethod(readMethod)
	IsEmptyMetadata, FingerprintIsEmpty = standards.MustMethod(isEmptyMethod)

	contractMetadata := standards.Must(metadata.NewContract(
		standards.Must(metadata.TypeStruct("State")),
		typeRecord,
		metadata.TypeUnit(),
	).
		Method(initializeMethod).
		Method(writeMethod).
		Method(compareAndWriteMethod).
		Method(readMethod).
		Method(isEmptyMethod).
		Build())

	contract = &contracts.Contract{
		Code:     []byte(CodeName),
		Metadata: contractMetadata,
		Methods: []contracts.Method{
			{Fingerprint: FingerprintInitialize, Metadata: InitializeMetadata, Fn: initialize},
			{Fingerprint: FingerprintWrite, Metadata: WriteMetadata, Fn: write},
			{Fingerprint: FingerprintCompareAndWrite, Metadata: CompareAndWriteMetadata, Fn: compareAndWrite},
			{Fingerprint: FingerprintRead, Metadata: ReadMetadata, Fn: read},
			{Fingerprint: FingerprintIsEmpty, Metadata: IsEmptyMetadata, Fn: isEmpty},
		},
	}
}

// Contract returns the native contract definition.
func Contract() *contracts.Contract {
	return contract
}

// Only the owner of a record may create or change it. The records are slot
// contents, so concurrent access control comes from the slot engine.

func initialize(env *contracts.Env, call *contracts.MethodCall) error {
	slot := &call.Slots[0]
	if env.Caller() != slot.Address {
		return contracts.ErrForbidden
	}
	if slot.RW.Len() != 0 {
		return contracts.ErrConflict
	}
	if !slot.RW.CopyFrom(call.Inputs[0]) {
		return contracts.ErrBadInput
	}
	return nil
}

func write(env *contracts.Env, call *contracts.MethodCall) error {
	slot := &call.Slots[0]
	if env.Caller() != slot.Address {
		return contracts.ErrForbidden
	}
	if !slot.RW.CopyFrom(call.Inputs[0]) {
		return contracts.ErrBadInput
	}
	return nil
}

func compareAndWrite(env *contracts.Env, call *contracts.MethodCall) error {
	slot := &call.Slots[0]
	if env.Caller() != slot.Address {
		return contracts.ErrForbidden
	}
	written := bytes.Equal(slot.RW.Bytes(), call.Inputs[0])
	if written {
		if !slot.RW.CopyFrom(call.Inputs[1]) {
			return contracts.ErrBadInput
		}
	}
	return writeBool(call.Outputs[0], written)
}

func read(_ *contracts.Env, call *contracts.MethodCall) error {
	if !call.Outputs[0].CopyFrom(call.Slots[0].RO) {
		return contracts.ErrBadOutput
	}
	return nil
}

func isEmpty(_ *contracts.Env, call *contracts.MethodCall) error {
	return writeBool(call.Outputs[0], len(call.Slots[0].RO) == 0)
}

func writeBool(out *buffer.Buffer, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	if !out.CopyFrom([]byte{b}) {
		return contracts.ErrBadOutput
	}
	return nil
}

func parseBool(out *buffer.Buffer) (bool, error) {
	if out.Len() != 1 {
		return false, contracts.ErrBadOutput
	}
	return out.Bytes()[0] != 0, nil
}

// Initialize creates owner's record holding data. Fails with ErrConflict
// when the record already exists and ErrForbidden unless the caller is the
// owner.
func Initialize(env *contracts.Env, method contracts.MethodContext, owner contracts.Address, data []byte) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintInitialize,
		Slots:       []contracts.Address{owner},
		Inputs:      [][]byte{data},
	})
}

// Write replaces owner's record with data.
func Write(env *contracts.Env, method contracts.MethodContext, owner contracts.Address, data []byte) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintWrite,
		Slots:       []contracts.Address{owner},
		Inputs:      [][]byte{data},
	})
}

// CompareAndWrite replaces owner's record with newData only when its
// current contents equal oldData, reporting whether the write happened.
func CompareAndWrite(env *contracts.Env, method contracts.MethodContext, owner contracts.Address, oldData, newData []byte) (bool, error) {
	out := buffer.New(1)
	err := env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintCompareAndWrite,
		Slots:       []contracts.Address{owner},
		Inputs:      [][]byte{oldData, newData},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return false, err
	}
	return parseBool(out)
}

// Read returns the contents of owner's record. A missing record reads as
// empty.
func Read(env *contracts.Env, owner contracts.Address) ([]byte, error) {
	out := buffer.New(RecommendedCapacity)
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

// IsEmpty reports whether owner's record is missing or empty.
func IsEmpty(env *contracts.Env, owner contracts.Address) (bool, error) {
	out := buffer.New(1)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintIsEmpty,
		Slots:       []contracts.Address{owner},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return false, err
	}
	return parseBool(out)
}
