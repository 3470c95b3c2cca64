// Package flipper implements a minimal stateful example contract: one
// boolean that methods flip and read. It exists to exercise deployment,
// state initialization and stateful dispatch end to end.
package flipper

import (
	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/programs/code"
	"github.com/fortiblox/cirrus/pkg/standards"
)

// CodeName identifies the native implementation in the code registry.
const CodeName = "flipper"

// Method metadata and fingerprints.
var (
	NewMetadata   []byte
	FlipMetadata  []byte
	ValueMetadata []byte

	FingerprintNew   contracts.MethodFingerprint
	FingerprintFlip  contracts.MethodFingerprint
	FingerprintValue contracts.MethodFingerprint
)

var contract *contracts.Contract

func init() {
	newMethod := metadata.NewMethod(metadata.MethodInit, "new").
		Input("init_value", metadata.TypeBool()).
		StateOutput("state")
	flipMethod := metadata.NewMethod(metadata.MethodUpdateStatefulRw, "flip")
	valueMethod := metadata.NewMethod(metadata.MethodViewStateful, "value").
		Output("value", metadata.TypeBool())

	NewMetadata, FingerprintNew = standards.MustMethod(newMethod)
	FlipMetadata, FingerprintFlip = standards.MustMethod(flipMethod)
	ValueMetadata, FingerprintValue = standards.MustMethod(valueMethod)

	contractMetadata := standards.Must(metadata.NewContract(
		standards.Must(metadata.TypeStruct("Flipper",
			metadata.Field{Name: "value", Type: metadata.TypeBool()},
		)),
		metadata.TypeUnit(),
		metadata.TypeUnit(),
	).
		Method(newMethod).
		Method(flipMethod).
		Method(valueMethod).
		Build())

	contract = &contracts.Contract{
		Code:     []byte(CodeName),
		Metadata: contractMetadata,
		Methods: []contracts.Method{
			{Fingerprint: FingerprintNew, Metadata: NewMetadata, Fn: initialize},
			{Fingerprint: FingerprintFlip, Metadata: FlipMetadata, Fn: flip},
			{Fingerprint: FingerprintValue, Metadata: ValueMetadata, Fn: value},
		},
	}
}

// Contract returns the native contract definition.
func Contract() *contracts.Contract {
	return contract
}

func initialize(_ *contracts.Env, call *contracts.MethodCall) error {
	if len(call.Inputs[0]) != 1 {
		return contracts.ErrBadInput
	}
	if !call.Outputs[0].CopyFrom(call.Inputs[0]) {
		return contracts.ErrBadOutput
	}
	return nil
}

func flip(_ *contracts.Env, call *contracts.MethodCall) error {
	state := call.State.RW
	if state.Len() != 1 {
		return contracts.ErrInternalError
	}
	b := state.Bytes()[0] ^ 1
	if !state.CopyFrom([]byte{b}) {
		return contracts.ErrInternalError
	}
	return nil
}

func value(_ *contracts.Env, call *contracts.MethodCall) error {
	state := call.State.RO
	if len(state) != 1 {
		return contracts.ErrInternalError
	}
	if !call.Outputs[0].CopyFrom(state) {
		return contracts.ErrBadOutput
	}
	return nil
}

// Deploy deploys a new flipper and initializes it with initValue.
func Deploy(env *contracts.Env, method contracts.MethodContext, initValue bool) (contracts.Address, error) {
	addr, err := code.Deploy(env, method, contract.Code)
	if err != nil {
		return contracts.AddressNull, err
	}
	if err := New(env, method, addr, initValue); err != nil {
		return contracts.AddressNull, err
	}
	return addr, nil
}

// New initializes a freshly deployed flipper with initValue.
func New(env *contracts.Env, method contracts.MethodContext, addr contracts.Address, initValue bool) error {
	v := []byte{0}
	if initValue {
		v[0] = 1
	}
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    addr,
		Fingerprint: FingerprintNew,
		Inputs:      [][]byte{v},
	})
}

// Flip toggles the value.
func Flip(env *contracts.Env, method contracts.MethodContext, addr contracts.Address) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    addr,
		Fingerprint: FingerprintFlip,
	})
}

// Value reads the value.
func Value(env *contracts.Env, addr contracts.Address) (bool, error) {
	out := buffer.New(1)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    addr,
		Fingerprint: FingerprintValue,
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return false, err
	}
	if out.Len() != 1 {
		return false, contracts.ErrBadOutput
	}
	return out.Bytes()[0] != 0, nil
}
