package contracts

import "github.com/fortiblox/cirrus/pkg/buffer"

// Limits shared by the executor and contract tooling.
const (
	// MaxCodeSize is the largest contract code blob the code contract
	// accepts.
	MaxCodeSize = 1 << 20

	// MaxTotalMethodArgs caps a method's declared arguments plus its
	// implicit self.
	MaxTotalMethodArgs = 8
)

// StateArg is the state ("self") argument of a stateful method. Exactly one
// of RO and RW is set, matching the method kind.
type StateArg struct {
	RO []byte
	RW *buffer.Buffer
}

// SlotArg is one slot or tmp argument. Exactly one of RO and RW is set.
// Address is the slot owner for slot arguments and null for tmp arguments.
type SlotArg struct {
	Address Address
	RO      []byte
	RW      *buffer.Buffer
}

// MethodCall carries the marshaled arguments of one invocation, in metadata
// order within each group.
type MethodCall struct {
	// State is the self argument, nil for stateless methods.
	State *StateArg

	// Slots are the tmp and slot arguments.
	Slots []SlotArg

	// Inputs are the input payloads.
	Inputs [][]byte

	// Outputs are the output buffers. Lengths are zeroed before the call;
	// an init method's last output is the newly created state and must be
	// written non-empty.
	Outputs []*buffer.Buffer
}

// MethodFn is a native method implementation.
type MethodFn func(env *Env, call *MethodCall) error

// Method pairs a method's metadata with its native implementation.
type Method struct {
	// Fingerprint of the method's external shape.
	Fingerprint MethodFingerprint

	// Metadata is the full (non-compact) method metadata.
	Metadata []byte

	// Fn is the native implementation.
	Fn MethodFn
}

// Contract is a native contract: its code identity, its metadata and its
// methods.
type Contract struct {
	// Code is the contract code blob. For native contracts this is the
	// unique code name; the executor keys its registry by it.
	Code []byte

	// Metadata is the full contract metadata the methods were derived
	// from.
	Metadata []byte

	// Methods in declaration order.
	Methods []Method
}
