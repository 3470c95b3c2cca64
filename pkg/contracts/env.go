package contracts

import (
	"github.com/mr-tron/base58"

	"github.com/fortiblox/cirrus/pkg/buffer"
)

// MethodContext selects the context address the callee observes when a
// method is invoked through Env.Call.
type MethodContext byte

const (
	// MethodContextKeep keeps the caller's context.
	MethodContextKeep MethodContext = iota
	// MethodContextReset sets the context to the null address.
	MethodContextReset
	// MethodContextReplace sets the context to the caller's own address.
	MethodContextReplace
)

// EnvState is the address tuple a method observes while executing.
type EnvState struct {
	// Shard is the shard this executor instance serves.
	Shard ShardIndex

	// OwnAddress is the address of the executing contract.
	OwnAddress Address

	// ContextAddress is the context the call chain carries; it is what
	// contracts authorize against.
	ContextAddress Address

	// Caller is the immediate caller's address. Null for the entry point.
	Caller Address
}

// MethodFingerprint identifies one method's external shape. Two methods
// with the same fingerprint are interchangeable at call sites.
type MethodFingerprint [32]byte

// String returns the base58 form.
func (f MethodFingerprint) String() string {
	return base58.Encode(f[:])
}

// PreparedMethod describes one method invocation: the callee, the method
// and the caller-provided arguments in metadata order.
type PreparedMethod struct {
	// Contract is the callee address.
	Contract Address

	// Fingerprint selects the method.
	Fingerprint MethodFingerprint

	// Slots are the slot owner addresses consumed by slot arguments,
	// in metadata order.
	Slots []Address

	// Inputs are the input argument payloads, in metadata order.
	Inputs [][]byte

	// Outputs receive the output argument results, in metadata order.
	// Buffers must be allocated by the caller; their lengths are reset
	// before the call.
	Outputs []*buffer.Buffer
}

// EnvCaller dispatches a prepared method call on behalf of an environment
// handle. The executor implements it.
type EnvCaller interface {
	Call(from EnvState, method MethodContext, prepared *PreparedMethod) error
}

// Env is the environment handle passed to native methods. It exposes the
// caller/context addresses and dispatches nested calls.
//
// A sealed handle (no dispatcher) rejects every call with ErrForbidden;
// methods whose metadata declares no environment argument receive one.
type Env struct {
	state  EnvState
	caller EnvCaller
}

// NewEnv returns an environment handle over the given state. A nil caller
// seals the handle.
func NewEnv(state EnvState, caller EnvCaller) *Env {
	return &Env{state: state, caller: caller}
}

// Shard returns the shard index.
func (e *Env) Shard() ShardIndex {
	return e.state.Shard
}

// OwnAddress returns the executing contract's address.
func (e *Env) OwnAddress() Address {
	return e.state.OwnAddress
}

// ContextAddress returns the context address.
func (e *Env) ContextAddress() Address {
	return e.state.ContextAddress
}

// Caller returns the immediate caller's address.
func (e *Env) Caller() Address {
	return e.state.Caller
}

// Call invokes a prepared method. The callee observes own = the prepared
// contract, caller = this environment's own address and a context chosen by
// the method context.
func (e *Env) Call(method MethodContext, prepared *PreparedMethod) error {
	if e.caller == nil {
		return ErrForbidden
	}
	return e.caller.Call(e.state, method, prepared)
}
