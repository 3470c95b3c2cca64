// Package metadata implements the self-describing contract metadata format:
// decoding with nested cursors, encoding for native contracts, the compact
// form and method fingerprints derived from it.
//
// Metadata is a flat byte string. A contract container describes its state,
// slot and tmp types followed by its methods; a trait container describes
// name and methods only. Methods carry their arguments inline; input and
// output arguments embed a recursive type description.
package metadata

import "fmt"

// Kind is the leading tag of every metadata construct.
type Kind byte

const (
	// KindContract is a contract container.
	KindContract Kind = iota
	// KindTrait is a trait container.
	KindTrait

	// KindInit is a method that creates the contract's state.
	KindInit
	// KindUpdateStateless is an update method without self.
	KindUpdateStateless
	// KindUpdateStatefulRo is an update method reading self.
	KindUpdateStatefulRo
	// KindUpdateStatefulRw is an update method mutating self.
	KindUpdateStatefulRw
	// KindViewStateless is a view method without self.
	KindViewStateless
	// KindViewStateful is a view method reading self.
	KindViewStateful

	// KindEnvRo is a read-only environment argument.
	KindEnvRo
	// KindEnvRw is a read-write environment argument.
	KindEnvRw
	// KindTmpRo is a read-only tmp argument.
	KindTmpRo
	// KindTmpRw is a read-write tmp argument.
	KindTmpRw
	// KindSlotRo is a read-only slot argument.
	KindSlotRo
	// KindSlotRw is a read-write slot argument.
	KindSlotRw
	// KindInput is an input argument.
	KindInput
	// KindOutput is an output argument.
	KindOutput
)

// kindFromByte returns the Kind for b, or false for bytes outside the tag
// table.
func kindFromByte(b byte) (Kind, bool) {
	if b > byte(KindOutput) {
		return 0, false
	}
	return Kind(b), true
}

func (k Kind) String() string {
	switch k {
	case KindContract:
		return "Contract"
	case KindTrait:
		return "Trait"
	case KindInit:
		return "Init"
	case KindUpdateStateless:
		return "UpdateStateless"
	case KindUpdateStatefulRo:
		return "UpdateStatefulRo"
	case KindUpdateStatefulRw:
		return "UpdateStatefulRw"
	case KindViewStateless:
		return "ViewStateless"
	case KindViewStateful:
		return "ViewStateful"
	case KindEnvRo:
		return "EnvRo"
	case KindEnvRw:
		return "EnvRw"
	case KindTmpRo:
		return "TmpRo"
	case KindTmpRw:
		return "TmpRw"
	case KindSlotRo:
		return "SlotRo"
	case KindSlotRw:
		return "SlotRw"
	case KindInput:
		return "Input"
	case KindOutput:
		return "Output"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// ContainerKind tells a method decoder which container the method came
// from, which constrains the method kinds allowed.
type ContainerKind byte

const (
	// ContainerContract allows all method kinds.
	ContainerContract ContainerKind = iota
	// ContainerTrait allows only stateless methods.
	ContainerTrait
	// ContainerUnknown places no container constraint; used when decoding
	// a method in isolation.
	ContainerUnknown
)

func (c ContainerKind) String() string {
	switch c {
	case ContainerContract:
		return "Contract"
	case ContainerTrait:
		return "Trait"
	default:
		return "Unknown"
	}
}

// MethodKind classifies a method.
type MethodKind byte

const (
	MethodInit MethodKind = iota
	MethodUpdateStateless
	MethodUpdateStatefulRo
	MethodUpdateStatefulRw
	MethodViewStateless
	MethodViewStateful
)

// methodKindOf maps a metadata tag to a method kind. The second result is
// false for non-method tags.
func methodKindOf(k Kind) (MethodKind, bool) {
	switch k {
	case KindInit:
		return MethodInit, true
	case KindUpdateStateless:
		return MethodUpdateStateless, true
	case KindUpdateStatefulRo:
		return MethodUpdateStatefulRo, true
	case KindUpdateStatefulRw:
		return MethodUpdateStatefulRw, true
	case KindViewStateless:
		return MethodViewStateless, true
	case KindViewStateful:
		return MethodViewStateful, true
	default:
		return 0, false
	}
}

// HasSelf reports whether methods of this kind take the contract's state as
// an implicit argument.
func (m MethodKind) HasSelf() bool {
	switch m {
	case MethodUpdateStatefulRo, MethodUpdateStatefulRw, MethodViewStateful:
		return true
	default:
		return false
	}
}

// IsView reports whether the method is a view (stateless or stateful).
func (m MethodKind) IsView() bool {
	return m == MethodViewStateless || m == MethodViewStateful
}

// allowedIn reports whether the method kind may appear in the container.
func (m MethodKind) allowedIn(c ContainerKind) bool {
	if c != ContainerTrait {
		return true
	}
	return m == MethodUpdateStateless || m == MethodViewStateless
}

func (m MethodKind) String() string {
	switch m {
	case MethodInit:
		return "Init"
	case MethodUpdateStateless:
		return "UpdateStateless"
	case MethodUpdateStatefulRo:
		return "UpdateStatefulRo"
	case MethodUpdateStatefulRw:
		return "UpdateStatefulRw"
	case MethodViewStateless:
		return "ViewStateless"
	case MethodViewStateful:
		return "ViewStateful"
	default:
		return fmt.Sprintf("MethodKind(%d)", byte(m))
	}
}

// ArgumentKind classifies a method argument.
type ArgumentKind byte

const (
	ArgumentEnvRo ArgumentKind = iota
	ArgumentEnvRw
	ArgumentTmpRo
	ArgumentTmpRw
	ArgumentSlotRo
	ArgumentSlotRw
	ArgumentInput
	ArgumentOutput
)

// argumentKindOf maps a metadata tag to an argument kind. The second result
// is false for non-argument tags.
func argumentKindOf(k Kind) (ArgumentKind, bool) {
	switch k {
	case KindEnvRo:
		return ArgumentEnvRo, true
	case KindEnvRw:
		return ArgumentEnvRw, true
	case KindTmpRo:
		return ArgumentTmpRo, true
	case KindTmpRw:
		return ArgumentTmpRw, true
	case KindSlotRo:
		return ArgumentSlotRo, true
	case KindSlotRw:
		return ArgumentSlotRw, true
	case KindInput:
		return ArgumentInput, true
	case KindOutput:
		return ArgumentOutput, true
	default:
		return 0, false
	}
}

// allowedIn reports whether the argument kind may appear in a method of the
// given kind. Views are restricted to read-only arguments without tmp
// access; argument order is not constrained.
func (a ArgumentKind) allowedIn(m MethodKind) bool {
	if !m.IsView() {
		return true
	}
	switch a {
	case ArgumentEnvRo, ArgumentSlotRo, ArgumentInput, ArgumentOutput:
		return true
	default:
		return false
	}
}

func (a ArgumentKind) String() string {
	switch a {
	case ArgumentEnvRo:
		return "EnvRo"
	case ArgumentEnvRw:
		return "EnvRw"
	case ArgumentTmpRo:
		return "TmpRo"
	case ArgumentTmpRw:
		return "TmpRw"
	case ArgumentSlotRo:
		return "SlotRo"
	case ArgumentSlotRw:
		return "SlotRw"
	case ArgumentInput:
		return "Input"
	case ArgumentOutput:
		return "Output"
	default:
		return fmt.Sprintf("ArgumentKind(%d)", byte(a))
	}
}
