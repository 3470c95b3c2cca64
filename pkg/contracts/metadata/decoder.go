package metadata

import (
	"errors"
	"fmt"
)

// Metadata decoding errors. Decoders wrap these with the offending byte or
// kind where it helps.
var (
	// ErrNotEnoughMetadata means the input ended mid-construct.
	ErrNotEnoughMetadata = errors.New("not enough metadata to decode")

	// ErrInvalidFirstMetadataByte means a construct started with a byte
	// outside the tag table.
	ErrInvalidFirstMetadataByte = errors.New("invalid first metadata byte")

	// ErrMultipleContractsFound means a second contract container was
	// found in one metadata string.
	ErrMultipleContractsFound = errors.New("multiple contracts found")

	// ErrExpectedContractOrTrait means a method or argument tag appeared
	// at the top level.
	ErrExpectedContractOrTrait = errors.New("expected contract or trait kind, found something else")

	// ErrFailedToDecodeStateTypeName means the contract's state type name
	// could not be read.
	ErrFailedToDecodeStateTypeName = errors.New("failed to decode state type name")

	// ErrInvalidStateIoType means one of the contract's state, slot or tmp
	// types could not be decoded.
	ErrInvalidStateIoType = errors.New("invalid state I/O type")

	// ErrUnexpectedMethodKind means the method kind is not allowed in its
	// container.
	ErrUnexpectedMethodKind = errors.New("unexpected method kind")

	// ErrExpectedMethodKind means a non-method tag appeared where a method
	// was expected.
	ErrExpectedMethodKind = errors.New("expected method kind, found something else")

	// ErrExpectedArgumentKind means a non-argument tag appeared where an
	// argument was expected.
	ErrExpectedArgumentKind = errors.New("expected argument kind, found something else")

	// ErrUnexpectedArgumentKind means the argument kind is not allowed in
	// its method.
	ErrUnexpectedArgumentKind = errors.New("unexpected argument kind")

	// ErrInvalidArgumentIoType means an input or output argument's type
	// could not be decoded.
	ErrInvalidArgumentIoType = errors.New("invalid argument I/O type")
)

// cursor is the shared position all nested decoders advance. Decoders hand
// out sub-decoders borrowing the same cursor; a sub-decoder must be
// exhausted before its parent resumes or positions will not line up.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() []byte {
	return c.buf[c.off:]
}

func (c *cursor) left() int {
	return len(c.buf) - c.off
}

// u8 consumes one byte.
func (c *cursor) u8() (byte, bool) {
	if c.off >= len(c.buf) {
		return 0, false
	}
	b := c.buf[c.off]
	c.off++
	return b, true
}

// name consumes a length-prefixed name, requiring extra bytes beyond it to
// remain when extra is positive.
func (c *cursor) name(extra int) ([]byte, bool) {
	n, ok := c.u8()
	if !ok {
		return nil, false
	}
	if c.left() < int(n)+extra {
		return nil, false
	}
	name := c.buf[c.off : c.off+int(n)]
	c.off += int(n)
	return name, true
}

// advanceTo moves the cursor so that rest is what remains. rest must be a
// tail of the cursor's buffer, as returned by DecodeTypeDetails.
func (c *cursor) advanceTo(rest []byte) {
	c.off = len(c.buf) - len(rest)
}

// Decoder iterates the top-level containers of one metadata string.
type Decoder struct {
	cur           cursor
	foundContract bool
}

// NewDecoder returns a decoder over metadata.
func NewDecoder(metadata []byte) *Decoder {
	return &Decoder{cur: cursor{buf: metadata}}
}

// RemainingBytes returns the number of unprocessed metadata bytes.
func (d *Decoder) RemainingBytes() int {
	return d.cur.left()
}

// Container is one decoded container header. Drain Methods before calling
// the parent decoder again.
type Container struct {
	// Kind is KindContract or KindTrait.
	Kind Kind

	// StateTypeName, State, Slot and Tmp are set for contracts. The type
	// details carry the recommended capacities the executor allocates for
	// state, slot and tmp arguments.
	StateTypeName []byte
	State         TypeDetails
	Slot          TypeDetails
	Tmp           TypeDetails

	// TraitName is set for traits.
	TraitName []byte

	// NumMethods the container declares.
	NumMethods int

	methods MethodsDecoder
}

// Methods returns the container's method cursor.
func (c *Container) Methods() *MethodsDecoder {
	return &c.methods
}

// DecodeNext decodes the next container header. It returns nil at the end
// of the metadata. At most one contract container may appear; a method or
// argument tag at this level is an error.
func (d *Decoder) DecodeNext() (*Container, error) {
	if d.cur.left() == 0 {
		return nil, nil
	}

	b, _ := d.cur.u8()
	kind, ok := kindFromByte(b)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidFirstMetadataByte, b)
	}

	switch kind {
	case KindContract:
		if d.foundContract {
			return nil, ErrMultipleContractsFound
		}
		d.foundContract = true
		return d.decodeContract()
	case KindTrait:
		return d.decodeTrait()
	default:
		return nil, fmt.Errorf("%w: %s", ErrExpectedContractOrTrait, kind)
	}
}

func (d *Decoder) decodeContract() (*Container, error) {
	// Peek the state type name without moving the cursor.
	stateTypeName, ok := TypeName(d.cur.remaining())
	if !ok {
		return nil, ErrFailedToDecodeStateTypeName
	}

	var state, slot, tmp TypeDetails
	for _, out := range []*TypeDetails{&state, &slot, &tmp} {
		td, rest, ok := DecodeTypeDetails(d.cur.remaining())
		if !ok {
			return nil, ErrInvalidStateIoType
		}
		*out = td
		d.cur.advanceTo(rest)
	}

	numMethods, ok := d.cur.u8()
	if !ok {
		return nil, ErrNotEnoughMetadata
	}

	return &Container{
		Kind:          KindContract,
		StateTypeName: stateTypeName,
		State:         state,
		Slot:          slot,
		Tmp:           tmp,
		NumMethods:    int(numMethods),
		methods: MethodsDecoder{
			cur:       &d.cur,
			container: ContainerContract,
			remaining: int(numMethods),
		},
	}, nil
}

func (d *Decoder) decodeTrait() (*Container, error) {
	// The extra byte is the method count following the name.
	traitName, ok := d.cur.name(1)
	if !ok {
		return nil, ErrNotEnoughMetadata
	}

	numMethods, ok := d.cur.u8()
	if !ok {
		return nil, ErrNotEnoughMetadata
	}

	return &Container{
		Kind:       KindTrait,
		TraitName:  traitName,
		NumMethods: int(numMethods),
		methods: MethodsDecoder{
			cur:       &d.cur,
			container: ContainerTrait,
			remaining: int(numMethods),
		},
	}, nil
}

// MethodsDecoder iterates the methods of one container.
type MethodsDecoder struct {
	cur       *cursor
	container ContainerKind
	remaining int
}

// RemainingMethods returns the number of methods not yet decoded.
func (m *MethodsDecoder) RemainingMethods() int {
	return m.remaining
}

// RemainingBytes returns the number of unprocessed metadata bytes.
func (m *MethodsDecoder) RemainingBytes() int {
	return m.cur.left()
}

// DecodeNext returns a decoder for the next method, or nil when the
// container's declared methods are exhausted.
func (m *MethodsDecoder) DecodeNext() *MethodDecoder {
	if m.remaining == 0 {
		return nil
	}
	m.remaining--
	return &MethodDecoder{cur: m.cur, container: m.container}
}

// MethodItem is one decoded method header.
type MethodItem struct {
	// Name as bytes, expected to be UTF-8.
	Name []byte

	Kind MethodKind

	// NumArguments the method declares, not counting self.
	NumArguments int
}

// MethodDecoder decodes one method header and hands out its arguments
// cursor.
type MethodDecoder struct {
	cur       *cursor
	container ContainerKind
	own       cursor // backing storage for standalone decoders
}

// NewMethodDecoder returns a decoder over a single method's metadata,
// outside any container. The container kind constrains the method kinds
// accepted.
func NewMethodDecoder(metadata []byte, container ContainerKind) *MethodDecoder {
	d := &MethodDecoder{container: container, own: cursor{buf: metadata}}
	d.cur = &d.own
	return d
}

// RemainingBytes returns the number of unprocessed metadata bytes.
func (d *MethodDecoder) RemainingBytes() int {
	return d.cur.left()
}

// DecodeNext decodes the method header, returning the header and the
// arguments cursor. Drain the arguments before resuming the parent.
func (d *MethodDecoder) DecodeNext() (*MethodItem, *ArgumentsDecoder, error) {
	b, ok := d.cur.u8()
	if !ok {
		return nil, nil, ErrNotEnoughMetadata
	}
	kind, ok := kindFromByte(b)
	if !ok {
		return nil, nil, fmt.Errorf("%w: 0x%02x", ErrInvalidFirstMetadataByte, b)
	}

	methodKind, ok := methodKindOf(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrExpectedMethodKind, kind)
	}
	if !methodKind.allowedIn(d.container) {
		return nil, nil, fmt.Errorf("%w: %s in %s container",
			ErrUnexpectedMethodKind, methodKind, d.container)
	}

	// The extra byte is the argument count following the name.
	name, ok := d.cur.name(1)
	if !ok {
		return nil, nil, ErrNotEnoughMetadata
	}

	numArguments, ok := d.cur.u8()
	if !ok {
		return nil, nil, ErrNotEnoughMetadata
	}

	item := &MethodItem{
		Name:         name,
		Kind:         methodKind,
		NumArguments: int(numArguments),
	}
	args := &ArgumentsDecoder{
		cur:        d.cur,
		methodKind: methodKind,
		remaining:  int(numArguments),
	}
	return item, args, nil
}

// ArgumentItem is one decoded argument.
type ArgumentItem struct {
	// Name as bytes, expected to be UTF-8. Environment arguments are
	// named "env".
	Name []byte

	Kind ArgumentKind

	// TypeDetails of the argument's type. Nil for environment arguments
	// and for the last output of an init method, whose type is the newly
	// created state.
	TypeDetails *TypeDetails
}

// ArgumentsDecoder iterates the arguments of one method.
type ArgumentsDecoder struct {
	cur        *cursor
	methodKind MethodKind
	remaining  int
}

// RemainingArguments returns the number of arguments not yet decoded.
func (a *ArgumentsDecoder) RemainingArguments() int {
	return a.remaining
}

// RemainingBytes returns the number of unprocessed metadata bytes.
func (a *ArgumentsDecoder) RemainingBytes() int {
	return a.cur.left()
}

// DecodeNext decodes the next argument, or returns nil when the method's
// declared arguments are exhausted. Argument kinds are validated against
// the method kind; argument order is not.
func (a *ArgumentsDecoder) DecodeNext() (*ArgumentItem, error) {
	if a.remaining == 0 {
		return nil, nil
	}
	a.remaining--

	b, ok := a.cur.u8()
	if !ok {
		return nil, ErrNotEnoughMetadata
	}
	kind, ok := kindFromByte(b)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidFirstMetadataByte, b)
	}

	argumentKind, ok := argumentKindOf(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExpectedArgumentKind, kind)
	}
	if !argumentKind.allowedIn(a.methodKind) {
		return nil, fmt.Errorf("%w: %s in %s method",
			ErrUnexpectedArgumentKind, argumentKind, a.methodKind)
	}

	if argumentKind == ArgumentEnvRo || argumentKind == ArgumentEnvRw {
		return &ArgumentItem{Name: []byte("env"), Kind: argumentKind}, nil
	}

	name, ok := a.cur.name(0)
	if !ok {
		return nil, ErrNotEnoughMetadata
	}

	item := &ArgumentItem{Name: name, Kind: argumentKind}
	switch argumentKind {
	case ArgumentInput:
		td, rest, ok := DecodeTypeDetails(a.cur.remaining())
		if !ok {
			return nil, fmt.Errorf("%w: %s %q", ErrInvalidArgumentIoType, argumentKind, name)
		}
		a.cur.advanceTo(rest)
		item.TypeDetails = &td
	case ArgumentOutput:
		// The last output of an init method has no type: it is the
		// newly created state.
		if a.methodKind == MethodInit && a.remaining == 0 {
			break
		}
		td, rest, ok := DecodeTypeDetails(a.cur.remaining())
		if !ok {
			return nil, fmt.Errorf("%w: %s %q", ErrInvalidArgumentIoType, argumentKind, name)
		}
		a.cur.advanceTo(rest)
		item.TypeDetails = &td
	}

	return item, nil
}

// Validate walks the entire metadata string, exhausting every container,
// method and argument. It returns the first error encountered, or nil when
// the whole string decodes cleanly with no bytes left over.
func Validate(metadata []byte) error {
	decoder := NewDecoder(metadata)
	for {
		container, err := decoder.DecodeNext()
		if err != nil {
			return err
		}
		if container == nil {
			return nil
		}
		methods := container.Methods()
		for {
			method := methods.DecodeNext()
			if method == nil {
				break
			}
			_, args, err := method.DecodeNext()
			if err != nil {
				return err
			}
			for {
				arg, err := args.DecodeNext()
				if err != nil {
					return err
				}
				if arg == nil {
					break
				}
			}
		}
	}
}
