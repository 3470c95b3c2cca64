package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Metadata encoding errors.
var (
	ErrNameTooLong      = errors.New("name longer than 255 bytes")
	ErrTooManyItems     = errors.New("more than 255 items")
	ErrCapacityTooLarge = errors.New("capacity does not fit the encoding")
	ErrMetadataTooLarge = errors.New("metadata larger than maximum size")
)

// TypeUnit encodes the unit type, the conventional choice for contracts
// without state, slots or tmp storage.
func TypeUnit() []byte { return []byte{byte(IoTypeUnit)} }

// TypeBool encodes a boolean.
func TypeBool() []byte { return []byte{byte(IoTypeBool)} }

// TypeU8 through TypeI128 encode the fixed-width integers.
func TypeU8() []byte   { return []byte{byte(IoTypeU8)} }
func TypeU16() []byte  { return []byte{byte(IoTypeU16)} }
func TypeU32() []byte  { return []byte{byte(IoTypeU32)} }
func TypeU64() []byte  { return []byte{byte(IoTypeU64)} }
func TypeU128() []byte { return []byte{byte(IoTypeU128)} }
func TypeI8() []byte   { return []byte{byte(IoTypeI8)} }
func TypeI16() []byte  { return []byte{byte(IoTypeI16)} }
func TypeI32() []byte  { return []byte{byte(IoTypeI32)} }
func TypeI64() []byte  { return []byte{byte(IoTypeI64)} }
func TypeI128() []byte { return []byte{byte(IoTypeI128)} }

// TypeAddress encodes a contract address.
func TypeAddress() []byte { return []byte{byte(IoTypeAddress)} }

// TypeBalance encodes a token balance.
func TypeBalance() []byte { return []byte{byte(IoTypeBalance)} }

// TypeFixedBytes encodes [u8; size], using the compact alias when one
// exists for the size.
func TypeFixedBytes(size uint32) []byte {
	aliases := []uint32{8, 16, 32, 64, 128, 256, 512, 1024, 2028, 4096}
	for i, alias := range aliases {
		if size == alias {
			return []byte{byte(IoTypeArrayU8x8) + byte(i)}
		}
	}
	return TypeArray(size, TypeU8())
}

// TypeVariableBytes encodes variable-length bytes with the given
// recommended allocation, using the compact alias when one exists.
func TypeVariableBytes(capacity uint32) []byte {
	aliases := []uint32{
		0, 512, 1024, 2028, 4096, 8192, 16384, 32768,
		65536, 131072, 262144, 524288, 1048576,
	}
	for i, alias := range aliases {
		if capacity == alias {
			return []byte{byte(IoTypeVariableBytes0) + byte(i)}
		}
	}
	return appendCounted(IoTypeVariableBytes8b, capacity)
}

// TypeArray encodes [element; count] with the narrowest count field that
// fits.
func TypeArray(count uint32, element []byte) []byte {
	return append(appendCounted(IoTypeArray8b, count), element...)
}

// TypeVariableElements encodes a variable-length sequence of element with
// the given recommended count.
func TypeVariableElements(count uint32, element []byte) []byte {
	if count == 0 {
		return append([]byte{byte(IoTypeVariableElements0)}, element...)
	}
	return append(appendCounted(IoTypeVariableElements8b, count), element...)
}

// TypeFixedCapacityBytes encodes owned bytes of up to capacity, which must
// fit 16 bits.
func TypeFixedCapacityBytes(capacity uint32) ([]byte, error) {
	return fixedCapacity(IoTypeFixedCapacityBytes8b, IoTypeFixedCapacityBytes16b, capacity)
}

// TypeFixedCapacityString encodes an owned UTF-8 string of up to capacity
// bytes, which must fit 16 bits.
func TypeFixedCapacityString(capacity uint32) ([]byte, error) {
	return fixedCapacity(IoTypeFixedCapacityString8b, IoTypeFixedCapacityString16b, capacity)
}

// TypeUnaligned wraps inner, dropping its alignment requirement.
func TypeUnaligned(inner []byte) []byte {
	return append([]byte{byte(IoTypeUnaligned)}, inner...)
}

// Field is one named struct field.
type Field struct {
	Name string
	Type []byte
}

// Variant is one enum variant with named fields.
type Variant struct {
	Name   string
	Fields []Field
}

// TypeStruct encodes a struct with named fields. Counts up to 10 are
// carried in the tag.
func TypeStruct(name string, fields ...Field) ([]byte, error) {
	var out []byte
	if len(fields) <= 10 {
		out = append(out, byte(IoTypeStruct0)+byte(len(fields)))
	} else {
		out = append(out, byte(IoTypeStruct))
	}
	out, err := appendNameAndCount(out, name, len(fields), len(fields) > 10)
	if err != nil {
		return nil, err
	}
	for _, field := range fields {
		if out, err = appendName(out, field.Name); err != nil {
			return nil, err
		}
		out = append(out, field.Type...)
	}
	return capMetadata(out)
}

// TypeTupleStruct encodes a struct with unnamed fields.
func TypeTupleStruct(name string, fieldTypes ...[]byte) ([]byte, error) {
	var out []byte
	generic := len(fieldTypes) == 0 || len(fieldTypes) > 10
	if generic {
		out = append(out, byte(IoTypeTupleStruct))
	} else {
		out = append(out, byte(IoTypeTupleStruct1)+byte(len(fieldTypes)-1))
	}
	out, err := appendNameAndCount(out, name, len(fieldTypes), generic)
	if err != nil {
		return nil, err
	}
	for _, fieldType := range fieldTypes {
		out = append(out, fieldType...)
	}
	return capMetadata(out)
}

// TypeEnum encodes an enum whose variants carry named fields. Every
// variant embeds its own field count.
func TypeEnum(name string, variants ...Variant) ([]byte, error) {
	var out []byte
	generic := len(variants) == 0 || len(variants) > 10
	if generic {
		out = append(out, byte(IoTypeEnum))
	} else {
		out = append(out, byte(IoTypeEnum1)+byte(len(variants)-1))
	}
	out, err := appendNameAndCount(out, name, len(variants), generic)
	if err != nil {
		return nil, err
	}
	for _, variant := range variants {
		if len(variant.Fields) > math.MaxUint8 {
			return nil, fmt.Errorf("%w: variant %q fields", ErrTooManyItems, variant.Name)
		}
		if out, err = appendName(out, variant.Name); err != nil {
			return nil, err
		}
		out = append(out, byte(len(variant.Fields)))
		for _, field := range variant.Fields {
			if out, err = appendName(out, field.Name); err != nil {
				return nil, err
			}
			out = append(out, field.Type...)
		}
	}
	return capMetadata(out)
}

// TypeEnumNoFields encodes an enum of bare variants.
func TypeEnumNoFields(name string, variantNames ...string) ([]byte, error) {
	var out []byte
	generic := len(variantNames) == 0 || len(variantNames) > 10
	if generic {
		out = append(out, byte(IoTypeEnumNoFields))
	} else {
		out = append(out, byte(IoTypeEnumNoFields1)+byte(len(variantNames)-1))
	}
	out, err := appendNameAndCount(out, name, len(variantNames), generic)
	if err != nil {
		return nil, err
	}
	for _, variantName := range variantNames {
		if out, err = appendName(out, variantName); err != nil {
			return nil, err
		}
	}
	return capMetadata(out)
}

// MethodBuilder assembles the metadata of a single method. Arguments are
// encoded in the order the builder receives them, which is the order the
// dispatcher will prepare them in.
type MethodBuilder struct {
	kind MethodKind
	name string
	args [][]byte
	err  error
}

// NewMethod starts a method of the given kind.
func NewMethod(kind MethodKind, name string) *MethodBuilder {
	return &MethodBuilder{kind: kind, name: name}
}

// EnvRo declares read-only access to the execution environment.
func (b *MethodBuilder) EnvRo() *MethodBuilder {
	return b.arg([]byte{byte(KindEnvRo)}, nil)
}

// EnvRw declares mutable access to the execution environment.
func (b *MethodBuilder) EnvRw() *MethodBuilder {
	return b.arg([]byte{byte(KindEnvRw)}, nil)
}

// TmpRo declares a read-only tmp argument.
func (b *MethodBuilder) TmpRo(name string) *MethodBuilder {
	return b.namedArg(KindTmpRo, name, nil)
}

// TmpRw declares a writable tmp argument.
func (b *MethodBuilder) TmpRw(name string) *MethodBuilder {
	return b.namedArg(KindTmpRw, name, nil)
}

// SlotRo declares a read-only slot argument.
func (b *MethodBuilder) SlotRo(name string) *MethodBuilder {
	return b.namedArg(KindSlotRo, name, nil)
}

// SlotRw declares a writable slot argument.
func (b *MethodBuilder) SlotRw(name string) *MethodBuilder {
	return b.namedArg(KindSlotRw, name, nil)
}

// Input declares an input of the given type.
func (b *MethodBuilder) Input(name string, typ []byte) *MethodBuilder {
	return b.namedArg(KindInput, name, typ)
}

// Output declares an output of the given type.
func (b *MethodBuilder) Output(name string, typ []byte) *MethodBuilder {
	return b.namedArg(KindOutput, name, typ)
}

// StateOutput declares the trailing output of an init method. Its type is
// the contract state type from the container, so none is encoded here.
func (b *MethodBuilder) StateOutput(name string) *MethodBuilder {
	return b.namedArg(KindOutput, name, nil)
}

func (b *MethodBuilder) namedArg(kind Kind, name string, typ []byte) *MethodBuilder {
	arg := []byte{byte(kind)}
	arg, err := appendName(arg, name)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	return b.arg(arg, typ)
}

func (b *MethodBuilder) arg(encoded, typ []byte) *MethodBuilder {
	b.args = append(b.args, append(encoded, typ...))
	return b
}

// Build serializes the method.
func (b *MethodBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.args) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: arguments of %q", ErrTooManyItems, b.name)
	}
	out := []byte{byte(KindInit) + byte(b.kind)}
	out, err := appendName(out, b.name)
	if err != nil {
		return nil, err
	}
	out = append(out, byte(len(b.args)))
	for _, arg := range b.args {
		out = append(out, arg...)
	}
	return capMetadata(out)
}

// ContractBuilder assembles contract container metadata.
type ContractBuilder struct {
	state, slot, tmp []byte
	methods          [][]byte
	err              error
}

// NewContract starts a contract with the given state, slot and tmp types.
func NewContract(stateType, slotType, tmpType []byte) *ContractBuilder {
	return &ContractBuilder{state: stateType, slot: slotType, tmp: tmpType}
}

// Method appends a method.
func (b *ContractBuilder) Method(m *MethodBuilder) *ContractBuilder {
	encoded, err := m.Build()
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.methods = append(b.methods, encoded)
	return b
}

// Build serializes the contract container.
func (b *ContractBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.methods) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: methods", ErrTooManyItems)
	}
	out := []byte{byte(KindContract)}
	out = append(out, b.state...)
	out = append(out, b.slot...)
	out = append(out, b.tmp...)
	out = append(out, byte(len(b.methods)))
	for _, method := range b.methods {
		out = append(out, method...)
	}
	return capMetadata(out)
}

// TraitBuilder assembles trait container metadata.
type TraitBuilder struct {
	name    string
	methods [][]byte
	err     error
}

// NewTrait starts a trait.
func NewTrait(name string) *TraitBuilder {
	return &TraitBuilder{name: name}
}

// Method appends a method.
func (b *TraitBuilder) Method(m *MethodBuilder) *TraitBuilder {
	encoded, err := m.Build()
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.methods = append(b.methods, encoded)
	return b
}

// Build serializes the trait container.
func (b *TraitBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.methods) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: methods", ErrTooManyItems)
	}
	out := []byte{byte(KindTrait)}
	out, err := appendName(out, b.name)
	if err != nil {
		return nil, err
	}
	out = append(out, byte(len(b.methods)))
	for _, method := range b.methods {
		out = append(out, method...)
	}
	return capMetadata(out)
}

// appendCounted writes the narrowest of the 8b, 16b and 32b forms rooted
// at base followed by the little-endian count.
func appendCounted(base IoType, count uint32) []byte {
	switch {
	case count < 1<<8:
		return []byte{byte(base), byte(count)}
	case count < 1<<16:
		return binary.LittleEndian.AppendUint16([]byte{byte(base) + 1}, uint16(count))
	default:
		return binary.LittleEndian.AppendUint32([]byte{byte(base) + 2}, count)
	}
}

func fixedCapacity(base8, base16 IoType, capacity uint32) ([]byte, error) {
	switch {
	case capacity < 1<<8:
		return []byte{byte(base8), byte(capacity)}, nil
	case capacity < 1<<16:
		return binary.LittleEndian.AppendUint16([]byte{byte(base16)}, uint16(capacity)), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrCapacityTooLarge, capacity)
	}
}

func appendName(out []byte, name string) ([]byte, error) {
	if len(name) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}
	out = append(out, byte(len(name)))
	return append(out, name...), nil
}

func appendNameAndCount(out []byte, name string, count int, withCount bool) ([]byte, error) {
	out, err := appendName(out, name)
	if err != nil {
		return nil, err
	}
	if withCount {
		if count > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %q", ErrTooManyItems, name)
		}
		out = append(out, byte(count))
	}
	return out, nil
}

func capMetadata(out []byte) ([]byte, error) {
	if len(out) > MaxMetadataSize {
		return nil, ErrMetadataTooLarge
	}
	return out, nil
}
