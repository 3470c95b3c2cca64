package metadata

import "math"

// IoType is the leading tag of a type description embedded in metadata.
type IoType byte

const (
	IoTypeUnit IoType = iota
	IoTypeBool
	IoTypeU8
	IoTypeU16
	IoTypeU32
	IoTypeU64
	IoTypeU128
	IoTypeI8
	IoTypeI16
	IoTypeI32
	IoTypeI64
	IoTypeI128

	// IoTypeStruct is a struct with named fields: name length (u8), name,
	// number of fields (u8), then per field a name length (u8), name and
	// the field type recursively. IoTypeStruct0 through IoTypeStruct10
	// carry the field count in the tag and omit the count byte.
	IoTypeStruct
	IoTypeStruct0
	IoTypeStruct1
	IoTypeStruct2
	IoTypeStruct3
	IoTypeStruct4
	IoTypeStruct5
	IoTypeStruct6
	IoTypeStruct7
	IoTypeStruct8
	IoTypeStruct9
	IoTypeStruct10

	// IoTypeTupleStruct is a struct with unnamed fields: name length (u8),
	// name, number of fields (u8), then each field type recursively.
	IoTypeTupleStruct
	IoTypeTupleStruct1
	IoTypeTupleStruct2
	IoTypeTupleStruct3
	IoTypeTupleStruct4
	IoTypeTupleStruct5
	IoTypeTupleStruct6
	IoTypeTupleStruct7
	IoTypeTupleStruct8
	IoTypeTupleStruct9
	IoTypeTupleStruct10

	// IoTypeEnum is an enum whose variants carry fields: name length (u8),
	// name, number of variants (u8), then each variant encoded as an
	// IoTypeStruct body (variant name as the struct name).
	IoTypeEnum
	IoTypeEnum1
	IoTypeEnum2
	IoTypeEnum3
	IoTypeEnum4
	IoTypeEnum5
	IoTypeEnum6
	IoTypeEnum7
	IoTypeEnum8
	IoTypeEnum9
	IoTypeEnum10

	// IoTypeEnumNoFields is an enum of bare variants: name length (u8),
	// name, number of variants (u8), then per variant a name length (u8)
	// and name.
	IoTypeEnumNoFields
	IoTypeEnumNoFields1
	IoTypeEnumNoFields2
	IoTypeEnumNoFields3
	IoTypeEnumNoFields4
	IoTypeEnumNoFields5
	IoTypeEnumNoFields6
	IoTypeEnumNoFields7
	IoTypeEnumNoFields8
	IoTypeEnumNoFields9
	IoTypeEnumNoFields10

	// IoTypeArray8b is an array with a u8 element count followed by the
	// element type recursively; 16b and 32b use little-endian u16/u32
	// counts.
	IoTypeArray8b
	IoTypeArray16b
	IoTypeArray32b

	// Compact aliases for [u8; N].
	IoTypeArrayU8x8
	IoTypeArrayU8x16
	IoTypeArrayU8x32
	IoTypeArrayU8x64
	IoTypeArrayU8x128
	IoTypeArrayU8x256
	IoTypeArrayU8x512
	IoTypeArrayU8x1024
	IoTypeArrayU8x2028
	IoTypeArrayU8x4096

	// IoTypeVariableBytes8b is variable bytes with a u8 recommended
	// allocation field; 16b and 32b use little-endian u16/u32 fields.
	IoTypeVariableBytes8b
	IoTypeVariableBytes16b
	IoTypeVariableBytes32b

	// Compact aliases for VariableBytes with a fixed recommended
	// allocation.
	IoTypeVariableBytes0
	IoTypeVariableBytes512
	IoTypeVariableBytes1024
	IoTypeVariableBytes2028
	IoTypeVariableBytes4096
	IoTypeVariableBytes8192
	IoTypeVariableBytes16384
	IoTypeVariableBytes32768
	IoTypeVariableBytes65536
	IoTypeVariableBytes131072
	IoTypeVariableBytes262144
	IoTypeVariableBytes524288
	IoTypeVariableBytes1048576

	// IoTypeVariableElements8b is a variable-length sequence with a u8
	// recommended element count followed by the element type recursively;
	// 16b and 32b use little-endian u16/u32 counts. The 0 alias carries
	// only the element type.
	IoTypeVariableElements8b
	IoTypeVariableElements16b
	IoTypeVariableElements32b
	IoTypeVariableElements0

	// IoTypeFixedCapacityBytes8b carries a u8 capacity field; 16b a
	// little-endian u16. The string variants are bytes by convention.
	IoTypeFixedCapacityBytes8b
	IoTypeFixedCapacityBytes16b
	IoTypeFixedCapacityString8b
	IoTypeFixedCapacityString16b

	// IoTypeUnaligned wraps another type, dropping its alignment.
	IoTypeUnaligned
)

const (
	// IoTypeAddress is a contract address: u128 with 8 byte alignment.
	IoTypeAddress IoType = 128
	// IoTypeBalance is a token balance: u128 with 8 byte alignment.
	IoTypeBalance IoType = 129
)

// ioTypeFromByte returns the IoType for b, or false for bytes outside the
// tag table.
func ioTypeFromByte(b byte) (IoType, bool) {
	if b <= byte(IoTypeUnaligned) || b == byte(IoTypeAddress) || b == byte(IoTypeBalance) {
		return IoType(b), true
	}
	return 0, false
}

// TypeDetails is what the host needs to allocate for a type.
type TypeDetails struct {
	// RecommendedCapacity must be allocated by the host. Larger actual
	// data is passed through as is.
	RecommendedCapacity uint32

	// Alignment of the type, always at least 1.
	Alignment uint8
}

func details(capacity uint32, alignment uint8) TypeDetails {
	return TypeDetails{RecommendedCapacity: capacity, Alignment: alignment}
}

// TypeName peeks the name of the type the metadata starts with, without
// consuming anything. Named containers yield their embedded name, other
// kinds a conventional one. Returns false on truncated or invalid input.
func TypeName(io []byte) ([]byte, bool) {
	if len(io) == 0 {
		return nil, false
	}
	kind, ok := ioTypeFromByte(io[0])
	if !ok {
		return nil, false
	}
	rest := io[1:]

	switch {
	case kind == IoTypeUnit:
		return []byte("()"), true
	case kind == IoTypeBool:
		return []byte("bool"), true
	case kind >= IoTypeU8 && kind <= IoTypeI128:
		names := []string{"u8", "u16", "u32", "u64", "u128", "i8", "i16", "i32", "i64", "i128"}
		return []byte(names[kind-IoTypeU8]), true
	case kind >= IoTypeStruct && kind <= IoTypeEnumNoFields10:
		// Named containers carry the name right after the tag.
		if len(rest) == 0 {
			return nil, false
		}
		nameLen := int(rest[0])
		rest = rest[1:]
		if len(rest) < nameLen {
			return nil, false
		}
		return rest[:nameLen], true
	case kind >= IoTypeArray8b && kind <= IoTypeArray32b:
		return []byte("[T; N]"), true
	case kind >= IoTypeArrayU8x8 && kind <= IoTypeArrayU8x4096:
		names := []string{
			"[u8; 8]", "[u8; 16]", "[u8; 32]", "[u8; 64]", "[u8; 128]",
			"[u8; 256]", "[u8; 512]", "[u8; 1024]", "[u8; 2028]", "[u8; 4096]",
		}
		return []byte(names[kind-IoTypeArrayU8x8]), true
	case kind >= IoTypeVariableBytes8b && kind <= IoTypeVariableBytes1048576:
		return []byte("VariableBytes"), true
	case kind >= IoTypeVariableElements8b && kind <= IoTypeVariableElements0:
		return []byte("VariableElements"), true
	case kind == IoTypeFixedCapacityBytes8b || kind == IoTypeFixedCapacityBytes16b:
		return []byte("FixedCapacityBytes"), true
	case kind == IoTypeFixedCapacityString8b || kind == IoTypeFixedCapacityString16b:
		return []byte("FixedCapacityString"), true
	case kind == IoTypeUnaligned:
		return []byte("Unaligned"), true
	case kind == IoTypeAddress:
		return []byte("Address"), true
	default:
		return []byte("Balance"), true
	}
}

// DecodeTypeDetails consumes one type description from io, returning the
// type's details and the remaining bytes. Returns false on truncated or
// invalid input, never reading past io.
func DecodeTypeDetails(io []byte) (TypeDetails, []byte, bool) {
	if len(io) == 0 {
		return TypeDetails{}, nil, false
	}
	kind, ok := ioTypeFromByte(io[0])
	if !ok {
		return TypeDetails{}, nil, false
	}
	rest := io[1:]

	switch {
	case kind == IoTypeUnit:
		return details(0, 1), rest, true
	case kind == IoTypeBool || kind == IoTypeU8 || kind == IoTypeI8:
		return details(1, 1), rest, true
	case kind == IoTypeU16 || kind == IoTypeI16:
		return details(2, 2), rest, true
	case kind == IoTypeU32 || kind == IoTypeI32:
		return details(4, 4), rest, true
	case kind == IoTypeU64 || kind == IoTypeI64:
		return details(8, 8), rest, true
	case kind == IoTypeU128 || kind == IoTypeI128:
		return details(16, 16), rest, true

	case kind == IoTypeStruct:
		return structDetails(rest, -1, false)
	case kind >= IoTypeStruct0 && kind <= IoTypeStruct10:
		return structDetails(rest, int(kind-IoTypeStruct0), false)
	case kind == IoTypeTupleStruct:
		return structDetails(rest, -1, true)
	case kind >= IoTypeTupleStruct1 && kind <= IoTypeTupleStruct10:
		return structDetails(rest, int(kind-IoTypeTupleStruct1)+1, true)

	case kind == IoTypeEnum:
		return enumDetails(rest, -1, true)
	case kind >= IoTypeEnum1 && kind <= IoTypeEnum10:
		return enumDetails(rest, int(kind-IoTypeEnum1)+1, true)
	case kind == IoTypeEnumNoFields:
		return enumDetails(rest, -1, false)
	case kind >= IoTypeEnumNoFields1 && kind <= IoTypeEnumNoFields10:
		return enumDetails(rest, int(kind-IoTypeEnumNoFields1)+1, false)

	case kind >= IoTypeArray8b && kind <= IoTypeArray32b:
		count, rest, ok := decodeCount(rest, countWidth(kind, IoTypeArray8b))
		if !ok {
			return TypeDetails{}, nil, false
		}
		inner, rest, ok := DecodeTypeDetails(rest)
		if !ok {
			return TypeDetails{}, nil, false
		}
		capacity, ok := mulCapacity(count, inner.RecommendedCapacity)
		if !ok {
			return TypeDetails{}, nil, false
		}
		return details(capacity, inner.Alignment), rest, true

	case kind >= IoTypeArrayU8x8 && kind <= IoTypeArrayU8x4096:
		sizes := []uint32{8, 16, 32, 64, 128, 256, 512, 1024, 2028, 4096}
		return details(sizes[kind-IoTypeArrayU8x8], 1), rest, true

	case kind >= IoTypeVariableBytes8b && kind <= IoTypeVariableBytes32b:
		capacity, rest, ok := decodeCount(rest, countWidth(kind, IoTypeVariableBytes8b))
		if !ok {
			return TypeDetails{}, nil, false
		}
		return details(capacity, 1), rest, true

	case kind >= IoTypeVariableBytes0 && kind <= IoTypeVariableBytes1048576:
		sizes := []uint32{
			0, 512, 1024, 2028, 4096, 8192, 16384, 32768,
			65536, 131072, 262144, 524288, 1048576,
		}
		return details(sizes[kind-IoTypeVariableBytes0], 1), rest, true

	case kind >= IoTypeVariableElements8b && kind <= IoTypeVariableElements32b:
		count, rest, ok := decodeCount(rest, countWidth(kind, IoTypeVariableElements8b))
		if !ok {
			return TypeDetails{}, nil, false
		}
		inner, rest, ok := DecodeTypeDetails(rest)
		if !ok {
			return TypeDetails{}, nil, false
		}
		capacity, ok := mulCapacity(count, inner.RecommendedCapacity)
		if !ok {
			return TypeDetails{}, nil, false
		}
		return details(capacity, inner.Alignment), rest, true

	case kind == IoTypeVariableElements0:
		inner, rest, ok := DecodeTypeDetails(rest)
		if !ok {
			return TypeDetails{}, nil, false
		}
		return details(0, inner.Alignment), rest, true

	case kind == IoTypeFixedCapacityBytes8b || kind == IoTypeFixedCapacityString8b:
		capacity, rest, ok := decodeCount(rest, 1)
		if !ok {
			return TypeDetails{}, nil, false
		}
		return details(capacity, 1), rest, true

	case kind == IoTypeFixedCapacityBytes16b || kind == IoTypeFixedCapacityString16b:
		capacity, rest, ok := decodeCount(rest, 2)
		if !ok {
			return TypeDetails{}, nil, false
		}
		return details(capacity, 1), rest, true

	case kind == IoTypeUnaligned:
		inner, rest, ok := DecodeTypeDetails(rest)
		if !ok {
			return TypeDetails{}, nil, false
		}
		return details(inner.RecommendedCapacity, 1), rest, true

	default: // Address, Balance
		return details(16, 8), rest, true
	}
}

// structDetails computes capacity and alignment of a struct body: name,
// optional field count (when fieldCount is negative) and fields. Tuple
// structs have no field names.
func structDetails(io []byte, fieldCount int, tuple bool) (TypeDetails, []byte, bool) {
	io, ok := skipName(io)
	if !ok {
		return TypeDetails{}, nil, false
	}

	if fieldCount < 0 {
		if len(io) == 0 {
			return TypeDetails{}, nil, false
		}
		fieldCount = int(io[0])
		io = io[1:]
	}

	var capacity uint64
	alignment := uint8(1)
	for i := 0; i < fieldCount; i++ {
		if !tuple {
			if io, ok = skipName(io); !ok {
				return TypeDetails{}, nil, false
			}
		}
		var field TypeDetails
		field, io, ok = DecodeTypeDetails(io)
		if !ok {
			return TypeDetails{}, nil, false
		}
		capacity += uint64(field.RecommendedCapacity)
		if capacity > math.MaxUint32 {
			return TypeDetails{}, nil, false
		}
		if field.Alignment > alignment {
			alignment = field.Alignment
		}
	}

	return details(uint32(capacity), alignment), io, true
}

// enumDetails computes capacity and alignment of an enum body. Every
// variant must have the same capacity; the discriminant adds one byte.
func enumDetails(io []byte, variantCount int, hasFields bool) (TypeDetails, []byte, bool) {
	io, ok := skipName(io)
	if !ok {
		return TypeDetails{}, nil, false
	}

	if variantCount < 0 {
		if len(io) == 0 {
			return TypeDetails{}, nil, false
		}
		variantCount = int(io[0])
		io = io[1:]
	}

	var variantCapacity uint32
	alignment := uint8(1)
	for i := 0; i < variantCount; i++ {
		var variant TypeDetails
		if hasFields {
			variant, io, ok = structDetails(io, -1, false)
		} else {
			variant, io, ok = structDetails(io, 0, false)
		}
		if !ok {
			return TypeDetails{}, nil, false
		}
		if i > 0 && variant.RecommendedCapacity != variantCapacity {
			return TypeDetails{}, nil, false
		}
		variantCapacity = variant.RecommendedCapacity
		if variant.Alignment > alignment {
			alignment = variant.Alignment
		}
	}

	if variantCount == 0 {
		return details(0, 1), io, true
	}
	if variantCapacity == math.MaxUint32 {
		return TypeDetails{}, nil, false
	}
	return details(variantCapacity+1, alignment), io, true
}

// skipName skips a length-prefixed name.
func skipName(io []byte) ([]byte, bool) {
	if len(io) == 0 {
		return nil, false
	}
	n := int(io[0])
	if len(io) < 1+n {
		return nil, false
	}
	return io[1+n:], true
}

// countWidth maps the kind's offset from base (8b, 16b, 32b) to the byte
// width of its count field.
func countWidth(kind, base IoType) int {
	switch kind - base {
	case 0:
		return 1
	case 1:
		return 2
	default:
		return 4
	}
}

// decodeCount reads a little-endian count of the given byte width.
func decodeCount(io []byte, width int) (uint32, []byte, bool) {
	if len(io) < width {
		return 0, nil, false
	}
	var count uint32
	for i := width - 1; i >= 0; i-- {
		count = count<<8 | uint32(io[i])
	}
	return count, io[width:], true
}

// mulCapacity multiplies element count by element capacity with overflow
// detection.
func mulCapacity(count, capacity uint32) (uint32, bool) {
	product := uint64(count) * uint64(capacity)
	if product > math.MaxUint32 {
		return 0, false
	}
	return uint32(product), true
}
