package metadata

import (
	"github.com/zeebo/blake3"

	"github.com/fortiblox/cirrus/pkg/contracts"
)

// MaxMetadataSize is the upper bound on the size of a single metadata
// blob, compact or otherwise.
const MaxMetadataSize = 8192

// Compact rewrites container or method metadata into its canonical
// compact form: trait, argument and type names are zeroed, named struct
// fields lose their names and small named structs become tuple structs.
// Method names survive so that fingerprints of different methods differ.
//
// With forExternalArgs the result describes only what a caller can see:
// env arguments vanish, tmp arguments shrink to a placeholder, slot
// arguments lose their writability and update and view methods collapse
// to their stateless tags. That form is not decodable, it exists to be
// hashed.
//
// Returns false if metadata is malformed, not fully consumed or the
// compact form would not fit.
func Compact(metadata []byte, forExternalArgs bool) ([]byte, bool) {
	in, out, ok := compactItem(metadata, make([]byte, 0, len(metadata)), forExternalArgs)
	if !ok || len(in) != 0 {
		return nil, false
	}
	return out, true
}

// Fingerprint hashes the compact external form of a single method's
// metadata. Methods whose externally visible shape is identical hash
// identically, regardless of internal argument names or statefulness.
func Fingerprint(methodMetadata []byte) (contracts.MethodFingerprint, bool) {
	compact, ok := Compact(methodMetadata, true)
	if !ok {
		return contracts.MethodFingerprint{}, false
	}
	return contracts.MethodFingerprint(blake3.Sum256(compact)), true
}

// compactItem compacts one container or method.
func compactItem(in, out []byte, forExternalArgs bool) ([]byte, []byte, bool) {
	if len(in) == 0 {
		return nil, nil, false
	}
	kind, valid := kindFromByte(in[0])
	if !valid {
		return nil, nil, false
	}
	var ok bool

	switch kind {
	case KindContract:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		// State, slot and tmp types.
		for i := 0; i < 3; i++ {
			if in, out, ok = compactIoType(in, out); !ok {
				return nil, nil, false
			}
		}
		return compactMethods(in, out, forExternalArgs)

	case KindTrait:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		if in, out, ok = compactZeroName(in, out); !ok {
			return nil, nil, false
		}
		return compactMethods(in, out, forExternalArgs)

	case KindInit, KindUpdateStateless, KindUpdateStatefulRo, KindUpdateStatefulRw,
		KindViewStateless, KindViewStateful:
		switch {
		case kind == KindInit || !forExternalArgs:
			if in, out, ok = compactCopy(in, out, 1); !ok {
				return nil, nil, false
			}
		case kind == KindViewStateless || kind == KindViewStateful:
			// Callers cannot tell view flavors apart.
			if out, ok = compactAppend(out, byte(KindViewStateless)); !ok {
				return nil, nil, false
			}
			in = in[1:]
		default:
			// Callers cannot tell update flavors apart.
			if out, ok = compactAppend(out, byte(KindUpdateStateless)); !ok {
				return nil, nil, false
			}
			in = in[1:]
		}

		// Method name survives compaction.
		if len(in) == 0 {
			return nil, nil, false
		}
		if in, out, ok = compactCopy(in, out, 1+int(in[0])); !ok {
			return nil, nil, false
		}

		// The argument count byte is copied as is even when arguments
		// are dropped below.
		if len(in) == 0 {
			return nil, nil, false
		}
		numArguments := int(in[0])
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		for numArguments > 0 {
			numArguments--
			in, out, ok = compactArgument(in, out, kind, numArguments == 0, forExternalArgs)
			if !ok {
				return nil, nil, false
			}
		}
		return in, out, true

	default:
		// Arguments cannot appear at the top level.
		return nil, nil, false
	}
}

// compactMethods copies the method count byte and compacts each method.
func compactMethods(in, out []byte, forExternalArgs bool) ([]byte, []byte, bool) {
	if len(in) == 0 {
		return nil, nil, false
	}
	numMethods := int(in[0])
	in, out, ok := compactCopy(in, out, 1)
	if !ok {
		return nil, nil, false
	}
	for ; numMethods > 0; numMethods-- {
		if in, out, ok = compactItem(in, out, forExternalArgs); !ok {
			return nil, nil, false
		}
	}
	return in, out, true
}

// compactArgument compacts one method argument.
func compactArgument(in, out []byte, methodKind Kind, lastArgument, forExternalArgs bool) ([]byte, []byte, bool) {
	if len(in) == 0 {
		return nil, nil, false
	}
	kind, valid := kindFromByte(in[0])
	if !valid {
		return nil, nil, false
	}
	var ok bool

	switch kind {
	case KindEnvRo, KindEnvRw:
		// Env carries no name or type bytes and means nothing to
		// callers.
		if forExternalArgs {
			in = in[1:]
		} else if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return in, out, true

	case KindTmpRo, KindTmpRw, KindSlotRo, KindSlotRw:
		switch {
		case !forExternalArgs:
			if in, out, ok = compactCopy(in, out, 1); !ok {
				return nil, nil, false
			}
		case kind == KindSlotRo || kind == KindSlotRw:
			// Callers cannot tell slot writability apart.
			if out, ok = compactAppend(out, byte(KindSlotRo)); !ok {
				return nil, nil, false
			}
			in = in[1:]
		default:
			// Tmp means nothing to callers, only the zeroed name
			// below remains.
			in = in[1:]
		}
		return compactZeroName(in, out)

	case KindInput, KindOutput:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		if in, out, ok = compactZeroName(in, out); !ok {
			return nil, nil, false
		}
		// The trailing output of an init method has no type of its
		// own, it is the contract state.
		if methodKind == KindInit && kind == KindOutput && lastArgument {
			return in, out, true
		}
		return compactIoType(in, out)

	default:
		return nil, nil, false
	}
}

// compactIoType compacts one type description.
func compactIoType(in, out []byte) ([]byte, []byte, bool) {
	if len(in) == 0 {
		return nil, nil, false
	}
	kind, valid := ioTypeFromByte(in[0])
	if !valid {
		return nil, nil, false
	}
	var ok bool

	switch {
	case kind <= IoTypeI128,
		kind >= IoTypeArrayU8x8 && kind <= IoTypeArrayU8x4096,
		kind >= IoTypeVariableBytes0 && kind <= IoTypeVariableBytes1048576,
		kind == IoTypeAddress, kind == IoTypeBalance:
		return compactCopy(in, out, 1)

	case kind == IoTypeStruct:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactStructBody(in, out, -1, false)
	case kind == IoTypeStruct0:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactStructBody(in, out, 0, false)
	case kind >= IoTypeStruct1 && kind <= IoTypeStruct10:
		// Without field names a named struct is a tuple struct.
		fields := int(kind - IoTypeStruct1 + 1)
		if out, ok = compactAppend(out, byte(IoTypeTupleStruct1)+byte(fields-1)); !ok {
			return nil, nil, false
		}
		return compactStructBody(in[1:], out, fields, false)
	case kind == IoTypeTupleStruct:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactStructBody(in, out, -1, true)
	case kind >= IoTypeTupleStruct1 && kind <= IoTypeTupleStruct10:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactStructBody(in, out, int(kind-IoTypeTupleStruct1)+1, true)

	case kind == IoTypeEnum:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactEnumBody(in, out, -1, true)
	case kind >= IoTypeEnum1 && kind <= IoTypeEnum10:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactEnumBody(in, out, int(kind-IoTypeEnum1)+1, true)
	case kind == IoTypeEnumNoFields:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactEnumBody(in, out, -1, false)
	case kind >= IoTypeEnumNoFields1 && kind <= IoTypeEnumNoFields10:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactEnumBody(in, out, int(kind-IoTypeEnumNoFields1)+1, false)

	case kind >= IoTypeArray8b && kind <= IoTypeArray32b:
		if in, out, ok = compactCopy(in, out, 1+countWidth(kind, IoTypeArray8b)); !ok {
			return nil, nil, false
		}
		return compactIoType(in, out)

	case kind >= IoTypeVariableBytes8b && kind <= IoTypeVariableBytes32b:
		return compactCopy(in, out, 1+countWidth(kind, IoTypeVariableBytes8b))

	case kind >= IoTypeVariableElements8b && kind <= IoTypeVariableElements32b:
		if in, out, ok = compactCopy(in, out, 1+countWidth(kind, IoTypeVariableElements8b)); !ok {
			return nil, nil, false
		}
		return compactIoType(in, out)

	case kind == IoTypeVariableElements0, kind == IoTypeUnaligned:
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
		return compactIoType(in, out)

	case kind == IoTypeFixedCapacityBytes8b, kind == IoTypeFixedCapacityString8b:
		return compactCopy(in, out, 1+1)

	default: // FixedCapacityBytes16b, FixedCapacityString16b
		return compactCopy(in, out, 1+2)
	}
}

// compactStructBody zeroes the struct name, keeps the field count and
// compacts field types. Field names of named structs are dropped
// outright. A negative fieldCount means the count byte is present.
func compactStructBody(in, out []byte, fieldCount int, tuple bool) ([]byte, []byte, bool) {
	in, out, ok := compactZeroName(in, out)
	if !ok {
		return nil, nil, false
	}

	if fieldCount < 0 {
		if len(in) == 0 {
			return nil, nil, false
		}
		fieldCount = int(in[0])
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
	}

	for i := 0; i < fieldCount; i++ {
		if !tuple {
			if len(in) == 0 {
				return nil, nil, false
			}
			nameLen := int(in[0])
			if len(in) < 1+nameLen {
				return nil, nil, false
			}
			in = in[1+nameLen:]
		}
		if in, out, ok = compactIoType(in, out); !ok {
			return nil, nil, false
		}
	}
	return in, out, true
}

// compactEnumBody zeroes the enum name, keeps the variant count and
// compacts each variant as a named struct body.
func compactEnumBody(in, out []byte, variantCount int, hasFields bool) ([]byte, []byte, bool) {
	in, out, ok := compactZeroName(in, out)
	if !ok {
		return nil, nil, false
	}

	if variantCount < 0 {
		if len(in) == 0 {
			return nil, nil, false
		}
		variantCount = int(in[0])
		if in, out, ok = compactCopy(in, out, 1); !ok {
			return nil, nil, false
		}
	}

	for i := 0; i < variantCount; i++ {
		if hasFields {
			in, out, ok = compactStructBody(in, out, -1, false)
		} else {
			in, out, ok = compactStructBody(in, out, 0, false)
		}
		if !ok {
			return nil, nil, false
		}
	}
	return in, out, true
}

// compactCopy moves n bytes from in to out.
func compactCopy(in, out []byte, n int) ([]byte, []byte, bool) {
	if len(in) < n {
		return nil, nil, false
	}
	out, ok := compactAppend(out, in[:n]...)
	if !ok {
		return nil, nil, false
	}
	return in[n:], out, true
}

// compactZeroName replaces a length-prefixed name with a zero length.
func compactZeroName(in, out []byte) ([]byte, []byte, bool) {
	if len(in) == 0 {
		return nil, nil, false
	}
	nameLen := int(in[0])
	if len(in) < 1+nameLen {
		return nil, nil, false
	}
	out, ok := compactAppend(out, 0)
	if !ok {
		return nil, nil, false
	}
	return in[1+nameLen:], out, true
}

func compactAppend(out []byte, b ...byte) ([]byte, bool) {
	if len(out)+len(b) > MaxMetadataSize {
		return nil, false
	}
	return append(out, b...), true
}
