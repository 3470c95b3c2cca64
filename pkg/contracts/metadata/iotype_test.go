package metadata

import (
	"bytes"
	"testing"
)

func mustType(t *testing.T, encoded []byte, err error) []byte {
	t.Helper()
	if err != nil {
		t.Fatalf("Failed to encode type: %v", err)
	}
	return encoded
}

func TestTypeDetails(t *testing.T) {
	walletStateEnc, walletStateErr := TypeStruct("WalletState",
		Field{Name: "public_key", Type: TypeFixedBytes(32)},
		Field{Name: "nonce", Type: TypeU64()},
	)
	walletState := mustType(t, walletStateEnc, walletStateErr)
	nestedEnc, nestedErr := TypeStruct("Outer",
		Field{Name: "inner", Type: walletState},
		Field{Name: "flag", Type: TypeBool()},
	)
	nested := mustType(t, nestedEnc, nestedErr)
	pairEnc, pairErr := TypeTupleStruct("Pair", TypeU32(), TypeU8())
	pair := mustType(t, pairEnc, pairErr)
	capStringEnc, capStringErr := TypeFixedCapacityString(64)
	capString := mustType(t, capStringEnc, capStringErr)

	tests := []struct {
		name      string
		encoded   []byte
		capacity  uint32
		alignment uint8
	}{
		{"unit", TypeUnit(), 0, 1},
		{"bool", TypeBool(), 1, 1},
		{"u16", TypeU16(), 2, 2},
		{"u64", TypeU64(), 8, 8},
		{"u128", TypeU128(), 16, 16},
		{"i8", TypeI8(), 1, 1},
		{"address", TypeAddress(), 16, 8},
		{"balance", TypeBalance(), 16, 8},
		{"fixed bytes alias", TypeFixedBytes(32), 32, 1},
		{"fixed bytes counted", TypeFixedBytes(100), 100, 1},
		{"variable bytes alias", TypeVariableBytes(1024), 1024, 1},
		{"variable bytes counted", TypeVariableBytes(300), 300, 1},
		{"array of u16", TypeArray(1000, TypeU16()), 2000, 2},
		{"variable elements", TypeVariableElements(10, TypeAddress()), 160, 8},
		{"unaligned u64", TypeUnaligned(TypeU64()), 8, 1},
		{"fixed capacity string", capString, 64, 1},
		{"struct", walletState, 40, 8},
		{"nested struct", nested, 41, 8},
		{"tuple struct", pair, 5, 4},
	}

	for _, tt := range tests {
		details, rest, ok := DecodeTypeDetails(tt.encoded)
		if !ok {
			t.Errorf("%s: failed to decode", tt.name)
			continue
		}
		if len(rest) != 0 {
			t.Errorf("%s: %d bytes left over", tt.name, len(rest))
		}
		if details.RecommendedCapacity != tt.capacity {
			t.Errorf("%s: capacity mismatch: got %d, want %d", tt.name, details.RecommendedCapacity, tt.capacity)
		}
		if details.Alignment != tt.alignment {
			t.Errorf("%s: alignment mismatch: got %d, want %d", tt.name, details.Alignment, tt.alignment)
		}
	}
}

func TestTypeDetailsEnums(t *testing.T) {
	// Variants of equal capacity, one byte added for the discriminant.
	opEnc, opErr := TypeEnum("Op",
		Variant{Name: "Add", Fields: []Field{{Name: "amount", Type: TypeU64()}}},
		Variant{Name: "Sub", Fields: []Field{{Name: "amount", Type: TypeU64()}}},
	)
	op := mustType(t, opEnc, opErr)
	details, rest, ok := DecodeTypeDetails(op)
	if !ok || len(rest) != 0 {
		t.Fatalf("Failed to decode enum: ok=%v rest=%d", ok, len(rest))
	}
	if details.RecommendedCapacity != 9 || details.Alignment != 8 {
		t.Errorf("Enum details mismatch: got %+v", details)
	}

	// Bare variants occupy only the discriminant.
	dirEnc, dirErr := TypeEnumNoFields("Direction", "Left", "Right", "Up")
	dir := mustType(t, dirEnc, dirErr)
	details, rest, ok = DecodeTypeDetails(dir)
	if !ok || len(rest) != 0 {
		t.Fatalf("Failed to decode bare enum: ok=%v rest=%d", ok, len(rest))
	}
	if details.RecommendedCapacity != 1 || details.Alignment != 1 {
		t.Errorf("Bare enum details mismatch: got %+v", details)
	}

	// Variants of unequal capacity are rejected.
	unequalEnc, unequalErr := TypeEnum("Bad",
		Variant{Name: "A", Fields: []Field{{Name: "x", Type: TypeU64()}}},
		Variant{Name: "B", Fields: []Field{{Name: "y", Type: TypeU32()}}},
	)
	unequal := mustType(t, unequalEnc, unequalErr)
	if _, _, ok := DecodeTypeDetails(unequal); ok {
		t.Error("Unequal variant capacities decoded unexpectedly")
	}
}

func TestTypeName(t *testing.T) {
	walletStateEnc, walletStateErr := TypeStruct("WalletState",
		Field{Name: "nonce", Type: TypeU64()},
	)
	walletState := mustType(t, walletStateEnc, walletStateErr)

	tests := []struct {
		encoded []byte
		name    string
	}{
		{TypeUnit(), "()"},
		{TypeBool(), "bool"},
		{TypeU64(), "u64"},
		{TypeI128(), "i128"},
		{walletState, "WalletState"},
		{TypeFixedBytes(32), "[u8; 32]"},
		{TypeVariableBytes(512), "VariableBytes"},
		{TypeAddress(), "Address"},
		{TypeBalance(), "Balance"},
	}
	for _, tt := range tests {
		name, ok := TypeName(tt.encoded)
		if !ok {
			t.Errorf("%q: failed to peek name", tt.name)
			continue
		}
		if !bytes.Equal(name, []byte(tt.name)) {
			t.Errorf("Name mismatch: got %q, want %q", name, tt.name)
		}
	}

	if _, ok := TypeName(nil); ok {
		t.Error("Empty input yielded a name")
	}
	if _, ok := TypeName([]byte{0xff}); ok {
		t.Error("Invalid tag yielded a name")
	}
}

func TestTypeDetailsTruncated(t *testing.T) {
	innerEnc, innerErr := TypeEnum("Op",
		Variant{Name: "A", Fields: []Field{{Name: "x", Type: TypeArray(300, TypeU16())}}},
	)
	inner := mustType(t, innerEnc, innerErr)
	fullEnc, fullErr := TypeStruct("Outer",
		Field{Name: "op", Type: inner},
		Field{Name: "tail", Type: TypeVariableBytes(300)},
	)
	full := mustType(t, fullEnc, fullErr)

	if _, _, ok := DecodeTypeDetails(full); !ok {
		t.Fatal("Full type failed to decode")
	}
	for i := 0; i < len(full); i++ {
		if _, _, ok := DecodeTypeDetails(full[:i]); ok {
			t.Errorf("Prefix of %d bytes decoded unexpectedly", i)
		}
	}
}
