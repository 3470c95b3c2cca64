package metadata

import (
	"bytes"
	"testing"
)

func TestCompactContract(t *testing.T) {
	state, err := TypeStruct("F", Field{Name: "v", Type: TypeBool()})
	if err != nil {
		t.Fatalf("Failed to encode state type: %v", err)
	}
	meta, err := NewContract(state, TypeUnit(), TypeUnit()).
		Method(NewMethod(MethodUpdateStateless, "flip").Input("x", TypeBool())).
		Build()
	if err != nil {
		t.Fatalf("Failed to encode contract: %v", err)
	}

	compact, ok := Compact(meta, false)
	if !ok {
		t.Fatal("Failed to compact contract")
	}

	// The state struct loses its names and becomes a tuple struct, the
	// method keeps its name, the input loses its name.
	expected := []byte{
		byte(KindContract),
		byte(IoTypeTupleStruct1), 0, byte(IoTypeBool),
		byte(IoTypeUnit),
		byte(IoTypeUnit),
		1,
		byte(KindUpdateStateless), 4, 'f', 'l', 'i', 'p', 1,
		byte(KindInput), 0, byte(IoTypeBool),
	}
	if !bytes.Equal(compact, expected) {
		t.Errorf("Compact mismatch:\n got %v\nwant %v", compact, expected)
	}
}

func TestCompactTraitZeroesName(t *testing.T) {
	meta, err := NewTrait("Fungible").
		Method(NewMethod(MethodViewStateless, "balance").
			Input("address", TypeAddress()).
			Output("balance", TypeBalance())).
		Build()
	if err != nil {
		t.Fatalf("Failed to encode trait: %v", err)
	}

	compact, ok := Compact(meta, false)
	if !ok {
		t.Fatal("Failed to compact trait")
	}

	expected := []byte{byte(KindTrait), 0, 1, byte(KindViewStateless), 7}
	expected = append(expected, "balance"...)
	expected = append(expected,
		2,
		byte(KindInput), 0, byte(IoTypeAddress),
		byte(KindOutput), 0, byte(IoTypeBalance),
	)
	if !bytes.Equal(compact, expected) {
		t.Errorf("Compact mismatch:\n got %v\nwant %v", compact, expected)
	}
}

func TestCompactMethodForExternalArgs(t *testing.T) {
	meta, err := NewMethod(MethodUpdateStatefulRw, "m").
		EnvRo().
		TmpRw("t").
		SlotRw("s").
		Input("i", TypeBool()).
		Build()
	if err != nil {
		t.Fatalf("Failed to encode method: %v", err)
	}

	// Internal form keeps every argument, names zeroed.
	compact, ok := Compact(meta, false)
	if !ok {
		t.Fatal("Failed to compact method")
	}
	expected := []byte{
		byte(KindUpdateStatefulRw), 1, 'm', 4,
		byte(KindEnvRo),
		byte(KindTmpRw), 0,
		byte(KindSlotRw), 0,
		byte(KindInput), 0, byte(IoTypeBool),
	}
	if !bytes.Equal(compact, expected) {
		t.Errorf("Internal compact mismatch:\n got %v\nwant %v", compact, expected)
	}

	// External form drops env, reduces tmp to its zeroed name and loses
	// write access distinctions. The argument count byte is untouched.
	compact, ok = Compact(meta, true)
	if !ok {
		t.Fatal("Failed to compact method for external args")
	}
	expected = []byte{
		byte(KindUpdateStateless), 1, 'm', 4,
		0,
		byte(KindSlotRo), 0,
		byte(KindInput), 0, byte(IoTypeBool),
	}
	if !bytes.Equal(compact, expected) {
		t.Errorf("External compact mismatch:\n got %v\nwant %v", compact, expected)
	}
}

func TestCompactRejectsMalformedInput(t *testing.T) {
	method, err := NewMethod(MethodViewStateless, "m").Build()
	if err != nil {
		t.Fatalf("Failed to encode method: %v", err)
	}

	// Trailing bytes are not tolerated.
	if _, ok := Compact(append(method, 0), false); ok {
		t.Error("Trailing byte compacted unexpectedly")
	}

	// A bare argument cannot start metadata.
	if _, ok := Compact([]byte{byte(KindInput), 1, 'x', byte(IoTypeBool)}, false); ok {
		t.Error("Bare argument compacted unexpectedly")
	}

	if _, ok := Compact(nil, false); ok {
		t.Error("Empty metadata compacted unexpectedly")
	}
}

func TestFingerprint(t *testing.T) {
	build := func(b *MethodBuilder) []byte {
		t.Helper()
		meta, err := b.Build()
		if err != nil {
			t.Fatalf("Failed to encode method: %v", err)
		}
		return meta
	}

	// Statefulness, slot writability and argument names are invisible to
	// callers, so the fingerprints collide by design of the external form.
	a, ok := Fingerprint(build(NewMethod(MethodUpdateStatefulRw, "transfer").
		SlotRw("from").
		Input("amount", TypeBalance())))
	if !ok {
		t.Fatal("Failed to fingerprint method")
	}
	b, ok := Fingerprint(build(NewMethod(MethodUpdateStatefulRo, "transfer").
		SlotRo("src").
		Input("amt", TypeBalance())))
	if !ok {
		t.Fatal("Failed to fingerprint method")
	}
	if a != b {
		t.Error("Externally identical methods fingerprint differently")
	}

	// The method name is part of the identity.
	c, ok := Fingerprint(build(NewMethod(MethodUpdateStatefulRw, "transfer2").
		SlotRw("from").
		Input("amount", TypeBalance())))
	if !ok {
		t.Fatal("Failed to fingerprint method")
	}
	if a == c {
		t.Error("Differently named methods fingerprint identically")
	}

	// Env arguments leave no bytes but the argument count differs.
	d, ok := Fingerprint(build(NewMethod(MethodUpdateStatefulRw, "transfer").
		EnvRo().
		SlotRw("from").
		Input("amount", TypeBalance())))
	if !ok {
		t.Fatal("Failed to fingerprint method")
	}
	if a == d {
		t.Error("Extra env argument did not change the fingerprint")
	}

	if _, ok := Fingerprint([]byte{byte(KindInput)}); ok {
		t.Error("Malformed method fingerprinted unexpectedly")
	}
}
