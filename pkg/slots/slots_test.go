package slots

import (
	"bytes"
	"testing"

	"github.com/fortiblox/cirrus/pkg/contracts"
)

// testAddr builds addresses clear of the reserved system range.
func testAddr(n byte) contracts.Address {
	var addr contracts.Address
	addr[8] = n
	return addr
}

func TestNewDropsTmpRecords(t *testing.T) {
	owner := testAddr(1)
	manager := testAddr(2)
	perKey := SlotKey{Owner: owner, Contract: manager}
	tmpKey := SlotKey{Owner: owner, Contract: contracts.AddressNull}

	s := New(map[SlotKey][]byte{
		perKey: []byte("persistent"),
		tmpKey: []byte("ephemeral"),
	}, nil)

	items := s.Items()
	if len(items) != 1 {
		t.Fatalf("Items length mismatch: got %d, want 1", len(items))
	}
	if items[0].Key.Contract != manager {
		t.Errorf("Unexpected surviving slot: %v", items[0].Key)
	}
	if !bytes.Equal(items[0].Value, []byte("persistent")) {
		t.Errorf("Slot value mismatch: got %q", items[0].Value)
	}
}

func TestUseROTracking(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("value")}, nil)

	scope := s.NestedRW()
	value, ok := scope.UseRO(key)
	if !ok {
		t.Fatal("Failed to read existing slot")
	}
	if !bytes.Equal(value, []byte("value")) {
		t.Errorf("Slot value mismatch: got %q", value)
	}

	// Repeated reads in the same scope are fine.
	if _, ok := scope.UseRO(key); !ok {
		t.Fatal("Failed to read slot a second time")
	}

	// A slot held for reading cannot be checked out for writing.
	if _, _, ok := scope.UseRW(key, 16); ok {
		t.Fatal("Expected write on a read slot to fail")
	}

	scope.Close()

	if len(s.ModifiedItems()) != 0 {
		t.Errorf("Reads must not mark slots modified: %v", s.ModifiedItems())
	}

	// After the scope settles the slot is writable again.
	scope = s.NestedRW()
	if _, _, ok := scope.UseRW(key, 16); !ok {
		t.Fatal("Failed to write slot after previous scope closed")
	}
	scope.Close()
}

func TestUseRWCopyOnWrite(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("abc")}, nil)

	scope := s.NestedRW()
	_, buf, ok := scope.UseRW(key, 16)
	if !ok {
		t.Fatal("Failed to check slot out for writing")
	}
	if !bytes.Equal(buf.Bytes(), []byte("abc")) {
		t.Errorf("Working buffer contents mismatch: got %q", buf.Bytes())
	}
	if buf.Cap() < 16 {
		t.Errorf("Working buffer capacity mismatch: got %d, want at least 16", buf.Cap())
	}

	// A slot checked out for writing cannot be read.
	if _, ok := scope.UseRO(key); ok {
		t.Fatal("Expected read on a written slot to fail")
	}
	// And cannot be checked out again.
	if _, _, ok := scope.UseRW(key, 16); ok {
		t.Fatal("Expected second write checkout to fail")
	}

	if !buf.CopyFrom([]byte("replaced")) {
		t.Fatal("Failed to write through working buffer")
	}
	scope.Close()

	modified := s.ModifiedItems()
	if len(modified) != 1 {
		t.Fatalf("ModifiedItems length mismatch: got %d, want 1", len(modified))
	}
	if !bytes.Equal(modified[0].Value, []byte("replaced")) {
		t.Errorf("Settled value mismatch: got %q", modified[0].Value)
	}

	// The new contents are visible to later scopes.
	ro := s.NestedRO()
	value, ok := ro.UseRO(key)
	if !ok {
		t.Fatal("Failed to read settled slot")
	}
	if !bytes.Equal(value, []byte("replaced")) {
		t.Errorf("Read after settle mismatch: got %q", value)
	}
}

func TestResetRevertsOwnAccesses(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("original")}, nil)

	scope := s.NestedRW()
	_, buf, ok := scope.UseRW(key, 16)
	if !ok {
		t.Fatal("Failed to check slot out for writing")
	}
	buf.CopyFrom([]byte("discarded"))
	scope.Reset()

	// The scope stays usable and sees the original contents.
	value, ok := scope.UseRO(key)
	if !ok {
		t.Fatal("Failed to read slot after reset")
	}
	if !bytes.Equal(value, []byte("original")) {
		t.Errorf("Value after reset mismatch: got %q", value)
	}
	scope.Close()

	if len(s.ModifiedItems()) != 0 {
		t.Errorf("Reset writes must not settle: %v", s.ModifiedItems())
	}
}

func TestNestedScopes(t *testing.T) {
	keyA := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	keyB := SlotKey{Owner: testAddr(3), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{
		keyA: []byte("a"),
		keyB: []byte("b"),
	}, nil)

	parent := s.NestedRW()
	_, bufA, ok := parent.UseRW(keyA, 8)
	if !ok {
		t.Fatal("Failed to check slot A out for writing")
	}
	bufA.CopyFrom([]byte("a2"))

	child, ok := parent.NestedRW()
	if !ok {
		t.Fatal("Failed to open nested scope")
	}

	// The child cannot touch a slot its parent holds.
	if _, ok := child.UseRO(keyA); ok {
		t.Fatal("Expected child read of parent-held slot to fail")
	}
	if _, _, ok := child.UseRW(keyA, 8); ok {
		t.Fatal("Expected child write of parent-held slot to fail")
	}

	_, bufB, ok := child.UseRW(keyB, 8)
	if !ok {
		t.Fatal("Failed to check slot B out for writing")
	}
	bufB.CopyFrom([]byte("b2"))
	child.Close()

	// The child settled B into the parent scope; the parent can use it now.
	value, ok := parent.UseRO(keyB)
	if !ok {
		t.Fatal("Failed to read slot B after child settled")
	}
	if !bytes.Equal(value, []byte("b2")) {
		t.Errorf("Slot B value mismatch: got %q", value)
	}

	parent.Close()

	modified := map[SlotKey][]byte{}
	for _, item := range s.ModifiedItems() {
		modified[item.Key] = item.Value
	}
	if !bytes.Equal(modified[keyA], []byte("a2")) {
		t.Errorf("Slot A settled value mismatch: got %q", modified[keyA])
	}
	if !bytes.Equal(modified[keyB], []byte("b2")) {
		t.Errorf("Slot B settled value mismatch: got %q", modified[keyB])
	}
}

func TestNestedResetLeavesParentAccesses(t *testing.T) {
	keyA := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	keyB := SlotKey{Owner: testAddr(3), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{
		keyA: []byte("a"),
		keyB: []byte("b"),
	}, nil)

	parent := s.NestedRW()
	_, bufA, ok := parent.UseRW(keyA, 8)
	if !ok {
		t.Fatal("Failed to check slot A out for writing")
	}
	bufA.CopyFrom([]byte("a2"))

	child, _ := parent.NestedRW()
	_, bufB, ok := child.UseRW(keyB, 8)
	if !ok {
		t.Fatal("Failed to check slot B out for writing")
	}
	bufB.CopyFrom([]byte("b2"))
	child.Reset()
	child.Close()

	parent.Close()

	modified := map[SlotKey][]byte{}
	for _, item := range s.ModifiedItems() {
		modified[item.Key] = item.Value
	}
	if !bytes.Equal(modified[keyA], []byte("a2")) {
		t.Errorf("Parent write lost by child reset: got %q", modified[keyA])
	}
	if _, found := modified[keyB]; found {
		t.Error("Child write survived reset")
	}
}

func TestSlotCreationRules(t *testing.T) {
	owner := testAddr(1)
	manager := testAddr(2)
	key := SlotKey{Owner: owner, Contract: manager}
	tmpKey := SlotKey{Owner: owner, Contract: contracts.AddressNull}

	s := New(nil, nil)
	scope := s.NestedRW()

	// Unknown contracts cannot have slots created.
	if _, ok := scope.UseRO(key); ok {
		t.Fatal("Expected read of unknown slot to fail")
	}
	if _, _, ok := scope.UseRW(key, 8); ok {
		t.Fatal("Expected write of unknown slot to fail")
	}

	// Tmp records are always permitted.
	if _, ok := scope.UseRO(tmpKey); !ok {
		t.Fatal("Failed to read missing tmp record")
	}

	if !scope.AddNewContract(manager) {
		t.Fatal("Failed to add new contract")
	}
	if scope.AddNewContract(manager) {
		t.Fatal("Expected duplicate contract registration to fail")
	}

	// Slots of the new contract now read as empty and are writable.
	value, ok := scope.UseRO(key)
	if !ok {
		t.Fatal("Failed to read slot of new contract")
	}
	if len(value) != 0 {
		t.Errorf("Missing slot must read empty, got %q", value)
	}

	key2 := SlotKey{Owner: manager, Contract: testAddr(9)}
	if _, _, ok := scope.UseRW(key2, 8); !ok {
		t.Fatal("Failed to create slot owned by new contract")
	}

	scope.Close()

	// Tmp records do not survive the outermost scope.
	for _, item := range s.Items() {
		if item.Key.Contract == contracts.AddressNull {
			t.Errorf("Tmp record survived settlement: %v", item.Key)
		}
	}
}

func TestGetCode(t *testing.T) {
	owner := testAddr(1)
	codeKey := SlotKey{Owner: owner, Contract: contracts.AddressSystemCode}
	s := New(map[SlotKey][]byte{codeKey: []byte("code")}, nil)

	ro := s.NestedRO()
	code, ok := ro.GetCode(owner)
	if !ok {
		t.Fatal("Failed to get code on read-only scope")
	}
	if !bytes.Equal(code, []byte("code")) {
		t.Errorf("Code mismatch: got %q", code)
	}
	if _, ok := ro.GetCode(testAddr(9)); ok {
		t.Fatal("Expected missing code lookup to fail")
	}

	scope := s.NestedRW()
	if _, ok := scope.GetCode(owner); !ok {
		t.Fatal("Failed to get code on read-write scope")
	}

	// Code checked out for writing cannot be fetched.
	if _, _, ok := scope.UseRW(codeKey, 8); !ok {
		t.Fatal("Failed to check code slot out for writing")
	}
	if _, ok := scope.GetCode(owner); ok {
		t.Fatal("Expected code fetch of written slot to fail")
	}
	scope.Close()

	scope = s.NestedRW()
	if _, ok := scope.GetCode(owner); !ok {
		t.Fatal("Failed to get code after settlement")
	}
	scope.Close()
}

func TestAccessUsedRW(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("v")}, nil)

	scope := s.NestedRW()
	idx, buf, ok := scope.UseRW(key, 8)
	if !ok {
		t.Fatal("Failed to check slot out for writing")
	}
	again, ok := scope.AccessUsedRW(idx)
	if !ok {
		t.Fatal("Failed to access checked-out slot")
	}
	if again != buf {
		t.Error("AccessUsedRW returned a different buffer")
	}
	if _, ok := scope.AccessUsedRW(idx + 100); ok {
		t.Fatal("Expected out-of-range access to fail")
	}
	scope.Close()

	// Once settled the handle no longer grants write access.
	scope = s.NestedRW()
	if _, ok := scope.AccessUsedRW(idx); ok {
		t.Fatal("Expected access to settled slot to fail")
	}
	scope.Close()
}

func TestReadOnlyScopeRestrictions(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("v")}, nil)

	ro := s.NestedRO()
	if _, _, ok := ro.UseRW(key, 8); ok {
		t.Fatal("Expected write on read-only scope to fail")
	}
	if ro.AddNewContract(testAddr(9)) {
		t.Fatal("Expected contract registration on read-only scope to fail")
	}
	if _, ok := ro.NestedRW(); ok {
		t.Fatal("Expected nested read-write scope on read-only scope to fail")
	}

	// Reads work and are not tracked: missing permitted slots are not
	// materialized.
	tmpKey := SlotKey{Owner: testAddr(1), Contract: contracts.AddressNull}
	if _, ok := ro.UseRO(tmpKey); !ok {
		t.Fatal("Failed to read missing tmp record")
	}
	ro.Close()
	if len(s.Items()) != 1 {
		t.Errorf("Read-only scope materialized a slot: %v", s.Items())
	}
}

func TestReadOnlyScopeSeesHeldSlotsAsConflicts(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("v")}, nil)

	parent := s.NestedRW()
	if _, _, ok := parent.UseRW(key, 8); !ok {
		t.Fatal("Failed to check slot out for writing")
	}

	ro := parent.NestedRO()
	if _, ok := ro.UseRO(key); ok {
		t.Fatal("Expected read of slot held for writing to fail")
	}
	ro.Close()
	parent.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("v")}, nil)

	scope := s.NestedRW()
	_, buf, ok := scope.UseRW(key, 8)
	if !ok {
		t.Fatal("Failed to check slot out for writing")
	}
	buf.CopyFrom([]byte("v2"))
	scope.Close()
	scope.Close()

	modified := s.ModifiedItems()
	if len(modified) != 1 {
		t.Fatalf("ModifiedItems length mismatch: got %d, want 1", len(modified))
	}
	if !bytes.Equal(modified[0].Value, []byte("v2")) {
		t.Errorf("Settled value mismatch: got %q", modified[0].Value)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	key := SlotKey{Owner: testAddr(1), Contract: testAddr(2)}
	s := New(map[SlotKey][]byte{key: []byte("v")}, nil)
	clone := s.Clone()

	scope := s.NestedRW()
	_, buf, ok := scope.UseRW(key, 8)
	if !ok {
		t.Fatal("Failed to check slot out for writing")
	}
	buf.CopyFrom([]byte("changed"))
	scope.Close()

	items := clone.Items()
	if len(items) != 1 {
		t.Fatalf("Clone items length mismatch: got %d, want 1", len(items))
	}
	if !bytes.Equal(items[0].Value, []byte("v")) {
		t.Errorf("Clone observed the original's write: got %q", items[0].Value)
	}
}
