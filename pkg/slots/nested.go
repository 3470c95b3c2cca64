package slots

import (
	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
)

// NestedSlots is one access scope over a slot collection. Read-write scopes
// track every access and settle their own accesses when closed, or revert
// them with Reset. Read-only scopes do no tracking at all.
//
// Scopes nest: inner scopes must be closed before the outer scope is used
// again. Every read-write scope must be closed exactly once.
type NestedSlots struct {
	table *table

	// watermark is the ledger length when this scope was opened. Close and
	// Reset touch only records at or beyond it.
	watermark int

	readWrite      bool
	originalParent bool
	closed         bool
}

// NestedRW opens a read-write scope nested in this one. Returns false on a
// read-only scope.
func (n *NestedSlots) NestedRW() (*NestedSlots, bool) {
	if !n.readWrite {
		return nil, false
	}
	return &NestedSlots{
		table:     n.table,
		watermark: len(n.table.ledger),
		readWrite: true,
	}, true
}

// NestedRO opens a read-only scope nested in this one.
func (n *NestedSlots) NestedRO() *NestedSlots {
	return &NestedSlots{table: n.table}
}

// AddNewContract registers a contract created mid-transaction, allowing
// slots to be created for it. Returns false on a read-only scope or a
// duplicate, both access violations.
func (n *NestedSlots) AddNewContract(owner contracts.Address) bool {
	if !n.readWrite {
		n.table.logger.Debugf("add new contract access violation: owner=%s", owner)
		return false
	}
	return addNewContract(n.table, owner)
}

// GetCode returns the code slot contents for owner. Unlike UseRO the slot
// is not marked as used. Fails if the code is missing or currently checked
// out for writing. The returned bytes must not be modified.
func (n *NestedSlots) GetCode(owner contracts.Address) ([]byte, bool) {
	t := n.table
	code, ok := getCode(t, owner)
	if !ok {
		t.logger.Debugf("get code access violation: owner=%s", owner)
	}
	return code, ok
}

func getCode(t *table, owner contracts.Address) ([]byte, bool) {
	idx, found := t.find(SlotKey{Owner: owner, Contract: contracts.AddressSystemCode})
	if !found {
		return nil, false
	}
	for _, a := range t.ledger {
		if a.slotIndex == idx && a.readWrite {
			return nil, false
		}
	}
	s := &t.entries[idx].slot
	switch s.state {
	case stateOriginalReadWrite, stateModifiedReadWrite:
		return nil, false
	default:
		return s.shared, true
	}
}

// UseRO returns a read view of the slot under key and, in a read-write
// scope, marks it as used. A slot checked out for writing cannot be read.
// Missing slots read as empty when key refers to a tmp record or a contract
// registered with AddNewContract; in a read-write scope the empty slot is
// also materialized so the outer scope observes the read. The returned
// bytes must not be modified.
func (n *NestedSlots) UseRO(key SlotKey) ([]byte, bool) {
	t := n.table
	var (
		value []byte
		ok    bool
	)
	if n.readWrite {
		value, ok = useRO(t, key)
	} else {
		value, ok = useROUntracked(t, key)
	}
	if !ok {
		t.logger.Debugf("use ro access violation: owner=%s contract=%s", key.Owner, key.Contract)
	}
	return value, ok
}

func useRO(t *table, key SlotKey) ([]byte, bool) {
	idx, found := t.find(key)
	if !found {
		if !t.permitted(key) {
			return nil, false
		}
		// Materialize an empty slot so the access is tracked and settled
		// like any other read.
		idx = t.append(key, slot{state: stateOriginalReadOnly})
		t.ledger = append(t.ledger, access{slotIndex: idx})
		return nil, true
	}

	tracked := false
	for _, a := range t.ledger {
		if a.slotIndex != idx {
			continue
		}
		if a.readWrite {
			return nil, false
		}
		tracked = true
		break
	}
	if !tracked {
		t.ledger = append(t.ledger, access{slotIndex: idx})
	}

	s := &t.entries[idx].slot
	switch s.state {
	case stateOriginal:
		s.state = stateOriginalReadOnly
	case stateModified:
		s.state = stateModifiedReadOnly
	case stateOriginalReadOnly, stateModifiedReadOnly:
	default:
		return nil, false
	}
	return s.shared, true
}

func useROUntracked(t *table, key SlotKey) ([]byte, bool) {
	idx, found := t.find(key)
	if !found {
		if !t.permitted(key) {
			return nil, false
		}
		return nil, true
	}
	for _, a := range t.ledger {
		if a.slotIndex == idx && a.readWrite {
			return nil, false
		}
	}
	s := &t.entries[idx].slot
	switch s.state {
	case stateOriginalReadWrite, stateModifiedReadWrite:
		return nil, false
	default:
		return s.shared, true
	}
}

// UseRW checks the slot under key out for writing and returns its working
// buffer, sized to hold at least capacity bytes, together with a handle for
// AccessUsedRW. A slot already used in this or an enclosing open scope
// cannot be checked out. Missing slots are created under the same rules as
// UseRO. Fails silently on a read-only scope.
func (n *NestedSlots) UseRW(key SlotKey, capacity uint32) (SlotIndex, *buffer.Buffer, bool) {
	if !n.readWrite {
		return 0, nil, false
	}
	t := n.table
	idx, buf, ok := useRW(t, key, capacity)
	if !ok {
		t.logger.Debugf("use rw access violation: owner=%s contract=%s", key.Owner, key.Contract)
	}
	return idx, buf, ok
}

func useRW(t *table, key SlotKey, capacity uint32) (SlotIndex, *buffer.Buffer, bool) {
	idx, found := t.find(key)
	if !found {
		if !t.permitted(key) {
			return 0, nil, false
		}
		buf := buffer.New(capacity)
		idx = t.append(key, slot{state: stateOriginalReadWrite, rw: buf})
		t.ledger = append(t.ledger, access{slotIndex: idx, readWrite: true})
		return idx, buf, true
	}

	for _, a := range t.ledger {
		if a.slotIndex == idx {
			return 0, nil, false
		}
	}
	t.ledger = append(t.ledger, access{slotIndex: idx, readWrite: true})

	s := &t.entries[idx].slot
	switch s.state {
	case stateOriginal, stateModified:
		size := capacity
		if l := uint32(len(s.shared)); l > size {
			size = l
		}
		buf := buffer.New(size)
		if !buf.CopyFrom(s.shared) {
			return 0, nil, false
		}
		s.rw = buf
		if s.state == stateOriginal {
			s.state = stateOriginalReadWrite
		} else {
			s.state = stateModifiedReadWrite
		}
		return idx, buf, true
	case stateOriginalReadWrite, stateModifiedReadWrite:
		s.rw.EnsureCapacity(capacity)
		return idx, s.rw, true
	default:
		return 0, nil, false
	}
}

// AccessUsedRW returns the working buffer of a slot previously checked out
// with UseRW in this or an enclosing open scope. Fails silently on a
// read-only scope.
func (n *NestedSlots) AccessUsedRW(idx SlotIndex) (*buffer.Buffer, bool) {
	if !n.readWrite {
		return nil, false
	}
	t := n.table
	if idx < 0 || int(idx) >= len(t.entries) {
		t.logger.Debugf("access used rw access violation (not found): index=%d", idx)
		return nil, false
	}
	s := &t.entries[idx].slot
	switch s.state {
	case stateOriginalReadWrite, stateModifiedReadWrite:
		return s.rw, true
	default:
		t.logger.Debugf("access used rw access violation (read only): index=%d", idx)
		return nil, false
	}
}

// Reset reverts every access made through this scope and its closed
// children, restoring the slots to their contents at scope creation. The
// scope remains usable. No-op on read-only and closed scopes.
func (n *NestedSlots) Reset() {
	if !n.readWrite || n.closed {
		return
	}
	t := n.table
	for _, a := range t.ledger[n.watermark:] {
		s := &t.entries[a.slotIndex].slot
		switch s.state {
		case stateOriginalReadOnly:
			s.state = stateOriginal
		case stateModifiedReadOnly:
			s.state = stateModified
		case stateOriginalReadWrite:
			s.state = stateOriginal
			s.rw = nil
		case stateModifiedReadWrite:
			s.state = stateModified
			s.rw = nil
		}
	}
	t.ledger = t.ledger[:n.watermark]
}

// Close settles every access made through this scope: reads are released
// and writes become the new slot contents. The outermost scope additionally
// purges tmp records. Closing twice is an access violation and a no-op.
func (n *NestedSlots) Close() {
	t := n.table
	if n.closed {
		t.logger.Debugf("slot scope already closed")
		return
	}
	n.closed = true
	if !n.readWrite {
		return
	}
	for _, a := range t.ledger[n.watermark:] {
		s := &t.entries[a.slotIndex].slot
		switch s.state {
		case stateOriginalReadOnly:
			s.state = stateOriginal
		case stateModifiedReadOnly:
			s.state = stateModified
		case stateOriginalReadWrite, stateModifiedReadWrite:
			s.state = stateModified
			s.shared = s.rw.Bytes()
			s.rw = nil
		}
	}
	t.ledger = t.ledger[:n.watermark]
	if n.originalParent {
		t.purgeTmp()
	}
}

// purgeTmp drops all tmp records and reindexes the surviving entries. Only
// called once all accesses are settled.
func (t *table) purgeTmp() {
	removed := false
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.key.Contract == contracts.AddressNull {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return
	}
	t.entries = kept
	t.index = make(map[SlotKey]SlotIndex, len(kept))
	for i := range t.entries {
		t.index[t.entries[i].key] = SlotIndex(i)
	}
}
