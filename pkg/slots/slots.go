// Package slots implements the transactional slot store the executor runs
// contracts against. A slot is a byte string keyed by owner and managing
// contract. Scopes hand out read views and write buffers, track every
// access in a ledger and settle or revert their own accesses exactly once
// when they close or reset. Conflicting access within overlapping scopes
// is refused, never blocked on.
package slots

import (
	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/logging"
)

// SlotKey addresses one slot.
type SlotKey struct {
	// Owner of the slot.
	Owner contracts.Address

	// Contract managing the slot. The null address marks ephemeral tmp
	// records that are purged when the outermost scope closes.
	Contract contracts.Address
}

// SlotIndex is a stable handle to a slot entry, valid for the lifetime of
// the scope that returned it.
type SlotIndex int

// SlotItem is one slot and its settled contents.
type SlotItem struct {
	Key   SlotKey
	Value []byte
}

// slotState tracks how a slot is held. Settled slots are original or
// modified; the other states exist only while some scope has the slot
// checked out.
type slotState uint8

const (
	stateOriginal slotState = iota
	stateOriginalReadOnly
	stateModified
	stateModifiedReadOnly
	stateOriginalReadWrite
	stateModifiedReadWrite
)

// slot is one entry's payload. For settled and read-only states shared
// holds the contents; for read-write states rw is the working copy and
// shared the value to restore on reset.
type slot struct {
	state  slotState
	shared []byte
	rw     *buffer.Buffer
}

type entry struct {
	key  SlotKey
	slot slot
}

// access is one ledger record: which slot and whether it is held for
// writing.
type access struct {
	slotIndex SlotIndex
	readWrite bool
}

// table is the storage shared by a Slots root and every scope derived from
// it.
type table struct {
	entries []entry
	index   map[SlotKey]SlotIndex

	// ledger records accesses in order. Each scope remembers the ledger
	// length at its creation and settles exactly the records beyond it.
	ledger []access

	// newContracts may have slots created for them mid-transaction, as
	// owner or as managing contract.
	newContracts []contracts.Address

	logger logging.Logger
}

// find returns the index of key's entry.
func (t *table) find(key SlotKey) (SlotIndex, bool) {
	idx, ok := t.index[key]
	return idx, ok
}

// append adds a new entry and indexes it.
func (t *table) append(key SlotKey, s slot) SlotIndex {
	idx := SlotIndex(len(t.entries))
	t.entries = append(t.entries, entry{key: key, slot: s})
	t.index[key] = idx
	return idx
}

// permitted reports whether a slot missing from the table may be created
// under key. Tmp records always may; otherwise the owner or the managing
// contract must have been registered as a new contract.
func (t *table) permitted(key SlotKey) bool {
	if key.Contract == contracts.AddressNull {
		return true
	}
	for _, candidate := range t.newContracts {
		if candidate == key.Owner || candidate == key.Contract {
			return true
		}
	}
	return false
}

// Slots is the root slot collection for one transaction. Scopes created
// with NestedRW and NestedRO operate on it; the root itself only exposes
// settled contents.
type Slots struct {
	table *table
}

// New returns a root collection holding the given slots. Tmp records under
// the null contract are dropped: they are ephemeral and cannot be seeded.
// Absent slots can only be created for contracts registered with
// AddNewContract. A nil logger disables logging.
func New(initial map[SlotKey][]byte, logger logging.Logger) *Slots {
	if logger == nil {
		logger = logging.Nop()
	}
	t := &table{
		index:  make(map[SlotKey]SlotIndex, len(initial)),
		logger: logger,
	}
	for key, value := range initial {
		if key.Contract == contracts.AddressNull {
			continue
		}
		owned := make([]byte, len(value))
		copy(owned, value)
		t.append(key, slot{state: stateOriginal, shared: owned})
	}
	return &Slots{table: t}
}

// NestedRW opens the outermost read-write scope. Closing it settles all
// accesses and purges tmp records.
func (s *Slots) NestedRW() *NestedSlots {
	return &NestedSlots{
		table:          s.table,
		readWrite:      true,
		originalParent: true,
	}
}

// NestedRO opens a read-only scope that does no access tracking.
func (s *Slots) NestedRO() *NestedSlots {
	return &NestedSlots{table: s.table}
}

// AddNewContract registers a contract created mid-transaction, allowing
// slots to be created for it. Returns false on a duplicate, which is an
// access violation.
func (s *Slots) AddNewContract(owner contracts.Address) bool {
	return addNewContract(s.table, owner)
}

func addNewContract(t *table, owner contracts.Address) bool {
	for _, candidate := range t.newContracts {
		if candidate == owner {
			t.logger.Debugf("not adding new contract duplicate: owner=%s", owner)
			return false
		}
	}
	t.newContracts = append(t.newContracts, owner)
	return true
}

// Items returns every slot and its settled contents. It must not be called
// while a scope is open.
func (s *Slots) Items() []SlotItem {
	items := make([]SlotItem, 0, len(s.table.entries))
	for i := range s.table.entries {
		e := &s.table.entries[i]
		items = append(items, SlotItem{Key: e.key, Value: settledValue(&e.slot)})
	}
	return items
}

// ModifiedItems returns only the slots changed since New. It must not be
// called while a scope is open.
func (s *Slots) ModifiedItems() []SlotItem {
	var items []SlotItem
	for i := range s.table.entries {
		e := &s.table.entries[i]
		if e.slot.state == stateOriginal {
			continue
		}
		items = append(items, SlotItem{Key: e.key, Value: settledValue(&e.slot)})
	}
	return items
}

// Clone returns an independent copy of the collection. It must not be
// called while a scope is open.
func (s *Slots) Clone() *Slots {
	src := s.table
	t := &table{
		entries:      make([]entry, len(src.entries)),
		index:        make(map[SlotKey]SlotIndex, len(src.index)),
		ledger:       append([]access(nil), src.ledger...),
		newContracts: append([]contracts.Address(nil), src.newContracts...),
		logger:       src.logger,
	}
	copy(t.entries, src.entries)
	for i := range t.entries {
		if rw := t.entries[i].slot.rw; rw != nil {
			t.entries[i].slot.rw = rw.Clone()
		}
	}
	for key, idx := range src.index {
		t.index[key] = idx
	}
	return &Slots{table: t}
}

// settledValue returns the contents of a settled slot and panics on a slot
// some scope still holds, which means scopes were leaked.
func settledValue(s *slot) []byte {
	switch s.state {
	case stateOriginal, stateModified:
		return s.shared
	default:
		panic("slots: slot held by an open scope")
	}
}
