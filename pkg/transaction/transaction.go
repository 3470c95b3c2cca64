// Package transaction defines the transaction primitives the executor and
// wallets operate on: the header, slot declarations, the wire form, the
// method-call payload codec and an in-memory pool.
package transaction

import (
	"encoding/binary"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/cirrus/pkg/contracts"
)

// Gas is a measure of compute resources. 1 Gas corresponds to 1 ns of
// compute on reference hardware.
type Gas uint64

// BlockHash identifies the block a transaction was created against.
type BlockHash [32]byte

// String returns the base58 form.
func (h BlockHash) String() string {
	return base58.Encode(h[:])
}

// Hash is a transaction hash.
type Hash [32]byte

// String returns the base58 form.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Header sizes of the fixed wire encoding.
const (
	HeaderSize = 32 + 8 + 16
	SlotSize   = 32
)

// Header is the fixed transaction header.
type Header struct {
	// BlockHash anchors the transaction to the block it was created at.
	BlockHash BlockHash

	// GasLimit bounds the compute spent on the transaction.
	GasLimit Gas

	// Contract is the transaction handler invoked to verify and execute
	// the transaction.
	Contract contracts.Address
}

func (h *Header) appendTo(dst []byte) []byte {
	dst = append(dst, h.BlockHash[:]...)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.GasLimit))
	dst = append(dst, h.Contract[:]...)
	return dst
}

// Encode returns the fixed wire encoding of the header.
func (h *Header) Encode() []byte {
	return h.appendTo(make([]byte, 0, HeaderSize))
}

func decodeHeader(b []byte) Header {
	var h Header
	copy(h.BlockHash[:], b[:32])
	h.GasLimit = Gas(binary.LittleEndian.Uint64(b[32:40]))
	copy(h.Contract[:], b[40:56])
	return h
}

// Slot declares one slot a transaction may touch.
type Slot struct {
	// Owner of the slot.
	Owner contracts.Address

	// Contract that manages the slot.
	Contract contracts.Address
}

func (s *Slot) appendTo(dst []byte) []byte {
	dst = append(dst, s.Owner[:]...)
	dst = append(dst, s.Contract[:]...)
	return dst
}

// EncodeSlots returns the concatenated wire encoding of the slots.
func EncodeSlots(slots []Slot) []byte {
	dst := make([]byte, 0, len(slots)*SlotSize)
	for i := range slots {
		dst = slots[i].appendTo(dst)
	}
	return dst
}

func decodeSlot(b []byte) Slot {
	var s Slot
	copy(s.Owner[:], b[:16])
	copy(s.Contract[:], b[16:32])
	return s
}

// Transaction is one transaction. Slices are typically views into the wire
// buffer the transaction was decoded from and must not be modified.
type Transaction struct {
	// Header is the fixed header.
	Header Header

	// ReadSlots may be read during processing. The code slot of the
	// handler contract is implicitly included and need not be declared;
	// neither do slots already declared in WriteSlots.
	ReadSlots []Slot

	// WriteSlots may be written during processing.
	WriteSlots []Slot

	// Payload is the method-call payload. Its length is a multiple of 16.
	Payload []byte

	// Seal authorizes the transaction, interpreted by the handler.
	Seal []byte
}

// Hash computes the transaction hash. It is recomputed on every call.
func (t *Transaction) Hash() Hash {
	hasher := blake3.New()

	var scratch [HeaderSize]byte
	hasher.Write(t.Header.appendTo(scratch[:0]))
	var slotScratch [SlotSize]byte
	for i := range t.ReadSlots {
		hasher.Write(t.ReadSlots[i].appendTo(slotScratch[:0]))
	}
	for i := range t.WriteSlots {
		hasher.Write(t.WriteSlots[i].appendTo(slotScratch[:0]))
	}
	hasher.Write(t.Payload)
	hasher.Write(t.Seal)

	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// AllReadSlots returns the read slots including the implicitly used ones.
func (t *Transaction) AllReadSlots() []Slot {
	slots := make([]Slot, 0, 1+len(t.ReadSlots))
	slots = append(slots, Slot{
		Owner:    t.Header.Contract,
		Contract: contracts.AddressSystemCode,
	})
	return append(slots, t.ReadSlots...)
}

// AllSlots returns every slot the transaction may touch, including the
// implicitly used ones.
func (t *Transaction) AllSlots() []Slot {
	return append(t.AllReadSlots(), t.WriteSlots...)
}
