package transaction

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire form errors.
var (
	ErrNotEnoughBytes          = errors.New("not enough bytes")
	ErrInvalidPadding          = errors.New("invalid padding")
	ErrPayloadNotAligned       = errors.New("payload length is not a multiple of 16")
	ErrUnexpectedNumberOfBytes = errors.New("unexpected number of bytes")
	ErrTooManyReadSlots        = errors.New("too many read slots")
	ErrTooManyWriteSlots       = errors.New("too many write slots")
	ErrPayloadTooLarge         = errors.New("payload too large")
	ErrSealTooLarge            = errors.New("seal too large")
	ErrTransactionTooLarge     = errors.New("transaction too large")
)

// lengthsSize is the fixed block after the header holding section lengths:
// u16 read slots, u16 write slots, u32 payload, u32 seal, 12 padding bytes
// that must be zero.
const lengthsSize = 2 + 2 + 4 + 4 + 12

const prefixSize = HeaderSize + lengthsSize

// Encode serializes the transaction into its wire form.
func (t *Transaction) Encode() ([]byte, error) {
	if len(t.ReadSlots) > math.MaxUint16 {
		return nil, ErrTooManyReadSlots
	}
	if len(t.WriteSlots) > math.MaxUint16 {
		return nil, ErrTooManyWriteSlots
	}
	if uint64(len(t.Payload)) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	if len(t.Payload)%16 != 0 {
		return nil, ErrPayloadNotAligned
	}
	if uint64(len(t.Seal)) > math.MaxUint32 {
		return nil, ErrSealTooLarge
	}
	total := uint64(prefixSize) +
		uint64(len(t.ReadSlots)+len(t.WriteSlots))*SlotSize +
		uint64(len(t.Payload)) +
		uint64(len(t.Seal))
	if total > math.MaxUint32 {
		return nil, ErrTransactionTooLarge
	}

	out := make([]byte, 0, total)
	out = t.Header.appendTo(out)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(t.ReadSlots)))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(t.WriteSlots)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(t.Payload)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(t.Seal)))
	out = append(out, make([]byte, 12)...)
	for i := range t.ReadSlots {
		out = t.ReadSlots[i].appendTo(out)
	}
	for i := range t.WriteSlots {
		out = t.WriteSlots[i].appendTo(out)
	}
	out = append(out, t.Payload...)
	out = append(out, t.Seal...)
	return out, nil
}

// Decode parses a transaction from its wire form. Payload and seal are
// views into b.
func Decode(b []byte) (*Transaction, error) {
	if len(b) < prefixSize {
		return nil, ErrNotEnoughBytes
	}

	numReadSlots := int(binary.LittleEndian.Uint16(b[HeaderSize:]))
	numWriteSlots := int(binary.LittleEndian.Uint16(b[HeaderSize+2:]))
	payloadLen := binary.LittleEndian.Uint32(b[HeaderSize+4:])
	sealLen := binary.LittleEndian.Uint32(b[HeaderSize+8:])
	for _, pad := range b[HeaderSize+12 : prefixSize] {
		if pad != 0 {
			return nil, ErrInvalidPadding
		}
	}
	if payloadLen%16 != 0 {
		return nil, ErrPayloadNotAligned
	}

	expected := uint64(prefixSize) +
		uint64(numReadSlots+numWriteSlots)*SlotSize +
		uint64(payloadLen) +
		uint64(sealLen)
	if uint64(len(b)) != expected {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedNumberOfBytes, len(b), expected)
	}

	t := &Transaction{Header: decodeHeader(b[:HeaderSize])}
	offset := prefixSize
	if numReadSlots > 0 {
		t.ReadSlots = make([]Slot, numReadSlots)
		for i := range t.ReadSlots {
			t.ReadSlots[i] = decodeSlot(b[offset:])
			offset += SlotSize
		}
	}
	if numWriteSlots > 0 {
		t.WriteSlots = make([]Slot, numWriteSlots)
		for i := range t.WriteSlots {
			t.WriteSlots[i] = decodeSlot(b[offset:])
			offset += SlotSize
		}
	}
	t.Payload = b[offset : offset+int(payloadLen)]
	offset += int(payloadLen)
	t.Seal = b[offset : offset+int(sealLen)]
	return t, nil
}
