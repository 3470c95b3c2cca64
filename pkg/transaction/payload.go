package transaction

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
)

// MethodContext selects the context a payload method call runs under.
type MethodContext byte

const (
	// MethodContextNull runs the call under the null context.
	MethodContextNull MethodContext = iota
	// MethodContextWallet runs the call under the wallet's context.
	MethodContextWallet
)

// Payload decoding budgets. They bound what a single payload can demand
// from the host while its methods execute.
const (
	// MaxPayloadOutputBytes bounds the total size of all output values
	// across all methods of one payload.
	MaxPayloadOutputBytes = 32 * 1024

	// MaxPayloadOutputs bounds how many output values all methods of one
	// payload may produce together.
	MaxPayloadOutputs = 16
)

// Payload codec errors.
var (
	ErrPayloadTooSmall        = errors.New("payload too small")
	ErrTooManyMethodArguments = errors.New("too many method arguments")
	ErrInvalidMethodContext   = errors.New("invalid method context")
	ErrInvalidAlignment       = errors.New("invalid alignment")
	ErrInvalidOutputIndex     = errors.New("invalid output index")
	ErrOutputIndexNotFound    = errors.New("output index not found")
	ErrOutputBufferTooSmall   = errors.New("output buffer too small")
	ErrTooManyOutputs         = errors.New("too many outputs")
	ErrInputTooLarge          = errors.New("input too large")
)

// PreparedCall is one decoded payload method call.
type PreparedCall struct {
	// Method is the prepared method with materialized arguments.
	Method *contracts.PreparedMethod

	// Context is the method context mapped from the payload.
	Context contracts.MethodContext
}

// PayloadDecoder decodes method calls from a transaction payload.
//
// Outputs of earlier calls form a stack that later calls can reference as
// inputs, so calls must be decoded one at a time, each after the previous
// one executed.
type PayloadDecoder struct {
	payload     []byte
	misaligned  bool
	outputs     []*buffer.Buffer
	outputBytes int
	mapContext  func(MethodContext) contracts.MethodContext
}

// NewPayloadDecoder returns a decoder over payload. Input values are
// returned as views into payload. A nil mapContext uses the system wallet
// mapping: null context resets, wallet context keeps.
func NewPayloadDecoder(payload []byte, mapContext func(MethodContext) contracts.MethodContext) *PayloadDecoder {
	if mapContext == nil {
		mapContext = func(mc MethodContext) contracts.MethodContext {
			if mc == MethodContextWallet {
				return contracts.MethodContextKeep
			}
			return contracts.MethodContextReset
		}
	}
	return &PayloadDecoder{
		payload:    payload,
		misaligned: len(payload)%16 != 0,
		mapContext: mapContext,
	}
}

// align drops bytes so the remaining length is a multiple of alignment.
// Because the payload's total length is a multiple of 16, this lands the
// next read on a naturally aligned boundary.
func (d *PayloadDecoder) align(alignment int) {
	d.payload = d.payload[len(d.payload)%alignment:]
}

func (d *PayloadDecoder) take(n int) ([]byte, bool) {
	if len(d.payload) < n {
		return nil, false
	}
	b := d.payload[:n]
	d.payload = d.payload[n:]
	return b, true
}

func (d *PayloadDecoder) takeByte() (byte, bool) {
	if len(d.payload) < 1 {
		return 0, false
	}
	b := d.payload[0]
	d.payload = d.payload[1:]
	return b, true
}

// DecodeNextMethod decodes the next method call, or returns (nil, nil) when
// the payload is exhausted.
func (d *PayloadDecoder) DecodeNextMethod() (*PreparedCall, error) {
	if d.misaligned {
		return nil, ErrPayloadNotAligned
	}
	if len(d.payload) <= 16 {
		return nil, nil
	}

	d.align(8)
	contractBytes, ok := d.take(16)
	if !ok {
		return nil, ErrPayloadTooSmall
	}
	var contract contracts.Address
	copy(contract[:], contractBytes)

	fingerprintBytes, ok := d.take(32)
	if !ok {
		return nil, ErrPayloadTooSmall
	}
	var fingerprint contracts.MethodFingerprint
	copy(fingerprint[:], fingerprintBytes)

	contextByte, ok := d.takeByte()
	if !ok {
		return nil, ErrPayloadTooSmall
	}
	if contextByte > byte(MethodContextWallet) {
		return nil, ErrInvalidMethodContext
	}

	numSlots, ok := d.takeByte()
	if !ok {
		return nil, ErrPayloadTooSmall
	}
	numInputs, ok := d.takeByte()
	if !ok {
		return nil, ErrPayloadTooSmall
	}
	numOutputs, ok := d.takeByte()
	if !ok {
		return nil, ErrPayloadTooSmall
	}

	// Slot arguments cost one cell, inputs two, outputs three. The shared
	// bound keeps one call from demanding an unbounded argument list.
	argCells := int(numSlots) + 2*int(numInputs) + 3*int(numOutputs)
	if argCells > 3*contracts.MaxTotalMethodArgs {
		return nil, ErrTooManyMethodArguments
	}

	var slots []contracts.Address
	for i := 0; i < int(numSlots); i++ {
		d.align(8)
		addrBytes, ok := d.take(16)
		if !ok {
			return nil, ErrPayloadTooSmall
		}
		var addr contracts.Address
		copy(addr[:], addrBytes)
		slots = append(slots, addr)
	}

	var inputs [][]byte
	for i := 0; i < int(numInputs); i++ {
		tag, ok := d.takeByte()
		if !ok {
			return nil, ErrPayloadTooSmall
		}
		if tag&0x80 != 0 {
			power := tag & 0x7f
			if power > 4 {
				return nil, ErrInvalidAlignment
			}
			d.align(4)
			sizeBytes, ok := d.take(4)
			if !ok {
				return nil, ErrPayloadTooSmall
			}
			size := binary.LittleEndian.Uint32(sizeBytes)
			d.align(1 << power)
			value, ok := d.take(int(size))
			if !ok {
				return nil, ErrPayloadTooSmall
			}
			inputs = append(inputs, value)
		} else {
			index := int(tag)
			if index >= len(d.outputs) {
				return nil, fmt.Errorf("%w: %d", ErrOutputIndexNotFound, tag)
			}
			inputs = append(inputs, d.outputs[index].Bytes())
		}
	}

	var outputs []*buffer.Buffer
	for i := 0; i < int(numOutputs); i++ {
		d.align(4)
		capacityBytes, ok := d.take(4)
		if !ok {
			return nil, ErrPayloadTooSmall
		}
		capacity := binary.LittleEndian.Uint32(capacityBytes)
		power, ok := d.takeByte()
		if !ok {
			return nil, ErrPayloadTooSmall
		}
		if power > 4 {
			return nil, ErrInvalidAlignment
		}
		if len(d.outputs) >= MaxPayloadOutputs {
			return nil, ErrTooManyOutputs
		}
		cost := 4 + int(capacity)
		if d.outputBytes+cost > MaxPayloadOutputBytes {
			return nil, ErrOutputBufferTooSmall
		}
		d.outputBytes += cost

		out := buffer.New(capacity)
		d.outputs = append(d.outputs, out)
		outputs = append(outputs, out)
	}

	return &PreparedCall{
		Method: &contracts.PreparedMethod{
			Contract:    contract,
			Fingerprint: fingerprint,
			Slots:       slots,
			Inputs:      inputs,
			Outputs:     outputs,
		},
		Context: d.mapContext(MethodContext(contextByte)),
	}, nil
}

// PayloadInput describes one input argument of a payload method call:
// either an inline value with its alignment or a reference to the output of
// an earlier call in the same payload.
type PayloadInput struct {
	value       []byte
	alignment   uint8
	outputIndex int
}

// ValueInput returns an inline input. Valid alignments are 1, 2, 4, 8
// and 16.
func ValueInput(value []byte, alignment uint8) PayloadInput {
	return PayloadInput{value: value, alignment: alignment, outputIndex: -1}
}

// OutputIndexInput returns an input referencing the index-th output
// produced by the calls before this one. Valid indexes are 0 through 127.
func OutputIndexInput(index uint8) PayloadInput {
	return PayloadInput{outputIndex: int(index)}
}

// PayloadOutput declares one output argument of a payload method call.
type PayloadOutput struct {
	// Capacity the host allocates for the value.
	Capacity uint32

	// Alignment of the value. Valid alignments are 1, 2, 4, 8 and 16.
	Alignment uint8
}

// PayloadBuilder builds a transaction payload decodable by PayloadDecoder.
//
// The zero value is ready to use.
type PayloadBuilder struct {
	payload []byte
}

// AddMethodCall appends one method call. Arguments follow the method's
// metadata order: slot owner addresses, then inputs, then output
// declarations.
func (b *PayloadBuilder) AddMethodCall(
	contract contracts.Address,
	fingerprint contracts.MethodFingerprint,
	context MethodContext,
	slots []contracts.Address,
	inputs []PayloadInput,
	outputs []PayloadOutput,
) error {
	if context > MethodContextWallet {
		return ErrInvalidMethodContext
	}
	if len(slots) > 255 || len(inputs) > 255 || len(outputs) > 255 {
		return ErrTooManyMethodArguments
	}

	b.align(8)
	b.payload = append(b.payload, contract[:]...)
	b.payload = append(b.payload, fingerprint[:]...)
	b.payload = append(b.payload, byte(context))
	b.payload = append(b.payload, byte(len(slots)), byte(len(inputs)), byte(len(outputs)))

	for i := range slots {
		b.align(8)
		b.payload = append(b.payload, slots[i][:]...)
	}

	for i := range inputs {
		input := &inputs[i]
		if input.outputIndex >= 0 {
			if input.outputIndex > 0x7f {
				return ErrInvalidOutputIndex
			}
			b.payload = append(b.payload, byte(input.outputIndex))
			continue
		}
		power, ok := alignmentPower(input.alignment)
		if !ok {
			return ErrInvalidAlignment
		}
		if uint64(len(input.value)) > 1<<32-1 {
			return ErrInputTooLarge
		}
		b.payload = append(b.payload, 0x80|power)
		b.align(4)
		b.payload = binary.LittleEndian.AppendUint32(b.payload, uint32(len(input.value)))
		b.align(int(input.alignment))
		b.payload = append(b.payload, input.value...)
	}

	for i := range outputs {
		power, ok := alignmentPower(outputs[i].Alignment)
		if !ok {
			return ErrInvalidAlignment
		}
		b.align(4)
		b.payload = binary.LittleEndian.AppendUint32(b.payload, outputs[i].Capacity)
		b.payload = append(b.payload, power)
	}

	return nil
}

// Bytes returns the payload padded to a multiple of 16 bytes.
func (b *PayloadBuilder) Bytes() []byte {
	b.align(16)
	return b.payload
}

// align pads the payload with zeros to a multiple of alignment.
func (b *PayloadBuilder) align(alignment int) {
	if pad := len(b.payload) % alignment; pad > 0 {
		b.payload = append(b.payload, make([]byte, alignment-pad)...)
	}
}

func alignmentPower(alignment uint8) (byte, bool) {
	switch alignment {
	case 1:
		return 0, true
	case 2:
		return 1, true
	case 4:
		return 2, true
	case 8:
		return 3, true
	case 16:
		return 4, true
	default:
		return 0, false
	}
}
