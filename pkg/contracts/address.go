// Package contracts defines the core types shared by contract
// implementations and the executor: addresses, balances, environment
// handles, method descriptors and the contract error model.
package contracts

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
)

// Address is a 128-bit contract address in little-endian byte order.
//
// The address space is partitioned into shards; each shard's address
// allocator hands out addresses from its own partition.
type Address [16]byte

// Well-known system addresses. The zero address doubles as the "null"
// sentinel: it is not a real contract and records stored under the null
// contract namespace are ephemeral.
var (
	// AddressNull is the zero address.
	AddressNull = Address{}

	// AddressSystemCode is the code contract, owner of all deployed code.
	AddressSystemCode = addressFromUint64(1)

	// AddressSystemBlock is reserved for block state.
	AddressSystemBlock = addressFromUint64(2)

	// AddressSystemState is the state contract.
	AddressSystemState = addressFromUint64(3)

	// AddressSystemNativeToken is the native token contract.
	AddressSystemNativeToken = addressFromUint64(4)

	// AddressSystemSimpleWalletBase is the reusable wallet implementation
	// deployed wallets delegate to.
	AddressSystemSimpleWalletBase = addressFromUint64(10)
)

// Address parsing errors.
var (
	ErrInvalidAddressLength = errors.New("invalid address length")
	ErrInvalidAddress       = errors.New("invalid address")
)

func addressFromUint64(n uint64) Address {
	var a Address
	a[0] = byte(n)
	a[1] = byte(n >> 8)
	a[2] = byte(n >> 16)
	a[3] = byte(n >> 24)
	a[4] = byte(n >> 32)
	a[5] = byte(n >> 40)
	a[6] = byte(n >> 48)
	a[7] = byte(n >> 56)
	return a
}

// AddressFromUint64 returns the address with the given numeric value.
func AddressFromUint64(n uint64) Address {
	return addressFromUint64(n)
}

// AddressFromBase58 parses an address from its base58 string form.
func AddressFromBase58(s string) (Address, error) {
	var a Address
	decoded, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != len(a) {
		return a, ErrInvalidAddressLength
	}
	copy(a[:], decoded)
	return a, nil
}

// IsNull reports whether the address is the null sentinel.
func (a Address) IsNull() bool {
	return a == AddressNull
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromBase58(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Uint256 returns the address value as a 256-bit integer.
func (a Address) Uint256() *uint256.Int {
	return leBytes16ToUint256(a[:])
}

// addressFromUint256 truncates v to the low 128 bits. Callers are expected
// to have range-checked v already.
func addressFromUint256(v *uint256.Int) Address {
	var a Address
	uint256ToLEBytes16(v, a[:])
	return a
}

// AddressFromUint256 returns the address with the given numeric value. The
// second result is false when v does not fit 128 bits.
func AddressFromUint256(v *uint256.Int) (Address, bool) {
	if v.BitLen() > 128 {
		return Address{}, false
	}
	return addressFromUint256(v), true
}

// ShardIndex identifies one shard of the address space.
type ShardIndex uint32

// Shard limits. The 128-bit address space is split across 2^20 shards,
// giving each shard's allocator 2^108 addresses.
const (
	MaxShards         = 1 << 20
	MaxShardIndex     = ShardIndex(MaxShards - 1)
	addressesPerShard = 108 // log2 of addresses per shard
)

// Valid reports whether the shard index is within range.
func (s ShardIndex) Valid() bool {
	return s <= MaxShardIndex
}

// SystemAddressAllocator returns the address of the allocator contract
// owning the shard's address partition. Shard 0's partition starts at the
// null address, so shard 0 cannot host an allocator.
func SystemAddressAllocator(shard ShardIndex) Address {
	v := uint256.NewInt(uint64(shard))
	v.Lsh(v, addressesPerShard)
	return addressFromUint256(v)
}

// leBytes16ToUint256 interprets b (16 bytes, little-endian) as an integer.
func leBytes16ToUint256(b []byte) *uint256.Int {
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return new(uint256.Int).SetBytes(be[:])
}

// uint256ToLEBytes16 writes the low 128 bits of v into dst (16 bytes,
// little-endian).
func uint256ToLEBytes16(v *uint256.Int, dst []byte) {
	var be [32]byte
	v.WriteToArray32(&be)
	for i := 0; i < 16; i++ {
		dst[i] = be[31-i]
	}
}
