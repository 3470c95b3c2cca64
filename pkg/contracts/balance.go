package contracts

import "github.com/holiman/uint256"

// Balance is a 128-bit token amount in little-endian byte order.
type Balance [16]byte

// Balance bounds.
var (
	BalanceMin = Balance{}
	BalanceMax = Balance{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
)

// BalanceFromUint64 returns the balance with the given numeric value.
func BalanceFromUint64(n uint64) Balance {
	var b Balance
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	b[2] = byte(n >> 16)
	b[3] = byte(n >> 24)
	b[4] = byte(n >> 32)
	b[5] = byte(n >> 40)
	b[6] = byte(n >> 48)
	b[7] = byte(n >> 56)
	return b
}

// Uint256 returns the balance as a 256-bit integer.
func (b Balance) Uint256() *uint256.Int {
	return leBytes16ToUint256(b[:])
}

// IsZero reports whether the balance is zero.
func (b Balance) IsZero() bool {
	return b == BalanceMin
}

// Cmp compares two balances, returning -1, 0 or 1.
func (b Balance) Cmp(o Balance) int {
	return b.Uint256().Cmp(o.Uint256())
}

// Add returns b + o. The second result is false on 128-bit overflow.
func (b Balance) Add(o Balance) (Balance, bool) {
	sum := new(uint256.Int).Add(b.Uint256(), o.Uint256())
	if sum.BitLen() > 128 {
		return Balance{}, false
	}
	var out Balance
	uint256ToLEBytes16(sum, out[:])
	return out, true
}

// Sub returns b - o. The second result is false when o exceeds b.
func (b Balance) Sub(o Balance) (Balance, bool) {
	x, y := b.Uint256(), o.Uint256()
	if x.Cmp(y) < 0 {
		return Balance{}, false
	}
	var out Balance
	uint256ToLEBytes16(x.Sub(x, y), out[:])
	return out, true
}

// String returns the decimal form.
func (b Balance) String() string {
	return b.Uint256().Dec()
}
