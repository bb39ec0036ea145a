package fpmath

import (
	"fmt"
	"math"
	"math/big"
	"sync"

	"StableGuard/internal/protocol"
)

// All monetary amounts are unsigned 64-bit fixed-point integers. Intermediate
// products can exceed 64 bits, so multiply-divide goes through big.Int.
// Rounding is always floor, on both share mint and burn; this consistently
// favors the pool over any individual underwriter and prevents value
// extraction via repeated tiny deposit/withdraw cycles.

var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigIntPool.Put(v)
}

// MulDivFloor computes floor(a * b / den) with a 128-bit intermediate.
func MulDivFloor(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, fmt.Errorf("%w: division by zero", protocol.ErrCalculation)
	}

	num := getBig()
	bb := getBig()
	defer putBig(num)
	defer putBig(bb)

	num.SetUint64(a)
	bb.SetUint64(b)
	num.Mul(num, bb)
	bb.SetUint64(den)
	num.Quo(num, bb)

	if !num.IsUint64() {
		return 0, fmt.Errorf("%w: quotient overflows uint64", protocol.ErrCalculation)
	}
	return num.Uint64(), nil
}

// CheckedAdd returns a + b or an arithmetic error on overflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%w: addition overflow", protocol.ErrCalculation)
	}
	return a + b, nil
}

// CheckedSub returns a - b or an arithmetic error on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: subtraction underflow", protocol.ErrCalculation)
	}
	return a - b, nil
}

// Pow10 returns 10^exp for exp in [0, 18]. Larger exponents overflow int64
// and are rejected as arithmetic errors.
func Pow10(exp int32) (int64, error) {
	if exp < 0 || exp > 18 {
		return 0, fmt.Errorf("%w: 10^%d out of range", protocol.ErrCalculation, exp)
	}
	result := int64(1)
	for i := int32(0); i < exp; i++ {
		result *= 10
	}
	return result, nil
}

// CheckedMulInt64 returns a * b or an arithmetic error on overflow.
func CheckedMulInt64(a, b int64) (int64, error) {
	r := getBig()
	bb := getBig()
	defer putBig(r)
	defer putBig(bb)

	r.SetInt64(a)
	bb.SetInt64(b)
	r.Mul(r, bb)

	if !r.IsInt64() {
		return 0, fmt.Errorf("%w: multiplication overflow", protocol.ErrCalculation)
	}
	return r.Int64(), nil
}
