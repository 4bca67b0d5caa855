package fusion

import (
	"math/big"

	"github.com/holiman/uint256"
)

// maxU128 is the largest balance representable on Ledger-A.
var maxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

// MaxAmount returns a copy of the largest supported balance.
func MaxAmount() *uint256.Int { return new(uint256.Int).Set(maxU128) }

func zero() *uint256.Int { return new(uint256.Int) }

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return zero()
	}
	return new(uint256.Int).Set(v)
}

func isZero(v *uint256.Int) bool { return v == nil || v.IsZero() }

func fitsU128(v *uint256.Int) bool { return v == nil || v.Cmp(maxU128) <= 0 }

func addChecked(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(cloneAmount(a), cloneAmount(b))
	if overflow || !fitsU128(out) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func subChecked(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(cloneAmount(a), cloneAmount(b))
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDivChecked computes a*b/d with truncation. The product must fit the
// 128-bit domain like every other intermediate.
func mulDivChecked(a, b, d *uint256.Int) (*uint256.Int, error) {
	if isZero(d) {
		return nil, ErrArithmeticOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(cloneAmount(a), cloneAmount(b))
	if overflow || !fitsU128(product) {
		return nil, ErrArithmeticOverflow
	}
	return new(uint256.Int).Div(product, d), nil
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if cloneAmount(a).Cmp(cloneAmount(b)) <= 0 {
		return cloneAmount(a)
	}
	return cloneAmount(b)
}

func addU64Checked(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// amountFloat converts for telemetry only; precision loss is acceptable.
func amountFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(cloneAmount(v).ToBig()).Float64()
	return f
}

func toBig(v *uint256.Int) *big.Int { return cloneAmount(v).ToBig() }

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return zero(), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 || !fitsU128(out) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// ParseAmount decodes a base-10 balance and rejects values above 2^128-1.
func ParseAmount(raw string) (*uint256.Int, error) {
	out, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, err
	}
	if !fitsU128(out) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}
