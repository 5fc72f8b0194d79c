// Package money implements a non-negative fixed-point integer model for
// balances, prices, and budgets: every amount is an Atomic value —
// an integer count of a token's smallest unit (e.g. USDC's 6-decimal
// atomic unit) — and every arithmetic op is exact and saturating.
package money

import "fmt"

// Atomic is a non-negative integer amount expressed in a token's atomic
// base unit. The zero value is zero funds.
type Atomic uint64

// ErrOverflow is returned by Add when the sum would exceed the type's range.
var ErrOverflow = fmt.Errorf("money: addition overflows")

// ErrUnderflow is returned by Sub when the minuend is smaller than the subtrahend.
var ErrUnderflow = fmt.Errorf("money: subtraction underflows")

// Add returns a+b, or ErrOverflow if the sum would wrap around.
func Add(a, b Atomic) (Atomic, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, or ErrUnderflow if b > a.
func Sub(a, b Atomic) (Atomic, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// GTE reports whether a >= b.
func (a Atomic) GTE(b Atomic) bool { return a >= b }

// String renders the atomic amount as a plain integer; display formatting
// (decimal points, symbols) happens only at output boundaries, never here.
func (a Atomic) String() string {
	return fmt.Sprintf("%d", uint64(a))
}
