// Package indicators computes rolling channels, volume averages, ATR and
// MACD over daily bar series.
//
// Readings that lack enough lookback are absent rather than zero or NaN.
// Every comparison against an absent reading is false.
package indicators

import "math"

// Value is an indicator reading that may be undefined.
type Value struct {
	V  float64
	OK bool
}

// None is the undefined reading.
var None = Value{}

// Some wraps a defined reading. NaN and Inf are treated as undefined.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return None
	}
	return Value{V: v, OK: true}
}

func (a Value) Gt(b Value) bool { return a.OK && b.OK && a.V > b.V }
func (a Value) Ge(b Value) bool { return a.OK && b.OK && a.V >= b.V }
func (a Value) Lt(b Value) bool { return a.OK && b.OK && a.V < b.V }
func (a Value) Le(b Value) bool { return a.OK && b.OK && a.V <= b.V }

// Scale multiplies a defined reading by k.
func (a Value) Scale(k float64) Value {
	if !a.OK {
		return None
	}
	return Some(a.V * k)
}

// Sub returns a-b, undefined if either side is.
func (a Value) Sub(b Value) Value {
	if !a.OK || !b.OK {
		return None
	}
	return Some(a.V - b.V)
}

// Div returns a/b, undefined if either side is or b is zero.
func (a Value) Div(b Value) Value {
	if !a.OK || !b.OK || b.V == 0 {
		return None
	}
	return Some(a.V / b.V)
}
