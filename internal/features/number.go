package features

import (
	"math"
	"strconv"
	"strings"
)

// Sentinel is the textual marker for an undefined value in tabular files.
const Sentinel = "N/A"

// Number is an optional numeric value. The zero value is undefined, which is
// distinct from a defined zero.
type Number struct {
	value    float64
	defined  bool
	integral bool
}

// Undefined returns the undefined value.
func Undefined() Number { return Number{} }

// Float returns a defined floating point value. Non-finite inputs are undefined.
func Float(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{}
	}
	return Number{value: v, defined: true}
}

// Int returns a defined integral value.
func Int(v int64) Number {
	return Number{value: float64(v), defined: true, integral: true}
}

// Defined reports whether n holds a value.
func (n Number) Defined() bool { return n.defined }

// Value returns the value and whether it is defined.
func (n Number) Value() (float64, bool) { return n.value, n.defined }

// Float64 returns the value, or NaN when undefined.
func (n Number) Float64() float64 {
	if !n.defined {
		return math.NaN()
	}
	return n.value
}

// String renders n for a tabular file. Integral values have no fractional
// part; floats always carry one ("32.0").
func (n Number) String() string {
	if !n.defined {
		return Sentinel
	}
	if n.integral {
		return strconv.FormatInt(int64(n.value), 10)
	}
	return formatFloat(n.value)
}

func formatFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// ParseNumber reads a tabular cell. The sentinel and the empty cell are undefined.
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == Sentinel {
		return Undefined(), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Undefined(), err
	}
	return Float(f), nil
}

// Div returns a/b, undefined when either side is undefined or b is zero.
func Div(a, b Number) Number {
	if !a.defined || !b.defined || b.value == 0 {
		return Undefined()
	}
	return Float(a.value / b.value)
}

// Sub returns a-b, undefined when either side is undefined.
func Sub(a, b Number) Number {
	if !a.defined || !b.defined {
		return Undefined()
	}
	if a.integral && b.integral {
		return Int(int64(a.value) - int64(b.value))
	}
	return Float(a.value - b.value)
}

// Mul returns a*b, undefined when either side is undefined.
func Mul(a, b Number) Number {
	if !a.defined || !b.defined {
		return Undefined()
	}
	if a.integral && b.integral {
		return Int(int64(a.value) * int64(b.value))
	}
	return Float(a.value * b.value)
}
