package integrand

import (
	"errors"
	"fmt"
	"math"
)

// Selector picks one of the two built-in integrands. The set is closed.
type Selector int

const (
	// X2 is f1(x) = x^2, selected with "1".
	X2 Selector = 1
	// Gauss is f2(x) = exp(-x^2), selected with "2".
	Gauss Selector = 2
)

// ErrUnknownSelector is returned for anything other than "1" or "2".
var ErrUnknownSelector = errors.New("integrand: selector must be 1 or 2")

// Func is an integrand evaluated on [0,1).
type Func func(x float64) float64

func f1(x float64) float64 {
	return x * x
}

func f2(x float64) float64 {
	return math.Exp(-x * x)
}

// Parse accepts exactly the strings "1" and "2".
func Parse(s string) (Selector, error) {
	switch s {
	case "1":
		return X2, nil
	case "2":
		return Gauss, nil
	}
	return 0, fmt.Errorf("%w: got %q", ErrUnknownSelector, s)
}

// Func returns the integrand for s. It panics on an invalid selector, which
// can only be built by converting an unchecked int.
func (s Selector) Func() Func {
	switch s {
	case X2:
		return f1
	case Gauss:
		return f2
	}
	panic(fmt.Sprintf("integrand: invalid selector %d", int(s)))
}

// Exact returns the analytic value of the integral over [0,1].
func (s Selector) Exact() float64 {
	switch s {
	case X2:
		return 1.0 / 3.0
	case Gauss:
		return math.Sqrt(math.Pi) / 2 * math.Erf(1)
	}
	return math.NaN()
}

func (s Selector) String() string {
	switch s {
	case X2:
		return "x^2"
	case Gauss:
		return "exp(-x^2)"
	}
	return fmt.Sprintf("Selector(%d)", int(s))
}
