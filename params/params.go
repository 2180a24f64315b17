// Package params scans and validates the estimator's command line.
//
// Arguments are read as adjacent pairs: any token containing "-" is a flag
// and the following token is its value. Tokens that are not part of a pair
// are reported and skipped.
package params

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mc-integrate/integrand"
)

const (
	FlagSelector = "-P"
	FlagSamples  = "-N"

	DefaultSelector = "1"
	DefaultSamples  = "10000000"
)

var (
	ErrInvalidSelector = errors.New("value must be 1 or 2")
	ErrInvalidSamples  = errors.New("value must cast to a long")
	ErrSamplesRange    = errors.New("value must be positive")
	ErrMissingValue    = errors.New("flag given without a value")
)

// FlagError names the flag that failed validation.
type FlagError struct {
	Flag string
	Err  error
}

func (e *FlagError) Error() string {
	return fmt.Sprintf("Invalid input for %s: %s. Aborting!", e.Flag, capitalize(e.Err.Error()))
}

func (e *FlagError) Unwrap() error { return e.Err }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Params are the validated run parameters, identical on every worker.
type Params struct {
	Selector integrand.Selector `json:"selector"`
	Samples  int64              `json:"samples"`
}

// Raw holds flag values as given, keyed by flag token.
type Raw map[string]string

// Defaults returns a Raw with -P and -N set to their defaults.
func Defaults() Raw {
	return Raw{FlagSelector: DefaultSelector, FlagSamples: DefaultSamples}
}

// Scan pairs up args (without the program name). Stray tokens are reported
// on stderr. A flag in last position has no value and yields ErrMissingValue.
func Scan(args []string, stderr io.Writer) (Raw, error) {
	raw := Defaults()
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.Contains(arg, "-") {
			fmt.Fprintf(stderr, "Unexpected input %s, ignoring...\n", arg)
			continue
		}
		if i+1 >= len(args) {
			return raw, &FlagError{Flag: arg, Err: ErrMissingValue}
		}
		if arg != FlagSelector && arg != FlagSamples {
			fmt.Fprintf(stderr, "Unknown flag %s, ignoring...\n", arg)
		}
		raw[arg] = args[i+1]
		i++
	}
	return raw, nil
}

// Validate checks -P and -N and converts them.
func Validate(raw Raw) (Params, error) {
	sel, err := integrand.Parse(raw[FlagSelector])
	if err != nil {
		return Params{}, &FlagError{Flag: FlagSelector, Err: ErrInvalidSelector}
	}

	n, err := strconv.ParseInt(raw[FlagSamples], 10, 64)
	if err != nil {
		return Params{}, &FlagError{Flag: FlagSamples, Err: ErrInvalidSamples}
	}
	if n <= 0 {
		return Params{}, &FlagError{Flag: FlagSamples, Err: ErrSamplesRange}
	}

	return Params{Selector: sel, Samples: n}, nil
}

// Parse is Scan followed by Validate.
func Parse(args []string, stderr io.Writer) (Params, error) {
	raw, err := Scan(args, stderr)
	if err != nil {
		return Params{}, err
	}
	return Validate(raw)
}
