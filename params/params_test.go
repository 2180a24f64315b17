package params

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"mc-integrate/integrand"
)

func TestParseDefaults(t *testing.T) {
	var stderr bytes.Buffer
	p, err := Parse(nil, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if p.Selector != integrand.X2 || p.Samples != 10_000_000 {
		t.Errorf("defaults = %+v", p)
	}
	if stderr.Len() != 0 {
		t.Errorf("unexpected stderr %q", stderr.String())
	}
}

func TestParseOrderIndependent(t *testing.T) {
	a, err := Parse([]string{"-P", "2", "-N", "500"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]string{"-N", "500", "-P", "2"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if a != b || a.Selector != integrand.Gauss || a.Samples != 500 {
		t.Errorf("got %+v and %+v", a, b)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		flag string
		err  error
	}{
		{"selector 3", []string{"-P", "3"}, "-P", ErrInvalidSelector},
		{"selector word", []string{"-P", "one"}, "-P", ErrInvalidSelector},
		{"samples word", []string{"-N", "abc"}, "-N", ErrInvalidSamples},
		{"samples float", []string{"-N", "1.5"}, "-N", ErrInvalidSamples},
		{"samples overflow", []string{"-N", "99999999999999999999"}, "-N", ErrInvalidSamples},
		{"samples zero", []string{"-N", "0"}, "-N", ErrSamplesRange},
		{"samples negative", []string{"-N", "-5"}, "-N", ErrSamplesRange},
		{"samples trailing junk", []string{"-N", "100abc"}, "-N", ErrInvalidSamples},
		{"samples leading space", []string{"-N", " 7"}, "-N", ErrInvalidSamples},
		{"trailing selector", []string{"-N", "10", "-P"}, "-P", ErrMissingValue},
		{"trailing samples", []string{"-N"}, "-N", ErrMissingValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args, &bytes.Buffer{})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			var fe *FlagError
			if !errors.As(err, &fe) || fe.Flag != tt.flag {
				t.Fatalf("err = %v, want flag %s", err, tt.flag)
			}
			if !strings.Contains(err.Error(), tt.flag) {
				t.Errorf("message %q does not name %s", err.Error(), tt.flag)
			}
		})
	}
}

func TestSelectorMessage(t *testing.T) {
	_, err := Parse([]string{"-P", "3"}, &bytes.Buffer{})
	want := "Invalid input for -P: Value must be 1 or 2. Aborting!"
	if err == nil || err.Error() != want {
		t.Errorf("got %v, want %q", err, want)
	}
}

func TestNonPositiveSamplesMessage(t *testing.T) {
	_, err := Parse([]string{"-N", "0"}, &bytes.Buffer{})
	want := "Invalid input for -N: Value must be positive. Aborting!"
	if err == nil || err.Error() != want {
		t.Errorf("got %v, want %q", err, want)
	}
	if errors.Is(err, ErrInvalidSamples) {
		t.Error("zero samples reported as a cast failure")
	}
}

func TestSamplesExplicitPlusSign(t *testing.T) {
	p, err := Parse([]string{"-N", "+5"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Samples != 5 {
		t.Errorf("samples = %d, want 5", p.Samples)
	}
}

func TestStrayTokenIsNotFatal(t *testing.T) {
	var stderr bytes.Buffer
	p, err := Parse([]string{"foo", "-N", "42", "bar"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if p.Samples != 42 || p.Selector != integrand.X2 {
		t.Errorf("got %+v", p)
	}
	out := stderr.String()
	if !strings.Contains(out, "Unexpected input foo, ignoring...") || !strings.Contains(out, "bar") {
		t.Errorf("stderr = %q", out)
	}
}

func TestDashAnywhereMakesFlag(t *testing.T) {
	var stderr bytes.Buffer
	raw, err := Scan([]string{"a-b", "c", "-N", "9"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if raw["a-b"] != "c" || raw[FlagSamples] != "9" {
		t.Errorf("raw = %v", raw)
	}
	if !strings.Contains(stderr.String(), "Unknown flag a-b") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestValueIsConsumedUnconditionally(t *testing.T) {
	raw, err := Scan([]string{"-P", "-N", "5"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if raw[FlagSelector] != "-N" {
		t.Errorf("-P = %q, want %q", raw[FlagSelector], "-N")
	}
	if _, err := Validate(raw); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("Validate err = %v", err)
	}
}

func TestLaterFlagWins(t *testing.T) {
	p, err := Parse([]string{"-N", "5", "-N", "6"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Samples != 6 {
		t.Errorf("Samples = %d, want 6", p.Samples)
	}
}
