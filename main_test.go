package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runWith(t *testing.T, env map[string]string, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("MCI_TRANSPORT", "solo")
	for k, v := range env {
		t.Setenv(k, v)
	}
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestInvalidSelectorAborts(t *testing.T) {
	code, stdout, _ := runWith(t, nil, "-P", "3")
	if code != -1 {
		t.Errorf("exit code %d, want -1", code)
	}
	if !strings.Contains(stdout, "-P") {
		t.Errorf("stdout %q does not name -P", stdout)
	}
	if strings.Contains(stdout, "Estimate") {
		t.Errorf("computed despite invalid input: %q", stdout)
	}
}

func TestInvalidSamplesAborts(t *testing.T) {
	code, stdout, _ := runWith(t, nil, "-N", "abc")
	if code != -1 {
		t.Errorf("exit code %d, want -1", code)
	}
	if !strings.Contains(stdout, "-N") {
		t.Errorf("stdout %q does not name -N", stdout)
	}
}

func TestTrailingFlagAborts(t *testing.T) {
	code, stdout, _ := runWith(t, nil, "-N", "10", "-P")
	if code != -1 || !strings.Contains(stdout, "-P") {
		t.Errorf("exit %d, stdout %q", code, stdout)
	}
}

func TestStrayTokenRunsWithDefaults(t *testing.T) {
	if testing.Short() {
		t.Skip("default sample count")
	}
	code, stdout, stderr := runWith(t, nil, "foo")
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, stderr)
	}
	if !strings.HasPrefix(stdout, "Estimate = 0.33") {
		t.Errorf("stdout %q", stdout)
	}
	if !strings.Contains(stderr, "Unexpected input foo") {
		t.Errorf("stderr %q", stderr)
	}
}

func TestSoloPrintsOneLine(t *testing.T) {
	code, stdout, _ := runWith(t, nil, "-P", "2", "-N", "1000")
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if lines := strings.Split(strings.TrimSpace(stdout), "\n"); len(lines) != 1 {
		t.Errorf("solo output %q", stdout)
	}
}

func TestLocalGroupSaysBye(t *testing.T) {
	export := filepath.Join(t.TempDir(), "out", "metrics.json")
	code, stdout, stderr := runWith(t, map[string]string{
		"MCI_TRANSPORT": "local",
		"MCI_WORKERS":   "4",
		"MCI_EXPORT":    export,
	}, "-N", "40000")
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, stderr)
	}
	if !strings.HasPrefix(stdout, "Estimate = ") || !strings.HasSuffix(stdout, "Bye!\n") {
		t.Errorf("stdout %q", stdout)
	}

	data, err := os.ReadFile(export)
	if err != nil {
		t.Fatal(err)
	}
	var m struct {
		TotalSamples int64 `json:"total_samples"`
		Workers      []any `json:"workers"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.TotalSamples != 40000 || len(m.Workers) != 4 {
		t.Errorf("exported %+v", m)
	}
}

func TestLocalGroupInvalidAbortsEveryRank(t *testing.T) {
	code, stdout, _ := runWith(t, map[string]string{"MCI_TRANSPORT": "local", "MCI_WORKERS": "3"}, "-P", "9")
	if code != -1 {
		t.Errorf("exit code %d, want -1", code)
	}
	if strings.Count(stdout, "Invalid input for -P") != 1 {
		t.Errorf("stdout %q", stdout)
	}
}

func TestUnknownTransport(t *testing.T) {
	code, _, stderr := runWith(t, map[string]string{"MCI_TRANSPORT": "mpi"})
	if code != 1 || !strings.Contains(stderr, "unknown transport") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}
