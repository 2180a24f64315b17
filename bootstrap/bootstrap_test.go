package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != Solo || cfg.Parallel() {
		t.Errorf("transport = %q", cfg.Transport)
	}
	if cfg.Workers != runtime.NumCPU() {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if cfg.Coordinator != "127.0.0.1:7070" || cfg.DialTimeout != 30*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MCI_TRANSPORT", "RPC")
	t.Setenv("MCI_RANK", "2")
	t.Setenv("MCI_SIZE", "4")
	t.Setenv("MCI_COORDINATOR", "10.0.0.1:9000")
	t.Setenv("MCI_DIAL_TIMEOUT", "5s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != RPC || cfg.Rank != 2 || cfg.Size != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Coordinator != "10.0.0.1:9000" || cfg.DialTimeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("MCI_TRANSPORT=local\nMCI_WORKERS=3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("MCI_TRANSPORT")
		os.Unsetenv("MCI_WORKERS")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != Local || cfg.Workers != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"solo", Config{Transport: Solo}, true},
		{"local", Config{Transport: Local, Workers: 2}, true},
		{"local zero", Config{Transport: Local, Workers: 0}, false},
		{"rpc", Config{Transport: RPC, Rank: 1, Size: 2}, true},
		{"rpc rank high", Config{Transport: RPC, Rank: 2, Size: 2}, false},
		{"nats negative rank", Config{Transport: NATS, Rank: -1, Size: 2}, false},
		{"bogus", Config{Transport: "mpi"}, false},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v", tt.name, err)
		}
	}
	if err := (Config{Transport: "mpi"}).Validate(); !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("err = %v", err)
	}
}

func TestOpenLocal(t *testing.T) {
	rt, err := Open(context.Background(), Config{Transport: Local, Workers: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Finalize()
	if len(rt.Members) != 3 {
		t.Fatalf("got %d members", len(rt.Members))
	}
	for i, m := range rt.Members {
		if m.Rank() != i || m.Size() != 3 {
			t.Errorf("member %d has rank %d of %d", i, m.Rank(), m.Size())
		}
	}
}

func TestOpenSolo(t *testing.T) {
	rt, err := Open(context.Background(), Config{Transport: Solo}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rt.Members) != 0 {
		t.Errorf("solo runtime hosts %d members", len(rt.Members))
	}
	if err := rt.Finalize(); err != nil {
		t.Error(err)
	}
}

func TestOpenRPCPair(t *testing.T) {
	coord, err := Open(context.Background(), Config{Transport: RPC, Rank: 0, Size: 2, Coordinator: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer coord.Finalize()

	addr := coord.Members[0].(interface{ Addr() string }).Addr()
	worker, err := Open(context.Background(), Config{Transport: RPC, Rank: 1, Size: 2, Coordinator: addr, DialTimeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer worker.Finalize()
	if len(worker.Members) != 1 || worker.Members[0].Rank() != 1 {
		t.Error("worker process should host only rank 1")
	}
}
