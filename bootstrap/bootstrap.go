// Package bootstrap reads the runtime configuration and opens the
// communicators this process hosts.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"

	"mc-integrate/comm"
)

// EnvPrefix prefixes every configuration variable, e.g. MCI_TRANSPORT.
const EnvPrefix = "MCI"

// Transport selects how workers meet.
type Transport string

const (
	Solo  Transport = "solo"
	Local Transport = "local"
	RPC   Transport = "rpc"
	NATS  Transport = "nats"
)

var ErrUnknownTransport = errors.New("bootstrap: unknown transport")

// Config is the process bootstrap configuration.
type Config struct {
	Transport   Transport
	Workers     int
	Rank        int
	Size        int
	Coordinator string
	NATSURL     string
	Session     string
	DialTimeout time.Duration
	Export      string
	Verbose     bool
}

// Parallel reports whether the run goes through a collective.
func (c Config) Parallel() bool {
	return c.Transport != Solo
}

func defaults(v *viper.Viper) {
	v.SetDefault("transport", string(Solo))
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("rank", 0)
	v.SetDefault("size", 1)
	v.SetDefault("coordinator", "127.0.0.1:7070")
	v.SetDefault("nats_url", nats.DefaultURL)
	v.SetDefault("session", "default")
	v.SetDefault("dial_timeout", 30*time.Second)
	v.SetDefault("export", "")
	v.SetDefault("verbose", false)
}

// Load reads .env files (missing ones are fine) and then the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Transport:   Transport(strings.ToLower(v.GetString("transport"))),
		Workers:     v.GetInt("workers"),
		Rank:        v.GetInt("rank"),
		Size:        v.GetInt("size"),
		Coordinator: v.GetString("coordinator"),
		NATSURL:     v.GetString("nats_url"),
		Session:     v.GetString("session"),
		DialTimeout: v.GetDuration("dial_timeout"),
		Export:      v.GetString("export"),
		Verbose:     v.GetBool("verbose"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Transport {
	case Solo:
	case Local:
		if c.Workers <= 0 {
			return fmt.Errorf("bootstrap: %s_WORKERS must be positive, got %d", EnvPrefix, c.Workers)
		}
	case RPC, NATS:
		if c.Size <= 0 {
			return fmt.Errorf("bootstrap: %s_SIZE must be positive, got %d", EnvPrefix, c.Size)
		}
		if c.Rank < 0 || c.Rank >= c.Size {
			return fmt.Errorf("bootstrap: %s_RANK %d not in [0,%d)", EnvPrefix, c.Rank, c.Size)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownTransport, c.Transport)
	}
	return nil
}

// Logger returns a stderr logger when verbose, otherwise one that discards.
func (c Config) Logger() *log.Logger {
	if !c.Verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "mci ", log.LstdFlags|log.Lmicroseconds)
}

// Runtime is the set of communicators hosted by this process.
type Runtime struct {
	Members []comm.Communicator
}

// Finalize closes every member.
func (r *Runtime) Finalize() error {
	var errs []error
	for _, m := range r.Members {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open initializes the transport. Solo hosts no communicators. DialTimeout
// bounds the initial connect and, over NATS, the wait for a coordinator.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Runtime, error) {
	switch cfg.Transport {
	case Solo:
		return &Runtime{}, nil

	case Local:
		group, err := comm.NewGroup(cfg.Workers)
		if err != nil {
			return nil, err
		}
		rt := &Runtime{Members: make([]comm.Communicator, len(group))}
		for i, m := range group {
			rt.Members[i] = m
		}
		return rt, nil

	case RPC:
		if cfg.Rank == comm.Coordinator {
			c, err := comm.ListenRPC(cfg.Coordinator, cfg.Size, logger)
			if err != nil {
				return nil, err
			}
			return &Runtime{Members: []comm.Communicator{c}}, nil
		}
		dialCtx, cancel := withTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		c, err := comm.DialRPC(dialCtx, cfg.Coordinator, cfg.Rank, cfg.Size, logger)
		if err != nil {
			return nil, err
		}
		return &Runtime{Members: []comm.Communicator{c}}, nil

	case NATS:
		c, err := comm.ConnectNATS(cfg.NATSURL, cfg.Session, cfg.Rank, cfg.Size, cfg.DialTimeout, logger)
		if err != nil {
			return nil, err
		}
		return &Runtime{Members: []comm.Communicator{c}}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTransport, cfg.Transport)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
