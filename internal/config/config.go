// Package config loads the engine's configuration (spec.md §6.3) from a
// JSON-with-comments file via github.com/tailscale/hujson, then overlays
// command-line flags via github.com/spf13/pflag — the same two-library
// combination the teacher uses in its own config.go (hujson.Standardize
// then json.Unmarshal) and its cmd/ packages (pflag.FlagSet).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/kvcore/internal/arena"
	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/errs"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

// SyncPolicy mirrors spec.md §6.3's enumerated sync_policy option as a
// JSON-friendly string, translated to engine.DurabilityPolicy by ToEngine.
type SyncPolicy string

const (
	NoSync         SyncPolicy = "NoSync"
	SyncOnCommit   SyncPolicy = "SyncOnCommit"
	SyncEveryWrite SyncPolicy = "SyncEveryWrite"
)

// AllocatorMode mirrors spec.md §6.3's allocator_mode option.
type AllocatorMode string

const (
	System AllocatorMode = "System"
	Pool   AllocatorMode = "Pool"
	Gc     AllocatorMode = "Gc"
)

// Config is the full set of options from spec.md §6.3.
type Config struct {
	DataDir          string        `json:"data_dir"`
	SegmentBytes     int64         `json:"segment_bytes"`
	SyncPolicy       SyncPolicy    `json:"sync_policy"`
	MaxLevel         int           `json:"max_level"`
	AllocatorMode    AllocatorMode `json:"allocator_mode"`
	PoolInitialBytes int           `json:"pool_initial_bytes"`
	RuntimeThreads   int           `json:"runtime_threads"`
}

// Default returns the spec-mandated defaults: 64 MiB segments,
// SyncEveryWrite, MaxLevel 12, System allocator, one runtime thread.
func Default() Config {
	return Config{
		SegmentBytes:   64 << 20,
		SyncPolicy:     SyncEveryWrite,
		MaxLevel:       12,
		AllocatorMode:  System,
		RuntimeThreads: 1,
	}
}

// Load reads a JSONC config file at path, standardizing it to plain JSON
// before unmarshalling over top of Default(). A missing path is not an
// error; Load just returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, errs.New(errs.IoFailed, "config.load", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, errs.New(errs.InvalidArgument, "config.load", fmt.Errorf("invalid JSONC: %w", err))
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, errs.New(errs.InvalidArgument, "config.load", fmt.Errorf("invalid config JSON: %w", err))
	}

	return cfg, nil
}

// BindFlags registers one pflag flag per Config field, defaulting to
// cfg's current values, so callers can do:
//
//	cfg, _ := config.Load(path)
//	config.BindFlags(fs, &cfg)
//	fs.Parse(os.Args[1:])
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "filesystem path holding WAL segments and state")
	fs.Int64Var(&cfg.SegmentBytes, "segment-bytes", cfg.SegmentBytes, "WAL segment rotation threshold in bytes")
	fs.StringVar((*string)(&cfg.SyncPolicy), "sync-policy", string(cfg.SyncPolicy), "NoSync | SyncOnCommit | SyncEveryWrite")
	fs.IntVar(&cfg.MaxLevel, "max-level", cfg.MaxLevel, "skiplist maximum level")
	fs.StringVar((*string)(&cfg.AllocatorMode), "allocator-mode", string(cfg.AllocatorMode), "System | Pool | Gc")
	fs.IntVar(&cfg.PoolInitialBytes, "pool-initial-bytes", cfg.PoolInitialBytes, "initial reservation for Pool allocator mode")
	fs.IntVar(&cfg.RuntimeThreads, "runtime-threads", cfg.RuntimeThreads, "number of async runtime instances")
}

// Validate rejects configurations that ToEngine cannot translate safely.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errs.New(errs.InvalidArgument, "config.validate", fmt.Errorf("data_dir is required"))
	}

	switch c.SyncPolicy {
	case NoSync, SyncOnCommit, SyncEveryWrite:
	default:
		return errs.New(errs.InvalidArgument, "config.validate", fmt.Errorf("unknown sync_policy %q", c.SyncPolicy))
	}

	switch c.AllocatorMode {
	case System, Pool, Gc:
	default:
		return errs.New(errs.InvalidArgument, "config.validate", fmt.Errorf("unknown allocator_mode %q", c.AllocatorMode))
	}

	if c.RuntimeThreads <= 0 {
		return errs.New(errs.InvalidArgument, "config.validate", fmt.Errorf("runtime_threads must be positive"))
	}

	return nil
}

// effectiveConfigFile is the name of the durable snapshot WriteEffective
// leaves in DataDir, for an operator to inspect exactly what a running
// kvengine was launched with after flag/file merge.
const effectiveConfigFile = "effective-config.json"

// WriteEffective durably persists c into DataDir, the same rename-based
// way the teacher writes its small sidecar files (ticket index, lock
// state) with natefinch/atomic — here applied to a config snapshot
// instead of ticket metadata. Call after Validate.
func (c Config) WriteEffective(fsys fs.FS) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errs.New(errs.IoFailed, "config.write_effective", err)
	}

	writer := fs.NewAtomicWriter(fsys)

	path := filepath.Join(c.DataDir, effectiveConfigFile)
	if err := writer.WriteWithDefaults(path, bytes.NewReader(data)); err != nil {
		return errs.New(errs.IoFailed, "config.write_effective", err)
	}

	return nil
}

// ToEngine translates Config into the engine.Config the storage layer
// actually consumes. Callers must Validate first.
func (c Config) ToEngine() engine.Config {
	var syncPolicy engine.DurabilityPolicy

	switch c.SyncPolicy {
	case NoSync:
		syncPolicy = engine.NoSync
	case SyncOnCommit:
		syncPolicy = engine.SyncOnCommit
	default:
		syncPolicy = engine.SyncEveryWrite
	}

	var allocMode arena.Mode

	switch c.AllocatorMode {
	case Pool:
		allocMode = arena.Pool
	case Gc:
		allocMode = arena.GC
	default:
		allocMode = arena.System
	}

	return engine.Config{
		DataDir:          c.DataDir,
		SegmentBytes:     c.SegmentBytes,
		SyncPolicy:       syncPolicy,
		MaxLevel:         c.MaxLevel,
		AllocatorMode:    allocMode,
		PoolInitialBytes: c.PoolInitialBytes,
	}
}
