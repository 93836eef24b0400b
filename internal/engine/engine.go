// Package engine provides the KV façade: the composite of one skiplist,
// one WAL, and one allocator that spec.md §9's glossary calls the
// "engine" — open/close a store, put/get/delete, and single-key
// transactions, with a durability policy governing how aggressively the
// WAL fsyncs.
//
// The overall shape (an Engine wrapping a Store-like index and a WAL
// interface, composing Append+apply under one lock) is grounded in
// taitelee-kvstore's internal/kv/engine.go; the retry-once-on-conflict
// and degraded-on-IO-failure behavior are this package's own, driven
// directly by spec.md §4.5 and §7.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/kvcore/internal/arena"
	"github.com/calvinalkan/kvcore/internal/errs"
	"github.com/calvinalkan/kvcore/internal/skiplist"
	"github.com/calvinalkan/kvcore/internal/wal"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

// DurabilityPolicy controls how aggressively the WAL fsyncs.
// PolicyUnspecified is the zero value so Config callers who don't set
// this field get the spec-mandated SyncEveryWrite default rather than
// silently getting NoSync.
type DurabilityPolicy uint8

const (
	PolicyUnspecified DurabilityPolicy = iota
	NoSync
	SyncOnCommit
	SyncEveryWrite
)

func (p DurabilityPolicy) toWAL() wal.SyncPolicy {
	switch p {
	case NoSync:
		return wal.NoSync
	case SyncOnCommit:
		return wal.SyncOnCommit
	default:
		return wal.SyncEveryWrite
	}
}

// Config configures a new [Engine].
type Config struct {
	DataDir          string
	SegmentBytes     int64
	SyncPolicy       DurabilityPolicy
	MaxLevel         int
	AllocatorMode    arena.Mode
	PoolInitialBytes int
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	KeyCount     int64
	WALBytes     int64
	NextSequence uint64
}

// Engine binds one skiplist and one WAL into the key-value contract.
// Mutations serialize through appendMu — spec.md §3's "single-producer
// append lock" — so that WAL append order and index-apply order always
// agree for the engine's own operations (the WAL's internal mutex alone
// only serializes its own writers, not the index mutation that must
// follow each one in the same order).
type Engine struct {
	cfg   Config
	index *skiplist.Skiplist
	log   *wal.WAL
	alloc *arena.Allocator

	appendMu sync.Mutex
	degraded atomic.Bool
}

// Open constructs the allocator, opens the WAL (replaying it into a
// fresh skiplist), and returns a ready-to-use Engine.
func Open(fsys fs.FS, cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, errs.New(errs.InvalidArgument, "engine.open", nil)
	}

	maxLevel := cfg.MaxLevel
	if maxLevel <= 0 {
		maxLevel = skiplist.DefaultMaxLevel
	}

	alloc := arena.New(arena.Config{
		Mode:             cfg.AllocatorMode,
		PoolInitialBytes: cfg.PoolInitialBytes,
	})

	e := &Engine{
		cfg:   cfg,
		index: skiplist.New(skiplist.Config{MaxLevel: maxLevel}),
		alloc: alloc,
	}

	walCfg := wal.Config{SegmentBytes: cfg.SegmentBytes, SyncPolicy: cfg.SyncPolicy.toWAL()}

	log, err := wal.Open(fsys, cfg.DataDir, walCfg, e.replayApply)
	if err != nil {
		return nil, err
	}

	e.log = log

	return e, nil
}

// replayApply reconstructs index state from one replayed WAL record, per
// spec.md §4.4.3: Put replaces any existing key, Delete tolerates a
// missing key, Commit is a marker with no index effect.
func (e *Engine) replayApply(rec wal.Record) error {
	switch rec.Kind {
	case wal.KindPut:
		if err := e.applyPutLocked(rec.Key, rec.Value); err != nil {
			return errs.New(errs.Corrupted, "engine.replay", err)
		}
	case wal.KindDelete:
		if err := removeTolerant(e.index, rec.Key); err != nil {
			return errs.New(errs.Corrupted, "engine.replay", err)
		}
	case wal.KindCommit:
		// Marker only.
	}

	return nil
}

// Close syncs and releases the WAL. Reads and writes after Close are not
// safe to call.
func (e *Engine) Close() error {
	return e.log.Close()
}

// Get looks up key directly in the skiplist; the WAL is never involved
// in a read.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, errs.New(errs.InvalidArgument, "engine.get", nil)
	}

	v, err := e.index.Get(key)
	if errs.Is(err, errs.NotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return v, true, nil
}

// Put appends a Put WAL record, then composes the index mutation as
// remove (ignoring NotFound) followed by insert, retrying the insert
// once if a race produces AlreadyExists.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return errs.New(errs.InvalidArgument, "engine.put", nil)
	}

	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if e.degraded.Load() {
		return errs.New(errs.IoFailed, "engine.put", nil)
	}

	if _, err := e.log.Append(wal.KindPut, key, value); err != nil {
		e.degraded.Store(true)
		return err
	}

	return e.applyPutLocked(key, value)
}

// Delete appends a Delete WAL record, then removes the key from the
// index; NotFound and Busy are both converted to success since
// delete-of-absent is idempotent (spec.md §4.5, §4.3.4).
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return errs.New(errs.InvalidArgument, "engine.delete", nil)
	}

	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if e.degraded.Load() {
		return errs.New(errs.IoFailed, "engine.delete", nil)
	}

	if _, err := e.log.Append(wal.KindDelete, key, nil); err != nil {
		e.degraded.Store(true)
		return err
	}

	return removeTolerant(e.index, key)
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		KeyCount:     e.index.Size(),
		WALBytes:     e.log.Bytes(),
		NextSequence: e.log.NextSequence(),
	}
}

// Degraded reports whether a prior IoFailed WAL error has put the engine
// into a read-only state.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// AllocatorStats reports usage of the engine's one arena allocator
// instance (spec.md §4.2), staged through on every Put.
func (e *Engine) AllocatorStats() arena.Stats {
	return e.alloc.Stats()
}

// Ascend walks every active key in ascending order, calling visit for
// each until it returns false. It is the only passthrough to the index
// that exposes more than one key at a time, and exists solely so
// advisory mirrors (internal/sqlindex) can rebuild themselves from a
// full scan without reaching into the index package directly.
func (e *Engine) Ascend(visit func(key, value []byte) bool) {
	e.index.Ascend(visit)
}

// applyPutLocked composes remove+insert for a Put, retrying the insert
// once on AlreadyExists; callers must hold appendMu. A second
// AlreadyExists after the retry indicates a code bug, not a recoverable
// runtime condition, so it aborts rather than returning an error a
// caller could paper over.
func (e *Engine) applyPutLocked(key, value []byte) error {
	if err := removeTolerant(e.index, key); err != nil {
		return err
	}

	// Stage the record through the engine's one allocator instance
	// (spec.md §3) rather than handing the index the caller's own
	// buffers directly. The skiplist takes its own copy of whatever it's
	// given (see skiplist.Insert), so these staged buffers are only ever
	// read during the Insert call below and are safe to return to the
	// arena immediately after.
	stagedKey, stagedValue, err := e.stageRecord(key, value)
	if err != nil {
		return err
	}
	defer e.alloc.Free(stagedKey)
	defer e.alloc.Free(stagedValue)

	err = e.index.Insert(stagedKey, stagedValue)
	if err == nil {
		return nil
	}

	if !errs.Is(err, errs.AlreadyExists) {
		return err
	}

	if err := removeTolerant(e.index, key); err != nil {
		return err
	}

	if err := e.index.Insert(stagedKey, stagedValue); err != nil {
		panic(fmt.Sprintf("engine: invariant violation: insert of %q failed twice after remove: %v", key, err))
	}

	return nil
}

// stageRecord copies key and value into freshly allocated arena buffers.
// Alloc only fails on a negative size (never produced here) or an
// unknown allocator mode (rejected by config.Validate before an Engine
// is ever opened), so this realistically never returns an error; it is
// still checked because Alloc's contract allows one.
func (e *Engine) stageRecord(key, value []byte) (stagedKey, stagedValue []byte, err error) {
	stagedKey, err = e.alloc.Alloc(len(key))
	if err != nil {
		return nil, nil, errs.New(errs.IoFailed, "engine.stage_record", err)
	}
	copy(stagedKey, key)

	stagedValue, err = e.alloc.Alloc(len(value))
	if err != nil {
		e.alloc.Free(stagedKey)
		return nil, nil, errs.New(errs.IoFailed, "engine.stage_record", err)
	}
	copy(stagedValue, value)

	return stagedKey, stagedValue, nil
}

// removeTolerant removes key from the index, converting NotFound and
// Busy into success — both mean the key is (or is about to be) gone,
// which is exactly the postcondition a tolerant remove wants.
func removeTolerant(idx *skiplist.Skiplist, key []byte) error {
	err := idx.Remove(key)
	if err == nil || errs.Is(err, errs.NotFound) || errs.Is(err, errs.Busy) {
		return nil
	}

	return err
}
