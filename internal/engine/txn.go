package engine

import (
	"github.com/calvinalkan/kvcore/internal/errs"
	"github.com/calvinalkan/kvcore/internal/wal"
)

// txOp is one buffered transaction mutation, keyed externally by the map
// it lives in.
type txOp struct {
	kind  wal.Kind
	value []byte
}

// Txn is a single-key transaction: a buffer of put/delete operations
// applied to the WAL and index at Commit, or discarded
// entirely at Rollback.
//
// Multi-key atomicity is NOT promised — per spec.md §4.5, a crash
// between two of a transaction's WAL appends may persist one and not the
// other. Txn only guarantees that a buffered Get observes the
// transaction's own not-yet-committed writes, and that Rollback never
// touches the WAL at all.
type Txn struct {
	engine   *Engine
	order    []string
	buffered map[string]txOp
	done     bool
}

// Begin starts a new transaction against the engine.
func (e *Engine) Begin() *Txn {
	return &Txn{engine: e, buffered: make(map[string]txOp)}
}

// Put buffers a key/value write, visible to this transaction's own Get
// calls immediately but not durable until Commit.
func (t *Txn) Put(key, value []byte) error {
	if t.done {
		return errs.New(errs.InvalidArgument, "txn.put", nil)
	}

	if len(key) == 0 {
		return errs.New(errs.InvalidArgument, "txn.put", nil)
	}

	t.stage(string(key), txOp{kind: wal.KindPut, value: append([]byte(nil), value...)})

	return nil
}

// Delete buffers a key removal, visible to this transaction's own Get
// calls immediately but not durable until Commit.
func (t *Txn) Delete(key []byte) error {
	if t.done {
		return errs.New(errs.InvalidArgument, "txn.delete", nil)
	}

	if len(key) == 0 {
		return errs.New(errs.InvalidArgument, "txn.delete", nil)
	}

	t.stage(string(key), txOp{kind: wal.KindDelete})

	return nil
}

func (t *Txn) stage(key string, op txOp) {
	if _, exists := t.buffered[key]; !exists {
		t.order = append(t.order, key)
	}

	t.buffered[key] = op
}

// Get reads the transaction's own buffered write for key if one exists
// (read-your-own-writes), otherwise falls through to the engine's
// committed state.
func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, errs.New(errs.InvalidArgument, "txn.get", nil)
	}

	if len(key) == 0 {
		return nil, false, errs.New(errs.InvalidArgument, "txn.get", nil)
	}

	if op, ok := t.buffered[string(key)]; ok {
		if op.kind == wal.KindDelete {
			return nil, false, nil
		}

		return append([]byte(nil), op.value...), true, nil
	}

	return t.engine.Get(key)
}

// Commit applies every buffered operation in the order it was first
// staged — each appending its own WAL record and its own index
// mutation, exactly like a standalone Put/Delete — then appends a final
// Commit marker record. The whole sequence runs under the engine's
// single append lock.
func (t *Txn) Commit() error {
	if t.done {
		return errs.New(errs.InvalidArgument, "txn.commit", nil)
	}

	t.done = true

	e := t.engine

	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if e.degraded.Load() {
		return errs.New(errs.IoFailed, "txn.commit", nil)
	}

	for _, k := range t.order {
		op := t.buffered[k]
		key := []byte(k)

		switch op.kind {
		case wal.KindPut:
			if _, err := e.log.Append(wal.KindPut, key, op.value); err != nil {
				e.degraded.Store(true)
				return err
			}

			if err := e.applyPutLocked(key, op.value); err != nil {
				return err
			}
		case wal.KindDelete:
			if _, err := e.log.Append(wal.KindDelete, key, nil); err != nil {
				e.degraded.Store(true)
				return err
			}

			if err := removeTolerant(e.index, key); err != nil {
				return err
			}
		}
	}

	if _, err := e.log.Append(wal.KindCommit, nil, nil); err != nil {
		e.degraded.Store(true)
		return err
	}

	return nil
}

// Rollback discards every buffered operation without writing anything to
// the WAL. A transaction that is never committed or rolled back simply
// leaks its buffer; callers should always pair Begin with one or the
// other.
func (t *Txn) Rollback() error {
	if t.done {
		return errs.New(errs.InvalidArgument, "txn.rollback", nil)
	}

	t.done = true
	t.buffered = nil
	t.order = nil

	return nil
}
