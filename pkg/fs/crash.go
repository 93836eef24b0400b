package fs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// TempDirer is the minimal subset of *testing.T/*testing.B that [NewCrash]
// needs, so this file can be imported from non-test code without pulling
// in the standard library testing package.
type TempDirer interface {
	TempDir() string
}

// CrashConfig reserved for future tuning knobs. Carries no fields yet.
type CrashConfig struct{}

// Crash is a test-only [FS] that simulates crash consistency: a file's
// content only survives [Crash.SimulateCrash] if [File.Sync] succeeded on
// that handle, and a directory entry only survives if the containing
// directory was itself Synced afterward. Everything else is lost, the
// same pessimistic model the teacher's own (much larger) crash fake
// documents — this is a trimmed, adapted version of it, narrowed to
// exactly what [AtomicWriter]'s non-[Real] fallback path needs to
// exercise.
type Crash struct {
	mu sync.Mutex

	t    TempDirer
	real FS
	dir  string

	durable map[string][]byte // relative path -> last Sync'd content
	entries map[string]bool   // relative path -> directory-entry durability
}

// NewCrash returns a Crash rooted at a fresh directory from t, delegating
// actual filesystem work to real.
func NewCrash(t TempDirer, real FS, _ *CrashConfig) (*Crash, error) {
	if t == nil {
		return nil, errors.New("crashfs: t is nil")
	}

	if real == nil {
		return nil, errors.New("crashfs: real is nil")
	}

	return &Crash{
		t:       t,
		real:    real,
		dir:     t.TempDir(),
		durable: make(map[string][]byte),
		entries: make(map[string]bool),
	}, nil
}

func (c *Crash) abs(path string) string {
	return filepath.Join(c.dir, path)
}

func (c *Crash) wrap(path string, f File, err error) (File, error) {
	if err != nil {
		return nil, err
	}

	isDir := false
	if info, statErr := c.real.Stat(c.abs(path)); statErr == nil {
		isDir = info.IsDir()
	}

	return &crashFile{File: f, crash: c, path: path, isDir: isDir}, nil
}

func (c *Crash) Open(path string) (File, error) {
	f, err := c.real.Open(c.abs(path))
	return c.wrap(path, f, err)
}

func (c *Crash) Create(path string) (File, error) {
	f, err := c.real.Create(c.abs(path))
	return c.wrap(path, f, err)
}

func (c *Crash) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := c.real.OpenFile(c.abs(path), flag, perm)
	return c.wrap(path, f, err)
}

func (c *Crash) ReadFile(path string) ([]byte, error) {
	return c.real.ReadFile(c.abs(path))
}

func (c *Crash) WriteFile(path string, data []byte, perm os.FileMode) error {
	return c.real.WriteFile(c.abs(path), data, perm)
}

func (c *Crash) ReadDir(path string) ([]os.DirEntry, error) {
	return c.real.ReadDir(c.abs(path))
}

func (c *Crash) MkdirAll(path string, perm os.FileMode) error {
	return c.real.MkdirAll(c.abs(path), perm)
}

func (c *Crash) Stat(path string) (os.FileInfo, error) {
	return c.real.Stat(c.abs(path))
}

func (c *Crash) Exists(path string) (bool, error) {
	return c.real.Exists(c.abs(path))
}

func (c *Crash) Remove(path string) error {
	return c.real.Remove(c.abs(path))
}

func (c *Crash) RemoveAll(path string) error {
	return c.real.RemoveAll(c.abs(path))
}

// Rename moves oldpath to newpath on the real filesystem and carries over
// any durability already recorded for oldpath — a rename doesn't need a
// fresh Sync to keep content that was already fsync'd durable, only the
// new directory entry still needs its directory Synced.
func (c *Crash) Rename(oldpath, newpath string) error {
	if err := c.real.Rename(c.abs(oldpath), c.abs(newpath)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if data, ok := c.durable[oldpath]; ok {
		c.durable[newpath] = data
		delete(c.durable, oldpath)
	}

	if c.entries[oldpath] {
		c.entries[newpath] = true
		delete(c.entries, oldpath)
	}

	return nil
}

func (c *Crash) syncFile(path string) error {
	data, err := c.real.ReadFile(c.abs(path))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.durable[path] = data
	c.mu.Unlock()

	return nil
}

// syncDir promotes every entry currently in path whose content is
// already durable (a prior file-level Sync) to a durable directory
// entry. An entry whose content was never individually Synced does not
// survive a crash even if its directory is Synced afterward.
func (c *Crash) syncDir(path string) error {
	ents, err := c.real.ReadDir(c.abs(path))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range ents {
		rel := filepath.Join(path, e.Name())
		if _, ok := c.durable[rel]; ok || e.IsDir() {
			c.entries[rel] = true
		}
	}

	return nil
}

// SimulateCrash rotates to a fresh empty working directory and restores
// only what Sync calls made durable, simulating a power loss: content
// that was written but never fsync'd, or a directory entry whose
// directory was never fsync'd, does not survive.
func (c *Crash) SimulateCrash() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newDir := c.t.TempDir()

	for path, ok := range c.entries {
		if !ok {
			continue
		}

		dest := filepath.Join(newDir, path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(dest, c.durable[path], 0o644); err != nil {
			return err
		}
	}

	c.dir = newDir

	return nil
}

// crashFile intercepts Sync to record durability against the owning
// Crash instead of just flushing to the real OS file.
type crashFile struct {
	File
	crash *Crash
	path  string
	isDir bool
}

func (f *crashFile) Sync() error {
	if err := f.File.Sync(); err != nil {
		return err
	}

	if f.isDir {
		return f.crash.syncDir(f.path)
	}

	return f.crash.syncFile(f.path)
}

// Compile-time interface check.
var _ FS = (*Crash)(nil)
