package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tonimelisma/chrono-crank/internal/config"
)

// runLockSuffix names the run lock after the ledger it guards: state.db.lock.
const runLockSuffix = ".lock"

// runLockPermissions keeps the holder record owner-only, like the ledger.
const (
	runLockPermissions    = 0o600
	runLockDirPermissions = 0o700
)

// errNoRunningCrank means no loop holds the run lock for this ledger.
var errNoRunningCrank = errors.New("no running crank")

// lockHolder is what a running loop records in its run lock, so reload and
// status can tell which signer and program own the ledger.
type lockHolder struct {
	PID       int       `json:"pid"`
	Signer    string    `json:"signer,omitempty"`
	Program   string    `json:"vault_program"`
	DryRun    bool      `json:"dry_run,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// String names the holder for messages.
func (h *lockHolder) String() string {
	if h.Signer == "" {
		return fmt.Sprintf("PID %d (dry run)", h.PID)
	}

	return fmt.Sprintf("PID %d as %s", h.PID, h.Signer)
}

// runLockPath places the lock beside the state DB, so two loops sharing a
// ledger cannot run at once.
func runLockPath(resolved *config.Resolved) string {
	if resolved.StateDBPath == "" {
		return ""
	}

	return resolved.StateDBPath + runLockSuffix
}

// runLock is an exclusive flock on the lock file, held for the life of the
// loop.
type runLock struct {
	path   string
	f      *os.File
	holder lockHolder
}

// acquireRunLock takes the lock at path and records holder in it. If another
// loop holds it, the error names that loop.
func acquireRunLock(path string, holder lockHolder) (*runLock, error) {
	if path == "" {
		return nil, errors.New("run lock path is empty: state_db is not set")
	}

	if err := os.MkdirAll(filepath.Dir(path), runLockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating run lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, runLockPermissions)
	if err != nil {
		return nil, fmt.Errorf("opening run lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if other, readErr := readRunLock(path); readErr == nil {
			return nil, fmt.Errorf("crank already running on ledger %s: %s", path, other.String())
		}

		return nil, fmt.Errorf("crank already running on ledger %s", path)
	}

	if err := writeHolder(f, &holder); err != nil {
		f.Close()
		return nil, err
	}

	return &runLock{path: path, f: f, holder: holder}, nil
}

func writeHolder(f *os.File, holder *lockHolder) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating run lock: %w", err)
	}

	data, err := json.Marshal(holder)
	if err != nil {
		return fmt.Errorf("encoding run lock: %w", err)
	}

	if _, err := f.WriteAt(append(data, '\n'), 0); err != nil {
		return fmt.Errorf("writing run lock: %w", err)
	}

	// Readers must see the holder as soon as the lock is visible.
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing run lock: %w", err)
	}

	return nil
}

// Release removes the lock file and drops the flock.
func (l *runLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// readRunLock returns the recorded holder. It does not check that the holder
// is still alive; see liveRunLock.
func readRunLock(path string) (lockHolder, error) {
	var h lockHolder

	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("reading run lock: %w", err)
	}

	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("invalid run lock %s: %w", path, err)
	}

	if h.PID <= 0 {
		return h, fmt.Errorf("invalid run lock %s: missing pid", path)
	}

	return h, nil
}

// liveRunLock returns the holder of a lock that a process still holds. A
// lock file nobody holds is left over from a crash; it is removed and
// errNoRunningCrank returned.
func liveRunLock(path string) (lockHolder, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return lockHolder{}, fmt.Errorf("%w (no run lock at %s)", errNoRunningCrank, path)
	}

	if err != nil {
		return lockHolder{}, fmt.Errorf("opening run lock: %w", err)
	}
	defer f.Close()

	// A shared lock only succeeds when no loop holds the exclusive one.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		os.Remove(path)
		return lockHolder{}, fmt.Errorf("%w (stale run lock %s removed)", errNoRunningCrank, path)
	}

	return readRunLock(path)
}

// signalRunLock delivers sig to the loop holding the lock at path.
func signalRunLock(path string, sig syscall.Signal) (lockHolder, error) {
	holder, err := liveRunLock(path)
	if err != nil {
		return holder, err
	}

	proc, err := os.FindProcess(holder.PID)
	if err != nil {
		return holder, fmt.Errorf("finding crank %s: %w", holder.String(), err)
	}

	if err := proc.Signal(sig); err != nil {
		return holder, fmt.Errorf("sending %s to crank %s: %w", sig, holder.String(), err)
	}

	return holder, nil
}
