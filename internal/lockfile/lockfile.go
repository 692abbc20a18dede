// Package lockfile guards the WhatsFlow data directory against a second running instance.
//
// The whatsmeow session database and the SQLite state file both live in the data directory;
// two processes writing them at once would corrupt the device session. The lock is an
// advisory flock that the kernel drops when the process exits, so a crash never leaves
// the directory locked.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the data directory.
const LockFileName = "whatsflow.lock"

// Owner describes the process holding a lock, as written to the lock file.
type Owner struct {
	PID       int
	Transport string
	StartedAt time.Time
}

func (o Owner) encode() string {
	return fmt.Sprintf("pid=%d\ntransport=%s\nstarted=%s\n", o.PID, o.Transport, o.StartedAt.UTC().Format(time.RFC3339))
}

// parseOwner reads the key=value lines of a lock file. Unknown keys are ignored.
func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "transport":
			o.Transport = value
		case "started":
			o.StartedAt, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}

// Lock is a held data directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the data directory lock for a process serving the given transport.
// It fails with a *LockError when another live process holds it.
func Acquire(dataDir, transport string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	lockPath := filepath.Join(dataDir, LockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readOwner(lockPath)
		slog.Error("Lock.Acquire: data directory in use", "lock_path", lockPath, "holder_pid", holder.PID, "holder_transport", holder.Transport)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), Transport: transport, StartedAt: time.Now()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", lockPath, err)
	}

	slog.Info("Lock.Acquire: data directory locked", "lock_path", lockPath, "pid", owner.PID, "transport", transport)
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(owner.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lock.Acquire: lock file sync failed", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil

	if err := errors.Join(errs...); err != nil {
		slog.Error("Lock.Release: cleanup incomplete", "error", err, "lock_path", l.path)
		return err
	}
	slog.Info("Lock.Release: data directory unlocked", "lock_path", l.path)
	return nil
}

// LockError reports that another process holds the data directory lock.
type LockError struct {
	LockPath string
	Holder   Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another WhatsFlow instance is using this data directory (lock file %s", e.LockPath)
	if e.Holder.PID > 0 {
		state := "not running"
		if processRunning(e.Holder.PID) {
			state = "running"
		}
		fmt.Fprintf(&b, ", pid %d %s", e.Holder.PID, state)
	}
	if e.Holder.Transport != "" {
		fmt.Fprintf(&b, ", transport %s", e.Holder.Transport)
	}
	if !e.Holder.StartedAt.IsZero() {
		fmt.Fprintf(&b, ", since %s", e.Holder.StartedAt.Format(time.RFC3339))
	}
	b.WriteString(")")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func readOwner(lockPath string) Owner {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Owner{}
	}
	return parseOwner(string(data))
}

// processRunning probes the PID with signal 0.
func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
