package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrLocked means another invocation holds the run lock.
var ErrLocked = errors.New("store: run lock held")

// RunLock is an advisory lock file in the reports directory. The file holds
// "<pid> <token>"; only the holder whose token is in the file refreshes or
// removes it.
type RunLock struct {
	path  string
	token string
}

// Lock takes the run lock in dir via exclusive create. An existing lock is
// replaced only when it is older than staleAfter and its pid is not running.
func Lock(dir string, staleAfter time.Duration) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	l := &RunLock{
		path:  filepath.Join(dir, ".run.lock"),
		token: strconv.Itoa(os.Getpid()) + " " + uuid.NewString(),
	}
	err := l.create()
	if errors.Is(err, os.ErrExist) && staleAfter > 0 && abandoned(l.path, staleAfter) {
		_ = os.Remove(l.path)
		err = l.create()
	}
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, l.path)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *RunLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_, err = f.WriteString(l.token)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(l.path)
	}
	return err
}

// Refresh bumps the lock's mtime. It returns ErrLocked once another
// invocation has replaced the file.
func (l *RunLock) Refresh() error {
	if !l.owned() {
		return fmt.Errorf("%w: %s taken over", ErrLocked, l.path)
	}
	now := time.Now()
	return os.Chtimes(l.path, now, now)
}

// Release removes the lock file if it is still ours.
func (l *RunLock) Release() {
	if l.owned() {
		_ = os.Remove(l.path)
	}
}

func (l *RunLock) owned() bool {
	bs, err := os.ReadFile(l.path)
	return err == nil && string(bs) == l.token
}

// abandoned: not touched for staleAfter and no live process behind it.
// A lock without a readable pid is judged on its age alone.
func abandoned(path string, staleAfter time.Duration) bool {
	fi, err := os.Stat(path)
	if err != nil || time.Since(fi.ModTime()) <= staleAfter {
		return false
	}
	bs, err := os.ReadFile(path)
	fields := strings.Fields(string(bs))
	if err != nil || len(fields) == 0 {
		return true
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return true
	}
	return !processAlive(pid)
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
