// Package lock provides the cross-process daemon lock, an flock(2) on
// a file under the runtime directory. It guarantees a single shaperd
// instance programs a host's devices at a time.
//
// The lock is held as a non-forgeable scope token: code that mutates
// runtime state requires a Scope parameter, and the only way to obtain
// one is to run under Run. The compiler enforces lock coverage; there
// is nothing to forget to unlock.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Scope proves the daemon lock is held for the dynamic extent of a
// Run callback. It is a capability, not a mutex: callers cannot
// construct, lock, or unlock one. The unexported marker method keeps
// implementations inside this package.
type Scope interface {
	// FD returns the raw lock file descriptor for diagnostics.
	FD() int

	scopeMarker()
}

type heldLock struct {
	f *os.File
}

func (*heldLock) scopeMarker() {}

func (l *heldLock) FD() int { return int(l.f.Fd()) }

// Run acquires the daemon lock at lockPath, executes fn, then
// releases. Acquisition polls with exponential backoff and honours
// ctx cancellation, so a starting daemon waits for a stopping one
// rather than failing outright.
func Run(ctx context.Context, lockPath string, fn func(context.Context, Scope) error) error {
	f, err := acquire(ctx, lockPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, &heldLock{f: f})
}

func acquire(ctx context.Context, path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
