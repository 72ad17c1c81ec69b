package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SocketName is the session socket inside $XDG_RUNTIME_DIR. There is one per
// user since only one recording may own the microphone at a time.
const SocketName = "soro.sock"

// ErrAlreadyRunning matches a RunningError.
var ErrAlreadyRunning = errors.New("soro session already running")

// RunningError reports the live session that owns the socket.
type RunningError struct {
	Status Status
}

func (e *RunningError) Error() string {
	if e.Status.SessionID == "" {
		return ErrAlreadyRunning.Error()
	}
	detail := e.Status.State
	if detail == "listening" {
		detail += " " + e.Status.Clock()
	}
	return fmt.Sprintf("soro session %s already running (%s)", e.Status.SessionID, detail)
}

func (e *RunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// RuntimeSocketPath resolves the session socket path.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// Owner holds the session socket for one recording.
type Owner struct {
	net.Listener

	path      string
	file      os.FileInfo
	closeOnce sync.Once
}

// Path is the socket path this owner listens on.
func (o *Owner) Path() string { return o.path }

// Close stops listening and unlinks the socket, unless another recording has
// since replaced it. Later calls are no-ops.
func (o *Owner) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.Listener.Close()
		current, statErr := os.Stat(o.path)
		if statErr == nil && os.SameFile(current, o.file) {
			_ = os.Remove(o.path)
		}
	})
	return err
}

// Acquire claims path for a new recording. A socket answered by a live
// session yields a RunningError; a socket nobody answers is stale and is
// replaced. An owner that accepts but never answers is left alone.
func Acquire(ctx context.Context, path string, queryTimeout time.Duration, retries int) (*Owner, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= retries; attempt++ {
		owner, err := listen(path)
		if err == nil {
			return owner, nil
		}
		if !isAddrInUse(err) {
			return nil, err
		}

		status, alive, queryErr := QueryStatus(ctx, path, queryTimeout)
		if alive {
			return nil, &RunningError{Status: status}
		}
		if queryErr != nil {
			return nil, fmt.Errorf("query existing socket %s: %w", path, queryErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, retries)
}

func listen(path string) (*Owner, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	// Owner.Close unlinks only its own socket.
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	_ = os.Chmod(path, 0o600)

	info, err := os.Stat(path)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("stat socket %s: %w", path, err)
	}
	return &Owner{Listener: ln, path: path, file: info}, nil
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}
