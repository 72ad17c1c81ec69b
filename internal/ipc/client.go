package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// Send delivers cmd to the session socket at path and returns its response.
func Send(ctx context.Context, path string, cmd Command, timeout time.Duration) (Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(Request{Command: cmd}); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// QueryStatus asks the owner of path for its session status. ok is false when no
// process is listening there.
func QueryStatus(ctx context.Context, path string, timeout time.Duration) (status Status, ok bool, err error) {
	resp, err := Send(ctx, path, CommandStatus, timeout)
	if err == nil {
		return resp.Status, true, nil
	}
	if Unreachable(err) {
		return Status{}, false, nil
	}
	return Status{}, false, fmt.Errorf("query socket: %w", err)
}

// Unreachable reports dial failures meaning no session owns the socket.
func Unreachable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(err.Error(), "no such file or directory")
}
