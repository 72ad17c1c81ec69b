package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// connTimeout bounds one request/response exchange on an accepted connection.
const connTimeout = 2 * time.Second

// Controller is the capture session behind the socket. Stop and Cancel
// return a confirmation message, or an error when the session refuses the
// intent in its current state.
type Controller interface {
	Status(context.Context) Status
	Stop(context.Context) (string, error)
	Cancel(context.Context) (string, error)
}

// Serve accepts clients until ctx is cancelled or the listener closes,
// dispatching each request to ctrl.
func Serve(ctx context.Context, listener net.Listener, ctrl Controller) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			_ = c.SetDeadline(time.Now().Add(connTimeout))

			resp := serveConn(ctx, c, ctrl)
			_ = c.SetWriteDeadline(time.Now().Add(connTimeout))
			_ = json.NewEncoder(c).Encode(resp)
		}(conn)
	}
}

func serveConn(ctx context.Context, c net.Conn, ctrl Controller) Response {
	line, err := bufio.NewReader(c).ReadBytes('\n')
	if err != nil {
		return Response{Error: fmt.Sprintf("read request: %v", err)}
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Error: fmt.Sprintf("decode request: %v", err)}
	}
	return Dispatch(ctx, ctrl, req)
}

// Dispatch routes req to ctrl and reports the session status afterwards.
func Dispatch(ctx context.Context, ctrl Controller, req Request) Response {
	var (
		msg string
		err error
	)
	switch req.Command {
	case CommandStatus:
		msg = "status"
	case CommandStop:
		msg, err = ctrl.Stop(ctx)
	case CommandCancel:
		msg, err = ctrl.Cancel(ctx)
	default:
		err = fmt.Errorf("unknown command: %s", req.Command)
	}

	resp := Response{Status: ctrl.Status(ctx)}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	resp.Message = msg
	return resp
}
