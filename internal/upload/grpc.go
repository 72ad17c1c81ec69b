package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/session"
)

// GRPCClient sends raw PCM to the Transcribe RPC over one lazily dialed
// connection.
type GRPCClient struct {
	endpoint     string
	dialTimeout  time.Duration
	maxSendBytes int

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// GRPCOption configures a GRPCClient.
type GRPCOption func(*GRPCClient)

// WithMaxMessageBytes caps the request message; larger recordings fail
// locally with ResourceExhausted instead of on the server.
func WithMaxMessageBytes(n int) GRPCOption {
	return func(c *GRPCClient) {
		c.maxSendBytes = n
	}
}

func NewGRPCClient(endpoint string, dialTimeout time.Duration, opts ...GRPCOption) *GRPCClient {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	c := &GRPCClient{endpoint: strings.TrimSpace(endpoint), dialTimeout: dialTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GRPCClient) Transcribe(ctx context.Context, up session.Upload) (session.Result, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return session.Result{}, err
	}

	meta := api.Meta{
		SessionID:       up.SessionID,
		LanguageHint:    up.LanguageHint,
		DurationSeconds: up.DurationSeconds,
		SampleRate:      up.SampleRate,
		Channels:        up.Channels,
	}
	out, err := api.NewTranscriptionClient(conn).Transcribe(
		metadata.NewOutgoingContext(ctx, meta.Outgoing()),
		wrapperspb.Bytes(up.Audio),
	)
	if err != nil {
		return session.Result{}, fmt.Errorf("transcribe rpc: %w", err)
	}

	resp, err := api.FromStruct(out)
	if err != nil {
		return session.Result{}, fmt.Errorf("malformed transcription response: %w", err)
	}
	return toResult(resp)
}

// Close releases the underlying connection.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *GRPCClient) connect(ctx context.Context) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	if c.endpoint == "" {
		return nil, errors.New("grpc endpoint is empty")
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if c.maxSendBytes > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(c.maxSendBytes)))
	}
	conn, err := grpc.NewClient(c.endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial transcription grpc %q: %w", c.endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for transcription grpc readiness: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// waitForReady blocks until gRPC connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
