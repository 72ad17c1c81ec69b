package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"google.golang.org/grpc"
)

// Host serves one Service on an HTTP and a gRPC listener until ctx ends.
type Host struct {
	HTTPAddr    string
	GRPCAddr    string
	BodyLimitMB int
	Logger      *slog.Logger

	httpLn net.Listener
	grpcLn net.Listener
	http   *fiber.App
	grpc   *grpc.Server
}

// Listen binds both listeners so callers can read the resolved addresses
// before Serve.
func (h *Host) Listen(svc *Service) error {
	if h.Logger == nil {
		h.Logger = slog.New(slog.DiscardHandler)
	}
	httpLn, err := net.Listen("tcp", h.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %q: %w", h.HTTPAddr, err)
	}
	grpcLn, err := net.Listen("tcp", h.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return fmt.Errorf("listen grpc %q: %w", h.GRPCAddr, err)
	}
	h.httpLn, h.grpcLn = httpLn, grpcLn
	h.http = NewHTTP(svc, h.Logger, h.BodyLimitMB)
	h.grpc = NewGRPC(svc, h.Logger, h.BodyLimitMB)
	return nil
}

// HTTPAddress is the bound HTTP address, valid after Listen.
func (h *Host) HTTPAddress() string { return h.httpLn.Addr().String() }

// GRPCAddress is the bound gRPC address, valid after Listen.
func (h *Host) GRPCAddress() string { return h.grpcLn.Addr().String() }

// Serve blocks until ctx is cancelled or either server fails.
func (h *Host) Serve(ctx context.Context) error {
	if h.http == nil || h.grpc == nil {
		return errors.New("server host not listening")
	}
	errCh := make(chan error, 2)
	go func() { errCh <- h.http.Listener(h.httpLn) }()
	go func() { errCh <- h.grpc.Serve(h.grpcLn) }()

	h.Logger.Info("transcription service listening",
		"http_addr", h.HTTPAddress(),
		"grpc_addr", h.GRPCAddress(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = h.http.ShutdownWithContext(shutdownCtx)
	h.grpc.GracefulStop()

	if serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
		return serveErr
	}
	return nil
}
