package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/sorosurance/soro/internal/api"
)

// DefaultBodyLimitMB caps one upload when no limit is configured.
const DefaultBodyLimitMB = 10

func bodyLimitBytes(mb int) int {
	if mb <= 0 {
		mb = DefaultBodyLimitMB
	}
	return mb << 20
}

// NewGRPC builds a gRPC server with the transcription and health services.
// bodyLimitMB bounds one request message, as it bounds an HTTP body.
func NewGRPC(svc *Service, logger *slog.Logger, bodyLimitMB int) *grpc.Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(bodyLimitBytes(bodyLimitMB)),
		grpc.ChainUnaryInterceptor(unaryLogger(logger)),
	)
	api.RegisterTranscriptionServer(srv, &grpcHandler{svc: svc})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

type grpcHandler struct {
	svc *Service
}

func (h *grpcHandler) Transcribe(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	meta, err := api.MetaFromIncoming(md)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := h.svc.Transcribe(ctx, Request{
		SessionID:       meta.SessionID,
		Audio:           in.GetValue(),
		SampleRate:      meta.SampleRate,
		Channels:        meta.Channels,
		DurationSeconds: float64(meta.DurationSeconds),
		LanguageHint:    meta.LanguageHint,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	out, err := api.ToStruct(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func unaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"latency_ms", time.Since(started).Milliseconds(),
		)
		return resp, err
	}
}
