package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName          = "soro.voice.v1.Transcription"
	TranscribeFullMethod = "/" + ServiceName + "/Transcribe"
)

// TranscriptionServer handles unary Transcribe calls. The request carries raw
// s16le PCM; format and session details travel as metadata.
type TranscriptionServer interface {
	Transcribe(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterTranscriptionServer attaches srv to a gRPC server.
func RegisterTranscriptionServer(s grpc.ServiceRegistrar, srv TranscriptionServer) {
	s.RegisterService(&TranscriptionServiceDesc, srv)
}

var TranscriptionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TranscriptionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Transcribe", Handler: transcribeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "soro/voice/v1/transcription.proto",
}

func transcribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranscriptionServer).Transcribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TranscribeFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TranscriptionServer).Transcribe(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// TranscriptionClient calls the Transcribe method on an existing connection.
type TranscriptionClient struct {
	cc grpc.ClientConnInterface
}

func NewTranscriptionClient(cc grpc.ClientConnInterface) *TranscriptionClient {
	return &TranscriptionClient{cc: cc}
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TranscribeFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
