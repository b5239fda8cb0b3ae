// Package grpcenv serves environment streams as the dm_env_rpc Environment
// service. Messages use a JSON codec so the envelopes match the websocket
// transport byte for byte.
package grpcenv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/session"
)

const (
	ServiceName   = "dm_env_rpc.v1.Environment"
	processMethod = "/" + ServiceName + "/Process"
)

// frame is an undecoded message body. The codec passes it through untouched
// so malformed requests reach the session as protocol.ErrMalformed instead
// of killing the stream.
type frame []byte

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if f, ok := v.(frame); ok {
		return f, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if f, ok := v.(*frame); ok {
		*f = append((*f)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

// ServerOptions returns the options a grpc.Server needs to carry this
// service.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}
}

type EnvironmentServer interface {
	Process(grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EnvironmentServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Process",
		Handler:       processHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "dm_env_rpc.proto",
}

func processHandler(srv any, stream grpc.ServerStream) error {
	return srv.(EnvironmentServer).Process(stream)
}

type Service struct {
	handler *session.Handler
	log     *log.Logger
}

func NewService(h *session.Handler, logger *log.Logger) *Service {
	return &Service{handler: h, log: logger}
}

// Register attaches the service to s. s must have been built with
// ServerOptions.
func Register(s *grpc.Server, svc *Service) {
	s.RegisterService(&serviceDesc, svc)
}

func (s *Service) Process(ss grpc.ServerStream) error {
	ctx := ss.Context()
	addr := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	err := s.handler.Serve(ctx, &stream{ss: ss}, addr)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	s.log.Printf("grpc %s: %v", addr, err)
	return status.Error(codes.Internal, err.Error())
}

type stream struct {
	ss grpc.ServerStream
}

func (s *stream) Recv() (protocol.Request, error) {
	var f frame
	if err := s.ss.RecvMsg(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return protocol.Request{}, io.EOF
		}
		return protocol.Request{}, err
	}
	return protocol.DecodeRequest(f)
}

func (s *stream) Send(resp protocol.Response) error {
	return s.ss.SendMsg(&resp)
}
