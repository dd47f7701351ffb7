package transport

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"omniproto.dev/omni/observability"
	"omniproto.dev/omni/omnierr"
)

// DefaultMaxMessageBytes bounds an inbound envelope when no limit is set.
const DefaultMaxMessageBytes = 1 << 20

// Handler turns request envelope bytes into response envelope bytes.
// *server.Server implements it.
type Handler interface {
	Handle(ctx context.Context, data []byte) ([]byte, error)
	ErrorResponse(e *omnierr.Error) ([]byte, error)
}

// Server adapts a Handler to the Omni gRPC service.
type Server struct {
	UnimplementedOmniServer

	Handler         Handler
	MaxMessageBytes int
	// Limiter refuses calls beyond its rate when set.
	Limiter *rate.Limiter
	// Node labels metrics; metrics are recorded only when it is set.
	Node string
	Log  zerolog.Logger
}

func (s *Server) maxBytes() int {
	if s.MaxMessageBytes > 0 {
		return s.MaxMessageBytes
	}
	return DefaultMaxMessageBytes
}

func (s *Server) Send(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Handler == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing handler")
	}
	if s.Limiter != nil && !s.Limiter.Allow() {
		if s.Node != "" {
			observability.RecordThrottled(s.Node)
		}
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}

	data := in.GetValue()
	var (
		out []byte
		err error
	)
	if limit := s.maxBytes(); len(data) > limit {
		s.Log.Debug().Int("size", len(data)).Int("max", limit).Msg("envelope too long")
		out, err = s.Handler.ErrorResponse(omnierr.MessageTooLong(strconv.Itoa(limit)))
	} else {
		out, err = s.Handler.Handle(ctx, data)
	}
	if err != nil {
		s.Log.Error().Err(err).Msg("cannot produce response envelope")
		return nil, status.Error(codes.Internal, "cannot produce response")
	}
	return wrapperspb.Bytes(out), nil
}

// NewGRPCServer returns a gRPC server with s registered. The gRPC receive
// limit leaves headroom above MaxMessageBytes so oversized envelopes still
// get a signed MessageTooLong answer.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(2*s.maxBytes() + 4096),
		grpc.ChainUnaryInterceptor(observability.UnaryLogger(s.Log)),
	}
	g := grpc.NewServer(append(base, opts...)...)
	RegisterOmniServer(g, s)
	return g
}

// Serve runs g on lis until ctx is done, then stops gracefully.
func Serve(ctx context.Context, g *grpc.Server, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- g.Serve(lis) }()
	select {
	case <-ctx.Done():
		g.GracefulStop()
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
