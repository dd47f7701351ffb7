package grpcarchive

import (
	"context"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/cidutil"
)

// Server exposes an archive.Archive over the Archive gRPC service.
type Server struct {
	UnimplementedArchiveServer
	Archive archive.Archive
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Archive == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing archive")
	}
	b := in.GetValue()
	expected, err := cidutil.ObjectID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	id, err := s.Archive.Put(ctx, b)
	if err != nil {
		return nil, toStatus(err)
	}
	if id != expected {
		return nil, toStatus(archive.ErrCIDMismatch)
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Archive == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing archive")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, toStatus(archive.ErrInvalidCID)
	}
	b, err := s.Archive.Get(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Archive == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing archive")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, toStatus(archive.ErrInvalidCID)
	}
	return wrapperspb.Bool(s.Archive.Has(ctx, id)), nil
}

func (s *Server) Stat(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Archive == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing archive")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, toStatus(archive.ErrInvalidCID)
	}
	rec, err := s.Archive.Stat(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	b, err := rec.MarshalCBOR()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// List streams every record of the backing archive, which must be an
// archive.Lister.
func (s *Server) List(_ *emptypb.Empty, stream Archive_ListServer) error {
	if s == nil || s.Archive == nil {
		return status.Error(codes.FailedPrecondition, "missing archive")
	}
	l, ok := s.Archive.(archive.Lister)
	if !ok {
		return toStatus(archive.ErrNotListable)
	}
	err := l.List(stream.Context(), func(rec archive.Record) error {
		b, err := rec.MarshalCBOR()
		if err != nil {
			return err
		}
		return stream.Send(wrapperspb.Bytes(b))
	})
	return toStatus(err)
}
