package grpcarchive

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"omniproto.dev/omni/archive"
)

// sentinels travel as their gRPC code plus their exact message, so codes
// shared by two sentinels still map back.
var sentinels = []struct {
	err  error
	code codes.Code
}{
	{archive.ErrNotFound, codes.NotFound},
	{archive.ErrInvalidCID, codes.InvalidArgument},
	{archive.ErrNotEnvelope, codes.InvalidArgument},
	{archive.ErrCIDMismatch, codes.DataLoss},
	{archive.ErrImmutable, codes.AlreadyExists},
	{archive.ErrNotListable, codes.Unimplemented},
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return status.Error(s.code, s.err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus is the inverse of toStatus. Unknown statuses are returned
// unchanged.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, s := range sentinels {
		if st.Code() == s.code && st.Message() == s.err.Error() {
			return s.err
		}
	}
	return err
}
