package grpcarchive

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/cidutil"
)

// Client implements archive.Archive against a remote Archive service.
// Every object crossing the wire is re-hashed locally, and Put refuses
// non-envelopes before dialing out.
type Client struct {
	cc     *grpc.ClientConn
	client ArchiveClient

	// Timeout bounds each RPC when non-zero.
	Timeout time.Duration
}

var (
	_ archive.Archive = (*Client)(nil)
	_ archive.Lister  = (*Client)(nil)
)

type DialOptions struct {
	// MaxMsgBytes sets both send and receive limits when non-zero.
	MaxMsgBytes int
	Timeout     time.Duration
}

func Dial(target string, opts DialOptions, extra ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
			grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
		))
	}
	dialOpts = append(dialOpts, extra...)
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewArchiveClient(cc), Timeout: opts.Timeout}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	rec, err := archive.Describe(data)
	if err != nil {
		return cid.Undef, err
	}
	expected := rec.CID
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()

	reply, err := c.client.Put(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return cid.Undef, fromStatus(err)
	}
	id, err := cid.Decode(reply.GetValue())
	if err != nil || !id.Defined() {
		return cid.Undef, archive.ErrInvalidCID
	}
	if id != expected {
		return cid.Undef, archive.ErrCIDMismatch
	}
	return id, nil
}

func (c *Client) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, archive.ErrInvalidCID
	}
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, fromStatus(err)
	}
	b := reply.GetValue()
	got, err := cidutil.ObjectID(b)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, archive.ErrCIDMismatch
	}
	return b, nil
}

func (c *Client) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return false
	}
	return reply.GetValue()
}

func (c *Client) Stat(ctx context.Context, id cid.Cid) (archive.Record, error) {
	if !id.Defined() {
		return archive.Record{}, archive.ErrInvalidCID
	}
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()

	reply, err := c.client.Stat(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return archive.Record{}, fromStatus(err)
	}
	var rec archive.Record
	if err := rec.UnmarshalCBOR(reply.GetValue()); err != nil {
		return archive.Record{}, err
	}
	if rec.CID != id {
		return archive.Record{}, archive.ErrCIDMismatch
	}
	return rec, nil
}

// List streams the remote archive's records. Timeout bounds the whole
// stream, not each record.
func (c *Client) List(ctx context.Context, fn func(archive.Record) error) error {
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()

	stream, err := c.client.List(ctx, &emptypb.Empty{})
	if err != nil {
		return fromStatus(err)
	}
	for {
		m, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fromStatus(err)
		}
		var rec archive.Record
		if err := rec.UnmarshalCBOR(m.GetValue()); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func (c *Client) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}
