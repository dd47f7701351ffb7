package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"omniproto.dev/omni/envelope"
	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/message"
)

var (
	ErrUnexpectedServer = errors.New("transport: response signed by unexpected identity")
	ErrResponseID       = errors.New("transport: response does not answer the request")
)

// Client signs requests as one identity and verifies the responses.
type Client struct {
	cc     *grpc.ClientConn
	client OmniClient
	signer keys.Signer
	id     identity.Identity
	server *identity.Identity
	nextID atomic.Uint64

	// Timeout bounds each call when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Server, when set, must be the identity that signs every response.
	Server      *identity.Identity
	Timeout     time.Duration
	MaxMsgBytes int
}

// Dial connects to target. signer may be nil only for the anonymous
// identity.
func Dial(target string, signer keys.Signer, id identity.Identity, opts DialOptions, extra ...grpc.DialOption) (*Client, error) {
	var pub []byte
	if signer != nil {
		pub = signer.PublicKey()
	}
	if !id.MatchesKey(pub) {
		return nil, fmt.Errorf("transport: identity %s does not match signer key", id)
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
			grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
		))
	}
	cc, err := grpc.NewClient(target, append(dialOpts, extra...)...)
	if err != nil {
		return nil, err
	}
	return &Client{
		cc:      cc,
		client:  NewOmniClient(cc),
		signer:  signer,
		id:      id,
		server:  opts.Server,
		Timeout: opts.Timeout,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Identity() identity.Identity { return c.id }

// SendRaw sends envelope bytes and returns the raw response envelope.
func (c *Client) SendRaw(ctx context.Context, data []byte) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	reply, err := c.client.Send(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return nil, err
	}
	return reply.GetValue(), nil
}

// Do signs req, sends it and returns the verified response.
//
// A response must be addressed to this client or to nobody and carry the
// request's ID. Servers answer envelopes they could not decode with an
// error addressed to nobody and ID 0.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req.ID == 0 {
		req.ID = c.nextID.Add(1)
	}
	b, err := envelope.SealRequest(req, c.id, c.signer)
	if err != nil {
		return nil, err
	}
	out, err := c.SendRaw(ctx, b)
	if err != nil {
		return nil, err
	}
	env, err := envelope.Parse(out)
	if err != nil {
		return nil, err
	}
	resp, err := envelope.DecodeResponse(env, nil)
	if err != nil {
		return nil, err
	}
	if !resp.To.IsAnonymous() && resp.To != c.id {
		return nil, fmt.Errorf("transport: response addressed to %s", resp.To)
	}
	if c.server != nil && resp.From != *c.server {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedServer, resp.From)
	}
	if resp.ID != req.ID && (resp.ID != 0 || resp.Error == nil) {
		return nil, fmt.Errorf("%w: id %d, sent %d", ErrResponseID, resp.ID, req.ID)
	}
	return resp, nil
}

// Call sends method with data to to and returns the result data, or the
// response's *omnierr.Error.
func (c *Client) Call(ctx context.Context, to identity.Identity, method string, data []byte) ([]byte, error) {
	req, err := message.NewRequest(c.id, to, method, data)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Result()
}
