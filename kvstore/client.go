package kvstore

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	"omniproto.dev/omni/identity"
)

// Caller sends one request and returns its result. *transport.Client
// implements it.
type Caller interface {
	Call(ctx context.Context, to identity.Identity, method string, data []byte) ([]byte, error)
}

// Client calls the kvstore endpoints of a node.
type Client struct {
	Caller Caller
	// To is the node identity requests are addressed to.
	To identity.Identity
}

func (c *Client) call(ctx context.Context, method string, args, out any) error {
	var data []byte
	if args != nil {
		var err error
		if data, err = cbor.Marshal(args); err != nil {
			return err
		}
	}
	result, err := c.Caller.Call(ctx, c.To, method, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return cbor.Unmarshal(result, out)
}

func (c *Client) Info(ctx context.Context) (*InfoReturns, error) {
	var out InfoReturns
	if err := c.call(ctx, MethodInfo, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, key []byte) (*GetReturns, error) {
	var out GetReturns
	if err := c.call(ctx, MethodGet, GetArgs{Key: key}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Put(ctx context.Context, key, value []byte) error {
	return c.call(ctx, MethodPut, PutArgs{Key: key, Value: value}, nil)
}

func (c *Client) List(ctx context.Context, args ListArgs) ([][]byte, error) {
	var out ListReturns
	if err := c.call(ctx, MethodList, args, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}
