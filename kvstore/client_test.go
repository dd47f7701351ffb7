package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/message"
	"omniproto.dev/omni/omnierr"
)

// direct routes client calls straight into a module as one sender.
type direct struct {
	m    *Module
	from identity.Identity
}

func (d direct) Call(ctx context.Context, to identity.Identity, method string, data []byte) ([]byte, error) {
	return d.m.Execute(ctx, &message.Request{From: d.from, To: to, Method: method, Data: data})
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	m := newModule(t)
	alice := &Client{Caller: direct{m: m, from: sender(t, 1)}}
	bob := &Client{Caller: direct{m: m, from: sender(t, 2)}}

	before, err := alice.Info(ctx)
	require.NoError(t, err)

	require.NoError(t, alice.Put(ctx, []byte("a/1"), []byte("one")))
	require.NoError(t, alice.Put(ctx, []byte("a/2"), []byte("two")))
	require.NoError(t, alice.Put(ctx, []byte("b/1"), []byte("three")))

	got, err := bob.Get(ctx, []byte("a/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got.Value)
	require.Equal(t, sender(t, 1), got.Owner)

	err = bob.Put(ctx, []byte("a/1"), []byte("mine"))
	require.Equal(t, omnierr.Code(10103), omnierr.CodeOf(err))

	ks, err := bob.List(ctx, ListArgs{Prefix: []byte("a/"), Reverse: true})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a/2"), []byte("a/1")}, ks)

	after, err := alice.Info(ctx)
	require.NoError(t, err)
	require.NotEqual(t, before.Hash, after.Hash)
	require.NotEmpty(t, after.Root)
}
