package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/omnierr"
	"omniproto.dev/omni/server"
)

type party struct {
	signer keys.Signer
	id     identity.Identity
}

func newParty(t *testing.T, seed byte) party {
	t.Helper()
	k, err := keys.NewEd25519FromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	require.NoError(t, err)
	id, err := keys.AddressableIdentity(k)
	require.NoError(t, err)
	return party{signer: k, id: id}
}

type fixture struct {
	node party
	lis  *bufconn.Listener
}

func start(t *testing.T, ts *Server) fixture {
	t.Helper()
	return startWith(t, ts, nil)
}

// startWith serves ts with the node handler, optionally wrapped.
func startWith(t *testing.T, ts *Server, wrap func(Handler) Handler) fixture {
	t.Helper()
	node := newParty(t, 1)
	h, err := server.New("node", node.signer, node.id)
	require.NoError(t, err)
	ts.Handler = h
	if wrap != nil {
		ts.Handler = wrap(h)
	}

	lis := bufconn.Listen(4 << 20)
	g := NewGRPCServer(ts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, g, lis) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return fixture{node: node, lis: lis}
}

func (f fixture) dial(t *testing.T, p party, opts DialOptions) *Client {
	t.Helper()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return f.lis.DialContext(ctx) }
	c, err := Dial("passthrough:///bufnet", p.signer, p.id, opts, grpc.WithContextDialer(dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallRoundTrip(t *testing.T) {
	f := start(t, &Server{})
	c := f.dial(t, newParty(t, 2), DialOptions{Server: &f.node.id, Timeout: 5 * time.Second})

	out, err := c.Call(context.Background(), f.node.id, server.MethodStatus, nil)
	require.NoError(t, err)
	st, err := server.DecodeStatus(out)
	require.NoError(t, err)
	require.Equal(t, "node", st.Name)

	_, err = c.Call(context.Background(), f.node.id, "missing", nil)
	require.Equal(t, omnierr.CodeInvalidMethodName, omnierr.CodeOf(err))
}

func TestAnonymousClient(t *testing.T) {
	f := start(t, &Server{})
	c := f.dial(t, party{id: identity.Anonymous()}, DialOptions{})
	_, err := c.Call(context.Background(), f.node.id, server.MethodHeartbeat, nil)
	require.NoError(t, err)
}

func TestMessageTooLong(t *testing.T) {
	f := start(t, &Server{MaxMessageBytes: 512})
	c := f.dial(t, newParty(t, 2), DialOptions{})

	_, err := c.Call(context.Background(), f.node.id, server.MethodHeartbeat, make([]byte, 1024))
	require.Equal(t, omnierr.CodeMessageTooLong, omnierr.CodeOf(err))
	require.Equal(t, "Message is too long. Max allowed size is 512 bytes.", err.Error())
}

func TestRateLimit(t *testing.T) {
	f := start(t, &Server{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1), Node: "node"})
	c := f.dial(t, newParty(t, 2), DialOptions{})

	_, err := c.Call(context.Background(), f.node.id, server.MethodHeartbeat, nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), f.node.id, server.MethodHeartbeat, nil)
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestUnexpectedServer(t *testing.T) {
	f := start(t, &Server{})
	other := newParty(t, 9).id
	c := f.dial(t, newParty(t, 2), DialOptions{Server: &other})

	_, err := c.Call(context.Background(), f.node.id, server.MethodHeartbeat, nil)
	require.ErrorIs(t, err, ErrUnexpectedServer)
}

// replaying answers every call with the first response it produced.
type replaying struct {
	Handler
	mu    sync.Mutex
	first []byte
}

func (r *replaying) Handle(ctx context.Context, data []byte) ([]byte, error) {
	out, err := r.Handler.Handle(ctx, data)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first == nil {
		r.first = out
	}
	return r.first, nil
}

func TestResponseMustAnswerRequest(t *testing.T) {
	f := startWith(t, &Server{}, func(h Handler) Handler { return &replaying{Handler: h} })
	c := f.dial(t, newParty(t, 2), DialOptions{Server: &f.node.id})

	_, err := c.Call(context.Background(), f.node.id, server.MethodHeartbeat, nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), f.node.id, server.MethodHeartbeat, nil)
	require.ErrorIs(t, err, ErrResponseID)
}

func TestDialRejectsMismatchedIdentity(t *testing.T) {
	a, b := newParty(t, 1), newParty(t, 2)
	_, err := Dial("passthrough:///bufnet", a.signer, b.id, DialOptions{})
	require.Error(t, err)
}
