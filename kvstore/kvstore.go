// Package kvstore is a key-value application module backed by store.
//
// Keys are owned by the first identity that writes them; later writes from
// anyone else are refused. Each put is committed before the response is
// sent.
package kvstore

import (
	"context"
	"errors"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/message"
	"omniproto.dev/omni/observability"
	"omniproto.dev/omni/server"
	"omniproto.dev/omni/store"
)

const (
	MethodInfo = "kvstore.info"
	MethodGet  = "kvstore.get"
	MethodPut  = "kvstore.put"
	MethodList = "kvstore.list"

	MaxKeySize   = 1024
	DefaultLimit = 100
)

var (
	valuePrefix = []byte("v/")
	ownerPrefix = []byte("o/")
)

type InfoReturns struct {
	Hash []byte `cbor:"0,keyasint"`
	Root string `cbor:"1,keyasint"`
}

type GetArgs struct {
	Key []byte `cbor:"0,keyasint"`
}

type GetReturns struct {
	Value []byte            `cbor:"0,keyasint"`
	Owner identity.Identity `cbor:"1,keyasint"`
}

type PutArgs struct {
	Key   []byte `cbor:"0,keyasint"`
	Value []byte `cbor:"1,keyasint"`
}

type ListArgs struct {
	Prefix  []byte `cbor:"0,keyasint,omitempty"`
	Limit   int    `cbor:"1,keyasint,omitempty"`
	Reverse bool   `cbor:"2,keyasint,omitempty"`
}

type ListReturns struct {
	Keys [][]byte `cbor:"0,keyasint"`
}

type Module struct {
	mu      sync.Mutex
	backend store.Backend
	node    string
	metrics bool
}

var _ server.Module = (*Module)(nil)

type Option func(*Module)

// WithCommitMetrics counts commits under the given node label.
func WithCommitMetrics(node string) Option {
	return func(m *Module) { m.node = node; m.metrics = true }
}

func New(backend store.Backend, opts ...Option) *Module {
	m := &Module{backend: backend}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Info() server.ModuleInfo {
	return server.ModuleInfo{Name: "kvstore", Endpoints: []string{MethodInfo, MethodGet, MethodPut, MethodList}}
}

func (m *Module) Execute(ctx context.Context, req *message.Request) ([]byte, error) {
	switch req.Method {
	case MethodInfo:
		return m.info()
	case MethodGet:
		var args GetArgs
		if err := cbor.Unmarshal(req.Data, &args); err != nil {
			return nil, errInvalidArgument.New("malformed get arguments")
		}
		return m.get(ctx, args)
	case MethodPut:
		var args PutArgs
		if err := cbor.Unmarshal(req.Data, &args); err != nil {
			return nil, errInvalidArgument.New("malformed put arguments")
		}
		return m.put(ctx, req.From, args)
	case MethodList:
		var args ListArgs
		if len(req.Data) > 0 {
			if err := cbor.Unmarshal(req.Data, &args); err != nil {
				return nil, errInvalidArgument.New("malformed list arguments")
			}
		}
		return m.list(ctx, args)
	default:
		return nil, errors.New("kvstore: unrouted method " + req.Method)
	}
}

func (m *Module) info() ([]byte, error) {
	out := InfoReturns{Hash: m.backend.Hash()}
	if s, ok := m.backend.(*store.Store); ok {
		id, err := s.RootID()
		if err != nil {
			return nil, err
		}
		out.Root = id.String()
	}
	return cbor.Marshal(out)
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return errInvalidArgument.New("empty key")
	}
	if len(key) > MaxKeySize {
		return errInvalidArgument.New("key too long")
	}
	return nil
}

func (m *Module) get(ctx context.Context, args GetArgs) ([]byte, error) {
	if err := checkKey(args.Key); err != nil {
		return nil, err
	}
	v, err := m.backend.Get(ctx, prefixed(valuePrefix, args.Key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errKeyNotFound.New()
	}
	if err != nil {
		return nil, err
	}
	out := GetReturns{Value: v}
	if raw, err := m.backend.Get(ctx, prefixed(ownerPrefix, args.Key)); err == nil {
		if owner, err := identity.FromBytes(raw); err == nil {
			out.Owner = owner
		}
	}
	return cbor.Marshal(out)
}

func (m *Module) put(ctx context.Context, from identity.Identity, args PutArgs) ([]byte, error) {
	if from.IsAnonymous() {
		return nil, errAnonymousWrite.New()
	}
	if err := checkKey(args.Key); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ownerKey := prefixed(ownerPrefix, args.Key)
	raw, err := m.backend.Get(ctx, ownerKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := m.backend.Put(ownerKey, from.Bytes()); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		owner, err := identity.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		if owner != from {
			return nil, errPermissionDenied.New(owner.String())
		}
	}
	if err := m.backend.Put(prefixed(valuePrefix, args.Key), args.Value); err != nil {
		return nil, err
	}
	if err := m.backend.Commit(ctx); err != nil {
		return nil, err
	}
	if m.metrics {
		observability.RecordCommit(m.node)
	}
	return nil, nil
}

func (m *Module) list(ctx context.Context, args ListArgs) ([]byte, error) {
	limit := args.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	dir := store.Forward
	if args.Reverse {
		dir = store.Reverse
	}
	start := prefixed(valuePrefix, args.Prefix)
	end := store.Excluded(prefixEnd(start))

	out := ListReturns{Keys: [][]byte{}}
	err := m.backend.Range(ctx, store.Included(start), end, dir, func(k, _ []byte) error {
		out.Keys = append(out.Keys, append([]byte(nil), k[len(valuePrefix):]...))
		if len(out.Keys) >= limit {
			return store.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(out)
}

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// prefixEnd returns the smallest key greater than every key starting with
// p. p is never empty or all 0xff here since it starts with a printable
// namespace prefix.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
