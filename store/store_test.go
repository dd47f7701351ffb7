package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type engineFactory struct {
	name string
	open func(t *testing.T) Engine
}

func engines() []engineFactory {
	return []engineFactory{
		{"memory", func(t *testing.T) Engine { return NewMemoryEngine() }},
		{"sqlite", func(t *testing.T) Engine {
			e, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = e.Close() })
			return e
		}},
	}
}

func openStore(t *testing.T, e Engine) *Store {
	t.Helper()
	s, err := Open(context.Background(), e)
	require.NoError(t, err)
	return s
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	for _, f := range engines() {
		t.Run(f.name, func(t *testing.T) {
			s := openStore(t, f.open(t))
			empty := s.Hash()

			require.NoError(t, s.Put([]byte("a"), []byte("1")))
			require.Equal(t, 1, s.Staged())

			_, err := s.Get(ctx, []byte("a"))
			require.ErrorIs(t, err, ErrNotFound)
			v, err := s.GetStaged(ctx, []byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), v)
			require.Equal(t, empty, s.Hash())

			require.NoError(t, s.Commit(ctx))
			require.Equal(t, 0, s.Staged())
			v, err = s.Get(ctx, []byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), v)
			require.NotEqual(t, empty, s.Hash())
		})
	}
}

func TestOverwriteAndEmptyCommit(t *testing.T) {
	ctx := context.Background()
	for _, f := range engines() {
		t.Run(f.name, func(t *testing.T) {
			s := openStore(t, f.open(t))
			require.NoError(t, s.Put([]byte("k"), []byte("old")))
			require.NoError(t, s.Commit(ctx))
			first := s.Hash()

			require.NoError(t, s.Commit(ctx))
			require.Equal(t, first, s.Hash())

			require.NoError(t, s.Put([]byte("k"), []byte("mid")))
			require.NoError(t, s.Put([]byte("k"), []byte("new")))
			require.NoError(t, s.Commit(ctx))
			v, err := s.Get(ctx, []byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("new"), v)
			require.NotEqual(t, first, s.Hash())
		})
	}
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, NewMemoryEngine())
	require.NoError(t, s.Put([]byte("x"), []byte("y")))
	s.Discard()
	require.NoError(t, s.Commit(ctx))
	_, err := s.GetStaged(ctx, []byte("x"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyKeyRejected(t *testing.T) {
	s := openStore(t, NewMemoryEngine())
	require.ErrorIs(t, s.Put(nil, []byte("v")), ErrEmptyKey)
	require.ErrorIs(t, s.Delete(nil), ErrEmptyKey)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	for _, f := range engines() {
		t.Run(f.name, func(t *testing.T) {
			s := openStore(t, f.open(t))
			empty := s.Hash()
			require.NoError(t, s.Put([]byte("a"), []byte("1")))
			require.NoError(t, s.Put([]byte("b"), []byte("2")))
			require.NoError(t, s.Commit(ctx))

			require.NoError(t, s.Delete([]byte("a")))
			_, err := s.GetStaged(ctx, []byte("a"))
			require.ErrorIs(t, err, ErrNotFound)
			v, err := s.Get(ctx, []byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), v)

			require.NoError(t, s.Delete([]byte("missing")))
			require.NoError(t, s.Commit(ctx))
			_, err = s.Get(ctx, []byte("a"))
			require.ErrorIs(t, err, ErrNotFound)
			require.Equal(t, RootOf([]Entry{{Key: []byte("b"), Value: []byte("2")}}), s.Hash())

			require.NoError(t, s.Delete([]byte("b")))
			require.NoError(t, s.Commit(ctx))
			require.Equal(t, empty, s.Hash())
		})
	}
}

func TestStagedKeysAreCopied(t *testing.T) {
	ctx := context.Background()
	for _, f := range engines() {
		t.Run(f.name, func(t *testing.T) {
			s := openStore(t, f.open(t))
			key := []byte("aaa")
			val := []byte("1")
			require.NoError(t, s.Put(key, val))
			key[0], val[0] = 'z', '9'

			gone := []byte("bbb")
			require.NoError(t, s.Put(gone, []byte("2")))
			require.NoError(t, s.Commit(ctx))
			require.NoError(t, s.Delete(gone))
			gone[0] = 'y'
			require.NoError(t, s.Commit(ctx))

			v, err := s.Get(ctx, []byte("aaa"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), v)
			_, err = s.Get(ctx, []byte("zaa"))
			require.ErrorIs(t, err, ErrNotFound)
			_, err = s.Get(ctx, []byte("bbb"))
			require.ErrorIs(t, err, ErrNotFound)
			require.Equal(t, RootOf([]Entry{{Key: []byte("aaa"), Value: []byte("1")}}), s.Hash())
		})
	}
}

func TestEngineRootsAgree(t *testing.T) {
	ctx := context.Background()
	var roots [][]byte
	for _, f := range engines() {
		s := openStore(t, f.open(t))
		require.NoError(t, s.Put([]byte("b"), []byte("2")))
		require.NoError(t, s.Put([]byte("a"), []byte("1")))
		require.NoError(t, s.Commit(ctx))
		require.NoError(t, s.Put([]byte("c"), []byte("3")))
		require.NoError(t, s.Put([]byte("e"), nil))
		require.NoError(t, s.Commit(ctx))
		roots = append(roots, s.Hash())
	}
	require.Equal(t, roots[0], roots[1])

	want := RootOf([]Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
		{Key: []byte("e"), Value: []byte{}},
	})
	require.Equal(t, want, roots[0])
}

func TestRootDependsOnContent(t *testing.T) {
	a := RootOf([]Entry{{Key: []byte("ab"), Value: []byte("c")}})
	b := RootOf([]Entry{{Key: []byte("a"), Value: []byte("bc")}})
	require.NotEqual(t, a, b)
	require.Len(t, RootOf(nil), 32)
	require.NotEqual(t, RootOf(nil), a)

	three := []Entry{
		{Key: []byte("1"), Value: []byte("x")},
		{Key: []byte("2"), Value: []byte("x")},
		{Key: []byte("3"), Value: []byte("x")},
	}
	require.NotEqual(t, RootOf(three[:2]), RootOf(three))
}

func collect(t *testing.T, s *Store, start, end Bound, dir Direction) []string {
	t.Helper()
	var keys []string
	err := s.Range(context.Background(), start, end, dir, func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	require.NoError(t, err)
	return keys
}

func TestRange(t *testing.T) {
	ctx := context.Background()
	for _, f := range engines() {
		t.Run(f.name, func(t *testing.T) {
			s := openStore(t, f.open(t))
			for _, k := range []string{"d", "a", "c", "b", "e"} {
				require.NoError(t, s.Put([]byte(k), []byte("v"+k)))
			}
			require.NoError(t, s.Commit(ctx))

			require.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(t, s, Unbounded(), Unbounded(), Forward))
			require.Equal(t, []string{"e", "d", "c", "b", "a"}, collect(t, s, Unbounded(), Unbounded(), Reverse))
			require.Equal(t, []string{"b", "c", "d"}, collect(t, s, Included([]byte("b")), Included([]byte("d")), Forward))
			require.Equal(t, []string{"c"}, collect(t, s, Excluded([]byte("b")), Excluded([]byte("d")), Forward))
			require.Equal(t, []string{"d", "c"}, collect(t, s, Excluded([]byte("b")), Included([]byte("d")), Reverse))
			require.Empty(t, collect(t, s, Included([]byte("x")), Unbounded(), Forward))

			var seen int
			err := s.Range(ctx, Unbounded(), Unbounded(), Forward, func(_, _ []byte) error {
				seen++
				if seen == 2 {
					return ErrStop
				}
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 2, seen)

			boom := errors.New("boom")
			err = s.Range(ctx, Unbounded(), Unbounded(), Forward, func(_, _ []byte) error { return boom })
			require.ErrorIs(t, err, boom)
		})
	}
}

func TestCheckSorted(t *testing.T) {
	require.NoError(t, CheckSorted(nil))
	require.NoError(t, CheckSorted([]Entry{{Key: []byte("a")}, {Key: []byte("b")}}))
	require.ErrorIs(t, CheckSorted([]Entry{{Key: []byte("b")}, {Key: []byte("a")}}), ErrUnsorted)
	require.ErrorIs(t, CheckSorted([]Entry{{Key: []byte("a")}, {Key: []byte("a")}}), ErrUnsorted)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	e, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	s := openStore(t, e)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Commit(ctx))
	root := s.Hash()
	require.NoError(t, s.Close())

	e, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	s = openStore(t, e)
	defer func() { _ = s.Close() }()
	require.Equal(t, root, s.Hash())
	v, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	id, err := s.RootID()
	require.NoError(t, err)
	require.True(t, id.Defined())
}
