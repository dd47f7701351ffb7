package store

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const (
	leafDomain  = "omni:store:leaf:v1"
	nodeDomain  = "omni:store:node:v1"
	emptyDomain = "omni:store:empty:v1"
)

// tree accumulates leaf hashes in key order.
type tree struct {
	leaves [][]byte
}

func (t *tree) add(key, value []byte) {
	t.leaves = append(t.leaves, leafHash(key, value))
}

// root folds the leaves pairwise. An odd node at the end of a level is
// promoted unchanged.
func (t *tree) root() []byte {
	if len(t.leaves) == 0 {
		sum := sha3.Sum256([]byte(emptyDomain))
		return sum[:]
	}
	level := t.leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func leafHash(key, value []byte) []byte {
	h := sha3.New256()
	var n [4]byte
	_, _ = h.Write([]byte(leafDomain))
	_, _ = h.Write([]byte{0})
	binary.BigEndian.PutUint32(n[:], uint32(len(key)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(key)
	binary.BigEndian.PutUint32(n[:], uint32(len(value)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(value)
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha3.New256()
	_, _ = h.Write([]byte(nodeDomain))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(left)
	_, _ = h.Write(right)
	return h.Sum(nil)
}

// RootOf computes the root of entries, which must be in ascending key
// order. It matches Store.Hash for the same committed contents.
func RootOf(entries []Entry) []byte {
	var t tree
	for _, e := range entries {
		t.add(e.Key, e.Value)
	}
	return t.root()
}
