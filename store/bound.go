package store

import "bytes"

// Direction orders iteration.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

type boundKind uint8

const (
	boundUnbounded boundKind = iota
	boundIncluded
	boundExcluded
)

// Bound is one end of a key range.
type Bound struct {
	kind boundKind
	key  []byte
}

func Unbounded() Bound          { return Bound{} }
func Included(key []byte) Bound { return Bound{kind: boundIncluded, key: key} }
func Excluded(key []byte) Bound { return Bound{kind: boundExcluded, key: key} }

// Key returns the bound key and whether the bound is limited.
func (b Bound) Key() ([]byte, bool) { return b.key, b.kind != boundUnbounded }

// Inclusive reports whether the bound key itself is in range.
func (b Bound) Inclusive() bool { return b.kind == boundIncluded }

// aboveStart reports whether key is at or past a start bound.
func (b Bound) aboveStart(key []byte) bool {
	switch b.kind {
	case boundIncluded:
		return bytes.Compare(key, b.key) >= 0
	case boundExcluded:
		return bytes.Compare(key, b.key) > 0
	default:
		return true
	}
}

// belowEnd reports whether key is at or before an end bound.
func (b Bound) belowEnd(key []byte) bool {
	switch b.kind {
	case boundIncluded:
		return bytes.Compare(key, b.key) <= 0
	case boundExcluded:
		return bytes.Compare(key, b.key) < 0
	default:
		return true
	}
}

// Contains reports whether key lies within [start, end].
func Contains(start, end Bound, key []byte) bool {
	return start.aboveStart(key) && end.belowEnd(key)
}
