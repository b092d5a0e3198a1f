// Package keyindex keeps resting order keys in price-time priority.
//
// An Index stores only back-references (key plus sort fields); order data
// lives with the exchange state. Insert and remove are O(log n) on a B-tree.
package keyindex

import (
	"fmt"
	"iter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/btree"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
)

// Direction is the price ordering of an index.
type Direction int8

const (
	// Ascending puts the lowest price first (the sell side).
	Ascending Direction = iota
	// Descending puts the highest price first (the buy side).
	Descending
)

// Entry is the sort key of one resting order.
type Entry struct {
	Key         common.Hash
	Price       int64
	SubmittedAt int64 // unix millis
	Seq         uint64
}

type Index struct {
	dir  Direction
	tree *btree.BTreeG[Entry]
	keys map[common.Hash]Entry
}

func New(dir Direction) *Index {
	ix := &Index{
		dir:  dir,
		keys: make(map[common.Hash]Entry),
	}
	ix.tree = btree.NewBTreeG(ix.less)
	return ix
}

// less orders by price (per direction), then submission time, then sequence.
// The key is the final tiebreak so distinct orders never compare equal.
func (ix *Index) less(a, b Entry) bool {
	if a.Price != b.Price {
		if ix.dir == Descending {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	if a.SubmittedAt != b.SubmittedAt {
		return a.SubmittedAt < b.SubmittedAt
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.Key.Cmp(b.Key) < 0
}

func (ix *Index) Direction() Direction { return ix.dir }

func (ix *Index) Len() int { return ix.tree.Len() }

func (ix *Index) Insert(e Entry) error {
	if _, exists := ix.keys[e.Key]; exists {
		return fmt.Errorf("%w: order %s already indexed", errs.ErrDuplicateID, e.Key.Hex())
	}
	ix.tree.Set(e)
	ix.keys[e.Key] = e
	return nil
}

func (ix *Index) Contains(key common.Hash) bool {
	_, ok := ix.keys[key]
	return ok
}

func (ix *Index) Get(key common.Hash) (Entry, bool) {
	e, ok := ix.keys[key]
	return e, ok
}

func (ix *Index) Remove(key common.Hash) (Entry, error) {
	e, ok := ix.keys[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: order %s not indexed", errs.ErrNotFound, key.Hex())
	}
	ix.tree.Delete(e)
	delete(ix.keys, key)
	return e, nil
}

// At returns the entry at priority position pos (0 is best).
func (ix *Index) At(pos int) (Entry, bool) {
	if pos < 0 || pos >= ix.tree.Len() {
		return Entry{}, false
	}
	return ix.tree.GetAt(pos)
}

func (ix *Index) RemoveAt(pos int) (Entry, error) {
	if pos < 0 || pos >= ix.tree.Len() {
		return Entry{}, fmt.Errorf("%w: position %d out of range [0,%d)", errs.ErrNotFound, pos, ix.tree.Len())
	}
	e, _ := ix.tree.DeleteAt(pos)
	delete(ix.keys, e.Key)
	return e, nil
}

func (ix *Index) Best() (Entry, bool) {
	return ix.tree.Min()
}

// Front yields entries in priority order while accept returns true. A nil
// accept never stops early. Each step re-seeks past the previously yielded
// entry, so the caller may insert or remove entries between steps, and
// calling Front again restarts from the current best entry.
func (ix *Index) Front(accept func(Entry) bool) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		var last Entry
		started := false
		for {
			next, ok := ix.after(last, started)
			if !ok {
				return
			}
			if accept != nil && !accept(next) {
				return
			}
			if !yield(next) {
				return
			}
			last, started = next, true
		}
	}
}

func (ix *Index) after(prev Entry, started bool) (Entry, bool) {
	if !started {
		return ix.tree.Min()
	}
	var out Entry
	found := false
	ix.tree.Ascend(prev, func(item Entry) bool {
		if !ix.less(prev, item) {
			return true
		}
		out, found = item, true
		return false
	})
	return out, found
}

// Entries returns a priority-ordered copy of the index.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, ix.tree.Len())
	ix.tree.Scan(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}
