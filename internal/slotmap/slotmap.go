// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package slotmap implements a generation-tagged slot map.
//
// Keys pack a slot index and a generation into a single uint64. Removing a
// value bumps the generation of its slot, so a key held past removal (a
// "dangling" key) never resolves to whichever value later reuses the slot.
// The zero Key is never issued.
package slotmap

import (
	"fmt"
)

// Key addresses a value in a Map. The high 32 bits are the slot index, the
// low 32 bits the generation (always non-zero for issued keys).
type Key uint64

// Map is a generation-tagged slot map. It is not safe for concurrent use.
type Map[V any] struct {
	slots []slot[V]
	free  []uint32
	len   int
}

type slot[V any] struct {
	value    V
	gen      uint32
	occupied bool
}

// NewKey packs an index and generation.
func NewKey(index, generation uint32) Key {
	return Key(uint64(index)<<32 | uint64(generation))
}

// Index returns the slot index.
func (k Key) Index() uint32 { return uint32(k >> 32) }

// Generation returns the generation the key was issued with.
func (k Key) Generation() uint32 { return uint32(k) }

// IsZero reports whether k is the zero key, which never refers to a value.
func (k Key) IsZero() bool { return k == 0 }

func (k Key) String() string {
	return fmt.Sprintf(`%d:%d`, k.Index(), k.Generation())
}

// New returns an empty map.
func New[V any]() *Map[V] {
	return &Map[V]{}
}

// Len returns the number of live values.
func (x *Map[V]) Len() int { return x.len }

// Insert stores v in a free slot, reusing released slots before growing.
func (x *Map[V]) Insert(v V) Key {
	var index uint32
	if n := len(x.free); n != 0 {
		index = x.free[n-1]
		x.free = x.free[:n-1]
	} else {
		if uint64(len(x.slots)) > uint64(^uint32(0)) {
			panic(`slotmap: capacity exceeded`)
		}
		index = uint32(len(x.slots))
		x.slots = append(x.slots, slot[V]{gen: 1})
	}
	s := &x.slots[index]
	s.value = v
	s.occupied = true
	x.len++
	return NewKey(index, s.gen)
}

func (x *Map[V]) lookup(k Key) *slot[V] {
	if k.IsZero() {
		return nil
	}
	index := k.Index()
	if uint64(index) >= uint64(len(x.slots)) {
		return nil
	}
	s := &x.slots[index]
	if !s.occupied || s.gen != k.Generation() {
		return nil
	}
	return s
}

// Get returns the value for k, if k is live.
func (x *Map[V]) Get(k Key) (v V, ok bool) {
	if s := x.lookup(k); s != nil {
		return s.value, true
	}
	return
}

// Contains reports whether k is live.
func (x *Map[V]) Contains(k Key) bool { return x.lookup(k) != nil }

// Set replaces the value for a live key, returning false if k is dangling.
func (x *Map[V]) Set(k Key, v V) bool {
	s := x.lookup(k)
	if s == nil {
		return false
	}
	s.value = v
	return true
}

// Remove releases the slot for k, bumping its generation.
func (x *Map[V]) Remove(k Key) (v V, ok bool) {
	s := x.lookup(k)
	if s == nil {
		return
	}
	v, ok = s.value, true
	x.release(k.Index(), s)
	return
}

func (x *Map[V]) release(index uint32, s *slot[V]) {
	var zero V
	s.value = zero
	s.occupied = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	x.free = append(x.free, index)
	x.len--
}

// Range calls fn for each live value in slot order, stopping early if fn
// returns false. Values removed by fn during iteration are skipped.
func (x *Map[V]) Range(fn func(k Key, v V) bool) {
	for i := range x.slots {
		s := &x.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(NewKey(uint32(i), s.gen), s.value) {
			return
		}
	}
}

// Keys returns a snapshot of every live key in slot order.
func (x *Map[V]) Keys() []Key {
	keys := make([]Key, 0, x.len)
	x.Range(func(k Key, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Clear releases every live slot, invalidating all outstanding keys.
func (x *Map[V]) Clear() {
	for i := range x.slots {
		if s := &x.slots[i]; s.occupied {
			x.release(uint32(i), s)
		}
	}
}
