// Package util
//
// This file provides a keyed priority queue used to expire per-id protocol state.
//
// The MapHeap combines a binary min-heap with a hash map:
//   - O(log n) Push, Pop and priority updates
//   - O(1) lookup and existence checks by key
//   - O(log n) removal by key
//
// The connection uses it twice: assemblers are keyed by correlation id with their
// last activity as priority (the oldest idle assembler is at the top), and cancelled
// ids are kept as tombstones with their expiry time as priority.
//
// MapHeap is not thread-safe, callers must synchronize access.
//
// Example usage:
//
//	idle := NewMapHeap[uuid.UUID]()
//	idle.AddItem(id, time.Now().UnixNano()) // insert or touch
//	for {
//	    key, prio, ok := idle.Peek()
//	    if !ok || prio > cutoff {
//	        break
//	    }
//	    idle.RemoveByKey(key)
//	}
package util

import (
	"container/heap"
	"fmt"
)

// entry is one element of the heap
type entry[K comparable] struct {
	Key      K
	Priority int64
	index    int // maintained by the heap functions
}

func (e *entry[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", e.Key, e.Priority)
}

// MapHeap is a min-heap of keys ordered by priority with key based access
type MapHeap[K comparable] struct {
	h heapSlice[K]
	m map[K]*entry[K]
}

// NewMapHeap creates a new empty MapHeap
func NewMapHeap[K comparable]() *MapHeap[K] {
	mh := &MapHeap[K]{
		m: make(map[K]*entry[K]),
	}
	mh.h.owner = mh
	return mh
}

// Len returns the number of items
func (mh *MapHeap[K]) Len() int { return len(mh.h.items) }

// AddItem inserts a key or updates its priority if it is already present
func (mh *MapHeap[K]) AddItem(key K, priority int64) {
	if e, ok := mh.m[key]; ok {
		e.Priority = priority
		heap.Fix(&mh.h, e.index)
		return
	}
	heap.Push(&mh.h, &entry[K]{Key: key, Priority: priority})
}

// RemoveByKey removes a key and returns its priority
func (mh *MapHeap[K]) RemoveByKey(key K) (int64, bool) {
	e, ok := mh.m[key]
	if !ok {
		return 0, false
	}
	heap.Remove(&mh.h, e.index)
	return e.Priority, true
}

// Peek returns the key with the lowest priority without removing it
func (mh *MapHeap[K]) Peek() (K, int64, bool) {
	if len(mh.h.items) == 0 {
		var zero K
		return zero, 0, false
	}
	e := mh.h.items[0]
	return e.Key, e.Priority, true
}

// PopMin removes and returns the key with the lowest priority
func (mh *MapHeap[K]) PopMin() (K, int64, bool) {
	if len(mh.h.items) == 0 {
		var zero K
		return zero, 0, false
	}
	e := heap.Pop(&mh.h).(*entry[K])
	return e.Key, e.Priority, true
}

// PopExpired removes and returns all keys with a priority <= limit, lowest first
func (mh *MapHeap[K]) PopExpired(limit int64) []K {
	var keys []K
	for len(mh.h.items) > 0 && mh.h.items[0].Priority <= limit {
		e := heap.Pop(&mh.h).(*entry[K])
		keys = append(keys, e.Key)
	}
	return keys
}

// Contains checks if a key is present
func (mh *MapHeap[K]) Contains(key K) bool {
	_, ok := mh.m[key]
	return ok
}

// GetPriority returns the priority of a key
func (mh *MapHeap[K]) GetPriority(key K) (int64, bool) {
	e, ok := mh.m[key]
	if !ok {
		return 0, false
	}
	return e.Priority, true
}

// --------------------------------------------------------------------------
// heap.Interface implementation
// --------------------------------------------------------------------------

// heapSlice implements heap.Interface and keeps the owner's map in sync
type heapSlice[K comparable] struct {
	items []*entry[K]
	owner *MapHeap[K]
}

func (h *heapSlice[K]) Len() int { return len(h.items) }

func (h *heapSlice[K]) Less(i, j int) bool { return h.items[i].Priority < h.items[j].Priority }

func (h *heapSlice[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *heapSlice[K]) Push(x any) {
	e := x.(*entry[K])
	e.index = len(h.items)
	h.items = append(h.items, e)
	h.owner.m[e.Key] = e
}

func (h *heapSlice[K]) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // avoid memory leak
	e.index = -1
	h.items = old[:n-1]
	delete(h.owner.m, e.Key)
	return e
}
