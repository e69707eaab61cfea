// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"sync"
)

// SharedCollection is a generic, thread-safe map keyed by caller-chosen ids.
type SharedCollection[K comparable, T any] struct {
	objectMap map[K]T
	sync.Mutex
}

func NewSharedCollection[K comparable, T any](capacity ...int) *SharedCollection[K, T] {
	var newObjMap map[K]T

	if len(capacity) > 0 {
		newObjMap = make(map[K]T, capacity[0])
	} else {
		newObjMap = make(map[K]T)
	}

	return &SharedCollection[K, T]{objectMap: newObjMap}
}

// AddIfAbsent stores obj under id unless something is already there.
// Returns the stored object and whether obj was the one added.
func (s *SharedCollection[K, T]) AddIfAbsent(id K, obj T) (T, bool) {
	s.Lock()
	defer s.Unlock()

	if existing, ok := s.objectMap[id]; ok {
		return existing, false
	}
	s.objectMap[id] = obj
	return obj, true
}

// RemoveIf deletes the entry for id when match reports true for it.
// Returns true if the object was removed
func (s *SharedCollection[K, T]) RemoveIf(id K, match func(T) bool) bool {
	s.Lock()
	defer s.Unlock()

	obj, exists := s.objectMap[id]
	if !exists || !match(obj) {
		return false
	}
	delete(s.objectMap, id)
	return true
}

func (s *SharedCollection[K, T]) Remove(id K) bool {
	return s.RemoveIf(id, func(T) bool { return true })
}

func (s *SharedCollection[K, T]) Get(id K) (T, bool) {
	s.Lock()
	defer s.Unlock()

	obj, found := s.objectMap[id]
	return obj, found
}

// Values returns a snapshot of the stored objects in no particular order.
func (s *SharedCollection[K, T]) Values() []T {
	s.Lock()
	defer s.Unlock()

	out := make([]T, 0, len(s.objectMap))
	for _, obj := range s.objectMap {
		out = append(out, obj)
	}
	return out
}

// ForEach calls callback on a snapshot, without holding the lock.
func (s *SharedCollection[K, T]) ForEach(callback func(id K, obj T)) {
	s.Lock()
	localCopy := make(map[K]T, len(s.objectMap))
	for id, obj := range s.objectMap {
		localCopy[id] = obj
	}
	s.Unlock()

	for id, obj := range localCopy {
		callback(id, obj)
	}
}

func (s *SharedCollection[K, T]) Has(id K) bool {
	s.Lock()
	defer s.Unlock()

	_, exists := s.objectMap[id]
	return exists
}

func (s *SharedCollection[K, T]) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.objectMap)
}
