// Package com contains common concurrency-safe containers.
package com

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Map defines a concurrent-safe map structure.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.Mutex
}

func NewMap[K comparable, V any]() Map[K, V] {
	return Map[K, V]{m: make(map[K]V, 10)}
}

func (m *Map[K, _]) Has(key K) bool { _, err := m.Find(key); return err == nil }
func (m *Map[_, _]) IsEmpty() bool  { return m.Len() == 0 }
func (m *Map[_, _]) Len() int       { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) }

func (m *Map[K, V]) Put(key K, v V)    { m.mu.Lock(); m.m[key] = v; m.mu.Unlock() }
func (m *Map[K, _]) RemoveByKey(key K) { m.mu.Lock(); delete(m.m, key); m.mu.Unlock() }

// Pop removes the value stored under the key and returns it.
func (m *Map[K, V]) Pop(key K) (v V, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = m.m[key]; ok {
		delete(m.m, key)
	}
	return
}

// Drain removes and returns every stored value.
func (m *Map[K, V]) Drain() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]V, 0, len(m.m))
	for k, v := range m.m {
		list = append(list, v)
		delete(m.m, k)
	}
	return list
}

// List returns a snapshot copy of the stored values.
func (m *Map[K, V]) List() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]V, 0, len(m.m))
	for _, v := range m.m {
		list = append(list, v)
	}
	return list
}

// Find searches for the value by a specified key value,
// returns ErrNotFound otherwise.
func (m *Map[K, V]) Find(key K) (v V, err error) {
	var empty K
	if key == empty {
		return v, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.m[key]; ok {
		return c, nil
	}
	return v, ErrNotFound
}

// FindBy searches the first value with the provided predicate function.
func (m *Map[K, V]) FindBy(fn func(v V) bool) (v V, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.m {
		if fn(w) {
			return w, nil
		}
	}
	return v, ErrNotFound
}

// ForEach processes every element with the provided callback function.
func (m *Map[K, V]) ForEach(fn func(v V)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.m {
		fn(w)
	}
}
