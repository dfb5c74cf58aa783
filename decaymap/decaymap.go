// Package decaymap is a typed in-memory map where every entry has an expiry.
// Expired entries are dropped lazily: a Get past the deadline deletes the
// entry, and Cleanup sweeps the whole map under one lock.
package decaymap

import (
	"sync"
	"time"
)

// Zilch returns the zero value of any type.
func Zilch[T any]() T {
	var zero T
	return zero
}

type entry[V any] struct {
	value  V
	expiry time.Time
}

type Impl[K comparable, V any] struct {
	lock sync.Mutex
	data map[K]entry[V]
	now  func() time.Time
}

func New[K comparable, V any]() *Impl[K, V] {
	return &Impl[K, V]{
		data: map[K]entry[V]{},
		now:  time.Now,
	}
}

func (m *Impl[K, V]) expired(e entry[V]) bool {
	return !e.expiry.After(m.now())
}

// Get fetches the value for key if it exists and has not expired.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.data[key]
	if !ok {
		return Zilch[V](), false
	}

	if m.expired(e) {
		delete(m.data, key)
		return Zilch[V](), false
	}

	return e.value, true
}

// Take fetches like Get but also removes the entry, so a value can be
// consumed exactly once.
func (m *Impl[K, V]) Take(key K) (V, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.data[key]
	if !ok {
		return Zilch[V](), false
	}

	delete(m.data, key)

	if m.expired(e) {
		return Zilch[V](), false
	}

	return e.value, true
}

// Set stores value under key for ttl.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data[key] = entry[V]{
		value:  value,
		expiry: m.now().Add(ttl),
	}
}

// Delete removes key, reporting whether it was present.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.data[key]
	delete(m.data, key)
	return ok
}

// Cleanup removes every expired entry.
func (m *Impl[K, V]) Cleanup() {
	m.lock.Lock()
	defer m.lock.Unlock()

	for key, e := range m.data {
		if m.expired(e) {
			delete(m.data, key)
		}
	}
}

// Len reports the number of entries, expired or not.
func (m *Impl[K, V]) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.data)
}
