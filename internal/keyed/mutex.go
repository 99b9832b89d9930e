// Package keyed provides mutual exclusion scoped to a string key.
package keyed

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Mutex serializes callers that share a key while letting different keys
// proceed in parallel. Entries are dropped once no caller holds or waits on
// them. The zero value is ready to use.
type Mutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock blocks until the caller holds key and returns the matching unlock
// function.
func (m *Mutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

// size returns the number of keys currently held or waited on.
func (m *Mutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
