// Package connection implements the admission control described in
// spec.md §4.7: a global connection ceiling and a per-IP ceiling,
// checked before any protocol handshake completes, released exactly
// once no matter how the connection ends.
//
// spec.md §4.7 and §9 call out a real bug fixed in v1.0.4: releasing
// the admission slot on HTTP-upgrade completion instead of on stream
// teardown leaked slots for the lifetime of every long-lived
// connection. Token ties the release to the *stream's* lifetime via
// sync.Once, so every exit path - normal close, error, panic, server
// shutdown - releases exactly once.
package connection

import (
	"errors"
	"sync"
)

// ErrAdmissionDenied is returned by Admit when a connection would
// exceed the global or the per-IP limit.
var ErrAdmissionDenied = errors.New("connection: admission denied")

// Manager holds the global and per-IP connection counters.
type Manager struct {
	mu             sync.Mutex
	total          int
	perIP          map[string]int
	maxConnections int
	perIPLimit     int
}

// NewManager creates a Manager enforcing the given limits. A limit of
// 0 means unlimited.
func NewManager(maxConnections, perIPLimit int) *Manager {
	return &Manager{
		perIP:          make(map[string]int),
		maxConnections: maxConnections,
		perIPLimit:     perIPLimit,
	}
}

// Token is a scoped admission handle. Release is idempotent and safe
// to call from a defer, an error path, or a panic recovery - exactly
// once, regardless of how many times it's invoked.
type Token struct {
	once sync.Once
	m    *Manager
	ip   string
}

// Release gives back the admission slot this token holds. Safe to
// call multiple times or concurrently; only the first call has an
// effect.
func (t *Token) Release() {
	t.once.Do(func() {
		t.m.release(t.ip)
	})
}

// Admit checks, in order, the global limit then the per-IP limit
// (spec.md §4.7), and on success returns a Token the caller must
// Release when the connection's stream truly ends.
func (m *Manager) Admit(ip string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxConnections > 0 && m.total >= m.maxConnections {
		return nil, ErrAdmissionDenied
	}

	if m.perIPLimit > 0 && m.perIP[ip] >= m.perIPLimit {
		return nil, ErrAdmissionDenied
	}

	m.total++
	m.perIP[ip]++

	return &Token{m: m, ip: ip}, nil
}

func (m *Manager) release(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.total > 0 {
		m.total--
	}

	if m.perIP[ip] > 0 {
		m.perIP[ip]--
	}

	// Bound the per-IP map's memory: spec.md §5 requires removing a
	// key once its count returns to zero.
	if m.perIP[ip] == 0 {
		delete(m.perIP, ip)
	}
}

// Total returns the current global connection count.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.total
}

// PerIP returns the current connection count for one IP.
func (m *Manager) PerIP(ip string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.perIP[ip]
}
