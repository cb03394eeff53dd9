package limiter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	fails        int
	firstFail    time.Time
	blockedUntil time.Time
}

// sweepAt is the table size at which stale entries are dropped.
const sweepAt = 10000

// Memory is an in-process Limiter. State is lost on restart and is not
// shared between replicas.
type Memory struct {
	s   Settings
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(s Settings) *Memory {
	return &Memory{s: s.withDefaults(), now: time.Now, entries: map[string]*entry{}}
}

func key(username string, ipHash []byte) string { return username + "\x00" + string(ipHash) }

// Allow reports whether (username, ip) may attempt a login now.
func (m *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(username, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets earlier failures.
func (m *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	m.mu.Lock()
	delete(m.entries, key(username, ipHash))
	m.mu.Unlock()
	return nil
}

// Failure counts a failed attempt and blocks once MaxFails is reached within Window.
func (m *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.entries) >= sweepAt {
		m.sweep(now)
	}
	k := key(username, ipHash)
	e, ok := m.entries[k]
	if !ok || now.Sub(e.firstFail) > m.s.Window {
		e = &entry{firstFail: now}
		m.entries[k] = e
	}
	e.fails++
	if e.fails >= m.s.MaxFails {
		e.blockedUntil = now.Add(m.s.BlockFor)
		e.fails, e.firstFail = 0, now
		return true, m.s.BlockFor, nil
	}
	return false, 0, nil
}

func (m *Memory) sweep(now time.Time) {
	for k, e := range m.entries {
		if !e.blockedUntil.After(now) && now.Sub(e.firstFail) > m.s.Window {
			delete(m.entries, k)
		}
	}
}
