// Package connectivity tracks backend reachability and whether a sync
// cycle is currently running.
package connectivity

import (
	"sync"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
)

// Listener is notified of state transitions, in transition order.
// Listeners must not call back into the Monitor.
type Listener func(prev, next models.ConnectivityState)

// Monitor derives a ConnectivityState from raw reachability plus the
// scheduler's in-cycle flag.
type Monitor struct {
	mu        sync.Mutex
	reachable bool
	syncing   bool
	state     models.ConnectivityState
	// reconnects counts unreachable to reachable edges, including those
	// hidden behind the syncing state.
	reconnects uint64

	listeners map[int]Listener
	nextID    int

	// notifyMu serializes listener delivery so transitions arrive in order.
	notifyMu sync.Mutex
}

// NewMonitor creates a Monitor with the given initial reachability.
func NewMonitor(initialReachable bool) *Monitor {
	m := &Monitor{
		reachable: initialReachable,
		listeners: make(map[int]Listener),
	}
	m.state = m.derive()
	telemetry.SetOnline(initialReachable)
	return m
}

func (m *Monitor) derive() models.ConnectivityState {
	switch {
	case m.syncing:
		return models.ConnectivitySyncing
	case m.reachable:
		return models.ConnectivityOnline
	default:
		return models.ConnectivityOffline
	}
}

// State returns the current state.
func (m *Monitor) State() models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsReachable returns the raw platform reachability.
func (m *Monitor) IsReachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// SetReachable records a platform reachability signal. Repeating the
// current value is a no-op.
func (m *Monitor) SetReachable(reachable bool) {
	m.update(func() bool {
		if m.reachable == reachable {
			return false
		}
		m.reachable = reachable
		if reachable {
			m.reconnects++
		}
		return true
	})
	telemetry.SetOnline(reachable)
}

// Reconnects returns how many times reachability went from false to true.
func (m *Monitor) Reconnects() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// BeginSync marks a cycle as running.
func (m *Monitor) BeginSync() {
	m.update(func() bool {
		if m.syncing {
			return false
		}
		m.syncing = true
		return true
	})
}

// EndSync clears the running-cycle flag.
func (m *Monitor) EndSync() {
	m.update(func() bool {
		if !m.syncing {
			return false
		}
		m.syncing = false
		return true
	})
}

func (m *Monitor) update(fn func() bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if !fn() {
		m.mu.Unlock()
		return
	}
	prev := m.state
	next := m.derive()
	m.state = next
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	if prev == next {
		return
	}

	logging.Debug("Connectivity state changed", map[string]interface{}{
		"from": prev,
		"to":   next,
	})
	for _, l := range listeners {
		l(prev, next)
	}
}

// Subscribe registers l for state transitions and returns a function
// that removes it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
