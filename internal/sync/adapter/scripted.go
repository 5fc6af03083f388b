package adapter

import (
	"context"
	"sync"
	"time"
)

// ScriptedAdapter is a deterministic Adapter for tests and demos. Each
// call pops the next scripted outcome for the entity, falling back to the
// default outcome once the script is exhausted.
type ScriptedAdapter struct {
	mu       sync.Mutex
	scripts  map[string][]Outcome
	fallback Outcome
	err      error
	delay    time.Duration
	calls    []Request

	inFlight    int
	maxInFlight int
}

// NewScriptedAdapter returns an adapter that answers fallback to every call.
func NewScriptedAdapter(fallback Outcome) *ScriptedAdapter {
	return &ScriptedAdapter{
		scripts:  make(map[string][]Outcome),
		fallback: fallback,
	}
}

// Script queues outcomes for an entity key such as "visit/V1".
func (s *ScriptedAdapter) Script(entityKey string, outcomes ...Outcome) *ScriptedAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[entityKey] = append(s.scripts[entityKey], outcomes...)
	return s
}

// SetDefault replaces the fallback outcome.
func (s *ScriptedAdapter) SetDefault(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = o
}

// SetError makes every call fail with err. Pass nil to clear.
func (s *ScriptedAdapter) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetDelay makes each call block for d or until ctx is done.
func (s *ScriptedAdapter) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Apply implements Adapter.
func (s *ScriptedAdapter) Apply(ctx context.Context, req Request) (Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	key := req.EntityKey()
	if script := s.scripts[key]; len(script) > 0 {
		s.scripts[key] = script[1:]
		return script[0], nil
	}
	return s.fallback, nil
}

// Calls returns every request received so far, in call order.
func (s *ScriptedAdapter) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns the number of calls received.
func (s *ScriptedAdapter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// MaxConcurrent reports the highest number of overlapping calls observed.
func (s *ScriptedAdapter) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}
