package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

type transition struct {
	prev, next models.ConnectivityState
}

func record(m *Monitor) (*[]transition, *sync.Mutex) {
	var (
		mu  sync.Mutex
		got []transition
	)
	m.Subscribe(func(prev, next models.ConnectivityState) {
		mu.Lock()
		got = append(got, transition{prev, next})
		mu.Unlock()
	})
	return &got, &mu
}

// =====================================================
// Monitor
// =====================================================

func TestNewMonitor_initialState(t *testing.T) {
	assert.Equal(t, models.ConnectivityOnline, NewMonitor(true).State())
	assert.Equal(t, models.ConnectivityOffline, NewMonitor(false).State())
}

func TestSetReachable_repeatsAreNoOps(t *testing.T) {
	m := NewMonitor(false)
	got, _ := record(m)

	m.SetReachable(false)
	m.SetReachable(true)
	m.SetReachable(true)
	m.SetReachable(false)

	assert.Equal(t, []transition{
		{models.ConnectivityOffline, models.ConnectivityOnline},
		{models.ConnectivityOnline, models.ConnectivityOffline},
	}, *got)
}

func TestSyncing_overridesReachability(t *testing.T) {
	m := NewMonitor(true)
	got, _ := record(m)

	m.BeginSync()
	assert.Equal(t, models.ConnectivitySyncing, m.State())

	// Reachability changes are tracked but hidden while syncing.
	m.SetReachable(false)
	assert.Equal(t, models.ConnectivitySyncing, m.State())
	assert.False(t, m.IsReachable())

	m.EndSync()
	assert.Equal(t, models.ConnectivityOffline, m.State())

	assert.Equal(t, []transition{
		{models.ConnectivityOnline, models.ConnectivitySyncing},
		{models.ConnectivitySyncing, models.ConnectivityOffline},
	}, *got)
}

func TestReconnects_countsEdgesWhileSyncing(t *testing.T) {
	m := NewMonitor(true)
	assert.Equal(t, uint64(0), m.Reconnects())

	m.BeginSync()
	m.SetReachable(false)
	m.SetReachable(true)
	m.SetReachable(true)
	m.EndSync()

	assert.Equal(t, uint64(1), m.Reconnects())
	assert.Equal(t, models.ConnectivityOnline, m.State())
}

func TestBeginEndSync_idempotent(t *testing.T) {
	m := NewMonitor(true)
	got, _ := record(m)

	m.BeginSync()
	m.BeginSync()
	m.EndSync()
	m.EndSync()

	assert.Len(t, *got, 2)
}

func TestSubscribe_unsubscribe(t *testing.T) {
	m := NewMonitor(false)
	var calls atomic.Int32
	unsubscribe := m.Subscribe(func(prev, next models.ConnectivityState) { calls.Add(1) })

	m.SetReachable(true)
	unsubscribe()
	unsubscribe()
	m.SetReachable(false)

	assert.Equal(t, int32(1), calls.Load())
}

// =====================================================
// Prober
// =====================================================

func TestProbe_statusMapping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewProber(NewMonitor(false), srv.URL, time.Hour, time.Second)
	assert.True(t, p.Probe(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, p.Probe(context.Background()))
}

func TestProbe_unreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProber(NewMonitor(true), url, time.Hour, 200*time.Millisecond)
	assert.False(t, p.Probe(context.Background()))
}

func TestProber_feedsMonitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(m, srv.URL, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Start(ctx)

	require.Eventually(t, m.IsReachable, time.Second, 5*time.Millisecond)
	cancel()
	p.Wait()
}
