package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// Prober polls a backend health endpoint and feeds the result to a Monitor.
type Prober struct {
	monitor  *Monitor
	client   *http.Client
	url      string
	interval time.Duration
	done     chan struct{}
}

// NewProber creates a Prober that GETs url every interval. Each probe is
// bounded by timeout.
func NewProber(monitor *Monitor, url string, interval, timeout time.Duration) *Prober {
	return &Prober{
		monitor:  monitor,
		client:   &http.Client{Timeout: timeout},
		url:      url,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start probes immediately and then on every tick until ctx is cancelled.
// It should be called in a goroutine.
func (p *Prober) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		close(p.done)
	}()

	for {
		p.monitor.SetReachable(p.Probe(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (p *Prober) Wait() {
	<-p.done
}

// Probe performs a single health check. Any 2xx response counts as reachable.
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.check(ctx)
	if err != nil {
		logging.Debug("Backend unreachable", map[string]interface{}{
			"url":   p.url,
			"error": err.Error(),
		})
		return false
	}
	return true
}

func (p *Prober) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
