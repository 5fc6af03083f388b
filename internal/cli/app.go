package cli

import (
	"context"
	"strings"

	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	syncengine "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/adapter"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/outbox"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/scheduler"
)

// app wires the engine to its storage, adapter and prober for one command.
type app struct {
	engine   *syncengine.Engine
	prober   *connectivity.Prober
	database *db.DB
	history  *db.ConflictLogRepository
}

// openApp builds the engine described by the loaded configuration.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := opts.config
	a := &app{}

	deps := syncengine.Dependencies{
		Adapter: adapter.NewHTTPAdapter(&adapter.HTTPConfig{
			BaseURL: cfg.Backend.BaseURL,
			Token:   cfg.Backend.Token,
			Timeout: cfg.Sync.UploadTimeout,
		}),
	}

	if opts.Ephemeral {
		deps.Documents = outbox.NewMemoryDocumentStore()
	} else {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to open database", err)
		}
		a.database = database
		a.history = db.NewConflictLogRepository(database)
		deps.Documents = db.NewDocumentStore(database)
		deps.ConflictLog = a.history
	}

	a.engine = syncengine.NewEngine(ctx, deps, engineConfig(cfg))
	a.prober = connectivity.NewProber(
		a.engine.Monitor(),
		healthURL(cfg.Backend),
		cfg.Connectivity.ProbeInterval,
		cfg.Connectivity.ProbeTimeout,
	)
	return a, nil
}

// start probes the backend once unless offline, then starts the engine.
func (a *app) start(ctx context.Context, offline bool) {
	if !offline {
		a.engine.SetOnline(a.prober.Probe(ctx))
	}
	a.engine.Start(ctx)
}

// close waits for a running cycle and releases the database.
func (a *app) close() {
	a.engine.Stop()
	if a.database != nil {
		a.database.Close()
	}
}

func engineConfig(cfg config.Config) *syncengine.Config {
	sc := scheduler.DefaultSchedulerConfig()
	sc.SettleDelay = cfg.Sync.SettleDelay
	sc.GracePeriod = cfg.Sync.GracePeriod
	sc.UploadTimeout = cfg.Sync.UploadTimeout
	sc.BackoffBase = cfg.Sync.BackoffBase
	sc.BackoffMax = cfg.Sync.BackoffMax

	return &syncengine.Config{
		Scheduler:          sc,
		DefaultMaxAttempts: cfg.Sync.DefaultMaxAttempts,
	}
}

func healthURL(b config.BackendConfig) string {
	path := b.HealthPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(b.BaseURL, "/") + path
}
