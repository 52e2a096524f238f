package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"focusline/internal/config"
	"focusline/internal/connectivity"
	"focusline/internal/db"
	"focusline/internal/domain"
	"focusline/internal/events"
	"focusline/internal/insights"
	"focusline/internal/migrate"
	"focusline/internal/queue"
	"focusline/internal/remote"
	"focusline/internal/storage"
)

// EventQueueDiscarded is written whenever the offline queue drops an
// operation past its retry ceiling; the app's failed-operations counter
// reads it back.
const EventQueueDiscarded = "queue.operation.discarded"

// App wires the engine, queue, and their collaborators for one workspace.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Insights insights.Engine
	Queue    *queue.Queue
	Monitor  *connectivity.Monitor
	Remote   *remote.Client
	Events   events.Writer
	Log      *zap.Logger
}

// Open resolves workspace config (seeding defaults when no focusline.yml
// exists), runs migrations, and assembles the components.
func Open(ctx context.Context, workspace, appID string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := config.LoadOptional(workspace, appID)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	ev := events.Writer{DB: conn}
	client := remote.New(cfg.Remote.BaseURL)
	if cfg.Remote.TimeoutSeconds > 0 {
		client.Timeout = time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
	}

	q := queue.New(ctx, queue.Options{
		Store:       storage.NewSQLiteKV(conn),
		StorageKey:  cfg.Queue.StorageKey,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Execute:     client.Exec,
		Logger:      logger.Named("queue"),
		OnDiscard: func(op domain.QueuedOperation, cause error) {
			payload := events.EventPayload{
				"op":       op.Op,
				"attempts": op.Attempts,
				"error":    cause.Error(),
			}
			if err := ev.Append(context.Background(), EventQueueDiscarded, "operation", op.ID, payload); err != nil {
				logger.Warn("record discard event", zap.Error(err))
			}
		},
	})

	monitor := connectivity.New(connectivity.Options{
		Probe:    probeFor(cfg, client),
		Interval: time.Duration(cfg.Connectivity.ProbeIntervalSeconds) * time.Second,
		Logger:   logger.Named("connectivity"),
	})
	monitor.Subscribe(q.SetOnline)

	return &App{
		Config:   cfg,
		DB:       conn,
		Insights: insights.New(cfg),
		Queue:    q,
		Monitor:  monitor,
		Remote:   client,
		Events:   ev,
		Log:      logger,
	}, nil
}

func probeFor(cfg *config.Config, client *remote.Client) connectivity.Probe {
	if cfg.Remote.BaseURL == "" {
		return nil
	}
	return client.Health
}

func (a *App) Close() error {
	a.Monitor.Stop()
	return a.DB.Close()
}
