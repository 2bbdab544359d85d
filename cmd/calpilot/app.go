package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/ai"
	"github.com/hray3182/calpilot/internal/config"
	"github.com/hray3182/calpilot/internal/database"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/metrics"
	"github.com/hray3182/calpilot/internal/repository"
	"github.com/hray3182/calpilot/internal/scheduler"
	"github.com/hray3182/calpilot/internal/session"
	"github.com/hray3182/calpilot/internal/skills"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/hray3182/calpilot/internal/tools"
)

// app holds everything the commands share.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	loc     *time.Location
	store   store.Store
	marker  scheduler.Marker
	metrics *metrics.Metrics

	agent    *agent.Agent
	sessions *session.Manager

	db *database.DB
}

// newApp loads config and wires the store, registries and agent. Commands
// that talk to the model pass needModel; the others get an agent whose
// direct tool and skill calls still work.
func newApp(ctx context.Context, needModel bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Logs go to stderr so stdout stays free for MCP and exports.
	logger := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	work, err := cfg.WorkHours()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, loc: loc, metrics: metrics.New()}

	if cfg.DatabaseURI != "" {
		db, err := database.New(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("connected to database")
		repo := repository.NewEventRepository(db)
		a.db, a.store, a.marker = db, repo, repo
	} else {
		logger.Warn("DATABASE_URI not set, events are kept in memory")
		a.store, a.marker = store.NewMemory(), scheduler.NewMemoryMarker()
	}

	var model ai.Model
	if cfg.AIAPIKey != "" {
		model = ai.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, ai.WithStream(cfg.AIStream))
		logger.Info("AI client initialized", slog.String("model", cfg.AIModel))
	} else if needModel {
		a.Close()
		return nil, errors.New("AI_API_KEY is required")
	}

	toolReg := tools.NewDefault(tools.WithLogger(logger), tools.WithMetrics(a.metrics))
	skillReg := skills.NewDefault(toolReg, skills.WithLogger(logger), skills.WithMetrics(a.metrics))
	a.agent = agent.New(model, toolReg, skillReg, a.store,
		agent.WithMaxRounds(cfg.MaxRounds),
		agent.WithModelTimeout(cfg.ModelTimeout),
		agent.WithLocation(loc),
		agent.WithWorkHours(work),
		agent.WithLogger(logger),
		agent.WithMetrics(a.metrics),
	)
	a.sessions = session.NewManager(cfg.SessionTTL)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// sweepSessions evicts idle sessions until ctx is canceled.
func (a *app) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SessionTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Sweep(); n > 0 {
				a.logger.Debug("evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}
