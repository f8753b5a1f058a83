package revwatch

import (
	"github.com/rs/zerolog"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/core/config"
	"github.com/colonyops/revwatch/internal/core/git"
	"github.com/colonyops/revwatch/internal/core/logging"
	"github.com/colonyops/revwatch/internal/data/db"
	"github.com/colonyops/revwatch/internal/data/stores"
	"github.com/colonyops/revwatch/internal/watch"
	"github.com/colonyops/revwatch/pkg/executil"
)

// App is the central entry point for all revwatch operations.
// Commands and the HTTP server consume App instead of cherry-picking raw
// dependencies.
type App struct {
	Reviews *ReviewService
	Hub     *broadcast.Hub
	Config  *config.Config
	DB      *db.DB
}

// NewApp wires the review service onto an open database.
func NewApp(log zerolog.Logger, cfg *config.Config, database *db.DB) *App {
	gitProvider := git.NewExecutor(cfg.GitPath, &executil.RealExecutor{})
	hub := broadcast.NewHub(
		logging.Sub(log, "broadcast"),
		broadcast.WithHeartbeatInterval(cfg.Broadcast.HeartbeatInterval),
	)

	reviews := NewReviewService(log, gitProvider, Stores{
		Repos:     stores.NewRepoStore(database),
		Sessions:  stores.NewSessionStore(database),
		Snapshots: stores.NewSnapshotStore(database),
		Comments:  stores.NewCommentStore(database),
	}, hub, watch.Options{
		Debounce: cfg.Watch.Debounce,
		MinGap:   cfg.Watch.MinGap,
		Ignore:   cfg.Watch.Ignore,
	})

	return &App{
		Reviews: reviews,
		Hub:     hub,
		Config:  cfg,
		DB:      database,
	}
}
