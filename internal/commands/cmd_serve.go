package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/revwatch/internal/core/logging"
	"github.com/colonyops/revwatch/internal/revwatch"
	"github.com/colonyops/revwatch/internal/server"
)

type ServeCmd struct {
	flags *Flags
	app   *revwatch.App

	// flags
	addr     string
	noResume bool
	pprof    bool
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags, app *revwatch.App) *ServeCmd {
	return &ServeCmd{flags: flags, app: app}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the review API server",
		UsageText: "revwatch serve [--addr host:port] [--no-resume]",
		Description: `Starts the HTTP API used by review clients.

Clients subscribe to live session events at /api/sessions/{id}/events
(server-sent events) or /api/sessions/{id}/ws (websocket). Watches that
were active when the server last stopped are resumed unless --no-resume
is given.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (overrides server.addr)",
				Sources:     cli.EnvVars("REVWATCH_ADDR"),
				Destination: &cmd.addr,
			},
			&cli.BoolFlag{
				Name:        "no-resume",
				Usage:       "do not restart previously active watches",
				Destination: &cmd.noResume,
			},
			&cli.BoolFlag{
				Name:        "pprof",
				Usage:       "expose /debug/pprof endpoints",
				Sources:     cli.EnvVars("REVWATCH_PPROF"),
				Destination: &cmd.pprof,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.app.Config

	addr := cfg.Server.Addr
	if cmd.addr != "" {
		addr = cmd.addr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(logging.Component("server"), cmd.app, server.Options{
		Addr:  addr,
		Pprof: cfg.Server.Pprof || cmd.pprof,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.Root().Writer, "revwatch listening on http://%s\n", srv.Addr())

	if cfg.ResumeWatches() && !cmd.noResume {
		n, err := cmd.app.Reviews.ResumeWatches(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to resume watches")
		} else if n > 0 {
			log.Info().Int("sessions", n).Msg("resumed watches")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-srv.Err():
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()

		cmd.app.Reviews.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	})

	return g.Wait()
}
