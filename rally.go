// Package rally is the top-level runtime of the game server. An App wires the
// config, storage, messaging hub, registries, and HTTP transport together and
// owns their lifecycle.
package rally

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/gamestage"
	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/server"
	"github.com/arenalabs/rally/statsd"
	"github.com/arenalabs/rally/storage"
	redisstorage "github.com/arenalabs/rally/storage/redis"
	"github.com/arenalabs/rally/tournament"
)

// App lifecycle stages.
const (
	StagePreStart     gamestage.Stage = "PreStart"
	StageStarting     gamestage.Stage = "Starting"
	StageRunning      gamestage.Stage = "Running"
	StageShuttingDown gamestage.Stage = "ShuttingDown"
	StageShutDown     gamestage.Stage = "ShutDown"
)

// App is the assembled game server. Construct with New, run with Start, stop
// with Shutdown (or SIGINT/SIGTERM).
type App struct {
	cfg   RallyConfig
	stage gamestage.Atomic

	store       storage.Store
	hub         *events.Hub
	matches     *match.Registry
	tournaments *tournament.Registry
	server      *server.Server

	serveCtx     context.Context
	serveCancel  context.CancelFunc
	serveDone    chan struct{}
	shutdownDone chan struct{}
}

// New loads the environment config and wires every component. Options run
// after the config load, so tests can swap collaborators in.
func New(opts ...Option) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.applyLogLevel()

	app := &App{
		cfg:          cfg,
		stage:        gamestage.NewAtomic(StagePreStart),
		serveDone:    make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.cfg.StatsdAddress != "" {
		if err := statsd.Init(app.cfg.StatsdAddress, nil); err != nil {
			log.Warn().Err(err).Msg("statsd disabled")
		}
	}
	if app.store == nil {
		app.store = redisstorage.NewStorage(redisstorage.Options{
			Addr:     app.cfg.RedisAddress,
			Password: app.cfg.RedisPassword,
		}, app.cfg.RallyNamespace)
	}

	app.hub = events.NewHub()
	app.matches = match.NewRegistry()
	app.tournaments = tournament.NewRegistry(app.hub, app.store, app.matches)

	app.server, err = server.New(app.hub, app.matches, app.tournaments, server.WithPort(app.cfg.RallyPort))
	if err != nil {
		return nil, err
	}

	app.serveCtx, app.serveCancel = context.WithCancel(context.Background())
	return app, nil
}

// Start serves the app and blocks until Shutdown is called or a termination
// signal arrives.
func (a *App) Start() error {
	if !a.stage.CompareAndSwap(StagePreStart, StageStarting) {
		return eris.Errorf("cannot start from stage %s", a.stage.Load())
	}
	log.Info().
		Str("namespace", a.cfg.RallyNamespace).
		Str("port", a.cfg.RallyPort).
		Msg("starting rally")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-signals
		if !ok {
			return
		}
		log.Info().Msgf("received %s, shutting down", sig)
		if err := a.Shutdown(); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()
	defer func() {
		signal.Stop(signals)
		close(signals)
	}()

	a.stage.CompareAndSwap(StageStarting, StageRunning)
	err := a.server.Serve(a.serveCtx)
	close(a.serveDone)

	// A Serve return without Shutdown having run means the listener died;
	// tear the rest down anyway.
	if a.stage.CompareAndSwap(StageRunning, StageShuttingDown) {
		a.teardown()
	}
	<-a.shutdownDone
	return err
}

// Shutdown stops the transport, cancels every live tournament, and closes
// the hub and storage. Safe to call once; later calls report the stage
// mismatch.
func (a *App) Shutdown() error {
	if !a.stage.CompareAndSwap(StageRunning, StageShuttingDown) {
		return eris.Errorf("cannot shut down from stage %s", a.stage.Load())
	}
	a.serveCancel()
	<-a.serveDone
	a.teardown()
	return nil
}

func (a *App) teardown() {
	a.tournaments.Shutdown()
	a.hub.Shutdown()
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close storage")
	}
	a.stage.Store(StageShutDown)
	close(a.shutdownDone)
	log.Info().Msg("rally shut down")
}

// Stage reports the app's lifecycle stage.
func (a *App) Stage() gamestage.Stage {
	return a.stage.Load()
}
