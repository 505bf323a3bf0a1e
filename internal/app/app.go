// Package app wires every port the engine needs and runs the service until
// it is asked to shut down.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/gofer-hq/gofer/internal/config"
	"github.com/gofer-hq/gofer/internal/engine"
	"github.com/gofer-hq/gofer/internal/eventbus"
	"github.com/gofer-hq/gofer/internal/extension"
	"github.com/gofer-hq/gofer/internal/objectstore/bolt"
	"github.com/gofer-hq/gofer/internal/scheduler/docker"
	secretbolt "github.com/gofer-hq/gofer/internal/secretstore/bolt"
	"github.com/gofer-hq/gofer/internal/storage/sqlite"
)

// Run opens every storage backend, starts the scheduler, event bus, and
// extension supervisor, then serves the extension intake listener until ctx
// is cancelled. On shutdown it waits up to cfg.ShutdownGrace for the intake
// server to stop gracefully; in-flight runs are not waited for.
func Run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, err := sqlite.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("app: opening storage: %w", err)
	}
	defer db.Close()

	objects, err := bolt.New(cfg.ObjectStorePath)
	if err != nil {
		return fmt.Errorf("app: opening object store: %w", err)
	}
	defer objects.Close()

	secrets, err := secretbolt.New(cfg.SecretStorePath, []byte(cfg.EncryptionKey))
	if err != nil {
		return fmt.Errorf("app: opening secret store: %w", err)
	}
	defer secrets.Close()

	sched, err := docker.New(cfg.Docker.Prune, cfg.Docker.PruneInterval, log.With().Str("component", "scheduler").Logger())
	if err != nil {
		return fmt.Errorf("app: initializing docker scheduler: %w", err)
	}

	bus := eventbus.New(db, cfg.EventRetention(), log.With().Str("component", "eventbus").Logger())

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	go bus.Run(busCtx)

	extensions := extension.New(db, sched, secrets, bus, cfg.GoferHost, log.With().Str("component", "extension").Logger())

	eng := engine.New(db, sched, secrets, objects, bus, extensions, engine.Config{
		DefaultTaskTimeout:   cfg.TaskDefaultTimeout(),
		LogDir:               cfg.TaskLogDir,
		PollMinInterval:      100 * time.Millisecond,
		PollMaxInterval:      2 * time.Second,
		ObjectRetentionCount: cfg.ObjectRetentionCount,
		ObjectPruneInterval:  cfg.ObjectPruneInterval(),
	}, log.With().Str("component", "engine").Logger())

	extensions.SetTriggerFireHandler(eng.TriggerFireHandler())

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go eng.RunObjectPruner(pruneCtx)

	lis, err := net.Listen("tcp", cfg.GoferHost)
	if err != nil {
		return fmt.Errorf("app: listening on %s: %w", cfg.GoferHost, err)
	}

	server := extensions.NewServer()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.Serve(lis)
	}()

	log.Info().Str("address", cfg.GoferHost).Msg("extension intake listening")

	select {
	case <-ctx.Done():
		log.Info().Dur("grace_period", cfg.ShutdownGrace()).Msg("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("app: extension server: %w", err)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		server.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.ShutdownGrace()):
		log.Warn().Msg("shutdown grace period elapsed before server stopped cleanly")
	}

	return nil
}
