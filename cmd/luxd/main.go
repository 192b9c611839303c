package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/config"
	"github.com/udisondev/projectlux/internal/data"
	"github.com/udisondev/projectlux/internal/db"
	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/scheduler"
	"github.com/udisondev/projectlux/internal/tag"
)

const ConfigPath = "config/luxd.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("LUX_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("luxd starting", "log_level", cfg.LogLevel, "tick_interval", cfg.TickInterval)

	var catalog *data.Catalog
	if cfg.DataPath != "" {
		catalog, err = data.Load(cfg.DataPath, tag.Default())
	} else {
		catalog, err = data.LoadDefault(tag.Default())
	}
	if err != nil {
		return fmt.Errorf("loading definitions: %w", err)
	}

	noneMode, err := effect.ParseNoneMode(cfg.NoneStacking)
	if err != nil {
		return fmt.Errorf("none stacking mode: %w", err)
	}

	sched := scheduler.New(catalog,
		scheduler.WithNoneMode(noneMode),
		scheduler.WithTickWorkers(cfg.TickWorkers),
		scheduler.WithTransitionObserver(func(actorID string, tr ability.Transition) {
			slog.Debug("ability transition",
				"actor", actorID,
				"ability", tr.Ability,
				"from", tr.From,
				"to", tr.To)
		}),
	)

	var repo *db.ActorRepository
	if cfg.Database.Enabled {
		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		repo = database.Actors()

		n, err := restoreActors(ctx, sched, catalog, repo)
		if err != nil {
			return fmt.Errorf("restoring actors: %w", err)
		}
		slog.Info("restored actors", "count", n)
	}

	if len(sched.Actors()) == 0 {
		if err := spawnActors(sched, catalog, cfg.Actors); err != nil {
			return fmt.Errorf("spawning actors: %w", err)
		}
		slog.Info("spawned actors", "count", cfg.Actors)
	}

	loop := scheduler.NewLoop(sched, cfg.TickInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(loop.Run(gctx))
	})

	g.Go(func() error {
		slog.Info("starting demo driver")
		return ignoreCanceled(drive(gctx, sched, catalog, cfg.TickInterval))
	})

	if repo != nil {
		g.Go(func() error {
			slog.Info("starting snapshot writer", "interval", cfg.SnapshotInterval)
			return ignoreCanceled(persistEvery(gctx, sched, repo, cfg.SnapshotInterval))
		})
	}

	err = g.Wait()

	if repo != nil {
		// gctx is gone by now; the final save gets its own deadline.
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := saveAll(saveCtx, sched, repo); serr != nil {
			err = errors.Join(err, fmt.Errorf("final snapshot: %w", serr))
		}
	}

	slog.Info("luxd stopped")
	return err
}

func restoreActors(ctx context.Context, sched *scheduler.Scheduler, catalog *data.Catalog, repo *db.ActorRepository) (int, error) {
	ids, err := repo.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		saved, err := repo.Load(ctx, id)
		if err != nil {
			if errors.Is(err, db.ErrSnapshotCorrupt) {
				slog.Warn("skipping corrupt snapshot", "actor", id, "err", err)
				continue
			}
			return 0, err
		}
		if err := sched.AddActor(id, catalog.Attributes()); err != nil {
			return 0, err
		}
		if err := sched.Restore(saved.Snapshot); err != nil {
			slog.Warn("actor restored partially", "actor", id, "snapshot", saved.ID, "err", err)
		}
	}
	return len(sched.Actors()), nil
}

func spawnActors(sched *scheduler.Scheduler, catalog *data.Catalog, n int) error {
	for i := range n {
		id := fmt.Sprintf("actor-%02d", i)
		if err := sched.AddActor(id, catalog.Attributes()); err != nil {
			return err
		}
		for _, abilityID := range catalog.AbilityIDs() {
			if err := sched.GrantAbility(id, abilityID); err != nil {
				return err
			}
		}
		if _, err := sched.ApplyEffect(id, "StaminaRegen", id, 1); err != nil {
			return err
		}
	}
	return nil
}

// drive plays random actors against each other: every interval one actor
// tries a random ability and, when it picked Attack, hits a random target.
func drive(ctx context.Context, sched *scheduler.Scheduler, catalog *data.Catalog, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	abilities := catalog.AbilityIDs()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		actors := sched.Actors()
		if len(actors) == 0 || len(abilities) == 0 {
			continue
		}
		actorID := actors[rand.IntN(len(actors))]
		abilityID := abilities[rand.IntN(len(abilities))]

		if err := sched.RequestActivation(actorID, abilityID); err != nil {
			slog.Debug("activation refused", "actor", actorID, "ability", abilityID, "err", err)
			continue
		}
		if abilityID != "Attack" || len(actors) < 2 {
			continue
		}

		target := actors[rand.IntN(len(actors))]
		if target == actorID {
			continue
		}
		if _, err := sched.ApplyEffect(target, "AttackDamage", actorID, 1); err != nil {
			slog.Warn("attack failed", "source", actorID, "target", target, "err", err)
			continue
		}
		health, _ := sched.CurrentValue(target, "Health")
		slog.Debug("attack landed", "source", actorID, "target", target, "health", health)
	}
}

func persistEvery(ctx context.Context, sched *scheduler.Scheduler, repo *db.ActorRepository, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := saveAll(ctx, sched, repo); err != nil {
				slog.Error("saving snapshots", "err", err)
			}
		}
	}
}

func saveAll(ctx context.Context, sched *scheduler.Scheduler, repo *db.ActorRepository) error {
	var errs []error
	saved := 0
	for _, id := range sched.Actors() {
		snap, err := sched.Snapshot(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := repo.Save(ctx, snap); err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}
	slog.Info("snapshots saved", "count", saved)
	return errors.Join(errs...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
