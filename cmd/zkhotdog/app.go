package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/zkhotdog/pkg/admission"
	"github.com/Mindburn-Labs/zkhotdog/pkg/api"
	"github.com/Mindburn-Labs/zkhotdog/pkg/artifacts"
	"github.com/Mindburn-Labs/zkhotdog/pkg/attestation"
	"github.com/Mindburn-Labs/zkhotdog/pkg/config"
	"github.com/Mindburn-Labs/zkhotdog/pkg/observability"
	"github.com/Mindburn-Labs/zkhotdog/pkg/pipeline"
	"github.com/Mindburn-Labs/zkhotdog/pkg/service"
	"github.com/Mindburn-Labs/zkhotdog/pkg/store"
	"github.com/Mindburn-Labs/zkhotdog/pkg/toolchain"
)

// app holds the wired service. close releases everything newApp opened.
type app struct {
	handler  http.Handler
	pipeline *pipeline.Orchestrator
	store    store.Store
	closers  []func(context.Context) error
	logger   *slog.Logger
}

// newApp wires the service. On error everything opened so far is closed.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	if err := a.wire(ctx, cfg); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg config.Config) error {
	logger := a.logger

	for _, dir := range []string{cfg.UploadDir, cfg.WorkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	obs, err := observability.New(ctx, cfg.Observability(version))
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	a.closers = append(a.closers, obs.Shutdown)

	switch cfg.StoreBackend {
	case config.StoreSQLite:
		sq, err := store.OpenMemory(ctx)
		if err != nil {
			return err
		}
		a.store = sq
		a.closers = append(a.closers, func(context.Context) error { return sq.Close() })
	default:
		a.store = store.NewShardedStore(cfg.StoreShards)
	}

	images, err := artifacts.New(ctx, cfg.Artifacts())
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}

	profile := toolchain.DefaultProfile()
	if cfg.ToolchainPath != "" {
		if profile, err = toolchain.LoadProfile(cfg.ToolchainPath); err != nil {
			return err
		}
	}
	gateway, closeGateway, err := toolchain.NewGateway(ctx, profile, toolchain.ExecRunner{}, cfg.Timeouts(), cfg.RetryPolicy(), logger)
	if err != nil {
		return fmt.Errorf("toolchain: %w", err)
	}
	a.closers = append(a.closers, closeGateway)

	policy, err := admission.NewPolicy(cfg.AdmissionExpr)
	if err != nil {
		return err
	}

	a.pipeline = pipeline.New(a.store, gateway, pipeline.Config{
		WorkDir:        cfg.WorkDir,
		CircuitPath:    resolve(profile.Commands.Dir, profile.Circuit.Wasm),
		ProvingKeyPath: resolve(profile.Commands.Dir, profile.Circuit.ProvingKey),
		ProveWorkers:   cfg.ProveWorkers,
		VerifyWorkers:  cfg.VerifyWorkers,
	}, pipeline.WithLogger(logger), pipeline.WithObservability(obs))

	svc := service.New(service.Deps{
		Store:         a.store,
		Images:        images,
		Policy:        policy,
		Pipeline:      a.pipeline,
		Attestations:  attestation.NewMerger(a.store, attestation.FileProber{Dir: cfg.WorkDir}, logger),
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	})

	opts := api.Options{
		Logger:         logger,
		Idempotency:    api.NewIdempotencyStore(cfg.IdempotencyTTL),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	switch {
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		opts.Limiter = api.NewRedisLimiter(rdb, cfg.RateLimitRPS, cfg.RateLimitBurst)
	case cfg.RateLimitRPS > 0:
		rl := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		a.closers = append(a.closers, func(context.Context) error { rl.Stop(); return nil })
		opts.Limiter = rl
	}
	a.handler = api.NewRouter(svc, opts)

	logger.InfoContext(ctx, "service wired",
		"store", cfg.StoreBackend,
		"artifacts", cfg.ArtifactBackend,
		"circuit", profile.Circuit.Name+"@"+profile.Circuit.Version,
		"admission", policy.String(),
	)
	return nil
}

// close runs closers in reverse order.
func (a *app) close(ctx context.Context) {
	if a == nil {
		return
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
