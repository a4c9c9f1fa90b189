// Package pipeline drives measurements from Pending to a terminal status.
//
// Work flows through two stages, each a worker pool fed by an unbounded
// FIFO of measurement ids:
//
//	prove:  Pending -> Processing, write input, witness, proof
//	verify: submit proof, Processing -> Completed
//
// Any failure moves the measurement to Failed. Stages decide what to do
// from the persisted status alone, so enqueueing an id twice is harmless.
// Record store mutations never span a tool call or file I/O.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
	"github.com/Mindburn-Labs/zkhotdog/pkg/observability"
	"github.com/Mindburn-Labs/zkhotdog/pkg/store"
	"github.com/Mindburn-Labs/zkhotdog/pkg/toolchain"
)

// Tools is the subset of the toolchain gateway the pipeline calls.
type Tools interface {
	GenerateWitness(ctx context.Context, id string, req toolchain.WitnessRequest) error
	Prove(ctx context.Context, id string, req toolchain.ProveRequest) error
	Submit(ctx context.Context, id string) error
}

// Config sets the work directory, circuit artifacts and worker pool sizes.
type Config struct {
	// WorkDir holds one directory per measurement.
	WorkDir        string
	CircuitPath    string
	ProvingKeyPath string
	ProveWorkers   int
	VerifyWorkers  int
}

// Orchestrator runs the prove and verify worker pools over a Store.
type Orchestrator struct {
	store  store.Store
	tools  Tools
	cfg    Config
	obs    *observability.Provider
	logger *slog.Logger
	now    func() time.Time

	prove  *queue
	verify *queue

	startOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures an Orchestrator in New.
type Option func(*Orchestrator)

// WithLogger sets the logger; records are tagged component=pipeline.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With("component", "pipeline") }
}

// WithObservability records stage spans, durations and status transitions.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an idle Orchestrator; worker counts below 1 become 1.
func New(st store.Store, tools Tools, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ProveWorkers <= 0 {
		cfg.ProveWorkers = 1
	}
	if cfg.VerifyWorkers <= 0 {
		cfg.VerifyWorkers = 1
	}
	o := &Orchestrator{
		store:  st,
		tools:  tools,
		cfg:    cfg,
		logger: slog.Default().With("component", "pipeline"),
		now:    time.Now,
		prove:  newQueue(),
		verify: newQueue(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the worker pools. They run until ctx is canceled; use Wait
// to block until they have exited. Calling Start again has no effect.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		for i := 0; i < o.cfg.ProveWorkers; i++ {
			o.wg.Add(1)
			go o.work(ctx, o.prove, o.runProve)
		}
		for i := 0; i < o.cfg.VerifyWorkers; i++ {
			o.wg.Add(1)
			go o.work(ctx, o.verify, o.runVerify)
		}
		o.logger.InfoContext(ctx, "pipeline started",
			"prove_workers", o.cfg.ProveWorkers,
			"verify_workers", o.cfg.VerifyWorkers,
			"work_dir", o.cfg.WorkDir,
		)
	})
}

// Wait blocks until every worker has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Enqueue schedules a measurement for processing. It never blocks.
func (o *Orchestrator) Enqueue(id string) {
	o.prove.push(id)
}

// Backlog reports how many ids are waiting in each stage.
func (o *Orchestrator) Backlog() (prove, verify int) {
	return o.prove.len(), o.verify.len()
}

func (o *Orchestrator) work(ctx context.Context, q *queue, handle func(context.Context, string)) {
	defer o.wg.Done()
	for {
		id, ok := q.pop(ctx)
		if !ok {
			return
		}
		handle(ctx, id)
	}
}

// MeasurementDir is where the pipeline keeps a measurement's files.
func (o *Orchestrator) MeasurementDir(id string) string {
	return filepath.Join(o.cfg.WorkDir, id)
}

func (o *Orchestrator) runProve(ctx context.Context, id string) {
	logger := o.logger.With("measurement_id", id, "stage", toolchain.StageProve)

	snap, err := o.store.Snapshot(ctx, id)
	if err != nil {
		o.abandon(ctx, logger, err)
		return
	}
	if snap.Status != measurement.StatusPending {
		logger.DebugContext(ctx, "skipping measurement past prove stage", "status", snap.Status)
		return
	}
	snap, err = o.advance(ctx, id, measurement.StatusProcessing)
	if err != nil {
		logger.WarnContext(ctx, "could not start proving", "error", err)
		return
	}

	ctx, finish := o.obs.TrackOperation(ctx, "pipeline.prove",
		attribute.String("stage", toolchain.StageProve),
	)
	err = o.generateProof(ctx, snap)
	finish(err)
	if err != nil {
		o.fail(ctx, logger, id, err)
		return
	}
	logger.InfoContext(ctx, "proof generated")
	o.verify.push(id)
}

func (o *Orchestrator) generateProof(ctx context.Context, m measurement.Measurement) error {
	dir, err := filepath.Abs(o.MeasurementDir(m.ID))
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	input, err := writeInput(dir, m)
	if err != nil {
		return fmt.Errorf("write circuit input: %w", err)
	}
	witness := filepath.Join(dir, WitnessFile)

	if err := o.tools.GenerateWitness(ctx, m.ID, toolchain.WitnessRequest{
		CircuitPath: o.cfg.CircuitPath,
		InputPath:   input,
		WitnessPath: witness,
	}); err != nil {
		return fmt.Errorf("witness generation: %w", err)
	}
	if err := o.tools.Prove(ctx, m.ID, toolchain.ProveRequest{
		ProvingKeyPath: o.cfg.ProvingKeyPath,
		WitnessPath:    witness,
		ProofPath:      filepath.Join(dir, ProofFile),
		PublicPath:     filepath.Join(dir, PublicFile),
	}); err != nil {
		return fmt.Errorf("proof generation: %w", err)
	}
	return nil
}

func (o *Orchestrator) runVerify(ctx context.Context, id string) {
	logger := o.logger.With("measurement_id", id, "stage", toolchain.StageVerify)

	snap, err := o.store.Snapshot(ctx, id)
	if err != nil {
		o.abandon(ctx, logger, err)
		return
	}
	if snap.Status != measurement.StatusProcessing {
		logger.DebugContext(ctx, "skipping measurement not awaiting verification", "status", snap.Status)
		return
	}

	ctx, finish := o.obs.TrackOperation(ctx, "pipeline.verify",
		attribute.String("stage", toolchain.StageVerify),
	)
	err = o.tools.Submit(ctx, id)
	finish(err)
	if err != nil {
		o.fail(ctx, logger, id, fmt.Errorf("verification: %w", err))
		return
	}
	if _, err := o.advance(ctx, id, measurement.StatusCompleted); err != nil {
		logger.ErrorContext(ctx, "could not complete measurement", "error", err)
		return
	}
	logger.InfoContext(ctx, "proof verified")
}

func (o *Orchestrator) advance(ctx context.Context, id string, next measurement.Status) (measurement.Measurement, error) {
	m, err := o.store.Mutate(ctx, id, func(m *measurement.Measurement) error {
		return m.Advance(next, o.now())
	})
	if err != nil {
		return m, err
	}
	o.obs.RecordTransition(ctx, next.String())
	return m, nil
}

// fail marks the measurement Failed unless the service is shutting down, in
// which case the work is abandoned and the record keeps its status.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, id string, cause error) {
	if ctx.Err() != nil {
		logger.WarnContext(ctx, "abandoning measurement on shutdown", "error", cause)
		return
	}
	logger.ErrorContext(ctx, "measurement failed", "error", cause)
	if _, err := o.advance(ctx, id, measurement.StatusFailed); err != nil {
		logger.ErrorContext(ctx, "could not mark measurement failed", "error", err)
	}
}

func (o *Orchestrator) abandon(ctx context.Context, logger *slog.Logger, err error) {
	if errors.Is(err, store.ErrNotFound) {
		logger.WarnContext(ctx, "measurement not found, abandoning")
		return
	}
	logger.ErrorContext(ctx, "could not load measurement", "error", err)
}
