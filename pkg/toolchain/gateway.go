package toolchain

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/zkhotdog/pkg/retry"
)

// Stage names used in logs, retry jitter seeds and metrics.
const (
	StageWitness = "witness"
	StageProve   = "prove"
	StageVerify  = "verify"
)

type Timeouts struct {
	Witness time.Duration
	Prove   time.Duration
	Verify  time.Duration
}

var DefaultTimeouts = Timeouts{
	Witness: 2 * time.Minute,
	Prove:   10 * time.Minute,
	Verify:  5 * time.Minute,
}

// Gateway puts a deadline and the retry policy around every tool call.
type Gateway struct {
	Witness   WitnessGenerator
	Prover    Prover
	Submitter Submitter
	Timeouts  Timeouts
	Retry     retry.Policy
	Logger    *slog.Logger
}

// NewGateway wires the profile's commands to runner. When the profile has a
// wasi section the witness stage runs in-process instead; the returned close
// func releases that runtime.
func NewGateway(ctx context.Context, p Profile, runner Runner, timeouts Timeouts, policy retry.Policy, logger *slog.Logger) (*Gateway, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		Witness:   CommandWitnessGenerator{Runner: runner, Template: p.WitnessTemplate()},
		Prover:    CommandProver{Runner: runner, Template: p.ProveTemplate()},
		Submitter: CommandSubmitter{Runner: runner, Template: p.VerifyTemplate()},
		Timeouts:  timeouts,
		Retry:     policy,
		Logger:    logger.With("component", "toolchain"),
	}
	closer := func(context.Context) error { return nil }
	if p.Wasi != nil {
		w, err := LoadWasiWitnessGenerator(ctx, p.Wasi.Module, WasiLimits{
			MemoryLimitBytes: p.Wasi.MemoryLimitBytes,
			TimeLimit:        p.Wasi.TimeLimit,
		})
		if err != nil {
			return nil, nil, err
		}
		g.Witness = w
		closer = w.Close
	}
	return g, closer, nil
}

func (g *Gateway) GenerateWitness(ctx context.Context, id string, req WitnessRequest) error {
	return g.invoke(ctx, StageWitness, id, g.Timeouts.Witness, func(ctx context.Context) error {
		return g.Witness.GenerateWitness(ctx, req)
	})
}

func (g *Gateway) Prove(ctx context.Context, id string, req ProveRequest) error {
	return g.invoke(ctx, StageProve, id, g.Timeouts.Prove, func(ctx context.Context) error {
		return g.Prover.Prove(ctx, req)
	})
}

// Submit runs the verify stage exactly once. A submission may already have
// reached the verifier when the tool fails, so its errors are never retried.
func (g *Gateway) Submit(ctx context.Context, id string) error {
	return g.invoke(ctx, StageVerify, id, g.Timeouts.Verify, func(ctx context.Context) error {
		return retry.Permanent(g.Submitter.Submit(ctx, id))
	})
}

func (g *Gateway) invoke(ctx context.Context, stage, id string, timeout time.Duration, fn func(context.Context) error) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return retry.Do(ctx, g.Retry, retry.Params{Stage: stage, MeasurementID: id}, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		err := fn(callCtx)
		if err != nil && ctx.Err() == nil {
			logger.WarnContext(ctx, "tool invocation failed",
				"stage", stage,
				"measurement_id", id,
				"attempt", attempt,
				"elapsed", time.Since(start),
				"error", err,
			)
		}
		return err
	})
}
