package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// WitnessMaxBytes caps the witness a WASI module may write to stdout.
const WitnessMaxBytes = 64 << 20

// Error codes carried by LimitError.
const (
	ErrWitnessTimeExhausted   = "ERR_WITNESS_TIME_EXHAUSTED"
	ErrWitnessMemoryExhausted = "ERR_WITNESS_MEMORY_EXHAUSTED"
	ErrWitnessOutputExhausted = "ERR_WITNESS_OUTPUT_EXHAUSTED"
)

// LimitError is returned when a WASI witness run hits a resource limit.
type LimitError struct {
	Code    string
	Message string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type WasiLimits struct {
	MemoryLimitBytes int64
	TimeLimit        time.Duration
}

// WasiWitnessGenerator runs a WASI build of the witness calculator
// in-process. The module has the circuit compiled in; it reads the input
// JSON on stdin and writes the witness to stdout. It gets no filesystem or
// network access.
type WasiWitnessGenerator struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	limits   WasiLimits
}

func NewWasiWitnessGenerator(ctx context.Context, wasm []byte, limits WasiLimits) (*WasiWitnessGenerator, error) {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if limits.MemoryLimitBytes > 0 {
		pages := uint32(limits.MemoryLimitBytes / 65536) //nolint:gosec // bounded by config
		if pages == 0 {
			pages = 1
		}
		rc = rc.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("compile witness module: %w", err)
	}
	return &WasiWitnessGenerator{runtime: r, compiled: compiled, limits: limits}, nil
}

// LoadWasiWitnessGenerator compiles the module at path.
func LoadWasiWitnessGenerator(ctx context.Context, path string, limits WasiLimits) (*WasiWitnessGenerator, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read witness module: %w", err)
	}
	return NewWasiWitnessGenerator(ctx, wasm, limits)
}

// GenerateWitness ignores req.CircuitPath.
func (g *WasiWitnessGenerator) GenerateWitness(ctx context.Context, req WitnessRequest) error {
	input, err := os.ReadFile(req.InputPath)
	if err != nil {
		return fmt.Errorf("read witness input: %w", err)
	}

	execCtx := ctx
	if g.limits.TimeLimit > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, g.limits.TimeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs("witness").
		WithName("") // anonymous so concurrent runs do not collide

	mod, err := g.runtime.InstantiateModule(execCtx, g.compiled, cfg)
	if mod != nil {
		defer func() { _ = mod.Close(context.Background()) }()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if execCtx.Err() != nil {
			return &LimitError{Code: ErrWitnessTimeExhausted, Message: fmt.Sprintf("exceeded %s", g.limits.TimeLimit)}
		}
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			if exit.ExitCode() != 0 {
				return &ExitError{Command: "wasi witness", Code: int(exit.ExitCode()), Stderr: tail(stderr.String())}
			}
		} else if isMemoryError(err) {
			return &LimitError{Code: ErrWitnessMemoryExhausted, Message: fmt.Sprintf("exceeded %d bytes", g.limits.MemoryLimitBytes)}
		} else {
			return fmt.Errorf("wasi witness: %w", err)
		}
	}

	if stdout.Len() > WitnessMaxBytes {
		return &LimitError{Code: ErrWitnessOutputExhausted, Message: fmt.Sprintf("witness is %d bytes, limit %d", stdout.Len(), WitnessMaxBytes)}
	}
	if err := os.WriteFile(req.WitnessPath, stdout.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write witness: %w", err)
	}
	return nil
}

func (g *WasiWitnessGenerator) Close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}

func isMemoryError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "memory") && (strings.Contains(msg, "limit") || strings.Contains(msg, "grow"))
}

func tail(s string) string {
	if len(s) > StderrTailBytes {
		return s[len(s)-StderrTailBytes:]
	}
	return s
}
