package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A module whose _start returns immediately.
var emptyStartModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type: () -> ()
	0x03, 0x02, 0x01, 0x00, // func 0 has type 0
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00, // export _start
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b, // empty body
}

// A module whose _start never returns.
var spinModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b, // loop { br 0 }
}

func writeInput(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(in, []byte(`{"distance_squared":0,"point1":[0,0,0],"point2":[0,0,0]}`), 0o600))
	return in, filepath.Join(dir, "witness.wtns")
}

func TestWasiWitnessGenerator_WritesStdout(t *testing.T) {
	ctx := context.Background()
	g, err := NewWasiWitnessGenerator(ctx, emptyStartModule, WasiLimits{
		MemoryLimitBytes: 16 * 1024 * 1024,
		TimeLimit:        5 * time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = g.Close(ctx) }()

	in, out := writeInput(t)
	require.NoError(t, g.GenerateWitness(ctx, WitnessRequest{InputPath: in, WitnessPath: out}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Empty(t, data)

	// the compiled module is reusable
	require.NoError(t, g.GenerateWitness(ctx, WitnessRequest{InputPath: in, WitnessPath: out}))
}

func TestWasiWitnessGenerator_TimeLimit(t *testing.T) {
	ctx := context.Background()
	g, err := NewWasiWitnessGenerator(ctx, spinModule, WasiLimits{TimeLimit: 100 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = g.Close(ctx) }()

	in, out := writeInput(t)
	err = g.GenerateWitness(ctx, WitnessRequest{InputPath: in, WitnessPath: out})

	var limit *LimitError
	require.True(t, errors.As(err, &limit), "got %v", err)
	assert.Equal(t, ErrWitnessTimeExhausted, limit.Code)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no witness on failure")
}

func TestWasiWitnessGenerator_CallerCancel(t *testing.T) {
	g, err := NewWasiWitnessGenerator(context.Background(), spinModule, WasiLimits{TimeLimit: time.Minute})
	require.NoError(t, err)
	defer func() { _ = g.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	in, out := writeInput(t)
	err = g.GenerateWitness(ctx, WitnessRequest{InputPath: in, WitnessPath: out})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWasiWitnessGenerator_InvalidModule(t *testing.T) {
	_, err := NewWasiWitnessGenerator(context.Background(), []byte("not wasm"), WasiLimits{})
	assert.ErrorContains(t, err, "compile witness module")
}

func TestWasiWitnessGenerator_MissingInput(t *testing.T) {
	ctx := context.Background()
	g, err := NewWasiWitnessGenerator(ctx, emptyStartModule, WasiLimits{})
	require.NoError(t, err)
	defer func() { _ = g.Close(ctx) }()

	err = g.GenerateWitness(ctx, WitnessRequest{InputPath: filepath.Join(t.TempDir(), "nope.json")})
	assert.ErrorContains(t, err, "read witness input")
}
