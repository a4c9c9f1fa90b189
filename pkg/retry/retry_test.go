package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule(t *testing.T) {
	policy := Policy{
		BaseMs:      100,
		MaxMs:       30000,
		MaxJitterMs: 0, // keep the schedule exact
		MaxAttempts: 5,
	}

	got := Schedule(Params{Stage: "witness", MeasurementID: "m-1"}, policy)
	want := []time.Duration{0, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}
	assert.Equal(t, want, got)
}

func TestBackoff_CappedAtMax(t *testing.T) {
	policy := Policy{BaseMs: 1000, MaxMs: 5000, MaxAttempts: 10}
	assert.Equal(t, 5*time.Second, Backoff(Params{Attempt: 8}, policy))
	assert.Equal(t, 5*time.Second, Backoff(Params{Attempt: 64}, policy), "huge attempt index must not overflow")
}

func TestJitter_Deterministic(t *testing.T) {
	policy := Policy{MaxJitterMs: 1000}
	params := Params{Stage: "prove", MeasurementID: "m-1", Attempt: 2}

	j1 := Jitter(params, policy)
	j2 := Jitter(params, policy)
	if j1 != j2 {
		t.Errorf("jitter non-deterministic: %d vs %d", j1, j2)
	}
	assert.GreaterOrEqual(t, j1, int64(0))
	assert.Less(t, j1, int64(1000))
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	policy := Policy{BaseMs: 1, MaxMs: 2, MaxAttempts: 3}
	calls := 0

	err := Do(context.Background(), policy, Params{Stage: "witness"}, func(_ context.Context, attempt int) error {
		assert.Equal(t, calls, attempt)
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	policy := Policy{BaseMs: 1, MaxMs: 1, MaxAttempts: 2}
	calls := 0
	last := errors.New("still broken")

	err := Do(context.Background(), policy, Params{}, func(context.Context, int) error {
		calls++
		return last
	})
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	cause := errors.New("bad input")

	err := Do(context.Background(), DefaultPolicy, Params{}, func(context.Context, int) error {
		calls++
		return Permanent(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	policy := Policy{BaseMs: 60_000, MaxMs: 60_000, MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, policy, Params{}, func(context.Context, int) error {
			calls++
			return errors.New("fail")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}
