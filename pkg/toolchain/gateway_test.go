package toolchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/zkhotdog/pkg/retry"
)

type flakyProver struct {
	failures int
	calls    int
	deadline bool
}

func (f *flakyProver) Prove(ctx context.Context, _ ProveRequest) error {
	f.calls++
	_, f.deadline = ctx.Deadline()
	if f.calls <= f.failures {
		return &ExitError{Command: "prove", Code: 1}
	}
	return nil
}

type flakySubmitter struct {
	failures int
	calls    int
}

func (f *flakySubmitter) Submit(context.Context, string) error {
	f.calls++
	if f.calls <= f.failures {
		return &ExitError{Command: "verify", Code: 1}
	}
	return nil
}

var fastRetry = retry.Policy{BaseMs: 1, MaxMs: 2, MaxAttempts: 3}

func TestGateway_RetriesThenSucceeds(t *testing.T) {
	p := &flakyProver{failures: 2}
	g := &Gateway{Prover: p, Timeouts: Timeouts{Prove: time.Second}, Retry: fastRetry}

	require.NoError(t, g.Prove(context.Background(), "m-1", ProveRequest{}))
	assert.Equal(t, 3, p.calls)
	assert.True(t, p.deadline, "each attempt runs under a deadline")
}

func TestGateway_GivesUpAfterPolicy(t *testing.T) {
	p := &flakyProver{failures: 10}
	g := &Gateway{Prover: p, Retry: fastRetry}

	err := g.Prove(context.Background(), "m-1", ProveRequest{})
	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 3, p.calls)
	assert.False(t, p.deadline, "zero timeout adds no deadline")
}

func TestGateway_SubmitIsNeverRetried(t *testing.T) {
	s := &flakySubmitter{failures: 1}
	g := &Gateway{Submitter: s, Timeouts: Timeouts{Verify: time.Second}, Retry: fastRetry}

	err := g.Submit(context.Background(), "m-1")
	require.Error(t, err)
	assert.Equal(t, 1, s.calls, "a failed submission must not be sent again")

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.Code)
	assert.True(t, retry.IsPermanent(err))
}

type blockingProver struct{ calls int }

func (b *blockingProver) Prove(ctx context.Context, _ ProveRequest) error {
	b.calls++
	<-ctx.Done()
	return ctx.Err()
}

func TestGateway_PerAttemptTimeout(t *testing.T) {
	p := &blockingProver{}
	g := &Gateway{Prover: p, Timeouts: Timeouts{Prove: 10 * time.Millisecond}, Retry: retry.Policy{BaseMs: 1, MaxAttempts: 2}}

	err := g.Prove(context.Background(), "m-1", ProveRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, p.calls, "a timed-out attempt is retried")
}

func TestGateway_ParentCancelStopsRetries(t *testing.T) {
	p := &blockingProver{}
	g := &Gateway{Prover: p, Timeouts: Timeouts{Prove: time.Minute}, Retry: retry.Policy{BaseMs: 1, MaxAttempts: 5}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Prove(ctx, "m-1", ProveRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.calls)
}

func TestNewGateway_CommandWiring(t *testing.T) {
	r := &recordingRunner{}
	g, closer, err := NewGateway(context.Background(), DefaultProfile(), r, DefaultTimeouts, fastRetry, nil)
	require.NoError(t, err)
	defer func() { _ = closer(context.Background()) }()

	require.NoError(t, g.Submit(context.Background(), "abc"))
	require.Len(t, r.cmds, 1)
	assert.Equal(t, ".", r.cmds[0].Dir)
	assert.Equal(t, []string{"dist/verify_client.js", "abc"}, r.cmds[0].Args)
}
