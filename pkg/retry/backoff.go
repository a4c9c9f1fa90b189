// Package retry runs tool invocations under a bounded retry policy with
// exponential backoff and deterministic jitter.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Params identify one attempt. The same params always yield the same jitter
// so a retry schedule can be reproduced from logs.
type Params struct {
	Stage         string
	MeasurementID string
	Attempt       int
}

type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy retries a failing tool twice more with 500ms, 1s waits plus
// up to 250ms jitter.
var DefaultPolicy = Policy{
	BaseMs:      250,
	MaxMs:       10_000,
	MaxJitterMs: 250,
	MaxAttempts: 3,
}

// Backoff returns the wait before the given attempt (attempt 0 never waits).
func Backoff(params Params, policy Policy) time.Duration {
	if params.Attempt <= 0 {
		return 0
	}
	factor := int64(1) << min(params.Attempt, 30)

	delay := policy.BaseMs * factor
	if policy.MaxMs > 0 && delay > policy.MaxMs {
		delay = policy.MaxMs
	}
	return time.Duration(delay+Jitter(params, policy)) * time.Millisecond
}

// Jitter derives a value in [0, MaxJitterMs) from the attempt identity.
func Jitter(params Params, policy Policy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", params.Stage, params.MeasurementID, params.Attempt)
	sum := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(sum[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive here
}

// Schedule lists the waits preceding each attempt the policy allows.
func Schedule(params Params, policy Policy) []time.Duration {
	out := make([]time.Duration, max(policy.MaxAttempts, 1))
	for i := range out {
		p := params
		p.Attempt = i
		out[i] = Backoff(p, policy)
	}
	return out
}
