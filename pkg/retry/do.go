package retry

import (
	"context"
	"errors"
	"time"
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the policy's
// attempts run out or ctx ends. The last error from fn is returned; a
// canceled context is reported as ctx.Err().
func Do(ctx context.Context, policy Policy, params Params, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(policy.MaxAttempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		p := params
		p.Attempt = i
		if wait := Backoff(p, policy); wait > 0 {
			if serr := sleep(ctx, wait); serr != nil {
				return serr
			}
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(ctx, i)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
