// Package store holds measurement records for the lifetime of the process.
//
// Readers always receive deep copies. Writers go through Mutate, which runs
// a caller-supplied function under exclusive access to a single record; the
// function must not block, sleep or call back into the store.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
)

var (
	ErrNotFound      = errors.New("measurement not found")
	ErrAlreadyExists = errors.New("measurement already exists")
	ErrIdentityFixed = errors.New("measurement id cannot be changed")

	// ErrStatusBypass and ErrAttestationFixed match
	// measurement.ErrIllegalTransition under errors.Is.
	ErrStatusBypass     = fmt.Errorf("status changed outside the lifecycle: %w", measurement.ErrIllegalTransition)
	ErrAttestationFixed = fmt.Errorf("attestation cannot be replaced: %w", measurement.ErrIllegalTransition)
)

// Store is the record store shared by ingestion, the pipeline and status
// queries.
type Store interface {
	Create(ctx context.Context, m measurement.Measurement) error
	Snapshot(ctx context.Context, id string) (measurement.Measurement, error)
	Mutate(ctx context.Context, id string, fn func(*measurement.Measurement) error) (measurement.Measurement, error)
	Len() int
}

// checkCommit rejects a mutation that rewrites the id, skips the status
// lifecycle or replaces an attestation already recorded.
func checkCommit(id string, cur, next measurement.Measurement) error {
	if next.ID != id {
		return fmt.Errorf("%s: %w", id, ErrIdentityFixed)
	}
	if next.Status != cur.Status && !cur.Status.CanTransition(next.Status) {
		return fmt.Errorf("%s: %s -> %s: %w", id, cur.Status, next.Status, ErrStatusBypass)
	}
	if cur.Attestation != nil && (next.Attestation == nil || !cur.Attestation.Equal(*next.Attestation)) {
		return fmt.Errorf("%s: %w", id, ErrAttestationFixed)
	}
	return nil
}
