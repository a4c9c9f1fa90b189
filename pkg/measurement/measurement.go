// Package measurement defines the measurement record, its lifecycle state
// machine and the attestation evidence attached once it is verified.
package measurement

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Mindburn-Labs/zkhotdog/pkg/geometry"
)

// ErrAttestationAlreadySet is returned when an attestation would overwrite
// an existing one.
var ErrAttestationAlreadySet = errors.New("attestation already set")

// ErrNotCompleted is returned when an attestation is attached to a
// measurement that has not reached Completed.
var ErrNotCompleted = errors.New("measurement not completed")

// Measurement is the record tracked for one submission.
//
// Status and Attestation are only changed through Advance and Attach so the
// lifecycle invariants hold for every writer.
type Measurement struct {
	ID              string                `json:"id"`
	ImagePath       string                `json:"image_path"`
	StartPoint      geometry.FixedPoint3D `json:"start_point"`
	EndPoint        geometry.FixedPoint3D `json:"end_point"`
	DistanceSquared uint64                `json:"distance_squared"`
	Status          Status                `json:"status"`
	Attestation     *Attestation          `json:"attestation"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// New builds a Pending measurement.
func New(id, imagePath string, start, end geometry.FixedPoint3D, distanceSquared uint64, now time.Time) Measurement {
	return Measurement{
		ID:              id,
		ImagePath:       imagePath,
		StartPoint:      start,
		EndPoint:        end,
		DistanceSquared: distanceSquared,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Advance moves the measurement to next, rejecting illegal edges.
func (m *Measurement) Advance(next Status, now time.Time) error {
	s, err := m.Status.Transition(next)
	if err != nil {
		return fmt.Errorf("measurement %s: %w", m.ID, err)
	}
	m.Status = s
	m.UpdatedAt = now
	return nil
}

// Attach sets the attestation once, and only on a Completed measurement.
func (m *Measurement) Attach(a Attestation, now time.Time) error {
	if m.Status != StatusCompleted {
		return fmt.Errorf("measurement %s is %s: %w", m.ID, m.Status, ErrNotCompleted)
	}
	if m.Attestation != nil {
		return fmt.Errorf("measurement %s: %w", m.ID, ErrAttestationAlreadySet)
	}
	a = a.Clone()
	m.Attestation = &a
	m.UpdatedAt = now
	return nil
}

// NeedsAttestation reports whether a status read should probe for evidence.
func (m Measurement) NeedsAttestation() bool {
	return m.Status == StatusCompleted && m.Attestation == nil
}

// Clone returns a deep copy that shares no memory with m.
func (m Measurement) Clone() Measurement {
	if m.Attestation != nil {
		a := m.Attestation.Clone()
		m.Attestation = &a
	}
	return m
}

// Attestation is externally produced evidence that the measurement's proof
// was included in a verified aggregate.
type Attestation struct {
	AttestationID uint64   `json:"attestationId"`
	MerklePath    []string `json:"merklePath"`
	LeafCount     uint64   `json:"leafCount"`
	Index         uint64   `json:"index"`
}

// Equal compares field by field; a nil and an empty MerklePath are equal.
func (a Attestation) Equal(b Attestation) bool {
	return a.AttestationID == b.AttestationID &&
		a.LeafCount == b.LeafCount &&
		a.Index == b.Index &&
		slices.Equal(a.MerklePath, b.MerklePath)
}

// Clone returns a copy with its own MerklePath backing array.
func (a Attestation) Clone() Attestation {
	a.MerklePath = slices.Clone(a.MerklePath)
	if a.MerklePath == nil {
		a.MerklePath = []string{}
	}
	return a
}
