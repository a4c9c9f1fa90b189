package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
)

// maxSafeInteger is the largest integer a JSON consumer parsing numbers as
// IEEE doubles reads back exactly.
const maxSafeInteger = 1<<53 - 1

// File names inside a measurement's work directory.
const (
	InputFile       = "input.json"
	WitnessFile     = "witness.wtns"
	ProofFile       = "proof.json"
	PublicFile      = "public.json"
	AttestationFile = "attestation.json"
)

type circuitInput struct {
	DistanceSquared uint64   `json:"distance_squared"`
	Point1          [3]int64 `json:"point1"`
	Point2          [3]int64 `json:"point2"`
}

// EncodeInput renders the circuit input for m as canonical JSON.
func EncodeInput(m measurement.Measurement) ([]byte, error) {
	if m.DistanceSquared > maxSafeInteger {
		return nil, fmt.Errorf("distance_squared %d exceeds the exact JSON integer range", m.DistanceSquared)
	}
	raw, err := json.Marshal(circuitInput{
		DistanceSquared: m.DistanceSquared,
		Point1:          m.StartPoint.Array(),
		Point2:          m.EndPoint.Array(),
	})
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// writeInput replaces dir/input.json atomically.
func writeInput(dir string, m measurement.Measurement) (string, error) {
	data, err := EncodeInput(m)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, InputFile)
	tmp, err := os.CreateTemp(dir, ".input-*.json")
	if err != nil {
		return "", fmt.Errorf("create input: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write input: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close input: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit input: %w", err)
	}
	return path, nil
}
