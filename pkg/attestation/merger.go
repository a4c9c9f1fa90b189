package attestation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
	"github.com/Mindburn-Labs/zkhotdog/pkg/store"
)

// FileName is the evidence file the verification client writes next to a
// measurement's proof.
const FileName = "attestation.json"

// Prober looks for evidence for a measurement. No evidence yet is
// (nil, nil).
type Prober interface {
	Probe(ctx context.Context, id string) (*measurement.Attestation, error)
}

// FileProber reads <Dir>/<id>/attestation.json.
type FileProber struct {
	Dir string
}

func (p FileProber) Probe(_ context.Context, id string) (*measurement.Attestation, error) {
	path := filepath.Join(p.Dir, id, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &a, nil
}

// Merger attaches evidence to completed measurements as they are read.
type Merger struct {
	store  store.Store
	prober Prober
	logger *slog.Logger
	now    func() time.Time
}

func NewMerger(st store.Store, prober Prober, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		store:  st,
		prober: prober,
		logger: logger.With("component", "attestation"),
		now:    time.Now,
	}
}

// Enrich returns m with its attestation attached when m is Completed, has
// none yet and evidence is available. Probing happens outside any store
// lock; the first writer wins if two readers race. Errors are logged and
// m is returned unchanged.
func (mg *Merger) Enrich(ctx context.Context, m measurement.Measurement) measurement.Measurement {
	if !m.NeedsAttestation() {
		return m
	}
	att, err := mg.prober.Probe(ctx, m.ID)
	if err != nil {
		mg.logger.WarnContext(ctx, "attestation probe failed", "measurement_id", m.ID, "error", err)
		return m
	}
	if att == nil {
		return m
	}

	updated, err := mg.store.Mutate(ctx, m.ID, func(rec *measurement.Measurement) error {
		return rec.Attach(*att, mg.now())
	})
	switch {
	case err == nil:
		mg.logger.InfoContext(ctx, "attestation attached", "measurement_id", m.ID, "attestation_id", att.AttestationID)
		return updated
	case errors.Is(err, measurement.ErrAttestationAlreadySet):
		return updated
	default:
		mg.logger.WarnContext(ctx, "attestation merge failed", "measurement_id", m.ID, "error", err)
		return m
	}
}
