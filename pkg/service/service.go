// Package service implements measurement submission and the status and
// image queries on top of the record store, the image store and the
// pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/zkhotdog/pkg/admission"
	"github.com/Mindburn-Labs/zkhotdog/pkg/artifacts"
	"github.com/Mindburn-Labs/zkhotdog/pkg/geometry"
	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
	"github.com/Mindburn-Labs/zkhotdog/pkg/store"
)

var (
	// ErrValidation marks caller mistakes. No state is created.
	ErrValidation = errors.New("invalid measurement")
	// ErrStorage marks a failure to persist the submission. No record is
	// created.
	ErrStorage = errors.New("measurement storage failed")
	// ErrNotFound is returned for unknown measurement ids.
	ErrNotFound = store.ErrNotFound
)

// ImageContentType is the media type uploads are stored and served as.
const ImageContentType = "image/jpeg"

type SubmitRequest struct {
	Image []byte
	Start *geometry.Point3D
	End   *geometry.Point3D
}

// Receipt tells the client where to poll for progress.
type Receipt struct {
	URL           string `json:"url"`
	MeasurementID string `json:"measurement_id"`
}

// Enqueuer hands a new measurement to the pipeline without blocking.
type Enqueuer interface {
	Enqueue(id string)
}

// Enricher attaches late evidence to a snapshot.
type Enricher interface {
	Enrich(ctx context.Context, m measurement.Measurement) measurement.Measurement
}

type Deps struct {
	Store         store.Store
	Images        artifacts.Store
	Policy        *admission.Policy
	Pipeline      Enqueuer
	Attestations  Enricher
	PublicBaseURL string
	Logger        *slog.Logger
}

type Service struct {
	store    store.Store
	images   artifacts.Store
	policy   *admission.Policy
	pipeline Enqueuer
	enricher Enricher
	baseURL  string
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    d.Store,
		images:   d.Images,
		policy:   d.Policy,
		pipeline: d.Pipeline,
		enricher: d.Attestations,
		baseURL:  strings.TrimRight(d.PublicBaseURL, "/"),
		logger:   logger.With("component", "service"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Submit validates and records a measurement and schedules it for proving.
// It returns as soon as the record exists; proving happens in the
// background.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Receipt, error) {
	switch {
	case len(req.Image) == 0:
		return Receipt{}, fmt.Errorf("%w: image is required", ErrValidation)
	case req.Start == nil:
		return Receipt{}, fmt.Errorf("%w: startPoint is required", ErrValidation)
	case req.End == nil:
		return Receipt{}, fmt.Errorf("%w: endPoint is required", ErrValidation)
	}

	start, end, err := geometry.NormalizePair(*req.Start, *req.End)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	dist, err := geometry.DistanceSquared(start, end)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if s.policy != nil {
		if err := s.policy.Admit(start, end, dist); err != nil {
			if errors.Is(err, admission.ErrRejected) {
				return Receipt{}, fmt.Errorf("%w: %w", ErrValidation, err)
			}
			return Receipt{}, err
		}
	}

	id := s.newID()
	key := artifacts.ImageKey(id)
	if err := s.images.Put(ctx, key, req.Image, ImageContentType); err != nil {
		return Receipt{}, fmt.Errorf("%w: save image: %w", ErrStorage, err)
	}

	m := measurement.New(id, s.images.Location(key), start, end, dist, s.now())
	if err := s.store.Create(ctx, m); err != nil {
		return Receipt{}, fmt.Errorf("%w: create record: %w", ErrStorage, err)
	}
	s.pipeline.Enqueue(id)

	s.logger.InfoContext(ctx, "measurement accepted",
		"measurement_id", id,
		"distance_squared", dist,
		"image_bytes", len(req.Image),
	)
	return Receipt{URL: s.baseURL + "/status/" + id, MeasurementID: id}, nil
}

// Status returns the current record, attaching attestation evidence if it
// has appeared since the last read.
func (s *Service) Status(ctx context.Context, id string) (measurement.Measurement, error) {
	m, err := s.store.Snapshot(ctx, id)
	if err != nil {
		return measurement.Measurement{}, err
	}
	if s.enricher == nil {
		return m, nil
	}
	return s.enricher.Enrich(ctx, m), nil
}

// Image returns the uploaded image of a known measurement.
func (s *Service) Image(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.store.Snapshot(ctx, id); err != nil {
		return nil, err
	}
	data, err := s.images.Get(ctx, artifacts.ImageKey(id))
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, fmt.Errorf("image for %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
