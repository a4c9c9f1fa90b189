package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/zkhotdog/pkg/admission"
	"github.com/Mindburn-Labs/zkhotdog/pkg/artifacts"
	"github.com/Mindburn-Labs/zkhotdog/pkg/geometry"
	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
	"github.com/Mindburn-Labs/zkhotdog/pkg/store"
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

func (q *recordingQueue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

type failingImages struct{ artifacts.Store }

func (failingImages) Put(context.Context, string, []byte, string) error {
	return errors.New("disk full")
}

type fixture struct {
	svc    *Service
	store  *store.ShardedStore
	images *artifacts.FileStore
	queue  *recordingQueue
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	images, err := artifacts.NewFileStore(dir)
	require.NoError(t, err)
	policy, err := admission.NewPolicy("")
	require.NoError(t, err)

	f := &fixture{store: store.NewShardedStore(4), images: images, queue: &recordingQueue{}, dir: dir}
	f.svc = New(Deps{
		Store:         f.store,
		Images:        images,
		Policy:        policy,
		Pipeline:      f.queue,
		PublicBaseURL: "http://localhost:3000/",
	})
	return f
}

func pt(x, y, z float64) *geometry.Point3D {
	return &geometry.Point3D{X: x, Y: y, Z: z}
}

func TestSubmit_CreatesPendingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, SubmitRequest{Image: []byte("jpeg"), Start: pt(0, 0, 0), End: pt(1, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/status/"+r.MeasurementID, r.URL)
	assert.Equal(t, []string{r.MeasurementID}, f.queue.IDs())

	m, err := f.svc.Status(ctx, r.MeasurementID)
	require.NoError(t, err)
	assert.Equal(t, measurement.StatusPending, m.Status)
	assert.Equal(t, geometry.FixedPoint3D{}, m.StartPoint)
	assert.Equal(t, geometry.FixedPoint3D{X: 100000}, m.EndPoint)
	assert.Equal(t, uint64(10_000_000_000), m.DistanceSquared)
	assert.Equal(t, filepath.ToSlash(filepath.Join(f.dir, r.MeasurementID+".jpg")), m.ImagePath)
	assert.Nil(t, m.Attestation)

	img, err := f.svc.Image(ctx, r.MeasurementID)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), img)
}

func TestSubmit_ValidationCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]SubmitRequest{
		"no image":     {Start: pt(0, 0, 0), End: pt(1, 0, 0)},
		"no start":     {Image: []byte("x"), End: pt(1, 0, 0)},
		"no end":       {Image: []byte("x"), Start: pt(0, 0, 0)},
		"out of range": {Image: []byte("x"), Start: pt(0, 0, 0), End: pt(1e9, 0, 0)},
		"rejected":     {Image: []byte("x"), Start: pt(0, 0, 0), End: pt(20000, 0, 0)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.queue.IDs())
}

func TestSubmit_ImageFailureCreatesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.svc.images = failingImages{f.images}

	_, err := f.svc.Submit(context.Background(), SubmitRequest{Image: []byte("x"), Start: pt(0, 0, 0), End: pt(0, 1, 0)})
	assert.ErrorIs(t, err, ErrStorage)
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.queue.IDs())
}

func TestSubmit_ConcurrentIdentitiesAreUnique(t *testing.T) {
	const n = 50
	f := newFixture(t)

	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.svc.Submit(context.Background(), SubmitRequest{
				Image: []byte(fmt.Sprintf("img-%d", i)),
				Start: pt(0, 0, 0),
				End:   pt(float64(i), 0, 0),
			})
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			ids[i] = r.MeasurementID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, f.store.Len())
	assert.Len(t, f.queue.IDs(), n)
}

func TestStatusAndImage_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Image(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

type stubEnricher struct{ att measurement.Attestation }

func (s stubEnricher) Enrich(_ context.Context, m measurement.Measurement) measurement.Measurement {
	a := s.att
	m.Attestation = &a
	return m
}

func TestStatus_UsesEnricher(t *testing.T) {
	f := newFixture(t)
	f.svc.enricher = stubEnricher{att: measurement.Attestation{AttestationID: 3}}

	r, err := f.svc.Submit(context.Background(), SubmitRequest{Image: []byte("x"), Start: pt(0, 0, 0), End: pt(0, 0, 1)})
	require.NoError(t, err)

	m, err := f.svc.Status(context.Background(), r.MeasurementID)
	require.NoError(t, err)
	require.NotNil(t, m.Attestation)
	assert.Equal(t, uint64(3), m.Attestation.AttestationID)
}
