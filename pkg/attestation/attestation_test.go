package attestation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/zkhotdog/pkg/geometry"
	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
	"github.com/Mindburn-Labs/zkhotdog/pkg/store"
)

func TestParse(t *testing.T) {
	a, err := Parse([]byte(`{"attestationId": 42, "merklePath": ["0xab", "0xcd"], "leafCount": 4, "index": 3}`))
	require.NoError(t, err)
	assert.Equal(t, measurement.Attestation{AttestationID: 42, MerklePath: []string{"0xab", "0xcd"}, LeafCount: 4, Index: 3}, a)

	a, err = Parse([]byte(`{"attestationId": 18446744073709551615}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), a.AttestationID)
	assert.Equal(t, []string{}, a.MerklePath)
	assert.Zero(t, a.LeafCount)
}

func TestParse_Malformed(t *testing.T) {
	for name, doc := range map[string]string{
		"missing id":        `{"merklePath": []}`,
		"negative id":       `{"attestationId": -1}`,
		"string id":         `{"attestationId": "1"}`,
		"empty path entry":  `{"attestationId": 1, "merklePath": [""]}`,
		"index past leaves": `{"attestationId": 1, "leafCount": 2, "index": 2}`,
		"not json":          `{"attestationId": 1`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func completed(t *testing.T, st store.Store, id string) measurement.Measurement {
	t.Helper()
	ctx := context.Background()
	m := measurement.New(id, "uploads/"+id+".jpg", geometry.FixedPoint3D{}, geometry.FixedPoint3D{Y: 5}, 25, time.Now())
	require.NoError(t, st.Create(ctx, m))
	for _, s := range []measurement.Status{measurement.StatusProcessing, measurement.StatusCompleted} {
		next := s
		_, err := st.Mutate(ctx, id, func(m *measurement.Measurement) error { return m.Advance(next, time.Now()) })
		require.NoError(t, err)
	}
	snap, err := st.Snapshot(ctx, id)
	require.NoError(t, err)
	return snap
}

func writeEvidence(t *testing.T, dir, id, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, id), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id, FileName), []byte(body), 0o600))
}

func TestMerger_AttachesOnce(t *testing.T) {
	dir := t.TempDir()
	st := store.NewShardedStore(2)
	mg := NewMerger(st, FileProber{Dir: dir}, nil)
	ctx := context.Background()

	m := completed(t, st, "m-1")
	assert.Nil(t, mg.Enrich(ctx, m).Attestation, "no evidence yet")

	writeEvidence(t, dir, "m-1", `{"attestationId": 7, "merklePath": ["0x01"], "leafCount": 1, "index": 0}`)
	got := mg.Enrich(ctx, m)
	require.NotNil(t, got.Attestation)
	assert.Equal(t, uint64(7), got.Attestation.AttestationID)
	assert.Equal(t, measurement.StatusCompleted, got.Status)

	// Later evidence never replaces the stored attestation.
	writeEvidence(t, dir, "m-1", `{"attestationId": 8}`)
	again := mg.Enrich(ctx, m)
	assert.Equal(t, uint64(7), again.Attestation.AttestationID)

	stored, err := st.Snapshot(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), stored.Attestation.AttestationID)
}

func TestMerger_MalformedEvidenceIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	st := store.NewShardedStore(1)
	mg := NewMerger(st, FileProber{Dir: dir}, nil)

	m := completed(t, st, "m-2")
	writeEvidence(t, dir, "m-2", `{"attestationId": "nope"}`)

	got := mg.Enrich(context.Background(), m)
	assert.Nil(t, got.Attestation)
	assert.Equal(t, measurement.StatusCompleted, got.Status)
}

type countingProber struct {
	calls atomic.Int32
	att   *measurement.Attestation
	err   error
}

func (c *countingProber) Probe(context.Context, string) (*measurement.Attestation, error) {
	c.calls.Add(1)
	return c.att, c.err
}

func TestMerger_SkipsNonCompleted(t *testing.T) {
	st := store.NewShardedStore(1)
	p := &countingProber{att: &measurement.Attestation{AttestationID: 1}}
	mg := NewMerger(st, p, nil)

	m := measurement.New("m-3", "", geometry.FixedPoint3D{}, geometry.FixedPoint3D{}, 0, time.Now())
	require.NoError(t, st.Create(context.Background(), m))

	got := mg.Enrich(context.Background(), m)
	assert.Nil(t, got.Attestation)
	assert.Zero(t, p.calls.Load(), "pending measurements are never probed")
}

func TestMerger_ProbeError(t *testing.T) {
	st := store.NewShardedStore(1)
	mg := NewMerger(st, &countingProber{err: errors.New("permission denied")}, nil)
	m := completed(t, st, "m-4")

	assert.Nil(t, mg.Enrich(context.Background(), m).Attestation)
}

func TestMerger_ConcurrentReadersAgree(t *testing.T) {
	dir := t.TempDir()
	st := store.NewShardedStore(4)
	mg := NewMerger(st, FileProber{Dir: dir}, nil)
	m := completed(t, st, "m-5")
	writeEvidence(t, dir, "m-5", `{"attestationId": 99, "merklePath": ["0xff"]}`)

	var wg sync.WaitGroup
	results := make([]uint64, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got := mg.Enrich(context.Background(), m)
			if got.Attestation != nil {
				results[i] = got.Attestation.AttestationID
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, uint64(99), r)
	}
}
