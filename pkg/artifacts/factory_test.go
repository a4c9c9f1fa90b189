package artifacts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := New(context.Background(), Config{Dir: dir})
	require.NoError(t, err)

	fs, ok := store.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", store)
	assert.Equal(t, dir, fs.baseDir)
}

func TestNew_MissingBucket(t *testing.T) {
	for _, b := range []Backend{BackendS3, BackendGCS} {
		_, err := New(context.Background(), Config{Backend: b})
		assert.ErrorContains(t, err, "bucket is required", string(b))
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "tape"})
	assert.ErrorContains(t, err, "unsupported artifact backend")
}
