// Package artifact_test tests the content-addressed artifact store.
package artifact_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-clone-service/internal/artifact"
	"github.com/book-expert/voice-clone-service/internal/core"
)

func newTestStore(t *testing.T) (*artifact.Store, afero.Fs) {
	t.Helper()

	fsys := afero.NewMemMapFs()

	testLogger, err := logger.New(t.TempDir(), "store-test.log")
	require.NoError(t, err)

	store, err := artifact.New(fsys, "artifacts", testLogger)
	require.NoError(t, err)

	return store, fsys
}

func referenceMeta() core.ArtifactMeta {
	return core.ArtifactMeta{
		Format:     core.FormatWAV,
		SampleRate: 16000,
		Duration:   1200 * time.Millisecond,
	}
}

func TestStoreReference(t *testing.T) {
	t.Parallel()

	store, fsys := newTestStore(t)
	ctx := context.Background()

	data := []byte("reference audio bytes")

	record, err := store.Store(ctx, data, core.KindReference, referenceMeta())
	require.NoError(t, err)

	assert.Equal(t, core.KindReference, record.Kind)
	assert.Equal(t, core.FormatWAV, record.Format)
	assert.Equal(t, int64(len(data)), record.ByteSize)
	assert.NotEmpty(t, record.Checksum)
	assert.Equal(t, 16000, record.SampleRate)

	onDisk, err := afero.ReadFile(fsys, record.Path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestStoreReferenceIsIdempotent(t *testing.T) {
	t.Parallel()

	store, fsys := newTestStore(t)
	ctx := context.Background()

	data := []byte("identical upload")

	first, err := store.Store(ctx, data, core.KindReference, referenceMeta())
	require.NoError(t, err)

	second, err := store.Store(ctx, data, core.KindReference, referenceMeta())
	require.NoError(t, err)

	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.Checksum, second.Checksum)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "the original record is reused")

	entries, err := afero.ReadDir(fsys, "artifacts/references")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no duplicate file is written")
}

func TestStoreOutputsAreNotDeduplicated(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	data := []byte("identical generated audio")

	first, err := store.Store(ctx, data, core.KindOutput, core.ArtifactMeta{
		JobID:  "job-a",
		Format: core.FormatWAV,
	})
	require.NoError(t, err)

	second, err := store.Store(ctx, data, core.KindOutput, core.ArtifactMeta{
		JobID:  "job-b",
		Format: core.FormatWAV,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.Key, second.Key, "output identity includes the job")
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestStoreNamespacesAreSeparate(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	data := []byte("same bytes, different kinds")

	reference, err := store.Store(ctx, data, core.KindReference, referenceMeta())
	require.NoError(t, err)

	output, err := store.Store(ctx, data, core.KindOutput, core.ArtifactMeta{
		JobID:  "job-a",
		Format: core.FormatWAV,
	})
	require.NoError(t, err)

	assert.NotEqual(t, reference.Key, output.Key)
	assert.Equal(t, reference.Checksum, output.Checksum)
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	data := []byte("round trip payload")

	record, err := store.Store(ctx, data, core.KindReference, referenceMeta())
	require.NoError(t, err)

	loaded, err := store.Load(ctx, record.Key)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestLoadUnknownKey(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	_, err := store.Load(context.Background(), "references/missing.wav")
	require.Error(t, err)

	var storageErr *core.StorageError

	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, core.StorageIOError, storageErr.Kind)
}

func TestNoPartialFilesVisibleAfterStore(t *testing.T) {
	t.Parallel()

	store, fsys := newTestStore(t)
	ctx := context.Background()

	_, err := store.Store(ctx, []byte("payload"), core.KindReference, referenceMeta())
	require.NoError(t, err)

	entries, err := afero.ReadDir(fsys, "artifacts/tmp")
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files are renamed away on publish")
}

func TestGetReturnsStoredRecord(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	record, err := store.Store(
		context.Background(),
		[]byte("payload"),
		core.KindReference,
		referenceMeta(),
	)
	require.NoError(t, err)

	found, ok := store.Get(record.Key)
	require.True(t, ok)
	assert.Equal(t, record, found)

	_, ok = store.Get("references/other.wav")
	assert.False(t, ok)
}

func TestIndexRebuiltFromDisk(t *testing.T) {
	t.Parallel()

	store, fsys := newTestStore(t)
	ctx := context.Background()

	referenceData := []byte("surviving reference")
	outputData := []byte("surviving output")

	reference, err := store.Store(ctx, referenceData, core.KindReference, referenceMeta())
	require.NoError(t, err)

	output, err := store.Store(ctx, outputData, core.KindOutput, core.ArtifactMeta{
		JobID:  "job-a",
		Format: core.FormatWAV,
	})
	require.NoError(t, err)

	testLogger, err := logger.New(t.TempDir(), "store-restart.log")
	require.NoError(t, err)

	// A fresh Store over the same filesystem stands in for a restart.
	reopened, err := artifact.New(fsys, "artifacts", testLogger)
	require.NoError(t, err)

	restoredRef, ok := reopened.Get(reference.Key)
	require.True(t, ok)
	assert.Equal(t, reference.Checksum, restoredRef.Checksum)
	assert.Equal(t, reference.ByteSize, restoredRef.ByteSize)
	assert.Equal(t, core.FormatWAV, restoredRef.Format)

	restoredOut, ok := reopened.Get(output.Key)
	require.True(t, ok)
	assert.Equal(t, "job-a", restoredOut.JobID)
	assert.Equal(t, output.Checksum, restoredOut.Checksum)

	loaded, err := reopened.Load(ctx, reference.Key)
	require.NoError(t, err)
	assert.Equal(t, referenceData, loaded)
}

func TestRebuiltIndexStillDeduplicates(t *testing.T) {
	t.Parallel()

	store, fsys := newTestStore(t)
	ctx := context.Background()

	data := []byte("deduplicated across restarts")

	original, err := store.Store(ctx, data, core.KindReference, referenceMeta())
	require.NoError(t, err)

	testLogger, err := logger.New(t.TempDir(), "store-restart.log")
	require.NoError(t, err)

	reopened, err := artifact.New(fsys, "artifacts", testLogger)
	require.NoError(t, err)

	again, err := reopened.Store(ctx, data, core.KindReference, referenceMeta())
	require.NoError(t, err)
	assert.Equal(t, original.Key, again.Key)

	entries, err := afero.ReadDir(fsys, "artifacts/references")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the restored record prevents a duplicate write")
}

func TestRebuildIgnoresUnrecognizedFiles(t *testing.T) {
	t.Parallel()

	_, fsys := newTestStore(t)

	junkPath := "artifacts/references/notes.txt"
	require.NoError(t, afero.WriteFile(fsys, junkPath, []byte("junk"), 0o600))

	testLogger, err := logger.New(t.TempDir(), "store-restart.log")
	require.NoError(t, err)

	reopened, err := artifact.New(fsys, "artifacts", testLogger)
	require.NoError(t, err)

	_, ok := reopened.Get("references/notes.txt")
	assert.False(t, ok)
}
