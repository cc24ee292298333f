package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	loc, err := s.Put(ctx, "REP-2025-10.docx", []byte("report body"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "REP-2025-10.docx"), loc)

	data, err := s.Get(ctx, "REP-2025-10.docx")
	require.NoError(t, err)
	assert.Equal(t, "report body", string(data))

	ok, err := s.Exists(ctx, "REP-2025-10.docx")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "REP-2025-10.docx"))
	ok, err = s.Exists(ctx, "REP-2025-10.docx")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting again is a no-op
	require.NoError(t, s.Delete(ctx, "REP-2025-10.docx"))
}

func TestFileStoreOverwrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "packs/proof.zip", []byte("v1"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "packs/proof.zip", []byte("v2"))
	require.NoError(t, err)

	data, err := s.Get(ctx, "packs/proof.zip")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestFileStoreRejectsEscapingNames(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"", "../outside.zip", "/etc/passwd"} {
		_, err := s.Put(ctx, name, []byte("x"))
		assert.Error(t, err, name)
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "nope.zip")
	assert.ErrorContains(t, err, "artifact not found")
}

func TestNewStoreFromEnvDefaultsToFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARTIFACTS_BACKEND", "")
	t.Setenv("ARTIFACTS_DIR", dir)

	s, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.Dir())

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestNewStoreFromEnvUnknownBackend(t *testing.T) {
	t.Setenv("ARTIFACTS_BACKEND", "tape")
	_, err := NewStoreFromEnv(context.Background())
	assert.ErrorContains(t, err, "unsupported artifacts backend")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/zip", contentType("proof_pack_batch.zip"))
	assert.Contains(t, contentType("REP-2025-10.docx"), "wordprocessingml")
	assert.Equal(t, "application/octet-stream", contentType("notes.txt"))
}
