package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statfiler/internal/filing"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake-image-body")

func TestRecorder_KeyFormat(t *testing.T) {
	at := time.Date(2026, 10, 18, 14, 3, 5, 123_000_000, time.UTC)
	r := NewRecorder(NewMemory(), "")
	assert.Equal(t, "vault/task-1/pre-submission-1792332185123.png", r.Key("task-1", PhasePreSubmission, at))

	r = NewRecorder(NewMemory(), "/evidence/")
	assert.Equal(t, "evidence/task-1/failure-1792332185123.png", r.Key("task-1", PhaseFailure, at))
}

func TestRecorder_CaptureUploadsWithMetadata(t *testing.T) {
	store := NewMemory()
	at := time.Date(2026, 10, 18, 14, 3, 5, 0, time.UTC)
	r := NewRecorder(store, "").WithClock(func() time.Time { return at })

	art, err := r.Capture(context.Background(), "task-1", PhasePostConfirmation, "2026.10-1", fakePNG)
	require.NoError(t, err)

	sum := sha256.Sum256(fakePNG)
	assert.Equal(t, hex.EncodeToString(sum[:]), art.SHA256)
	assert.Equal(t, int64(len(fakePNG)), art.Size)
	assert.Equal(t, at, art.CapturedAt)

	info, err := store.Head(context.Background(), art.Key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.ContentType)
	assert.Equal(t, map[string]string{
		MetaTaskID:          "task-1",
		MetaPhase:           "post-confirmation",
		MetaSelectorVersion: "2026.10-1",
		MetaSHA256:          art.SHA256,
	}, info.Metadata)

	body, ok := store.Bytes(art.Key)
	require.True(t, ok)
	assert.True(t, bytes.Equal(fakePNG, body))
}

func TestRecorder_RejectsEmptyTaskID(t *testing.T) {
	_, err := NewRecorder(NewMemory(), "").Capture(context.Background(), "", PhaseFailure, "v", fakePNG)
	assert.Error(t, err)
}

func TestStores_AreCreateOnly(t *testing.T) {
	fsStore, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	for _, store := range []Store{NewMemory(), fsStore} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Put(ctx, "vault/t/a.png", bytes.NewReader(fakePNG), int64(len(fakePNG)), PutOptions{ContentType: "image/png"})
			require.NoError(t, err)

			_, err = store.Put(ctx, "vault/t/a.png", bytes.NewReader([]byte("other")), 5, PutOptions{})
			require.ErrorIs(t, err, filing.ErrEvidenceExists)

			info, err := store.Head(ctx, "vault/t/a.png")
			require.NoError(t, err)
			assert.Equal(t, int64(len(fakePNG)), info.Size, "original object is untouched")
		})
	}
}

func TestFilesystem_RejectsTraversal(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "../escape.png", "/abs.png"} {
		_, err := store.Put(context.Background(), key, bytes.NewReader(fakePNG), 1, PutOptions{})
		assert.Error(t, err, key)
	}
}
