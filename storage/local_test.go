package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	id := uuid.New()
	path, err := s.Upload(ctx, id, "scene photo.JPG", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, id.String()[:2]+"/"))
	assert.True(t, strings.HasSuffix(path, "_scene_photo.jpg"))

	rc, err := s.Download(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	require.NoError(t, s.Delete(ctx, path))
	require.NoError(t, s.Delete(ctx, path))

	_, err = s.Download(ctx, path)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Download(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.jpg":  "image/jpeg",
		"a.JPEG": "image/jpeg",
		"a.png":  "image/png",
		"a.webp": "image/webp",
		"a.mp4":  "video/mp4",
		"a.pdf":  "application/pdf",
		"a.bin":  "application/octet-stream",
		"noext":  "application/octet-stream",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, ContentType(name))
		})
	}
}
