package whatsapp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
)

func TestCredentialStoreWipe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	store := NewCredentialStore(dir, nil)
	require.NoError(t, store.Ensure())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.db"), []byte("creds"), 0o644))

	require.NoError(t, store.Wipe())

	// The directory survives empty so a reconnect can re-pair into it.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCredentialStoreDSN(t *testing.T) {
	store := NewCredentialStore("/var/lib/waygate/auth", nil)
	assert.Equal(t, "file:/var/lib/waygate/auth/session.db?_foreign_keys=on", store.DSN())
}

func TestMediaKind(t *testing.T) {
	cases := map[string]whatsmeow.MediaType{
		"image/jpeg":      whatsmeow.MediaImage,
		"image/webp":      whatsmeow.MediaImage,
		"video/mp4":       whatsmeow.MediaVideo,
		"audio/ogg":       whatsmeow.MediaAudio,
		"application/pdf": whatsmeow.MediaDocument,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": whatsmeow.MediaDocument,
	}
	for mime, want := range cases {
		assert.Equal(t, want, MediaKind(mime), "mime %s", mime)
	}
}
