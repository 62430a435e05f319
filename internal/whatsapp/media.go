package whatsapp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-backend/internal/models"
)

// MediaStore writes downloaded and uploaded files under a per-user directory
// and derives the public URLs the dashboard uses to render them.
type MediaStore struct {
	dir        string
	publicBase string
}

// NewMediaStore creates a media store rooted at dir; publicBase is the
// externally reachable base URL (no trailing slash).
func NewMediaStore(dir, publicBase string) *MediaStore {
	return &MediaStore{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}
}

// Save writes payload bytes for a user under a fresh unique filename with an
// extension derived from the message kind, returning the public URL.
func (m *MediaStore) Save(userID, kind string, data []byte) (string, error) {
	userDir := filepath.Join(m.dir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	filename := uuid.NewString() + "." + models.MediaExtension(kind)
	if err := os.WriteFile(filepath.Join(userDir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return m.URLFor(userID, filename), nil
}

// URLFor returns the public URL for a stored file.
func (m *MediaStore) URLFor(userID, filename string) string {
	return fmt.Sprintf("%s/media/%s/%s", m.publicBase, userID, filename)
}

// Resolve maps an uploaded file's relative path (as returned by the upload
// endpoint) back to its absolute location, refusing paths that escape the
// user's directory.
func (m *MediaStore) Resolve(userID, relative string) (string, error) {
	userDir := filepath.Join(m.dir, userID)
	full := filepath.Join(userDir, relative)
	if !strings.HasPrefix(full, userDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid media path: %s", relative)
	}
	return full, nil
}

// Dir returns the root media directory (served as /media by the HTTP layer).
func (m *MediaStore) Dir() string {
	return m.dir
}

// UserDir returns (and creates) the user's media directory for uploads.
func (m *MediaStore) UserDir(userID string) (string, error) {
	userDir := filepath.Join(m.dir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", err
	}
	return userDir, nil
}
