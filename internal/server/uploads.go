package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// allowedMedia maps accepted upload MIME types to the extension used
// for their scratch file.
var allowedMedia = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"video/mp4":  ".mp4",
	"audio/mpeg": ".mp3",
	"audio/mp3":  ".mp3",
	"audio/ogg":  ".ogg",
}

// uploadScratch stages uploaded media in a scratch directory. Files are
// removed after the send attempt, success or failure.
type uploadScratch struct {
	dir      string
	maxBytes int64
}

// stage validates and writes an upload to the scratch directory,
// returning the staged path and the normalized MIME type. The caller
// must remove the file when done.
func (u *uploadScratch) stage(file multipart.File, header *multipart.FileHeader) (path, mimeType string, err error) {
	if header.Size > u.maxBytes {
		return "", "", fmt.Errorf("file exceeds %d bytes", u.maxBytes)
	}

	mimeType = header.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	ext, ok := allowedMedia[mimeType]
	if !ok {
		return "", "", fmt.Errorf("unsupported media type %q", mimeType)
	}

	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create scratch directory: %w", err)
	}

	path = filepath.Join(u.dir, uuid.NewString()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("create scratch file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(file, u.maxBytes+1)); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("write scratch file: %w", err)
	}
	return path, mimeType, nil
}
