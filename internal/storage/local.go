// Package storage keeps uploaded answer recordings on the local filesystem
// and hands out URLs the analysis API can download them from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

var (
	ErrEmptyFile   = errors.New("storage: media file is empty")
	ErrInvalidName = errors.New("storage: invalid object name")
)

// LocalStore implements the orchestrator storage contract on a directory.
type LocalStore struct {
	BaseDir string
	BaseURL string
	Bucket  string
}

func NewLocalStore(baseDir, baseURL, bucket string) *LocalStore {
	if strings.TrimSpace(bucket) == "" {
		bucket = "answers"
	}
	return &LocalStore{
		BaseDir: baseDir,
		BaseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		Bucket:  bucket,
	}
}

// Upload writes the file as <id>-<name> and returns its handle. The write
// goes through a temporary file so readers never see a partial object.
func (s *LocalStore) Upload(ctx context.Context, file domain.MediaFile, id string) (domain.UploadHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.UploadHandle{}, err
	}
	if len(file.Data) == 0 {
		return domain.UploadHandle{}, ErrEmptyFile
	}

	name := objectName(id, file.Name)
	if name == "" {
		return domain.UploadHandle{}, ErrInvalidName
	}
	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return domain.UploadHandle{}, fmt.Errorf("failed to create media directory %s: %w", s.BaseDir, err)
	}

	tmp, err := os.CreateTemp(s.BaseDir, ".upload-*")
	if err != nil {
		return domain.UploadHandle{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(file.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return domain.UploadHandle{}, fmt.Errorf("failed to write media file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return domain.UploadHandle{}, fmt.Errorf("failed to close media file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.BaseDir, name)); err != nil {
		_ = os.Remove(tmpName)
		return domain.UploadHandle{}, fmt.Errorf("failed to store media file %s: %w", name, err)
	}

	return domain.UploadHandle{Bucket: s.Bucket, Path: name, Size: int64(len(file.Data))}, nil
}

// DownloadURL resolves a handle to the public URL served under /media/.
func (s *LocalStore) DownloadURL(_ context.Context, handle domain.UploadHandle) (string, error) {
	if handle.Path == "" || handle.Path != path.Base(handle.Path) {
		return "", ErrInvalidName
	}
	return s.BaseURL + "/" + url.PathEscape(handle.Path), nil
}

// Resolve maps an object name to its path on disk, refusing traversal.
func (s *LocalStore) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.BaseDir, name), nil
}

func objectName(id, name string) string {
	id = sanitize(id)
	name = sanitize(filepath.Base(name))
	if name == "" || name == "." {
		name = "video.mp4"
	}
	if id == "" {
		return ""
	}
	return id + "-" + name
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
