// Package capture produces recorded answers for the analysis pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

var ErrNoRecording = errors.New("capture: no recording available")

// FileCapture returns a recording that was written to disk by a recorder.
type FileCapture struct {
	Path string
	Name string
}

func (c FileCapture) GetFile(ctx context.Context) (domain.MediaFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.MediaFile{}, err
	}
	if strings.TrimSpace(c.Path) == "" {
		return domain.MediaFile{}, ErrNoRecording
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return domain.MediaFile{}, fmt.Errorf("capture: read %s: %w", c.Path, err)
	}
	if len(data) == 0 {
		return domain.MediaFile{}, ErrNoRecording
	}

	name := c.Name
	if name == "" {
		name = filepath.Base(c.Path)
	}
	return domain.MediaFile{Name: name, ContentType: contentType(name, data), Data: data}, nil
}

// BytesCapture wraps a recording that already sits in memory, such as an
// upload request body.
type BytesCapture struct {
	Name        string
	ContentType string
	Data        []byte
}

func (c BytesCapture) GetFile(ctx context.Context) (domain.MediaFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.MediaFile{}, err
	}
	if len(c.Data) == 0 {
		return domain.MediaFile{}, ErrNoRecording
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "video.mp4"
	}
	kind := c.ContentType
	if kind == "" || kind == "application/octet-stream" {
		kind = contentType(name, c.Data)
	}
	return domain.MediaFile{Name: name, ContentType: kind, Data: c.Data}, nil
}

func contentType(name string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
