package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileCaptureReadsRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.mp4")
	if err := os.WriteFile(path, []byte("frames"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	file, err := FileCapture{Path: path}.GetFile(context.Background())
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if file.Name != "answer.mp4" || string(file.Data) != "frames" {
		t.Fatalf("unexpected file %+v", file)
	}
	if file.ContentType == "" {
		t.Fatalf("expected a content type")
	}
}

func TestFileCaptureMissingRecording(t *testing.T) {
	if _, err := (FileCapture{}).GetFile(context.Background()); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("expected ErrNoRecording, got %v", err)
	}
	if _, err := (FileCapture{Path: filepath.Join(t.TempDir(), "missing.mp4")}).GetFile(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestBytesCaptureDefaults(t *testing.T) {
	file, err := BytesCapture{Data: []byte("x")}.GetFile(context.Background())
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if file.Name != "video.mp4" {
		t.Fatalf("expected default name, got %q", file.Name)
	}
	if _, err := (BytesCapture{}).GetFile(context.Background()); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("expected ErrNoRecording, got %v", err)
	}
}
