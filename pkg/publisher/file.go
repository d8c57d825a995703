package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ros-tooling/ci-for-pr/pkg/log"
)

// RecordFile is written next to every manifest stored by FilePublisher.
const RecordFile = "publish-result.json"

// Record describes one manifest stored on disk.
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	File        string    `json:"file"`
	PublishedAt time.Time `json:"published_at"`
}

// FilePublisher stores each manifest in a new directory under Dir. It is
// meant for runners that share a filesystem with this tool, and for dry runs.
type FilePublisher struct {
	dir      string
	fileName string
	now      func() time.Time
}

// NewFilePublisher creates a file publisher rooted at dir.
func NewFilePublisher(dir, fileName string) *FilePublisher {
	return &FilePublisher{dir: dir, fileName: fileName, now: time.Now}
}

// Name returns "file".
func (p *FilePublisher) Name() string {
	return "file"
}

// Publish writes content to <dir>/<id>/<fileName> and returns its file:// URL.
func (p *FilePublisher) Publish(_ context.Context, content []byte, title string) (Ref, error) {
	ref, err := p.publish(content, title)
	if err != nil {
		return Ref{}, &PublishError{Publisher: p.Name(), Err: err}
	}
	log.Info("stored manifest", "path", ref.ID, "url", ref.URL)
	return ref, nil
}

func (p *FilePublisher) publish(content []byte, title string) (Ref, error) {
	root, err := filepath.Abs(p.dir)
	if err != nil {
		return Ref{}, fmt.Errorf("failed to resolve publish directory: %w", err)
	}

	id := uuid.NewString()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Ref{}, fmt.Errorf("failed to create publish directory: %w", err)
	}
	// Mkdir, not MkdirAll: the id directory must be new.
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	path := filepath.Join(dir, p.fileName)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Ref{}, fmt.Errorf("failed to write manifest: %w", err)
	}

	record := Record{ID: id, Title: title, File: p.fileName, PublishedAt: p.now().UTC()}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Ref{}, fmt.Errorf("failed to marshal publish record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RecordFile), data, 0o644); err != nil {
		return Ref{}, fmt.Errorf("failed to write publish record: %w", err)
	}

	return Ref{URL: "file://" + filepath.ToSlash(path), ID: id}, nil
}

// ReadRecord reads the record of a manifest stored under dir.
func ReadRecord(dir, id string) (Record, error) {
	var record Record

	data, err := os.ReadFile(filepath.Join(dir, id, RecordFile))
	if err != nil {
		return record, fmt.Errorf("failed to read publish record: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("failed to unmarshal publish record: %w", err)
	}
	return record, nil
}
