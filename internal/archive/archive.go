// Package archive stores purged jobs as JSON lines before they are deleted.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"durable-queue/internal/models"
)

// Sink persists one archive object and returns where it was written.
type Sink interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Archiver encodes jobs and hands them to a Sink. It satisfies store.Archiver.
type Archiver struct {
	sink   Sink
	prefix string
	now    func() time.Time
}

// New returns an archiver writing objects under prefix.
func New(sink Sink, prefix string) *Archiver {
	return &Archiver{sink: sink, prefix: prefix, now: time.Now}
}

// Archive writes jobs as a single JSON-lines object. An empty batch writes
// nothing.
func (a *Archiver) Archive(ctx context.Context, jobs []models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	body, err := encodeLines(jobs)
	if err != nil {
		return err
	}
	if _, err := a.sink.Put(ctx, a.objectKey(), body, "application/x-ndjson"); err != nil {
		return fmt.Errorf("archive %d jobs: %w", len(jobs), err)
	}
	return nil
}

func (a *Archiver) objectKey() string {
	now := a.now().UTC()
	name := fmt.Sprintf("%d-%s.jsonl", now.UnixMilli(), uuid.NewString())
	return path.Join(a.prefix, now.Format("2006/01/02"), name)
}

func encodeLines(jobs []models.Job) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			return nil, fmt.Errorf("encode job %s: %w", job.ID, err)
		}
	}
	return buf.Bytes(), nil
}
