package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/darasa-app/darasa/internal/store"
)

// Snapshots stores downloaded quiz snapshots in their own partition of
// the assessments database, keyed by quiz id. Snapshots are the sole
// input to offline grading; results live in a different table so
// clearing snapshots never touches history.
type Snapshots struct {
	part *store.Partition
}

// NewSnapshots wraps the quiz snapshot partition.
func NewSnapshots(part *store.Partition) *Snapshots {
	return &Snapshots{part: part}
}

// Ingest normalizes a raw platform quiz payload and stores the snapshot,
// overwriting any prior download of the same quiz.
func (s *Snapshots) Ingest(ctx context.Context, raw []byte) (*Quiz, error) {
	quiz, err := ParseQuiz(raw)
	if err != nil {
		return nil, err
	}
	quiz.DownloadedAt = time.Now().UTC()

	payload, err := json.Marshal(quiz)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quiz snapshot: %w", err)
	}
	if err := s.part.Put(ctx, quiz.ID, payload); err != nil {
		return nil, fmt.Errorf("failed to store quiz snapshot: %w", err)
	}
	return quiz, nil
}

// Get loads one downloaded quiz snapshot.
func (s *Snapshots) Get(ctx context.Context, quizID string) (*Quiz, error) {
	rec, err := s.part.Get(ctx, quizID)
	if err != nil {
		return nil, err
	}
	var quiz Quiz
	if err := json.Unmarshal(rec.Payload, &quiz); err != nil {
		return nil, fmt.Errorf("failed to decode quiz snapshot: %w", err)
	}
	return &quiz, nil
}

// List returns every downloaded quiz.
func (s *Snapshots) List(ctx context.Context) ([]*Quiz, error) {
	recs, err := s.part.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Quiz, 0, len(recs))
	for _, rec := range recs {
		var quiz Quiz
		if err := json.Unmarshal(rec.Payload, &quiz); err != nil {
			return nil, fmt.Errorf("failed to decode quiz snapshot %s: %w", rec.Key, err)
		}
		out = append(out, &quiz)
	}
	return out, nil
}

// Delete removes one downloaded quiz snapshot.
func (s *Snapshots) Delete(ctx context.Context, quizID string) error {
	return s.part.Delete(ctx, quizID)
}
