package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

// StoreSink writes documents into the SQLite session table.
type StoreSink struct {
	repo *store.SessionRepository
}

// NewStoreSink creates a sink over repo.
func NewStoreSink(repo *store.SessionRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Write stores doc as a new row with a fresh ID.
func (s *StoreSink) Write(ctx context.Context, name string, doc session.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	return s.repo.Create(&store.Session{
		ID:      uuid.New().String(),
		Name:    FileName(name),
		NFrames: doc.NFrames,
		PoseLen: doc.PoseLen(),
		HandLen: doc.HandLen(),
		Data:    data,
	})
}
