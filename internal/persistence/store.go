// Package persistence is the durable store for session metadata and
// transcripts. Metadata lives in the sqlite index; transcripts are
// append-only JSON-Lines files.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lagz0ne/claude-web/internal/model"
	"github.com/lagz0ne/claude-web/internal/repository"
	"github.com/lagz0ne/claude-web/internal/transcript"
)

// Store implements the session engine's persistence contract.
type Store struct {
	repo *repository.SessionRepository
	log  *transcript.Log
}

// NewStore combines a metadata repository and a transcript log.
func NewStore(repo *repository.SessionRepository, log *transcript.Log) *Store {
	return &Store{repo: repo, log: log}
}

// SaveSessionMeta upserts the metadata record for meta.ID.
func (s *Store) SaveSessionMeta(ctx context.Context, meta *model.SessionMeta) error {
	if err := model.ValidateID(meta.ID); err != nil {
		return err
	}
	return s.repo.Save(ctx, meta)
}

// LoadSessionsMeta returns every known metadata record keyed by id.
func (s *Store) LoadSessionsMeta(ctx context.Context) (map[string]*model.SessionMeta, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]*model.SessionMeta, len(list))
	for _, meta := range list {
		index[meta.ID] = meta
	}
	return index, nil
}

// SessionMeta returns the metadata for one id.
func (s *Store) SessionMeta(ctx context.Context, id string) (*model.SessionMeta, error) {
	if err := model.ValidateID(id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// AppendMessage durably appends one transcript event.
func (s *Store) AppendMessage(id string, event json.RawMessage) error {
	if err := s.log.Append(id, event); err != nil {
		return fmt.Errorf("append message for %s: %w", id, err)
	}
	return nil
}

// LoadMessages replays the durable transcript for id in append order.
func (s *Store) LoadMessages(id string) ([]json.RawMessage, error) {
	return s.log.Load(id)
}

// UpdateSessionStatus transitions the status and refreshes lastMessageAt.
// messageCount, when non-nil, replaces the stored count.
// Unknown ids fail with model.ErrSessionNotFound.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus, messageCount *int) error {
	if err := model.ValidateID(id); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, id, status, messageCount)
}

// EndStaleSessions marks every record still active as ended. It runs once
// at startup, when no stream from a previous process can still be alive.
func (s *Store) EndStaleSessions(ctx context.Context) (int, error) {
	return s.repo.EndActive(ctx)
}
