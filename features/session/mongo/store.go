package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/agentrun/features/session/mongo/clients/mongo"
	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// ReadOrCreate loads the session, creating an empty one when missing.
func (s *Store) ReadOrCreate(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	return s.client.ReadOrCreateSession(ctx, sessionID, userID)
}

// Upsert writes the session and its run records back to storage.
func (s *Store) Upsert(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return errors.New("session is required")
	}
	if err := s.client.ReplaceSession(ctx, sess); err != nil {
		return err
	}
	for _, rec := range sess.Runs {
		if rec == nil {
			continue
		}
		if err := s.client.UpsertRun(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// GetRun loads one run record from the session, for background-run polling.
func (s *Store) GetRun(ctx context.Context, sessionID, runID string) (*run.Record, error) {
	return s.client.LoadRun(ctx, sessionID, runID)
}
