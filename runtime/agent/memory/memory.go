// Package memory defines the background enrichment contracts: extraction of
// durable user memories, shared cultural knowledge, and reusable learnings
// from a run's conversation, plus the store that persists the extracted
// items.
//
// Extraction runs concurrently with the model call and is joined before
// terminal cleanup. Extraction failures never affect the run outcome; they
// are swallowed and logged.
package memory

import (
	"context"
	"time"

	"goa.design/agentrun/runtime/agent/model"
)

type (
	// Kind classifies an extracted item.
	Kind string

	// Item is a single extracted fact persisted to the store.
	Item struct {
		// ID uniquely identifies the item.
		ID string `json:"id" bson:"id"`
		// Kind classifies the item.
		Kind Kind `json:"kind" bson:"kind"`
		// UserID scopes user memories. Empty for shared knowledge and
		// learnings.
		UserID string `json:"user_id,omitempty" bson:"user_id,omitempty"`
		// Content is the extracted fact.
		Content string `json:"content" bson:"content"`
		// Topics tag the item for retrieval.
		Topics []string `json:"topics,omitempty" bson:"topics,omitempty"`
		// RunID and SessionID record provenance.
		RunID     string `json:"run_id,omitempty" bson:"run_id,omitempty"`
		SessionID string `json:"session_id,omitempty" bson:"session_id,omitempty"`
		// CreatedAt records when the item was extracted.
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
	}

	// Input is what an extractor sees: the run identity and the message
	// sequence built for the model. Extractors hold the messages by shared
	// reference and must not mutate them.
	Input struct {
		RunID     string
		SessionID string
		UserID    string
		Messages  []*model.Message
	}

	// Extractor derives items of one kind from a conversation.
	// Implementations typically invoke a model; the runtime only contracts
	// that extraction respects the context and returns the derived items.
	Extractor interface {
		// Extract derives items from the input conversation.
		Extract(ctx context.Context, in *Input) ([]*Item, error)
	}

	// Store persists extracted items. Implementations must be safe for
	// concurrent use; extraction tasks for different runs may write
	// concurrently.
	Store interface {
		// Add persists the items.
		Add(ctx context.Context, items ...*Item) error
		// List returns items of the given kind, filtered by user id when
		// kind is KindUserMemory and userID is non-empty.
		List(ctx context.Context, kind Kind, userID string) ([]*Item, error)
	}
)

const (
	// KindUserMemory is a durable fact about the user.
	KindUserMemory Kind = "user_memory"
	// KindCulturalKnowledge is shared knowledge usable across users.
	KindCulturalKnowledge Kind = "cultural_knowledge"
	// KindLearning is a reusable learning about how to solve a task.
	KindLearning Kind = "learning"
)
