// Package session stores ranked result sets under opaque ids so follow-up
// turns in a conversation can re-filter the prior results instead of
// re-querying providers. Result sets are addressed by a generated id rather
// than the query fingerprint, so they survive query mutation across turns.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/cache"
	"github.com/around-me/discovery/internal/model"
)

// ResultSetTTL is how long a stored result set stays retrievable. Shorter
// than the fresh-search cache window: conversations move fast, and a stale
// set silently falls back to a fresh search.
const ResultSetTTL = 15 * time.Minute

const (
	resultSetKeyPrefix    = "result_set:"
	conversationKeyPrefix = "conversation:"
)

// resultSetPayload is the stored form of a result set.
type resultSetPayload struct {
	ResultSetID    string             `json:"result_set_id"`
	Places         []model.FusedPlace `json:"places"`
	ConversationID string             `json:"conversation_id,omitempty"`
}

// conversationPayload links a conversation to its most recent result set.
type conversationPayload struct {
	LatestResultSetID string `json:"latest_result_set_id"`
}

// ResultStore persists and retrieves conversational result sets.
type ResultStore struct {
	store cache.Store
}

// NewResultStore creates a ResultStore on the given cache backend.
func NewResultStore(store cache.Store) *ResultStore {
	return &ResultStore{store: store}
}

// Save stores a result set and returns its generated id. When conversationID
// is non-empty the conversation's latest-set pointer is updated too.
func (s *ResultStore) Save(ctx context.Context, places []model.FusedPlace, conversationID string) (string, error) {
	resultSetID := uuid.NewString()

	payload, err := json.Marshal(resultSetPayload{
		ResultSetID:    resultSetID,
		Places:         places,
		ConversationID: conversationID,
	})
	if err != nil {
		return "", eris.Wrap(err, "session: marshal result set")
	}

	if err := s.store.Set(ctx, resultSetKeyPrefix+resultSetID, payload, ResultSetTTL); err != nil {
		return "", eris.Wrap(err, "session: store result set")
	}

	if conversationID != "" {
		link, err := json.Marshal(conversationPayload{LatestResultSetID: resultSetID})
		if err != nil {
			return "", eris.Wrap(err, "session: marshal conversation link")
		}
		if err := s.store.Set(ctx, conversationKeyPrefix+conversationID, link, ResultSetTTL); err != nil {
			return "", eris.Wrap(err, "session: link conversation")
		}
	}

	zap.L().Info("result set stored",
		zap.String("result_set_id", resultSetID),
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(places)))

	return resultSetID, nil
}

// Get retrieves a result set by id. Returns (nil, nil) when the set has
// expired or never existed; callers fall back to a fresh search.
func (s *ResultStore) Get(ctx context.Context, resultSetID string) ([]model.FusedPlace, error) {
	data, err := s.store.Get(ctx, resultSetKeyPrefix+resultSetID)
	if eris.Is(err, cache.ErrMiss) {
		zap.L().Warn("result set not found", zap.String("result_set_id", resultSetID))
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "session: get result set")
	}

	var payload resultSetPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, eris.Wrap(err, "session: decode result set")
	}
	return payload.Places, nil
}

// Latest retrieves the most recent result set for a conversation. Returns
// (nil, nil) when the conversation has no live set.
func (s *ResultStore) Latest(ctx context.Context, conversationID string) ([]model.FusedPlace, error) {
	data, err := s.store.Get(ctx, conversationKeyPrefix+conversationID)
	if eris.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "session: get conversation")
	}

	var link conversationPayload
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, eris.Wrap(err, "session: decode conversation")
	}
	if link.LatestResultSetID == "" {
		return nil, nil
	}
	return s.Get(ctx, link.LatestResultSetID)
}
