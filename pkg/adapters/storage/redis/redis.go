package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const historyKeyPrefix = "cellvert:history:"

// CheckpointHistory implements CheckpointHistory using Redis lists
type CheckpointHistory struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewCheckpointHistory creates a new Redis checkpoint history
func NewCheckpointHistory(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CheckpointHistory {
	return &CheckpointHistory{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Append pushes a checkpoint onto its session's list and refreshes the TTL
func (s *CheckpointHistory) Append(ctx context.Context, cp domain.Checkpoint) error {
	key := getHistoryKey(cp.SessionID)

	// Serialize checkpoint
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Append and refresh TTL atomically
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint appended",
		zap.String("session_id", cp.SessionID),
		zap.String("unit_id", cp.UnitID),
		zap.String("hash", cp.Hash))

	return nil
}

// List returns a session's checkpoints in the order they were taken
func (s *CheckpointHistory) List(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	key := getHistoryKey(sessionID)

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	// Deserialize entries
	entries := make([]domain.Checkpoint, 0, len(raw))
	for _, item := range raw {
		var cp domain.Checkpoint
		if err := json.Unmarshal([]byte(item), &cp); err != nil {
			s.logger.Warn("skipping corrupt history entry",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		entries = append(entries, cp)
	}

	return entries, nil
}

// Delete removes a session's journal
func (s *CheckpointHistory) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, getHistoryKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}

	s.logger.Debug("history deleted", zap.String("session_id", sessionID))
	return nil
}

// Sessions returns all session IDs that have a journal
func (s *CheckpointHistory) Sessions(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, historyKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	// Extract session IDs from keys
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(historyKeyPrefix) {
			ids = append(ids, key[len(historyKeyPrefix):])
		}
	}

	return ids, nil
}

// getHistoryKey returns the Redis key for a session's history
func getHistoryKey(sessionID string) string {
	return historyKeyPrefix + sessionID
}
