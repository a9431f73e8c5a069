package hints

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftdb/driftdb/internal/model"
)

// PostgresStore persists hints in PostgreSQL so parked writes survive a
// coordinator restart.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a hint store over pool. The hints table is
// expected to exist (see migrations/001_hints.sql).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// StoreHint parks a hint.
func (s *PostgresStore) StoreHint(ctx context.Context, hint *model.Hint) error {
	record, err := json.Marshal(hint.Record)
	if err != nil {
		return fmt.Errorf("failed to encode hint record: %w", err)
	}

	query := `
		INSERT INTO hints (hint_id, target_node_id, key, record, created_at, replay_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query,
		hint.HintID,
		hint.TargetNodeID,
		hint.Key,
		record,
		hint.CreatedAt,
		hint.ReplayCount,
	)
	if err != nil {
		return fmt.Errorf("failed to store hint: %w", err)
	}
	return nil
}

// HintsFor returns up to limit hints for targetNodeID, oldest first.
func (s *PostgresStore) HintsFor(ctx context.Context, targetNodeID string, limit int) ([]*model.Hint, error) {
	query := `
		SELECT hint_id, target_node_id, key, record, created_at, replay_count
		FROM hints
		WHERE target_node_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, targetNodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get hints: %w", err)
	}
	defer rows.Close()

	hints := make([]*model.Hint, 0)
	for rows.Next() {
		var hint model.Hint
		var record []byte
		if err := rows.Scan(
			&hint.HintID,
			&hint.TargetNodeID,
			&hint.Key,
			&record,
			&hint.CreatedAt,
			&hint.ReplayCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hint: %w", err)
		}
		if err := json.Unmarshal(record, &hint.Record); err != nil {
			return nil, fmt.Errorf("failed to decode hint record: %w", err)
		}
		hints = append(hints, &hint)
	}
	return hints, rows.Err()
}

// DeleteHint removes a hint by ID.
func (s *PostgresStore) DeleteHint(ctx context.Context, hintID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM hints WHERE hint_id = $1`, hintID)
	if err != nil {
		return fmt.Errorf("failed to delete hint: %w", err)
	}
	return nil
}

// IncrementReplayCount bumps a hint's failed-replay counter.
func (s *PostgresStore) IncrementReplayCount(ctx context.Context, hintID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE hints SET replay_count = replay_count + 1 WHERE hint_id = $1`, hintID)
	if err != nil {
		return fmt.Errorf("failed to increment replay count: %w", err)
	}
	return nil
}

// CountFor returns the backlog size for targetNodeID.
func (s *PostgresStore) CountFor(ctx context.Context, targetNodeID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM hints WHERE target_node_id = $1`, targetNodeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count hints: %w", err)
	}
	return count, nil
}

// TargetNodes returns the node IDs with parked hints.
func (s *PostgresStore) TargetNodes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT target_node_id FROM hints ORDER BY target_node_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hint targets: %w", err)
	}
	defer rows.Close()

	var nodes []string
	for rows.Next() {
		var nodeID string
		if err := rows.Scan(&nodeID); err != nil {
			return nil, fmt.Errorf("failed to scan hint target: %w", err)
		}
		nodes = append(nodes, nodeID)
	}
	return nodes, rows.Err()
}

// CleanupExpired drops hints created more than ttl ago.
func (s *PostgresStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	result, err := s.pool.Exec(ctx, `DELETE FROM hints WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup hints: %w", err)
	}
	return result.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)
