package meter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JillVernus/chat-relay/internal/database"
)

// Store persists window buckets, reservations and the commit dedup log
type Store struct {
	db database.DB
}

// NewStore creates a Store on top of the shared database layer
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// addUsage increments one window bucket inside tx. The upsert is a single
// statement, so concurrent commits against the same bucket never lose an
// increment.
func (s *Store) addUsage(tx *database.Tx, userID, key string, windowStart, expiresAt, in, out int64) error {
	_, err := tx.Exec(`
		INSERT INTO token_usage (user_id, window_key, input_tokens, output_tokens, window_start, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, window_key) DO UPDATE SET
			input_tokens  = token_usage.input_tokens + excluded.input_tokens,
			output_tokens = token_usage.output_tokens + excluded.output_tokens`,
		userID, key, in, out, windowStart, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to increment usage for %s/%s: %w", userID, key, err)
	}
	return nil
}

// windowUsage reads the live usage of one window, ignoring expired buckets
func (s *Store) windowUsage(ctx context.Context, userID string, w Window, now time.Time) (in, out int64, err error) {
	if w.Aggregate() {
		err = s.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
			FROM token_usage
			WHERE user_id = ? AND window_key LIKE ? AND window_start >= ? AND expires_at > ?`,
			userID, w.KeyPrefix(), w.Cutoff(now), now.Unix()).Scan(&in, &out)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read %s usage: %w", w.Name, err)
		}
		return in, out, nil
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT input_tokens, output_tokens
		FROM token_usage
		WHERE user_id = ? AND window_key = ? AND expires_at > ?`,
		userID, w.KeyAt(now), now.Unix()).Scan(&in, &out)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read %s usage: %w", w.Name, err)
	}
	return in, out, nil
}

// insertCommit records the requestID in the dedup log. Returns false when
// the requestID was already committed; the caller must then skip the
// increments.
func (s *Store) insertCommit(tx *database.Tx, requestID, userID string, in, out int64, now time.Time) (bool, error) {
	res, err := tx.Exec(`
		INSERT INTO usage_commits (request_id, user_id, input_tokens, output_tokens, committed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
		requestID, userID, in, out, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to record commit %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// createReservation inserts a live reservation row
func (s *Store) createReservation(ctx context.Context, id, userID string, tokens int64, now time.Time, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_reservations (reservation_id, user_id, output_tokens, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, userID, tokens, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to create reservation %s: %w", id, err)
	}
	return nil
}

// deleteReservation removes a reservation; deleting an already-expired or
// missing row is not an error
func (s *Store) deleteReservation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM token_reservations WHERE reservation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to release reservation %s: %w", id, err)
	}
	return nil
}

// reservedOutput sums the user's live reservations
func (s *Store) reservedOutput(ctx context.Context, userID string, now time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(output_tokens), 0)
		FROM token_reservations
		WHERE user_id = ? AND expires_at > ?`,
		userID, now.Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read reservations for %s: %w", userID, err)
	}
	return total, nil
}

// PurgeExpired drops lapsed usage buckets and reservations
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM token_usage WHERE expires_at <= ?`, now.Unix()); err != nil {
		return fmt.Errorf("failed to purge expired usage: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM token_reservations WHERE expires_at <= ?`, now.Unix()); err != nil {
		return fmt.Errorf("failed to purge expired reservations: %w", err)
	}
	return nil
}
