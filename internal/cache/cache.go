package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/JillVernus/chat-relay/internal/database"
)

// Entry is one cached response
type Entry struct {
	Fingerprint  string
	ModelID      string
	PromptText   string // canonical prompt, compared on read
	ResponseText string
	InputTokens  int64 // estimate committed on replay
	OutputTokens int64
}

// Cache is the response cache backed by the shared database layer
type Cache struct {
	db  database.DB
	ttl time.Duration
	now func() time.Time
}

// New creates a cache with the given entry lifetime
func New(db database.DB, ttl time.Duration) *Cache {
	return &Cache{db: db, ttl: ttl, now: time.Now}
}

// Lookup returns the entry for a fingerprint, or (nil, nil) on a miss.
// Expired rows are a miss and are lazily deleted. The caller must still
// compare Entry.PromptText against the incoming prompt.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, error) {
	now := c.now().Unix()

	var e Entry
	var expiresAt int64
	err := c.db.QueryRowContext(ctx, `
		SELECT prompt_hash, model_id, prompt_text, response_text,
		       estimated_input_tokens, estimated_output_tokens, expires_at
		FROM response_cache
		WHERE prompt_hash = ?`,
		fingerprint).Scan(&e.Fingerprint, &e.ModelID, &e.PromptText, &e.ResponseText,
		&e.InputTokens, &e.OutputTokens, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	if expiresAt <= now {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM response_cache WHERE prompt_hash = ?`, fingerprint); err != nil {
			log.Printf("⚠️ [Cache] Failed to drop expired entry %s: %v", fingerprint[:12], err)
		}
		return nil, nil
	}

	return &e, nil
}

// Store writes an entry if no live entry exists for the fingerprint.
// Losing the race to a concurrent writer is not an error.
func (c *Cache) Store(ctx context.Context, e Entry) error {
	now := c.now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO response_cache
			(prompt_hash, model_id, prompt_text, response_text,
			 estimated_input_tokens, estimated_output_tokens, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(prompt_hash) DO NOTHING`,
		e.Fingerprint, e.ModelID, e.PromptText, e.ResponseText,
		e.InputTokens, e.OutputTokens, now.Add(c.ttl).Unix())
	if err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}
	return nil
}

// PurgeExpired drops lapsed entries
func (c *Cache) PurgeExpired(ctx context.Context) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at <= ?`, c.now().Unix())
	if err != nil {
		return fmt.Errorf("cache purge failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("🗑️ [Cache] Purged %d expired entries", n)
	}
	return nil
}
