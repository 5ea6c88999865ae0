// Package emitter records per-request completion metrics. Everything here
// is best effort: a failed emit is logged and never surfaces to the caller.
package emitter

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/JillVernus/chat-relay/internal/database"
	"github.com/JillVernus/chat-relay/internal/pubsub"
)

const previewLength = 100

// AdminChannel receives every completion record as JSON
const AdminChannel = "admin/completions"

// CompletionRecord summarizes one finished request
type CompletionRecord struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	ModelID        string `json:"modelId"`
	InputTokens    int64  `json:"inputTokens"`
	OutputTokens   int64  `json:"outputTokens"`
	CacheHit       bool   `json:"cacheHit"`
	LatencyMs      int64  `json:"latencyMs"`
	Outcome        string `json:"outcome"` // complete, error, blocked
	PromptPreview  string `json:"promptPreview"`
	ReplyPreview   string `json:"replyPreview"`
	CreatedAt      int64  `json:"createdAt"`
}

// AnalyticsSink is an append-only export target for completion records
type AnalyticsSink interface {
	Put(ctx context.Context, record CompletionRecord) error
}

// Emitter persists records, forwards them to the analytics sink and
// broadcasts them on the admin channel
type Emitter struct {
	db          database.DB
	sink        AnalyticsSink // optional
	broadcaster *pubsub.Broadcaster
}

// New creates an emitter. sink may be nil.
func New(db database.DB, sink AnalyticsSink, broadcaster *pubsub.Broadcaster) *Emitter {
	return &Emitter{db: db, sink: sink, broadcaster: broadcaster}
}

// Preview truncates text to the stored preview length, rune-safe
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}

// Emit records a completion. Never returns an error: persistence, sink and
// broadcast failures are logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, record CompletionRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	record.PromptPreview = Preview(record.PromptPreview)
	record.ReplyPreview = Preview(record.ReplyPreview)

	if err := e.persist(ctx, record); err != nil {
		log.Printf("⚠️ [Emitter] Failed to persist completion %s: %v", record.ID, err)
	}

	if e.sink != nil {
		go func(rec CompletionRecord) {
			sinkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.sink.Put(sinkCtx, rec); err != nil {
				log.Printf("⚠️ [Emitter] Analytics sink rejected %s: %v", rec.ID, err)
			}
		}(record)
	}

	if e.broadcaster != nil {
		if payload, err := json.Marshal(record); err == nil {
			e.broadcaster.Publish(AdminChannel, payload)
		}
	}
}

func (e *Emitter) persist(ctx context.Context, r CompletionRecord) error {
	cacheHit := 0
	if r.CacheHit {
		cacheHit = 1
	}
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO completion_records
			(id, user_id, conversation_id, model_id, input_tokens, output_tokens,
			 cache_hit, latency_ms, outcome, prompt_preview, reply_preview, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ConversationID, r.ModelID, r.InputTokens, r.OutputTokens,
		cacheHit, r.LatencyMs, r.Outcome, r.PromptPreview, r.ReplyPreview, r.CreatedAt)
	return err
}

// Recent returns the newest records for a user, most recent first
func (e *Emitter) Recent(ctx context.Context, userID string, limit int) ([]CompletionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, model_id, input_tokens, output_tokens,
		       cache_hit, latency_ms, outcome, prompt_preview, reply_preview, created_at
		FROM completion_records
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CompletionRecord
	for rows.Next() {
		var r CompletionRecord
		var cacheHit int
		if err := rows.Scan(&r.ID, &r.UserID, &r.ConversationID, &r.ModelID,
			&r.InputTokens, &r.OutputTokens, &cacheHit, &r.LatencyMs,
			&r.Outcome, &r.PromptPreview, &r.ReplyPreview, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CacheHit = cacheHit != 0
		records = append(records, r)
	}
	return records, rows.Err()
}
