package meter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/JillVernus/chat-relay/internal/database"
)

// TokenType names which side of a window was exhausted
type TokenType string

const (
	TokenInput  TokenType = "input"
	TokenOutput TokenType = "output"
)

// Admission is the outcome of an admission check. When denied it names the
// first window and token type whose projected usage would exceed the limit.
type Admission struct {
	Allowed   bool      `json:"allowed"`
	Window    string    `json:"window,omitempty"`
	TokenType TokenType `json:"tokenType,omitempty"`
	Usage     int64     `json:"usage,omitempty"`
	Limit     int64     `json:"limit,omitempty"`
}

// WindowUsage is a point-in-time usage snapshot for one window
type WindowUsage struct {
	Window      string `json:"window"`
	InputUsed   int64  `json:"inputUsed"`
	OutputUsed  int64  `json:"outputUsed"`
	InputLimit  int64  `json:"inputLimit"`
	OutputLimit int64  `json:"outputLimit"`
}

// Meter tracks token usage across all configured windows
type Meter struct {
	store   *Store
	windows []Window
	now     func() time.Time
}

// New creates a Meter over the given store and window set
func New(db database.DB, windows []Window) *Meter {
	return &Meter{
		store:   NewStore(db),
		windows: windows,
		now:     time.Now,
	}
}

// Windows returns the configured window set
func (m *Meter) Windows() []Window {
	return m.windows
}

// CheckAdmission decides whether a request with the given token estimates
// may proceed. On reserving windows, live reservations plus the incoming
// request's reservation count toward projected output usage so concurrent
// in-flight requests cannot jointly overshoot the window; other windows
// only deny once their committed output is exhausted. Any store error
// denies: admission fails closed.
func (m *Meter) CheckAdmission(ctx context.Context, userID string, estIn, estOut int64) Admission {
	now := m.now()

	reserved, err := m.store.reservedOutput(ctx, userID, now)
	if err != nil {
		log.Printf("⚠️ [Meter] Admission check failed closed for %s: %v", userID, err)
		return Admission{Allowed: false, Window: "unknown", TokenType: TokenInput}
	}

	for _, w := range m.windows {
		in, out, err := m.store.windowUsage(ctx, userID, w, now)
		if err != nil {
			log.Printf("⚠️ [Meter] Admission check failed closed for %s (%s): %v", userID, w.Name, err)
			return Admission{Allowed: false, Window: w.Name, TokenType: TokenInput}
		}

		if in+estIn > w.InputLimit {
			return Admission{Allowed: false, Window: w.Name, TokenType: TokenInput, Usage: in, Limit: w.InputLimit}
		}
		if w.ReserveOutput {
			if out+reserved+estOut > w.OutputLimit {
				return Admission{Allowed: false, Window: w.Name, TokenType: TokenOutput, Usage: out, Limit: w.OutputLimit}
			}
		} else if out >= w.OutputLimit {
			return Admission{Allowed: false, Window: w.Name, TokenType: TokenOutput, Usage: out, Limit: w.OutputLimit}
		}
	}

	return Admission{Allowed: true}
}

// CommitUsage applies the final token counts of a finished request to every
// window. Idempotent per requestID: replaying an applied commit is detected
// through the dedup log and skipped. Returns the post-commit usage snapshot.
func (m *Meter) CommitUsage(ctx context.Context, requestID, userID string, in, out int64) ([]WindowUsage, error) {
	now := m.now()

	err := database.Transaction(m.store.db, func(tx *database.Tx) error {
		applied, err := m.store.insertCommit(tx, requestID, userID, in, out, now)
		if err != nil {
			return err
		}
		if !applied {
			log.Printf("🔄 [Meter] Commit %s already applied, skipping", requestID)
			return nil
		}

		for _, w := range m.windows {
			start := w.BucketStart(now).Unix()
			if err := m.store.addUsage(tx, userID, w.KeyAt(now), start, w.ExpiresAt(now), in, out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("usage commit %s failed: %w", requestID, err)
	}

	return m.Usage(ctx, userID)
}

// Usage reads the current usage snapshot across all windows
func (m *Meter) Usage(ctx context.Context, userID string) ([]WindowUsage, error) {
	now := m.now()
	snapshot := make([]WindowUsage, 0, len(m.windows))
	for _, w := range m.windows {
		in, out, err := m.store.windowUsage(ctx, userID, w, now)
		if err != nil {
			return nil, err
		}
		snapshot = append(snapshot, WindowUsage{
			Window:      w.Name,
			InputUsed:   in,
			OutputUsed:  out,
			InputLimit:  w.InputLimit,
			OutputLimit: w.OutputLimit,
		})
	}
	return snapshot, nil
}

// Reserve holds output tokens against the user while a generation is in
// flight. The TTL bounds how long a crashed request can pin tokens.
func (m *Meter) Reserve(ctx context.Context, userID string, tokens int64, ttl time.Duration) (string, error) {
	now := m.now()
	id := fmt.Sprintf("reservation:%s:%s", now.UTC().Format("2006-01-02"), uuid.NewString())
	if err := m.store.createReservation(ctx, id, userID, tokens, now, ttl); err != nil {
		return "", err
	}
	return id, nil
}

// Release frees a reservation. Safe to call for expired or missing IDs.
func (m *Meter) Release(ctx context.Context, reservationID string) {
	if reservationID == "" {
		return
	}
	if err := m.store.deleteReservation(ctx, reservationID); err != nil {
		log.Printf("⚠️ [Meter] Failed to release %s: %v", reservationID, err)
	}
}

// StartJanitor purges expired buckets and reservations on an interval until
// ctx is done
func (m *Meter) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.store.PurgeExpired(ctx, m.now()); err != nil {
					log.Printf("⚠️ [Meter] Purge failed: %v", err)
				}
			}
		}
	}()
}
