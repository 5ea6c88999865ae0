package meter

import (
	"context"
	"log"
	"time"
)

// pendingCommit is a usage commit that failed inline and awaits retry
type pendingCommit struct {
	RequestID string
	UserID    string
	Input     int64
	Output    int64
	Attempts  int
}

// Reconciler retries failed usage commits in the background. Because
// commits are idempotent per requestID, retrying a commit that actually
// landed is harmless.
type Reconciler struct {
	meter       *Meter
	queue       chan pendingCommit
	interval    time.Duration
	maxAttempts int
}

// NewReconciler creates a reconciler draining into the given meter
func NewReconciler(m *Meter) *Reconciler {
	return &Reconciler{
		meter:       m,
		queue:       make(chan pendingCommit, 256),
		interval:    15 * time.Second,
		maxAttempts: 10,
	}
}

// Enqueue schedules a failed commit for retry. Never blocks: if the queue
// is full the commit is dropped with a log line (the anomaly is already
// recorded there).
func (r *Reconciler) Enqueue(requestID, userID string, in, out int64) {
	select {
	case r.queue <- pendingCommit{RequestID: requestID, UserID: userID, Input: in, Output: out}:
		log.Printf("🔄 [Reconcile] Queued commit %s for retry", requestID)
	default:
		log.Printf("⚠️ [Reconcile] Queue full, dropping commit %s (in=%d out=%d)", requestID, in, out)
	}
}

// Run drains the retry queue until ctx is done
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending []pendingCommit
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.queue:
			pending = append(pending, c)
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			var remaining []pendingCommit
			for _, c := range pending {
				if _, err := r.meter.CommitUsage(ctx, c.RequestID, c.UserID, c.Input, c.Output); err != nil {
					c.Attempts++
					if c.Attempts >= r.maxAttempts {
						log.Printf("⚠️ [Reconcile] Giving up on commit %s after %d attempts: %v", c.RequestID, c.Attempts, err)
						continue
					}
					remaining = append(remaining, c)
					continue
				}
				log.Printf("✅ [Reconcile] Commit %s applied on retry", c.RequestID)
			}
			pending = remaining
		}
	}
}
