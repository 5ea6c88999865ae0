// Package meter enforces per-user token quotas across independently
// configured time windows and records committed usage.
package meter

import (
	"fmt"
	"time"

	"github.com/JillVernus/chat-relay/internal/config"
)

// Window describes one quota window. A window either maps to a single
// rolling bucket (hourly), a calendar period (monthly), or aggregates many
// small buckets over a trailing span (daily over 10-minute buckets).
type Window struct {
	Name        string
	Bucket      time.Duration // bucket granularity; ignored for calendar windows
	Span        time.Duration // trailing span summed at read time; 0 means single bucket
	TTL         time.Duration // row lifetime from bucket start
	Calendar    bool          // key by calendar month instead of epoch buckets
	InputLimit  int64
	OutputLimit int64
	// ReserveOutput counts live reservations plus the incoming request's
	// reservation against this window's output limit. Only the window the
	// reservation was sized for should set this: projecting a daily-sized
	// reservation onto an hourly limit would deny every request.
	ReserveOutput bool
}

// DefaultWindows returns the stock three-window configuration: a daily
// window built from 10-minute buckets, a single-bucket hourly window and a
// calendar monthly window.
func DefaultWindows(cfg *config.EnvConfig) []Window {
	return []Window{
		{
			Name:          "daily",
			Bucket:        10 * time.Minute,
			Span:          24 * time.Hour,
			TTL:           25 * time.Hour,
			InputLimit:    cfg.DailyInputLimit,
			OutputLimit:   cfg.DailyOutputLimit,
			ReserveOutput: true,
		},
		{
			Name:        "hourly",
			Bucket:      time.Hour,
			TTL:         2 * time.Hour,
			InputLimit:  cfg.HourlyInputLimit,
			OutputLimit: cfg.HourlyOutputLimit,
		},
		{
			Name:        "monthly",
			Calendar:    true,
			TTL:         32 * 24 * time.Hour,
			InputLimit:  cfg.MonthlyInputLimit,
			OutputLimit: cfg.MonthlyOutputLimit,
		},
	}
}

// Aggregate reports whether reads must sum several buckets
func (w Window) Aggregate() bool {
	return w.Span > 0 && w.Span > w.Bucket
}

// BucketStart truncates t to the window's bucket boundary. Epoch-aligned so
// concurrent callers always compute the same key for the same instant.
func (w Window) BucketStart(t time.Time) time.Time {
	if w.Calendar {
		y, m, _ := t.UTC().Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	}
	return t.UTC().Truncate(w.Bucket)
}

// KeyAt returns the storage key of the bucket containing t
func (w Window) KeyAt(t time.Time) string {
	if w.Calendar {
		return fmt.Sprintf("%s:%s", w.Name, t.UTC().Format("2006-01"))
	}
	return fmt.Sprintf("%s:%d", w.Name, w.BucketStart(t).Unix())
}

// KeyPrefix returns the LIKE pattern matching every bucket of this window
func (w Window) KeyPrefix() string {
	return w.Name + ":%"
}

// ExpiresAt returns the unix time at which the bucket containing t lapses
func (w Window) ExpiresAt(t time.Time) int64 {
	return w.BucketStart(t).Add(w.TTL).Unix()
}

// Cutoff returns the earliest bucket start still inside the trailing span.
// Zero for single-bucket windows.
func (w Window) Cutoff(t time.Time) int64 {
	if !w.Aggregate() {
		return 0
	}
	return t.UTC().Add(-w.Span).Unix()
}
