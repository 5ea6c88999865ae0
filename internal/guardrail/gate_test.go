package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type stubModerator struct {
	decision Decision
	err      error
}

func (s *stubModerator) Moderate(context.Context, string, Direction) (Decision, error) {
	return s.decision, s.err
}

func TestGateAllowsCleanText(t *testing.T) {
	g := NewGate(&stubModerator{})
	v, err := g.Apply(context.Background(), "hello there", Input)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !v.Allowed || v.Text != "hello there" {
		t.Errorf("verdict = %+v, want allowed with original text", v)
	}
}

func TestGateBlocksOnModeratorDecision(t *testing.T) {
	g := NewGate(&stubModerator{decision: Decision{Blocked: true, Reason: "matched a blocked term"}})
	v, err := g.Apply(context.Background(), "bad text", Input)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if v.Allowed {
		t.Fatal("blocked decision produced an allowed verdict")
	}
	if v.Reason != "matched a blocked term" {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestGateSurfacesModeratorError(t *testing.T) {
	g := NewGate(&stubModerator{err: errors.New("connection refused")})
	if _, err := g.Apply(context.Background(), "anything", Input); err == nil {
		t.Fatal("expected an error when the moderator is unavailable")
	}
}

func TestGateAppliesRedaction(t *testing.T) {
	g := NewGate(&stubModerator{decision: Decision{Redacted: "my card is [redacted]"}})
	v, err := g.Apply(context.Background(), "my card is 4111", Output)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !v.Allowed || v.Text != "my card is [redacted]" {
		t.Errorf("verdict = %+v, want redacted text", v)
	}
}

func writeKeywordConfig(t *testing.T, path string, cfg KeywordConfig) {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func newTestModerator(t *testing.T, cfg KeywordConfig) *KeywordModerator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrail.json")
	writeKeywordConfig(t, path, cfg)
	m, err := NewKeywordModerator(path)
	if err != nil {
		t.Fatalf("new moderator: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestKeywordModeratorBlocks(t *testing.T) {
	m := newTestModerator(t, KeywordConfig{BlockedKeywords: []string{"forbidden"}})

	tests := []struct {
		name    string
		text    string
		blocked bool
	}{
		{"clean text", "a perfectly fine prompt", false},
		{"exact match", "this is forbidden content", true},
		{"case folded", "this is FORBIDDEN content", true},
		{"substring", "unforbiddenable", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := m.Moderate(context.Background(), tt.text, Input)
			if err != nil {
				t.Fatalf("moderate failed: %v", err)
			}
			if d.Blocked != tt.blocked {
				t.Errorf("blocked = %v, want %v", d.Blocked, tt.blocked)
			}
		})
	}
}

func TestKeywordModeratorRedacts(t *testing.T) {
	m := newTestModerator(t, KeywordConfig{RedactedKeywords: []string{"secret"}})

	d, err := m.Moderate(context.Background(), "the Secret handshake", Output)
	if err != nil {
		t.Fatalf("moderate failed: %v", err)
	}
	if d.Blocked {
		t.Fatal("redaction term blocked the text")
	}
	if d.Redacted != "the [redacted] handshake" {
		t.Errorf("redacted = %q", d.Redacted)
	}
}

func TestKeywordModeratorHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrail.json")
	writeKeywordConfig(t, path, KeywordConfig{})
	m, err := NewKeywordModerator(path)
	if err != nil {
		t.Fatalf("new moderator: %v", err)
	}
	defer m.Close()

	d, _ := m.Moderate(context.Background(), "now banned", Input)
	if d.Blocked {
		t.Fatal("empty config blocked text")
	}

	writeKeywordConfig(t, path, KeywordConfig{BlockedKeywords: []string{"banned"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d, _ = m.Moderate(context.Background(), "now banned", Input)
		if d.Blocked {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("config change never took effect")
}

func TestKeywordModeratorMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "guardrail.json")
	m, err := NewKeywordModerator(path)
	if err != nil {
		t.Fatalf("new moderator: %v", err)
	}
	defer m.Close()

	d, err := m.Moderate(context.Background(), "anything goes", Input)
	if err != nil || d.Blocked {
		t.Errorf("default config should allow everything: %+v, %v", d, err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file was not saved: %v", err)
	}
}
