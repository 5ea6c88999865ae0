// Package guardrail screens conversation text before it reaches the model
// and before generated text is persisted.
package guardrail

import (
	"context"
	"fmt"
)

// Direction tells the moderator which side of the conversation it is
// screening
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Decision is a moderator's ruling on one piece of text
type Decision struct {
	Blocked  bool
	Reason   string
	Redacted string // replacement text when the moderator rewrites instead of blocking
}

// Moderator is the synchronous content-safety collaborator
type Moderator interface {
	Moderate(ctx context.Context, text string, direction Direction) (Decision, error)
}

// Verdict is the gate's final ruling. A verdict is never retried for the
// same text.
type Verdict struct {
	Allowed bool
	Text    string // possibly redacted
	Reason  string // set when blocked
}

// Gate wraps a Moderator and turns its decisions into verdicts. A moderator
// error is returned to the caller, who must treat it as unavailability and
// refuse the request.
type Gate struct {
	moderator Moderator
}

// NewGate creates a gate over the given moderator
func NewGate(m Moderator) *Gate {
	return &Gate{moderator: m}
}

// Apply screens text in the given direction
func (g *Gate) Apply(ctx context.Context, text string, direction Direction) (Verdict, error) {
	decision, err := g.moderator.Moderate(ctx, text, direction)
	if err != nil {
		return Verdict{}, fmt.Errorf("moderator unavailable: %w", err)
	}

	if decision.Blocked {
		return Verdict{Allowed: false, Reason: decision.Reason}, nil
	}

	out := text
	if decision.Redacted != "" {
		out = decision.Redacted
	}
	return Verdict{Allowed: true, Text: out}, nil
}
