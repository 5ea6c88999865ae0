package relay

import (
	"fmt"

	"github.com/JillVernus/chat-relay/internal/guardrail"
	"github.com/JillVernus/chat-relay/internal/meter"
)

// Error kinds surfaced to subscribers as error events. Messages are stable:
// clients key off them.

// QuotaExceededError names the exhausted window
type QuotaExceededError struct {
	Window    string
	TokenType meter.TokenType
	Limit     int64
	Current   int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s %s tokens at %d of %d", e.Window, e.TokenType, e.Current, e.Limit)
}

// ContentBlockedError reports a guardrail rejection
type ContentBlockedError struct {
	Direction guardrail.Direction
	Reason    string
}

func (e *ContentBlockedError) Error() string {
	return fmt.Sprintf("content blocked on %s: %s", e.Direction, e.Reason)
}

// UpstreamUnavailableError reports a collaborator outage
type UpstreamUnavailableError struct {
	Collaborator string
	Err          error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}

// errorKind maps an error to the stable kind string carried on error events
func errorKind(err error) string {
	switch err.(type) {
	case *QuotaExceededError:
		return "QuotaExceeded"
	case *ContentBlockedError:
		return "ContentBlocked"
	case *UpstreamUnavailableError:
		return "UpstreamUnavailable"
	default:
		return "InternalError"
	}
}
