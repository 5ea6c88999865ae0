// Package relay orchestrates one streaming chat request end to end:
// admission, cache check, guardrails, generation, accounting and event
// fan-out.
package relay

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JillVernus/chat-relay/internal/cache"
	"github.com/JillVernus/chat-relay/internal/emitter"
	"github.com/JillVernus/chat-relay/internal/guardrail"
	"github.com/JillVernus/chat-relay/internal/meter"
	"github.com/JillVernus/chat-relay/internal/model"
	"github.com/JillVernus/chat-relay/internal/pubsub"
)

// State names the phases of a request's lifecycle
type State string

const (
	StateAdmitting   State = "admitting"
	StateCacheCheck  State = "cacheCheck"
	StateReplaying   State = "replaying"
	StateInputGuard  State = "inputGuard"
	StateGenerating  State = "generating"
	StateOutputGuard State = "outputGuard"
	StateCaching     State = "caching"
	StateCommitting  State = "committing"
	StateDone        State = "done"
	StateErrored     State = "errored"
)

// ChatRequest is one inbound conversation turn
type ChatRequest struct {
	RequestID      string          `json:"requestId"`
	UserID         string          `json:"userId"`
	ConversationID string          `json:"conversationId"`
	ModelID        string          `json:"modelId"`
	History        []model.Message `json:"history"`
	Content        string          `json:"content"`
}

// Options tunes the relay's reservation behavior
type Options struct {
	ReservationTTL    time.Duration
	ReservationTokens int64 // output tokens held per in-flight request
}

// Relay wires the meter, cache, guardrails, model client, broadcaster and
// emitter into the request state machine
type Relay struct {
	meter       *meter.Meter
	reconciler  *meter.Reconciler
	cache       *cache.Cache
	gate        *guardrail.Gate
	client      model.Client
	broadcaster *pubsub.Broadcaster
	emitter     *emitter.Emitter
	opts        Options
}

// New assembles a relay
func New(m *meter.Meter, rec *meter.Reconciler, c *cache.Cache, g *guardrail.Gate,
	client model.Client, b *pubsub.Broadcaster, e *emitter.Emitter, opts Options) *Relay {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 10 * time.Minute
	}
	return &Relay{
		meter:       m,
		reconciler:  rec,
		cache:       c,
		gate:        g,
		client:      client,
		broadcaster: b,
		emitter:     e,
		opts:        opts,
	}
}

// session carries the mutable state of one request through the machine
type session struct {
	relay    *Relay
	req      ChatRequest
	pub      *publisher
	state    State
	started  time.Time
	terminal bool
}

// Handle runs one request to completion. Exactly one terminal event
// (complete or error) is published, whatever path the request takes.
// The caller's ctx governs forwarding and generation; accounting uses its
// own context so a subscriber cancel never skips the commit.
func (r *Relay) Handle(ctx context.Context, req ChatRequest) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	s := &session{
		relay:   r,
		req:     req,
		started: time.Now(),
		state:   StateAdmitting,
		pub: &publisher{
			broadcaster:    r.broadcaster,
			channel:        ChannelFor(req.UserID),
			conversationID: req.ConversationID,
			requestID:      req.RequestID,
		},
	}
	s.run(ctx)
}

func (s *session) run(ctx context.Context) {
	r := s.relay
	req := s.req

	estIn := estimatePrompt(req.History, req.Content)

	adm := r.meter.CheckAdmission(ctx, req.UserID, estIn, r.opts.ReservationTokens)
	if !adm.Allowed {
		s.fail(&QuotaExceededError{
			Window:    adm.Window,
			TokenType: adm.TokenType,
			Limit:     adm.Limit,
			Current:   adm.Usage,
		}, model.Usage{}, nil, false)
		return
	}

	resID, err := r.meter.Reserve(ctx, req.UserID, r.opts.ReservationTokens, r.opts.ReservationTTL)
	if err != nil {
		// The reservation protects concurrent admission; without it we
		// cannot safely proceed.
		s.fail(&UpstreamUnavailableError{Collaborator: "quota store", Err: err}, model.Usage{}, nil, false)
		return
	}
	defer r.meter.Release(context.Background(), resID)

	s.state = StateCacheCheck
	fingerprint := cache.Fingerprint(req.ModelID, req.History, req.Content)
	prompt := cache.CanonicalPrompt(req.ModelID, req.History, req.Content)

	entry, err := r.cache.Lookup(ctx, fingerprint)
	if err != nil {
		log.Printf("⚠️ [Relay] Cache lookup failed for %s, treating as miss: %v", req.RequestID, err)
		entry = nil
	}
	if entry != nil && entry.PromptText == prompt {
		s.replay(entry)
		return
	}

	s.state = StateInputGuard
	verdict, err := r.gate.Apply(ctx, req.Content, guardrail.Input)
	if err != nil {
		s.fail(&UpstreamUnavailableError{Collaborator: "moderator", Err: err}, model.Usage{}, nil, false)
		return
	}
	if !verdict.Allowed {
		s.fail(&ContentBlockedError{Direction: guardrail.Input, Reason: verdict.Reason}, model.Usage{}, nil, false)
		return
	}
	content := verdict.Text

	s.state = StateGenerating
	stream, err := r.client.Converse(ctx, model.Request{
		ModelID:  req.ModelID,
		Messages: append(append([]model.Message{}, req.History...), model.Message{Role: "user", Content: content}),
	})
	if err != nil {
		s.fail(&UpstreamUnavailableError{Collaborator: "model", Err: err}, model.Usage{}, nil, false)
		return
	}
	defer stream.Close()

	var full strings.Builder
	var usage model.Usage
	usageKnown := false
	var streamErr error
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
			usageKnown = true
			continue
		}
		full.WriteString(chunk.Text)
		// Forwarding stops when the subscriber is gone; accounting does not.
		if ctx.Err() == nil {
			s.pub.publish(StreamEvent{Type: EventDelta, Delta: chunk.Text})
		}
	}

	if !usageKnown {
		usage = model.Usage{InputTokens: estIn, OutputTokens: EstimateTokens(full.String())}
	}

	if streamErr != nil {
		// Partial generations are billed for what was actually produced.
		snapshot := s.commit(usage)
		s.fail(&UpstreamUnavailableError{Collaborator: "model", Err: streamErr}, usage, snapshot, true)
		return
	}

	fullText := full.String()

	s.state = StateOutputGuard
	outVerdict, err := r.gate.Apply(context.Background(), fullText, guardrail.Output)
	if err != nil {
		snapshot := s.commit(usage)
		s.fail(&UpstreamUnavailableError{Collaborator: "moderator", Err: err}, usage, snapshot, true)
		return
	}
	if !outVerdict.Allowed {
		// Post-hoc block: the deltas already streamed cost tokens, so the
		// usage is committed; the response never enters the cache.
		snapshot := s.commit(usage)
		s.fail(&ContentBlockedError{Direction: guardrail.Output, Reason: outVerdict.Reason}, usage, snapshot, true)
		return
	}
	// A redacting moderator rewrites the text: the cache and the completion
	// record carry the rewritten version, never the raw generation.
	fullText = outVerdict.Text

	s.state = StateCaching
	if err := r.cache.Store(context.Background(), cache.Entry{
		Fingerprint:  fingerprint,
		ModelID:      req.ModelID,
		PromptText:   prompt,
		ResponseText: fullText,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}); err != nil {
		log.Printf("⚠️ [Relay] Cache store failed for %s: %v", req.RequestID, err)
	}

	s.state = StateCommitting
	snapshot := s.commit(usage)

	s.complete(usage, snapshot, false, fullText)
}

// replay serves a cached response: one delta with the full text, then the
// usage update and completion. The entry's stored estimates are committed.
func (s *session) replay(entry *cache.Entry) {
	s.state = StateReplaying
	s.pub.publish(StreamEvent{Type: EventDelta, Delta: entry.ResponseText, CacheHit: true})

	s.state = StateCommitting
	usage := model.Usage{InputTokens: entry.InputTokens, OutputTokens: entry.OutputTokens}
	snapshot := s.commit(usage)

	s.completeCacheHit(usage, snapshot, entry.ResponseText)
}

// commit applies usage with the reconciler as fallback. Returns nil when
// the inline commit failed; the retry will land it later.
func (s *session) commit(u model.Usage) []meter.WindowUsage {
	snapshot, err := s.relay.meter.CommitUsage(context.Background(), s.req.RequestID, s.req.UserID, u.InputTokens, u.OutputTokens)
	if err != nil {
		log.Printf("⚠️ [Relay] Inline commit failed for %s, queuing reconcile: %v", s.req.RequestID, err)
		if s.relay.reconciler != nil {
			s.relay.reconciler.Enqueue(s.req.RequestID, s.req.UserID, u.InputTokens, u.OutputTokens)
		}
		return nil
	}
	return snapshot
}

// publishTerminal guards the single-terminal-event invariant
func (s *session) publishTerminal(ev StreamEvent) {
	if s.terminal {
		log.Printf("⚠️ [Relay] Suppressed second terminal event %s for %s", ev.Type, s.req.RequestID)
		return
	}
	s.terminal = true
	s.pub.publish(ev)
}

func (s *session) complete(usage model.Usage, snapshot []meter.WindowUsage, cacheHit bool, replyText string) {
	if snapshot != nil {
		s.pub.publish(StreamEvent{Type: EventUsageUpdate, Usage: snapshot})
	}
	s.publishTerminal(StreamEvent{
		Type:         EventComplete,
		CacheHit:     cacheHit,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	})
	s.state = StateDone
	s.emitRecord("complete", usage, cacheHit, replyText)
	log.Printf("✅ [Relay] %s done for %s (in=%d out=%d cacheHit=%v)",
		s.req.RequestID, s.req.UserID, usage.InputTokens, usage.OutputTokens, cacheHit)
}

func (s *session) completeCacheHit(usage model.Usage, snapshot []meter.WindowUsage, replyText string) {
	s.complete(usage, snapshot, true, replyText)
}

// fail publishes the single error terminal. billed marks usage that was
// committed before failing (post-hoc blocks, broken streams).
func (s *session) fail(err error, usage model.Usage, snapshot []meter.WindowUsage, billed bool) {
	if snapshot != nil {
		s.pub.publish(StreamEvent{Type: EventUsageUpdate, Usage: snapshot})
	}
	s.publishTerminal(StreamEvent{
		Type:         EventError,
		ErrorKind:    errorKind(err),
		ErrorMessage: err.Error(),
	})
	from := s.state
	s.state = StateErrored

	outcome := "error"
	if _, blocked := err.(*ContentBlockedError); blocked {
		outcome = "blocked"
	}
	if !billed {
		usage = model.Usage{}
	}
	s.emitRecord(outcome, usage, false, "")
	log.Printf("⚠️ [Relay] %s failed for %s in state %s: %v", s.req.RequestID, s.req.UserID, from, err)
}

func (s *session) emitRecord(outcome string, usage model.Usage, cacheHit bool, replyText string) {
	if s.relay.emitter == nil {
		return
	}
	s.relay.emitter.Emit(context.Background(), emitter.CompletionRecord{
		UserID:         s.req.UserID,
		ConversationID: s.req.ConversationID,
		ModelID:        s.req.ModelID,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		CacheHit:       cacheHit,
		LatencyMs:      time.Since(s.started).Milliseconds(),
		Outcome:        outcome,
		PromptPreview:  s.req.Content,
		ReplyPreview:   replyText,
	})
}
