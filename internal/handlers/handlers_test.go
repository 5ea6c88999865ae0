package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/JillVernus/chat-relay/internal/cache"
	"github.com/JillVernus/chat-relay/internal/config"
	"github.com/JillVernus/chat-relay/internal/database"
	"github.com/JillVernus/chat-relay/internal/guardrail"
	"github.com/JillVernus/chat-relay/internal/meter"
	"github.com/JillVernus/chat-relay/internal/model"
	"github.com/JillVernus/chat-relay/internal/pubsub"
	"github.com/JillVernus/chat-relay/internal/relay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type allowAllModerator struct{}

func (allowAllModerator) Moderate(context.Context, string, guardrail.Direction) (guardrail.Decision, error) {
	return guardrail.Decision{}, nil
}

type scriptedStream struct {
	chunks []model.Chunk
	i      int
}

func (s *scriptedStream) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedClient struct{}

func (scriptedClient) Converse(context.Context, model.Request) (model.Stream, error) {
	return &scriptedStream{chunks: []model.Chunk{
		{Text: "hi there"},
		{Usage: &model.Usage{InputTokens: 2, OutputTokens: 2}},
	}}, nil
}

type testEnv struct {
	router      *gin.Engine
	broadcaster *pubsub.Broadcaster
	meter       *meter.Meter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewSQLite(database.Config{
		Type: database.DialectSQLite,
		URL:  filepath.Join(t.TempDir(), "handlers_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.InitSchema(db); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	envCfg := &config.EnvConfig{
		DefaultModelID: "model-default",
		RequestTimeout: 5 * time.Second,
	}
	windows := []meter.Window{
		{Name: "hourly", Bucket: time.Hour, TTL: 2 * time.Hour, InputLimit: 1000, OutputLimit: 2000},
	}
	m := meter.New(db, windows)
	b := pubsub.NewBroadcaster()
	r := relay.New(m, meter.NewReconciler(m), cache.New(db, time.Hour),
		guardrail.NewGate(allowAllModerator{}), scriptedClient{}, b, nil,
		relay.Options{ReservationTTL: time.Minute, ReservationTokens: 100})

	router := gin.New()
	router.POST("/v1/chat", Chat(r, envCfg))
	router.GET("/v1/subscribe/:userID", Subscribe(b))
	router.GET("/v1/usage/:userID", Usage(m))
	router.GET("/health", HealthCheck(db))

	return &testEnv{router: router, broadcaster: b, meter: m}
}

func TestChatRejectsIncompleteRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing userId", `{"content":"hello"}`},
		{"missing content", `{"userId":"alice"}`},
		{"empty body", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != 400 {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestChatAcceptsAndStreamsToChannel(t *testing.T) {
	env := newTestEnv(t)

	subID, events := env.broadcaster.Subscribe(relay.ChannelFor("alice"))
	defer env.broadcaster.Unsubscribe(relay.ChannelFor("alice"), subID)

	body := `{"userId":"alice","content":"say hi","history":[{"role":"user","content":"earlier"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != 202 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := w.Body.String()
	if gjson.Get(resp, "requestId").String() == "" {
		t.Error("202 response missing requestId")
	}
	if gjson.Get(resp, "channel").String() != "chat/alice" {
		t.Errorf("channel = %s", gjson.Get(resp, "channel").String())
	}

	// The relay runs async; wait for the terminal event.
	deadline := time.After(2 * time.Second)
	sawComplete := false
	for !sawComplete {
		select {
		case msg := <-events:
			if gjson.GetBytes(msg.Payload, "type").String() == "complete" {
				sawComplete = true
			}
		case <-deadline:
			t.Fatal("no complete event on the channel")
		}
	}
}

func TestSubscribeStreamsPublishedEvents(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/subscribe/alice", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for env.broadcaster.SubscriberCount("chat/alice") == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		env.broadcaster.Publish("chat/alice", []byte(`{"type":"delta","delta":"hi"}`))
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	env.router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, `data: {"type":"delta","delta":"hi"}`) {
		t.Errorf("body missing published event: %q", body)
	}
}

func TestUsageEndpointReportsWindows(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.meter.CommitUsage(context.Background(), "req-1", "bob", 100, 200); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/usage/bob", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if gjson.Get(body, "windows.0.inputUsed").Int() != 100 {
		t.Errorf("inputUsed = %d, want 100", gjson.Get(body, "windows.0.inputUsed").Int())
	}
	if gjson.Get(body, "windows.0.outputLimit").Int() != 2000 {
		t.Errorf("outputLimit = %d, want 2000", gjson.Get(body, "windows.0.outputLimit").Int())
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
}
