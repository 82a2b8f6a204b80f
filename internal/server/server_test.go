package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenchat/chatcore/internal/attachment"
	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/credential"
	"github.com/lumenchat/chatcore/internal/generative"
	"github.com/lumenchat/chatcore/internal/history"
	"github.com/lumenchat/chatcore/internal/metrics"
	"github.com/lumenchat/chatcore/internal/ratelimit"
	"github.com/lumenchat/chatcore/internal/upstream"
	"github.com/lumenchat/chatcore/internal/vectorindex"
)

type scriptedStream struct {
	chunks []generative.Chunk
	idx    int
}

func (s *scriptedStream) Next(ctx context.Context) (generative.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return generative.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}
func (s *scriptedStream) Close() error { return nil }

type scriptedClient struct{ chunks []generative.Chunk }

func (c *scriptedClient) StartStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, tools []generative.ToolDefinition) (generative.Stream, error) {
	return &scriptedStream{chunks: c.chunks}, nil
}
func (c *scriptedClient) ContinueStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, functionResponses []chatmodel.MessagePart, tools []generative.ToolDefinition) (generative.Stream, error) {
	return &scriptedStream{chunks: c.chunks}, nil
}
func (c *scriptedClient) Probe(ctx context.Context) error { return nil }

type noToolHandlers struct{}

func (noToolHandlers) Get(name string) (upstream.ToolHandler, bool)  { return nil, false }
func (noToolHandlers) GetDefinitions() []generative.ToolDefinition { return nil }

func newTestDeps(t *testing.T, chunks []generative.Chunk) *Dependencies {
	t.Helper()
	log := testLog()

	limiter := ratelimit.New(ratelimit.Config{MinuteCapacity: 60, HourCapacity: 500}, log)
	t.Cleanup(limiter.Destroy)

	client := &scriptedClient{chunks: chunks}
	factory := func(cred string) (generative.Client, error) { return client, nil }
	credCache, err := credential.New(10, "server-credential-key-000000000000000000", factory, log)
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}

	idx := vectorindex.New(func(ctx context.Context, userID, chatID string, record vectorindex.Record, title string) error {
		return nil
	}, log)

	return &Dependencies{
		Limiter:     limiter,
		Attachments: attachment.New(chatmodel.DefaultAttachmentPolicy(), nil, log),
		Normalizer:  history.New(chatmodel.DefaultAttachmentPolicy(), log),
		Credentials: credCache,
		Indexer:     idx,
		ToolHandlers: noToolHandlers{},
		Metrics:     metrics.New(),
		Log:         log,
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	deps := newTestDeps(t, nil)
	s := New("127.0.0.1:0", deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointExposesRegisteredInstruments(t *testing.T) {
	deps := newTestDeps(t, nil)
	s := New("127.0.0.1:0", deps)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatcore_admission_total") {
		t.Errorf("expected chatcore_admission_total in metrics output")
	}
}

func TestWebSocketRoundTripStreamsAssistantReply(t *testing.T) {
	deps := newTestDeps(t, []generative.Chunk{{Text: "hi "}, {Text: "there"}})
	s := New("127.0.0.1:0", deps)

	httpServer := httptest.NewServer(s.engine)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws?userId=u1"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	payload, _ := json.Marshal(inboundChatMessage{ChatID: "c1", Message: "hello"})
	if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var sawComplete bool
	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 10 && !sawComplete; i++ {
		_, raw, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var evt wireEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if evt.Type == "message-response" {
			if complete, _ := evt.Data["isComplete"].(bool); complete {
				sawComplete = true
			}
		}
	}
	if !sawComplete {
		t.Fatalf("expected a terminal message-response event within 10 reads")
	}
}
