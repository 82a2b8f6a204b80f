package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/lumenchat/chatcore/internal/attachment"
	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/credential"
	"github.com/lumenchat/chatcore/internal/events"
	"github.com/lumenchat/chatcore/internal/generative"
	"github.com/lumenchat/chatcore/internal/history"
	"github.com/lumenchat/chatcore/internal/logger"
	"github.com/lumenchat/chatcore/internal/ratelimit"
	"github.com/lumenchat/chatcore/internal/upstream"
	"github.com/lumenchat/chatcore/internal/vectorindex"
)

func testLog() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

type recordingSink struct {
	rateLimits []events.RateLimitInfo
	typing     []events.Typing
	responses  []events.MessageResponse
}

func (r *recordingSink) RateLimitInfo(e events.RateLimitInfo) { r.rateLimits = append(r.rateLimits, e) }
func (r *recordingSink) Typing(e events.Typing)                { r.typing = append(r.typing, e) }
func (r *recordingSink) MessageResponse(e events.MessageResponse) {
	r.responses = append(r.responses, e)
}

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

func (noToolHandlers) Get(name string) (upstream.ToolHandler, bool)      { return nil, false }
func (noToolHandlers) GetDefinitions() []generative.ToolDefinition { return nil }

func newTestPipeline(t *testing.T, responseChunks []generative.Chunk) (*Pipeline, *recordingSink, []vectorindex.Record) {
	t.Helper()
	log := testLog()

	limiter := ratelimit.New(ratelimit.Config{MinuteCapacity: 60, HourCapacity: 500}, log)
	t.Cleanup(limiter.Destroy)

	proc := attachment.New(chatmodel.DefaultAttachmentPolicy(), nil, log)
	norm := history.New(chatmodel.DefaultAttachmentPolicy(), log)

	client := &scriptedClient{chunks: responseChunks}
	factory := func(cred string) (generative.Client, error) { return client, nil }
	credCache, err := credential.New(10, "server-credential-key-000000000000000000", factory, log)
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}

	sink := &recordingSink{}
	connector := upstream.NewConnector(credCache, sink, log)

	var indexed []vectorindex.Record
	idx := vectorindex.New(func(ctx context.Context, userID, chatID string, record vectorindex.Record, title string) error {
		indexed = append(indexed, record)
		return nil
	}, log)

	p := New(limiter, proc, norm, connector, idx, noToolHandlers{}, nil, log)
	return p, sink, indexed
}

func TestProcessHappyPathEmitsOrderedEvents(t *testing.T) {
	p, sink, _ := newTestPipeline(t, []generative.Chunk{{Text: "Hello"}, {Text: "!"}})

	p.Process(context.Background(), sink, Request{Message: "hi", UserID: "u1", ChatID: "c1"})

	if len(sink.rateLimits) != 1 {
		t.Fatalf("expected exactly one rate-limit-info event, got %d", len(sink.rateLimits))
	}
	if len(sink.typing) != 2 || !sink.typing[0].IsTyping || sink.typing[1].IsTyping {
		t.Fatalf("expected typing(true) then typing(false), got %+v", sink.typing)
	}
	if len(sink.responses) < 3 {
		t.Fatalf("expected at least 2 chunks + terminal, got %d", len(sink.responses))
	}
	last := sink.responses[len(sink.responses)-1]
	if !last.IsComplete {
		t.Fatalf("expected final response event to be terminal")
	}
}

func TestProcessIndexesCompletedTurn(t *testing.T) {
	p, sink, _ := newTestPipeline(t, []generative.Chunk{{Text: "answer"}})
	indexed := []vectorindex.Record{}
	p.indexer = vectorindex.New(func(ctx context.Context, userID, chatID string, record vectorindex.Record, title string) error {
		indexed = append(indexed, record)
		return nil
	}, testLog())

	p.Process(context.Background(), sink, Request{Message: "question", UserID: "u1", ChatID: "c1"})

	if len(indexed) != 2 {
		t.Fatalf("expected user+assistant records indexed, got %d", len(indexed))
	}
}

func TestProcessSkipsIndexingOnBlocked(t *testing.T) {
	p, sink, _ := newTestPipeline(t, []generative.Chunk{{BlockReason: "HATE"}})
	var indexCalls int
	p.indexer = vectorindex.New(func(ctx context.Context, userID, chatID string, record vectorindex.Record, title string) error {
		indexCalls++
		return nil
	}, testLog())

	p.Process(context.Background(), sink, Request{Message: "bad", UserID: "u1", ChatID: "c1"})

	if indexCalls != 0 {
		t.Fatalf("expected no indexing on a blocked outcome, got %d calls", indexCalls)
	}
}

func TestProcessDeniesOverRateLimit(t *testing.T) {
	p, sink, _ := newTestPipeline(t, []generative.Chunk{{Text: "unused"}})
	// Exhaust the minute bucket before the real call under test.
	for i := 0; i < 60; i++ {
		p.limiter.CheckLimit("u1")
	}

	p.Process(context.Background(), sink, Request{Message: "hi", UserID: "u1", ChatID: "c1"})

	if len(sink.typing) != 0 {
		t.Fatalf("expected no typing events once rate-limited, got %+v", sink.typing)
	}
	last := sink.responses[len(sink.responses)-1]
	if !last.RateLimited || !last.IsComplete {
		t.Fatalf("expected a terminal rate-limited response, got %+v", last)
	}
}
