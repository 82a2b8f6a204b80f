// Package pipeline implements Pipeline (C7): the per-connection orchestrator
// that threads one inbound chat message through rate limiting, history
// normalization, attachment processing, upstream generation, and
// write-through indexing, emitting typed events at each step.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenchat/chatcore/internal/attachment"
	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/events"
	"github.com/lumenchat/chatcore/internal/history"
	"github.com/lumenchat/chatcore/internal/logger"
	"github.com/lumenchat/chatcore/internal/ratelimit"
	"github.com/lumenchat/chatcore/internal/upstream"
	"github.com/lumenchat/chatcore/internal/vectorindex"
)

// Request is one inbound chat turn to process.
type Request struct {
	Message     string
	ChatHistory []chatmodel.StoredTurn
	ChatID      string
	Attachments []chatmodel.Attachment
	UserID      string
	Credential  string
}

// Pipeline wires C1 (RateLimiter), C2 (AttachmentProcessor),
// C3 (HistoryNormalizer), C5 (UpstreamConnector), and C6 (VectorIndexer)
// together, matching the event ordering described by the connection
// contract (§6).
type Pipeline struct {
	limiter        *ratelimit.Limiter
	attachments    *attachment.Processor
	normalizer     *history.Normalizer
	connector      *upstream.Connector
	indexer        *vectorindex.Indexer
	toolHandlers   upstream.ToolHandlers
	systemPreamble []string
	log            *logger.Logger
}

// New constructs a Pipeline from its component collaborators.
func New(
	limiter *ratelimit.Limiter,
	attachments *attachment.Processor,
	normalizer *history.Normalizer,
	connector *upstream.Connector,
	indexer *vectorindex.Indexer,
	toolHandlers upstream.ToolHandlers,
	systemPreamble []string,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		limiter:        limiter,
		attachments:    attachments,
		normalizer:     normalizer,
		connector:      connector,
		indexer:        indexer,
		toolHandlers:   toolHandlers,
		systemPreamble: systemPreamble,
		log:            log.WithComponent("pipeline"),
	}
}

// Process runs one inbound message through the full turn pipeline, emitting
// events to sink in the order: rate-limit-info, typing(true), the
// upstream connector's own message-response sequence, typing(false).
func (p *Pipeline) Process(ctx context.Context, sink events.Sink, req Request) {
	ctx = logger.WithUserID(ctx, req.UserID)
	ctx = logger.WithChatID(ctx, req.ChatID)
	log := p.log.WithContext(ctx)

	decision := p.limiter.CheckLimit(req.UserID)
	sink.RateLimitInfo(events.RateLimitInfo{
		ChatID: req.ChatID,
		Remaining: events.RateWindow{
			Minute: decision.Remaining.Minute,
			Hour:   decision.Remaining.Hour,
		},
		Limit: events.RateWindow{
			Minute: decision.Limit.Minute,
			Hour:   decision.Limit.Hour,
		},
		ResetAt: events.RateWindowTime{
			Minute: decision.ResetAt.Minute,
			Hour:   decision.ResetAt.Hour,
		},
	})

	if !decision.Allowed {
		log.Info("turn rejected by rate limiter", "retryAfterMs", decision.RetryAfterMs)
		sink.MessageResponse(events.MessageResponse{
			ChatID:      req.ChatID,
			IsComplete:  true,
			RateLimited: true,
			Chunk:       rateLimitMessage(decision.RetryAfterMs),
		})
		return
	}

	sink.Typing(events.Typing{ChatID: req.ChatID, IsTyping: true})
	defer sink.Typing(events.Typing{ChatID: req.ChatID, IsTyping: false})

	normalized := p.normalizer.Normalize(req.ChatHistory, p.systemPreamble)
	attachResult := p.attachments.Process(ctx, req.Attachments, req.Message)

	outcome := p.connector.SendMessage(ctx, req.ChatID, normalized, attachResult.Parts, upstream.SendContext{
		UserID:       req.UserID,
		Credential:   req.Credential,
		ToolHandlers: p.toolHandlers,
	})

	if outcome.Text != "" && !outcome.Blocked && !outcome.TimedOut {
		p.indexer.IndexTurn(ctx, req.UserID, req.ChatID, req.Message, outcome.Text, req.ChatHistory)
	}

	log.Info("turn complete", "blocked", outcome.Blocked, "timedOut", outcome.TimedOut)
}

// rateLimitMessage renders a human-readable wait explanation from a
// retry-after duration.
func rateLimitMessage(retryAfterMs int64) string {
	wait := time.Duration(retryAfterMs) * time.Millisecond
	if wait < time.Second {
		return "You're sending messages too quickly. Please wait a moment and try again."
	}
	seconds := int(wait.Round(time.Second).Seconds())
	if seconds < 60 {
		return fmt.Sprintf("You're sending messages too quickly. Please try again in %d seconds.", seconds)
	}
	minutes := seconds / 60
	return fmt.Sprintf("You're sending messages too quickly. Please try again in %d minute(s).", minutes)
}
