package server

import (
	"time"

	"github.com/lumenchat/chatcore/internal/events"
)

// wireEvent is the JSON envelope one outbound event is serialized to.
type wireEvent struct {
	Type      string         `json:"type"`
	ChatID    string         `json:"chat_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func rateLimitInfoEvent(e events.RateLimitInfo) wireEvent {
	return wireEvent{
		Type:      "rate-limit-info",
		ChatID:    e.ChatID,
		Timestamp: nowRFC3339(),
		Data: map[string]any{
			"remaining": map[string]int{"minute": e.Remaining.Minute, "hour": e.Remaining.Hour},
			"limit":     map[string]int{"minute": e.Limit.Minute, "hour": e.Limit.Hour},
			"resetAt": map[string]string{
				"minute": e.ResetAt.Minute.Format(time.RFC3339),
				"hour":   e.ResetAt.Hour.Format(time.RFC3339),
			},
		},
	}
}

func typingEvent(e events.Typing) wireEvent {
	return wireEvent{
		Type:      "typing",
		ChatID:    e.ChatID,
		Timestamp: nowRFC3339(),
		Data:      map[string]any{"isTyping": e.IsTyping},
	}
}

func messageResponseEvent(e events.MessageResponse) wireEvent {
	return wireEvent{
		Type:      "message-response",
		ChatID:    e.ChatID,
		Timestamp: nowRFC3339(),
		Data: map[string]any{
			"chunk":       e.Chunk,
			"isComplete":  e.IsComplete,
			"blocked":     e.Blocked,
			"timedOut":    e.TimedOut,
			"rateLimited": e.RateLimited,
		},
	}
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339Nano)
}
