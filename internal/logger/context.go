package logger

import "context"

// WithConnID attaches a WebSocket connection identifier to ctx. Picked up by
// (*Logger).WithContext so every log line for a connection's lifetime carries
// it without threading it through every call.
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ContextKeyConnID, connID)
}

// WithUserID attaches the authenticated user identifier to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// WithChatID attaches the chat identifier a turn belongs to ctx.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ContextKeyChatID, chatID)
}
