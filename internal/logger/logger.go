package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// instanceID identifies this process across a multi-instance deployment, so
// logs from the same turn can be correlated even when it fans out across
// connections handled by different pods.
var instanceID string

func init() {
	instanceID = os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = os.Getenv("HOSTNAME")
	}
	if instanceID == "" {
		instanceID = os.Getenv("POD_NAME")
	}
	if instanceID == "" {
		b := make([]byte, 4)
		rand.Read(b)
		instanceID = hex.EncodeToString(b)
	}
}

// GetInstanceID returns the identifier generated for this process at
// startup.
func GetInstanceID() string {
	return instanceID
}

// Config controls the format and minimum level of a Logger.
type Config struct {
	Level  slog.Level
	Format string
}

// contextKey namespaces chatcore's context values so they don't collide
// with keys set by other packages.
type contextKey string

const (
	// ContextKeyConnID identifies the WebSocket connection (A3) a log line
	// was produced on behalf of.
	ContextKeyConnID contextKey = "conn_id"
	// ContextKeyUserID identifies the user a turn belongs to.
	ContextKeyUserID contextKey = "user_id"
	// ContextKeyChatID identifies the chat a turn belongs to.
	ContextKeyChatID contextKey = "chat_id"
)

// Logger wraps slog.Logger with chatcore's context and component
// conventions.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing either tinted text (for a terminal) or JSON
// (for log aggregation) to stdout, per config.Format.
func New(config Config) *Logger {
	if config.Format == "json" {
		opts := &slog.HandlerOptions{
			Level:     config.Level,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{
						Key:   a.Key,
						Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
					}
				}
				return a
			},
		}
		return &Logger{
			Logger: slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(slog.String("instance_id", instanceID)),
		}
	}

	opts := &tint.Options{
		Level:      config.Level,
		AddSource:  true,
		TimeFormat: time.Kitchen,
	}
	return &Logger{
		Logger: slog.New(tint.NewHandler(os.Stdout, opts)).With(slog.String("instance_id", instanceID)),
	}
}

// FromConfig derives a logger Config from the raw LOG_LEVEL/LOG_FORMAT
// strings config.LoadConfig reads from the environment.
func FromConfig(logLevel, logFormat string) Config {
	cfg := Config{
		Level:  slog.LevelDebug,
		Format: "text",
	}

	switch logLevel {
	case "debug":
		cfg.Level = slog.LevelDebug
	case "info":
		cfg.Level = slog.LevelInfo
	case "warn":
		cfg.Level = slog.LevelWarn
	case "error":
		cfg.Level = slog.LevelError
	}

	if logFormat != "" {
		cfg.Format = logFormat
	}

	if env := os.Getenv("APP_ENV"); env == "production" {
		cfg.Format = "json"
	}

	return cfg
}

// WithContext derives a Logger carrying whichever of connId/userId/chatId
// are set on ctx, so a single call at the top of a connection's read loop
// or a pipeline turn threads identifying fields onto every subsequent line.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if connID, ok := ctx.Value(ContextKeyConnID).(string); ok && connID != "" {
		logger = logger.With(slog.String("connId", connID))
	}

	if userID, ok := ctx.Value(ContextKeyUserID).(string); ok && userID != "" {
		logger = logger.With(slog.String("userId", userID))
	}

	if chatID, ok := ctx.Value(ContextKeyChatID).(string); ok && chatID != "" {
		logger = logger.With(slog.String("chatId", chatID))
	}

	return &Logger{Logger: logger}
}

// WithComponent derives a Logger tagged with the subsystem producing the
// log line (e.g. "pipeline", "server").
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", component))}
}

// WithFields derives a Logger with additional static fields attached, used
// for identifiers that aren't carried via context (e.g. a connection's id
// at construction time, before any per-turn context exists).
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

// LogError logs err alongside ctx's connId/userId/chatId fields.
func (l *Logger) LogError(ctx context.Context, err error, msg string, args ...interface{}) {
	logger := l.WithContext(ctx)
	allArgs := append([]interface{}{"error", err}, args...)
	logger.Error(msg, allArgs...)
}
