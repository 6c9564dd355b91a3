package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithConversation returns a logger with conversation context fields attached.
// Use this for all logging within one engine invocation.
func WithConversation(conversationID string, trigger string, attempt int) *slog.Logger {
	return slog.With(
		"conversation_id", conversationID,
		"trigger", trigger,
		"attempt", attempt,
	)
}

// WithWorker returns a logger scoped to a queue consumer.
func WithWorker(consumerID string) *slog.Logger {
	return slog.With("consumer_id", consumerID)
}
