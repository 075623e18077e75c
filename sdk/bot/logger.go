package bot

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger emits one structured line per bot event. Levels: debug, info, warn, error.
type Logger struct {
	z *zap.Logger
}

func NewLogger(level string) (*Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	config.EncoderConfig.MessageKey = "event"
	z, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{z: z}, nil
}

// WrapLogger uses an existing zap logger (tests use zaptest/observer).
func WrapLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

func NopLogger() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Zap exposes the underlying logger for packages that log on their own.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

func (l *Logger) Sync() {
	_ = l.z.Sync()
}

func (l *Logger) Inbound(m Message) {
	l.z.Debug("inbound",
		zap.String("message_id", m.ID),
		zap.String("author_id", m.Author.ID),
		zap.Bool("author_bot", m.Author.Bot),
		zap.String("channel_id", m.ChannelID),
		zap.Int("content_len", len(m.Content)),
	)
}

func (l *Logger) Interaction(in *Interaction) {
	l.z.Info("interaction",
		zap.String("interaction_id", in.ID),
		zap.Int("kind", int(in.Kind)),
		zap.String("command", in.CommandName),
		zap.String("user_id", in.User.ID),
		zap.String("channel_id", in.ChannelID),
	)
}

func (l *Logger) Outbound(channelID, text string) {
	l.z.Info("outbound", zap.String("channel_id", channelID), zap.String("text", text))
}

// Stage records the outcome of one pipeline stage for one message.
func (l *Logger) Stage(stage, messageID string, d time.Duration, err error) {
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("message_id", messageID),
		zap.Int64("duration_ms", d.Milliseconds()),
		zap.Bool("success", err == nil),
	}
	if err != nil {
		l.z.Error("stage", append(fields, zap.Error(err))...)
		return
	}
	l.z.Debug("stage", fields...)
}

func (l *Logger) Dispatch(command string, d time.Duration, err error) {
	fields := []zap.Field{
		zap.String("command", command),
		zap.Int64("duration_ms", d.Milliseconds()),
		zap.Bool("success", err == nil),
	}
	if err != nil {
		l.z.Error("dispatch", append(fields, zap.Error(err))...)
		return
	}
	l.z.Info("dispatch", fields...)
}

func (l *Logger) Error(where string, err error) {
	l.z.Error("error", zap.String("context", where), zap.Error(err))
}

func (l *Logger) Warn(where string, err error) {
	l.z.Warn("warn", zap.String("context", where), zap.Error(err))
}
