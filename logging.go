package shopload

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type correlationIdType int

const (
	userIdKey correlationIdType = iota
)

const (
	defaultLogLevel    = "info"
	defaultLogEncoding = "console"
)

type Logger struct {
	*zap.SugaredLogger
}

// log is a no-op until NewLogger is called, so library code and tests never hit a nil logger
var log = &Logger{zap.NewNop().Sugar()}

// Log returns the package logger, load scripts use it to log the same way the engine does
func Log() *Logger {
	return log
}

// WithUserId returns a context which knows the simulated user ID
func WithUserId(ctx context.Context, userId string) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

// FromCtx returns a logger with as much context as possible
func (m *Logger) FromCtx(ctx context.Context) *Logger {
	newLogger := m
	if ctx == nil {
		return newLogger
	}
	if ctxUserId, ok := ctx.Value(userIdKey).(string); ok {
		newLogger = &Logger{newLogger.With(zap.String("userId", ctxUserId))}
	}
	return newLogger
}

func setupLogger(encoding string, level string, outputPaths []string) (*Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}
	if encoding == "" {
		encoding = defaultLogEncoding
	}
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}
	paths, err := json.Marshal(outputPaths)
	if err != nil {
		return nil, err
	}
	rawJSON := []byte(fmt.Sprintf(`{
	  "level": "%s",
	  "encoding": "%s",
	  "outputPaths": %s,
	  "errorOutputPaths": ["stderr"],
	  "encoderConfig": {
	    "messageKey": "message",
	    "levelKey": "level",
	    "levelEncoder": "uppercase",
	    "timeKey": "time",
	    "timeEncoder": "ISO8601",
	    "callerKey": "caller",
	    "callerEncoder": "short"
	  }
	}`, strings.ToLower(level), encoding, paths))

	var cfg zap.Config
	if err := json.Unmarshal(rawJSON, &cfg); err != nil {
		return nil, fmt.Errorf("bad logger config: %w", err)
	}
	if encoding == defaultLogEncoding {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{zl.Sugar()}, nil
}

// NewLogger builds the package logger from the logging section of the generator config
func NewLogger() (*Logger, error) {
	l, err := setupLogger(
		viper.GetString("logging.encoding"),
		viper.GetString("logging.level"),
		viper.GetStringSlice("logging.output_paths"),
	)
	if err != nil {
		return nil, err
	}
	log = l
	return log, nil
}
