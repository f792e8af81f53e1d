package logging

import (
	"fmt"
	"github.com/rs/zerolog"
	tlog "go.temporal.io/sdk/log"
	"image-processing-flow/internal/config"
	"io"
	"os"
	"time"
)

// New builds the process logger. Unknown levels fall back to info.
func New(cfg config.Log, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// TemporalLogger routes the Temporal SDK's key/value logging into zerolog.
type TemporalLogger struct {
	logger zerolog.Logger
}

var (
	_ tlog.Logger     = (*TemporalLogger)(nil)
	_ tlog.WithLogger = (*TemporalLogger)(nil)
)

func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.write(l.logger.Debug(), msg, keyvals)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.write(l.logger.Info(), msg, keyvals)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.write(l.logger.Warn(), msg, keyvals)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.write(l.logger.Error(), msg, keyvals)
}

func (l *TemporalLogger) With(keyvals ...interface{}) tlog.Logger {
	return &TemporalLogger{logger: l.logger.With().Fields(fields(keyvals)).Logger()}
}

func (l *TemporalLogger) write(e *zerolog.Event, msg string, keyvals []interface{}) {
	e.Fields(fields(keyvals)).Msg(msg)
}

// fields turns alternating key/value pairs into a map. A dangling key is
// kept under "extra" and error values under their string form.
func fields(keyvals []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			out["extra"] = keyvals[i]
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if err, isErr := keyvals[i+1].(error); isErr {
			out[key] = err.Error()
			continue
		}
		out[key] = keyvals[i+1]
	}
	return out
}
