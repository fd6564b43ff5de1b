package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

var logLevels = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

// newLogger builds the per-worker logger. Every line carries the worker
// rank so interleaved output from a multi-rank run stays attributable.
func newLogger(rank int) *slog.Logger {
	var logLevel slog.Level
	if level, ok := logLevels[os.Getenv("LOG_LEVEL")]; ok {
		logLevel = level
	}
	handler := &rankHandler{
		level: logLevel,
		rank:  rank,
	}
	return slog.New(handler)
}

type rankHandler struct {
	level slog.Level
	rank  int
	attrs []slog.Attr
}

var _ slog.Handler = (*rankHandler)(nil)

func (rh *rankHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= rh.level
}

func (rh *rankHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, len(rh.attrs), len(rh.attrs)+len(attrs))
	copy(combined, rh.attrs)
	for _, attr := range attrs {
		if !attr.Equal(slog.Attr{}) {
			combined = append(combined, attr)
		}
	}
	return &rankHandler{
		level: rh.level,
		rank:  rh.rank,
		attrs: combined,
	}
}

func (rh *rankHandler) WithGroup(_ string) slog.Handler {
	panic("not implemented")
}

func (rh *rankHandler) Handle(_ context.Context, record slog.Record) error {
	var builder strings.Builder

	if !record.Time.IsZero() {
		builder.WriteRune('[')
		builder.WriteString(record.Time.Format(time.RFC3339))
		builder.WriteString("] ")
	}

	switch record.Level {
	case slog.LevelWarn:
		builder.WriteString("[WARN] ")
	case slog.LevelError:
		builder.WriteString("[ERROR] ")
	default:
	}

	fmt.Fprintf(&builder, "rank-%d: ", rh.rank)
	builder.WriteString(record.Message)

	writeAttr := func(attr slog.Attr) {
		builder.WriteRune(' ')
		builder.WriteString(attr.Key)
		builder.WriteString("=")
		builder.WriteString(attr.Value.String())
	}
	for _, attr := range rh.attrs {
		writeAttr(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(attr)
		return true
	})

	fmt.Println(builder.String())

	return nil
}
