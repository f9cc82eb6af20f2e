package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("resolution_id", evt.ResolutionUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("content_key", evt.ContentKey),
			zap.Int("candidates", evt.Candidates),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source), zap.String("status", evt.Status))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
