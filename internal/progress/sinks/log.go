// Package sinks holds the built-in progress sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/yifanzhou/job51-crawler/internal/progress"
)

// LogSink mirrors progress events into structured logs so every completed or
// failed task leaves a replayable trace.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
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
			zap.String("run_id", evt.RunID.String()),
			zap.String("task_id", evt.TaskID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("keyword", evt.Keyword),
			zap.String("city", evt.City),
		}
		switch evt.Stage {
		case progress.StageTaskDone, progress.StageTaskError:
			fields = append(fields,
				zap.Int("pages_fetched", evt.PagesFetched),
				zap.Int("records_mapped", evt.RecordsMapped),
				zap.Int("records_dropped", evt.RecordsDropped),
				zap.Int("records_stored", evt.RecordsStored),
				zap.Int("inserted", evt.Inserted),
				zap.Int("updated", evt.Updated),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error { return nil }
