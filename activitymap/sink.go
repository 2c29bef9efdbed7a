package activitymap

import (
	"context"

	accounts "github.com/goliatone/go-accounts"
)

// Emitter delivers a normalized record to an audit feed
type Emitter func(ctx context.Context, record Normalized) error

// Sink adapts an Emitter to accounts.ActivitySink, normalizing every event
// with opts before it is emitted.
func Sink(emit Emitter, opts ...Option) accounts.ActivitySink {
	return accounts.ActivitySinkFunc(func(ctx context.Context, event accounts.ActivityEvent) error {
		if emit == nil {
			return nil
		}
		return emit(ctx, Normalize(event, opts...))
	})
}

// LoggerEmitter writes each record as a single structured log line
func LoggerEmitter(logger accounts.Logger) Emitter {
	if logger == nil {
		logger = accounts.NoopLogger()
	}
	return func(_ context.Context, record Normalized) error {
		args := []any{
			"actor_id", record.ActorID,
			"verb", record.Verb,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"channel", record.Channel,
			"occurred_at", record.OccurredAt,
		}
		for key, value := range record.Metadata {
			args = append(args, key, value)
		}
		logger.Info("account activity", args...)
		return nil
	}
}
