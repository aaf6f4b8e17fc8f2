// Package jobs moves reconnect drains onto an asynq worker.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// UniqueFor bounds how long a pending drain task for one tag blocks another
const UniqueFor = 5 * time.Minute

// Enqueuer is satisfied by *asynq.Client
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Drainer runs one drain pass for a tag
type Drainer interface {
	Drain(ctx context.Context, tag string) error
}

// NewDrainTask builds a drain task for tag
func NewDrainTask(tag string) (*asynq.Task, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, errors.New("drain task requires a tag")
	}
	payload, err := json.Marshal(DrainQueuePayload{Tag: tag})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDrainQueue, payload), nil
}

// EnqueueDrain schedules a drain for tag. A drain already pending for the tag
// absorbs the request; queued reports whether a new task was created.
func EnqueueDrain(ctx context.Context, c Enqueuer, tag string) (queued bool, err error) {
	task, err := NewDrainTask(tag)
	if err != nil {
		return false, err
	}
	_, err = c.EnqueueContext(ctx, task,
		asynq.Queue(QueueSync),
		asynq.MaxRetry(3),
		asynq.Unique(UniqueFor),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue drain %s: %w", tag, err)
	}
	return true, nil
}

// NewDrainHandler returns the asynq handler for TaskDrainQueue
func NewDrainHandler(d Drainer, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p DrainQueuePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Error().Err(err).Msg("bad drain payload")
			return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
		}
		log := logger.With().Str("tag", p.Tag).Logger()
		log.Info().Msg("drain start")
		start := time.Now()
		if err := d.Drain(ctx, p.Tag); err != nil {
			log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("drain failed; will retry")
			return err
		}
		log.Info().Dur("duration", time.Since(start)).Msg("drain done")
		return nil
	}
}

// NewServeMux registers every task handler
func NewServeMux(d Drainer, logger zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskDrainQueue, NewDrainHandler(d, logger))
	return mux
}
