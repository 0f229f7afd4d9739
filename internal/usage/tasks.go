package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-pricing/internal/lock"
)

// TypeConfirm is the asynq task type carrying a Confirmation.
const TypeConfirm = "usage:confirm"

// TaskClient is the subset of *asynq.Client used by Enqueuer.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer publishes usage confirmations for the worker. The task id is derived
// from the order id so a second confirmation of the same order is rejected by asynq
// while the first one is pending or retained.
type Enqueuer struct {
	Client    TaskClient
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// NewConfirmTask encodes c as a usage:confirm task.
func NewConfirmTask(c Confirmation) (*asynq.Task, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode confirmation: %w", err)
	}
	return asynq.NewTask(TypeConfirm, payload), nil
}

// TaskID returns the asynq task id used for an order.
func TaskID(c Confirmation) string { return TypeConfirm + ":" + c.OrderID.String() }

// Submit enqueues c. It reports true when the order was already queued.
func (e Enqueuer) Submit(ctx context.Context, c Confirmation) (bool, error) {
	if e.Client == nil {
		return false, errors.New("usage enqueuer not configured")
	}
	if err := c.Validate(); err != nil {
		return false, err
	}
	task, err := NewConfirmTask(c)
	if err != nil {
		return false, err
	}
	opts := []asynq.Option{asynq.TaskID(TaskID(c))}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Retention > 0 {
		opts = append(opts, asynq.Retention(e.Retention))
	}
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return true, nil
		}
		return false, fmt.Errorf("enqueue usage confirmation: %w", err)
	}
	return false, nil
}

// Worker settles usage:confirm tasks one order at a time.
type Worker struct {
	Service *Service
	Locker  lock.Locker
	LockTTL time.Duration
}

// Register mounts the worker on mux.
func (w Worker) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeConfirm, w)
}

// ProcessTask implements asynq.Handler. Payload and exhaustion errors are not retried.
func (w Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var c Confirmation
	if err := json.Unmarshal(t.Payload(), &c); err != nil {
		return fmt.Errorf("decode confirmation: %v: %w", err, asynq.SkipRetry)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	err := w.Locker.WithLock(ctx, "usage:"+c.OrderID.String(), w.LockTTL, func(ctx context.Context) error {
		_, err := w.Service.Confirm(ctx, c)
		return err
	})
	if errors.Is(err, ErrUsageExhausted) || errors.Is(err, ErrUnknownCode) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
