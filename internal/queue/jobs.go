package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/bucketimport/internal/model"
)

const (
	// ObjectEventTask is scheduled for every finalized object the trigger
	// receives.
	ObjectEventTask = "storage:object-finalized"
)

// ObjectEventPayload is serialized into the task payload so the worker knows
// which object to import.
type ObjectEventPayload struct {
	EventID string             `json:"event_id"`
	Event   model.StorageEvent `json:"event"`
}

// EventID identifies one write of an object. Events that carry a generation
// get a stable id, so a redelivered notification maps to the task already
// queued for it. Others get a random id.
func EventID(ev model.StorageEvent) string {
	if ev.Generation == "" {
		return uuid.NewString()
	}
	key := ev.Bucket + "/" + ev.Name + "#" + ev.Generation
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// NewObjectEventTask builds the task for ev. The event id doubles as the
// asynq task id.
func NewObjectEventTask(ev model.StorageEvent, maxRetry int) (*asynq.Task, ObjectEventPayload, error) {
	payload := ObjectEventPayload{EventID: EventID(ev), Event: ev}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, payload, fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ObjectEventTask, data, asynq.TaskID(payload.EventID), asynq.MaxRetry(maxRetry))
	return task, payload, nil
}

// EnqueueObjectEvent enqueues an import job and returns its event id. An
// event whose task is already queued is not queued again.
func EnqueueObjectEvent(ctx context.Context, client *asynq.Client, ev model.StorageEvent, maxRetry int) (string, error) {
	task, payload, err := NewObjectEventTask(ev, maxRetry)
	if err != nil {
		return "", err
	}
	return enqueue(ctx, client, task, payload.EventID)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func enqueue(ctx context.Context, client enqueuer, task *asynq.Task, eventID string) (string, error) {
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return eventID, nil
		}
		return "", fmt.Errorf("enqueue object event: %w", err)
	}
	return eventID, nil
}

// DecodeObjectEvent reads the payload of an ObjectEventTask.
func DecodeObjectEvent(task *asynq.Task) (ObjectEventPayload, error) {
	var payload ObjectEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if err := payload.Event.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

// Publisher enqueues object events with a fixed retry budget.
type Publisher struct {
	client   *asynq.Client
	maxRetry int
}

// NewPublisher wraps an asynq client.
func NewPublisher(client *asynq.Client, maxRetry int) *Publisher {
	return &Publisher{client: client, maxRetry: maxRetry}
}

// Publish enqueues ev and returns its event id.
func (p *Publisher) Publish(ctx context.Context, ev model.StorageEvent) (string, error) {
	return EnqueueObjectEvent(ctx, p.client, ev, p.maxRetry)
}
