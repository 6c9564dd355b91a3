// Package queue implements the at-least-once task queue on Redis Streams.
// Producers (gateway, poller, scheduler jobs) XADD tasks; worker processes
// consume through a consumer group and acknowledge only after the engine has
// durably committed. A failed task is re-published with an incremented attempt
// counter — retries stay visible in the stream instead of looping in-process.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hirepilot/internal/models"
)

const (
	// StreamTasks carries engine invocations.
	StreamTasks = "tasks:engine"
	// StreamDead holds tasks that exhausted their redelivery budget.
	StreamDead = "tasks:dead"

	payloadField = "task"
	maxAttempts  = 10
)

// Handler processes one task. A nil return acknowledges the delivery; any
// error requeues it (negative acknowledgement), never drops it.
type Handler func(ctx context.Context, task *models.Task) error

// TaskQueue is one consumer-group view over the engine task stream.
type TaskQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewTaskQueue creates the stream and consumer group if needed. Each worker
// process gets a unique consumer name so pending entries can be reclaimed
// after a crash.
func NewTaskQueue(client *redis.Client, group string) (*TaskQueue, error) {
	q := &TaskQueue{
		client:   client,
		stream:   StreamTasks,
		group:    group,
		consumer: "worker-" + uuid.New().String()[:8],
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.Printf("✅ [QUEUE] Consumer %s joined group %s on %s", q.consumer, q.group, q.stream)
	return q, nil
}

// Consumer returns this worker's consumer name.
func (q *TaskQueue) Consumer() string {
	return q.consumer
}

// Publish appends a task to the stream.
func (q *TaskQueue) Publish(ctx context.Context, task *models.Task) error {
	payload, err := task.Encode()
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish task for %s: %w", task.ConversationID, err)
	}
	return nil
}

// Consume reads and processes tasks until ctx is cancelled.
func (q *TaskQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing pending
			}
			log.Printf("❌ [QUEUE] Read failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.process(ctx, msg, handler)
			}
		}
	}
}

func (q *TaskQueue) process(ctx context.Context, msg redis.XMessage, handler Handler) {
	raw, _ := msg.Values[payloadField].(string)
	task, err := models.DecodeTask(raw)
	if err != nil {
		// Poison payload: undecodable tasks can never succeed, so they go to
		// the dead stream instead of looping forever.
		log.Printf("☠️ [QUEUE] Undecodable task %s dropped to dead stream: %v", msg.ID, err)
		q.deadLetter(ctx, raw, err)
		q.ack(ctx, msg.ID)
		return
	}

	if err := handler(ctx, task); err != nil {
		q.nack(ctx, msg.ID, task, err)
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *TaskQueue) ack(ctx context.Context, msgID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, msgID).Err(); err != nil {
		log.Printf("⚠️ [QUEUE] Ack of %s failed: %v", msgID, err)
	}
}

// nack requeues the task with an incremented attempt counter and acknowledges
// the failed delivery, keeping exactly one live copy in the stream.
func (q *TaskQueue) nack(ctx context.Context, msgID string, task *models.Task, cause error) {
	task.Attempt++
	if task.Attempt >= maxAttempts {
		log.Printf("☠️ [QUEUE] Task for %s exhausted %d attempts: %v",
			task.ConversationID, task.Attempt, cause)
		payload, _ := task.Encode()
		q.deadLetter(ctx, payload, cause)
		q.ack(ctx, msgID)
		return
	}

	log.Printf("♻️ [QUEUE] Requeueing task for %s (attempt %d): %v",
		task.ConversationID, task.Attempt, cause)
	if err := q.Publish(ctx, task); err != nil {
		// Leave the delivery pending: the reclaim sweep will redeliver it.
		log.Printf("❌ [QUEUE] Requeue failed, leaving %s pending: %v", msgID, err)
		return
	}
	q.ack(ctx, msgID)
}

func (q *TaskQueue) deadLetter(ctx context.Context, payload string, cause error) {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDead,
		Values: map[string]interface{}{
			payloadField: payload,
			"error":      cause.Error(),
			"at":         time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		log.Printf("❌ [QUEUE] Dead-letter write failed: %v", err)
	}
}

// Reclaim takes over deliveries stuck pending on dead consumers for longer
// than minIdle and reprocesses them through the handler on the next read.
// Returns the number of reclaimed messages.
func (q *TaskQueue) Reclaim(ctx context.Context, minIdle time.Duration) (int, error) {
	var reclaimed int
	start := "0-0"
	for {
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim failed: %w", err)
		}

		for _, msg := range msgs {
			reclaimed++
			raw, _ := msg.Values[payloadField].(string)
			task, err := models.DecodeTask(raw)
			if err != nil {
				q.deadLetter(ctx, raw, err)
				q.ack(ctx, msg.ID)
				continue
			}
			// Re-publish under a fresh delivery so the normal consume loop
			// picks it up; ack the stale pending entry.
			if err := q.Publish(ctx, task); err != nil {
				log.Printf("⚠️ [QUEUE] Reclaimed republish failed for %s: %v", task.ConversationID, err)
				continue
			}
			q.ack(ctx, msg.ID)
		}

		if next == "0-0" || len(msgs) == 0 {
			return reclaimed, nil
		}
		start = next
	}
}

// Depth returns the stream length, exported as a gauge by the gateway.
func (q *TaskQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}
