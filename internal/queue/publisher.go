// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue publishes helpdesk domain events to Redis as
// Celery-compatible tasks. Workers outside this service (embeddings,
// AI answer drafts) consume them; nothing here runs that work in-process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/helpdesk/ingestion/internal/metrics"
	"github.com/helpdesk/ingestion/internal/models"
)

// taskNames maps each event type to the Celery task that handles it.
var taskNames = map[models.EventType]string{
	models.EventConversationCreated: "helpdesk.tasks.conversation_created",
	models.EventMessageCreated:      "helpdesk.tasks.message_created",
}

// Publisher sends domain events to Redis in Celery task format.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// celeryTask represents a Celery-compatible task message.
// Celery reads tasks from Redis using this exact JSON structure.
type celeryTask struct {
	ID      string        `json:"id"`
	Task    string        `json:"task"`
	Args    []interface{} `json:"args"`
	Kwargs  interface{}   `json:"kwargs"`
	Retries int           `json:"retries"`
	ETA     *string       `json:"eta"`
}

// celeryMessage wraps a task for Redis transport.
type celeryMessage struct {
	Body            string                 `json:"body"`
	ContentEncoding string                 `json:"content-encoding"`
	ContentType     string                 `json:"content-type"`
	Headers         map[string]interface{} `json:"headers"`
	Properties      map[string]interface{} `json:"properties"`
}

// Publish serialises event and pushes it as a Celery task.
func (p *Publisher) Publish(ctx context.Context, event models.Event) error {
	taskID := uuid.New().String()
	msgJSON, err := p.envelope(taskID, event)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.Type), metrics.Result(err)).Inc()
		return err
	}

	// Celery uses LPUSH to the queue
	err = p.rdb.LPush(ctx, p.queueName, string(msgJSON)).Err()
	metrics.EventsPublished.WithLabelValues(string(event.Type), metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published helpdesk event to queue",
		"task_id", taskID,
		"event", event.Type,
		"conversation_id", event.ConversationID,
		"message_id", event.MessageID,
		"queue", p.queueName,
	)
	return nil
}

// envelope builds the Redis payload for one event.
func (p *Publisher) envelope(taskID string, event models.Event) ([]byte, error) {
	taskName, ok := taskNames[event.Type]
	if !ok {
		return nil, fmt.Errorf("no task registered for event %q", event.Type)
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal helpdesk event: %w", err)
	}

	task := celeryTask{
		ID:     taskID,
		Task:   taskName,
		Args:   []interface{}{string(eventJSON)},
		Kwargs: map[string]interface{}{},
	}
	taskBody, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal celery task: %w", err)
	}

	msg := celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]interface{}{
			"lang":    "py",
			"task":    taskName,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]interface{}{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"exchange":       p.queueName,
			"routing_key":    p.queueName,
			"delivery_info": map[string]string{
				"exchange":    p.queueName,
				"routing_key": p.queueName,
			},
		},
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal celery message: %w", err)
	}
	return msgJSON, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
