/*
Copyright 2025 Molam Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payouts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Molam-git/molam-connect-sub004/config"
	"github.com/Molam-git/molam-connect-sub004/model"
)

// Payout lifecycle events published to origin modules.
const (
	EventPayoutCreated   = "payout.created"
	EventPayoutSent      = "payout.sent"
	EventPayoutSettled   = "payout.settled"
	EventPayoutFailed    = "payout.failed"
	EventPayoutCancelled = "payout.cancelled"
	EventPayoutRetry     = "payout.retry_scheduled"
)

// PayoutEvent is the envelope delivered to subscribers.
type PayoutEvent struct {
	Event     string        `json:"event"`
	Payout    *model.Payout `json:"payout"`
	EmittedAt time.Time     `json:"emitted_at"`
}

// Queue publishes payout lifecycle events through asynq so delivery survives
// process restarts and failed webhooks are retried by the worker.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	queueName string
}

func NewQueue(conf *config.Configuration) *Queue {
	queueOptions := asynq.RedisClientOpt{Addr: conf.Redis.Dns}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)

	return &Queue{
		Client:    client,
		Inspector: inspector,
		queueName: conf.Queue.EventQueue,
	}
}

// Publish enqueues one lifecycle event. The task ID contains the payout id
// and event name so a double publish of the same transition deduplicates in
// the queue.
func (q *Queue) Publish(ctx context.Context, event string, payout *model.Payout) error {
	payload, err := json.Marshal(PayoutEvent{Event: event, Payout: payout, EmittedAt: time.Now()})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%s", payout.PayoutID, event)),
		asynq.Queue(q.queueName),
		asynq.MaxRetry(5),
	}
	task := asynq.NewTask(q.queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if err == asynq.ErrDuplicateTask || err == asynq.ErrTaskIDConflict {
			return nil
		}
		return err
	}
	logrus.Debugf("enqueued event %s for payout %s: id=%s queue=%s", event, payout.PayoutID, info.ID, info.Queue)
	return nil
}

// emit publishes an event, tolerating a missing queue (tests) and logging
// rather than failing the calling operation: event delivery is at-least-once
// and never blocks a state transition that already committed.
func (p *Payouts) emit(ctx context.Context, event string, payout *model.Payout) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Publish(ctx, event, payout); err != nil {
		logrus.Errorf("failed to publish %s for payout %s: %v", event, payout.PayoutID, err)
	}
}

// ProcessEvent is the asynq handler that delivers a payout event to the
// configured webhook endpoint.
func ProcessEvent(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var event PayoutEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		log.Printf("Error unmarshaling event payload: %v", err)
		return err
	}

	return deliverEvent(conf, event)
}

func deliverEvent(conf *config.Configuration, event PayoutEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("event webhook answered status %d", resp.StatusCode)
	}

	log.Println("Event webhook delivered:", event.Event)
	return nil
}
