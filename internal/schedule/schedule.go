// Package schedule carries deferred campaign starts over amqp. The
// scheduler binary publishes a start job per due campaign; the server
// consumes jobs, tracks them in the Registry while pending, and hands
// them to the dispatcher. The Registry is what recovery consults for
// "is there a scheduling task for this campaign".
package schedule

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const queueName = "campaign_start_jobs"

// Job is the wire payload for one deferred start.
type Job struct {
	CampaignID int       `json:"campaign_id"`
	RunAt      time.Time `json:"run_at"`
}

// Registry tracks campaigns with a pending scheduled start. In-memory
// only; a lost registry just means the scheduler binary republishes on
// its next scan.
type Registry struct {
	mu    sync.Mutex
	tasks map[int]time.Time
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[int]time.Time)}
}

func (r *Registry) Add(campaignID int, runAt time.Time) {
	r.mu.Lock()
	r.tasks[campaignID] = runAt
	r.mu.Unlock()
}

func (r *Registry) Remove(campaignID int) {
	r.mu.Lock()
	delete(r.tasks, campaignID)
	r.mu.Unlock()
}

func (r *Registry) Has(campaignID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[campaignID]
	return ok
}

// Publisher pushes start jobs onto the durable queue.
type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) PublishStart(campaignID int, runAt time.Time) error {
	body, err := json.Marshal(Job{CampaignID: campaignID, RunAt: runAt})
	if err != nil {
		return err
	}
	return p.ch.Publish("", queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Starter is what a consumed job is handed to when due.
type Starter interface {
	Start(ctx context.Context, campaignID int, actor string) error
}

// StartSubscriber consumes start jobs in the server process. Jobs are
// acked as soon as their timer is armed; a pending timer lost to a
// restart is covered by the scheduler binary's next due scan.
func StartSubscriber(conn *amqp.Connection, reg *Registry, starter Starter, logger *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return err
	}
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go consume(msgs, reg, starter, logger)
	return nil
}

// consume arms one timer per job, so a far-future job never delays the
// jobs queued behind it. The consume loop itself never sleeps.
func consume(msgs <-chan amqp.Delivery, reg *Registry, starter Starter, logger *zap.Logger) {
	for d := range msgs {
		var job Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			logger.Warn("discarding malformed start job", zap.Error(err))
			ack(d, logger)
			continue
		}

		id := job.CampaignID
		reg.Add(id, job.RunAt)
		time.AfterFunc(time.Until(job.RunAt), func() {
			if err := starter.Start(context.Background(), id, "scheduler"); err != nil {
				logger.Warn("scheduled start rejected",
					zap.Int("campaign_id", id), zap.Error(err))
			}
			reg.Remove(id)
		})
		ack(d, logger)
	}
}

func ack(d amqp.Delivery, logger *zap.Logger) {
	if err := d.Ack(false); err != nil {
		logger.Warn("failed to ack start job",
			zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}
