package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// IncidentPublisher publishes incident events to the leak_incident_events queue.
// It is safe for concurrent use by replay workers.
type IncidentPublisher struct {
	ch       Channel
	queue    string
	mu       sync.Mutex
	declared bool

	messagesPublished atomic.Int64
	messagesFailed    atomic.Int64
	lastPublishTime   atomic.Int64
}

func NewIncidentPublisher(conn *RabbitMQConnection) *IncidentPublisher {
	return NewIncidentPublisherWithChannel(conn.Channel)
}

func NewIncidentPublisherWithChannel(ch Channel) *IncidentPublisher {
	return &IncidentPublisher{ch: ch, queue: LeakIncidentQueue}
}

func (p *IncidentPublisher) declare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared {
		return nil
	}
	if _, err := p.ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	p.declared = true
	return nil
}

func (p *IncidentPublisher) Publish(ctx context.Context, evt IncidentEvent) error {
	if err := p.declare(); err != nil {
		p.messagesFailed.Add(1)
		return err
	}

	body, err := json.Marshal(evt)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to marshal incident event: %w", err)
	}

	now := time.Now()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    evt.EventID,
		Type:         string(evt.Type),
		Body:         body,
		Timestamp:    now,
	})
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to publish incident event: %w", err)
	}

	p.messagesPublished.Add(1)
	p.lastPublishTime.Store(now.UnixNano())
	slog.Info("Incident event published",
		"queue", p.queue, "type", evt.Type, "site_id", evt.SiteID, "event_id", evt.EventID)
	return nil
}

// PublisherHealthStatus represents the health status of the publisher
type PublisherHealthStatus struct {
	MessagesPublished int64     `json:"messages_published"`
	MessagesFailed    int64     `json:"messages_failed"`
	LastPublishTime   time.Time `json:"last_publish_time"`
	Queue             string    `json:"queue"`
}

func (p *IncidentPublisher) Health() PublisherHealthStatus {
	st := PublisherHealthStatus{
		MessagesPublished: p.messagesPublished.Load(),
		MessagesFailed:    p.messagesFailed.Load(),
		Queue:             p.queue,
	}
	if ns := p.lastPublishTime.Load(); ns > 0 {
		st.LastPublishTime = time.Unix(0, ns)
	}
	return st
}
