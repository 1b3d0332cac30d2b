package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

type fakeChannel struct {
	mu         sync.Mutex
	declares   int
	published  []amqp.Publishing
	keys       []string
	publishErr error
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declares++
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func record(status models.IncidentStatus) models.IncidentRecord {
	return models.IncidentRecord{
		EventID:     "SITE_A__2024-03-31__2024-04-04",
		SiteID:      "SITE_A",
		Status:      status,
		SeverityMax: "S3",
		StartTime:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

// ============================================================================
// TEST SUITE 1: EVENT TYPES
// ============================================================================

func TestTypeFor(t *testing.T) {
	assert.Equal(t, IncidentOpened, TypeFor(record(models.StatusWatch)))
	assert.Equal(t, IncidentEscalated, TypeFor(record(models.StatusCall)))

	closed := record(models.StatusWatch)
	closed.Closed = true
	assert.Equal(t, IncidentClosed, TypeFor(closed))

	suppressed := record(models.StatusCall)
	suppressed.SuppressedBy = "ABC123"
	assert.Equal(t, IncidentSuppressed, TypeFor(suppressed))
}

func TestNewIncidentEvent(t *testing.T) {
	now := time.Date(2024, 4, 5, 8, 0, 0, 0, time.UTC)
	evt := NewIncidentEvent("run-1", record(models.StatusInvestigate), now)

	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, "Caretaker walk-through", evt.NextAction)
	assert.Equal(t, IncidentEscalated, evt.Type)
	assert.Equal(t, now, evt.PublishedAt)
}

// ============================================================================
// TEST SUITE 2: PUBLISHER
// ============================================================================

func TestIncidentPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := NewIncidentPublisherWithChannel(ch)
	ctx := context.Background()

	evt := NewIncidentEvent("run-1", record(models.StatusCall), time.Now())
	require.NoError(t, p.Publish(ctx, evt))
	require.NoError(t, p.Publish(ctx, evt))

	assert.Equal(t, 1, ch.declares)
	require.Len(t, ch.published, 2)
	assert.Equal(t, LeakIncidentQueue, ch.keys[0])
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].ContentType)

	var decoded IncidentEvent
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &decoded))
	assert.Equal(t, evt.EventID, decoded.EventID)
	assert.Equal(t, models.StatusCall, decoded.Status)

	health := p.Health()
	assert.Equal(t, int64(2), health.MessagesPublished)
	assert.False(t, health.LastPublishTime.IsZero())
}

func TestIncidentPublisher_CountsFailures(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p := NewIncidentPublisherWithChannel(ch)

	err := p.Publish(context.Background(), NewIncidentEvent("run-1", record(models.StatusWatch), time.Now()))
	assert.ErrorContains(t, err, "channel closed")
	assert.Equal(t, int64(1), p.Health().MessagesFailed)
}

func TestURL(t *testing.T) {
	cfg := config.RabbitMQConfig{Username: "admin", Password: "pw", Host: "mq", Port: "5672"}
	assert.Equal(t, "amqp://admin:pw@mq:5672/", URL(cfg))
}
