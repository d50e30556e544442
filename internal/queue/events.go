package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

const (
	EventsExchangeName = "subtitles"
	EventsQueueName    = "subtitle_job_events"
)

// RoutingKey returns the routing key of a job event.
func RoutingKey(status models.JobStatus) string {
	return "extraction." + string(status)
}

// EventPublisher publishes extraction job changes to RabbitMQ.
type EventPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewEventPublisher connects to RabbitMQ and declares the events topology.
func NewEventPublisher(cfg config.EventsConfig) (*EventPublisher, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(channel); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return &EventPublisher{conn: conn, channel: channel}, nil
}

func declareTopology(channel *amqp.Channel) error {
	err := channel.ExchangeDeclare(
		EventsExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		EventsQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		EventsQueueName,
		"extraction.#",
		EventsExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Close closes the broker connection
func (p *EventPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// JobChanged publishes the job record under its status routing key.
func (p *EventPublisher) JobChanged(ctx context.Context, job *models.ExtractionJob) error {
	msg, err := eventMessage(job)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		EventsExchangeName,
		RoutingKey(job.Status),
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}

// Pending returns the number of events waiting in the audit queue.
func (p *EventPublisher) Pending() (int, error) {
	info, err := p.channel.QueueInspect(EventsQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return info.Messages, nil
}

func eventMessage(job *models.ExtractionJob) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal job: %w", err)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.ID,
		Type:         RoutingKey(job.Status),
		Body:         body,
		Timestamp:    time.Now(),
	}, nil
}
