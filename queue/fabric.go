// Package queue provides the RabbitMQ fabric that moves jobs between
// processing stages. It declares one durable work queue per stage plus a
// companion wait queue used for delayed redelivery, publishes JSON task
// messages, and exposes consumption and depth inspection for workers.
//
// Delayed delivery uses the dead-letter pattern: a message published to a
// wait queue with a per-message expiration is routed back to its work
// queue by the default exchange once the expiration lapses. Work queues
// carry no dead-letter exchange themselves; parking a message on the
// dead-letter queue is always an explicit publish.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/streadway/amqp"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
)

// Fabric manages the stage queues on a single RabbitMQ connection.
type Fabric struct {
	connection AMQPConnection
	channel    AMQPChannel
	cfg        config.RabbitMQConfig
}

// NewFabric connects to RabbitMQ and declares the stage queues.
func NewFabric(cfg config.RabbitMQConfig) (*Fabric, error) {
	return NewFabricWithDialer(cfg, &RealAMQPDialer{})
}

// NewFabricWithDialer creates a fabric with an injected dialer for testing.
func NewFabricWithDialer(cfg config.RabbitMQConfig, dialer AMQPDialer) (*Fabric, error) {
	conn, err := dialer.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	f := &Fabric{connection: conn, channel: ch, cfg: cfg}
	if err := f.declare(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return f, nil
}

func (f *Fabric) workArgs() amqp.Table {
	args := amqp.Table{}
	if f.cfg.MessageTTL > 0 {
		args["x-message-ttl"] = f.cfg.MessageTTL.Milliseconds()
	}
	if f.cfg.MaxLength > 0 {
		args["x-max-length"] = int32(f.cfg.MaxLength)
	}
	return args
}

func (f *Fabric) declare() error {
	for _, stage := range Stages {
		name := f.QueueName(stage)
		if _, err := f.channel.QueueDeclare(name, true, false, false, false, f.workArgs()); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		if stage == StageDead {
			continue
		}
		waitArgs := f.workArgs()
		waitArgs["x-dead-letter-exchange"] = ""
		waitArgs["x-dead-letter-routing-key"] = name
		waitName := f.waitQueueName(stage)
		if _, err := f.channel.QueueDeclare(waitName, true, false, false, false, waitArgs); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", waitName, err)
		}
	}
	return nil
}

// QueueName returns the broker-side name of a stage queue.
func (f *Fabric) QueueName(stage Stage) string {
	return f.cfg.Prefix + string(stage)
}

func (f *Fabric) waitQueueName(stage Stage) string {
	return f.QueueName(stage) + ".wait"
}

func (f *Fabric) publish(routingKey string, body []byte, expiration string) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if expiration != "" {
		msg.Expiration = expiration
	}
	if err := f.channel.Publish("", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	return nil
}

// Publish enqueues a task message on a stage queue for immediate delivery.
func (f *Fabric) Publish(stage Stage, msg TaskMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}
	if err := f.publish(f.QueueName(stage), body, ""); err != nil {
		return err
	}
	common.Logger.WithField("job_id", msg.JobID).WithField("stage", stage).Debug("published task")
	return nil
}

// PublishDelayed enqueues a task message that becomes deliverable after the
// given delay. A non-positive delay publishes immediately.
func (f *Fabric) PublishDelayed(stage Stage, msg TaskMessage, delay time.Duration) error {
	if delay <= 0 {
		return f.Publish(stage, msg)
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	if err := f.publish(f.waitQueueName(stage), body, expiration); err != nil {
		return err
	}
	common.Logger.WithField("job_id", msg.JobID).
		WithField("stage", stage).
		WithField("delay", delay.String()).
		Debug("published delayed task")
	return nil
}

// PublishDead parks a message on the dead-letter queue with the reason it
// was given up on.
func (f *Fabric) PublishDead(stage Stage, msg TaskMessage, reason string) error {
	record := DeadLetterRecord{
		Stage:    stage,
		Message:  msg,
		Reason:   reason,
		ParkedAt: time.Now(),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter record: %w", err)
	}
	if err := f.publish(f.QueueName(StageDead), body, ""); err != nil {
		return err
	}
	common.Logger.WithField("job_id", msg.JobID).
		WithField("stage", stage).
		WithField("reason", reason).
		Warn("parked message on dead-letter queue")
	return nil
}

// Consume starts delivering messages from a stage queue. Deliveries must
// be acked or nacked by the caller.
func (f *Fabric) Consume(stage Stage, consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := f.channel.Consume(f.QueueName(stage), consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", f.QueueName(stage), err)
	}
	return deliveries, nil
}

// Depth returns the number of ready messages on a stage queue.
func (f *Fabric) Depth(stage Stage) (int, error) {
	q, err := f.channel.QueueInspect(f.QueueName(stage))
	if err != nil {
		return 0, fmt.Errorf("failed to inspect %s: %w", f.QueueName(stage), err)
	}
	return q.Messages, nil
}

// Purge discards all ready messages on a stage queue and returns the count.
func (f *Fabric) Purge(stage Stage) (int, error) {
	n, err := f.channel.QueuePurge(f.QueueName(stage), false)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", f.QueueName(stage), err)
	}
	return n, nil
}

// Close closes the channel and connection.
func (f *Fabric) Close() error {
	if f.channel != nil {
		f.channel.Close()
	}
	if f.connection != nil {
		f.connection.Close()
	}
	return nil
}

// DecodeTask unmarshals a delivery body into a task message.
func DecodeTask(d amqp.Delivery) (TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return TaskMessage{}, fmt.Errorf("failed to decode task message: %w", err)
	}
	return msg, nil
}

// DecodeDeadLetter unmarshals a delivery body into a dead-letter record.
func DecodeDeadLetter(d amqp.Delivery) (DeadLetterRecord, error) {
	var record DeadLetterRecord
	if err := json.Unmarshal(d.Body, &record); err != nil {
		return DeadLetterRecord{}, fmt.Errorf("failed to decode dead-letter record: %w", err)
	}
	return record, nil
}
