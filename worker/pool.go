// Package worker runs the stage consumers: OCR, pipeline and push.
// Each stage has one handler type; any number of workers may consume
// the same queue. Handlers are idempotent per message via status
// guards, so at-least-once delivery is safe.
package worker

import (
	"context"
	"sync"

	"github.com/streadway/amqp"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/queue"
)

// Handler processes one decoded task message. A nil return acks the
// delivery; an error nacks it without requeue (re-entry is driven by
// explicit republish).
type Handler interface {
	Stage() queue.Stage
	Handle(ctx context.Context, msg queue.TaskMessage) error
}

// Consumer is the slice of the queue fabric the pool needs. Satisfied
// by queue.Fabric.
type Consumer interface {
	Consume(stage queue.Stage, consumerTag string) (<-chan amqp.Delivery, error)
}

// Pool fans stage queues out to handler workers.
type Pool struct {
	consumer Consumer
	handlers []Handler
	counts   map[queue.Stage]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. counts maps stages to worker counts;
// unlisted stages get one worker.
func NewPool(consumer Consumer, counts map[queue.Stage]int, handlers ...Handler) *Pool {
	return &Pool{consumer: consumer, handlers: handlers, counts: counts}
}

// Start launches all workers. One Consume channel is opened per stage
// and shared by that stage's workers.
func (p *Pool) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	for _, h := range p.handlers {
		n := p.counts[h.Stage()]
		if n <= 0 {
			n = 1
		}
		deliveries, err := p.consumer.Consume(h.Stage(), "docfold-"+string(h.Stage()))
		if err != nil {
			p.cancel()
			return err
		}
		common.Logger.WithField("stage", string(h.Stage())).
			WithField("workers", n).
			Info("starting stage workers")
		for i := 0; i < n; i++ {
			p.wg.Add(1)
			go p.work(ctx, h, deliveries)
		}
	}
	return nil
}

// Stop cancels in-flight handlers and waits for workers to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, h Handler, deliveries <-chan amqp.Delivery) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			p.handle(ctx, h, d)
		}
	}
}

func (p *Pool) handle(ctx context.Context, h Handler, d amqp.Delivery) {
	msg, err := queue.DecodeTask(d)
	if err != nil {
		common.Logger.WithError(err).
			WithField("stage", string(h.Stage())).
			Warn("dropping undecodable message")
		d.Ack(false)
		return
	}

	if err := h.Handle(ctx, msg); err != nil {
		common.Logger.WithError(err).
			WithField("stage", string(h.Stage())).
			WithField("job_id", msg.JobID).
			Error("stage handler failed")
		d.Nack(false, false)
		return
	}
	d.Ack(false)
}
