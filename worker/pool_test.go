package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/queue"
)

type ackRecorder struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	requeu bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeu = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *ackRecorder) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

type channelConsumer struct {
	channels map[queue.Stage]chan amqp.Delivery
}

func newChannelConsumer(stages ...queue.Stage) *channelConsumer {
	c := &channelConsumer{channels: make(map[queue.Stage]chan amqp.Delivery)}
	for _, s := range stages {
		c.channels[s] = make(chan amqp.Delivery, 8)
	}
	return c
}

func (c *channelConsumer) Consume(stage queue.Stage, consumerTag string) (<-chan amqp.Delivery, error) {
	return c.channels[stage], nil
}

func (c *channelConsumer) push(t *testing.T, stage queue.Stage, ack amqp.Acknowledger, msg queue.TaskMessage) {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	c.channels[stage] <- amqp.Delivery{Acknowledger: ack, Body: body}
}

type recordingHandler struct {
	stage queue.Stage
	err   error

	mu   sync.Mutex
	seen []queue.TaskMessage
}

func (h *recordingHandler) Stage() queue.Stage { return h.stage }

func (h *recordingHandler) Handle(ctx context.Context, msg queue.TaskMessage) error {
	h.mu.Lock()
	h.seen = append(h.seen, msg)
	h.mu.Unlock()
	return h.err
}

func (h *recordingHandler) handled() []queue.TaskMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]queue.TaskMessage, len(h.seen))
	copy(out, h.seen)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPoolAcksHandledMessage(t *testing.T) {
	consumer := newChannelConsumer(queue.StageOCR)
	handler := &recordingHandler{stage: queue.StageOCR}
	pool := NewPool(consumer, nil, handler)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	ack := &ackRecorder{}
	consumer.push(t, queue.StageOCR, ack, queue.TaskMessage{JobID: "job-1", RuleID: "rule-1"})

	waitFor(t, func() bool {
		acks, _ := ack.counts()
		return acks == 1
	})

	seen := handler.handled()
	require.Len(t, seen, 1)
	assert.Equal(t, "job-1", seen[0].JobID)
	_, nacks := ack.counts()
	assert.Zero(t, nacks)
}

func TestPoolNacksWithoutRequeueOnHandlerError(t *testing.T) {
	consumer := newChannelConsumer(queue.StageOCR)
	handler := &recordingHandler{stage: queue.StageOCR, err: assert.AnError}
	pool := NewPool(consumer, nil, handler)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	ack := &ackRecorder{}
	consumer.push(t, queue.StageOCR, ack, queue.TaskMessage{JobID: "job-2"})

	waitFor(t, func() bool {
		_, nacks := ack.counts()
		return nacks == 1
	})
	assert.False(t, ack.requeu)
}

func TestPoolAcksUndecodableMessage(t *testing.T) {
	consumer := newChannelConsumer(queue.StageOCR)
	handler := &recordingHandler{stage: queue.StageOCR}
	pool := NewPool(consumer, nil, handler)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	ack := &ackRecorder{}
	consumer.channels[queue.StageOCR] <- amqp.Delivery{Acknowledger: ack, Body: []byte("not json")}

	waitFor(t, func() bool {
		acks, _ := ack.counts()
		return acks == 1
	})
	assert.Empty(t, handler.handled())
}

func TestPoolRoutesStagesToTheirHandlers(t *testing.T) {
	consumer := newChannelConsumer(queue.StageOCR, queue.StagePush)
	ocrHandler := &recordingHandler{stage: queue.StageOCR}
	pushHandler := &recordingHandler{stage: queue.StagePush}
	pool := NewPool(consumer, map[queue.Stage]int{queue.StagePush: 2}, ocrHandler, pushHandler)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	ack := &ackRecorder{}
	consumer.push(t, queue.StageOCR, ack, queue.TaskMessage{JobID: "job-ocr"})
	consumer.push(t, queue.StagePush, ack, queue.TaskMessage{JobID: "job-push"})

	waitFor(t, func() bool {
		acks, _ := ack.counts()
		return acks == 2
	})

	ocrSeen := ocrHandler.handled()
	require.Len(t, ocrSeen, 1)
	assert.Equal(t, "job-ocr", ocrSeen[0].JobID)
	pushSeen := pushHandler.handled()
	require.Len(t, pushSeen, 1)
	assert.Equal(t, "job-push", pushSeen[0].JobID)
}

func TestPoolStopDrainsWorkers(t *testing.T) {
	consumer := newChannelConsumer(queue.StageOCR)
	handler := &recordingHandler{stage: queue.StageOCR}
	pool := NewPool(consumer, map[queue.Stage]int{queue.StageOCR: 3}, handler)
	require.NoError(t, pool.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop in time")
	}
}
