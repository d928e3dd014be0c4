package orchestrator

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/store"
)

type publishedTask struct {
	stage queue.Stage
	msg   queue.TaskMessage
}

// stubQueue hands out a pre-filled dead-letter channel and records
// everything published back.
type stubQueue struct {
	mu        sync.Mutex
	published []publishedTask
	dead      chan amqp.Delivery
}

func (q *stubQueue) Publish(stage queue.Stage, msg queue.TaskMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedTask{stage: stage, msg: msg})
	return nil
}

func (q *stubQueue) Depth(queue.Stage) (int, error) { return 0, nil }

func (q *stubQueue) Consume(queue.Stage, string) (<-chan amqp.Delivery, error) {
	return q.dead, nil
}

// ackCounter satisfies amqp.Acknowledger and counts settlements.
type ackCounter struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (a *ackCounter) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackCounter) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *ackCounter) Reject(uint64, bool) error { return a.Nack(0, false, false) }

func newRedriveFixture(t *testing.T) (*Orchestrator, *stubQueue, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	q := &stubQueue{dead: make(chan amqp.Delivery, 4)}
	o := &Orchestrator{jobs: store.NewJobStore(db), queue: q, now: time.Now}
	return o, q, mock
}

func deadLetter(t *testing.T, stage queue.Stage, msg queue.TaskMessage, ack amqp.Acknowledger) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(queue.DeadLetterRecord{
		Stage:    stage,
		Message:  msg,
		Reason:   "exhausted",
		ParkedAt: time.Now(),
	})
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestRedriveDeadReentersPushStage(t *testing.T) {
	o, q, mock := newRedriveFixture(t)
	ack := &ackCounter{}
	q.dead <- deadLetter(t, queue.StagePush, queue.TaskMessage{
		JobID:     "01JOB",
		RuleID:    "r1",
		Attempt:   4,
		WebhookID: "wh-1",
	}, ack)

	// push_failed -> pushing before the message goes back out.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "jobs" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	redriven, err := o.RedriveDead(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, redriven)
	assert.Equal(t, 1, ack.acks)

	require.Len(t, q.published, 1)
	assert.Equal(t, queue.StagePush, q.published[0].stage)
	assert.Equal(t, "01JOB", q.published[0].msg.JobID)
	assert.Equal(t, "wh-1", q.published[0].msg.WebhookID)
	assert.Zero(t, q.published[0].msg.Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedriveDeadRestartsFailedJobFromOCR(t *testing.T) {
	o, q, mock := newRedriveFixture(t)
	ack := &ackCounter{}
	q.dead <- deadLetter(t, queue.StagePipeline, queue.TaskMessage{
		JobID:   "01JOB",
		RuleID:  "r1",
		Attempt: 3,
	}, ack)

	// failed -> queued, then prior outputs are wiped.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "jobs" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "jobs" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	redriven, err := o.RedriveDead(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, redriven)

	require.Len(t, q.published, 1)
	assert.Equal(t, queue.StageOCR, q.published[0].stage)
	assert.Zero(t, q.published[0].msg.Attempt)
	assert.Empty(t, q.published[0].msg.WebhookID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedriveDeadDropsRecordWhenJobMovedOn(t *testing.T) {
	o, q, mock := newRedriveFixture(t)
	ack := &ackCounter{}
	q.dead <- deadLetter(t, queue.StagePush, queue.TaskMessage{JobID: "01JOB"}, ack)

	// The CAS guard loses: the job is no longer push_failed.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "jobs" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	redriven, err := o.RedriveDead(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, redriven)
	assert.Empty(t, q.published)
	assert.Equal(t, 1, ack.acks)
	assert.NoError(t, mock.ExpectationsWereMet())
}
