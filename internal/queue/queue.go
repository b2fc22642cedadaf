package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	importSubject = "catalog.imports"
	workerGroup   = "catalog-import-workers"
)

type importMessage struct {
	JobID uuid.UUID `json:"job_id"`
}

// Queue hands import jobs from the API to the worker pool over NATS.
// Delivery is at-most-once; the job tracker's stale-job sweep re-enqueues
// anything that slips through.
type Queue struct {
	conn *nats.Conn
	sub  *nats.Subscription
	log  *logrus.Entry
}

func Connect(url string, logger *logrus.Logger) (*Queue, error) {
	conn, err := nats.Connect(url,
		nats.Name("catalog-import"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log := logger.WithField("component", "queue")
	log.WithField("url", url).Info("Connected to NATS")

	return &Queue{conn: conn, log: log}, nil
}

// Enqueue publishes a job id for a worker to pick up.
func (q *Queue) Enqueue(jobID uuid.UUID) error {
	data, err := json.Marshal(importMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("encode import message: %w", err)
	}
	if err := q.conn.Publish(importSubject, data); err != nil {
		return fmt.Errorf("publish import message: %w", err)
	}
	q.log.WithField("job_id", jobID).Info("Enqueued import job")
	return nil
}

// Subscribe delivers job ids to handler. Workers share a queue group so
// each job lands on exactly one of them.
func (q *Queue) Subscribe(handler func(jobID uuid.UUID)) error {
	sub, err := q.conn.QueueSubscribe(importSubject, workerGroup, func(msg *nats.Msg) {
		var m importMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			q.log.WithError(err).Error("Failed to decode import message")
			return
		}
		handler(m.JobID)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", importSubject, err)
	}
	q.sub = sub
	q.log.WithField("subject", importSubject).Info("Subscribed to import jobs")
	return nil
}

func (q *Queue) Close() {
	if q.sub != nil {
		_ = q.sub.Unsubscribe()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}
