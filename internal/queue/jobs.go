// Package queue carries list-refresh jobs over NATS JetStream so scheduled
// refreshes survive API restarts and retry with backoff on failure.
package queue

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

const (
	streamName     = "LIST_JOBS"
	subjectPrefix  = "lists.>"
	SubjectRefresh = "lists.refresh"
	subjectDLQ     = "lists.dlq"
)

// RefreshJob asks a worker to re-materialize one list.
type RefreshJob struct {
	ListID int64 `json:"list_id"`
}

// Publisher enqueues refresh jobs. It satisfies the scheduler's Enqueuer.
type Publisher struct {
	js nats.JetStreamContext
}

func NewPublisher(nc *nats.Conn) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{js: js}, nil
}

func (p *Publisher) EnqueueRefresh(_ context.Context, listID int64) error {
	data, err := json.Marshal(RefreshJob{ListID: listID})
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(SubjectRefresh, data); err != nil {
		return fmt.Errorf("enqueue refresh for list %d: %w", listID, err)
	}
	return nil
}
