package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Handlers holds the callbacks the worker dispatches to.
type Handlers struct {
	RefreshList func(ctx context.Context, listID int64) error
}

// Worker pulls refresh jobs from the durable stream. A failed job is nak'd
// with exponential backoff; after MaxDeliver attempts it lands on the DLQ
// subject and is acked so it stops cycling.
type Worker struct {
	Log      *zap.Logger
	JS       nats.JetStreamContext
	Handlers Handlers

	MaxDeliver int
}

func NewWorker(log *zap.Logger, nc *nats.Conn, handlers Handlers) (*Worker, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Worker{Log: log, JS: js, Handlers: handlers, MaxDeliver: 5}, nil
}

func (w *Worker) EnsureStream(ctx context.Context) error {
	info, err := w.JS.StreamInfo(streamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == subjectPrefix {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = []string{subjectPrefix}
		_, err := w.JS.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = w.JS.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureStream(ctx); err != nil {
		return err
	}
	sub, err := w.JS.PullSubscribe(SubjectRefresh, "lists_refresh")
	if err != nil {
		return err
	}
	w.Log.Info("refresh consumer started", zap.String("subject", SubjectRefresh))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return err
		}
		for _, m := range msgs {
			w.handleMsg(ctx, m)
		}
	}
}

func (w *Worker) handleMsg(ctx context.Context, m *nats.Msg) {
	md, _ := m.Metadata()
	numDelivered := uint64(1)
	if md != nil {
		numDelivered = md.NumDelivered
	}
	if w.MaxDeliver > 0 && int(numDelivered) > w.MaxDeliver {
		_ = w.publishDLQ(m.Data, fmt.Sprintf("max deliveries exceeded: %d", numDelivered))
		_ = m.Ack()
		return
	}

	var job RefreshJob
	if err := json.Unmarshal(m.Data, &job); err != nil {
		w.Log.Warn("bad refresh payload", zap.Error(err))
		_ = m.Ack()
		return
	}
	if job.ListID <= 0 {
		w.Log.Warn("bad list id", zap.Int64("list_id", job.ListID))
		_ = m.Ack()
		return
	}
	if err := w.Handlers.RefreshList(ctx, job.ListID); err != nil {
		w.Log.Warn("list refresh failed",
			zap.Int64("list_id", job.ListID),
			zap.Uint64("attempt", numDelivered),
			zap.Error(err))
		_ = m.NakWithDelay(backoffDelay(numDelivered))
		return
	}
	_ = m.Ack()
}

func (w *Worker) publishDLQ(data []byte, reason string) error {
	msg := map[string]any{"subject": SubjectRefresh, "reason": reason, "payload": json.RawMessage(data)}
	b, _ := json.Marshal(msg)
	_, err := w.JS.Publish(subjectDLQ, b)
	return err
}
