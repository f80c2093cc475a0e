package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/absens/internal/models"
)

const (
	IndexStreamName    = "INDEX"
	IndexSubjectBase   = "index"
	RecordsStreamName  = "RECORDS"
	RecordsSubjectBase = "records"
)

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        IndexStreamName,
			Subjects:    []string{IndexSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardNew,
			Duplicates:  2 * time.Minute,
			Description: "Photo index tasks for index workers",
		},
		{
			Name:        RecordsStreamName,
			Subjects:    []string{RecordsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Record created and status changed events",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streamConfigs() {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

func IndexSubject(kind models.Kind) string {
	return IndexSubjectBase + "." + string(kind)
}

func RecordsSubject(kind models.Kind) string {
	return RecordsSubjectBase + "." + string(kind)
}

// PublishIndexTask hands an index task to the worker pool behind the INDEX stream.
// The message id is derived from the job so a duplicate publish within the dedupe
// window is dropped by the server.
func (p *Producer) PublishIndexTask(ctx context.Context, task models.IndexTask, attempt int) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal index task: %w", err)
	}

	msgID := fmt.Sprintf("%s-%d", task.JobID, attempt)
	if _, err := p.js.Publish(ctx, IndexSubject(task.Kind), payload, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish index task: %w", err)
	}
	return nil
}

// PublishRecordEvent publishes a record activity event to the RECORDS stream.
func (p *Producer) PublishRecordEvent(ctx context.Context, evt models.RecordEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}

	if _, err := p.js.Publish(ctx, RecordsSubject(evt.Kind), payload); err != nil {
		return fmt.Errorf("publish record event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the INDEX stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, IndexStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping(context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
