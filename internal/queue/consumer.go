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

type IndexTaskHandler func(ctx context.Context, task models.IndexTask) error

type RecordEventHandler func(ctx context.Context, evt models.RecordEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// settle acks, naks or terminates msg depending on the handler outcome. Payloads that
// cannot be decoded are terminated so they are not redelivered.
func settle[T any](ctx context.Context, msg jetstream.Msg, handle func(context.Context, T) error) error {
	var v T
	if err := json.Unmarshal(msg.Data(), &v); err != nil {
		_ = msg.Term()
		return fmt.Errorf("decode %s: %w", msg.Subject(), err)
	}
	if err := handle(ctx, v); err != nil {
		_ = msg.Nak()
		return err
	}
	_ = msg.Ack()
	return nil
}

// ConsumeIndexTasks starts consuming index tasks from the INDEX stream.
// workerCount determines how many goroutines process messages concurrently.
func (c *Consumer) ConsumeIndexTasks(ctx context.Context, consumerName string, handler IndexTaskHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, IndexStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", IndexStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       60 * time.Second,
		MaxDeliver:    3,
		FilterSubject: IndexSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch index tasks error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				if err := settle[models.IndexTask](ctx, msg, handler); err != nil {
					slog.Error("process index task error", "worker", workerID, "error", err, "subject", msg.Subject())
				}
			}
		}(i)
	}

	slog.Info("index task consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeRecordEvents starts consuming record events (for the API to broadcast via WebSocket).
func (c *Consumer) ConsumeRecordEvents(ctx context.Context, consumerName string, handler RecordEventHandler) error {
	stream, err := c.js.Stream(ctx, RecordsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", RecordsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: RecordsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := settle[models.RecordEvent](ctx, msg, handler); err != nil {
					slog.Error("process record event error", "error", err)
				}
			}
		}
	}()

	slog.Info("record event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
