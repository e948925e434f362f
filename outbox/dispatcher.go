package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"orderflow/metrics"
)

// Producer publishes drained events. Implemented by kafka-go in production
// and by a fake in tests.
type Producer interface {
	SendMessage(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// KafkaProducer publishes to a single topic; the outbox row's topic travels
// as a message header so consumers can fan out.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaProducer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(topic)}},
	})
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

func (c *DispatcherConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

type row struct {
	id       int64
	topic    string
	payload  []byte
	attempts int
}

// Dispatcher polls the outbox table and publishes pending events.
type Dispatcher struct {
	pool     *pgxpool.Pool
	producer Producer
	cfg      DispatcherConfig
	log      *zap.Logger
}

func NewDispatcher(pool *pgxpool.Pool, producer Producer, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{pool: pool, producer: producer, cfg: cfg, log: log}
}

// Run polls until the context is cancelled, then closes the producer.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	defer d.producer.Close()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := d.drainOnce(ctx); err != nil {
				d.log.Error("outbox batch failed", zap.Error(err))
			}
		}
	}
}

// drainOnce claims a batch with FOR UPDATE SKIP LOCKED so concurrent
// dispatchers never publish the same row twice.
func (d *Dispatcher) drainOnce(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
        SELECT id, topic, payload, attempts
        FROM outbox
        WHERE published_at IS NULL AND attempts < $1
        ORDER BY id ASC
        LIMIT $2
        FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, q, d.cfg.MaxAttempts, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("outbox: select batch: %w", err)
	}
	batch := make([]row, 0, d.cfg.BatchSize)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.topic, &r.payload, &r.attempts); err != nil {
			rows.Close()
			return fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("outbox: iterate batch: %w", err)
	}
	if len(batch) == 0 {
		return tx.Commit(ctx)
	}

	for _, r := range batch {
		key := []byte(fmt.Sprintf("%d", r.id))
		if err := d.producer.SendMessage(ctx, r.topic, key, r.payload); err != nil {
			metrics.OutboxFailedTotal.Inc()
			d.log.Warn("outbox publish failed",
				zap.Int64("id", r.id),
				zap.String("topic", r.topic),
				zap.Int("attempts", r.attempts+1),
				zap.Error(err),
			)
			if _, uerr := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, r.id, err.Error()); uerr != nil {
				return fmt.Errorf("outbox: record failure: %w", uerr)
			}
			continue
		}
		metrics.OutboxPublishedTotal.Inc()
		if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = now(), attempts = attempts + 1 WHERE id = $1`, r.id); err != nil {
			return fmt.Errorf("outbox: mark published: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit batch: %w", err)
	}
	return nil
}
