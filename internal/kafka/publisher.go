// Package kafka implements the engine's Publisher on top of a franz-go
// producer client.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"kafkaburst/internal/config"
	"kafkaburst/internal/engine"
	"kafkaburst/internal/tracing"
)

// Publisher sends load-test messages to Kafka. It is safe for concurrent
// use by the engine's worker pool; franz-go serializes batching internally.
type Publisher struct {
	client    *kgo.Client
	tracer    trace.Tracer
	logger    *slog.Logger
	connected atomic.Bool
}

// New builds a connected producer from config. The client is lazy: broker
// connections are established on the first ping or produce.
func New(cfg config.KafkaConfig, logger *slog.Logger, tracer trace.Tracer) (*Publisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ProducerBatchCompression(compressionCodec(cfg.Compression)),
		kgo.ProducerLinger(cfg.Linger),
		kgo.ProducerBatchMaxBytes(int32(cfg.MaxMessageBytes)),
		kgo.RequiredAcks(requiredAcks(cfg.Acks)),
		// Without a delivery bound franz-go retries records indefinitely
		// and a dead broker would park ProduceSync until the run context
		// is cancelled, so the run could never fail on lost connectivity.
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
	}
	if cfg.Acks != "all" {
		// Idempotent production requires acks from all in-sync replicas.
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("kafkaburst")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		client: client,
		tracer: tracer,
		logger: logger.With("component", "kafka"),
	}, nil
}

// Ping verifies broker reachability and refreshes the connected flag.
func (p *Publisher) Ping(ctx context.Context) error {
	err := p.client.Ping(ctx)
	p.connected.Store(err == nil)
	if err != nil {
		p.logger.Warn("broker ping failed", "error", err)
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

// Connected reports the result of the most recent broker interaction.
func (p *Publisher) Connected() bool {
	return p.connected.Load()
}

// Close flushes buffered records and tears down the client.
func (p *Publisher) Close() {
	p.client.Close()
	p.connected.Store(false)
}

// Send publishes one message and reports the observed latency. Per-message
// errors are returned as-is; conditions that invalidate the whole run come
// back wrapped with engine.Fatal.
func (p *Publisher) Send(ctx context.Context, topic string, msg *engine.Message) (time.Duration, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(msg.ID),
		Value: value,
	}

	ctx, span := tracing.StartSendSpan(ctx, p.tracer, topic, msg.Sequence)
	tracing.InjectRecordHeaders(ctx, rec)

	start := time.Now()
	res := p.client.ProduceSync(ctx, rec)
	latency := time.Since(start)
	sendErr := classify(res.FirstErr())

	tracing.EndSpan(span, sendErr, attribute.String("messaging.message.id", msg.ID))

	if sendErr != nil {
		p.connected.Store(!engine.IsFatal(sendErr))
		return latency, sendErr
	}
	p.connected.Store(true)
	return latency, nil
}

// classify separates per-message failures from conditions that make
// continuing the run pointless: a closed client, or records aging out of
// the delivery window because no broker is answering.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kgo.ErrClientClosed) ||
		errors.Is(err, kgo.ErrRecordTimeout) ||
		errors.Is(err, kgo.ErrRecordRetries) {
		return engine.Fatal(err)
	}
	return err
}

func compressionCodec(name string) kgo.CompressionCodec {
	switch name {
	case "gzip":
		return kgo.GzipCompression()
	case "snappy":
		return kgo.SnappyCompression()
	case "lz4":
		return kgo.Lz4Compression()
	case "zstd":
		return kgo.ZstdCompression()
	default:
		return kgo.NoCompression()
	}
}

func requiredAcks(name string) kgo.Acks {
	switch name {
	case "none":
		return kgo.NoAck()
	case "all":
		return kgo.AllISRAcks()
	default:
		return kgo.LeaderAck()
	}
}
