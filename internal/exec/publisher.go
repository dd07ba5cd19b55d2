package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookpoly/internal/config"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, intent Intent) error
	Close() error
}

// LogPublisher writes intents to the log. It is the dry-run sink.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, in Intent) error {
	p.log.Info("intent",
		zap.String("key", in.Key),
		zap.String("kind", string(in.Kind)),
		zap.String("instrument", in.Instrument),
		zap.String("side", string(in.Side)),
		zap.Int("shares", in.Shares),
		zap.Float64("price", in.Price),
		zap.String("reason", in.Reason),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys messages by instrument so one instrument's intents stay
// ordered on a single partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(cfg config.DispatchConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, topic: cfg.Topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, in Intent) error {
	value, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(in.Instrument),
		Value: value,
		Headers: []kafka.Header{
			{Key: "intent_key", Value: []byte(in.Key)},
			{Key: "kind", Value: []byte(in.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func NewPublisher(cfg config.DispatchConfig, log *zap.Logger) (Publisher, error) {
	switch cfg.Kind {
	case "", config.DispatchLog:
		return NewLogPublisher(log), nil
	case config.DispatchKafka:
		return NewKafkaPublisher(cfg)
	default:
		return nil, fmt.Errorf("unknown dispatch kind %q", cfg.Kind)
	}
}
