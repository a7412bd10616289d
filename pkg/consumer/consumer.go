// Package consumer moves JSON payloads through Kafka topics: requests in,
// reports out.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/andrej220/clusterexec/internal/lg"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	if c.Topic == "" {
		return errors.New("kafka: no topic configured")
	}
	return nil
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DecodeError is returned by Read for a message that is not a valid T. The
// message is committed anyway so it is not redelivered.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Consumer[T any] struct {
	reader messageReader
}

func NewConsumer[T any](cfg Config) (*Consumer[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &Consumer[T]{reader: r}, nil
}

func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}

	var payload T
	decodeErr := json.Unmarshal(msg.Value, &payload)

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}
	if decodeErr != nil {
		return zero, &DecodeError{Offset: msg.Offset, Err: decodeErr}
	}
	return payload, nil
}

// Run reads until ctx ends, handing every payload to fn. Undecodable messages
// are logged and skipped; other read errors back off for a second.
func (c *Consumer[T]) Run(ctx context.Context, fn func(context.Context, T)) error {
	logger := lg.FromContext(ctx)
	for {
		payload, err := c.Read(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var decodeErr *DecodeError
		switch {
		case errors.As(err, &decodeErr):
			logger.Warn("Skipping malformed message", lg.Err(err))
			continue
		case err != nil:
			logger.Error("Kafka read failed", lg.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		fn(ctx, payload)
	}
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}

type Producer[T any] struct {
	writer messageWriter
	topic  string
}

func NewProducer[T any](cfg Config) (*Producer[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Producer[T]{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
	}, nil
}

// Publish sends payload keyed by key.
func (p *Producer[T]) Publish(ctx context.Context, key []byte, payload T) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return fmt.Errorf("kafka topic %q does not exist: %w", p.topic, err)
	}
	return err
}

func (p *Producer[T]) Close() error {
	return p.writer.Close()
}
