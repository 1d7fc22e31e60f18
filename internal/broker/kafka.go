package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tool-rental-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent publishes an event to Kafka. Events with the same key land on
// the same partition, so per-booking order is kept.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrMalformedMessage marks a message no handler can ever process. It is
// dead-lettered without retries.
var ErrMalformedMessage = errors.New("malformed message")

// Consumer represents a Kafka consumer
type Consumer struct {
	reader     messageReader
	deadLetter messageWriter
	topic      string
	backoff    func() retry.Backoff
	logger     *zap.Logger
}

// NewConsumer creates a new Kafka consumer. Messages whose handler keeps
// failing are moved to deadLetterTopic; with no dead-letter topic the
// consumer stops on them instead.
func NewConsumer(brokers []string, topic, groupID, deadLetterTopic string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	c := &Consumer{
		reader:  reader,
		topic:   topic,
		backoff: defaultHandlerBackoff,
		logger:  util.GetLogger(),
	}
	if deadLetterTopic != "" {
		c.deadLetter = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  deadLetterTopic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		}
	}
	return c
}

func defaultHandlerBackoff() retry.Backoff {
	return retry.WithMaxRetries(8,
		retry.WithCappedDuration(30*time.Second, retry.NewExponential(500*time.Millisecond)))
}

// Close closes the consumer
func (c *Consumer) Close() error {
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil {
			c.logger.Error("Error closing dead-letter writer", zap.Error(err))
		}
	}
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is done. A failing message is
// retried in place before the next one is fetched, because committing a
// later offset would also commit past it. A message is committed only after
// its handler succeeds or it has been dead-lettered.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := c.process(ctx, handler, msg); err != nil {
			// uncommitted; redelivered to the next group member
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Error(err))
		}
	}
}

// process runs handler with retries. It returns nil once the message may be
// committed.
func (c *Consumer) process(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	attempt := 0
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		err := handler(ctx, msg)
		if err == nil || errors.Is(err, ErrMalformedMessage) {
			return err
		}
		c.logger.Warn("Message handler failed, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.deadLetterMessage(ctx, msg, err)
}

func (c *Consumer) deadLetterMessage(ctx context.Context, msg kafka.Message, cause error) error {
	c.logger.Error("Error handling message",
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))

	if c.deadLetter == nil {
		return fmt.Errorf("message at partition %d offset %d: %w", msg.Partition, msg.Offset, cause)
	}

	dead := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: append(msg.Headers,
			kafka.Header{Key: "source-topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "source-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())}),
	}
	if err := c.deadLetter.WriteMessages(ctx, dead); err != nil {
		return fmt.Errorf("dead-letter message at offset %d: %w", msg.Offset, err)
	}

	util.DeadLetteredMessagesTotal.Inc()
	c.logger.Warn("Message moved to dead-letter topic", zap.Int64("offset", msg.Offset))
	return nil
}
