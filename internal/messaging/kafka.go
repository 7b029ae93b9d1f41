package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/metrics"
	"github.com/temcen/fusionrec/pkg/models"
)

// ErrInvalidCommand marks a rebuild command that can never succeed and goes
// straight to the DLQ.
var ErrInvalidCommand = errors.New("invalid rebuild command")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RebuildHandler runs one rebuild command.
type RebuildHandler func(ctx context.Context, cmd models.RebuildCommand) error

// CommandDecoder parses and validates a raw rebuild command.
type CommandDecoder func(payload []byte) (models.RebuildCommand, error)

// EventBus publishes generation events and consumes rebuild commands.
type EventBus struct {
	events    messageWriter
	commands  messageReader
	dlqWriter messageWriter
	decode    CommandDecoder
	logger    *logrus.Logger

	eventsTopic   string
	commandsTopic string
	maxRetries    int
	baseDelay     time.Duration
}

func NewEventBus(cfg *config.Config, decode CommandDecoder, logger *logrus.Logger) *EventBus {
	topics := cfg.Kafka.Topics
	return &EventBus{
		events: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topics.GenerationEvents,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		commands: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          topics.RebuildRequests,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       1,
			MaxBytes:       1e6,
			CommitInterval: 0,
			StartOffset:    kafka.LastOffset,
		}),
		dlqWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topics.RebuildDLQ,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		decode:        decode,
		logger:        logger,
		eventsTopic:   topics.GenerationEvents,
		commandsTopic: topics.RebuildRequests,
		maxRetries:    3,
		baseDelay:     time.Second,
	}
}

// DecodeRebuildCommand is the default decoder: JSON plus a kind check.
func DecodeRebuildCommand(payload []byte) (models.RebuildCommand, error) {
	var cmd models.RebuildCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if !cmd.Kind.Valid() {
		return cmd, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, cmd.Kind)
	}
	return cmd, nil
}

func (b *EventBus) PublishGenerationBuilt(ctx context.Context, event *models.GenerationBuiltEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Kind),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "generation_id", Value: []byte(strconv.FormatUint(event.GenerationID, 10))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.events.WriteMessages(ctx, msg); err != nil {
		metrics.EventsPublished.WithLabelValues(b.eventsTopic, "error").Inc()
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(b.eventsTopic, "success").Inc()

	b.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"kind":       event.Kind,
		"generation": event.GenerationID,
		"topic":      b.eventsTopic,
	}).Info("Generation event published")
	return nil
}

// ConsumeRebuildRequests blocks until ctx is done. Each command is retried
// with exponential backoff; commands that still fail, or cannot be decoded,
// are written to the DLQ. Offsets are committed once a message is settled.
func (b *EventBus) ConsumeRebuildRequests(ctx context.Context, handler RebuildHandler) error {
	for {
		msg, err := b.commands.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.WithError(err).Error("Failed to read rebuild command from Kafka")
			continue
		}

		b.handleMessage(ctx, msg, handler)

		if err := b.commands.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			b.logger.WithError(err).WithField("offset", msg.Offset).Warn("Failed to commit rebuild command")
		}
	}
}

func (b *EventBus) handleMessage(ctx context.Context, msg kafka.Message, handler RebuildHandler) {
	cmd, err := b.decode(msg.Value)
	if err == nil {
		err = b.processWithRetry(ctx, cmd, handler)
	}
	if err == nil || ctx.Err() != nil {
		return
	}

	b.logger.WithError(err).WithField("offset", msg.Offset).Error("Rebuild command failed")
	if dlqErr := b.sendToDLQ(ctx, msg, err); dlqErr != nil {
		b.logger.WithError(dlqErr).Error("Failed to send rebuild command to DLQ")
	}
}

func (b *EventBus) processWithRetry(ctx context.Context, cmd models.RebuildCommand, handler RebuildHandler) error {
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.baseDelay * time.Duration(1<<uint(attempt-1))
			b.logger.WithFields(logrus.Fields{
				"kind":    cmd.Kind,
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying rebuild command")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := handler(ctx, cmd)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidCommand) {
			return err
		}
		b.logger.WithError(err).WithFields(logrus.Fields{
			"kind":    cmd.Kind,
			"attempt": attempt,
		}).Warn("Rebuild command failed")
		if attempt == b.maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}
	return fmt.Errorf("unexpected retry loop exit")
}

func (b *EventBus) sendToDLQ(ctx context.Context, msg kafka.Message, cause error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(validJSON(msg.Value)),
		"error":            cause.Error(),
		"dlq_timestamp":    time.Now(),
	}
	payload, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	out := kafka.Message{
		Key:   msg.Key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(b.commandsTopic)},
			{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	if err := b.dlqWriter.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"offset": msg.Offset,
		"error":  cause.Error(),
	}).Warn("Rebuild command sent to DLQ")
	return nil
}

// validJSON keeps undecodable payloads readable inside the DLQ envelope.
func validJSON(payload []byte) []byte {
	if json.Valid(payload) {
		return payload
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

func (b *EventBus) Close() error {
	var errs []error
	if err := b.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close event writer: %w", err))
	}
	if err := b.commands.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close command reader: %w", err))
	}
	if err := b.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}
	return errors.Join(errs...)
}
