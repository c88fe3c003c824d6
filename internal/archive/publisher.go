// Package archive publishes successful area lookups to Kafka for the archive worker.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/bhuvisx/area-news/backend/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes FetchedEvents keyed by area.
type Publisher struct {
	writer messageWriter
	log    *slog.Logger
	now    func() time.Time
}

// NewPublisher creates an async Kafka publisher. Delivery failures are only
// logged: archiving is best effort and never holds up a response.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		MaxAttempts:            3,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("archive publish failed", slog.Int("messages", len(messages)), slog.Any("err", err))
			}
		},
	}
	return newPublisher(w, logger)
}

func newPublisher(w messageWriter, logger *slog.Logger) *Publisher {
	return &Publisher{writer: w, log: logger, now: time.Now}
}

// Publish enqueues one event for area and returns its fetch ID.
func (p *Publisher) Publish(ctx context.Context, area string, items []models.NewsItem) (string, error) {
	event := models.FetchedEvent{
		FetchID:   uuid.NewString(),
		Area:      area,
		FetchedAt: p.now().UTC(),
		Items:     items,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal fetched event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(area),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "fetch_id", Value: []byte(event.FetchID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write fetched event: %w", err)
	}

	p.log.Debug("archive event queued", slog.String("fetch_id", event.FetchID), slog.String("area", area), slog.Int("items", len(items)))
	return event.FetchID, nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
