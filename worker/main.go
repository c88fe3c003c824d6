package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/bhuvisx/area-news/backend/internal/config"
	"github.com/bhuvisx/area-news/backend/internal/dedupe"
	"github.com/bhuvisx/area-news/backend/internal/elasticsearch"
	"github.com/bhuvisx/area-news/backend/internal/logger"
	"github.com/bhuvisx/area-news/backend/internal/models"
	"github.com/bhuvisx/area-news/backend/internal/processing"
)

const dlqAttempts = 5

type newsIndexer interface {
	IndexNews(ctx context.Context, doc models.NewsDocument) error
}

type dlqWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("worker")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.Connect(ctx, cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log, elasticsearch.DefaultBackoff)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error("connect elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := esClient.EnsureIndex(ctx); err != nil {
		log.Error("ensure index", slog.Any("err", err))
		os.Exit(1)
	}

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlq := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  dlqTopic,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
	defer dlq.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, esClient, cache, cfg, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if !sendToDLQ(ctx, log, dlq, msg, err, time.Second) {
				if ctx.Err() != nil {
					return
				}
				// Leave uncommitted so a restart reprocesses it.
				log.Error("DLQ write exhausted retries",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// sendToDLQ copies msg to the dead-letter topic with failure context,
// retrying with exponential backoff starting at base.
func sendToDLQ(ctx context.Context, log *slog.Logger, w dlqWriter, msg kafka.Message, cause error, base time.Duration) bool {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	dlqMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}

	for attempt := range dlqAttempts {
		err := w.WriteMessages(ctx, dlqMsg)
		if err == nil {
			log.Info("message sent to DLQ", slog.Int64("offset", msg.Offset), slog.Int("attempt", attempt+1))
			return true
		}

		backoff := base << uint(attempt)
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// processMessage archives every item of one fetched event. Items already seen
// are skipped; the first indexing failure fails the whole message.
func processMessage(ctx context.Context, log *slog.Logger, idx newsIndexer, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) error {
	var event models.FetchedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	event.Area = strings.TrimSpace(event.Area)
	if event.Area == "" {
		return errors.New("event has no area")
	}
	if event.FetchedAt.IsZero() {
		event.FetchedAt = msg.Time
	}
	if event.FetchedAt.IsZero() {
		event.FetchedAt = time.Now().UTC()
	}

	indexed := 0
	for _, item := range event.Items {
		doc, ok := buildDocument(event, item, cfg)
		if !ok {
			log.Debug("skip empty item", slog.String("fetch_id", event.FetchID))
			continue
		}
		if cache.IsSeen(doc.ID) {
			log.Debug("duplicate news", slog.String("id", doc.ID))
			continue
		}
		if err := idx.IndexNews(ctx, doc); err != nil {
			return fmt.Errorf("index %s: %w", doc.ID, err)
		}
		cache.MarkSeen(doc.ID)
		indexed++
	}

	log.Info("archived fetch",
		slog.String("fetch_id", event.FetchID),
		slog.String("area", event.Area),
		slog.Int("items", len(event.Items)),
		slog.Int("indexed", indexed),
		slog.Int("cache_size", cache.Len()),
	)
	return nil
}

func buildDocument(event models.FetchedEvent, item models.NewsItem, cfg *config.Worker) (models.NewsDocument, bool) {
	title := strings.TrimSpace(item.Title)
	description := strings.TrimSpace(item.Description)
	link := strings.TrimSpace(item.Link)
	if title == "" && description == "" && link == "" {
		return models.NewsDocument{}, false
	}
	if title == "" {
		title = processing.GenerateTitleFromText(description, 10)
	}

	cleaned := processing.CleanText(description)
	doc := models.NewsDocument{
		ID:          processing.BuildDocumentID(event.Area, title, link),
		FetchID:     event.FetchID,
		Area:        event.Area,
		Title:       title,
		Description: description,
		Source:      strings.TrimSpace(item.Source),
		Link:        link,
		URLs:        processing.ExtractURLs(link + " " + description),
		Keywords:    processing.ExtractKeywords(title+" "+cleaned, cfg.KeywordLimit, cfg.KeywordMinLength),
		FetchedAt:   event.FetchedAt.UTC(),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	return doc, true
}
