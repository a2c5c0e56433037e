package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go/compress"

	"pricewatch/internal/config"
	"pricewatch/internal/models"
)

// skipIfNoKafka skips the test if Kafka is not available
func skipIfNoKafka(t *testing.T) {
	if os.Getenv("KAFKA_TEST") != "1" {
		t.Skip("Skipping Kafka integration test. Set KAFKA_TEST=1 to run.")
	}
}

func testRecord(id string) *models.DeliveryRecord {
	ev := &models.TriggerEvent{
		AlertID:       id,
		Symbol:        "BTCUSDT",
		TargetPrice:   100,
		Direction:     models.DirectionAbove,
		ObservedPrice: 101,
		Timestamp:     time.Now(),
		Attempt:       2,
	}
	return models.NewDeliveryRecord(ev, models.OutcomeFailed, errors.New("503"), "node-1")
}

func TestNewProducerValidation(t *testing.T) {
	cfg := config.Default().Kafka.Producer

	if _, err := NewProducer(nil, "topic", cfg); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewProducer([]string{"localhost:9092"}, "", cfg); err == nil {
		t.Error("expected error without topic")
	}
}

func TestGetCompression(t *testing.T) {
	tests := map[string]compress.Compression{
		"gzip":   compress.Gzip,
		"snappy": compress.Snappy,
		"lz4":    compress.Lz4,
		"zstd":   compress.Zstd,
		"":       compress.None,
		"bogus":  compress.None,
	}
	for name, want := range tests {
		if got := getCompression(name); got != want {
			t.Errorf("getCompression(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestToMessage(t *testing.T) {
	rec := testRecord("alert-1")
	msg, err := toMessage(rec)
	if err != nil {
		t.Fatalf("toMessage: %v", err)
	}

	if string(msg.Key) != "alert-1" {
		t.Errorf("Key = %q", msg.Key)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["outcome"] != "failed" || headers["attempt"] != "2" || headers["node"] != "node-1" {
		t.Errorf("headers = %v", headers)
	}

	var decoded models.DeliveryRecord
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not a delivery record: %v", err)
	}
	if decoded.Error != "503" || decoded.Event.Symbol != "BTCUSDT" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPublishAfterClose(t *testing.T) {
	p, err := NewProducer([]string{"localhost:9092"}, "topic", config.Default().Kafka.Producer)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := p.Publish(context.Background(), testRecord("a")); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("Publish after close = %v, want ErrProducerClosed", err)
	}
	if err := p.HealthCheck(context.Background()); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("HealthCheck after close = %v", err)
	}
}

func TestDecodeTick(t *testing.T) {
	msgTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tick, err := decodeTick([]byte(`{"symbol":"ethusdt","price":3500.25}`), msgTime)
	if err != nil {
		t.Fatalf("decodeTick: %v", err)
	}
	if tick.Symbol != "ETHUSDT" || tick.Price != 3500.25 || !tick.Timestamp.Equal(msgTime) {
		t.Errorf("tick = %+v", tick)
	}

	if _, err := decodeTick([]byte(`not json`), msgTime); err == nil {
		t.Error("expected error for invalid json")
	}
	if _, err := decodeTick([]byte(`{"symbol":"ETHUSDT","price":-1}`), msgTime); !errors.Is(err, models.ErrInvalidTickPrice) {
		t.Errorf("negative price error = %v", err)
	}
}

func TestProducerPublishBatch(t *testing.T) {
	skipIfNoKafka(t)

	cfg := config.Default()
	producer, err := NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer)
	if err != nil {
		t.Fatalf("failed to create producer: %v", err)
	}
	defer producer.Close()

	recs := make([]*models.DeliveryRecord, 10)
	for i := range recs {
		recs[i] = testRecord(fmt.Sprintf("alert-%d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := producer.PublishBatch(ctx, recs); err != nil {
		t.Fatalf("failed to publish batch: %v", err)
	}

	if stats := producer.Stats(); stats.MessagesSent != 10 {
		t.Errorf("expected 10 messages sent, got %d", stats.MessagesSent)
	}
}
