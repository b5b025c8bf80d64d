package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/models"
)

const (
	auditCollection   = "audit_events"
	auditWriteTimeout = 5 * time.Second
)

// AuditSink records security events. Log never blocks the request and never
// reports failure to the caller.
type AuditSink interface {
	Log(ctx context.Context, event models.AuditEvent)
}

// EnsureAuditIndexes configures the audit collection: a TTL index for
// retention and a per-user lookup index.
func EnsureAuditIndexes(ctx context.Context, db *mongo.Database) error {
	col := db.Collection(auditCollection)
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().
				SetName("ttl_timestamp").
				SetExpireAfterSeconds(int32(models.AuditRetention / time.Second)),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("idx_user_timestamp"),
		},
	}
	if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

// DefaultAuditBuffer is how many events MongoAuditSink queues before it
// starts dropping.
const DefaultAuditBuffer = 1024

// MongoAuditSink appends events to the audit collection. Log only enqueues;
// a single writer goroutine drains the queue. When the queue is full the
// event is dropped and counted.
type MongoAuditSink struct {
	insert    func(context.Context, models.AuditEvent) error
	logger    *zap.Logger
	ch        chan models.AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewMongoAuditSink(db *mongo.Database, bufferSize int, logger *zap.Logger) *MongoAuditSink {
	col := db.Collection(auditCollection)
	return newMongoAuditSink(func(ctx context.Context, e models.AuditEvent) error {
		_, err := col.InsertOne(ctx, e)
		return err
	}, bufferSize, logger)
}

func newMongoAuditSink(insert func(context.Context, models.AuditEvent) error, bufferSize int, logger *zap.Logger) *MongoAuditSink {
	if bufferSize <= 0 {
		bufferSize = DefaultAuditBuffer
	}
	s := &MongoAuditSink{
		insert: insert,
		logger: logger,
		ch:     make(chan models.AuditEvent, bufferSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *MongoAuditSink) run() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.ch:
			s.write(e)
		case <-s.done:
			for {
				select {
				case e := <-s.ch:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *MongoAuditSink) write(e models.AuditEvent) {
	// The request context is usually gone by the time this runs.
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.insert(ctx, e); err != nil {
		s.logger.Error("Failed to write audit event",
			zap.String("kind", string(e.Kind)),
			zap.String("user_id", e.UserID),
			zap.Error(err),
		)
	}
}

func (s *MongoAuditSink) Log(_ context.Context, event models.AuditEvent) {
	if s.closed.Load() {
		return
	}
	event = stampEvent(event)
	select {
	case s.ch <- event:
	case <-s.done:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("Audit queue full, dropping events",
				zap.String("kind", string(event.Kind)),
				zap.Uint64("dropped_total", n),
			)
		}
	}
}

// Close stops accepting events and blocks until the queue has been written.
func (s *MongoAuditSink) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
		if n := s.dropped.Load(); n > 0 {
			s.logger.Warn("Audit events dropped", zap.Uint64("dropped_total", n))
		}
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (s *MongoAuditSink) Dropped() uint64 {
	return s.dropped.Load()
}

// KafkaAuditSink publishes events keyed by user id so one user's events stay
// ordered within a partition.
type KafkaAuditSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaAuditSink(brokers []string, topic string, logger *zap.Logger) *KafkaAuditSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to publish audit events",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}
	logger.Info("Audit events published to Kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)
	return &KafkaAuditSink{writer: writer, logger: logger}
}

func (s *KafkaAuditSink) Log(ctx context.Context, event models.AuditEvent) {
	event = stampEvent(event)
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to encode audit event", zap.String("kind", string(event.Kind)), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}
	// Async writer: this only enqueues.
	if err := s.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("Failed to enqueue audit event", zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}

func (s *KafkaAuditSink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// MultiSink fans one event out to several sinks.
type MultiSink []AuditSink

func (m MultiSink) Log(ctx context.Context, event models.AuditEvent) {
	event = stampEvent(event)
	for _, s := range m {
		s.Log(ctx, event)
	}
}

// LogAuditSink writes events to the application log. Used when no audit
// store is configured.
type LogAuditSink struct {
	logger *zap.Logger
}

func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger}
}

func (s *LogAuditSink) Log(_ context.Context, event models.AuditEvent) {
	event = stampEvent(event)
	s.logger.Info("audit",
		zap.String("kind", string(event.Kind)),
		zap.String("user_id", event.UserID),
		zap.String("ip", event.IPAddress),
		zap.Bool("success", event.Success),
		zap.String("failure_reason", event.FailureReason),
	)
}

func stampEvent(e models.AuditEvent) models.AuditEvent {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}
