// Package alert records backend calls that exhausted their retries.
package alert

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/metrics"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
)

// DefaultKey is the artifact holding the alert log.
const DefaultKey = "alerts.json"

// timestampLayout is ISO-8601 with millisecond precision in UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is one entry of the alert log.
type Record struct {
	Service   string `json:"service"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	Timestamp string `json:"timestamp"`
	AlertID   string `json:"alertId"`
}

// IDGenerator hands out unique alert ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies alert timestamps.
type Clock interface {
	Now() time.Time
}

// Publisher fans a record out to an external channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls a Sink.
type Config struct {
	// Key is the alert log artifact; DefaultKey when empty.
	Key string
	// Topic enables fan-out through the Publisher when non-empty.
	Topic string
}

// Sink appends alert records to a JSON log in the artifact store.
// The append is a read-modify-write of the whole log and is not safe for
// concurrent writers; the aggregation pipeline is sequential.
type Sink struct {
	store     storage.Provider
	ids       IDGenerator
	clock     Clock
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
}

// Option customises a Sink.
type Option func(*Sink)

// WithPublisher enables fan-out of every record to cfg.Topic.
func WithPublisher(p Publisher) Option {
	return func(s *Sink) {
		s.publisher = p
	}
}

// NewSink constructs a Sink.
func NewSink(store storage.Provider, ids IDGenerator, clock Clock, cfg Config, logger *zap.Logger, opts ...Option) *Sink {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{
		store:  store,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise records that service failed after attempts tries. It never fails:
// problems with the log itself are logged and dropped.
func (s *Sink) Raise(ctx context.Context, service string, attempts int, cause error) {
	record := Record{
		Service:   service,
		Attempts:  attempts,
		Timestamp: s.clock.Now().UTC().Format(timestampLayout),
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("alert id generation failed", zap.Error(err))
	}
	record.AlertID = id

	metrics.ObserveAlert(service)
	s.logger.Error("alert raised",
		zap.String("service", record.Service),
		zap.String("error", record.Error),
		zap.Int("attempts", record.Attempts),
		zap.String("alert_id", record.AlertID),
	)

	s.append(ctx, record)
	s.publish(ctx, record)
}

func (s *Sink) append(ctx context.Context, record Record) {
	log, err := s.List(ctx)
	if err != nil {
		// an unreadable log is left untouched rather than replaced
		s.logger.Warn("alert log unreadable, record not persisted",
			zap.String("key", s.cfg.Key),
			zap.String("alert_id", record.AlertID),
			zap.Error(err),
		)
		return
	}
	log = append(log, record)
	if err := storage.WriteJSON(ctx, s.store, s.cfg.Key, log); err != nil {
		s.logger.Warn("alert log write failed",
			zap.String("key", s.cfg.Key),
			zap.String("alert_id", record.AlertID),
			zap.Error(err),
		)
	}
}

func (s *Sink) publish(ctx context.Context, record Record) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, record); err != nil {
		s.logger.Warn("alert publish failed",
			zap.String("topic", s.cfg.Topic),
			zap.String("alert_id", record.AlertID),
			zap.Error(err),
		)
	}
}

// List returns the alert log, oldest first. A missing log is empty.
func (s *Sink) List(ctx context.Context) ([]Record, error) {
	var log []Record
	err := storage.ReadJSON(ctx, s.store, s.cfg.Key, &log)
	if errors.Is(err, storage.ErrNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = []Record{}
	}
	return log, nil
}
