// Package events publishes audit completion events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"call-audit-go/internal/config"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/metrics"
	"call-audit-go/internal/types"
)

// AuditCompleted is emitted once per finished run.
type AuditCompleted struct {
	RunID          string    `json:"run_id"`
	Agent          string    `json:"agent"`
	Date           string    `json:"date"`
	File           string    `json:"file"`
	JobName        string    `json:"job_name,omitempty"`
	Status         string    `json:"status"`
	Confidence     float64   `json:"confidence"`
	ViolationCount int       `json:"violation_count"`
	Tone           string    `json:"tone"`
	Persisted      bool      `json:"persisted"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NewAuditCompleted summarises a report for the event stream.
func NewAuditCompleted(rep types.AuditReport, persisted bool) AuditCompleted {
	return AuditCompleted{
		RunID:          rep.Provenance.RunID,
		Agent:          rep.Provenance.AgentName,
		Date:           rep.Provenance.CallDate,
		File:           rep.Provenance.FileName,
		JobName:        rep.Provenance.JobName,
		Status:         rep.Classification.Status,
		Confidence:     rep.Classification.Confidence,
		ViolationCount: rep.RuleViolations.Count(),
		Tone:           rep.AgentTone,
		Persisted:      persisted,
		CompletedAt:    time.Now().UTC(),
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes audit events to a Kafka topic. When Kafka is disabled it
// only logs them.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func New(cfg config.KafkaConfig) *Publisher {
	log := logger.New().WithField("component", "events")
	p := &Publisher{
		topic:   cfg.Topic,
		metrics: metrics.DefaultMetrics,
		log:     log,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info("kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true
	log.WithField("brokers", cfg.Brokers).WithField("topic", cfg.Topic).Info("kafka publisher initialized")
	return p
}

// PublishAudit keys the message by agent so one agent's events stay ordered.
func (p *Publisher) PublishAudit(ctx context.Context, ev AuditCompleted) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.metrics.RecordPublish(err)
		return err
	}

	entry := p.log.WithField("topic", p.topic).WithField("run_id", ev.RunID)
	entry.WithField("payload", string(payload)).Debug("publishing audit event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordPublish(nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.Agent),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("audit.completed")},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		entry.WithError(err).Error("failed to write to kafka")
		p.metrics.RecordPublish(err)
		return err
	}
	p.metrics.RecordPublish(nil)
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
