// Package outcomes publishes finished recovery calls to downstream
// collections systems over Kafka.
package outcomes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Event is the JSON payload written for each ended session.
type Event struct {
	SessionID       string    `json:"session_id"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone,omitempty"`
	Phase           string    `json:"phase"`
	Result          string    `json:"result"`
	CurrentEMI      int64     `json:"current_emi,omitempty"`
	AgreedEMI       *int64    `json:"agreed_emi,omitempty"`
	NewTenureMonths int64     `json:"new_tenure_months,omitempty"`
	Turns           int       `json:"turns"`
	EndedAt         time.Time `json:"ended_at"`
}

// Result values.
const (
	ResultRenegotiated = "renegotiated"
	ResultCommitted    = "committed"
	ResultUnresolved   = "unresolved"
	ResultNotStarted   = "not_started"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outcome events keyed by session id.
type Publisher struct {
	w   writer
	log logrus.FieldLogger
}

// NewPublisher returns a Kafka-backed publisher. It returns nil when no
// brokers are configured; a nil Publisher drops events.
func NewPublisher(brokers []string, topic string, log logrus.FieldLogger) *Publisher {
	if len(brokers) == 0 || topic == "" {
		log.Info("outcomes: no kafka brokers configured, outcome publishing disabled")
		return nil
	}
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
		log: log,
	}
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: data,
		Time:  ev.EndedAt,
	}); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	p.log.WithField("session_id", ev.SessionID).Infof("outcomes: published %s", ev.Result)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.w.Close()
}
