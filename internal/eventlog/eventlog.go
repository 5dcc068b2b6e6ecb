package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of call event
type EventType string

const (
	EventCallStarted        EventType = "call_started"
	EventLookup             EventType = "customer_lookup"
	EventPhaseChanged       EventType = "phase_changed"
	EventIntentClassified   EventType = "intent_classified"
	EventNegotiationDecided EventType = "negotiation_decided"
	EventMalformedAmount    EventType = "malformed_amount"
	EventDialPlaced         EventType = "dial_placed"
	EventSTTResult          EventType = "stt_result"
	EventTTSError           EventType = "tts_error"
	EventLLMError           EventType = "llm_error"
	EventSMSSent            EventType = "sms_sent"
	EventOutcomePublished   EventType = "outcome_published"
	EventCallHangup         EventType = "call_hangup"
	EventCallCosts          EventType = "call_costs"
	EventCallEnded          EventType = "call_ended"
)

// execer is the part of *pgxpool.Pool the logger needs.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Logger provides async event logging to the database
type Logger struct {
	db  execer
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

// New creates a new event logger. db may be nil, in which case every call
// is a no-op.
func New(db execer, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{db: db, log: log}
}

func (l *Logger) enabled() bool {
	return l != nil && l.db != nil
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, callID string, eventType EventType, data map[string]any) error {
	if !l.enabled() || callID == "" {
		return nil // Silently skip if no DB or call ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO call_events (call_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, callID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(callID string, eventType EventType, data map[string]any) {
	if !l.enabled() || callID == "" {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Log(ctx, callID, eventType, data); err != nil {
			l.log.WithField("call_id", callID).Warnf("eventlog: %s: %v", eventType, err)
		}
	}()
}

// Flush waits for pending async writes.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
