package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a call does not exist.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the bundled schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

// Call is one recovery session, with or without a phone leg.
type Call struct {
	ID             string     `json:"id"`
	CustomerName   string     `json:"customer_name"`
	CustomerPhone  string     `json:"customer_phone"`
	Provider       string     `json:"provider"`
	ProviderCallID *string    `json:"provider_call_id,omitempty"`
	Phase          string     `json:"phase"`
	Status         string     `json:"status"`
	AgreedEMI      *int64     `json:"agreed_emi,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndedBy        *string    `json:"ended_by,omitempty"`
}

// Turn is one persisted transcript line.
type Turn struct {
	Sequence  int       `json:"sequence"`
	Role      string    `json:"role"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Directive string    `json:"directive,omitempty"`
	Intent    string    `json:"intent,omitempty"`
	SpokenAt  time.Time `json:"spoken_at"`
}

// NegotiationOutcome is one senior manager decision.
type NegotiationOutcome struct {
	Decision        string    `json:"decision"`
	ProposedEMI     int64     `json:"proposed_emi"`
	CurrentEMI      int64     `json:"current_emi"`
	LoanAmount      int64     `json:"loan_amount"`
	CounterEMI      *int64    `json:"counter_emi,omitempty"`
	NewTenureMonths *int64    `json:"new_tenure_months,omitempty"`
	Reasoning       string    `json:"reasoning"`
	CreatedAt       time.Time `json:"created_at"`
}

// CallSummary is the post-call analysis.
type CallSummary struct {
	Outcome           string    `json:"outcome"`
	CustomerSentiment string    `json:"customer_sentiment"`
	HardshipReason    string    `json:"hardship_reason"`
	PromisedDate      string    `json:"promised_date"`
	FollowUp          string    `json:"follow_up"`
	Notes             string    `json:"notes"`
	CreatedAt         time.Time `json:"created_at"`
}

type CallDetail struct {
	Call
	Turns        []Turn               `json:"turns"`
	Negotiations []NegotiationOutcome `json:"negotiations"`
	Summary      *CallSummary         `json:"summary,omitempty"`
}

// CallEvent represents a logged event for a call
type CallEvent struct {
	ID        string          `json:"id"`
	CallID    string          `json:"call_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateCall inserts a call row keyed by the session ID.
func (s *Store) CreateCall(ctx context.Context, c Call) error {
	if c.Provider == "" {
		c.Provider = "console"
	}
	if c.Phase == "" {
		c.Phase = "initial"
	}
	if c.Status == "" {
		c.Status = "active"
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO recovery_calls (id, customer_name, customer_phone, provider, phase, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.CustomerName, c.CustomerPhone, c.Provider, c.Phase, c.Status, c.StartedAt)
	return err
}

// UpdateCallPhase records the phase and the customer once one is selected.
func (s *Store) UpdateCallPhase(ctx context.Context, callID, phase, customerName, customerPhone string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE recovery_calls
		SET phase = $2,
		    customer_name = CASE WHEN $3 = '' THEN customer_name ELSE $3 END,
		    customer_phone = CASE WHEN $4 = '' THEN customer_phone ELSE $4 END
		WHERE id = $1
	`, callID, phase, customerName, customerPhone)
	return err
}

// AttachProviderCall links a telephony call SID to the session.
func (s *Store) AttachProviderCall(ctx context.Context, callID, provider, providerCallID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE recovery_calls
		SET provider = $2, provider_call_id = $3, status = 'dialing'
		WHERE id = $1
	`, callID, provider, providerCallID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCallStatusByProvider applies a telephony status callback.
func (s *Store) UpdateCallStatusByProvider(ctx context.Context, providerCallID, status string, at time.Time) error {
	var endedAt *time.Time
	if status == "completed" || status == "canceled" || status == "failed" || status == "busy" || status == "no-answer" {
		endedAt = &at
	}
	_, err := s.db.Exec(ctx, `
		UPDATE recovery_calls
		SET status = $1,
		    ended_at = COALESCE($2, ended_at)
		WHERE provider='twilio' AND provider_call_id=$3
	`, status, endedAt, providerCallID)
	return err
}

// GetCallIDByProvider resolves a telephony call SID to the session ID.
func (s *Store) GetCallIDByProvider(ctx context.Context, providerCallID string) (string, error) {
	var callID string
	err := s.db.QueryRow(ctx, `
		SELECT id FROM recovery_calls WHERE provider='twilio' AND provider_call_id=$1
	`, providerCallID).Scan(&callID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return callID, err
}

// EndCall closes a call with its final phase and agreed EMI, if any.
func (s *Store) EndCall(ctx context.Context, callID, phase string, agreedEMI *int64, endedBy string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE recovery_calls
		SET phase = $2,
		    agreed_emi = COALESCE($3, agreed_emi),
		    status = 'ended',
		    ended_by = $4,
		    ended_at = COALESCE(ended_at, $5)
		WHERE id = $1
	`, callID, phase, agreedEMI, endedBy, at)
	return err
}

// InsertTurn inserts a transcript line for a call.
func (s *Store) InsertTurn(ctx context.Context, callID string, t Turn) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_turns (call_id, sequence, role, speaker, text, directive, intent, spoken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id, sequence) DO NOTHING
	`, callID, t.Sequence, t.Role, t.Speaker, t.Text, t.Directive, t.Intent, t.SpokenAt)
	return err
}

// InsertNegotiationOutcome records a senior manager decision.
func (s *Store) InsertNegotiationOutcome(ctx context.Context, callID string, o NegotiationOutcome) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO negotiation_outcomes (call_id, decision, proposed_emi, current_emi, loan_amount, counter_emi, new_tenure_months, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, callID, o.Decision, o.ProposedEMI, o.CurrentEMI, o.LoanAmount, o.CounterEMI, o.NewTenureMonths, o.Reasoning, o.CreatedAt)
	return err
}

// InsertCallSummary inserts or replaces the summary for a call.
func (s *Store) InsertCallSummary(ctx context.Context, callID string, cs CallSummary) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_summaries (call_id, outcome, customer_sentiment, hardship_reason, promised_date, follow_up, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			customer_sentiment = EXCLUDED.customer_sentiment,
			hardship_reason = EXCLUDED.hardship_reason,
			promised_date = EXCLUDED.promised_date,
			follow_up = EXCLUDED.follow_up,
			notes = EXCLUDED.notes,
			created_at = EXCLUDED.created_at
	`, callID, cs.Outcome, cs.CustomerSentiment, cs.HardshipReason, cs.PromisedDate, cs.FollowUp, cs.Notes, cs.CreatedAt)
	return err
}

const callColumns = `id, customer_name, customer_phone, provider, provider_call_id, phase, status, agreed_emi, started_at, ended_at, ended_by`

func scanCall(row pgx.Row) (Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.CustomerName, &c.CustomerPhone, &c.Provider, &c.ProviderCallID, &c.Phase, &c.Status,
		&c.AgreedEMI, &c.StartedAt, &c.EndedAt, &c.EndedBy)
	return c, err
}

// ListCalls returns the most recent calls first.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+callColumns+`
		FROM recovery_calls
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCallDetail returns a call with its transcript, negotiations and summary.
func (s *Store) GetCallDetail(ctx context.Context, callID string) (CallDetail, error) {
	c, err := scanCall(s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM recovery_calls WHERE id = $1`, callID))
	if errors.Is(err, pgx.ErrNoRows) {
		return CallDetail{}, ErrNotFound
	}
	if err != nil {
		return CallDetail{}, err
	}
	out := CallDetail{Call: c}

	rows, err := s.db.Query(ctx, `
		SELECT sequence, role, speaker, text, directive, intent, spoken_at
		FROM call_turns
		WHERE call_id = $1
		ORDER BY sequence ASC
	`, callID)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Sequence, &t.Role, &t.Speaker, &t.Text, &t.Directive, &t.Intent, &t.SpokenAt); err != nil {
			rows.Close()
			return out, err
		}
		out.Turns = append(out.Turns, t)
	}
	rows.Close()

	rows, err = s.db.Query(ctx, `
		SELECT decision, proposed_emi, current_emi, loan_amount, counter_emi, new_tenure_months, reasoning, created_at
		FROM negotiation_outcomes
		WHERE call_id = $1
		ORDER BY created_at ASC
	`, callID)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var o NegotiationOutcome
		if err := rows.Scan(&o.Decision, &o.ProposedEMI, &o.CurrentEMI, &o.LoanAmount, &o.CounterEMI, &o.NewTenureMonths, &o.Reasoning, &o.CreatedAt); err != nil {
			rows.Close()
			return out, err
		}
		out.Negotiations = append(out.Negotiations, o)
	}
	rows.Close()

	// Summary (optional)
	var cs CallSummary
	err = s.db.QueryRow(ctx, `
		SELECT outcome, customer_sentiment, hardship_reason, promised_date, follow_up, notes, created_at
		FROM call_summaries
		WHERE call_id = $1
	`, callID).Scan(&cs.Outcome, &cs.CustomerSentiment, &cs.HardshipReason, &cs.PromisedDate, &cs.FollowUp, &cs.Notes, &cs.CreatedAt)
	if err == nil {
		out.Summary = &cs
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return out, err
	}

	return out, nil
}

// ListCallEvents retrieves events for a specific call
func (s *Store) ListCallEvents(ctx context.Context, callID string, limit int) ([]CallEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, call_id, event_type, event_data, created_at
		FROM call_events
		WHERE call_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, callID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CallEvent
	for rows.Next() {
		var e CallEvent
		var eventData []byte
		if err := rows.Scan(&e.ID, &e.CallID, &e.EventType, &eventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventData = json.RawMessage(eventData)
		events = append(events, e)
	}
	return events, rows.Err()
}
