package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	if err := New(db).Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return db
}

func TestCallLifecycle(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	callID := uuid.NewString()
	providerCallID := "CA" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	defer func() {
		_, _ = db.Exec(ctx, "DELETE FROM recovery_calls WHERE id = $1", callID)
	}()

	if err := s.CreateCall(ctx, Call{ID: callID, StartedAt: now}); err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}
	// Creating twice is a no-op.
	if err := s.CreateCall(ctx, Call{ID: callID, StartedAt: now}); err != nil {
		t.Fatalf("CreateCall (repeat) failed: %v", err)
	}

	if err := s.UpdateCallPhase(ctx, callID, "awaiting_call_start", "Sneha Reddy", "+919800000001"); err != nil {
		t.Fatalf("UpdateCallPhase failed: %v", err)
	}
	if err := s.UpdateCallPhase(ctx, callID, "recovery", "", ""); err != nil {
		t.Fatalf("UpdateCallPhase failed: %v", err)
	}

	if err := s.AttachProviderCall(ctx, callID, "twilio", providerCallID); err != nil {
		t.Fatalf("AttachProviderCall failed: %v", err)
	}
	got, err := s.GetCallIDByProvider(ctx, providerCallID)
	if err != nil || got != callID {
		t.Fatalf("GetCallIDByProvider = %q, %v; want %q", got, err, callID)
	}

	turns := []Turn{
		{Sequence: 1, Role: "agent", Speaker: "recovery_executive", Text: "Hello, am I speaking with Sneha Reddy?", Directive: "CALL_OPENING", SpokenAt: now},
		{Sequence: 2, Role: "customer", Text: "I can't afford this EMI", Intent: "modification_request", SpokenAt: now.Add(time.Second)},
	}
	for _, tr := range turns {
		if err := s.InsertTurn(ctx, callID, tr); err != nil {
			t.Fatalf("InsertTurn failed: %v", err)
		}
	}

	counter := int64(10500)
	if err := s.InsertNegotiationOutcome(ctx, callID, NegotiationOutcome{
		Decision: "counter", ProposedEMI: 8000, CurrentEMI: 15000, LoanAmount: 800000, CounterEMI: &counter, Reasoning: "income drop", CreatedAt: now,
	}); err != nil {
		t.Fatalf("InsertNegotiationOutcome failed: %v", err)
	}

	if err := s.UpdateCallStatusByProvider(ctx, providerCallID, "completed", now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateCallStatusByProvider failed: %v", err)
	}

	agreed := int64(10500)
	if err := s.EndCall(ctx, callID, "complete", &agreed, "operator", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("EndCall failed: %v", err)
	}

	if err := s.InsertCallSummary(ctx, callID, CallSummary{Outcome: "renegotiated", Notes: "EMI reduced", CreatedAt: now}); err != nil {
		t.Fatalf("InsertCallSummary failed: %v", err)
	}

	detail, err := s.GetCallDetail(ctx, callID)
	if err != nil {
		t.Fatalf("GetCallDetail failed: %v", err)
	}
	if detail.CustomerName != "Sneha Reddy" {
		t.Errorf("customer_name = %q, want Sneha Reddy", detail.CustomerName)
	}
	if detail.Phase != "complete" || detail.Status != "ended" {
		t.Errorf("phase/status = %q/%q, want complete/ended", detail.Phase, detail.Status)
	}
	if detail.AgreedEMI == nil || *detail.AgreedEMI != 10500 {
		t.Errorf("agreed_emi = %v, want 10500", detail.AgreedEMI)
	}
	if detail.EndedAt == nil || !detail.EndedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("ended_at = %v, want status callback time", detail.EndedAt)
	}
	if len(detail.Turns) != 2 || detail.Turns[1].Intent != "modification_request" {
		t.Errorf("turns = %+v", detail.Turns)
	}
	if len(detail.Negotiations) != 1 || *detail.Negotiations[0].CounterEMI != 10500 {
		t.Errorf("negotiations = %+v", detail.Negotiations)
	}
	if detail.Summary == nil || detail.Summary.Outcome != "renegotiated" {
		t.Errorf("summary = %+v", detail.Summary)
	}

	calls, err := s.ListCalls(ctx, 50)
	if err != nil {
		t.Fatalf("ListCalls failed: %v", err)
	}
	found := false
	for _, c := range calls {
		if c.ID == callID {
			found = true
		}
	}
	if !found {
		t.Error("ListCalls did not return the created call")
	}
}

func TestGetCallDetailNotFound(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	_, err := New(db).GetCallDetail(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCallDetail error = %v, want ErrNotFound", err)
	}
}

func TestAttachProviderCallUnknownCall(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	err := New(db).AttachProviderCall(context.Background(), uuid.NewString(), "twilio", "CAunknown")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AttachProviderCall error = %v, want ErrNotFound", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}
	for _, table := range []string{"recovery_calls", "call_turns", "negotiation_outcomes", "call_summaries", "call_events"} {
		if !strings.Contains(string(sql), table) {
			t.Errorf("migration missing table %s", table)
		}
	}
}
