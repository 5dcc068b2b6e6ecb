// Package sessions owns the live recovery sessions: one coordinator per
// session, turns serialised per session, and the side effects of each turn
// (persistence, event log, metrics, snapshots, SMS, outcome publishing).
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/eventlog"
	"github.com/recoverydesk/voiceagent/internal/llm"
	"github.com/recoverydesk/voiceagent/internal/metrics"
	"github.com/recoverydesk/voiceagent/internal/notifications"
	"github.com/recoverydesk/voiceagent/internal/outcomes"
	"github.com/recoverydesk/voiceagent/internal/recovery"
	"github.com/recoverydesk/voiceagent/internal/store"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrDraining = errors.New("server is draining, not accepting new sessions")
	ErrEnded    = errors.New("session has ended")
)

// CallStore is the persistence the manager needs. *store.Store satisfies it.
type CallStore interface {
	CreateCall(ctx context.Context, c store.Call) error
	UpdateCallPhase(ctx context.Context, callID, phase, customerName, customerPhone string) error
	AttachProviderCall(ctx context.Context, callID, provider, providerCallID string) error
	EndCall(ctx context.Context, callID, phase string, agreedEMI *int64, endedBy string, at time.Time) error
	InsertTurn(ctx context.Context, callID string, t store.Turn) error
	InsertNegotiationOutcome(ctx context.Context, callID string, o store.NegotiationOutcome) error
	InsertCallSummary(ctx context.Context, callID string, cs store.CallSummary) error
}

// SMSSender sends a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Notifier tells the team how a call ended.
type Notifier interface {
	NotifyOutcome(ctx context.Context, n notifications.OutcomeNotice)
}

// Config wires a Manager. Only Lookup is required; every other
// collaborator is skipped when nil.
type Config struct {
	Lookup    recovery.Lookup
	Policy    recovery.Policy
	AgentName string

	LLM       llm.Client
	Store     CallStore
	Events    *eventlog.Logger
	Metrics   *metrics.Metrics
	Outcomes  *outcomes.Publisher
	Notifier  Notifier
	SMS       SMSSender
	Snapshots SnapshotStore

	Log logrus.FieldLogger
	Now func() time.Time
}

// Manager creates, finds and ends sessions.
type Manager struct {
	lookup    recovery.Lookup
	policy    recovery.Policy
	agentName string

	llm       llm.Client
	store     CallStore
	events    *eventlog.Logger
	metrics   *metrics.Metrics
	outcomes  *outcomes.Publisher
	notifier  Notifier
	sms       SMSSender
	snapshots SnapshotStore

	log logrus.FieldLogger
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
	wg       sync.WaitGroup
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Lookup == nil {
		return nil, errors.New("sessions: lookup is required")
	}
	if cfg.Policy == (recovery.Policy{}) {
		cfg.Policy = recovery.DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		lookup:    cfg.Lookup,
		policy:    cfg.Policy,
		agentName: cfg.AgentName,
		llm:       cfg.LLM,
		store:     cfg.Store,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		outcomes:  cfg.Outcomes,
		notifier:  cfg.Notifier,
		sms:       cfg.SMS,
		snapshots: cfg.Snapshots,
		log:       cfg.Log,
		now:       cfg.Now,
		sessions:  make(map[string]*Session),
	}, nil
}

func (m *Manager) newCoordinator() (*recovery.Coordinator, error) {
	return recovery.NewCoordinator(recovery.Config{
		Lookup:    m.lookup,
		Policy:    m.policy,
		AgentName: m.agentName,
		Now:       m.now,
	})
}

// register adds s unless the manager is draining, returning the session
// now held under s.ID. The draining check and the WaitGroup increment
// happen under one lock so Wait cannot miss a session.
func (m *Manager) register(s *Session) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[s.ID]; ok {
		return existing, true
	}
	if m.draining {
		return nil, false
	}
	m.sessions[s.ID] = s
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	return s, true
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
	m.wg.Done()
}

// Create opens a new session in the initial phase and returns the
// operator prompt.
func (m *Manager) Create(ctx context.Context) (*Session, Reply, error) {
	coord, err := m.newCoordinator()
	if err != nil {
		return nil, Reply{}, err
	}
	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		m:          m,
		coord:      coord,
		lastActive: now,
	}
	s.log = m.log.WithField("session_id", s.ID)
	if _, ok := m.register(s); !ok {
		return nil, Reply{}, ErrDraining
	}

	if m.store != nil {
		if err := m.store.CreateCall(ctx, store.Call{
			ID:        s.ID,
			Phase:     string(recovery.PhaseInitial),
			StartedAt: s.CreatedAt,
		}); err != nil {
			s.log.Errorf("sessions: failed to create call row: %v", err)
		}
	}
	m.events.LogAsync(s.ID, eventlog.EventCallStarted, map[string]any{"agent": coord.AgentName()})
	s.log.Info("sessions: session created")

	s.mu.Lock()
	defer s.mu.Unlock()
	reply := s.apply(ctx, recovery.PhaseInitial, coord.Greeting())
	return s, reply, nil
}

// Get returns a live session, resuming it from its snapshot when this
// process does not hold it.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	if m.snapshots == nil {
		return nil, ErrNotFound
	}

	snap, err := m.snapshots.Load(ctx, id)
	if err != nil {
		if m.metrics != nil {
			m.metrics.SnapshotOperations.WithLabelValues("load", "miss").Inc()
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if m.metrics != nil {
		m.metrics.SnapshotOperations.WithLabelValues("load", "ok").Inc()
	}

	coord, err := m.newCoordinator()
	if err != nil {
		return nil, err
	}
	coord.Restore(snap.State)
	s = &Session{
		ID:         id,
		CreatedAt:  snap.CreatedAt,
		m:          m,
		coord:      coord,
		callSID:    snap.CallSID,
		seq:        snap.Sequence,
		lastActive: m.now(),
	}
	s.log = m.log.WithField("session_id", id)

	got, ok := m.register(s)
	if !ok {
		return nil, ErrDraining
	}
	if got == s {
		s.log.Info("sessions: session resumed from snapshot")
	}
	return got, nil
}

// FindByCallSID returns the live session carrying a telephony call.
func (m *Manager) FindByCallSID(callSID string) (*Session, bool) {
	if callSID == "" {
		return nil, false
	}
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()
	for _, s := range list {
		if s.CallSID() == callSID {
			return s, true
		}
	}
	return nil, false
}

// ActiveCount returns the number of sessions held by this process.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartDraining stops Create from accepting new sessions.
func (m *Manager) StartDraining() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = true
}

func (m *Manager) IsDraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Wait blocks until every registered session has ended.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// EndIdle ends sessions that have gone maxIdle without a turn and
// returns how many it ended.
func (m *Manager) EndIdle(ctx context.Context, maxIdle time.Duration) int {
	now := m.now()
	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		idle = append(idle, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range idle {
		if s.IdleFor(now) < maxIdle {
			continue
		}
		if err := s.End(ctx, "idle_timeout"); err != nil {
			s.log.Errorf("sessions: failed to end idle session: %v", err)
			continue
		}
		n++
	}
	return n
}

// EndAll ends every live session. Shutdown uses it for sessions that
// outlive the drain timeout so their outcomes are still recorded.
func (m *Manager) EndAll(ctx context.Context, endedBy string) int {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	for _, s := range list {
		if err := s.End(ctx, endedBy); err != nil {
			s.log.Errorf("sessions: failed to end session: %v", err)
		}
	}
	return len(list)
}

// Reply is one rendered response of the workflow.
type Reply struct {
	Directive recovery.Directive `json:"directive"`
	Phase     recovery.Phase     `json:"phase"`
	Speaker   recovery.Speaker   `json:"speaker"`
	Intent    string             `json:"intent,omitempty"`
	Text      string             `json:"text"`
	Outcome   *recovery.Outcome  `json:"outcome,omitempty"`
}

// State is the read model of a session.
type State struct {
	ID          string                    `json:"id"`
	Phase       recovery.Phase            `json:"phase"`
	Profile     *recovery.CustomerProfile `json:"profile,omitempty"`
	AgreedEMI   int64                     `json:"agreed_emi,omitempty"`
	CallSID     string                    `json:"call_sid,omitempty"`
	Turns       []recovery.Turn           `json:"turns"`
	Summary     string                    `json:"summary"`
	CurrentTime string                    `json:"current_time"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// Session is one recovery call. All methods are safe for concurrent use;
// turns are applied one at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	m   *Manager
	log logrus.FieldLogger

	mu          sync.Mutex
	coord       *recovery.Coordinator
	callSID     string
	seq         int
	lastOutcome *recovery.Outcome
	ended       bool
	smsSent     int
	lastActive  time.Time
}

// State returns a copy of the session for display.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.coord.Snapshot()
	return State{
		ID:          s.ID,
		Phase:       snap.Phase,
		Profile:     snap.Profile,
		AgreedEMI:   snap.AgreedEMI,
		CallSID:     s.callSID,
		Turns:       snap.Turns,
		Summary:     s.coord.ProfileSummary(),
		CurrentTime: s.coord.CurrentTime(),
		CreatedAt:   s.CreatedAt,
	}
}

func (s *Session) Phase() recovery.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Phase()
}

// Profile returns a copy of the loaded customer profile, or nil.
func (s *Session) Profile() *recovery.CustomerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.coord.Profile()
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Operator handles an instruction from the operator console: a customer
// name, "start the call", or an escalation request.
func (s *Session) Operator(ctx context.Context, text string) ([]Reply, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("operator", start)
	if s.ended {
		return nil, ErrEnded
	}

	s.record(ctx, recovery.RoleOperator, "", text, "", "")
	prev := s.coord.Phase()

	var resp recovery.Response
	switch {
	case recovery.IsStartCommand(text):
		resp = s.coord.StartCall()
	case isEscalateCommand(text) && (prev == recovery.PhaseRecovery || prev == recovery.PhaseEscalation):
		resp = s.coord.Escalate()
	case prev == recovery.PhaseInitial || prev == recovery.PhaseAwaitingCallStart:
		name := s.m.extractName(ctx, s.ID, text)
		if strings.TrimSpace(name) == "" {
			resp = s.coord.Greeting()
			break
		}
		resp = s.coord.SearchCustomer(ctx, name)
		s.countLookup(resp.Directive)
		s.m.events.LogAsync(s.ID, eventlog.EventLookup, map[string]any{
			"query":     name,
			"directive": string(resp.Directive),
		})
	default:
		// Refused by the coordinator outside the lookup phases.
		resp = s.coord.SearchCustomer(ctx, text)
	}
	return []Reply{s.apply(ctx, prev, resp)}, nil
}

// StartCall moves an armed session into recovery when the customer's
// phone leg connects. It returns the opening line.
func (s *Session) StartCall(ctx context.Context) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return Reply{}, ErrEnded
	}
	prev := s.coord.Phase()
	return s.apply(ctx, prev, s.coord.StartCall()), nil
}

// Customer handles one finalized customer utterance. A request to modify
// the EMI yields the hold message followed by the senior manager's
// introduction, and the senior manager's decision when the request named
// an amount.
func (s *Session) Customer(ctx context.Context, text string) ([]Reply, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("customer", start)
	if s.ended {
		return nil, ErrEnded
	}

	s.record(ctx, recovery.RoleCustomer, "", text, "", "")
	prev := s.coord.Phase()
	resp := s.coord.HandleUtterance(ctx, text)

	if prev == recovery.PhaseRecovery && resp.Speaker == recovery.SpeakerRecoveryExecutive {
		if s.m.metrics != nil {
			s.m.metrics.IntentsClassified.WithLabelValues(resp.Intent.String()).Inc()
		}
		s.m.events.LogAsync(s.ID, eventlog.EventIntentClassified, map[string]any{
			"intent": resp.Intent.String(),
			"text":   text,
		})
	}
	if resp.Directive == recovery.DirectiveMalformedAmount {
		s.m.events.LogAsync(s.ID, eventlog.EventMalformedAmount, map[string]any{"text": text})
	}

	replies := []Reply{s.apply(ctx, prev, resp)}
	if resp.Directive == recovery.DirectiveEscalateHold {
		replies = append(replies, s.apply(ctx, recovery.PhaseEscalation, s.coord.Escalate()))
		// "can we lower it to 9000" carries its proposal with it.
		if recovery.MentionsAmount(text) {
			if offer := s.coord.ProposeEMI(text, text); offer.Directive != recovery.DirectiveMalformedAmount {
				replies = append(replies, s.apply(ctx, recovery.PhaseEscalation, offer))
			}
		}
	}
	return replies, nil
}

// Offer submits an explicit EMI proposal to the senior manager.
func (s *Session) Offer(ctx context.Context, proposedEMI, reasoning string) (Reply, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("offer", start)
	if s.ended {
		return Reply{}, ErrEnded
	}
	prev := s.coord.Phase()
	resp := s.coord.ProposeEMI(proposedEMI, reasoning)
	if resp.Directive == recovery.DirectiveMalformedAmount {
		s.m.events.LogAsync(s.ID, eventlog.EventMalformedAmount, map[string]any{"text": proposedEMI})
	}
	return s.apply(ctx, prev, resp), nil
}

// AttachCall records the telephony call carrying this session.
func (s *Session) AttachCall(ctx context.Context, provider, callSID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callSID = callSID
	s.lastActive = s.m.now()
	if s.m.store != nil {
		if err := s.m.store.AttachProviderCall(ctx, s.ID, provider, callSID); err != nil {
			s.log.Errorf("sessions: failed to attach %s call %s: %v", provider, callSID, err)
		}
	}
	s.m.events.LogAsync(s.ID, eventlog.EventDialPlaced, map[string]any{"provider": provider, "call_sid": callSID})
	s.saveSnapshot(ctx)
}

// SMSSent is the number of confirmation messages sent on this session.
func (s *Session) SMSSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.smsSent
}

// IdleFor reports how long the session has gone without a turn.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// End closes the session: the transcript is summarised, the call row is
// finalised and the outcome is published. Ending twice is a no-op.
func (s *Session) End(ctx context.Context, endedBy string) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	snap := s.coord.Snapshot()
	callSID := s.callSID
	lastOutcome := s.lastOutcome
	s.mu.Unlock()
	defer s.m.unregister(s.ID)

	m := s.m
	now := m.now()
	result := resultOf(snap, lastOutcome)

	var agreed *int64
	if snap.AgreedEMI > 0 {
		v := snap.AgreedEMI
		agreed = &v
	}

	var summaryNote string
	if m.llm != nil && len(snap.Turns) >= 2 {
		summary, err := m.llm.SummarizeCall(ctx, transcript(snap.Turns))
		if err != nil {
			s.log.Warnf("sessions: call summary failed: %v", err)
			m.events.LogAsync(s.ID, eventlog.EventLLMError, map[string]any{"op": "summarize", "error": err.Error()})
		} else if summary != nil {
			summaryNote = summary.Notes
			if m.store != nil {
				if err := m.store.InsertCallSummary(ctx, s.ID, store.CallSummary{
					Outcome:           summary.Outcome,
					CustomerSentiment: summary.CustomerSentiment,
					HardshipReason:    summary.HardshipReason,
					PromisedDate:      summary.PromisedDate,
					FollowUp:          summary.FollowUp,
					Notes:             summary.Notes,
					CreatedAt:         now,
				}); err != nil {
					s.log.Errorf("sessions: failed to store call summary: %v", err)
				}
			}
		}
	}

	if m.store != nil {
		if err := m.store.EndCall(ctx, s.ID, string(snap.Phase), agreed, endedBy, now); err != nil {
			s.log.Errorf("sessions: failed to end call row: %v", err)
		}
	}

	ev := outcomes.Event{
		SessionID: s.ID,
		Phase:     string(snap.Phase),
		Result:    result,
		AgreedEMI: agreed,
		Turns:     len(snap.Turns),
		EndedAt:   now,
	}
	if snap.Profile != nil {
		ev.CustomerName = snap.Profile.Name
		ev.CustomerPhone = snap.Profile.Phone
		ev.CurrentEMI = snap.Profile.EMIAmount
	}
	if lastOutcome != nil && lastOutcome.Decision == recovery.DecisionApprove {
		ev.NewTenureMonths = lastOutcome.NewTenureMonths
	}
	if err := m.outcomes.Publish(ctx, ev); err != nil {
		s.log.Errorf("sessions: failed to publish outcome: %v", err)
		if m.metrics != nil {
			m.metrics.OutcomesPublished.WithLabelValues("error").Inc()
		}
	} else if m.outcomes != nil {
		if m.metrics != nil {
			m.metrics.OutcomesPublished.WithLabelValues("ok").Inc()
		}
		m.events.LogAsync(s.ID, eventlog.EventOutcomePublished, map[string]any{"result": result})
	}

	if m.notifier != nil && snap.Profile != nil {
		m.notifier.NotifyOutcome(ctx, notifications.OutcomeNotice{
			SessionID:    s.ID,
			CustomerName: snap.Profile.Name,
			Result:       result,
			CurrentEMI:   snap.Profile.EMIAmount,
			AgreedEMI:    agreed,
			Summary:      summaryNote,
		})
	}

	if m.snapshots != nil {
		if err := m.snapshots.Delete(ctx, s.ID); err != nil {
			s.log.Warnf("sessions: failed to delete snapshot: %v", err)
		}
	}

	m.events.LogAsync(s.ID, eventlog.EventCallEnded, map[string]any{
		"ended_by": endedBy,
		"phase":    string(snap.Phase),
		"result":   result,
		"call_sid": callSID,
	})
	s.log.WithFields(logrus.Fields{"result": result, "ended_by": endedBy}).Info("sessions: session ended")
	return nil
}

func resultOf(snap recovery.State, last *recovery.Outcome) string {
	switch {
	case snap.Phase != recovery.PhaseComplete && snap.Phase != recovery.PhaseRecovery && snap.Phase != recovery.PhaseEscalation:
		return outcomes.ResultNotStarted
	case snap.AgreedEMI > 0 && last != nil && last.Decision == recovery.DecisionApprove:
		return outcomes.ResultRenegotiated
	case snap.Phase == recovery.PhaseComplete:
		return outcomes.ResultCommitted
	default:
		return outcomes.ResultUnresolved
	}
}

func transcript(turns []recovery.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case recovery.RoleCustomer:
			msgs = append(msgs, llm.Message{Role: "user", Content: t.Text})
		case recovery.RoleAgent:
			if t.Speaker == recovery.SpeakerCoordinator {
				continue
			}
			msgs = append(msgs, llm.Message{Role: "assistant", Content: t.Text})
		}
	}
	return msgs
}

// apply renders resp, records it and runs the side effects of the
// transition from prev. Callers hold s.mu.
func (s *Session) apply(ctx context.Context, prev recovery.Phase, resp recovery.Response) Reply {
	m := s.m
	text := recovery.Render(resp)
	if resp.Directive == recovery.DirectiveGenericProbe && m.llm != nil {
		text = s.probeReply(ctx, text)
	}

	reply := Reply{
		Directive: resp.Directive,
		Phase:     resp.Phase,
		Speaker:   resp.Speaker,
		Text:      text,
		Outcome:   resp.Outcome,
	}
	if prev == recovery.PhaseRecovery && resp.Speaker == recovery.SpeakerRecoveryExecutive {
		reply.Intent = resp.Intent.String()
	}

	s.record(ctx, recovery.RoleAgent, resp.Speaker, text, string(resp.Directive), reply.Intent)

	if resp.Phase != prev {
		if m.metrics != nil {
			m.metrics.PhaseTransitions.WithLabelValues(string(prev), string(resp.Phase)).Inc()
		}
		m.events.LogAsync(s.ID, eventlog.EventPhaseChanged, map[string]any{
			"from":      string(prev),
			"to":        string(resp.Phase),
			"directive": string(resp.Directive),
		})
		if m.store != nil {
			var name, phone string
			if p := s.coord.Profile(); p != nil {
				name, phone = p.Name, p.Phone
			}
			if err := m.store.UpdateCallPhase(ctx, s.ID, string(resp.Phase), name, phone); err != nil {
				s.log.Errorf("sessions: failed to update call phase: %v", err)
			}
		}
	}

	if resp.Outcome != nil {
		s.recordOutcome(ctx, resp.Outcome)
	}

	if resp.Directive == recovery.DirectiveCommitmentClose || resp.Directive == recovery.DirectiveNegotiationApprove {
		s.sendConfirmation(ctx, resp)
	}

	s.saveSnapshot(ctx)
	return reply
}

func (s *Session) recordOutcome(ctx context.Context, out *recovery.Outcome) {
	m := s.m
	cp := *out
	s.lastOutcome = &cp
	if m.metrics != nil {
		m.metrics.NegotiationDecisions.WithLabelValues(string(out.Decision)).Inc()
	}
	m.events.LogAsync(s.ID, eventlog.EventNegotiationDecided, map[string]any{
		"decision":          string(out.Decision),
		"proposed_emi":      out.Offer.ProposedEMI,
		"current_emi":       out.Offer.CurrentEMI,
		"reduction_percent": out.Offer.ReductionPercent,
		"counter_emi":       out.CounterEMI,
		"new_tenure_months": out.NewTenureMonths,
	})
	if m.store == nil {
		return
	}
	row := store.NegotiationOutcome{
		Decision:    string(out.Decision),
		ProposedEMI: out.Offer.ProposedEMI,
		CurrentEMI:  out.Offer.CurrentEMI,
		LoanAmount:  out.Offer.LoanAmount,
		Reasoning:   out.Reasoning,
		CreatedAt:   m.now(),
	}
	if out.CounterEMI > 0 {
		v := out.CounterEMI
		row.CounterEMI = &v
	}
	if out.NewTenureMonths > 0 {
		v := out.NewTenureMonths
		row.NewTenureMonths = &v
	}
	if err := m.store.InsertNegotiationOutcome(ctx, s.ID, row); err != nil {
		s.log.Errorf("sessions: failed to store negotiation outcome: %v", err)
	}
}

// probeReply asks the LLM for a free-form recovery executive reply,
// keeping the scripted text when the LLM fails or returns nothing.
func (s *Session) probeReply(ctx context.Context, fallback string) string {
	msgs := transcript(s.coord.Turns())
	if len(msgs) == 0 {
		return fallback
	}
	out, err := s.m.llm.Complete(ctx, llm.RecoveryExecutivePrompt(s.coord.AgentName()), msgs)
	if err != nil {
		s.log.Warnf("sessions: probe reply failed, using script: %v", err)
		s.m.events.LogAsync(s.ID, eventlog.EventLLMError, map[string]any{"op": "probe", "error": err.Error()})
		return fallback
	}
	if out = strings.TrimSpace(out); out == "" {
		return fallback
	}
	return out
}

func (s *Session) sendConfirmation(ctx context.Context, resp recovery.Response) {
	m := s.m
	p := s.coord.Profile()
	if m.sms == nil || p == nil || p.Phone == "" || p.Phone == "N/A" {
		return
	}
	var body string
	if resp.Directive == recovery.DirectiveNegotiationApprove {
		body = fmt.Sprintf("Dear %s, your revised %s EMI of %s over %d months has been approved. Our team will share the updated schedule shortly.",
			p.Name, p.LoanType, recovery.FormatRupees(resp.Values.ProposedEMI), resp.Values.NewTenureMonths)
	} else {
		body = fmt.Sprintf("Dear %s, thank you for confirming payment of your %s EMI of %s. Please pay at the earliest to avoid further charges.",
			p.Name, p.LoanType, recovery.FormatRupees(p.EMIAmount))
	}
	if err := m.sms.SendSMS(ctx, p.Phone, body); err != nil {
		s.log.Warnf("sessions: confirmation SMS failed: %v", err)
		return
	}
	s.smsSent++
	m.events.LogAsync(s.ID, eventlog.EventSMSSent, map[string]any{"to": p.Phone, "directive": string(resp.Directive)})
}

// record appends a transcript turn and persists it.
func (s *Session) record(ctx context.Context, role recovery.Role, speaker recovery.Speaker, text, directive, intent string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	t := s.coord.Record(role, speaker, text)
	s.seq++
	s.lastActive = s.m.now()
	if s.m.store == nil {
		return
	}
	if err := s.m.store.InsertTurn(ctx, s.ID, store.Turn{
		Sequence:  s.seq,
		Role:      string(t.Role),
		Speaker:   string(t.Speaker),
		Text:      t.Text,
		Directive: directive,
		Intent:    intent,
		SpokenAt:  t.At,
	}); err != nil {
		s.log.Errorf("sessions: failed to store turn %d: %v", s.seq, err)
	}
}

func (s *Session) saveSnapshot(ctx context.Context) {
	m := s.m
	if m.snapshots == nil {
		return
	}
	err := m.snapshots.Save(ctx, s.ID, Snapshot{
		State:     s.coord.Snapshot(),
		CallSID:   s.callSID,
		Sequence:  s.seq,
		CreatedAt: s.CreatedAt,
	})
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Warnf("sessions: failed to save snapshot: %v", err)
	}
	if m.metrics != nil {
		m.metrics.SnapshotOperations.WithLabelValues("save", status).Inc()
	}
}

func (s *Session) countLookup(d recovery.Directive) {
	if s.m.metrics == nil {
		return
	}
	var status string
	switch d {
	case recovery.DirectiveProfileFoundDefaulter, recovery.DirectiveProfileGoodStanding:
		status = string(recovery.LookupUnique)
	case recovery.DirectiveProfileNotFound:
		status = string(recovery.LookupNone)
	case recovery.DirectiveProfileAmbiguous:
		status = string(recovery.LookupMultiple)
	case recovery.DirectiveLookupFailed:
		status = "error"
	default:
		return
	}
	s.m.metrics.CustomerLookups.WithLabelValues(status).Inc()
}

func (s *Session) observe(kind string, start time.Time) {
	if s.m.metrics != nil {
		s.m.metrics.TurnDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
