package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoProfile is returned when a recovery or negotiation step runs before a
// customer profile has been attached.
var ErrNoProfile = errors.New("no customer profile loaded")

// Phase is the workflow position of a call.
type Phase string

const (
	PhaseInitial           Phase = "initial"
	PhaseProfileSearch     Phase = "profile_search"
	PhaseAwaitingCallStart Phase = "awaiting_call_start"
	PhaseRecovery          Phase = "recovery"
	PhaseEscalation        Phase = "escalation"
	PhaseComplete          Phase = "complete"
)

// Directive is the symbolic response the coordinator asks the speaker to give.
type Directive string

const (
	DirectiveOperatorPrompt        Directive = "OPERATOR_PROMPT"
	DirectiveProfileFoundDefaulter Directive = "PROFILE_FOUND_DEFAULTER"
	DirectiveProfileGoodStanding   Directive = "PROFILE_GOOD_STANDING"
	DirectiveProfileNotFound       Directive = "PROFILE_NOT_FOUND"
	DirectiveProfileAmbiguous      Directive = "PROFILE_AMBIGUOUS"
	DirectiveLookupFailed          Directive = "LOOKUP_FAILED"
	DirectiveAwaitCallStart        Directive = "AWAIT_CALL_START"
	DirectiveCallAlreadyStarted    Directive = "CALL_ALREADY_STARTED"
	DirectiveCallOpening           Directive = "CALL_OPENING"
	DirectiveAckProbe              Directive = "ACK_PROBE"
	DirectiveHardshipEmpathy       Directive = "HARDSHIP_EMPATHY"
	DirectiveTimeRequestDate       Directive = "TIME_REQUEST_DATE"
	DirectiveCommitmentClose       Directive = "COMMITMENT_CLOSE"
	DirectiveEscalateHold          Directive = "ESCALATE_HOLD"
	DirectiveInfoDetails           Directive = "INFO_DETAILS"
	DirectiveRefusalOptions        Directive = "REFUSAL_OPTIONS"
	DirectiveGenericProbe          Directive = "GENERIC_PROBE"
	DirectiveSeniorManagerIntro    Directive = "SENIOR_MANAGER_INTRO"
	DirectiveNegotiationApprove    Directive = "NEGOTIATION_APPROVE"
	DirectiveNegotiationCounter    Directive = "NEGOTIATION_COUNTER"
	DirectiveNegotiationReject     Directive = "NEGOTIATION_REJECT_COUNTER"
	DirectiveMalformedAmount       Directive = "MALFORMED_AMOUNT"
	DirectiveOfferOutOfPhase       Directive = "OFFER_OUT_OF_PHASE"
	DirectiveNoProfile             Directive = "NO_PROFILE"
	DirectiveCallConcluded         Directive = "CALL_CONCLUDED"
)

// Speaker is the persona that voices a directive.
type Speaker string

const (
	SpeakerCoordinator       Speaker = "coordinator"
	SpeakerRecoveryExecutive Speaker = "recovery_executive"
	SpeakerSeniorManager     Speaker = "senior_manager"
)

// Role marks who said a Turn.
type Role string

const (
	RoleOperator Role = "operator"
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Turn is one line of the call transcript.
type Turn struct {
	Role    Role      `json:"role"`
	Speaker Speaker   `json:"speaker,omitempty"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Values carries everything a renderer needs to turn a Directive into prose.
type Values struct {
	AgentName       string
	CustomerName    string
	LoanType        string
	Status          string
	LoanAmount      int64
	EMI             int64
	DaysOverdue     int
	ProposedEMI     int64
	CounterEMI      int64
	NewTenureMonths int64
	Reasoning       string
	Candidates      []string
}

// Response is the coordinator's answer to one input.
type Response struct {
	Directive Directive
	Phase     Phase
	Speaker   Speaker
	Intent    Intent
	Values    Values
	Outcome   *Outcome
}

// Config configures a Coordinator.
type Config struct {
	Lookup     Lookup
	Classifier Classifier
	Policy     Policy
	AgentName  string
	Now        func() time.Time
}

// State is a serialisable copy of a Coordinator.
type State struct {
	Phase      Phase            `json:"phase"`
	Profile    *CustomerProfile `json:"profile,omitempty"`
	AgreedEMI  int64            `json:"agreed_emi,omitempty"`
	CounterEMI int64            `json:"counter_emi,omitempty"`
	Turns      []Turn           `json:"turns,omitempty"`
}

// Coordinator drives a single call through its phases.
// It is not safe for concurrent use; callers serialise turns per call.
type Coordinator struct {
	lookup     Lookup
	classifier Classifier
	policy     Policy
	agentName  string
	now        func() time.Time

	phase      Phase
	profile    *CustomerProfile
	agreedEMI  int64
	counterEMI int64
	turns      []Turn
}

// NewCoordinator validates cfg and returns a coordinator in PhaseInitial.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Lookup == nil {
		return nil, errors.New("recovery: lookup is required")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = KeywordClassifier{}
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = "Alice"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		lookup:     cfg.Lookup,
		classifier: cfg.Classifier,
		policy:     cfg.Policy,
		agentName:  cfg.AgentName,
		now:        cfg.Now,
		phase:      PhaseInitial,
	}, nil
}

func (c *Coordinator) Phase() Phase { return c.phase }

func (c *Coordinator) Profile() *CustomerProfile { return c.profile }

// AgreedEMI is the EMI approved in negotiation, or zero.
func (c *Coordinator) AgreedEMI() int64 { return c.agreedEMI }

// CounterEMI is the open counter-offer, or zero.
func (c *Coordinator) CounterEMI() int64 { return c.counterEMI }

func (c *Coordinator) AgentName() string { return c.agentName }

// Turns returns a copy of the transcript.
func (c *Coordinator) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Record appends a line to the transcript.
func (c *Coordinator) Record(role Role, speaker Speaker, text string) Turn {
	t := Turn{Role: role, Speaker: speaker, Text: text, At: c.now()}
	c.turns = append(c.turns, t)
	return t
}

// ProfileSummary describes the loaded customer for the operator.
func (c *Coordinator) ProfileSummary() string {
	return c.profile.Summary()
}

// CurrentTime formats the coordinator clock the way agents read it out.
func (c *Coordinator) CurrentTime() string {
	return c.now().Format("January 02, 2006 at 03:04 PM")
}

// Greeting is the operator prompt given before any customer is selected.
func (c *Coordinator) Greeting() Response {
	return c.respond(DirectiveOperatorPrompt, SpeakerCoordinator)
}

// SearchCustomer looks up a customer by name and, on a unique defaulter,
// arms the call.
func (c *Coordinator) SearchCustomer(ctx context.Context, name string) Response {
	switch c.phase {
	case PhaseRecovery, PhaseEscalation:
		return c.respond(DirectiveCallAlreadyStarted, SpeakerCoordinator)
	case PhaseComplete:
		return c.respond(DirectiveCallConcluded, SpeakerCoordinator)
	}

	c.phase = PhaseProfileSearch
	c.profile = nil

	res, err := c.lookup.FindCustomer(ctx, strings.TrimSpace(name))
	if err != nil {
		c.phase = PhaseInitial
		return c.respond(DirectiveLookupFailed, SpeakerCoordinator)
	}

	switch res.Status {
	case LookupUnique:
		if res.Profile == nil {
			c.phase = PhaseInitial
			return c.respond(DirectiveLookupFailed, SpeakerCoordinator)
		}
		p := *res.Profile
		if !p.IsDefaulter {
			c.phase = PhaseInitial
			resp := c.respond(DirectiveProfileGoodStanding, SpeakerCoordinator)
			resp.Values = profileValues(resp.Values, &p)
			return resp
		}
		c.profile = &p
		c.phase = PhaseAwaitingCallStart
		return c.respond(DirectiveProfileFoundDefaulter, SpeakerCoordinator)
	case LookupMultiple:
		c.phase = PhaseInitial
		resp := c.respond(DirectiveProfileAmbiguous, SpeakerCoordinator)
		resp.Values.Candidates = res.Candidates
		return resp
	default:
		c.phase = PhaseInitial
		resp := c.respond(DirectiveProfileNotFound, SpeakerCoordinator)
		resp.Values.Candidates = res.Candidates
		return resp
	}
}

// StartCall moves an armed call into recovery and returns the opening line.
func (c *Coordinator) StartCall() Response {
	if c.profile == nil {
		c.phase = PhaseInitial
		return c.respond(DirectiveNoProfile, SpeakerCoordinator)
	}
	if c.phase != PhaseAwaitingCallStart {
		if c.phase == PhaseComplete {
			return c.respond(DirectiveCallConcluded, SpeakerCoordinator)
		}
		return c.respond(DirectiveCallAlreadyStarted, SpeakerCoordinator)
	}
	c.phase = PhaseRecovery
	return c.respond(DirectiveCallOpening, SpeakerRecoveryExecutive)
}

// HandleUtterance processes one finalized utterance according to the
// current phase.
func (c *Coordinator) HandleUtterance(ctx context.Context, text string) Response {
	switch c.phase {
	case PhaseInitial, PhaseProfileSearch:
		return c.respond(DirectiveNoProfile, SpeakerCoordinator)
	case PhaseAwaitingCallStart:
		if IsStartCommand(text) {
			return c.StartCall()
		}
		return c.respond(DirectiveAwaitCallStart, SpeakerCoordinator)
	case PhaseRecovery:
		return c.handleRecovery(text)
	case PhaseEscalation:
		return c.handleEscalation(text)
	default:
		return c.respond(DirectiveCallConcluded, SpeakerCoordinator)
	}
}

func (c *Coordinator) handleRecovery(text string) Response {
	if c.profile == nil {
		c.phase = PhaseInitial
		return c.respond(DirectiveNoProfile, SpeakerCoordinator)
	}

	intent := c.classifier.Classify(text)
	var d Directive
	switch intent {
	case IntentAcknowledgment:
		d = DirectiveAckProbe
	case IntentHardship:
		d = DirectiveHardshipEmpathy
	case IntentTimeRequest:
		d = DirectiveTimeRequestDate
	case IntentCommitment:
		d = DirectiveCommitmentClose
		c.phase = PhaseComplete
	case IntentModificationRequest:
		d = DirectiveEscalateHold
		c.phase = PhaseEscalation
	case IntentInfoQuery:
		d = DirectiveInfoDetails
	case IntentRefusal:
		d = DirectiveRefusalOptions
	default:
		d = DirectiveGenericProbe
	}
	resp := c.respond(d, SpeakerRecoveryExecutive)
	resp.Intent = intent
	return resp
}

// handleEscalation treats a plain yes to an open counter-offer as accepting
// it. Everything else is read as a proposal.
func (c *Coordinator) handleEscalation(text string) Response {
	if c.profile == nil || c.counterEMI == 0 || MentionsAmount(text) {
		return c.ProposeEMI(text, text)
	}
	switch c.classifier.Classify(text) {
	case IntentAcknowledgment, IntentCommitment:
	default:
		return c.ProposeEMI(text, text)
	}
	out, err := c.policy.Evaluate(c.counterEMI, c.profile.EMIAmount, c.profile.LoanAmount)
	if err != nil {
		return c.respond(DirectiveMalformedAmount, SpeakerSeniorManager)
	}
	out.Reasoning = text
	return c.decide(out, text)
}

// Escalate hands the call to the senior manager, who asks for a manageable
// monthly amount.
func (c *Coordinator) Escalate() Response {
	if c.profile == nil {
		c.phase = PhaseInitial
		return c.respond(DirectiveNoProfile, SpeakerCoordinator)
	}
	switch c.phase {
	case PhaseRecovery, PhaseEscalation:
		c.phase = PhaseEscalation
		return c.respond(DirectiveSeniorManagerIntro, SpeakerSeniorManager)
	case PhaseComplete:
		return c.respond(DirectiveCallConcluded, SpeakerCoordinator)
	default:
		return c.respond(DirectiveAwaitCallStart, SpeakerCoordinator)
	}
}

// ProposeEMI runs the negotiation policy on a proposal made during
// escalation. Unparseable proposals leave the phase unchanged.
func (c *Coordinator) ProposeEMI(proposedText, reasoning string) Response {
	if c.profile == nil {
		c.phase = PhaseInitial
		return c.respond(DirectiveNoProfile, SpeakerCoordinator)
	}
	if c.phase != PhaseEscalation {
		if c.phase == PhaseComplete {
			return c.respond(DirectiveCallConcluded, SpeakerCoordinator)
		}
		return c.respond(DirectiveOfferOutOfPhase, SpeakerCoordinator)
	}

	out, err := c.policy.EvaluateOffer(c.profile, proposedText, reasoning)
	if err != nil {
		return c.respond(DirectiveMalformedAmount, SpeakerSeniorManager)
	}
	return c.decide(out, reasoning)
}

func (c *Coordinator) decide(out Outcome, reasoning string) Response {
	var d Directive
	switch out.Decision {
	case DecisionApprove:
		d = DirectiveNegotiationApprove
		c.agreedEMI = out.Offer.ProposedEMI
		c.counterEMI = 0
		c.phase = PhaseComplete
	case DecisionReject:
		d = DirectiveNegotiationReject
		c.counterEMI = out.CounterEMI
	default:
		d = DirectiveNegotiationCounter
		c.counterEMI = out.CounterEMI
	}
	resp := c.respond(d, SpeakerSeniorManager)
	resp.Outcome = &out
	resp.Values.ProposedEMI = out.Offer.ProposedEMI
	resp.Values.CounterEMI = out.CounterEMI
	resp.Values.NewTenureMonths = out.NewTenureMonths
	resp.Values.Reasoning = reasoning
	return resp
}

// Snapshot copies the coordinator's call state.
func (c *Coordinator) Snapshot() State {
	var p *CustomerProfile
	if c.profile != nil {
		cp := *c.profile
		p = &cp
	}
	return State{
		Phase:      c.phase,
		Profile:    p,
		AgreedEMI:  c.agreedEMI,
		CounterEMI: c.counterEMI,
		Turns:      c.Turns(),
	}
}

// Restore replaces the coordinator's call state with s.
func (c *Coordinator) Restore(s State) {
	c.phase = s.Phase
	if c.phase == "" {
		c.phase = PhaseInitial
	}
	c.profile = nil
	if s.Profile != nil {
		cp := *s.Profile
		c.profile = &cp
	}
	c.agreedEMI = s.AgreedEMI
	c.counterEMI = s.CounterEMI
	c.turns = append([]Turn(nil), s.Turns...)
}

func (c *Coordinator) respond(d Directive, sp Speaker) Response {
	v := Values{AgentName: c.agentName}
	v = profileValues(v, c.profile)
	return Response{Directive: d, Phase: c.phase, Speaker: sp, Values: v}
}

func profileValues(v Values, p *CustomerProfile) Values {
	if p == nil {
		return v
	}
	v.CustomerName = p.Name
	v.LoanType = p.LoanType
	v.Status = p.Status
	v.LoanAmount = p.LoanAmount
	v.EMI = p.EMIAmount
	v.DaysOverdue = p.DaysOverdue
	return v
}

var startCommands = []string{"start the call", "start call", "begin the call", "initiate the call"}

// IsStartCommand reports whether operator text asks to place the call.
func IsStartCommand(text string) bool {
	lower := strings.ToLower(text)
	for _, cmd := range startCommands {
		if strings.Contains(lower, cmd) {
			return true
		}
	}
	return false
}
