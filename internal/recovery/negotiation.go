package recovery

import (
	"errors"
	"fmt"
)

// ErrInvalidTerms is returned when a profile carries no usable current EMI.
var ErrInvalidTerms = errors.New("invalid loan terms")

// Decision is the senior manager's answer to a proposed EMI.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionCounter Decision = "counter"
	DecisionReject  Decision = "reject"
)

// Policy holds the negotiation thresholds as whole percentages of the
// current EMI.
//
//	proposed <  RejectBelowPercent           -> reject, counter at RejectCounterPercent
//	proposed >= ApproveAtPercent             -> approve
//	otherwise                                -> counter at SoftCounterPercent
type Policy struct {
	RejectBelowPercent   int64 `yaml:"reject_below_percent"`
	ApproveAtPercent     int64 `yaml:"approve_at_percent"`
	RejectCounterPercent int64 `yaml:"reject_counter_percent"`
	SoftCounterPercent   int64 `yaml:"soft_counter_percent"`
}

// DefaultPolicy returns the 50/60 thresholds with 60/70 counter-offers.
func DefaultPolicy() Policy {
	return Policy{
		RejectBelowPercent:   50,
		ApproveAtPercent:     60,
		RejectCounterPercent: 60,
		SoftCounterPercent:   70,
	}
}

// Validate reports whether the thresholds are ordered and in range.
func (p Policy) Validate() error {
	if p.RejectBelowPercent <= 0 || p.RejectBelowPercent > 100 {
		return fmt.Errorf("policy: reject_below_percent must be in (0,100], got %d", p.RejectBelowPercent)
	}
	if p.ApproveAtPercent < p.RejectBelowPercent || p.ApproveAtPercent > 100 {
		return fmt.Errorf("policy: approve_at_percent must be in [%d,100], got %d", p.RejectBelowPercent, p.ApproveAtPercent)
	}
	if p.RejectCounterPercent <= 0 || p.RejectCounterPercent > 100 {
		return fmt.Errorf("policy: reject_counter_percent must be in (0,100], got %d", p.RejectCounterPercent)
	}
	if p.SoftCounterPercent <= 0 || p.SoftCounterPercent > 100 {
		return fmt.Errorf("policy: soft_counter_percent must be in (0,100], got %d", p.SoftCounterPercent)
	}
	return nil
}

// Offer is a proposed EMI next to the current terms. It is derived for each
// evaluation and never stored.
type Offer struct {
	ProposedEMI      int64   `json:"proposed_emi"`
	CurrentEMI       int64   `json:"current_emi"`
	LoanAmount       int64   `json:"loan_amount"`
	ReductionPercent float64 `json:"reduction_percent"`
}

// Outcome is the result of evaluating an Offer.
type Outcome struct {
	Decision        Decision `json:"decision"`
	Offer           Offer    `json:"offer"`
	CounterEMI      int64    `json:"counter_emi,omitempty"`
	NewTenureMonths int64    `json:"new_tenure_months,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
}

// Evaluate decides on a proposed EMI. Comparisons are done on integers
// (proposed*100 against current*percent) so the boundaries are exact.
func (p Policy) Evaluate(proposed, current, loanAmount int64) (Outcome, error) {
	if proposed <= 0 {
		return Outcome{}, fmt.Errorf("%w: proposed EMI must be positive", ErrMalformedAmount)
	}
	if current <= 0 || current > MaxAmount {
		return Outcome{}, fmt.Errorf("%w: current EMI is %d", ErrInvalidTerms, current)
	}

	out := Outcome{
		Offer: Offer{
			ProposedEMI:      proposed,
			CurrentEMI:       current,
			LoanAmount:       loanAmount,
			ReductionPercent: float64(current-proposed) / float64(current) * 100,
		},
	}

	// Thresholds never exceed 100%, so an offer of the full EMI or more
	// approves without touching the products below.
	switch {
	case proposed >= current:
		out.Decision = DecisionApprove
		out.NewTenureMonths = loanAmount / proposed
	case proposed*100 < current*p.RejectBelowPercent:
		out.Decision = DecisionReject
		out.CounterEMI = current * p.RejectCounterPercent / 100
	case proposed*100 >= current*p.ApproveAtPercent:
		out.Decision = DecisionApprove
		out.NewTenureMonths = loanAmount / proposed
	default:
		out.Decision = DecisionCounter
		out.CounterEMI = current * p.SoftCounterPercent / 100
	}
	return out, nil
}

// EvaluateOffer reads the proposal in proposedText and evaluates it against
// profile. Restatements of the profile's current EMI or loan amount are not
// taken as the proposal.
func (p Policy) EvaluateOffer(profile *CustomerProfile, proposedText, reasoning string) (Outcome, error) {
	if profile == nil {
		return Outcome{}, ErrNoProfile
	}
	proposed, err := ParseAmount(proposedText)
	if err != nil {
		proposed, err = ProposedAmount(proposedText, profile.EMIAmount, profile.LoanAmount)
		if err != nil {
			return Outcome{}, err
		}
	}
	out, err := p.Evaluate(proposed, profile.EMIAmount, profile.LoanAmount)
	if err != nil {
		return Outcome{}, err
	}
	out.Reasoning = reasoning
	return out, nil
}

// EvaluateOffer evaluates a proposal under DefaultPolicy.
func EvaluateOffer(profile *CustomerProfile, proposedText, reasoning string) (Outcome, error) {
	return DefaultPolicy().EvaluateOffer(profile, proposedText, reasoning)
}
