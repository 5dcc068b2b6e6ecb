package llm

import "context"

// CallSummary is the post-call analysis stored with a finished recovery call.
type CallSummary struct {
	Outcome           string `json:"outcome"`            // committed, renegotiated, escalated, refused, unresolved
	CustomerSentiment string `json:"customer_sentiment"` // cooperative, distressed, hostile, neutral
	HardshipReason    string `json:"hardship_reason"`
	PromisedDate      string `json:"promised_date"`
	FollowUp          string `json:"follow_up"`
	Notes             string `json:"notes"`
}

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Client defines the interface for LLM providers.
type Client interface {
	// Complete returns a single completion for the conversation.
	Complete(ctx context.Context, system string, messages []Message) (string, error)

	// ExtractCustomerName reduces an operator instruction such as
	// "please look up sneha reddy" to the customer name. It returns "" when
	// the instruction carries no name.
	ExtractCustomerName(ctx context.Context, instruction string) (string, error)

	// SummarizeCall analyzes a finished call transcript.
	SummarizeCall(ctx context.Context, transcript []Message) (*CallSummary, error)
}
