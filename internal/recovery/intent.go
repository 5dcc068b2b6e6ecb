// Package recovery holds the call-scoped workflow of a loan-recovery call:
// intent classification of customer utterances, the phase state machine and
// the EMI negotiation policy.
package recovery

import "strings"

// Intent is the bucket a customer utterance falls into during the recovery phase.
type Intent int

const (
	IntentUnrecognized Intent = iota
	IntentAcknowledgment
	IntentHardship
	IntentTimeRequest
	IntentCommitment
	IntentModificationRequest
	IntentInfoQuery
	IntentRefusal
)

var intentNames = map[Intent]string{
	IntentUnrecognized:        "unrecognized",
	IntentAcknowledgment:      "acknowledgment",
	IntentHardship:            "hardship",
	IntentTimeRequest:         "time_request",
	IntentCommitment:          "commitment",
	IntentModificationRequest: "modification_request",
	IntentInfoQuery:           "info_query",
	IntentRefusal:             "refusal",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "unknown"
}

// Classifier maps a customer utterance to an Intent.
type Classifier interface {
	Classify(utterance string) Intent
}

// keywordBucket is one entry of the ordered keyword table.
type keywordBucket struct {
	intent   Intent
	keywords []string
}

// keywordBuckets is checked top to bottom and the first bucket with a matching
// keyword wins. ModificationRequest must stay ahead of Refusal so that
// "can't afford" is escalated instead of treated as a refusal.
var keywordBuckets = []keywordBucket{
	{IntentAcknowledgment, []string{"yes", "okay", "sure", "let's discuss", "can talk"}},
	{IntentHardship, []string{"lost job", "unemployed", "no income", "business loss", "difficult", "crisis"}},
	{IntentTimeRequest, []string{"need time", "give me time", "can't pay now", "next month", "later"}},
	{IntentCommitment, []string{"will pay", "can pay", "pay by", "commit", "promise"}},
	{IntentModificationRequest, []string{"reduce", "lower", "less", "can't afford", "too much", "restructure", "modify", "change plan"}},
	{IntentInfoQuery, []string{"how much", "what amount", "total", "emi", "payment"}},
	{IntentRefusal, []string{"can't", "won't", "unable", "impossible", "no way"}},
}

// KeywordClassifier is the substring heuristic used on live calls.
// Matching is plain substring containment on the lower-cased text, so
// "yesterday" matches "yes". That is accepted behaviour.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(utterance string) Intent {
	return Classify(utterance)
}

// Classify returns the first keyword bucket that matches utterance, or
// IntentUnrecognized when none does.
func Classify(utterance string) Intent {
	lower := normalizeApostrophes(strings.ToLower(utterance))
	for _, b := range keywordBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return b.intent
			}
		}
	}
	return IntentUnrecognized
}

// normalizeApostrophes folds typographic apostrophes that STT engines emit
// into ASCII so "can’t" matches "can't".
func normalizeApostrophes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'").Replace(s)
}
