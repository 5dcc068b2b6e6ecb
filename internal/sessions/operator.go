package sessions

import (
	"context"
	"strings"

	"github.com/recoverydesk/voiceagent/internal/eventlog"
)

var operatorFillers = []string{
	"please", "can you", "could you", "i want you to", "i'd like you to",
	"look up", "lookup", "search for", "search", "find", "process",
	"customer named", "customer", "the profile of", "profile of", "profile",
	"call", "for", "named",
}

var escalateCommands = []string{"escalate", "senior manager", "transfer to manager"}

// heuristicName strips command phrasing from an operator instruction,
// leaving what should be the customer name in the operator's casing.
func heuristicName(instruction string) string {
	words := strings.Fields(strings.Trim(strings.TrimSpace(instruction), ".!?"))
	for changed := true; changed && len(words) > 0; {
		changed = false
		for _, f := range operatorFillers {
			fw := strings.Fields(f)
			if len(fw) > len(words) {
				continue
			}
			if strings.EqualFold(strings.Join(words[:len(fw)], " "), f) {
				words = words[len(fw):]
				changed = true
				break
			}
		}
	}
	return strings.Join(words, " ")
}

func isEscalateCommand(text string) bool {
	lower := strings.ToLower(text)
	for _, c := range escalateCommands {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// extractName asks the LLM for the customer name and falls back to the
// heuristic when the LLM is absent or fails.
func (m *Manager) extractName(ctx context.Context, sessionID, instruction string) string {
	if m.llm != nil {
		name, err := m.llm.ExtractCustomerName(ctx, instruction)
		if err == nil {
			return name
		}
		m.log.WithField("session_id", sessionID).Warnf("sessions: name extraction failed, using heuristic: %v", err)
		m.events.LogAsync(sessionID, eventlog.EventLLMError, map[string]any{"op": "extract_name", "error": err.Error()})
	}
	return heuristicName(instruction)
}
