// Package notifications tells the collections team how recovery calls end.
package notifications

import (
	"context"
	"fmt"

	"github.com/recoverydesk/voiceagent/internal/recovery"
)

// OutcomeNotice describes one ended session.
type OutcomeNotice struct {
	SessionID    string
	CustomerName string
	Result       string // see outcomes.Result*
	CurrentEMI   int64
	AgreedEMI    *int64
	Summary      string
}

func (n OutcomeNotice) headline() string {
	switch n.Result {
	case "renegotiated":
		if n.AgreedEMI != nil {
			return fmt.Sprintf("%s: EMI renegotiated to %s", n.CustomerName, recovery.FormatRupees(*n.AgreedEMI))
		}
		return fmt.Sprintf("%s: EMI renegotiated", n.CustomerName)
	case "committed":
		return fmt.Sprintf("%s committed to pay %s", n.CustomerName, recovery.FormatRupees(n.CurrentEMI))
	default:
		return fmt.Sprintf("%s: call ended without agreement", n.CustomerName)
	}
}

type outcomeNotifier interface {
	NotifyOutcome(ctx context.Context, n OutcomeNotice)
}

// Fanout sends each notice to every configured notifier.
type Fanout []outcomeNotifier

func (f Fanout) NotifyOutcome(ctx context.Context, n OutcomeNotice) {
	for _, t := range f {
		t.NotifyOutcome(ctx, n)
	}
}
