package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/recoverydesk/voiceagent/internal/recovery"
	"github.com/recoverydesk/voiceagent/internal/sessions"
	"github.com/recoverydesk/voiceagent/internal/store"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

type stubLookup struct {
	profiles []recovery.CustomerProfile
}

func (s *stubLookup) FindCustomer(_ context.Context, name string) (recovery.LookupResult, error) {
	var matches []recovery.CustomerProfile
	for _, p := range s.profiles {
		if name != "" && strings.Contains(strings.ToLower(p.Name), strings.ToLower(name)) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return recovery.LookupResult{Status: recovery.LookupNone}, nil
	case 1:
		return recovery.LookupResult{Status: recovery.LookupUnique, Profile: &matches[0]}, nil
	default:
		names := make([]string, 0, len(matches))
		for _, p := range matches {
			names = append(names, p.Name)
		}
		return recovery.LookupResult{Status: recovery.LookupMultiple, Candidates: names}, nil
	}
}

func testLookup() *stubLookup {
	return &stubLookup{profiles: []recovery.CustomerProfile{
		{Name: "Sneha Reddy", Phone: "+919800000001", LoanType: "Personal Loan", LoanAmount: 800000, EMIAmount: 15000, TenureMonths: 60, DaysOverdue: 45, Status: "Defaulter", IsDefaulter: true},
		{Name: "Rahul Sharma", Phone: "+919800000002", LoanType: "Home Loan", LoanAmount: 2500000, EMIAmount: 28000, Status: "Active"},
		{Name: "Priya Nair", LoanType: "Car Loan", LoanAmount: 600000, EMIAmount: 12000, DaysOverdue: 30, Status: "Defaulter", IsDefaulter: true},
	}}
}

type fakeTelephony struct {
	mu      sync.Mutex
	enabled bool
	dialed  []string
	hungUp  []string
	urls    []string
	sid     string
	err     error
}

func (f *fakeTelephony) Enabled() bool { return f.enabled }

func (f *fakeTelephony) Dial(_ context.Context, to, sessionID, streamURL, statusURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.dialed = append(f.dialed, to)
	f.urls = append(f.urls, streamURL, statusURL)
	return f.sid, nil
}

func (f *fakeTelephony) HangUp(_ context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hungUp = append(f.hungUp, callSID)
	return nil
}

func (f *fakeTelephony) hangUps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hungUp...)
}

type fakeHistory struct {
	mu       sync.Mutex
	calls    []store.Call
	detail   map[string]store.CallDetail
	events   []store.CallEvent
	statuses []string
}

func (f *fakeHistory) ListCalls(_ context.Context, limit int) ([]store.Call, error) {
	if len(f.calls) > limit {
		return f.calls[:limit], nil
	}
	return f.calls, nil
}

func (f *fakeHistory) GetCallDetail(_ context.Context, callID string) (store.CallDetail, error) {
	d, ok := f.detail[callID]
	if !ok {
		return store.CallDetail{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeHistory) ListCallEvents(_ context.Context, _ string, _ int) ([]store.CallEvent, error) {
	return f.events, nil
}

func (f *fakeHistory) UpdateCallStatusByProvider(_ context.Context, providerCallID, status string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, providerCallID+"="+status)
	return nil
}

func newTestManager(t *testing.T) *sessions.Manager {
	t.Helper()
	log, _ := test.NewNullLogger()
	m, err := sessions.NewManager(sessions.Config{
		Lookup:    testLookup(),
		AgentName: "Alice",
		Log:       log,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func newTestRouter(t *testing.T, cfg RouterConfig, deps Deps) http.Handler {
	t.Helper()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	if deps.Sessions == nil {
		deps.Sessions = newTestManager(t)
	}
	if deps.Customers == nil {
		deps.Customers = testLookup()
	}
	log, _ := test.NewNullLogger()
	return NewRouter(cfg, log, deps)
}

func testToken(t *testing.T) string {
	t.Helper()
	tok, _, err := IssueOperatorToken(testSecret, "asha", time.Hour)
	if err != nil {
		t.Fatalf("IssueOperatorToken: %v", err)
	}
	return tok
}
