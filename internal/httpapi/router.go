package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/eventlog"
	"github.com/recoverydesk/voiceagent/internal/metrics"
	"github.com/recoverydesk/voiceagent/internal/recovery"
	"github.com/recoverydesk/voiceagent/internal/sessions"
	"github.com/recoverydesk/voiceagent/internal/store"
	"github.com/recoverydesk/voiceagent/internal/stt"
	"github.com/recoverydesk/voiceagent/internal/tts"
)

type RouterConfig struct {
	PublicBaseURL string

	// Twilio request signing
	TwilioAuthToken string

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Answering machine detection on outbound calls
	MachineDetection MachineDetectionConfig
}

// Telephony places and ends phone calls. *telephony.Client satisfies it.
type Telephony interface {
	Enabled() bool
	Dial(ctx context.Context, to, sessionID, streamURL, statusURL string) (string, error)
	HangUp(ctx context.Context, callSID string) error
}

// CallHistory reads persisted calls. *store.Store satisfies it.
type CallHistory interface {
	ListCalls(ctx context.Context, limit int) ([]store.Call, error)
	GetCallDetail(ctx context.Context, callID string) (store.CallDetail, error)
	ListCallEvents(ctx context.Context, callID string, limit int) ([]store.CallEvent, error)
	UpdateCallStatusByProvider(ctx context.Context, providerCallID, status string, at time.Time) error
}

// STTFactory opens one streaming transcription connection per phone call.
type STTFactory func(ctx context.Context) (stt.Client, error)

// Deps are the collaborators the router serves. Sessions and Customers
// are required; the rest switch their routes off when nil.
type Deps struct {
	Sessions  *sessions.Manager
	Customers recovery.Lookup
	History   CallHistory
	Events    *eventlog.Logger
	Metrics   *metrics.Metrics
	Telephony Telephony
	Streams   *StreamRegistry
	NewSTT    STTFactory
	TTS       tts.Client
}

type Router struct {
	cfg       RouterConfig
	log       logrus.FieldLogger
	sessions  *sessions.Manager
	customers recovery.Lookup
	history   CallHistory
	eventLog  *eventlog.Logger
	metrics   *metrics.Metrics
	telephony Telephony
	streams   *StreamRegistry
	newSTT    STTFactory
	tts       tts.Client
	mux       *http.ServeMux
}

func NewRouter(cfg RouterConfig, log logrus.FieldLogger, deps Deps) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if deps.Streams == nil {
		deps.Streams = NewStreamRegistry()
	}
	if cfg.MachineDetection.SilenceThreshold == 0 && len(cfg.MachineDetection.Phrases) == 0 {
		cfg.MachineDetection = DefaultMachineDetectionConfig()
	}
	r := &Router{
		cfg:       cfg,
		log:       log,
		sessions:  deps.Sessions,
		customers: deps.Customers,
		history:   deps.History,
		eventLog:  deps.Events,
		metrics:   deps.Metrics,
		telephony: deps.Telephony,
		streams:   deps.Streams,
		newSTT:    deps.NewSTT,
		tts:       deps.TTS,
		mux:       http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics.Handler())
	}

	// Twilio webhooks (no JWT - signature verified)
	r.mux.HandleFunc("POST /telephony/status", r.withTwilioSignature(r.handleTwilioStatus))
	r.mux.HandleFunc("GET /media", r.handleMediaWS)

	// Operator API
	r.mux.HandleFunc("POST /api/sessions", r.withAuth(r.handleCreateSession))
	r.mux.HandleFunc("GET /api/sessions/{id}", r.withAuth(r.handleGetSession))
	r.mux.HandleFunc("DELETE /api/sessions/{id}", r.withAuth(r.handleEndSession))
	r.mux.HandleFunc("POST /api/sessions/{id}/messages", r.withAuth(r.handleSessionMessage))
	r.mux.HandleFunc("POST /api/sessions/{id}/offer", r.withAuth(r.handleSessionOffer))
	r.mux.HandleFunc("POST /api/sessions/{id}/dial", r.withAuth(r.handleSessionDial))
	r.mux.HandleFunc("GET /api/customers", r.withAuth(r.handleFindCustomer))
	r.mux.HandleFunc("GET /api/customers/summary", r.withAuth(r.handleCustomerSummary))

	// Call history
	r.mux.HandleFunc("GET /api/calls", r.withAuth(r.handleListCalls))
	r.mux.HandleFunc("GET /api/calls/{id}", r.withAuth(r.handleGetCall))
	r.mux.HandleFunc("GET /api/calls/{id}/events", r.withAuth(r.handleGetCallEvents))

	// Text console
	r.mux.HandleFunc("GET /console", r.withAuth(r.handleConsoleWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz fails while draining so the load balancer stops routing
// new sessions here.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.streams.IsDraining() || (r.sessions != nil && r.sessions.IsDraining()) {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func wsURLFromPublicBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
