package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/customers"
	"github.com/recoverydesk/voiceagent/internal/recovery"
	"github.com/recoverydesk/voiceagent/internal/sessions"
	"github.com/recoverydesk/voiceagent/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type messageRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type offerRequest struct {
	ProposedEMI string `json:"proposed_emi"`
	Reasoning   string `json:"reasoning"`
}

func (r *Router) operatorLog(req *http.Request) logrus.FieldLogger {
	log := r.log
	if op := getOperator(req.Context()); op != nil {
		log = log.WithField("operator", op.Name)
	}
	if id := req.PathValue("id"); id != "" {
		log = log.WithField("session_id", id)
	}
	return log
}

// sessionFor resolves the {id} path value, writing the error response
// when the session cannot be served.
func (r *Router) sessionFor(w http.ResponseWriter, req *http.Request) (*sessions.Session, bool) {
	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "missing id"}`, http.StatusBadRequest)
		return nil, false
	}
	s, err := r.sessions.Get(req.Context(), id)
	if err != nil {
		writeSessionError(w, err)
		if !errors.Is(err, sessions.ErrNotFound) && !errors.Is(err, sessions.ErrDraining) {
			r.operatorLog(req).Errorf("sessions api: failed to load session: %v", err)
			captureError(req, err, "sessions api: load session")
		}
		return nil, false
	}
	return s, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
	case errors.Is(err, sessions.ErrEnded):
		http.Error(w, `{"error": "session has ended"}`, http.StatusGone)
	case errors.Is(err, sessions.ErrDraining):
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
	default:
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
	}
}

// defaultRole routes untagged console input: the operator drives the
// session until the call starts, the customer speaks after that.
func defaultRole(phase recovery.Phase) recovery.Role {
	switch phase {
	case recovery.PhaseInitial, recovery.PhaseProfileSearch, recovery.PhaseAwaitingCallStart:
		return recovery.RoleOperator
	default:
		return recovery.RoleCustomer
	}
}

// dispatch sends one line of input to the session as the given role.
func dispatch(ctx context.Context, s *sessions.Session, role, text string) ([]sessions.Reply, error) {
	r := recovery.Role(strings.ToLower(strings.TrimSpace(role)))
	if r == "" {
		r = defaultRole(s.Phase())
	}
	switch r {
	case recovery.RoleOperator:
		return s.Operator(ctx, text)
	case recovery.RoleCustomer:
		return s.Customer(ctx, text)
	default:
		return nil, errUnknownRole
	}
}

var errUnknownRole = errors.New(`role must be "operator" or "customer"`)

func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	s, reply, err := r.sessions.Create(req.Context())
	if err != nil {
		writeSessionError(w, err)
		if !errors.Is(err, sessions.ErrDraining) {
			r.operatorLog(req).Errorf("sessions api: create failed: %v", err)
			captureError(req, err, "sessions api: create session")
		}
		return
	}
	r.operatorLog(req).WithField("session_id", s.ID).Info("sessions api: session created")
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    s.ID,
		"reply": reply,
	})
}

func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	s, ok := r.sessionFor(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (r *Router) handleSessionMessage(w http.ResponseWriter, req *http.Request) {
	var body messageRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		http.Error(w, `{"error": "text is required"}`, http.StatusBadRequest)
		return
	}

	s, ok := r.sessionFor(w, req)
	if !ok {
		return
	}
	replies, err := dispatch(req.Context(), s, body.Role, body.Text)
	if errors.Is(err, errUnknownRole) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":   s.Phase(),
		"replies": replies,
	})
}

func (r *Router) handleSessionOffer(w http.ResponseWriter, req *http.Request) {
	var body offerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	s, ok := r.sessionFor(w, req)
	if !ok {
		return
	}
	reply, err := s.Offer(req.Context(), body.ProposedEMI, body.Reasoning)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (r *Router) handleSessionDial(w http.ResponseWriter, req *http.Request) {
	if r.telephony == nil || !r.telephony.Enabled() {
		http.Error(w, `{"error": "telephony not configured"}`, http.StatusServiceUnavailable)
		return
	}
	s, ok := r.sessionFor(w, req)
	if !ok {
		return
	}
	if s.Phase() != recovery.PhaseAwaitingCallStart {
		http.Error(w, `{"error": "no defaulting customer loaded"}`, http.StatusConflict)
		return
	}
	if sid := s.CallSID(); sid != "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "call already placed", "call_sid": sid})
		return
	}
	profile := s.Profile()
	if profile == nil || strings.TrimSpace(profile.Phone) == "" {
		http.Error(w, `{"error": "customer has no phone number"}`, http.StatusUnprocessableEntity)
		return
	}

	streamURL := wsURLFromPublicBase(r.cfg.PublicBaseURL) + "/media"
	statusURL := strings.TrimSuffix(r.cfg.PublicBaseURL, "/") + "/telephony/status"
	callSID, err := r.telephony.Dial(req.Context(), profile.Phone, s.ID, streamURL, statusURL)
	if err != nil {
		r.operatorLog(req).Errorf("sessions api: dial failed: %v", err)
		captureError(req, err, "sessions api: dial")
		http.Error(w, `{"error": "failed to place call"}`, http.StatusBadGateway)
		return
	}
	s.AttachCall(req.Context(), "twilio", callSID)
	r.operatorLog(req).WithField("call_sid", callSID).Info("sessions api: call placed")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": s.ID,
		"call_sid":   callSID,
	})
}

func (r *Router) handleEndSession(w http.ResponseWriter, req *http.Request) {
	s, ok := r.sessionFor(w, req)
	if !ok {
		return
	}
	if sid := s.CallSID(); sid != "" && r.telephony != nil {
		if err := r.telephony.HangUp(req.Context(), sid); err != nil {
			r.operatorLog(req).Warnf("sessions api: hang up %s failed: %v", sid, err)
		}
	}
	state := s.State()
	if err := s.End(req.Context(), "operator"); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (r *Router) handleFindCustomer(w http.ResponseWriter, req *http.Request) {
	res, err := r.customers.FindCustomer(req.Context(), req.URL.Query().Get("name"))
	if err != nil {
		r.log.Errorf("customers api: lookup failed: %v", err)
		http.Error(w, `{"error": "lookup failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// customerSummarizer is implemented by *customers.Directory.
type customerSummarizer interface {
	Summary() customers.Summary
}

func (r *Router) handleCustomerSummary(w http.ResponseWriter, _ *http.Request) {
	sum, ok := r.customers.(customerSummarizer)
	if !ok {
		http.Error(w, `{"error": "customer summary not available"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sum.Summary())
}

func listLimit(req *http.Request) int {
	n, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (r *Router) handleListCalls(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		http.Error(w, `{"error": "call history not configured"}`, http.StatusServiceUnavailable)
		return
	}
	calls, err := r.history.ListCalls(req.Context(), listLimit(req))
	if err != nil {
		r.log.Errorf("calls api: list failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if calls == nil {
		calls = []store.Call{}
	}
	writeJSON(w, http.StatusOK, calls)
}

func (r *Router) handleGetCall(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		http.Error(w, `{"error": "call history not configured"}`, http.StatusServiceUnavailable)
		return
	}
	detail, err := r.history.GetCallDetail(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		r.log.Errorf("calls api: detail failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (r *Router) handleGetCallEvents(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		http.Error(w, `{"error": "call history not configured"}`, http.StatusServiceUnavailable)
		return
	}
	events, err := r.history.ListCallEvents(req.Context(), req.PathValue("id"), listLimit(req))
	if err != nil {
		r.log.Errorf("calls api: events failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.CallEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
