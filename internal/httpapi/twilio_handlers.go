package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/recoverydesk/voiceagent/internal/eventlog"
	"github.com/recoverydesk/voiceagent/internal/store"
)

// terminalCallStatuses end the phone leg for good.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// twilioSignature computes X-Twilio-Signature for a form POST: the full
// URL followed by every parameter name and value in name order, signed
// with HMAC-SHA1 and base64 encoded.
func twilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// withTwilioSignature rejects webhooks that were not signed with our
// auth token. Verification is off when no token is configured.
func (r *Router) withTwilioSignature(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.TwilioAuthToken == "" {
			next.ServeHTTP(w, req)
			return
		}
		if err := req.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		fullURL := strings.TrimSuffix(r.cfg.PublicBaseURL, "/") + req.URL.RequestURI()
		want := twilioSignature(r.cfg.TwilioAuthToken, fullURL, req.PostForm)
		got := req.Header.Get("X-Twilio-Signature")
		if !hmac.Equal([]byte(got), []byte(want)) {
			r.log.Warnf("twilio: rejected webhook with bad signature for %s", req.URL.Path)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, req)
	}
}

func (r *Router) handleTwilioStatus(w http.ResponseWriter, req *http.Request) {
	_ = req.ParseForm()
	callSid := req.FormValue("CallSid")
	status := req.FormValue("CallStatus") // queued/ringing/in-progress/completed/...

	if callSid == "" || status == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	log := r.log.WithField("call_sid", callSid)

	if r.history != nil {
		err := r.history.UpdateCallStatusByProvider(req.Context(), callSid, status, nowUTC())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Errorf("twilio: failed to update call status: %v", err)
		}
	}

	if terminalCallStatuses[status] && r.sessions != nil {
		if s, ok := r.sessions.FindByCallSID(callSid); ok {
			r.eventLog.LogAsync(s.ID, eventlog.EventCallHangup, map[string]any{"by": "network", "status": status})
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.End(ctx, "call_"+status); err != nil {
				log.Errorf("twilio: failed to end session %s: %v", s.ID, err)
			}
		}
	}
	log.Debugf("twilio: call status %s", status)

	w.WriteHeader(http.StatusNoContent)
}
