package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/recoverydesk/voiceagent/internal/metrics"
	"github.com/recoverydesk/voiceagent/internal/recovery"
	"github.com/recoverydesk/voiceagent/internal/sessions"
	"github.com/recoverydesk/voiceagent/internal/stt"
)

type fakeSTT struct {
	results   chan stt.TranscriptResult
	errs      chan error
	closeOnce sync.Once
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{results: make(chan stt.TranscriptResult, 8), errs: make(chan error, 1)}
}

func (f *fakeSTT) StreamAudio(context.Context, []byte) error { return nil }
func (f *fakeSTT) Results() <-chan stt.TranscriptResult      { return f.results }
func (f *fakeSTT) Errors() <-chan error                      { return f.errs }

func (f *fakeSTT) Close() error {
	f.closeOnce.Do(func() {
		close(f.results)
		close(f.errs)
	})
	return nil
}

func (f *fakeSTT) say(text string) {
	f.results <- stt.TranscriptResult{Text: text, SegmentFinal: true, SpeechFinal: true, Confidence: 0.9}
}

type fakeTTS struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return []byte("audio"), nil
}

func (f *fakeTTS) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	audio, err := f.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, 1)
	ch <- audio
	close(ch)
	return ch, nil
}

func (f *fakeTTS) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type mediaHarness struct {
	t       *testing.T
	manager *sessions.Manager
	session *sessions.Session
	stt     *fakeSTT
	tts     *fakeTTS
	tel     *fakeTelephony
	metrics *metrics.Metrics
	conn    *websocket.Conn
	srv     *httptest.Server
}

// newMediaHarness arms a session for Sneha Reddy and connects a fake
// Twilio media stream to it.
func newMediaHarness(t *testing.T) *mediaHarness {
	t.Helper()
	h := &mediaHarness{
		t:       t,
		manager: newTestManager(t),
		stt:     newFakeSTT(),
		tts:     &fakeTTS{},
		tel:     &fakeTelephony{enabled: true},
		metrics: metrics.NewMetrics(),
	}
	ctx := context.Background()
	s, _, err := h.manager.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Operator(ctx, "Sneha Reddy"); err != nil {
		t.Fatalf("Operator: %v", err)
	}
	h.session = s

	h.srv = httptest.NewServer(newTestRouter(t, RouterConfig{}, Deps{
		Sessions:  h.manager,
		Telephony: h.tel,
		NewSTT:    func(context.Context) (stt.Client, error) { return h.stt, nil },
		TTS:       h.tts,
		Metrics:   h.metrics,
	}))
	t.Cleanup(h.srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h.srv, "/media?session="+s.ID), nil)
	if err != nil {
		t.Fatalf("dial media: %v", err)
	}
	h.conn = conn
	t.Cleanup(func() { _ = conn.Close() })

	h.send(map[string]any{"event": "connected"})
	h.send(map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA9",
			"customParameters": map[string]string{"sessionId": s.ID},
		},
	})
	return h
}

func (h *mediaHarness) send(v any) {
	h.t.Helper()
	if err := h.conn.WriteJSON(v); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

// playLine reads outbound audio up to the next mark and acknowledges it
// the way Twilio does once playback finishes.
func (h *mediaHarness) playLine() []byte {
	h.t.Helper()
	var audio []byte
	for {
		_ = h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			h.t.Fatalf("read media: %v", err)
		}
		var msg struct {
			Event     string `json:"event"`
			StreamSid string `json:"streamSid"`
			Media     struct {
				Payload string `json:"payload"`
			} `json:"media"`
			Mark struct {
				Name string `json:"name"`
			} `json:"mark"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			h.t.Fatalf("decode %s: %v", data, err)
		}
		if msg.StreamSid != "MZ1" {
			h.t.Errorf("streamSid = %q, want MZ1", msg.StreamSid)
		}
		switch msg.Event {
		case "media":
			chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				h.t.Fatalf("payload: %v", err)
			}
			audio = append(audio, chunk...)
		case "mark":
			h.send(map[string]any{"event": "mark", "streamSid": "MZ1", "mark": map[string]string{"name": msg.Mark.Name}})
			return audio
		}
	}
}

func TestMediaStreamCommitmentCall(t *testing.T) {
	h := newMediaHarness(t)

	if got := h.playLine(); string(got) != "audio" {
		t.Errorf("opening audio = %q", got)
	}
	waitFor(t, "call to start", func() bool { return h.session.Phase() == recovery.PhaseRecovery })
	if h.session.CallSID() != "CA9" {
		t.Errorf("call sid = %q, want CA9", h.session.CallSID())
	}

	h.stt.say("I will pay by Friday")
	h.playLine()

	waitFor(t, "agent hang up", func() bool {
		got := h.tel.hangUps()
		return len(got) == 1 && got[0] == "CA9"
	})
	waitFor(t, "session to end", func() bool { return h.manager.ActiveCount() == 0 })

	spoken := h.tts.spoken()
	if len(spoken) != 2 {
		t.Fatalf("spoken = %q, want opening and close", spoken)
	}
	// One started minute of outbound voice.
	if got := testutil.ToFloat64(h.metrics.CallCostCents.WithLabelValues("twilio")); got != 1 {
		t.Errorf("twilio cost = %v cents, want 1", got)
	}
}

func TestMediaStreamHangsUpOnVoicemail(t *testing.T) {
	h := newMediaHarness(t)
	h.playLine()

	h.stt.say("The person you are calling is not available, please leave a message after the tone")

	waitFor(t, "hang up", func() bool { return len(h.tel.hangUps()) == 1 })
	waitFor(t, "session to end", func() bool { return h.manager.ActiveCount() == 0 })
	if len(h.tts.spoken()) != 1 {
		t.Errorf("spoken = %q, want only the opening line", h.tts.spoken())
	}
}

func TestMediaStreamCustomerHangup(t *testing.T) {
	h := newMediaHarness(t)
	h.playLine()

	h.send(map[string]any{"event": "stop", "streamSid": "MZ1"})
	waitFor(t, "session to end", func() bool { return h.manager.ActiveCount() == 0 })
	if len(h.tel.hangUps()) != 0 {
		t.Errorf("hang ups = %v, want none when the customer hangs up", h.tel.hangUps())
	}
}

func TestMediaStreamRequiresVoiceProviders(t *testing.T) {
	handler := newTestRouter(t, RouterConfig{}, Deps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestTwilioOutboundStructures(t *testing.T) {
	out := twilioOutboundMedia{Event: "media", StreamSid: "MZ1"}
	out.Media.Payload = "AAA="
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"event":"media","streamSid":"MZ1","media":{"payload":"AAA="}}` {
		t.Errorf("media = %s", data)
	}

	clr, _ := json.Marshal(twilioClear{Event: "clear", StreamSid: "MZ1"})
	if string(clr) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Errorf("clear = %s", clr)
	}
}
