package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/costs"
	"github.com/recoverydesk/voiceagent/internal/eventlog"
	"github.com/recoverydesk/voiceagent/internal/recovery"
	"github.com/recoverydesk/voiceagent/internal/sessions"
	"github.com/recoverydesk/voiceagent/internal/stt"
	"github.com/recoverydesk/voiceagent/internal/tts"
)

const (
	goodbyeTimeout = 10 * time.Second
	endTimeout     = 30 * time.Second
)

// Twilio Media Stream message types
type twilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	Media          *twilioMedia `json:"media,omitempty"`
	Start          *twilioStart `json:"start,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
}

type twilioMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // Base64 μ-law audio
}

type twilioStart struct {
	StreamSid    string            `json:"streamSid"`
	AccountSid   string            `json:"accountSid"`
	CallSid      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	CustomParams map[string]string `json:"customParameters"`
	MediaFormat  struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

// twilioOutboundMedia is the format for sending audio back to Twilio
type twilioOutboundMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"` // Base64 μ-law audio
	} `json:"media"`
}

// twilioMark sends a mark event to track when audio completes
type twilioMark struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// twilioClear sends a clear event to stop audio playback (for barge-in)
type twilioClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// callSession bridges one Twilio media stream to a recovery session.
type callSession struct {
	sessionID string
	callSid   string
	streamSid string

	conn   *websocket.Conn
	connMu sync.Mutex

	session   *sessions.Session
	sttClient stt.Client
	ttsClient tts.Client

	router   *Router
	log      logrus.FieldLogger
	detector *MachineDetector

	// Customer utterances, processed one at a time
	turns   chan string
	markSeq int

	speaking   bool // True when TTS is playing
	speakingMu sync.Mutex

	// Barge-in handling
	bargeInCh chan struct{}

	// Goodbye handling
	pendingGoodbye bool          // True when waiting for goodbye audio to finish
	goodbyeDone    chan struct{} // Signaled when goodbye mark is received
	endedBy        string

	// Usage for the cost estimate
	startedAt time.Time
	sttBytes  int64
	ttsChars  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *Router) handleMediaWS(w http.ResponseWriter, req *http.Request) {
	if r.newSTT == nil || r.tts == nil {
		r.log.Error("media_ws: voice providers not configured")
		captureError(req, errors.New("voice not configured"), "media_ws: configuration error")
		http.Error(w, "voice not configured", http.StatusServiceUnavailable)
		return
	}
	if !r.streams.Open() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.streams.Close()
		r.log.Warnf("media_ws: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &callSession{
		sessionID:   req.URL.Query().Get("session"),
		conn:        conn,
		ttsClient:   r.tts,
		router:      r,
		log:         r.log,
		turns:       make(chan string, 4),
		bargeInCh:   make(chan struct{}, 1),
		goodbyeDone: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	r.log.Info("media_ws: connection established, waiting for start message")
	go func() {
		defer r.streams.Close()
		cs.run()
	}()
}

func (s *callSession) run() {
	defer s.cleanup()

	// Unblock ReadMessage once the call is over on our side.
	go func() {
		<-s.ctx.Done()
		s.connMu.Lock()
		_ = s.conn.Close()
		s.connMu.Unlock()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("media_ws: connection closed")
			} else {
				s.log.Warnf("media_ws: read error: %v", err)
			}
			return
		}

		var twilioMsg twilioMessage
		if err := json.Unmarshal(msg, &twilioMsg); err != nil {
			s.log.Warnf("media_ws: failed to parse message: %v", err)
			continue
		}

		switch twilioMsg.Event {
		case "connected":
			s.log.Debug("media_ws: Twilio connected")

		case "start":
			if err := s.handleStart(twilioMsg.Start); err != nil {
				s.log.Errorf("media_ws: start error: %v", err)
				return
			}

		case "media":
			if err := s.handleMedia(twilioMsg.Media); err != nil {
				s.log.Warnf("media_ws: media error: %v", err)
			}

		case "stop":
			s.log.Info("media_ws: stream stopped")
			return

		case "mark":
			// Audio playback completed
			s.speakingMu.Lock()
			s.speaking = false
			if s.pendingGoodbye {
				s.pendingGoodbye = false
				select {
				case s.goodbyeDone <- struct{}{}:
				default:
				}
			}
			s.speakingMu.Unlock()
		}
	}
}

func (s *callSession) handleStart(start *twilioStart) error {
	if start == nil {
		return errors.New("nil start message")
	}
	if s.session != nil {
		return nil
	}

	s.streamSid = start.StreamSid
	s.callSid = start.CallSid
	if id, ok := start.CustomParams["sessionId"]; ok && id != "" {
		s.sessionID = id
	}
	if s.sessionID == "" {
		return errors.New("stream has no session id")
	}

	session, err := s.router.sessions.Get(s.ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.sessionID, err)
	}
	s.session = session
	s.log = s.router.log.WithFields(logrus.Fields{"session_id": s.sessionID, "call_sid": s.callSid})
	if s.callSid != "" && session.CallSID() == "" {
		session.AttachCall(s.ctx, "twilio", s.callSid)
	}
	s.startedAt = time.Now()
	s.log.Infof("media_ws: stream started - StreamSid: %s", s.streamSid)

	sttClient, err := s.router.newSTT(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to speech-to-text: %w", err)
	}
	s.sttClient = sttClient
	s.detector = NewMachineDetector(s.router.cfg.MachineDetection, nil)

	s.wg.Add(3)
	go s.processSTTResults()
	go s.processTurns()
	go s.watchLine()
	return nil
}

func (s *callSession) handleMedia(media *twilioMedia) error {
	if media == nil || s.sttClient == nil {
		return nil
	}

	audio, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}
	s.sttBytes += int64(len(audio))
	return s.sttClient.StreamAudio(s.ctx, audio)
}

func (s *callSession) processSTTResults() {
	defer s.wg.Done()
	var utterances stt.Utterances

	for {
		select {
		case <-s.ctx.Done():
			return

		case err, ok := <-s.sttClient.Errors():
			if !ok {
				return
			}
			s.log.Errorf("media_ws: STT error: %v", err)
			s.cancel()
			return

		case result, ok := <-s.sttClient.Results():
			if !ok {
				return
			}
			text, done := utterances.Add(result)
			if !done {
				continue
			}

			s.speakingMu.Lock()
			isSpeaking := s.speaking
			s.speakingMu.Unlock()
			if isSpeaking {
				s.detector.RecordBargeIn()
				s.log.Infof("media_ws: barge-in - customer said: %s", text)
				if err := s.clearAudio(); err != nil {
					s.log.Warnf("media_ws: failed to clear audio: %v", err)
				}
				select {
				case s.bargeInCh <- struct{}{}:
				default:
				}
				s.speakingMu.Lock()
				s.speaking = false
				s.speakingMu.Unlock()
			}

			s.router.eventLog.LogAsync(s.sessionID, eventlog.EventSTTResult, map[string]any{
				"text":        text,
				"confidence":  result.Confidence,
				"interrupted": isSpeaking,
			})

			s.detector.RecordSpeech(text)
			if det := s.detector.CheckText(text); det.Machine {
				s.abandon(det.Reason)
				return
			}

			select {
			case s.turns <- text:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// processTurns opens an armed call, then feeds utterances to the session
// in order and speaks the replies.
func (s *callSession) processTurns() {
	defer s.wg.Done()

	if s.session.Phase() == recovery.PhaseAwaitingCallStart {
		reply, err := s.session.StartCall(s.ctx)
		if err != nil {
			s.log.Warnf("media_ws: failed to open call: %v", err)
			s.cancel()
			return
		}
		s.speakReplies([]sessions.Reply{reply})
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.turns:
			replies, err := s.session.Customer(s.ctx, text)
			if err != nil {
				s.log.Warnf("media_ws: turn rejected: %v", err)
				if errors.Is(err, sessions.ErrEnded) {
					s.cancel()
					return
				}
				continue
			}
			s.speakReplies(replies)
		}
	}
}

// speakReplies voices the agent's lines. Coordinator lines are for the
// operator and are not spoken. The call is hung up after the closing line.
func (s *callSession) speakReplies(replies []sessions.Reply) {
	for i, rep := range replies {
		if rep.Speaker == recovery.SpeakerCoordinator || rep.Text == "" {
			continue
		}
		closing := rep.Phase == recovery.PhaseComplete && i == len(replies)-1
		if closing {
			s.speakingMu.Lock()
			s.pendingGoodbye = true
			s.speakingMu.Unlock()
		}
		if err := s.speakText(rep.Text); err != nil {
			s.log.Errorf("media_ws: speak failed: %v", err)
			s.router.eventLog.LogAsync(s.sessionID, eventlog.EventTTSError, map[string]any{
				"directive": string(rep.Directive),
				"error":     err.Error(),
			})
		} else {
			s.detector.RecordAgentTurn()
		}
		if closing {
			go s.hangUpCall()
		}
	}
}

func (s *callSession) speakText(text string) error {
	audioCh, err := s.ttsClient.SynthesizeStream(s.ctx, text)
	if err != nil {
		return err
	}
	s.ttsChars += utf8.RuneCountInString(text)

	// Drop a barge-in signal that arrived before this line started.
	select {
	case <-s.bargeInCh:
	default:
	}

	s.speakingMu.Lock()
	s.speaking = true
	s.speakingMu.Unlock()

	for chunk := range audioCh {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-s.bargeInCh:
			s.log.Info("media_ws: stopping audio send due to barge-in")
			for range audioCh {
			}
			return nil
		default:
		}

		outMsg := twilioOutboundMedia{
			Event:     "media",
			StreamSid: s.streamSid,
		}
		outMsg.Media.Payload = base64.StdEncoding.EncodeToString(chunk)

		s.connMu.Lock()
		err := s.conn.WriteJSON(outMsg)
		s.connMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
	}

	// Send mark to track completion
	s.markSeq++
	mark := twilioMark{
		Event:     "mark",
		StreamSid: s.streamSid,
	}
	mark.Mark.Name = fmt.Sprintf("reply-%d", s.markSeq)

	s.connMu.Lock()
	err = s.conn.WriteJSON(mark)
	s.connMu.Unlock()
	return err
}

func (s *callSession) clearAudio() error {
	clearMsg := twilioClear{
		Event:     "clear",
		StreamSid: s.streamSid,
	}

	s.connMu.Lock()
	err := s.conn.WriteJSON(clearMsg)
	s.connMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send clear: %w", err)
	}
	return nil
}

func (s *callSession) hangUpCall() {
	// Wait for the goodbye audio to finish playing (signaled by mark event)
	select {
	case <-s.goodbyeDone:
		s.log.Info("media_ws: goodbye audio finished, hanging up")
	case <-time.After(goodbyeTimeout):
		s.log.Warn("media_ws: timeout waiting for goodbye audio, hanging up anyway")
	case <-s.ctx.Done():
		return
	}

	s.hangUp("agent_hangup", "")
}

// watchLine ends the call when the line looks like an answering machine.
func (s *callSession) watchLine() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if det := s.detector.Check(); det.Machine {
				s.abandon(det.Reason)
				return
			}
		}
	}
}

func (s *callSession) abandon(reason string) {
	s.log.Warnf("media_ws: no person on the line (%s), hanging up", reason)
	s.hangUp("machine_detected", reason)
}

// hangUp ends the phone leg from our side. The first caller wins.
func (s *callSession) hangUp(endedBy, reason string) {
	s.speakingMu.Lock()
	if s.endedBy != "" {
		s.speakingMu.Unlock()
		return
	}
	s.endedBy = endedBy
	s.speakingMu.Unlock()

	if s.callSid != "" && s.router.telephony != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.router.telephony.HangUp(ctx, s.callSid); err != nil {
			s.log.Errorf("media_ws: failed to hang up call: %v", err)
		}
		cancel()
	}
	data := map[string]any{"by": endedBy}
	if reason != "" {
		data["reason"] = reason
	}
	s.router.eventLog.LogAsync(s.sessionID, eventlog.EventCallHangup, data)
	s.cancel()
}

// recordCosts logs the estimated spend of the call. Twilio streams 8 kHz
// mu-law, one byte per sample.
func (s *callSession) recordCosts() {
	if s.startedAt.IsZero() {
		return
	}
	c := costs.CalculateCallCosts(costs.CallMetrics{
		CallDuration:  time.Since(s.startedAt),
		STTDuration:   time.Duration(s.sttBytes) * time.Second / 8000,
		TTSCharacters: s.ttsChars,
		SMSCount:      s.session.SMSSent(),
	})
	s.router.eventLog.LogAsync(s.sessionID, eventlog.EventCallCosts, map[string]any{
		"twilio_cents": c.TwilioCostCents,
		"stt_cents":    c.STTCostCents,
		"tts_cents":    c.TTSCostCents,
		"sms_cents":    c.SMSCostCents,
		"total_cents":  c.TotalCostCents,
	})
	if m := s.router.metrics; m != nil {
		m.CallCostCents.WithLabelValues("twilio").Add(float64(c.TwilioCostCents + c.SMSCostCents))
		m.CallCostCents.WithLabelValues("deepgram").Add(float64(c.STTCostCents + c.TTSCostCents))
	}
	s.log.Infof("media_ws: estimated call cost %d cents", c.TotalCostCents)
}

func (s *callSession) cleanup() {
	s.cancel()

	if s.sttClient != nil {
		_ = s.sttClient.Close()
	}

	s.connMu.Lock()
	_ = s.conn.Close()
	s.connMu.Unlock()

	s.wg.Wait()

	if s.session != nil {
		s.recordCosts()

		s.speakingMu.Lock()
		endedBy := s.endedBy
		s.speakingMu.Unlock()
		if endedBy == "" {
			endedBy = "customer_hangup"
		}

		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		defer cancel()
		if err := s.session.End(ctx, endedBy); err != nil {
			s.log.Errorf("media_ws: failed to end session: %v", err)
		}
	}

	s.log.Info("media_ws: stream cleaned up")
}
