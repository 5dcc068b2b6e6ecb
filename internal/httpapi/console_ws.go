package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/recovery"
	"github.com/recoverydesk/voiceagent/internal/sessions"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const consoleWriteTimeout = 10 * time.Second

// consoleMessage is one line typed into the console.
type consoleMessage struct {
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
}

// consoleReply is what the console renders for each response.
type consoleReply struct {
	SessionID string             `json:"session_id"`
	Speaker   recovery.Speaker   `json:"speaker,omitempty"`
	Text      string             `json:"text,omitempty"`
	Directive recovery.Directive `json:"directive,omitempty"`
	Phase     recovery.Phase     `json:"phase,omitempty"`
	Intent    string             `json:"intent,omitempty"`
	Outcome   *recovery.Outcome  `json:"outcome,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type consoleConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	session *sessions.Session
	log     logrus.FieldLogger
}

func (c *consoleConn) send(v consoleReply) error {
	v.SessionID = c.session.ID
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(consoleWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *consoleConn) sendReplies(replies []sessions.Reply) error {
	for _, rep := range replies {
		if err := c.send(consoleReply{
			Speaker:   rep.Speaker,
			Text:      rep.Text,
			Directive: rep.Directive,
			Phase:     rep.Phase,
			Intent:    rep.Intent,
			Outcome:   rep.Outcome,
		}); err != nil {
			return err
		}
	}
	return nil
}

// handleConsoleWS serves the text console. A session query parameter
// reattaches to an existing session; otherwise a new one is opened.
func (r *Router) handleConsoleWS(w http.ResponseWriter, req *http.Request) {
	if !r.streams.Open() {
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
		return
	}
	defer r.streams.Close()

	ctx := req.Context()
	var (
		s       *sessions.Session
		opening []sessions.Reply
		err     error
	)
	if id := req.URL.Query().Get("session"); id != "" {
		s, err = r.sessions.Get(ctx, id)
	} else {
		var rep sessions.Reply
		s, rep, err = r.sessions.Create(ctx)
		opening = []sessions.Reply{rep}
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warnf("console_ws: upgrade failed: %v", err)
		return
	}

	log := r.log.WithField("session_id", s.ID)
	if op := getOperator(ctx); op != nil {
		log = log.WithField("operator", op.Name)
	}
	c := &consoleConn{conn: conn, session: s, log: log}
	log.Info("console_ws: console attached")

	defer func() {
		_ = conn.Close()
		// A live phone leg keeps the session; the media stream ends it.
		if s.CallSID() == "" {
			endCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.End(endCtx, "console_closed"); err != nil {
				log.Warnf("console_ws: failed to end session: %v", err)
			}
		}
		log.Info("console_ws: console detached")
	}()

	if len(opening) == 0 {
		st := s.State()
		opening = []sessions.Reply{{Phase: st.Phase, Speaker: recovery.SpeakerCoordinator, Text: st.Summary}}
	}
	if err := c.sendReplies(opening); err != nil {
		return
	}

	for {
		var msg consoleMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("console_ws: read ended: %v", err)
			}
			return
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}

		replies, err := dispatch(ctx, s, msg.Role, msg.Text)
		if err != nil {
			_ = c.send(consoleReply{Error: err.Error(), Phase: s.Phase()})
			if errors.Is(err, sessions.ErrEnded) {
				return
			}
			continue
		}
		if err := c.sendReplies(replies); err != nil {
			log.Warnf("console_ws: write failed: %v", err)
			return
		}
	}
}
