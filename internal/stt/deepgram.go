package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	deepgramWSURL     = "wss://api.deepgram.com/v1/listen"
	keepAliveInterval = 8 * time.Second
)

// DeepgramClient implements the Client interface using Deepgram's streaming API.
type DeepgramClient struct {
	conn      *websocket.Conn
	log       logrus.FieldLogger
	results   chan TranscriptResult
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup // Wait for readLoop and keepAlive to finish
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey         string
	URL            string // defaults to the hosted listen endpoint
	Language       string // e.g., "en-IN"
	Model          string // e.g., "nova-2"
	SampleRate     int    // e.g., 8000 for Twilio μ-law
	Encoding       string // e.g., "mulaw" for Twilio
	Channels       int    // e.g., 1 for mono
	Punctuate      bool
	SmartFormat    bool // digits for spoken numbers and currency
	Endpointing    int // milliseconds of silence for endpointing, 0 for default
	UtteranceEndMs int // hard timeout after last speech, regardless of noise (0 for default)
	Logger         logrus.FieldLogger
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

func listenURL(cfg DeepgramConfig) string {
	base := cfg.URL
	if base == "" {
		base = deepgramWSURL
	}
	q := url.Values{}
	q.Set("model", cfg.Model)
	q.Set("language", cfg.Language)
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	if cfg.SmartFormat {
		q.Set("smart_format", "true")
		q.Set("numerals", "true")
	}
	q.Set("interim_results", "true")
	if cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.Endpointing))
	}
	if cfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMs))
	}
	return base + "?" + q.Encode()
}

// NewDeepgramClient creates a new Deepgram streaming STT client.
func NewDeepgramClient(ctx context.Context, cfg DeepgramConfig) (*DeepgramClient, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL(cfg), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	client := &DeepgramClient{
		conn:    conn,
		log:     log,
		results: make(chan TranscriptResult, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	client.wg.Add(2)
	go client.readLoop()
	go client.keepAlive()

	return client, nil
}

// StreamAudio sends audio data to Deepgram.
func (c *DeepgramClient) StreamAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("client is closed")
	default:
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Results returns the channel for receiving transcription results.
func (c *DeepgramClient) Results() <-chan TranscriptResult {
	return c.results
}

// Errors returns the channel for receiving errors.
func (c *DeepgramClient) Errors() <-chan error {
	return c.errors
}

// Close closes the Deepgram connection.
func (c *DeepgramClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		c.mu.Unlock()

		err = c.conn.Close()

		// Wait for goroutines before closing channels
		c.wg.Wait()
		close(c.results)
		close(c.errors)
	})
	return err
}

// keepAlive stops Deepgram from closing the stream while the caller is
// silent (for example while TTS audio plays).
func (c *DeepgramClient) keepAlive() {
	defer c.wg.Done()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "KeepAlive"}`))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop reads responses from Deepgram and sends them to the results channel.
func (c *DeepgramClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.log.Warnf("deepgram: failed to parse response: %v", err)
			continue
		}

		var result TranscriptResult
		switch resp.Type {
		case "Results":
			if len(resp.Channel.Alternatives) > 0 {
				alt := resp.Channel.Alternatives[0]
				result.Text = alt.Transcript
				result.Confidence = alt.Confidence
			}
			result.SegmentFinal = resp.IsFinal
			result.SpeechFinal = resp.SpeechFinal
			// Emit events even if transcript is empty when we have boundary signals.
			if result.Text == "" && !result.SegmentFinal && !result.SpeechFinal {
				continue
			}
		case "UtteranceEnd":
			result.SpeechFinal = true
		default:
			continue
		}

		select {
		case <-c.done:
			return
		case c.results <- result:
		}
	}
}
