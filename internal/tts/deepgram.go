package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const deepgramSpeakURL = "https://api.deepgram.com/v1/speak"

// chunkSize is 80ms of μ-law audio at 8kHz.
const chunkSize = 640

// DeepgramClient implements the Client interface using Deepgram Aura.
type DeepgramClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// DeepgramConfig holds configuration for the Deepgram TTS client.
type DeepgramConfig struct {
	APIKey  string
	Model   string // Aura voice, e.g. "aura-asteria-en"
	BaseURL string // defaults to the hosted speak endpoint
}

// NewDeepgramClient creates a new Deepgram TTS client.
func NewDeepgramClient(cfg DeepgramConfig) *DeepgramClient {
	model := cfg.Model
	if model == "" {
		model = "aura-asteria-en"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = deepgramSpeakURL
	}
	return &DeepgramClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

type speakRequest struct {
	Text string `json:"text"`
}

// open posts text and returns the audio response body. Output is raw
// 8kHz μ-law so it can be written to a Twilio media stream unchanged.
func (c *DeepgramClient) open(ctx context.Context, text string) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("model", c.model)
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("container", "none")

	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("Deepgram speak API error: %s - %s", resp.Status, string(respBody))
	}
	return resp.Body, nil
}

// Synthesize converts text to speech and returns audio data in μ-law format.
func (c *DeepgramClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := c.open(ctx, text)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// SynthesizeStream converts text to speech and streams audio chunks.
func (c *DeepgramClient) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	body, err := c.open(ctx, text)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 100)

	go func() {
		defer close(ch)
		defer body.Close()

		buf := make([]byte, chunkSize)
		for {
			n, err := io.ReadFull(body, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return ch, nil
}
