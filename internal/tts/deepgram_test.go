package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newSpeakServer(t *testing.T, audio []byte, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("model") != "aura-asteria-en" || q.Get("encoding") != "mulaw" || q.Get("sample_rate") != "8000" || q.Get("container") != "none" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		var req speakRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(status)
		_, _ = w.Write(audio)
	}))
}

func TestNewDeepgramClient_Defaults(t *testing.T) {
	client := NewDeepgramClient(DeepgramConfig{APIKey: "test-key"})
	if client.model != "aura-asteria-en" {
		t.Errorf("model = %q, want aura-asteria-en", client.model)
	}
	if client.baseURL != deepgramSpeakURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, deepgramSpeakURL)
	}
}

func TestSynthesize(t *testing.T) {
	audio := bytes.Repeat([]byte{0x7f}, 1000)
	srv := newSpeakServer(t, audio, http.StatusOK)
	defer srv.Close()

	client := NewDeepgramClient(DeepgramConfig{APIKey: "test-key", BaseURL: srv.URL})
	got, err := client.Synthesize(context.Background(), "Hello, am I speaking with Sneha Reddy?")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("Synthesize() returned %d bytes, want %d", len(got), len(audio))
	}
}

func TestSynthesizeStream_Chunks(t *testing.T) {
	audio := bytes.Repeat([]byte{0x01}, chunkSize*2+100)
	srv := newSpeakServer(t, audio, http.StatusOK)
	defer srv.Close()

	client := NewDeepgramClient(DeepgramConfig{APIKey: "test-key", BaseURL: srv.URL})
	ch, err := client.SynthesizeStream(context.Background(), "Please hold for a moment")
	if err != nil {
		t.Fatalf("SynthesizeStream() error: %v", err)
	}

	var sizes []int
	total := 0
	for chunk := range ch {
		sizes = append(sizes, len(chunk))
		total += len(chunk)
	}
	if total != len(audio) {
		t.Errorf("streamed %d bytes, want %d", total, len(audio))
	}
	if len(sizes) != 3 || sizes[0] != chunkSize || sizes[2] != 100 {
		t.Errorf("chunk sizes = %v, want [%d %d 100]", sizes, chunkSize, chunkSize)
	}
}

func TestSynthesize_APIError(t *testing.T) {
	srv := newSpeakServer(t, []byte(`{"err_msg":"bad key"}`), http.StatusUnauthorized)
	defer srv.Close()

	client := NewDeepgramClient(DeepgramConfig{APIKey: "test-key", BaseURL: srv.URL})
	if _, err := client.Synthesize(context.Background(), "hi"); err == nil {
		t.Error("expected error for 401 response")
	}
	if _, err := client.SynthesizeStream(context.Background(), "hi"); err == nil {
		t.Error("expected error for 401 response")
	}
}

func TestClientInterface(t *testing.T) {
	var _ Client = (*DeepgramClient)(nil)
}
