package stt

import (
	"context"
	"strings"
)

// TranscriptResult represents a speech-to-text transcription result.
type TranscriptResult struct {
	Text         string  // The transcribed text
	Confidence   float64 // Confidence score (0-1)
	SegmentFinal bool    // The text of this segment will not change
	SpeechFinal  bool    // The speaker finished an utterance
}

// Client defines the interface for speech-to-text providers.
type Client interface {
	// StreamAudio sends audio data to the STT service.
	// Audio should be in the format expected by the provider.
	StreamAudio(ctx context.Context, audio []byte) error

	// Results returns a channel that receives transcription results.
	Results() <-chan TranscriptResult

	// Errors returns a channel that receives errors.
	Errors() <-chan error

	// Close closes the connection to the STT service.
	Close() error
}

// Utterances joins final segments into whole customer utterances.
// The coordinator consumes one finalized utterance at a time.
type Utterances struct {
	parts []string
}

// Add feeds one result. It returns the finished utterance and true when the
// result closes an utterance that has text.
func (u *Utterances) Add(r TranscriptResult) (string, bool) {
	if r.SegmentFinal || r.SpeechFinal {
		if t := strings.TrimSpace(r.Text); t != "" {
			u.parts = append(u.parts, t)
		}
	}
	if !r.SpeechFinal || len(u.parts) == 0 {
		return "", false
	}
	out := strings.Join(u.parts, " ")
	u.parts = u.parts[:0]
	return out, true
}

// Pending reports whether text is buffered for an unfinished utterance.
func (u *Utterances) Pending() bool {
	return len(u.parts) > 0
}
