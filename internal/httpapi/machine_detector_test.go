package httpapi

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMachineDetectorProlongedSilence(t *testing.T) {
	clock := newFakeClock()
	d := NewMachineDetector(DefaultMachineDetectionConfig(), clock.Now)

	clock.Advance(time.Minute)
	if d.Check().Machine {
		t.Error("silence before the opening line should not count")
	}

	d.RecordAgentTurn()
	clock.Advance(29 * time.Second)
	if d.Check().Machine {
		t.Error("should not detect before the silence threshold")
	}

	clock.Advance(time.Second)
	got := d.Check()
	if !got.Machine || got.Reason != "prolonged_silence" {
		t.Errorf("Check() = %+v, want prolonged_silence", got)
	}
}

func TestMachineDetectorSpeechResetsSilence(t *testing.T) {
	clock := newFakeClock()
	d := NewMachineDetector(DefaultMachineDetectionConfig(), clock.Now)
	d.RecordAgentTurn()
	d.RecordSpeech("hello who is this")

	clock.Advance(time.Minute)
	if d.Check().Machine {
		t.Error("should not detect silence once the customer spoke")
	}
}

func TestMachineDetectorRapidBargeIns(t *testing.T) {
	clock := newFakeClock()
	d := NewMachineDetector(DefaultMachineDetectionConfig(), clock.Now)

	d.RecordBargeIn()
	clock.Advance(20 * time.Second)
	d.RecordBargeIn()
	d.RecordBargeIn()
	if d.Check().Machine {
		t.Error("barge-ins outside the window should not count")
	}

	clock.Advance(time.Second)
	d.RecordBargeIn()
	got := d.Check()
	if !got.Machine || got.Reason != "rapid_barge_ins" {
		t.Errorf("Check() = %+v, want rapid_barge_ins", got)
	}
}

func TestMachineDetectorPhraseRepetition(t *testing.T) {
	d := NewMachineDetector(DefaultMachineDetectionConfig(), newFakeClock().Now)

	d.RecordSpeech("yes")
	d.RecordSpeech("yes")
	d.RecordSpeech("yes")
	if d.Check().Machine {
		t.Error("short answers should not be tracked")
	}

	d2 := NewMachineDetector(DefaultMachineDetectionConfig(), newFakeClock().Now)
	for i := 0; i < 3; i++ {
		d2.RecordSpeech("Press one  for accounts")
	}
	got := d2.Check()
	if !got.Machine || !strings.HasPrefix(got.Reason, "phrase_repetition:press one for accounts") {
		t.Errorf("Check() = %+v, want phrase_repetition", got)
	}
}

func TestMachineDetectorCheckText(t *testing.T) {
	d := NewMachineDetector(DefaultMachineDetectionConfig(), newFakeClock().Now)

	got := d.CheckText("Please leave a message after the beep")
	if !got.Machine || !strings.HasPrefix(got.Reason, "prompt:") {
		t.Errorf("CheckText() = %+v, want a prompt match", got)
	}
	if d.CheckText("Hello, yes this is Sneha").Machine {
		t.Error("a greeting should not look like a machine")
	}
}

func TestMachineDetectorStopsAfterOpening(t *testing.T) {
	clock := newFakeClock()
	d := NewMachineDetector(DefaultMachineDetectionConfig(), clock.Now)
	d.RecordAgentTurn()
	for i := 0; i < openingUtterances+1; i++ {
		d.RecordSpeech("I told you I will pay")
	}
	for i := 0; i < 5; i++ {
		d.RecordBargeIn()
	}

	if d.Check().Machine {
		t.Error("repeats and interruptions mid-call should not trigger detection")
	}
	if d.CheckText("my voicemail is full").Machine {
		t.Error("prompt matching should stop after the opening utterances")
	}
}
