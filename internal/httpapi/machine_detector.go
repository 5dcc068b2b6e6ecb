package httpapi

import (
	"strings"
	"sync"
	"time"
)

// MachineDetectionConfig tunes answering machine and IVR detection on
// outbound calls.
type MachineDetectionConfig struct {
	SilenceThreshold    time.Duration // No customer speech this long after the opening line
	BargeInThreshold    int           // Interruptions within BargeInWindow (0 disables)
	BargeInWindow       time.Duration
	RepetitionThreshold int      // Identical phrases heard (0 disables)
	Phrases             []string // Voicemail and IVR prompts
}

func DefaultMachineDetectionConfig() MachineDetectionConfig {
	return MachineDetectionConfig{
		SilenceThreshold:    30 * time.Second,
		BargeInThreshold:    3,
		BargeInWindow:       15 * time.Second,
		RepetitionThreshold: 3,
		Phrases: []string{
			"leave a message",
			"leave your message",
			"after the tone",
			"after the beep",
			"is not available",
			"voicemail",
			"voice mail",
			"please hold",
			"your call is important",
			"the number you have dialled",
			"the number you have dialed",
			"is switched off",
			"not reachable",
		},
	}
}

// openingUtterances bounds detection to the start of the call. Once a
// person is talking, repeats and interruptions are normal.
const openingUtterances = 4

// Detection is the verdict of a MachineDetector check.
type Detection struct {
	Machine bool
	Reason  string
}

// MachineDetector watches one call for signs that no person answered.
type MachineDetector struct {
	cfg MachineDetectionConfig
	now func() time.Time

	mu           sync.Mutex
	openedAt     time.Time
	agentTurns   int
	utterances   int
	bargeIns     []time.Time
	phraseCounts map[string]int
}

// NewMachineDetector starts watching a call. now defaults to time.Now.
func NewMachineDetector(cfg MachineDetectionConfig, now func() time.Time) *MachineDetector {
	if now == nil {
		now = time.Now
	}
	return &MachineDetector{
		cfg:          cfg,
		now:          now,
		openedAt:     now(),
		phraseCounts: make(map[string]int),
	}
}

// RecordSpeech notes a finalized customer utterance.
func (d *MachineDetector) RecordSpeech(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.utterances++
	if p := normalizePhrase(text); p != "" {
		d.phraseCounts[p]++
	}
}

func (d *MachineDetector) RecordBargeIn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bargeIns = append(d.bargeIns, d.now())
}

// RecordAgentTurn notes a spoken agent line. The silence clock starts at
// the first one.
func (d *MachineDetector) RecordAgentTurn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.agentTurns == 0 {
		d.openedAt = d.now()
	}
	d.agentTurns++
}

// Check evaluates the signals gathered so far.
func (d *MachineDetector) Check() Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.utterances > openingUtterances {
		return Detection{}
	}
	if d.cfg.SilenceThreshold > 0 && d.agentTurns > 0 && d.utterances == 0 &&
		d.now().Sub(d.openedAt) >= d.cfg.SilenceThreshold {
		return Detection{Machine: true, Reason: "prolonged_silence"}
	}

	if d.cfg.BargeInThreshold > 0 {
		cutoff := d.now().Add(-d.cfg.BargeInWindow)
		recent := 0
		for _, t := range d.bargeIns {
			if t.After(cutoff) {
				recent++
			}
		}
		if recent >= d.cfg.BargeInThreshold {
			return Detection{Machine: true, Reason: "rapid_barge_ins"}
		}
	}

	if d.cfg.RepetitionThreshold > 0 {
		for phrase, n := range d.phraseCounts {
			if n >= d.cfg.RepetitionThreshold {
				return Detection{Machine: true, Reason: "phrase_repetition:" + phrase}
			}
		}
	}
	return Detection{}
}

// CheckText looks for a voicemail or IVR prompt in one utterance. Only
// the opening utterances are checked.
func (d *MachineDetector) CheckText(text string) Detection {
	d.mu.Lock()
	heard := d.utterances
	d.mu.Unlock()
	if heard > openingUtterances {
		return Detection{}
	}
	lower := strings.ToLower(text)
	for _, p := range d.cfg.Phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return Detection{Machine: true, Reason: "prompt:" + p}
		}
	}
	return Detection{}
}

// normalizePhrase lowercases and collapses whitespace. Phrases under three
// words are not tracked; short answers like "yes" repeat naturally.
func normalizePhrase(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < 3 {
		return ""
	}
	return strings.Join(words, " ")
}
