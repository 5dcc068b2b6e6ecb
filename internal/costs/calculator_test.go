package costs

import (
	"testing"
	"time"
)

func TestCalculateCallCosts(t *testing.T) {
	tests := []struct {
		name    string
		metrics CallMetrics
		want    CallCosts
	}{
		{
			name: "typical 3 minute negotiation",
			metrics: CallMetrics{
				CallDuration:  3 * time.Minute,
				STTDuration:   3 * time.Minute,
				TTSCharacters: 1200,
				SMSCount:      1,
			},
			// Twilio: 3 * 1.40 = 4.2 -> 4 cents
			// STT: 3 * 0.59 = 1.77 -> 2 cents
			// TTS: 1.2 * 1.5 = 1.8 -> 2 cents
			// SMS: 8.32 -> 8 cents
			want: CallCosts{
				TwilioCostCents: 4,
				STTCostCents:    2,
				TTSCostCents:    2,
				SMSCostCents:    8,
				TotalCostCents:  16,
			},
		},
		{
			name: "voicemail hang up after 20 seconds",
			metrics: CallMetrics{
				CallDuration:  20 * time.Second,
				STTDuration:   20 * time.Second,
				TTSCharacters: 180,
			},
			// Twilio: one started minute = 1.40 -> 1 cent
			// STT: 0.33 * 0.59 = 0.197 -> 0 cents
			// TTS: 0.18 * 1.5 = 0.27 -> 0 cents
			want: CallCosts{
				TwilioCostCents: 1,
				TotalCostCents:  1,
			},
		},
		{
			name: "long 12 minute escalation",
			metrics: CallMetrics{
				CallDuration:  11*time.Minute + 5*time.Second,
				STTDuration:   11 * time.Minute,
				TTSCharacters: 6000,
				SMSCount:      1,
			},
			// Twilio: 12 * 1.40 = 16.8 -> 17 cents
			// STT: 11 * 0.59 = 6.49 -> 6 cents
			// TTS: 6 * 1.5 = 9 cents
			// SMS: 8 cents
			want: CallCosts{
				TwilioCostCents: 17,
				STTCostCents:    6,
				TTSCostCents:    9,
				SMSCostCents:    8,
				TotalCostCents:  40,
			},
		},
		{
			name:    "zero usage",
			metrics: CallMetrics{},
			want:    CallCosts{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateCallCosts(tt.metrics)
			if got != tt.want {
				t.Errorf("CalculateCallCosts() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBilledMinutes(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Millisecond, 2},
		{10 * time.Minute, 10},
	}
	for _, tt := range tests {
		if got := billedMinutes(tt.d); got != tt.want {
			t.Errorf("billedMinutes(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestRoundToInt(t *testing.T) {
	tests := []struct {
		input float64
		want  int
	}{
		{0.0, 0},
		{0.4, 0},
		{0.5, 1},
		{1.49, 1},
		{-0.5, -1},
		{-1.4, -1},
	}
	for _, tt := range tests {
		if got := roundToInt(tt.input); got != tt.want {
			t.Errorf("roundToInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("COST_TEST_FLOAT", "2.5")
	if got := getEnvFloat("COST_TEST_FLOAT", 1.0); got != 2.5 {
		t.Errorf("getEnvFloat = %v, want 2.5", got)
	}
	t.Setenv("COST_TEST_FLOAT", "not-a-number")
	if got := getEnvFloat("COST_TEST_FLOAT", 1.0); got != 1.0 {
		t.Errorf("getEnvFloat with bad value = %v, want default", got)
	}
	if got := getEnvFloat("COST_TEST_FLOAT_UNSET", 3.0); got != 3.0 {
		t.Errorf("getEnvFloat unset = %v, want default", got)
	}
}
