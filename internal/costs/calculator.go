// Package costs estimates what a phone recovery call costs to run.
package costs

import (
	"os"
	"strconv"
	"time"
)

// Pricing constants (in cents per unit for precision).
// Defaults track public list prices and can be overridden via environment variables.
var (
	// TwilioCentsPerMinute is the cost per minute for Twilio outbound voice to India.
	// Default: $0.0140/min = 1.40 cents/min
	TwilioCentsPerMinute = getEnvFloat("COST_TWILIO_CENTS_PER_MIN", 1.40)

	// DeepgramCentsPerMinute is the cost per minute for Deepgram Nova-2 streaming STT.
	// Default: $0.0059/min = 0.59 cents/min
	DeepgramCentsPerMinute = getEnvFloat("COST_DEEPGRAM_CENTS_PER_MIN", 0.59)

	// AuraCentsPerThousandChars is the cost per 1K characters for Deepgram Aura TTS.
	// Default: $0.015/1K chars = 1.5 cents/1K chars
	AuraCentsPerThousandChars = getEnvFloat("COST_AURA_CENTS_PER_1K_CHARS", 1.5)

	// SMSCentsPerMessage is the cost of one confirmation SMS.
	// Default: $0.0832/message = 8.32 cents
	SMSCentsPerMessage = getEnvFloat("COST_SMS_CENTS_PER_MESSAGE", 8.32)
)

// CallMetrics contains the raw usage of one call.
type CallMetrics struct {
	CallDuration  time.Duration // Time the phone leg was connected
	STTDuration   time.Duration // Audio streamed to STT
	TTSCharacters int           // Characters spoken by the agents
	SMSCount      int           // Confirmation messages sent
}

// CallCosts contains the calculated costs for a call in cents.
type CallCosts struct {
	TwilioCostCents int `json:"twilio_cents"`
	STTCostCents    int `json:"stt_cents"`
	TTSCostCents    int `json:"tts_cents"`
	SMSCostCents    int `json:"sms_cents"`
	TotalCostCents  int `json:"total_cents"`
}

// CalculateCallCosts computes the costs for a call based on usage metrics.
// Voice minutes are billed per started minute, as Twilio does.
func CalculateCallCosts(m CallMetrics) CallCosts {
	callMinutes := billedMinutes(m.CallDuration)
	sttMinutes := m.STTDuration.Minutes()
	if sttMinutes < 0 {
		sttMinutes = 0
	}

	costs := CallCosts{
		TwilioCostCents: roundToInt(float64(callMinutes) * TwilioCentsPerMinute),
		STTCostCents:    roundToInt(sttMinutes * DeepgramCentsPerMinute),
		TTSCostCents:    roundToInt((float64(m.TTSCharacters) / 1000.0) * AuraCentsPerThousandChars),
		SMSCostCents:    roundToInt(float64(m.SMSCount) * SMSCentsPerMessage),
	}
	costs.TotalCostCents = costs.TwilioCostCents + costs.STTCostCents + costs.TTSCostCents + costs.SMSCostCents

	return costs
}

// billedMinutes rounds a call duration up to whole minutes.
func billedMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
