package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/recoverydesk/voiceagent/internal/recovery"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{
			name:     "value within range",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			min:      0,
			max:      1000,
			want:     500,
		},
		{
			name:     "value below min - clamp to min",
			envKey:   "TEST_INT_LOW",
			envValue: "-100",
			def:      100,
			min:      0,
			max:      1000,
			want:     0,
		},
		{
			name:     "value above max - clamp to max",
			envKey:   "TEST_INT_HIGH",
			envValue: "2000",
			def:      100,
			min:      0,
			max:      1000,
			want:     1000,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "boundary: exactly min",
			envKey:   "TEST_INT_MIN",
			envValue: "200",
			def:      500,
			min:      200,
			max:      800,
			want:     200,
		},
		{
			name:     "boundary: exactly max",
			envKey:   "TEST_INT_MAX",
			envValue: "800",
			def:      500,
			min:      200,
			max:      800,
			want:     800,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvIntClamped(tt.envKey, tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvIntClamped(%q, %d, %d, %d) = %d, want %d",
					tt.envKey, tt.def, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single broker",
			input: "kafka-1:9092",
			want:  []string{"kafka-1:9092"},
		},
		{
			name:  "multiple brokers",
			input: "kafka-1:9092,kafka-2:9092",
			want:  []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:  "entries with extra whitespace",
			input: "  kafka-1:9092  ,  kafka-2:9092  ",
			want:  []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "trailing comma",
			input: "abcdef0123,",
			want:  []string{"abcdef0123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseList(tt.input)

			if len(got) != len(tt.want) {
				t.Errorf("parseList(%q) returned %d entries, want %d", tt.input, len(got), len(tt.want))
				return
			}

			for i, v := range got {
				if v != tt.want[i] {
					t.Errorf("parseList(%q)[%d] = %q, want %q", tt.input, i, v, tt.want[i])
				}
			}
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	keysToClean := []string{
		"HTTP_ADDR", "PUBLIC_BASE_URL", "DATABASE_URL", "LOG_LEVEL",
		"STT_ENDPOINTING_MS", "STT_UTTERANCE_END_MS", "LLM_MODEL",
		"TTS_MODEL", "RECOVERY_AGENT_NAME", "KAFKA_BROKERS", "KAFKA_TOPIC",
		"SESSION_TTL", "SESSION_IDLE_TIMEOUT", "JWT_EXPIRY",
	}
	for _, key := range keysToClean {
		os.Unsetenv(key)
	}

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LLMModel != "gemini-2.0-flash" {
		t.Errorf("LLMModel = %q, want %q", cfg.LLMModel, "gemini-2.0-flash")
	}
	if cfg.TTSModel != "aura-asteria-en" {
		t.Errorf("TTSModel = %q, want %q", cfg.TTSModel, "aura-asteria-en")
	}
	if cfg.AgentName != "Alice" {
		t.Errorf("AgentName = %q, want %q", cfg.AgentName, "Alice")
	}
	if cfg.STTEndpointingMs != 300 {
		t.Errorf("STTEndpointingMs = %d, want %d", cfg.STTEndpointingMs, 300)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("KafkaBrokers = %v, want nil", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopic != "recovery.outcomes" {
		t.Errorf("KafkaTopic = %q, want %q", cfg.KafkaTopic, "recovery.outcomes")
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want 2h", cfg.SessionTTL)
	}
	if cfg.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout = %v, want 30m", cfg.IdleTimeout)
	}
	if cfg.JWTExpiry != 12*time.Hour {
		t.Errorf("JWTExpiry = %v, want 12h", cfg.JWTExpiry)
	}
	if cfg.Policy != recovery.DefaultPolicy() {
		t.Errorf("Policy = %+v, want defaults", cfg.Policy)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STT_ENDPOINTING_MS", "99999")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("SESSION_TTL", "not-a-duration")
	t.Setenv("SESSION_IDLE_TIMEOUT", "45m")
	t.Setenv("RECOVERY_AGENT_NAME", "Priya")
	t.Setenv("APNS_PRODUCTION", "true")

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.STTEndpointingMs != 5000 {
		t.Errorf("STTEndpointingMs = %d, want clamped %d", cfg.STTEndpointingMs, 5000)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Errorf("KafkaBrokers length = %d, want 2", len(cfg.KafkaBrokers))
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want fallback 2h", cfg.SessionTTL)
	}
	if cfg.IdleTimeout != 45*time.Minute {
		t.Errorf("IdleTimeout = %v, want 45m", cfg.IdleTimeout)
	}
	if cfg.AgentName != "Priya" {
		t.Errorf("AgentName = %q, want %q", cfg.AgentName, "Priya")
	}
	if !cfg.APNsProduction {
		t.Error("APNsProduction = false, want true")
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadPolicy(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    recovery.Policy
		wantErr bool
	}{
		{
			name:    "partial override keeps defaults",
			content: "approve_at_percent: 65\n",
			want:    recovery.Policy{RejectBelowPercent: 50, ApproveAtPercent: 65, RejectCounterPercent: 60, SoftCounterPercent: 70},
		},
		{
			name:    "full policy",
			content: "reject_below_percent: 40\napprove_at_percent: 55\nreject_counter_percent: 50\nsoft_counter_percent: 65\n",
			want:    recovery.Policy{RejectBelowPercent: 40, ApproveAtPercent: 55, RejectCounterPercent: 50, SoftCounterPercent: 65},
		},
		{
			name:    "approve below reject",
			content: "reject_below_percent: 70\napprove_at_percent: 60\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			content: "approve_at_percent: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadPolicy(writeTemp(t, "policy.yaml", tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("LoadPolicy() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadPolicy() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("LoadPolicy() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	csvPath := writeTemp(t, "customers.csv", "Name,Status\nSneha Reddy,Defaulter\n")
	secret := strings.Repeat("s", 32)

	t.Run("valid", func(t *testing.T) {
		cfg := Config{JWTSecret: secret, CustomerDataFile: csvPath, Policy: recovery.DefaultPolicy()}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	})

	t.Run("missing secret and file", func(t *testing.T) {
		cfg := Config{CustomerDataFile: filepath.Join(t.TempDir(), "missing.csv"), Policy: recovery.DefaultPolicy()}
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() = nil, want error")
		}
		for _, want := range []string{"JWT_SECRET is required", "missing.csv"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error %q does not mention %q", err, want)
			}
		}
	})

	t.Run("short secret", func(t *testing.T) {
		cfg := Config{JWTSecret: "short", CustomerDataFile: csvPath, Policy: recovery.DefaultPolicy()}
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "32 characters") {
			t.Errorf("Validate() error = %v, want short secret error", err)
		}
	})

	t.Run("policy file loaded", func(t *testing.T) {
		cfg := Config{
			JWTSecret:        secret,
			CustomerDataFile: csvPath,
			PolicyFile:       writeTemp(t, "policy.yaml", "soft_counter_percent: 75\n"),
			Policy:           recovery.DefaultPolicy(),
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if cfg.Policy.SoftCounterPercent != 75 {
			t.Errorf("SoftCounterPercent = %d, want 75", cfg.Policy.SoftCounterPercent)
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadDotEnv(missing) error = %v, want nil", err)
	}

	os.Unsetenv("DOTENV_TEST_KEY")
	t.Cleanup(func() { os.Unsetenv("DOTENV_TEST_KEY") })
	path := writeTemp(t, ".env", "DOTENV_TEST_KEY=from-file\n")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("DOTENV_TEST_KEY"); got != "from-file" {
		t.Errorf("DOTENV_TEST_KEY = %q, want from-file", got)
	}
}
