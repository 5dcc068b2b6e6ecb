package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/recoverydesk/voiceagent/internal/recovery"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	RedisURL      string
	SessionTTL    time.Duration
	IdleTimeout   time.Duration
	LogLevel      string
	SentryDSN     string

	// Outcome events
	KafkaBrokers []string
	KafkaTopic   string

	// Recovery workflow
	CustomerDataFile string
	PolicyFile       string
	Policy           recovery.Policy
	AgentName        string

	// LLM (OpenAI-compatible endpoint)
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	// Voice providers
	DeepgramAPIKey    string
	STTModel          string
	STTLanguage       string
	STTEndpointingMs  int
	STTUtteranceEndMs int
	TTSModel          string

	// Twilio voice + messaging
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Operator authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string
	APNsKeyPath       string
	APNsKeyID         string
	APNsTeamID        string
	APNsBundleID      string
	APNsProduction    bool
	APNsDeviceTokens  []string
}

// LoadDotEnv loads variables from path (default ".env") without overriding
// the ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "12h"))
	if err != nil {
		jwtExpiry = 12 * time.Hour
	}
	sessionTTL, err := time.ParseDuration(getenv("SESSION_TTL", "2h"))
	if err != nil {
		sessionTTL = 2 * time.Hour
	}
	idleTimeout, err := time.ParseDuration(getenv("SESSION_IDLE_TIMEOUT", "30m"))
	if err != nil {
		idleTimeout = 30 * time.Minute
	}

	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		RedisURL:      getenv("REDIS_URL", ""),
		SessionTTL:    sessionTTL,
		IdleTimeout:   idleTimeout,
		LogLevel:      getenv("LOG_LEVEL", "info"),
		SentryDSN:     getenv("SENTRY_DSN", ""),

		KafkaBrokers: parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "recovery.outcomes"),

		CustomerDataFile: getenv("CUSTOMER_DATA_FILE", "data/customers.csv"),
		PolicyFile:       getenv("NEGOTIATION_POLICY_FILE", ""),
		Policy:           recovery.DefaultPolicy(),
		AgentName:        getenv("RECOVERY_AGENT_NAME", "Alice"),

		LLMAPIKey:  getenv("LLM_API_KEY", ""),
		LLMBaseURL: getenv("LLM_BASE_URL", ""),
		LLMModel:   getenv("LLM_MODEL", "gemini-2.0-flash"),

		DeepgramAPIKey:    getenv("DEEPGRAM_API_KEY", ""),
		STTModel:          getenv("STT_MODEL", "nova-2"),
		STTLanguage:       getenv("STT_LANGUAGE", "en-IN"),
		STTEndpointingMs:  getenvIntClamped("STT_ENDPOINTING_MS", 300, 10, 5000),
		STTUtteranceEndMs: getenvIntClamped("STT_UTTERANCE_END_MS", 1000, 1000, 5000),
		TTSModel:          getenv("TTS_MODEL", "aura-asteria-en"),

		TwilioAccountSID: getenv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getenv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getenv("TWILIO_FROM_NUMBER", ""),

		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
		APNsKeyPath:       getenv("APNS_KEY_PATH", ""),
		APNsKeyID:         getenv("APNS_KEY_ID", ""),
		APNsTeamID:        getenv("APNS_TEAM_ID", ""),
		APNsBundleID:      getenv("APNS_BUNDLE_ID", ""),
		APNsProduction:    getenv("APNS_PRODUCTION", "false") == "true",
		APNsDeviceTokens:  parseList(os.Getenv("APNS_DEVICE_TOKENS")),
	}
}

// LoadPolicy reads negotiation thresholds from a YAML file. Keys missing
// from the file keep their default values.
func LoadPolicy(path string) (recovery.Policy, error) {
	p := recovery.DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// Validate fails fast on settings the server cannot run without and loads
// the negotiation policy file when one is configured.
func (c *Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	} else if len(c.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 characters")
	}
	if c.CustomerDataFile == "" {
		problems = append(problems, "CUSTOMER_DATA_FILE is required")
	} else if st, err := os.Stat(c.CustomerDataFile); err != nil {
		problems = append(problems, fmt.Sprintf("CUSTOMER_DATA_FILE %s: %v", c.CustomerDataFile, err))
	} else if st.IsDir() {
		problems = append(problems, fmt.Sprintf("CUSTOMER_DATA_FILE %s is a directory", c.CustomerDataFile))
	}
	if c.PolicyFile != "" {
		p, err := LoadPolicy(c.PolicyFile)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			c.Policy = p
		}
	} else if err := c.Policy.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped parses an int and clamps it into [min, max]. Unset or
// invalid values yield def.
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
