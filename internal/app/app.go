package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/customers"
	"github.com/recoverydesk/voiceagent/internal/eventlog"
	"github.com/recoverydesk/voiceagent/internal/httpapi"
	"github.com/recoverydesk/voiceagent/internal/jobs"
	"github.com/recoverydesk/voiceagent/internal/llm"
	"github.com/recoverydesk/voiceagent/internal/metrics"
	"github.com/recoverydesk/voiceagent/internal/notifications"
	"github.com/recoverydesk/voiceagent/internal/outcomes"
	"github.com/recoverydesk/voiceagent/internal/sessions"
	"github.com/recoverydesk/voiceagent/internal/store"
	"github.com/recoverydesk/voiceagent/internal/stt"
	"github.com/recoverydesk/voiceagent/internal/telephony"
	"github.com/recoverydesk/voiceagent/internal/tts"
)

type App struct {
	cfg       Config
	log       logrus.FieldLogger
	db        *pgxpool.Pool
	store     *store.Store
	eventLog  *eventlog.Logger
	rdb       *redis.Client
	publisher *outcomes.Publisher
	directory *customers.Directory
	telephony *telephony.Client
	metrics   *metrics.Metrics
	sessions  *sessions.Manager
	streams   *httpapi.StreamRegistry
	reaper    *jobs.IdleSessionReaper
}

// New loads the customer directory and connects every configured backend.
// Postgres, Redis, Kafka, the LLM, Twilio and Deepgram are all optional;
// the server runs as a text-only console without them.
func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (*App, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewMetrics(),
		streams: httpapi.NewStreamRegistry(),
	}

	dir, err := customers.LoadFile(cfg.CustomerDataFile, log)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	a.directory = dir
	log.Infof("app: loaded %d customers from %s", dir.Len(), cfg.CustomerDataFile)

	if err := a.connectDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.publisher = outcomes.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	a.telephony = telephony.NewClient(telephony.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
	}, log)

	notifier, err := a.notifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	mcfg := sessions.Config{
		Lookup:    dir,
		Policy:    cfg.Policy,
		AgentName: cfg.AgentName,
		Events:    a.eventLog,
		Metrics:   a.metrics,
		Outcomes:  a.publisher,
		Log:       log,
	}
	if len(notifier) > 0 {
		mcfg.Notifier = notifier
	}
	if a.store != nil {
		mcfg.Store = a.store
	}
	if a.rdb != nil {
		mcfg.Snapshots = sessions.NewRedisSnapshots(a.rdb, cfg.SessionTTL)
	}
	if a.telephony.Enabled() {
		mcfg.SMS = a.telephony
	}
	if cfg.LLMAPIKey != "" {
		mcfg.LLM = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		})
		log.Infof("app: llm enabled (model %s)", cfg.LLMModel)
	} else {
		log.Info("app: LLM_API_KEY not set, using scripted replies only")
	}

	m, err := sessions.NewManager(mcfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sessions = m

	if cfg.IdleTimeout > 0 {
		a.reaper = jobs.NewIdleSessionReaper(m, cfg.IdleTimeout, 0, log)
		a.reaper.Start()
	}
	return a, nil
}

func (a *App) connectDatabase(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("app: DATABASE_URL not set, call history and event log disabled")
		a.eventLog = eventlog.New(nil, a.log)
		return nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(dbCtx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(dbCtx); err != nil {
		db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	s := store.New(db)
	if err := s.Migrate(dbCtx); err != nil {
		db.Close()
		return err
	}
	a.db = db
	a.store = s
	a.eventLog = eventlog.New(db, a.log)
	return nil
}

func (a *App) connectRedis(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.log.Info("app: REDIS_URL not set, sessions will not survive a restart")
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := sessions.NewRedisClient(rctx, a.cfg.RedisURL)
	if err != nil {
		return err
	}
	a.rdb = rdb
	return nil
}

func (a *App) notifier() (notifications.Fanout, error) {
	var out notifications.Fanout
	if d := notifications.NewDiscord(a.cfg.DiscordWebhookURL, a.log); d.Enabled() {
		out = append(out, d)
	}
	push, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:      a.cfg.APNsKeyPath,
		KeyID:        a.cfg.APNsKeyID,
		TeamID:       a.cfg.APNsTeamID,
		BundleID:     a.cfg.APNsBundleID,
		Production:   a.cfg.APNsProduction,
		DeviceTokens: a.cfg.APNsDeviceTokens,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("init apns: %w", err)
	}
	if push != nil {
		out = append(out, push)
	}
	return out, nil
}

// newSTT opens a Deepgram stream tuned for Twilio's 8 kHz mu-law audio.
func (a *App) newSTT(ctx context.Context) (stt.Client, error) {
	c, err := stt.NewDeepgramClient(ctx, stt.DeepgramConfig{
		APIKey:         a.cfg.DeepgramAPIKey,
		Model:          a.cfg.STTModel,
		Language:       a.cfg.STTLanguage,
		SampleRate:     8000,
		Encoding:       "mulaw",
		Channels:       1,
		Punctuate:      true,
		SmartFormat:    true,
		Endpointing:    a.cfg.STTEndpointingMs,
		UtteranceEndMs: a.cfg.STTUtteranceEndMs,
		Logger:         a.log,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *App) Router() http.Handler {
	deps := httpapi.Deps{
		Sessions:  a.sessions,
		Customers: a.directory,
		Events:    a.eventLog,
		Metrics:   a.metrics,
		Streams:   a.streams,
	}
	if a.store != nil {
		deps.History = a.store
	}
	if a.telephony.Enabled() {
		deps.Telephony = a.telephony
	}
	if a.cfg.DeepgramAPIKey != "" {
		deps.NewSTT = a.newSTT
		deps.TTS = tts.NewDeepgramClient(tts.DeepgramConfig{
			APIKey: a.cfg.DeepgramAPIKey,
			Model:  a.cfg.TTSModel,
		})
	} else {
		a.log.Info("app: DEEPGRAM_API_KEY not set, phone calls disabled")
	}

	return httpapi.NewRouter(httpapi.RouterConfig{
		PublicBaseURL:   a.cfg.PublicBaseURL,
		TwilioAuthToken: a.cfg.TwilioAuthToken,
		JWTSecret:       a.cfg.JWTSecret,
		JWTExpiry:       a.cfg.JWTExpiry,
	}, a.log, deps)
}

// Drain stops new sessions and streams, waits for live ones until ctx is
// done, then ends whatever is left.
func (a *App) Drain(ctx context.Context) {
	if a.reaper != nil {
		a.reaper.Stop()
	}
	a.streams.StartDraining()
	a.sessions.StartDraining()
	a.log.Infof("app: draining %d streams, %d sessions", a.streams.Active(), a.sessions.ActiveCount())

	if err := a.streams.Wait(ctx); err != nil {
		a.log.Warnf("app: %d streams still open at shutdown", a.streams.Active())
	}

	done := make(chan struct{})
	go func() {
		a.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if n := a.sessions.EndAll(endCtx, "server_shutdown"); n > 0 {
		a.log.Infof("app: ended %d sessions at shutdown", n)
	}
}

func (a *App) Close() error {
	if a.reaper != nil {
		a.reaper.Stop()
	}
	var errs []error
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kafka writer: %w", err))
	}
	a.eventLog.Flush()
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	return errors.Join(errs...)
}
