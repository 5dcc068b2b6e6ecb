package notifications

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/sirupsen/logrus"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath      string   // Path to .p8 key file
	KeyID        string   // Key ID from Apple Developer Portal
	TeamID       string   // Team ID from Apple Developer Portal
	BundleID     string   // Operator app bundle ID
	Production   bool     // Use production environment
	DeviceTokens []string // Operator devices that receive outcome pushes
}

type pusher interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// APNsClient pushes call outcomes to the operators' devices.
type APNsClient struct {
	client   pusher
	bundleID string
	devices  []string
	log      logrus.FieldLogger
	mu       sync.Mutex
}

// NewAPNsClient creates a new APNs client. It returns nil, nil when APNs
// is not configured.
func NewAPNsClient(cfg APNsConfig, log logrus.FieldLogger) (*APNsClient, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" || len(cfg.DeviceTokens) == 0 {
		log.Info("apns: missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(authToken).Development()
	if cfg.Production {
		client = client.Production()
	}

	log.Infof("apns: client initialized (production=%v, bundle=%s, devices=%d)", cfg.Production, cfg.BundleID, len(cfg.DeviceTokens))

	return &APNsClient{
		client:   client,
		bundleID: cfg.BundleID,
		devices:  cfg.DeviceTokens,
		log:      log,
	}, nil
}

// NotifyOutcome pushes the call result to every operator device.
func (c *APNsClient) NotifyOutcome(ctx context.Context, n OutcomeNotice) {
	if c == nil || c.client == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := payload.NewPayload().
		AlertTitle("Recovery call ended").
		AlertBody(n.headline()).
		Sound("default").
		Custom("session_id", n.SessionID).
		Custom("result", n.Result)

	for _, device := range c.devices {
		if ctx.Err() != nil {
			return
		}
		res, err := c.client.Push(&apns2.Notification{
			DeviceToken: device,
			Topic:       c.bundleID,
			Payload:     p,
			Expiration:  time.Now().Add(24 * time.Hour),
		})
		if err != nil {
			c.log.Warnf("apns: failed to send notification: %v", err)
			continue
		}
		if res.StatusCode != 200 {
			c.log.Warnf("apns: notification rejected (status=%d, reason=%s)", res.StatusCode, res.Reason)
			continue
		}
		c.log.Debugf("apns: outcome pushed to %s...", shortToken(device))
	}
}

func shortToken(t string) string {
	if len(t) > 16 {
		return t[:16]
	}
	return t
}
