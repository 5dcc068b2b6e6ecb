// Package telephony places and ends outbound recovery calls and sends
// confirmation SMS through the Twilio REST API.
package telephony

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultAPIBase = "https://api.twilio.com/2010-04-01"

// ErrNotConfigured is returned when an operation needs credentials or a
// sender number that are missing.
var ErrNotConfigured = errors.New("twilio is not configured")

// Config holds Twilio account settings.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string // E.164 caller ID for calls and SMS
	APIBase    string // defaults to the public API
}

// Client talks to Twilio Voice and Messaging.
type Client struct {
	cfg  Config
	http *http.Client
	log  logrus.FieldLogger
}

// NewClient returns a Twilio client. It returns nil when credentials are
// missing; every method of a nil Client reports ErrNotConfigured.
func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		log.Info("telephony: missing Twilio credentials, dialing and SMS disabled")
		return nil
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.FromNumber == "" {
		log.Warn("telephony: TWILIO_FROM_NUMBER not set, outbound calls and SMS will fail")
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

// Enabled reports whether calls and SMS can be placed.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.FromNumber != ""
}

// twilioResource is the subset of a Call or Message resource we read.
type twilioResource struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	Code         int    `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, data url.Values) (twilioResource, error) {
	apiURL := fmt.Sprintf("%s/Accounts/%s/%s", c.cfg.APIBase, c.cfg.AccountSID, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return twilioResource{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return twilioResource{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	var res twilioResource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return twilioResource{}, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := res.Message
		if msg == "" {
			msg = res.ErrorMessage
		}
		return res, fmt.Errorf("twilio API error %d: %s", resp.StatusCode, msg)
	}
	return res, nil
}

// StreamTwiML returns the TwiML that connects a call to the media stream
// at streamURL, tagged with the session id.
func StreamTwiML(streamURL, sessionID string) (string, error) {
	type parameter struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	}
	type stream struct {
		URL        string      `xml:"url,attr"`
		Parameters []parameter `xml:"Parameter"`
	}
	type response struct {
		XMLName xml.Name `xml:"Response"`
		Stream  stream   `xml:"Connect>Stream"`
	}

	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	out, err := xml.Marshal(response{Stream: stream{
		URL:        u.String(),
		Parameters: []parameter{{Name: "sessionId", Value: sessionID}},
	}})
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

// Dial places an outbound call to `to` whose audio is streamed to
// streamURL. statusURL receives call status callbacks when set.
func (c *Client) Dial(ctx context.Context, to, sessionID, streamURL, statusURL string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	twiml, err := StreamTwiML(streamURL, sessionID)
	if err != nil {
		return "", err
	}

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.cfg.FromNumber)
	data.Set("Twiml", twiml)
	if statusURL != "" {
		data.Set("StatusCallback", statusURL)
		data.Add("StatusCallbackEvent", "answered")
		data.Add("StatusCallbackEvent", "completed")
	}

	res, err := c.post(ctx, "Calls.json", data)
	if err != nil {
		c.log.WithField("session_id", sessionID).Errorf("telephony: dial %s failed: %v", to, err)
		return "", err
	}
	c.log.WithFields(logrus.Fields{"session_id": sessionID, "call_sid": res.SID}).Infof("telephony: dialing %s (status=%s)", to, res.Status)
	return res.SID, nil
}

// HangUp completes an in-progress call.
func (c *Client) HangUp(ctx context.Context, callSID string) error {
	if c == nil {
		return ErrNotConfigured
	}
	data := url.Values{}
	data.Set("Status", "completed")
	if _, err := c.post(ctx, "Calls/"+callSID+".json", data); err != nil {
		return fmt.Errorf("hang up %s: %w", callSID, err)
	}
	c.log.WithField("call_sid", callSID).Info("telephony: call hung up")
	return nil
}

// SendSMS sends a text message to the specified phone number.
func (c *Client) SendSMS(ctx context.Context, to, body string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.cfg.FromNumber)
	data.Set("Body", body)

	res, err := c.post(ctx, "Messages.json", data)
	if err != nil {
		c.log.Warnf("telephony: SMS to %s failed: %v", to, err)
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	c.log.Infof("telephony: SMS sent to %s (sid=%s, status=%s)", to, res.SID, res.Status)
	return nil
}
