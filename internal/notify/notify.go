// Package notify wraps the Twilio API for SMS notifications in TriagePipe.
// The post-call webhook uses it to tell the patient their call summary is
// ready.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// Sender delivers one SMS notification.
type Sender interface {
	SendSMS(ctx context.Context, to string, body string) (models.SMSResult, error)
}

// Opts holds configuration options for the Twilio SMS client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio SMS client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps the Twilio REST API for SMS. Without credentials it runs in
// mock mode: sends report a queued_mock status instead of failing, so local
// development works without a Twilio account.
type Client struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewClient builds an SMS client. Credentials fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("notify.NewClient: Twilio config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		slog.Warn("notify.NewClient: Twilio credentials not set, SMS sends will be mocked")
		return &Client{fromNumber: cfg.FromNumber}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromNumber: cfg.FromNumber}
}

// SendSMS sends one text message.
func (c *Client) SendSMS(ctx context.Context, to string, body string) (models.SMSResult, error) {
	if c.client == nil {
		slog.Debug("notify.SendSMS: mock send", "to", to)
		return models.SMSResult{Status: "queued_mock", SID: "mock-sid"}, nil
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	msg, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("notify.SendSMS failed", "to", to, "error", err)
		return models.SMSResult{}, fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}

	result := models.SMSResult{}
	if msg.Status != nil {
		result.Status = *msg.Status
	}
	if msg.Sid != nil {
		result.SID = *msg.Sid
	}
	slog.Debug("notify.SendSMS: message sent", "to", to, "status", result.Status)
	return result, nil
}

// MockSender records sends for tests.
type MockSender struct {
	Sent []SentSMS
}

// SentSMS is one recorded mock send.
type SentSMS struct {
	To   string
	Body string
}

// NewMockSender creates an empty mock sender.
func NewMockSender() *MockSender {
	return &MockSender{Sent: []SentSMS{}}
}

// SendSMS records the message.
func (m *MockSender) SendSMS(_ context.Context, to string, body string) (models.SMSResult, error) {
	m.Sent = append(m.Sent, SentSMS{To: to, Body: body})
	return models.SMSResult{Status: "queued_mock", SID: "mock-sid"}, nil
}
