// Package directory provides the provider-directory client: clinic search by
// zip and specialty, and callable provider locations. It authenticates with
// OAuth client credentials; without credentials it serves sandbox data so the
// handoff sub-flow works in local development.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// DefaultTimeout bounds one directory request.
const DefaultTimeout = 20 * time.Second

// tokenExpirySlack refreshes the cached token a little before it expires.
const tokenExpirySlack = 30 * time.Second

// Opts holds configuration options for the directory client.
type Opts struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Option defines a configuration option for the directory client.
type Option func(*Opts)

// WithBaseURL sets the directory API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithClientID sets the OAuth client id.
func WithClientID(id string) Option {
	return func(o *Opts) { o.ClientID = id }
}

// WithClientSecret sets the OAuth client secret.
func WithClientSecret(secret string) Option {
	return func(o *Opts) { o.ClientSecret = secret }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Opts) { o.Timeout = timeout }
}

// Client talks to the provider directory.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient builds a directory client. Credentials fall back to
// DIRECTORY_BASE_URL, DIRECTORY_CLIENT_ID and DIRECTORY_CLIENT_SECRET.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("DIRECTORY_BASE_URL")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("DIRECTORY_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("DIRECTORY_CLIENT_SECRET")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("directory.NewClient: client created",
		"baseURL_set", cfg.BaseURL != "",
		"credentials_set", cfg.ClientID != "" && cfg.ClientSecret != "")
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         &http.Client{Timeout: cfg.Timeout},
	}
}

// sandbox reports whether the client should serve built-in data.
func (c *Client) sandbox() bool {
	return c.clientID == "" || c.clientSecret == ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached OAuth token, fetching a fresh one when the
// cached one is about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("directory.accessToken: token request failed", "error", err)
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("directory.accessToken: unexpected status", "status", resp.StatusCode)
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	c.token = decoded.AccessToken
	expiresIn := decoded.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return c.token, nil
}

type providerLocationsResponse struct {
	ProviderLocations []providerLocation `json:"provider_locations"`
}

type providerLocation struct {
	ProviderLocationID string `json:"provider_location_id"`
	ProviderName       string `json:"provider_name"`
	Address            string `json:"address"`
	PhoneNumber        string `json:"phone_number"`
	NextAvailableSlot  string `json:"next_available_slot"`
}

func (c *Client) queryProviderLocations(ctx context.Context, params url.Values) ([]providerLocation, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/provider_locations?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("directory.queryProviderLocations: request failed", "error", err)
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("directory.queryProviderLocations: unexpected status", "status", resp.StatusCode)
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var decoded providerLocationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}
	return decoded.ProviderLocations, nil
}

// SearchDoctors returns providers matching a zip, specialty and insurance.
func (c *Client) SearchDoctors(ctx context.Context, zipCode, specialty, insurance string) ([]models.Clinic, error) {
	if c.sandbox() {
		return sandboxDoctors(zipCode, specialty), nil
	}

	params := url.Values{
		"specialty":          {specialty},
		"zip_code":           {zipCode},
		"insurance_provider": {insurance},
	}
	locations, err := c.queryProviderLocations(ctx, params)
	if err != nil {
		return nil, err
	}
	clinics := make([]models.Clinic, 0, len(locations))
	for _, loc := range locations {
		clinics = append(clinics, models.Clinic{
			ExternalID:    loc.ProviderLocationID,
			Name:          loc.ProviderName,
			Specialty:     specialty,
			Address:       loc.Address,
			Phone:         loc.PhoneNumber,
			NextAvailable: loc.NextAvailableSlot,
		})
	}
	slog.Debug("directory.SearchDoctors: search completed", "zip", zipCode, "specialty", specialty, "results", len(clinics))
	return clinics, nil
}

// ProviderLocations returns up to pageSize callable provider locations near a
// zip for a visit reason.
func (c *Client) ProviderLocations(ctx context.Context, zipCode, visitReasonID string, pageSize int) ([]models.Clinic, error) {
	if pageSize <= 0 {
		pageSize = 3
	}
	if c.sandbox() {
		locations := sandboxLocations(zipCode)
		if len(locations) > pageSize {
			locations = locations[:pageSize]
		}
		return locations, nil
	}

	params := url.Values{
		"zip_code":        {zipCode},
		"visit_reason_id": {visitReasonID},
		"page_size":       {strconv.Itoa(pageSize)},
	}
	locations, err := c.queryProviderLocations(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(locations) > pageSize {
		locations = locations[:pageSize]
	}
	clinics := make([]models.Clinic, 0, len(locations))
	for _, loc := range locations {
		clinics = append(clinics, models.Clinic{
			ExternalID:    loc.ProviderLocationID,
			Name:          loc.ProviderName,
			Address:       loc.Address,
			Phone:         loc.PhoneNumber,
			NextAvailable: loc.NextAvailableSlot,
		})
	}
	slog.Debug("directory.ProviderLocations: query completed", "zip", zipCode, "results", len(clinics))
	return clinics, nil
}

// sandboxDoctors mirrors the shape of a real specialty search.
func sandboxDoctors(zipCode, specialty string) []models.Clinic {
	return []models.Clinic{
		{
			ExternalID:    "doc_1001",
			Name:          "Dr. Sarah Lin",
			Specialty:     specialty,
			Address:       zipCode + " - Downtown Clinic",
			NextAvailable: "2026-02-23T10:30:00",
		},
		{
			ExternalID:    "doc_1002",
			Name:          "Dr. James Carter",
			Specialty:     specialty,
			Address:       zipCode + " - East Medical Group",
			NextAvailable: "2026-02-23T13:00:00",
		},
	}
}

// sandboxLocations provides callable clinics for the outbound-call flow.
func sandboxLocations(zipCode string) []models.Clinic {
	return []models.Clinic{
		{
			ExternalID: "loc_2001",
			Name:       "Midtown Family Clinic",
			Address:    "10 Peachtree St, " + zipCode,
			Phone:      "+14045550101",
		},
		{
			ExternalID: "loc_2002",
			Name:       "Eastside Medical Group",
			Address:    "22 Edgewood Ave, " + zipCode,
			Phone:      "+14045550102",
		},
		{
			ExternalID: "loc_2003",
			Name:       "Northside Urgent Care",
			Address:    "5 Piedmont Rd, " + zipCode,
			Phone:      "+14045550103",
		},
	}
}
