package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/guregu/null"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

// DefaultBaseURL is the Netatmo API root.
const DefaultBaseURL = "https://api.netatmo.com"

// Credentials identify the Netatmo app and account.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Complete reports whether every credential is set.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.Username != "" && c.Password != ""
}

// Client fetches station data from the Netatmo weather API. It implements
// roomenv.Source.
type Client struct {
	baseURL string
	creds   Credentials
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  kitlog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewClient returns a Client talking to baseURL (DefaultBaseURL when empty).
func NewClient(client *http.Client, baseURL string, creds Credentials, logger kitlog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "netatmo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			// Netatmo allows 50 requests per 10 seconds per user.
			Limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 10),
		},
		circuit: cb,
		logger:  kitlog.With(logger, "module", "netatmo"),
	}
}

// Name returns the source tag readings from this client are stored under.
func (c *Client) Name() roomenv.SourceTag {
	return roomenv.SourceNetatmo
}

// Request fetches station data in the background. The returned channel
// yields one result and is then closed.
func (c *Client) Request(ctx context.Context) <-chan roomenv.FetchResult {
	out := make(chan roomenv.FetchResult, 1)
	go func() {
		defer close(out)
		devices, raw, err := c.Fetch(ctx)
		out <- roomenv.FetchResult{Devices: devices, Raw: raw, Err: err}
	}()
	return out
}

type stationDevice struct {
	ID            string `json:"_id"`
	StationName   string `json:"station_name"`
	HomeName      string `json:"home_name"`
	DashboardData struct {
		TimeUTC     int64      `json:"time_utc"`
		Temperature null.Float `json:"Temperature"`
		Humidity    null.Float `json:"Humidity"`
		Pressure    null.Float `json:"Pressure"`
		Noise       null.Float `json:"Noise"`
		CO2         null.Float `json:"CO2"`
	} `json:"dashboard_data"`
}

func (d stationDevice) toDevice() roomenv.Device {
	dev := roomenv.Device{
		ID:          d.ID,
		StationName: d.StationName,
		HomeName:    d.HomeName,
		Dashboard: roomenv.Measurements{
			Temperature: d.DashboardData.Temperature,
			Humidity:    d.DashboardData.Humidity,
			Pressure:    d.DashboardData.Pressure,
			Noise:       d.DashboardData.Noise,
			CO2:         d.DashboardData.CO2,
		},
	}
	if d.DashboardData.TimeUTC > 0 {
		dev.MeasuredAt = time.Unix(d.DashboardData.TimeUTC, 0).UTC()
	}
	return dev
}

// Fetch returns the stations of the account along with the raw device list
// as the vendor sent it.
func (c *Client) Fetch(ctx context.Context) ([]roomenv.Device, []byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/getstationsdata", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		if errors.Is(err, errUnauthorized) {
			c.invalidateToken()
		}
		return nil, nil, fmt.Errorf("getstationsdata: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Status string `json:"status"`
		Body   struct {
			Devices json.RawMessage `json:"devices"`
		} `json:"body"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("decode station data: %w", err)
	}
	if payload.Status != "" && payload.Status != "ok" {
		return nil, nil, fmt.Errorf("station data status %q", payload.Status)
	}
	if len(payload.Body.Devices) == 0 {
		return nil, []byte("[]"), nil
	}

	var stations []stationDevice
	if err := json.Unmarshal(payload.Body.Devices, &stations); err != nil {
		return nil, nil, fmt.Errorf("decode devices: %w", err)
	}

	devices := make([]roomenv.Device, 0, len(stations))
	for _, s := range stations {
		devices = append(devices, s.toDevice())
	}

	level.Debug(c.logger).Log("msg", "fetched station data", "devices", len(devices))

	return devices, []byte(payload.Body.Devices), nil
}

// accessToken returns a cached token or requests a new one with the
// password grant.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiry) {
		return c.token, nil
	}

	if !c.creds.Complete() {
		return "", fmt.Errorf("netatmo credentials are not configured")
	}

	buildRequest := func() (*http.Request, error) {
		form := url.Values{}
		form.Set("grant_type", "password")
		form.Set("client_id", c.creds.ClientID)
		form.Set("client_secret", c.creds.ClientSecret)
		form.Set("username", c.creds.Username)
		form.Set("password", c.creds.Password)
		form.Set("scope", "read_station")

		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	c.token = tok.AccessToken
	// refresh a minute early
	c.expiry = time.Now().Add(ttl - time.Minute)

	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}
