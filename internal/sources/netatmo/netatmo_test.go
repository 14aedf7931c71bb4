package netatmo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/guregu/null"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

const stationsBody = `{
  "status": "ok",
  "body": {
    "devices": [
      {
        "_id": "70:ee:50:00:00:01",
        "station_name": "Living",
        "home_name": "Home",
        "dashboard_data": {
          "time_utc": 1672970400,
          "Temperature": 21.5,
          "Humidity": 45,
          "Pressure": 1013.2,
          "Noise": 38,
          "CO2": 612
        }
      }
    ]
  }
}`

var testCreds = Credentials{ClientID: "id", ClientSecret: "secret", Username: "user", Password: "pw"}

func newTestServer(t *testing.T, tokenCalls *int32, stations http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "read_station", r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":10800}`))
	})
	mux.HandleFunc("/api/getstationsdata", stations)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDecodesDevices(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(stationsBody))
	})

	c := NewClient(srv.Client(), srv.URL, testCreds, kitlog.NewNopLogger())

	devices, raw, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, "Home", d.Place())
	assert.Equal(t, null.FloatFrom(21.5), d.Dashboard.Temperature)
	assert.Equal(t, null.FloatFrom(612), d.Dashboard.CO2)
	assert.Equal(t, time.Unix(1672970400, 0).UTC(), d.MeasuredAt)
	assert.Contains(t, string(raw), `"station_name": "Living"`)

	// second fetch reuses the cached token
	_, _, err = c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestFetchMissingFieldsStayNull(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","body":{"devices":[{"_id":"a","station_name":"S","dashboard_data":{"Temperature":19}}]}}`))
	})

	c := NewClient(srv.Client(), srv.URL, testCreds, kitlog.NewNopLogger())

	devices, _, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "S", devices[0].Place())
	assert.False(t, devices[0].Dashboard.Noise.Valid)
	assert.False(t, devices[0].Dashboard.CO2.Valid)
}

func TestRequestDeliversOnceAndCloses(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(stationsBody))
	})

	c := NewClient(srv.Client(), srv.URL, testCreds, kitlog.NewNopLogger())
	assert.Equal(t, roomenv.SourceNetatmo, c.Name())

	ch := c.Request(context.Background())
	res, ok := <-ch
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Len(t, res.Devices, 1)

	_, ok = <-ch
	assert.False(t, ok)
}

func TestFetchUnauthorizedDropsToken(t *testing.T) {
	var tokenCalls int32
	var stationCalls int32
	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&stationCalls, 1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(stationsBody))
	})

	c := NewClient(srv.Client(), srv.URL, testCreds, kitlog.NewNopLogger())

	_, _, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stationCalls), "authorization failures are not retried")

	_, _, err = c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}

func TestFetchIncompleteCredentials(t *testing.T) {
	c := NewClient(http.DefaultClient, "http://127.0.0.1:0", Credentials{ClientID: "id"}, kitlog.NewNopLogger())

	res := <-c.Request(context.Background())
	require.Error(t, res.Err)
	assert.Nil(t, res.Devices)
}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := HTTPClientConfig{
		Client:  srv.Client(),
		Backoff: BackoffConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})

	resp, err := doRequestWithResilience(context.Background(), cfg, cb, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoRequestGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := HTTPClientConfig{
		Client:  srv.Client(),
		Backoff: BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond},
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})

	_, err := doRequestWithResilience(context.Background(), cfg, cb, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	assert.ErrorIs(t, err, errRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoRequestRejectsBadConfig(t *testing.T) {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})
	build := func() (*http.Request, error) { return http.NewRequest(http.MethodGet, "http://example.invalid", nil) }

	_, err := doRequestWithResilience(context.Background(), HTTPClientConfig{}, cb, build)
	assert.ErrorIs(t, err, errNoHTTPClient)

	_, err = doRequestWithResilience(context.Background(), HTTPClientConfig{Client: http.DefaultClient}, cb, build)
	assert.ErrorIs(t, err, errInvalidConfig)
}
