package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

// newTestClient builds a client pointed at the given test server with
// fast retries.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := NewClient(testLogger(), &Config{
		Token:     "test-token",
		AccountID: 42,
		BaseURL:   baseURL,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	})
	require.NoError(t, err)

	return c
}

// writeEnvelope writes a success response in the API's envelope shape.
func writeEnvelope(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	w.Header().Set("Content-Type", "application/json")
	_, err = fmt.Fprintf(w, `{"status":{"code":200,"is_success":true,"user_message":"Success!","developer_message":""},"data":%s}`, raw)
	require.NoError(t, err)
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		wantErr   bool
		errSubstr string
	}{
		{
			name:      "nil config",
			cfg:       nil,
			wantErr:   true,
			errSubstr: "configuration",
		},
		{
			name:      "missing token",
			cfg:       &Config{AccountID: 42},
			wantErr:   true,
			errSubstr: "api token is required",
		},
		{
			name:      "missing account id",
			cfg:       &Config{Token: "tok"},
			wantErr:   true,
			errSubstr: "account id",
		},
		{
			name:      "negative account id",
			cfg:       &Config{Token: "tok", AccountID: -1},
			wantErr:   true,
			errSubstr: "account id",
		},
		{
			name: "valid",
			cfg:  &Config{Token: "tok", AccountID: 42},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(testLogger(), tt.cfg)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)

				var cfgErr *ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, c)
		})
	}
}

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		host    string
		want    string
	}{
		{
			name: "defaults to cloud.getdbt.com",
			want: "https://cloud.getdbt.com/api/v2",
		},
		{
			name:    "explicit base url",
			baseURL: "https://emea.dbt.com/api/v2",
			want:    "https://emea.dbt.com/api/v2",
		},
		{
			name:    "explicit base url trailing slash trimmed",
			baseURL: "https://emea.dbt.com/api/v2/",
			want:    "https://emea.dbt.com/api/v2",
		},
		{
			name: "bare host gains scheme and api path",
			host: "emea.dbt.com",
			want: "https://emea.dbt.com/api/v2",
		},
		{
			name: "host with scheme keeps it",
			host: "http://localhost:8580",
			want: "http://localhost:8580/api/v2",
		},
		{
			name: "host whitespace and trailing slash normalized",
			host: " au.dbt.com/ ",
			want: "https://au.dbt.com/api/v2",
		},
		{
			name:    "base url wins over host",
			baseURL: "https://custom.example.com/api/v2",
			host:    "emea.dbt.com",
			want:    "https://custom.example.com/api/v2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveBaseURL(tt.baseURL, tt.host))
		})
	}
}

func TestClient_AuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		writeEnvelope(t, w, []Environment{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.ListEnvironments(context.Background())
	require.NoError(t, err)
}

func TestClient_ListEnvironments_Paginates(t *testing.T) {
	var requests atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		assert.Equal(t, "/accounts/42/environments/", r.URL.Path)

		// First page is full, second is short.
		if r.URL.Query().Get("offset") == "" {
			page := make([]Environment, environmentsPageSize)
			for i := range page {
				page[i] = Environment{ID: int64(i + 1), Name: fmt.Sprintf("env-%d", i+1)}
			}

			writeEnvelope(t, w, page)

			return
		}

		assert.Equal(t, "100", r.URL.Query().Get("offset"))
		writeEnvelope(t, w, []Environment{{ID: 101, Name: "last"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	envs, err := c.ListEnvironments(context.Background())
	require.NoError(t, err)
	assert.Len(t, envs, 101)
	assert.Equal(t, int64(2), requests.Load())
	assert.Equal(t, "last", envs[100].Name)
}

func TestClient_ListRuns_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/42/runs/", r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "7", q.Get("environment_id"))
		assert.Equal(t, "-created_at", q.Get("order_by"))
		assert.Equal(t, "25", q.Get("limit"))

		// The server accepts no range-comparison parameters; the
		// client must never send them.
		for key := range q {
			assert.NotContains(t, key, "__gte")
			assert.NotContains(t, key, "__lte")
			assert.NotContains(t, key, "__range")
		}

		writeEnvelope(t, w, []Run{{ID: 1, EnvironmentID: 7}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	runs, err := c.ListRuns(context.Background(), 7, 25, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(1), runs[0].ID)
}

func TestClient_ListRuns_InvalidLimit(t *testing.T) {
	var requests atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		writeEnvelope(t, w, []Run{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	for _, limit := range []int{0, -5} {
		_, err := c.ListRuns(context.Background(), 7, limit, "")
		require.Error(t, err)

		var cfgErr *ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	}

	// Fails fast, before any network call.
	assert.Equal(t, int64(0), requests.Load())
}

func TestClient_RequestError_CarriesServerMessage(t *testing.T) {
	var requests atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"status": {
				"code": 400,
				"is_success": false,
				"user_message": "Invalid filter parameters.",
				"developer_message": ""
			},
			"data": "created_at__range is not a valid field",
			"extra": {},
			"error_code": null
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.ListRuns(context.Background(), 7, 10, "")
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Equal(t, "Invalid filter parameters.", reqErr.Message)
	assert.Equal(t, "created_at__range is not a valid field", reqErr.Detail)

	// 4xx is not retryable.
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int64(1), requests.Load())
}

func TestClient_ServerError_RetriesWithBackoff(t *testing.T) {
	var requests atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		writeEnvelope(t, w, []Run{{ID: 99}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	runs, err := c.ListRuns(context.Background(), 7, 10, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(99), runs[0].ID)
	assert.Equal(t, int64(3), requests.Load())
}

func TestClient_ServerError_ExhaustsRetries(t *testing.T) {
	var requests atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.ListRuns(context.Background(), 7, 10, "")
	require.Error(t, err)

	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusServiceUnavailable, srvErr.StatusCode)
	assert.Equal(t, int64(3), requests.Load())
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(t, w, []Environment{})
	}))
	// Close immediately so every connection is refused.
	srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.ListEnvironments(context.Background())
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, IsRetryable(err))
}

func TestClient_GetRun(t *testing.T) {
	tests := []struct {
		name         string
		includeSteps bool
		wantRelated  string
	}{
		{
			name:         "with steps",
			includeSteps: true,
			wantRelated:  "run_steps",
		},
		{
			name:        "without steps",
			wantRelated: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/accounts/42/runs/123/", r.URL.Path)
				assert.Equal(t, tt.wantRelated, r.URL.Query().Get("include_related"))

				run := Run{ID: 123, Status: RunStatusSuccess, StatusHumanized: "Success"}
				if tt.includeSteps {
					run.RunSteps = []Step{{Index: 1, Logs: "step one"}}
				}

				writeEnvelope(t, w, run)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)

			run, err := c.GetRun(context.Background(), 123, tt.includeSteps)
			require.NoError(t, err)
			assert.Equal(t, int64(123), run.ID)

			if tt.includeSteps {
				require.Len(t, run.RunSteps, 1)
			} else {
				assert.Empty(t, run.RunSteps)
			}
		})
	}
}

func TestClient_GetStepLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "run_steps", r.URL.Query().Get("include_related"))

		writeEnvelope(t, w, Run{
			ID: 123,
			RunSteps: []Step{
				{Index: 1, Logs: "first", DebugLogs: "first debug"},
				{Index: 2, Logs: "", TruncatedDebugLogs: "second truncated"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	text, err := c.GetStepLog(context.Background(), 123, 1, false)
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	text, err = c.GetStepLog(context.Background(), 123, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "first debug", text)

	// Falls back when the preferred stream is empty.
	text, err = c.GetStepLog(context.Background(), 123, 2, false)
	require.NoError(t, err)
	assert.Equal(t, "second truncated", text)

	_, err = c.GetStepLog(context.Background(), 123, 9, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no step with index 9")
}

func TestClient_GetRunArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/42/runs/123/artifacts/manifest.json", r.URL.Path)

		// Artifacts come back raw, without the envelope.
		_, _ = w.Write([]byte(`{"nodes":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	body, err := c.GetRunArtifact(context.Background(), 123, "/manifest.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":{}}`, string(body))
}
