package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"github.com/smallbiznis/ocpilink/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":        data,
		"status_code": code,
		"timestamp":   time.Now().UTC(),
	})
}

func TestDoSendsOCPIHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeEnvelope(w, ocpi.StatusSuccess, []ocpi.VersionRef{{Version: ocpi.Version221, URL: "https://peer/2.2.1"}})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), time.Second, zap.NewNop())
	ctx := correlation.WithID(context.Background(), "corr-1")

	var out []ocpi.VersionRef
	err := c.Do(ctx, Request{Op: "get_versions", Method: http.MethodGet, URL: srv.URL, Token: "secret-a"}, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, ocpi.AuthorizationHeader("secret-a"), got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.NotEmpty(t, got.Get(correlation.RequestHeaderName))
	assert.Equal(t, "corr-1", got.Get(correlation.HeaderName))
}

func TestDoClassifiesHTTPStatus(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		kind      error
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, ocpi.ErrUnknownToken, false},
		{"forbidden", http.StatusForbidden, ocpi.ErrUnknownToken, false},
		{"not_found", http.StatusNotFound, ocpi.ErrUnknownLocation, false},
		{"server_error", http.StatusBadGateway, ocpi.ErrUnableToUseClient, true},
		{"request_timeout", http.StatusRequestTimeout, ocpi.ErrUnableToUseClient, true},
		{"throttled", http.StatusTooManyRequests, ocpi.ErrUnableToUseClient, true},
		{"bad_request", http.StatusBadRequest, ocpi.ErrInvalidParameters, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := NewClient(srv.Client(), time.Second, zap.NewNop())
			err := c.Do(context.Background(), Request{Op: "get_versions", Method: http.MethodGet, URL: srv.URL, Token: "s3cr3t-peer-credential"}, nil)

			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, tc.retryable, ocpi.IsRetryable(err))
			assert.NotContains(t, err.Error(), "s3cr3t-peer-credential")
		})
	}
}

func TestDoClassifiesBodyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, ocpi.StatusUnknownToken, nil)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), time.Second, zap.NewNop())
	err := c.Do(context.Background(), Request{Op: "get_versions", Method: http.MethodGet, URL: srv.URL, Token: "t"}, nil)

	assert.ErrorIs(t, err, ocpi.ErrUnknownToken)
	assert.False(t, ocpi.IsRetryable(err))
}

func TestDoTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.Client(), 50*time.Millisecond, zap.NewNop())
	err := c.Do(context.Background(), Request{Op: "get_versions", Method: http.MethodGet, URL: srv.URL, Token: "t"}, nil)

	assert.ErrorIs(t, err, ocpi.ErrNoMatchingEndpoints)
	assert.True(t, ocpi.IsRetryable(err))
}

func TestDoAcceptsZonelessTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"version":"2.2.1","url":"https://peer/2.2.1"}],"status_code":1000,"timestamp":"2015-06-29T20:39:09"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), time.Second, zap.NewNop())
	var out []ocpi.VersionRef
	err := c.Do(context.Background(), Request{Op: "get_versions", Method: http.MethodGet, URL: srv.URL, Token: "t"}, &out)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ocpi.Version221, out[0].Version)
	assert.Equal(t, "https://peer/2.2.1", out[0].URL)
}

func TestDoMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>nope</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), time.Second, zap.NewNop())
	var out []ocpi.VersionRef
	err := c.Do(context.Background(), Request{Op: "get_versions", Method: http.MethodGet, URL: srv.URL, Token: "t"}, &out)

	assert.ErrorIs(t, err, ocpi.ErrNoMatchingEndpoints)
	assert.False(t, ocpi.IsRetryable(err))
}

func TestDoPostsJSONBody(t *testing.T) {
	var received ocpi.Credentials
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		writeEnvelope(w, ocpi.StatusSuccess, ocpi.Credentials{Token: "token-c"})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), time.Second, zap.NewNop())
	var out ocpi.Credentials
	err := c.Do(context.Background(), Request{
		Op:     "post_credentials",
		Method: http.MethodPost,
		URL:    srv.URL,
		Token:  "token-a",
		Body:   ocpi.Credentials{Token: "token-b", URL: "https://us/versions"},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "token-b", received.Token)
	assert.Equal(t, "token-c", out.Token)
}
