package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/eld-roster-crawler/internal/retry"
	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
)

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

type alertCall struct {
	service  string
	attempts int
	cause    error
}

type recordingAlerter struct {
	mu    sync.Mutex
	calls []alertCall
}

func (a *recordingAlerter) Raise(_ context.Context, service string, attempts int, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alertCall{service: service, attempts: attempts, cause: cause})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordingPauser, *recordingAlerter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pauser := &recordingPauser{}
	alerter := &recordingAlerter{}
	client, err := New(Config{
		BaseURL:     srv.URL + "/",
		Credentials: Credentials{Username: "ops@example.com", Password: "s3cret"},
		UserAgent:   "roster-test",
	}, WithPauser(pauser), WithAlerter(alerter), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client, pauser, alerter
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	for _, creds := range []Credentials{{}, {Username: "u"}, {Password: "p"}} {
		_, err := New(Config{Credentials: creds})
		require.ErrorIs(t, err, ErrCredentialMissing)
	}
}

func TestBasicAuthHeader(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Basic dTpw", BasicAuthHeader("u", "p"))
	assert.Equal(t, "Basic b3BzQGV4YW1wbGUuY29tOnMzY3JldA==", BasicAuthHeader("ops@example.com", "s3cret"))
}

func TestAuthenticateRequestShape(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/authentication", r.URL.Path)
		assert.Equal(t, BasicAuthHeader("ops@example.com", "s3cret"), r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "roster-test", r.Header.Get("User-Agent"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"accessToken":"T1"}`))
	})

	token, err := client.Authenticate(context.Background(), roster.NumericCompanyID(42))
	require.NoError(t, err)
	assert.Equal(t, "T1", token)
	assert.Equal(t, map[string]any{
		"company":  float64(42),
		"email":    "ops@example.com",
		"password": "s3cret",
		"rCode":    "hero",
		"strategy": "local",
	}, gotBody)
}

func TestAuthenticateTokenRules(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		body  string
		want  string
		found bool
	}{
		{"accessToken", `{"accessToken":"A"}`, "A", true},
		{"token", `{"token":"B"}`, "B", true},
		{"data.token", `{"data":{"token":"C"}}`, "C", true},
		{"data.accessToken", `{"data":{"accessToken":"D"}}`, "D", true},
		{"precedence", `{"token":"B","accessToken":"A","data":{"token":"C"}}`, "A", true},
		{"empty falls through", `{"accessToken":"","data":{"accessToken":"D"}}`, "D", true},
		{"non-string ignored", `{"accessToken":123,"token":"B"}`, "B", true},
		{"none", `{"user":{"id":1}}`, "", false},
		{"data not object", `{"data":"x"}`, "", false},
		{"not json", `<html>`, "", false},
		{"array", `["A"]`, "", false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, _, ok := extractToken([]byte(tc.body))
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAuthenticateRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, pauser, alerter := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"token":"late"}}`))
	})

	token, err := client.Authenticate(context.Background(), roster.StringCompanyID("c-1"))
	require.NoError(t, err)
	assert.Equal(t, "late", token)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{700 * time.Millisecond, 1400 * time.Millisecond}, pauser.delays)
	assert.Empty(t, alerter.calls)
}

func TestAuthenticateExhaustionAlertsOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _, alerter := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad password"}`))
	})

	_, err := client.Authenticate(context.Background(), roster.NumericCompanyID(7))
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, "7", authErr.CompanyID)
	assert.Equal(t, `auth failed for company 7: 401 Unauthorized - {"message":"bad password"}`, err.Error())

	require.Len(t, alerter.calls, 1)
	assert.Equal(t, ServiceAuthenticate, alerter.calls[0].service)
	assert.Equal(t, 3, alerter.calls[0].attempts)
	assert.Same(t, err, alerter.calls[0].cause)
}

func TestAuthenticateTokenMissingIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _, alerter := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	_, err := client.Authenticate(context.Background(), roster.NumericCompanyID(1))
	require.ErrorIs(t, err, ErrTokenMissing)
	var missing *TokenMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "1", missing.CompanyID)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, alerter.calls, 1)
}

func TestAuthenticateCancelledRaisesNoAlert(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client, _, alerter := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Authenticate(ctx, roster.NumericCompanyID(1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, alerter.calls)
}

func TestAuthenticateOperator(t *testing.T) {
	t.Parallel()

	var company any = "unset"
	client, _, alerter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		company = body["company"]
		_, _ = w.Write([]byte(`{"accessToken":"OP"}`))
	})

	token, err := client.AuthenticateOperator(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OP", token)
	assert.Nil(t, company)
	assert.Empty(t, alerter.calls)
}

func TestErrorBodyTruncated(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
	})
	client.cfg.Retry = retry.Policy{Attempts: 1}

	_, err := client.FetchRoster(context.Background(), "T")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Len(t, fetchErr.Body, maxErrorBody+len("..."))
	assert.Equal(t, "drivers", fetchErr.Resource)
}
