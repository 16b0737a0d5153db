package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/tether/internal/credential"
	"github.com/large-farva/tether/internal/log"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func newAuthServer(t *testing.T, antiForgeryCalls *atomic.Int32, logoutCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Password != "hunter2" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"accessToken": "A",
			"deviceId":    creds.DeviceID,
		}})
	})
	mux.HandleFunc("/auth/antiforgery", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		antiForgeryCalls.Add(1)
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"token": "xsrf-1"}})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		logoutCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginInstallsSessionWithDeviceID(t *testing.T) {
	var af, lo atomic.Int32
	srv := newAuthServer(t, &af, &lo)
	store := credential.NewStore()
	nop := log.Nop()
	c := New(Options{BaseURL: srv.URL, Store: store, Logger: &nop})

	require.NoError(t, c.Login(context.Background(), "ops", "hunter2"))
	cred := store.Get()
	assert.Equal(t, "A", cred.AccessToken)
	assert.NotEmpty(t, cred.DeviceID)

	first := cred.DeviceID
	require.NoError(t, c.Login(context.Background(), "ops", "hunter2"))
	assert.Equal(t, first, store.Get().DeviceID, "device id is stable across logins")
}

func TestLoginRejected(t *testing.T) {
	var af, lo atomic.Int32
	srv := newAuthServer(t, &af, &lo)
	store := credential.NewStore()
	nop := log.Nop()
	c := New(Options{BaseURL: srv.URL, Store: store, Logger: &nop})

	err := c.Login(context.Background(), "ops", "wrong")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.False(t, store.Authenticated())
}

func TestAntiForgeryTokenFetchedOnceAndCached(t *testing.T) {
	var af, lo atomic.Int32
	srv := newAuthServer(t, &af, &lo)
	store := credential.NewStore()
	store.Login("A", "d")
	nop := log.Nop()
	c := New(Options{BaseURL: srv.URL, Store: store, Logger: &nop})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.AntiForgeryToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "xsrf-1", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), af.Load())
	assert.Equal(t, "xsrf-1", store.Get().AntiForgeryToken)

	c.InvalidateAntiForgery()
	_, err := c.AntiForgeryToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), af.Load())
}

func TestAntiForgeryFetchDoesNotOutliveInvalidation(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/antiforgery", func(w http.ResponseWriter, _ *http.Request) {
		tok := "xsrf-new"
		if calls.Add(1) == 1 {
			<-release
			tok = "xsrf-old"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"token": tok}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := credential.NewStore()
	store.Login("A", "d")
	nop := log.Nop()
	c := New(Options{BaseURL: srv.URL, Store: store, Logger: &nop})

	first := make(chan string, 1)
	go func() {
		tok, _ := c.AntiForgeryToken(context.Background())
		first <- tok
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.InvalidateAntiForgery()
	tok, err := c.AntiForgeryToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xsrf-new", tok, "a fetch after invalidation must not join the earlier one")

	close(release)
	assert.Equal(t, "xsrf-old", <-first)
	assert.Equal(t, "xsrf-new", store.Get().AntiForgeryToken, "the earlier fetch must not overwrite the cache")
	assert.Equal(t, int32(2), calls.Load())
}

func TestAntiForgeryFetchAfterClearIsNotCached(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/antiforgery", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"token": "xsrf-old"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := credential.NewStore()
	store.Login("A", "d")
	nop := log.Nop()
	c := New(Options{BaseURL: srv.URL, Store: store, Logger: &nop})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.AntiForgeryToken(context.Background())
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	store.Clear()
	close(release)
	<-done

	assert.Empty(t, store.Get().AntiForgeryToken)
	store.Login("B", "d")
	assert.Empty(t, store.Get().AntiForgeryToken, "a new session starts without a cached token")
}

func TestLogoutClearsWithoutExpirySignal(t *testing.T) {
	var af, lo atomic.Int32
	srv := newAuthServer(t, &af, &lo)
	store := credential.NewStore()
	store.Login("A", "d")
	nop := log.Nop()
	expired := false
	c := New(Options{BaseURL: srv.URL, Store: store, Logger: &nop, OnSessionExpired: func() { expired = true }})

	before := getCounterValue(t, sessionExpiredTotal)
	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, int32(1), lo.Load())
	assert.False(t, store.Authenticated())
	assert.False(t, expired)
	assert.Equal(t, before, getCounterValue(t, sessionExpiredTotal))

	require.NoError(t, c.Logout(context.Background()), "logout when logged out is a no-op")
	assert.Equal(t, int32(1), lo.Load())
}

func TestRequestOutcomeMetrics(t *testing.T) {
	f := &fakeAPI{valid: "A"}
	c, store := newTestClient(t, f, nil)
	store.Login("A", "d")

	before := getCounterValue(t, requestsTotal.WithLabelValues(outcomeOK))
	require.NoError(t, c.GetJSON(context.Background(), "/api/x", nil))
	assert.Equal(t, before+1, getCounterValue(t, requestsTotal.WithLabelValues(outcomeOK)))
}
