package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(0)
	require.Equal(t, defaultClientTimeout, c.Timeout)
	require.NotNil(t, c.Transport)

	c = NewClient(2 * time.Second)
	require.Equal(t, 2*time.Second, c.Timeout)
}

func TestNewStreamClientHasNoOverallTimeout(t *testing.T) {
	c := NewStreamClient(time.Second)
	require.Zero(t, c.Timeout)
}

func TestClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewClient(time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}
