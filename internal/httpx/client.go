// Package httpx builds the HTTP clients used by the request pipeline and the
// stream manager. Both get bounded dial and header timeouts and an otelhttp
// transport so outbound calls join whatever trace the caller carries.
package httpx

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultClientTimeout         = 15 * time.Second
	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 32
	defaultMaxIdleConnsPerHost   = 8
)

// NewClient returns a client for request/response API calls. A non-positive
// timeout selects the default.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	dialTimeout := min(timeout, defaultDialTimeout)
	headerTimeout := min(timeout, defaultResponseHeaderTimeout)

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(newTransport(dialTimeout, headerTimeout)),
	}
}

// NewStreamClient returns a client for long-lived response bodies. It has no
// overall timeout; only the handshake is bounded.
func NewStreamClient(handshakeTimeout time.Duration) *http.Client {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultResponseHeaderTimeout
	}
	dialTimeout := min(handshakeTimeout, defaultDialTimeout)

	return &http.Client{
		Transport: otelhttp.NewTransport(newTransport(dialTimeout, handshakeTimeout)),
	}
}

func newTransport(dialTimeout, headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
}

// NewCookieJar returns an in-memory jar. Refresh cookies set at login live
// only here.
func NewCookieJar() http.CookieJar {
	jar, _ := cookiejar.New(nil)
	return jar
}
