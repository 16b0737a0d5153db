package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A" || r.Header.Get(DefaultAntiForgeryHeader) == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, ": hello\n\n")
		flusher.Flush()
		for _, f := range frames {
			_, _ = fmt.Fprint(w, f)
			flusher.Flush()
		}
		<-r.Context().Done()
	}
}

func TestSSEDialerParsesFrames(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"category\":\"contract\",\"id\":1}\n\n",
		"event: customer\ndata: {\"id\":\n",
		"data: 2}\n\n",
		"id: 7\nretry: 1000\ndata: not-json\n\n",
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var keepalives atomic.Int32
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer A")
	hdr.Set(DefaultAntiForgeryHeader, "xsrf")
	conn, err := (&SSEDialer{Client: srv.Client()}).Dial(ctx, Handshake{
		URL:       srv.URL,
		Header:    hdr,
		Keepalive: func() { keepalives.Add(1) },
	})
	require.NoError(t, err)
	defer conn.Close()

	f, err := conn.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"category":"contract","id":1}`, string(f.Data))
	assert.Equal(t, int32(1), keepalives.Load())

	f, err = conn.Next()
	require.NoError(t, err)
	assert.Equal(t, "customer", f.Name)
	assert.Equal(t, "{\"id\":\n2}", string(f.Data))

	f, err = conn.Next()
	require.NoError(t, err)
	assert.Equal(t, "not-json", string(f.Data))

	cancel()
	_, err = conn.Next()
	require.Error(t, err)
}

func TestSSEDialerRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(sseHandler(nil))
	defer srv.Close()

	_, err := (&SSEDialer{Client: srv.Client()}).Dial(context.Background(), Handshake{URL: srv.URL, Header: http.Header{}})
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, http.StatusForbidden, hsErr.Status)
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestSSEDialerRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := (&SSEDialer{Client: srv.Client()}).Dial(context.Background(), Handshake{URL: srv.URL})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestManagerOverSSE(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"category\":\"contract\"}\n\n",
		"data: {broken\n\n",
		"data: {\"category\":\"property\"}\n\n",
	}))
	defer srv.Close()

	af := &fakeAntiForgery{}
	m, _, _ := newTestManager(t, &SSEDialer{Client: srv.Client()}, func(o *Options) {
		o.URL = srv.URL
		o.AntiForgery = af
	})
	sink := &collector{}
	m.Subscribe(sink)

	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "contract", sink.events()[0].Category)
	assert.Equal(t, "property", sink.events()[1].Category)
	assert.Equal(t, Open, m.State())
	m.Close()
}

func TestSSEOversizedLineDropsOnlyThatEvent(t *testing.T) {
	huge := `{"category":"property","blob":"` + strings.Repeat("x", maxSSELine) + `"}`
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"category\":\"contract\"}\n\n",
		"event: property\ndata: " + huge + "\ndata: tail\n\n",
		"data: {\"category\":\"customer\"}\r\n\r\n",
	}))
	defer srv.Close()

	af := &fakeAntiForgery{}
	m, _, rec := newTestManager(t, &SSEDialer{Client: srv.Client()}, func(o *Options) {
		o.URL = srv.URL
		o.AntiForgery = af
	})
	sink := &collector{}
	m.Subscribe(sink)

	malformed := getCounterValue(t, framesTotal.WithLabelValues(frameMalformed))
	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "contract", sink.events()[0].Category)
	assert.Equal(t, "customer", sink.events()[1].Category)
	assert.Equal(t, Open, m.State())
	assert.Zero(t, rec.count(Reconnecting), "an oversized line must not drop the connection")
	assert.Equal(t, malformed+1, getCounterValue(t, framesTotal.WithLabelValues(frameMalformed)))
	m.Close()
}

func TestWebSocketDialer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteControl(websocket.PingMessage, []byte("p"), time.Now().Add(time.Second))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"category":"contract"}`))
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	var keepalives atomic.Int32
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer A")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := NewWebSocketDialer().Dial(ctx, Handshake{URL: srv.URL, Header: hdr, Keepalive: func() { keepalives.Add(1) }})
	require.NoError(t, err)

	f, err := conn.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"category":"contract"}`, string(f.Data))
	assert.Equal(t, int32(1), keepalives.Load())
	require.NoError(t, conn.Close())

	_, err = NewWebSocketDialer().Dial(context.Background(), Handshake{URL: srv.URL, Header: http.Header{}})
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, http.StatusUnauthorized, hsErr.Status)
}

func TestWebSocketDialerUnblocksOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := NewWebSocketDialer().Dial(ctx, Handshake{URL: srv.URL})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Next()
		errc <- err
	}()
	cancel()
	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
	_ = conn.Close()
}

func TestParseEvent(t *testing.T) {
	now := time.Now()
	for _, tc := range []struct {
		name     string
		frame    Frame
		category string
		wantErr  bool
	}{
		{name: "category field", frame: Frame{Data: []byte(`{"category":"a","x":1}`)}, category: "a"},
		{name: "event name fallback", frame: Frame{Name: "b", Data: []byte(`{"x":1}`)}, category: "b"},
		{name: "field beats name", frame: Frame{Name: "b", Data: []byte(`{"category":"c"}`)}, category: "c"},
		{name: "not json", frame: Frame{Data: []byte(`nope`)}, wantErr: true},
		{name: "array", frame: Frame{Data: []byte(`[1,2]`)}, wantErr: true},
		{name: "null", frame: Frame{Data: []byte(`null`)}, wantErr: true},
		{name: "no category", frame: Frame{Data: []byte(`{"x":1}`)}, wantErr: true},
		{name: "numeric category", frame: Frame{Data: []byte(`{"category":5}`)}, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := parseEvent(tc.frame, now)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrProtocol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.category, ev.Category)
			assert.Equal(t, now, ev.ReceivedAt)
		})
	}
}
