package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/large-farva/tether/internal/httpx"
)

const maxSSELine = 1 << 20

// SSEDialer opens a Server-Sent Events stream with a GET request. The
// handshake succeeds on any 2xx with a text/event-stream body.
type SSEDialer struct {
	Client *http.Client
}

// NewSSEDialer returns an SSE dialer on a client without an overall timeout.
func NewSSEDialer() *SSEDialer {
	return &SSEDialer{Client: httpx.NewStreamClient(0)}
}

func (d *SSEDialer) Dial(ctx context.Context, hs Handshake) (Conn, error) {
	client := d.Client
	if client == nil {
		client = httpx.NewStreamClient(0)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hs.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range hs.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &HandshakeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrProtocol, resp.Header.Get("Content-Type"))
	}

	return &sseConn{body: resp.Body, br: bufio.NewReaderSize(resp.Body, 4096), hs: hs}, nil
}

type sseConn struct {
	body io.ReadCloser
	br   *bufio.Reader
	hs   Handshake
}

// Next returns the next dispatched event. Comment lines count as keepalives;
// id and retry fields are ignored since events are never replayed. An event
// with a line longer than maxSSELine is returned with no data, so it is
// dropped as malformed and reading resumes at the following event.
func (c *sseConn) Next() (Frame, error) {
	var (
		name      string
		data      bytes.Buffer
		seen      bool
		oversized bool
	)
	for {
		line, tooLong, err := c.readLine()
		if err != nil {
			return Frame{}, err
		}
		if tooLong {
			oversized = true
			data.Reset()
			continue
		}
		if len(line) == 0 {
			if oversized {
				return Frame{Name: name}, nil
			}
			if seen {
				return Frame{Name: name, Data: data.Bytes()}, nil
			}
			name = ""
			continue
		}
		if line[0] == ':' {
			c.hs.touch()
			continue
		}
		if oversized {
			continue
		}
		field, value, _ := strings.Cut(string(line), ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if seen {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			seen = true
		}
	}
}

// readLine returns one line without its terminator. A line longer than
// maxSSELine is read to its end and discarded, reported by tooLong.
func (c *sseConn) readLine() (line []byte, tooLong bool, err error) {
	for {
		var chunk []byte
		chunk, err = c.br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxSSELine+len("\r\n") {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil:
			return nil, false, err
		}
		if tooLong {
			return nil, true, nil
		}
		return bytes.TrimRight(line, "\r\n"), false, nil
	}
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
