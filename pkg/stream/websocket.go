package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LastEventIDHeader carries the resume token on the upgrade request
const LastEventIDHeader = "Last-Event-ID"

// WebSocketTransport dials a websocket event stream
type WebSocketTransport struct {
	URL    string
	Header http.Header
	// Resume is true when the server continues after Last-Event-ID
	Resume bool
	Dialer *websocket.Dialer
}

var _ Transport = (*WebSocketTransport)(nil)

// HandshakeError is a rejected upgrade request
type HandshakeError struct {
	URL    string
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake %s: status %d: %v", e.URL, e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// HTTPStatus lets classification map the rejection by status
func (e *HandshakeError) HTTPStatus() int { return e.Status }

// Dial opens the websocket, sending resumeToken as Last-Event-ID when set
func (t *WebSocketTransport) Dial(ctx context.Context, resumeToken string) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := t.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if resumeToken != "" {
		header.Set(LastEventIDHeader, resumeToken)
	}

	c, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &HandshakeError{URL: t.URL, Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return &wsConn{conn: c}, nil
}

// SupportsResume reports whether Last-Event-ID is honored
func (t *WebSocketTransport) SupportsResume() bool {
	return t.Resume
}

type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Read returns the next text or binary frame. The read deadline follows ctx
// and cancellation unblocks a pending read.
func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
				return nil, context.DeadlineExceeded
			}
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("stream closed by server: %w", err)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
