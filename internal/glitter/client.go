package glitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ActionClient is the worker/frontend side of the action channel: a plain
// HTTP client posting one ActionRequest per call (§4.9).
type ActionClient struct {
	addr string
	hc   *http.Client
}

// NewActionClient builds an ActionClient targeting addr (the reducer's
// action endpoint, e.g. "http://127.0.0.1:23330/action").
func NewActionClient(addr string) *ActionClient {
	return &ActionClient{addr: addr, hc: &http.Client{Timeout: CallTimeout}}
}

// Call sends req and waits for the reducer's reply, honoring CallTimeout.
func (c *ActionClient) Call(ctx context.Context, req ActionRequest) (ActionReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ActionReply{}, fmt.Errorf("encode action request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr, bytes.NewReader(body))
	if err != nil {
		return ActionReply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return ActionReply{}, fmt.Errorf("call action channel: %w", err)
	}
	defer resp.Body.Close()

	var rep ActionReply
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return ActionReply{}, fmt.Errorf("decode action reply: %w", err)
	}
	return rep, nil
}

// EventClient is the worker side of the event channel: a long-lived
// websocket connection delivering every Event the reducer broadcasts, in
// order, with a resync timeout matching SyncTimeout.
type EventClient struct {
	log  zerolog.Logger
	conn *websocket.Conn
}

// DialEventChannel connects to the reducer's event endpoint (e.g.
// "ws://127.0.0.1:23331/events").
func DialEventChannel(ctx context.Context, addr string, log zerolog.Logger) (*EventClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: CallTimeout}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial event channel: %w", err)
	}
	return &EventClient{log: log, conn: conn}, nil
}

// Next blocks until the next Event arrives or the connection fails. The
// caller (worker's single event-loop goroutine) is expected to call this
// in a loop and re-dial (triggering a full resync) on error.
func (c *EventClient) Next() (Event, error) {
	c.conn.SetReadDeadline(time.Now().Add(SyncTimeout))
	var ev Event
	if err := c.conn.ReadJSON(&ev); err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}
	return ev, nil
}

// Close terminates the underlying connection.
func (c *EventClient) Close() error {
	return c.conn.Close()
}
