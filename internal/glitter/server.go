package glitter

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// sendBuffer bounds how many outgoing envelopes a slow worker connection
// may queue before it is dropped, the standard buffered-per-client-channel
// pattern for websocket fan-out broadcasting.
const sendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventServer is the reducer side of the event channel (§4.9): it accepts
// one websocket connection per worker and fans every Event out to all of
// them. The reducer's single owning goroutine calls Broadcast; connection
// bookkeeping is internally synchronized so Broadcast never blocks on a
// slow worker.
type EventServer struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	conn *websocket.Conn
	send chan Event
}

// NewEventServer constructs an EventServer logging transport diagnostics
// through log.
func NewEventServer(log zerolog.Logger) *EventServer {
	return &EventServer{log: log, clients: make(map[*eventClient]struct{})}
}

// ServeHTTP upgrades an incoming worker connection and pumps queued events
// to it until it disconnects.
func (s *EventServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("event channel upgrade failed")
		return
	}

	c := &eventClient{conn: conn, send: make(chan Event, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.log.Info().Msg("worker connected to event channel")
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
		s.log.Info().Msg("worker disconnected from event channel")
	}()

	go s.readPings(c)

	for ev := range c.send {
		conn.SetWriteDeadline(time.Now().Add(CallTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Warn().Err(err).Msg("event write failed, dropping worker")
			return
		}
	}
}

// readPings drains (and discards) any frames the worker sends on this
// connection, purely to notice disconnects promptly; the event channel is
// otherwise one-directional.
func (s *EventServer) readPings(c *eventClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast enqueues ev for delivery to every connected worker. A worker
// whose queue is already full is dropped rather than allowed to stall the
// broadcaster (the standard non-blocking-broadcast-loop idiom).
func (s *EventServer) Broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			s.log.Warn().Msg("worker event queue full, disconnecting")
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// ActionHandler is invoked once per decoded ActionRequest; implementations
// live in internal/reducer and run on the reducer's single owning
// goroutine (the HTTP handler only decodes/encodes JSON).
type ActionHandler func(req ActionRequest) ActionReply

// ActionServer is the reducer side of the action channel (§4.9): a plain
// request/reply JSON endpoint, deliberately not a websocket, since every
// call is independent and short-lived.
type ActionServer struct {
	log     zerolog.Logger
	handler ActionHandler
}

// NewActionServer constructs an ActionServer dispatching every decoded
// request to handler.
func NewActionServer(log zerolog.Logger, handler ActionHandler) *ActionServer {
	return &ActionServer{log: log, handler: handler}
}

func (s *ActionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Warn().Err(err).Msg("malformed action request")
		msg := "malformed packet"
		writeReply(w, ActionReply{ErrorMsg: &msg, StateCounter: -1})
		return
	}

	rep := s.handler(req)
	writeReply(w, rep)
}

func writeReply(w http.ResponseWriter, rep ActionReply) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rep)
}
