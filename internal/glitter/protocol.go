// Package glitter implements the reducer/worker wire protocol of §4.9: a
// request/reply action channel (worker or frontend → reducer), carried as
// JSON over HTTP POST, and a pub/sub event channel (reducer → every
// worker), carried as JSON messages over gorilla/websocket, since only a
// stable framing is required, not any particular transport.
package glitter

import "time"

// ProtocolVersion is exchanged during WorkerHello so mismatched binaries
// fail fast instead of silently diverging.
const ProtocolVersion = "glitter.v1"

// CallTimeout bounds how long an action caller waits for a reply.
const CallTimeout = 5 * time.Second

// SyncInterval is how often the reducer broadcasts a SYNC event (workers
// also reuse it as their heartbeat period), and SyncTimeout is the read
// deadline a worker's event connection sets before waiting for the next
// event; a connection that stays silent longer is treated as dead.
const (
	SyncInterval = 3 * time.Second
	SyncTimeout  = 7 * time.Second
)

// ActionType enumerates the requests a worker or frontend can send to the
// reducer over the action channel (§4.9).
type ActionType string

const (
	ActionWorkerHello     ActionType = "worker_hello"
	ActionWorkerHeartbeat ActionType = "worker_heartbeat"
	ActionRegUser         ActionType = "reg_user"
	ActionUpdateProfile   ActionType = "update_profile"
	ActionAgreeTerm       ActionType = "agree_term"
	ActionSubmitFlag      ActionType = "submit_flag"
	ActionSubmitFeedback  ActionType = "submit_feedback"
)

// EventType enumerates the messages the reducer broadcasts to every
// worker over the event channel (§4.9).
type EventType byte

const (
	EventSync EventType = 0x01

	EventReloadGamePolicy EventType = 0x11
	EventReloadTrigger    EventType = 0x12

	EventUpdateAnnouncement EventType = 0x21
	EventUpdateChallenge    EventType = 0x22
	EventUpdateUser         EventType = 0x23
	EventUpdateSubmission   EventType = 0x24

	EventNewSubmission EventType = 0x31
	EventTickUpdate    EventType = 0x32
)

// ActionRequest is one envelope sent on the action channel. Payload carries
// the action-specific fields (deferred decoding: handlers unmarshal it into
// the concrete request struct once Type is known), mirroring the
// original's single JSON dict with a discriminant "type" field.
type ActionRequest struct {
	Type      ActionType `json:"type"`
	SSRFToken string     `json:"ssrf_token"`
	Payload   []byte     `json:"payload"`
}

// ActionReply is the envelope returned for every ActionRequest. ErrorMsg is
// nil on success; StateCounter is the reducer's counter value immediately
// after applying this action (or unchanged, for a pure query/validation
// failure), satisfying the post-pre invariant of §4.6.
type ActionReply struct {
	ErrorMsg     *string `json:"error_msg"`
	StateCounter int64   `json:"state_counter"`
}

// Event is one envelope broadcast on the event channel. StateCounter is the
// reducer's counter value after the change this event announces; Data
// carries a type-specific identifier (a row id, or the new tick number for
// EventTickUpdate) so the worker can re-fetch the changed row from SQL
// rather than receiving a bulkier payload on the event channel.
type Event struct {
	Type         EventType `json:"type"`
	StateCounter int64     `json:"state_counter"`
	Data         int64     `json:"data"`
}
