// Package worker implements the read-only projection-maintaining process of
// §4.8: it handshakes with the reducer, consumes the event stream into a
// worker-local Game, and serves perform_action/local-subscriber consumers.
package worker

import "sync"

// busCapacity bounds the ring of recent local messages kept by MessageBus
// (§4.10: "the last ~32").
const busCapacity = 32

// MessageKind discriminates the variants a local message can carry.
type MessageKind int

const (
	MessageNewSubmission MessageKind = iota
	MessagePush
	MessageTickUpdate
	MessageHeartbeatSent
)

// PushPayload is the body of a MessagePush message: free-form text with an
// optional group filter (empty means "all groups").
type PushPayload struct {
	Text  string
	Group string
}

// Message is one entry of the local message bus (§4.10). ID is monotonic
// and never reused; consumers compare against their own last-seen ID to
// detect messages dropped by the ring.
type Message struct {
	ID   int64
	Kind MessageKind

	// SubmissionID is set for MessageNewSubmission.
	SubmissionID int64
	// Push is set for MessagePush.
	Push PushPayload
	// Tick is set for MessageTickUpdate.
	Tick int
}

// MessageBus is a bounded ring of recent local messages with monotonic IDs,
// shared by every in-process consumer of a worker (exposed through
// Worker.Bus; the police monitor does not read it). It is not shared across
// processes: each worker keeps
// its own independent bus fed by its own event loop.
//
// Consumers block on Wait(afterID) until a message newer than afterID
// exists, mirroring the condition-variable wait described in §4.10.
type MessageBus struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring   [busCapacity]Message
	nextID int64
}

// NewMessageBus constructs an empty bus.
func NewMessageBus() *MessageBus {
	b := &MessageBus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends a message to the ring, assigning it the next monotonic
// ID, and wakes every blocked consumer.
func (b *MessageBus) Publish(m Message) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	m.ID = b.nextID
	b.nextID++
	b.ring[m.ID%busCapacity] = m
	b.cond.Broadcast()
	return m.ID
}

// Wait blocks until a message with ID >= afterID+1 exists, then returns
// every message from max(afterID+1, oldest-retained) up to the newest,
// in order, plus the newest ID seen (for the next call's afterID). A
// caller whose afterID has fallen out of the ring's retention window
// silently skips the messages that were overwritten, per §4.10 ("skipping
// ones dropped by the ring").
func (b *MessageBus) Wait(afterID int64) ([]Message, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// nextID is the ID that will be assigned to the next publish; messages
	// published so far have ids 0..nextID-1, so a message newer than
	// afterID exists once nextID > afterID+1.
	for b.nextID <= afterID+1 {
		b.cond.Wait()
	}

	start := afterID + 1
	oldest := b.nextID - busCapacity
	if start < oldest {
		start = oldest
	}
	if start < 0 {
		start = 0
	}

	var out []Message
	for id := start; id < b.nextID; id++ {
		out = append(out, b.ring[id%busCapacity])
	}
	return out, b.nextID - 1
}
