package glitter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionServerDecodesAndDispatchesToHandler(t *testing.T) {
	var got ActionRequest
	srv := NewActionServer(zerolog.Nop(), func(req ActionRequest) ActionReply {
		got = req
		return ActionReply{StateCounter: 42}
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	body, err := json.Marshal(ActionRequest{Type: ActionSubmitFlag, SSRFToken: "secret", Payload: []byte(`{"flag":"flag{x}"}`)})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rep ActionReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))

	assert.Equal(t, ActionSubmitFlag, got.Type)
	assert.Equal(t, "secret", got.SSRFToken)
	assert.Nil(t, rep.ErrorMsg)
	assert.Equal(t, int64(42), rep.StateCounter)
}

func TestActionServerMalformedBodyReturnsErrorReplyWithoutCallingHandler(t *testing.T) {
	called := false
	srv := NewActionServer(zerolog.Nop(), func(req ActionRequest) ActionReply {
		called = true
		return ActionReply{}
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rep ActionReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))

	assert.False(t, called)
	require.NotNil(t, rep.ErrorMsg)
	assert.Equal(t, int64(-1), rep.StateCounter)
}

// TestEventServerBroadcastDropsClientWithFullQueue exercises the
// non-blocking fan-out invariant: a client whose send channel is already
// full is disconnected rather than allowed to stall delivery to everyone
// else.
func TestEventServerBroadcastDropsClientWithFullQueue(t *testing.T) {
	s := NewEventServer(zerolog.Nop())

	slow := &eventClient{send: make(chan Event, 1)}
	slow.send <- Event{Type: EventTickUpdate, StateCounter: 1}
	fast := &eventClient{send: make(chan Event, sendBuffer)}

	s.clients[slow] = struct{}{}
	s.clients[fast] = struct{}{}

	s.Broadcast(Event{Type: EventTickUpdate, StateCounter: 2})

	_, slowStillConnected := s.clients[slow]
	_, fastStillConnected := s.clients[fast]
	assert.False(t, slowStillConnected, "a client whose queue was full must be dropped")
	assert.True(t, fastStillConnected)

	select {
	case ev := <-fast.send:
		assert.Equal(t, int64(2), ev.StateCounter)
	default:
		t.Fatal("fast client should have received the broadcast event")
	}
}
