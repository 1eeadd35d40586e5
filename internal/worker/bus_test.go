package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBusPublishAssignsIncreasingIDs(t *testing.T) {
	b := NewMessageBus()

	id1 := b.Publish(Message{Kind: MessageTickUpdate, Tick: 1})
	id2 := b.Publish(Message{Kind: MessageTickUpdate, Tick: 2})

	assert.Equal(t, int64(0), id1)
	assert.Equal(t, int64(1), id2)
}

func TestMessageBusWaitReturnsNewMessagesInOrder(t *testing.T) {
	b := NewMessageBus()
	b.Publish(Message{Kind: MessageTickUpdate, Tick: 1})
	b.Publish(Message{Kind: MessageTickUpdate, Tick: 2})

	msgs, lastID := b.Wait(-1)

	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Tick)
	assert.Equal(t, 2, msgs[1].Tick)
	assert.Equal(t, int64(1), lastID)
}

func TestMessageBusWaitSkipsAlreadySeen(t *testing.T) {
	b := NewMessageBus()
	b.Publish(Message{Kind: MessageTickUpdate, Tick: 1})
	b.Publish(Message{Kind: MessageTickUpdate, Tick: 2})

	msgs, lastID := b.Wait(0)

	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].Tick)
	assert.Equal(t, int64(1), lastID)
}

func TestMessageBusWaitBlocksUntilPublish(t *testing.T) {
	b := NewMessageBus()

	done := make(chan []Message, 1)
	go func() {
		msgs, _ := b.Wait(-1)
		done <- msgs
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before any message was published")
	case <-time.After(50 * time.Millisecond):
	}

	b.Publish(Message{Kind: MessagePush, Push: PushPayload{Text: "hello"}})

	select {
	case msgs := <-done:
		require.Len(t, msgs, 1)
		assert.Equal(t, "hello", msgs[0].Push.Text)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after publish")
	}
}

func TestMessageBusWaitDropsOlderThanCapacity(t *testing.T) {
	b := NewMessageBus()
	for i := 0; i < busCapacity+5; i++ {
		b.Publish(Message{Kind: MessageTickUpdate, Tick: i})
	}

	msgs, lastID := b.Wait(-1)

	assert.Len(t, msgs, busCapacity)
	assert.Equal(t, 5, msgs[0].Tick)
	assert.Equal(t, int64(busCapacity+4), lastID)
}

func TestMessageBusConcurrentPublishersProduceUniqueIDs(t *testing.T) {
	b := NewMessageBus()
	var wg sync.WaitGroup
	n := 100
	ids := make([]int64, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = b.Publish(Message{Kind: MessageTickUpdate, Tick: i})
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate message id %d", id)
		seen[id] = true
	}
}
