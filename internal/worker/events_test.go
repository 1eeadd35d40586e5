package worker

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pku-geekgame/ctf-core/internal/glitter"
	"github.com/pku-geekgame/ctf-core/internal/projection"
)

// newTestWorker builds a Worker around an already-bootstrapped, empty Game,
// with every network/storage dependency left nil: enough to exercise the
// counter bookkeeping in processEvent without a reducer or database.
func newTestWorker(t *testing.T) *Worker {
	t.Helper()

	game := projection.NewGame(nil, "", nil)
	require.NoError(t, game.Bootstrap(nil, nil, nil, nil, nil, nil))
	// Bootstrap's trigger reload always requests a scoreboard reload; these
	// tests exercise only the counter bookkeeping, so clear it rather than
	// wiring a fake repo to satisfy ReloadScoreboardIfNeeded's SQL call.
	game.NeedReloadingScoreboard = false

	log := logrus.New()
	log.SetOutput(io.Discard)

	w := &Worker{
		log:  log,
		bus:  NewMessageBus(),
		game: game,
		jobs: make(chan workerJob, 1),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func TestWorkerProcessEventAdvancesCounterOnExpectedSequence(t *testing.T) {
	w := newTestWorker(t)

	resync := w.processEvent(context.Background(), glitter.Event{
		Type: glitter.EventTickUpdate, StateCounter: 1,
	})

	assert.False(t, resync)
	assert.Equal(t, int64(1), w.stateCounter)
}

func TestWorkerProcessEventIgnoresDuplicateSync(t *testing.T) {
	w := newTestWorker(t)
	w.stateCounter = 5

	resync := w.processEvent(context.Background(), glitter.Event{
		Type: glitter.EventSync, StateCounter: 5, Data: int64(w.game.CurTick),
	})

	assert.False(t, resync)
	assert.Equal(t, int64(5), w.stateCounter)
}

func TestWorkerProcessEventDetectsGapAndRequestsResync(t *testing.T) {
	w := newTestWorker(t)
	w.stateCounter = 5

	resync := w.processEvent(context.Background(), glitter.Event{
		Type: glitter.EventTickUpdate, StateCounter: 8,
	})

	assert.True(t, resync)
	assert.Equal(t, int64(5), w.stateCounter, "a rejected event must not advance the local counter")
}

func TestWorkerProcessEventTreatsBackwardsCounterAsGap(t *testing.T) {
	w := newTestWorker(t)
	w.stateCounter = 5

	resync := w.processEvent(context.Background(), glitter.Event{
		Type: glitter.EventTickUpdate, StateCounter: 3,
	})

	assert.True(t, resync, "a counter that goes backwards is also a gap, not a no-op")
}
