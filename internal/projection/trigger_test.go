package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pku-geekgame/ctf-core/internal/store"
)

func TestTriggerGetTickAtTimeEmptyReturnsZeroAndInfinity(t *testing.T) {
	g := NewGame(nil, "", nil)
	tr := NewTrigger(g, nil)

	tick, expires := tr.GetTickAtTime(123)
	assert.Equal(t, 0, tick)
	assert.Equal(t, int64(tsInfinity), expires)
}

// TestTriggerGetTickAtTimeSelectsLatestPastTrigger exercises §8 P7: the
// tick in effect at a timestamp is that of the latest trigger whose
// timestamp is <= it, and its expiry is the next trigger's timestamp.
func TestTriggerGetTickAtTimeSelectsLatestPastTrigger(t *testing.T) {
	g := NewGame(nil, "", nil)
	rows := []store.TriggerRow{
		{ID: 1, Tick: store.BoardBeginTick, TimestampS: 0, Name: "begin"},
		{ID: 2, Tick: 1, TimestampS: 100, Name: "round1"},
		{ID: 3, Tick: 2, TimestampS: 200, Name: "round2"},
		{ID: 4, Tick: store.BoardEndTick, TimestampS: 300, Name: "end"},
	}
	tr := NewTrigger(g, rows)

	tick, expires := tr.GetTickAtTime(150)
	assert.Equal(t, 1, tick)
	assert.Equal(t, int64(200), expires)

	tick, expires = tr.GetTickAtTime(300)
	assert.Equal(t, store.BoardEndTick, tick)
	assert.Equal(t, int64(tsInfinity), expires, "the last trigger never expires")

	tick, _ = tr.GetTickAtTime(-5)
	assert.Equal(t, store.BoardBeginTick, tick, "before the first trigger falls back to it (rows are sorted ascending)")
}

func TestTriggerOnStoreReloadDerivesBoardBeginEndAndMarksReload(t *testing.T) {
	g := NewGame(nil, "", nil)
	g.NeedReloadingScoreboard = false
	tr := NewTrigger(g, nil)
	g.NeedReloadingScoreboard = false

	rows := []store.TriggerRow{
		{ID: 2, Tick: 1, TimestampS: 100, Name: "round1"},
		{ID: 1, Tick: store.BoardBeginTick, TimestampS: 10, Name: "begin"},
		{ID: 4, Tick: store.BoardEndTick, TimestampS: 500, Name: "end"},
	}
	tr.OnStoreReload(rows)

	assert.Equal(t, int64(10), tr.BoardBeginTS)
	assert.Equal(t, int64(500), tr.BoardEndTS)
	assert.True(t, g.NeedReloadingScoreboard, "reloading the trigger set must force a scoreboard replay")
}

func TestGameOnTickChangeAdvancesCurTickAndFansOut(t *testing.T) {
	chs := []store.ChallengeRow{staticFlagChallenge(t, "late", 500, "flag{x}", store.BoardBeginTick+1)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, nil)
	g.Trigger.OnStoreReload([]store.TriggerRow{
		{ID: 1, Tick: store.BoardBeginTick, TimestampS: 0, Name: "begin"},
		{ID: 2, Tick: store.BoardBeginTick + 1, TimestampS: 100, Name: "round1"},
	})

	g.OnTickChange(50)
	assert.Equal(t, store.BoardBeginTick, g.CurTick)
	assert.False(t, g.Challenges.ByKey["late"].IsEffective())

	g.OnTickChange(150)
	assert.Equal(t, store.BoardBeginTick+1, g.CurTick)
	assert.True(t, g.Challenges.ByKey["late"].IsEffective())
}
