package projection

import (
	"fmt"
	"sort"

	"github.com/pku-geekgame/ctf-core/internal/store"
)

// tsInfinity is a timestamp far enough in the future to serve as a "no next
// trigger" sentinel.
const tsInfinity = 90_000_000_000

// Trigger partitions wall-clock time into contiguous tick segments (§3,
// Glossary "Tick").
type Trigger struct {
	game          *Game
	stores        []store.TriggerRow
	triggerByTick map[int]store.TriggerRow

	BoardBeginTS int64
	BoardEndTS   int64
}

// NewTrigger builds a Trigger from the persisted rows.
func NewTrigger(game *Game, rows []store.TriggerRow) *Trigger {
	t := &Trigger{game: game}
	t.OnStoreReload(rows)
	return t
}

// OnStoreReload replaces the trigger set, re-deriving BoardBeginTS/EndTS
// (§4.9 RELOAD_TRIGGER) and marking the scoreboard for reload, since the
// tick-window boundaries participate in board rendering.
func (t *Trigger) OnStoreReload(rows []store.TriggerRow) {
	sorted := append([]store.TriggerRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampS < sorted[j].TimestampS })
	t.stores = sorted

	t.triggerByTick = make(map[int]store.TriggerRow, len(sorted))
	for _, s := range sorted {
		t.triggerByTick[s.Tick] = s
	}

	t.game.NeedReloadingScoreboard = true

	if row, ok := t.triggerByTick[store.BoardBeginTick]; ok {
		t.BoardBeginTS = row.TimestampS
	} else {
		t.game.log("error", "trigger.on_store_reload", "trigger_board_begin not found, estimating a time for it")
		if len(sorted) > 0 {
			t.BoardBeginTS = sorted[0].TimestampS
		}
	}

	if row, ok := t.triggerByTick[store.BoardEndTick]; ok {
		t.BoardEndTS = row.TimestampS
	} else {
		t.game.log("error", "trigger.on_store_reload", "trigger_board_end not found, estimating a time for it")
		if len(sorted) > 0 {
			t.BoardEndTS = sorted[len(sorted)-1].TimestampS
		}
	}
}

// GetTickAtTime returns the tick in effect at timestampS and the timestamp
// at which it expires (tsInfinity if there is no next trigger), per §8 P7.
func (t *Trigger) GetTickAtTime(timestampS int64) (tick int, expires int64) {
	if len(t.stores) == 0 {
		return 0, tsInfinity
	}

	idx := 0
	for i, s := range t.stores {
		if s.TimestampS <= timestampS {
			idx = i
		}
	}

	expires = tsInfinity
	if idx < len(t.stores)-1 {
		expires = t.stores[idx+1].TimestampS
	}
	return t.stores[idx].Tick, expires
}

// DescribeCurTick returns the name of the trigger at the current tick, the
// timestamp of the next trigger (if any), and its name.
func (t *Trigger) DescribeCurTick() (name string, nextTS *int64, nextName *string) {
	for i, s := range t.stores {
		if s.Tick == t.game.CurTick {
			name = s.Name
			if i < len(t.stores)-1 {
				ts := t.stores[i+1].TimestampS
				n := t.stores[i+1].Name
				nextTS, nextName = &ts, &n
			}
			return name, nextTS, nextName
		}
	}
	return "??", nil, nil
}

func (t *Trigger) String() string {
	return fmt.Sprintf("Trigger(%d entries)", len(t.stores))
}
