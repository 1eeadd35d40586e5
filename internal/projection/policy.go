package projection

import (
	"sort"

	"github.com/pku-geekgame/ctf-core/internal/store"
)

// GamePolicy tracks which policy row is active at the current tick, per §3
// ("the active policy at tick T is the policy with the largest
// effective_after ≤ T; a conservative fallback applies when none exists").
type GamePolicy struct {
	game *Game

	stores []store.GamePolicyRow

	// CurPolicy is nil (conservative, all-false fallback) when no policy
	// row has effective_after ≤ the current tick.
	CurPolicy *store.GamePolicyRow
}

// NewGamePolicy builds a GamePolicy from the persisted rows.
func NewGamePolicy(game *Game, rows []store.GamePolicyRow) *GamePolicy {
	p := &GamePolicy{game: game}
	p.OnStoreReload(rows)
	return p
}

// OnStoreReload replaces the policy set (§4.9 RELOAD_GAME_POLICY) and
// recomputes the active policy.
func (p *GamePolicy) OnStoreReload(rows []store.GamePolicyRow) {
	sorted := append([]store.GamePolicyRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EffectiveAfter < sorted[j].EffectiveAfter })
	p.stores = sorted

	p.OnTickChange()
	p.game.NeedReloadingScoreboard = true
}

// GetPolicyAtTick returns the policy in effect at tick, or nil if none
// applies yet.
func (p *GamePolicy) GetPolicyAtTick(tick int) *store.GamePolicyRow {
	var ret *store.GamePolicyRow
	for i := range p.stores {
		if p.stores[i].EffectiveAfter <= tick {
			row := p.stores[i]
			ret = &row
		}
	}
	return ret
}

// GetPolicyAtTime returns the policy in effect at a given wall-clock time,
// via the trigger table's tick lookup.
func (p *GamePolicy) GetPolicyAtTime(timestampS int64) *store.GamePolicyRow {
	tick, _ := p.game.Trigger.GetTickAtTime(timestampS)
	return p.GetPolicyAtTick(tick)
}

// OnTickChange implements Lifecycle.
func (p *GamePolicy) OnTickChange() { p.CurPolicy = p.GetPolicyAtTick(p.game.CurTick) }

// OnScoreboardReset implements Lifecycle (policy carries no scoreboard-
// derived state).
func (p *GamePolicy) OnScoreboardReset() {}

// OnScoreboardUpdate implements Lifecycle.
func (p *GamePolicy) OnScoreboardUpdate(_ *Submission, _ bool) {}

// OnScoreboardBatchUpdateDone implements Lifecycle.
func (p *GamePolicy) OnScoreboardBatchUpdateDone() {}
