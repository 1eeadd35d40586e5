package projection

import (
	"fmt"
	"sort"

	"github.com/pku-geekgame/ctf-core/internal/store"
)

// Challenge is the projected view of a ChallengeRow plus its derived
// scoring/visibility state (§3).
type Challenge struct {
	game  *Game
	Store store.ChallengeRow

	Flags []*Flag

	// PassedUsers is the set of users who have correctly submitted every
	// flag of this challenge.
	PassedUsers map[*User]bool
	// TouchedUsers is the set of users who have solved at least one flag
	// of this challenge (§8 P5).
	TouchedUsers map[*User]bool
}

// NewChallenge builds a Challenge and its Flags from a persisted row.
func NewChallenge(game *Game, row store.ChallengeRow) (*Challenge, error) {
	c := &Challenge{game: game, Store: row}
	for i, fd := range row.Flags {
		f, err := NewFlag(game, fd, c, i)
		if err != nil {
			return nil, fmt.Errorf("challenge %q: %w", row.Key, err)
		}
		c.Flags = append(c.Flags, f)
	}
	c.resetDerived()
	return c, nil
}

func (c *Challenge) resetDerived() {
	c.PassedUsers = make(map[*User]bool)
	c.TouchedUsers = make(map[*User]bool)
}

// IsEffective reports whether the challenge is visible at the game's
// current tick (§4.3 point 1).
func (c *Challenge) IsEffective() bool {
	return c.Store.EffectiveAfter <= c.game.CurTick
}

// TotalBaseScore sums the base_score of every flag (§3 Challenge view).
func (c *Challenge) TotalBaseScore() int {
	total := 0
	for _, f := range c.Flags {
		total += f.BaseScore
	}
	return total
}

// TotalCurScore sums the cur_score of every flag, i.e. the maximum score a
// user could currently earn by clearing the whole challenge.
func (c *Challenge) TotalCurScore() int {
	total := 0
	for _, f := range c.Flags {
		total += f.CurScore
	}
	return total
}

// UserStatus reports a user's progress against this challenge: the number
// of flags passed, out of the total, and the score gained so far.
func (c *Challenge) UserStatus(u *User) (passed int, total int, score int) {
	total = len(c.Flags)
	for _, f := range c.Flags {
		if f.PassedUsers[u] {
			passed++
			score += f.passedScoreFor(u)
		}
	}
	return
}

// passedScoreFor returns the score this user actually earned on this flag,
// honoring a per-submission score_override/percentage_override if the
// matching submission carried one (§4.3 point 5).
func (f *Flag) passedScoreFor(u *User) int {
	var best int
	for _, sub := range f.game.submissionsFor(u, f) {
		if sub.MatchedFlag != f {
			continue
		}
		if s := sub.Store.TweakScore(f.CurScore); s > best {
			best = s
		}
	}
	return best
}

// OnTickChange implements Lifecycle.
func (c *Challenge) OnTickChange() {
	for _, f := range c.Flags {
		f.OnTickChange()
	}
}

// OnScoreboardReset implements Lifecycle.
func (c *Challenge) OnScoreboardReset() {
	c.resetDerived()
	for _, f := range c.Flags {
		f.OnScoreboardReset()
	}
}

// OnScoreboardUpdate implements Lifecycle.
func (c *Challenge) OnScoreboardUpdate(sub *Submission, inBatch bool) {
	if sub.Store.ChallengeKey != c.Store.Key {
		return
	}
	if sub.MatchedFlag != nil {
		c.TouchedUsers[sub.User] = true
	}
	for _, f := range c.Flags {
		f.OnScoreboardUpdate(sub, inBatch)
	}
	if sub.MatchedFlag != nil {
		passedAll := true
		for _, f := range c.Flags {
			if !f.PassedUsers[sub.User] {
				passedAll = false
				break
			}
		}
		if passedAll {
			c.PassedUsers[sub.User] = true
		}
	}
}

// OnScoreboardBatchUpdateDone implements Lifecycle.
func (c *Challenge) OnScoreboardBatchUpdateDone() {
	for _, f := range c.Flags {
		f.OnScoreboardBatchUpdateDone()
	}
}

// Challenges owns the challenge set, keyed by key, ordered for display.
type Challenges struct {
	game *Game

	List  []*Challenge
	ByKey map[string]*Challenge
}

// NewChallenges builds a Challenges collection from persisted rows.
func NewChallenges(game *Game, rows []store.ChallengeRow) (*Challenges, error) {
	cs := &Challenges{game: game}
	if err := cs.OnStoreReload(rows); err != nil {
		return nil, err
	}
	return cs, nil
}

// OnStoreReload rebuilds the entire challenge set (§4.9 UPDATE_CHALLENGE
// reload path / replay). Individual-challenge upserts also flow through
// here by reconstructing the full slice; the reducer is the only writer
// of record and always sends the authoritative full set on change.
func (cs *Challenges) OnStoreReload(rows []store.ChallengeRow) error {
	sorted := append([]store.ChallengeRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].SortingIndex < sorted[j].SortingIndex
	})

	list := make([]*Challenge, 0, len(sorted))
	byKey := make(map[string]*Challenge, len(sorted))
	for _, row := range sorted {
		c, err := NewChallenge(cs.game, row)
		if err != nil {
			return err
		}
		list = append(list, c)
		byKey[row.Key] = c
	}

	cs.List = list
	cs.ByKey = byKey
	cs.game.NeedReloadingScoreboard = true
	return nil
}

// OnStoreUpdate upserts or removes (newRow == nil) a single challenge by
// id (§4.9 UPDATE_CHALLENGE). The full set is small enough at contest
// scale that a single-row change is applied by rebuilding the whole
// collection from the current rows plus the one change, which also
// naturally purges any per-flag correct-flag memoization since every Flag
// is reconstructed from scratch.
func (cs *Challenges) OnStoreUpdate(id int64, newRow *store.ChallengeRow) error {
	rows := make([]store.ChallengeRow, 0, len(cs.List))
	for _, c := range cs.List {
		if c.Store.ID == id {
			continue
		}
		rows = append(rows, c.Store)
	}
	if newRow != nil {
		rows = append(rows, *newRow)
	}
	return cs.OnStoreReload(rows)
}

func (cs *Challenges) OnTickChange() {
	for _, c := range cs.List {
		c.OnTickChange()
	}
}

func (cs *Challenges) OnScoreboardReset() {
	for _, c := range cs.List {
		c.OnScoreboardReset()
	}
}

func (cs *Challenges) OnScoreboardUpdate(sub *Submission, inBatch bool) {
	if c, ok := cs.ByKey[sub.Store.ChallengeKey]; ok {
		c.OnScoreboardUpdate(sub, inBatch)
	}
}

func (cs *Challenges) OnScoreboardBatchUpdateDone() {
	for _, c := range cs.List {
		c.OnScoreboardBatchUpdateDone()
	}
}
