package projection

import (
	"sort"
	"time"
)

// MaxDisplayUsers bounds the rows rendered on a scoreboard page (§4.5).
const MaxDisplayUsers = 100

// MaxTopstarUsers bounds the rows of the first-blood board rendered for
// non-admin viewers (§4.5).
const MaxTopstarUsers = 10

// BoardEntry is one rendered scoreboard row.
type BoardEntry struct {
	Rank     int
	User     *User
	Score    int
	Nickname string
}

// RenderedBoard is a cached, ready-to-serve board snapshot (§4.5).
type RenderedBoard struct {
	Entries    []BoardEntry
	RenderedAt time.Time
}

// Board is implemented by every scoreboard variant (main ScoreBoard and the
// FirstBloodBoard); Game drives them uniformly through this interface and
// Lifecycle.
type Board interface {
	Lifecycle
	Name() string
	Render(group string, isAdmin bool) *RenderedBoard
	Invalidate()
}

// boardCacheKey identifies one cached render by the viewer dimensions that
// affect its content (§4.5: "cache keyed by (name, is_admin)").
type boardCacheKey struct {
	group   string
	isAdmin bool
}

// ScoreBoard is the main ranking board: users in MainBoardGroups, ranked by
// total score descending, ties broken by the id of the user's last accepted
// (matched, non-duplicate) submission, lower id first.
type ScoreBoard struct {
	game  *Game
	cache map[boardCacheKey]*RenderedBoard
}

// NewScoreBoard constructs an empty, uncached ScoreBoard.
func NewScoreBoard(game *Game) *ScoreBoard {
	return &ScoreBoard{game: game, cache: make(map[boardCacheKey]*RenderedBoard)}
}

func (b *ScoreBoard) Name() string { return "scoreboard" }

// Render returns the cached board for (group, isAdmin), rebuilding it if
// the cache was invalidated since the last render.
func (b *ScoreBoard) Render(group string, isAdmin bool) *RenderedBoard {
	key := boardCacheKey{group: group, isAdmin: isAdmin}
	if cached, ok := b.cache[key]; ok {
		return cached
	}

	var eligible []*User
	for _, u := range b.game.Users.List {
		if !isMainBoardGroup(b.game, u.Store.Group) {
			continue
		}
		eligible = append(eligible, u)
	}
	lastSucc := make(map[*User]int64)
	for _, s := range b.game.submissions {
		if s.User != nil && s.MatchedFlag != nil && !s.DuplicateSubmission {
			lastSucc[s.User] = s.Store.ID
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].TotalScore != eligible[j].TotalScore {
			return eligible[i].TotalScore > eligible[j].TotalScore
		}
		return lastSucc[eligible[i]] < lastSucc[eligible[j]]
	})

	entries := make([]BoardEntry, 0, len(eligible))
	for i, u := range eligible {
		if i >= MaxDisplayUsers && !isAdmin {
			break
		}
		entries = append(entries, BoardEntry{Rank: i + 1, User: u, Score: u.TotalScore, Nickname: u.Nickname()})
	}

	rendered := &RenderedBoard{Entries: entries}
	b.cache[key] = rendered
	return rendered
}

func (b *ScoreBoard) Invalidate() { b.cache = make(map[boardCacheKey]*RenderedBoard) }

// OnTickChange implements Lifecycle: a tick change can move the scoreboard
// window boundary, so every cached render is dropped.
func (b *ScoreBoard) OnTickChange() { b.Invalidate() }

// OnScoreboardReset implements Lifecycle.
func (b *ScoreBoard) OnScoreboardReset() { b.Invalidate() }

// OnScoreboardUpdate implements Lifecycle: any score change invalidates the
// cache (§4.5 "invalidated on ... score change").
func (b *ScoreBoard) OnScoreboardUpdate(sub *Submission, _ bool) {
	if sub.MatchedFlag != nil {
		b.Invalidate()
	}
}

// OnScoreboardBatchUpdateDone implements Lifecycle.
func (b *ScoreBoard) OnScoreboardBatchUpdateDone() { b.Invalidate() }

// FirstBloodEntry records the first user to pass a given flag.
type FirstBloodEntry struct {
	ChallengeKey string
	FlagIdx      int
	User         *User
	AtTick       int
}

// FirstBloodBoard tracks and renders the first-solver-per-flag widget, and
// is the source of first-blood push notifications (§4.5, §4.9 NEW_SUBMISSION
// "first blood" case).
type FirstBloodBoard struct {
	game  *Game
	blood map[*Flag]*FirstBloodEntry
	cache map[boardCacheKey]*RenderedBoard

	// LastFirstBlood is set by OnScoreboardUpdate whenever a new first
	// blood is recorded, for the caller to consume and push; it is
	// cleared on the next call.
	LastFirstBlood *FirstBloodEntry
}

// NewFirstBloodBoard constructs an empty FirstBloodBoard.
func NewFirstBloodBoard(game *Game) *FirstBloodBoard {
	return &FirstBloodBoard{
		game:  game,
		blood: make(map[*Flag]*FirstBloodEntry),
		cache: make(map[boardCacheKey]*RenderedBoard),
	}
}

func (b *FirstBloodBoard) Name() string { return "firstblood" }

func (b *FirstBloodBoard) Invalidate() { b.cache = make(map[boardCacheKey]*RenderedBoard) }

// Render returns the cached first-blood board, rebuilding on invalidation.
// Each row is one user, scored by the number of flags on which they hold
// first blood; the order of users with equal counts is not defined. The
// rendered rows do not list the holder of each challenge or flag.
func (b *FirstBloodBoard) Render(group string, isAdmin bool) *RenderedBoard {
	key := boardCacheKey{group: group, isAdmin: isAdmin}
	if cached, ok := b.cache[key]; ok {
		return cached
	}

	type scored struct {
		u     *User
		count int
	}
	tally := make(map[*User]int)
	for _, e := range b.blood {
		if isMainBoardGroup(b.game, e.User.Store.Group) || isAdmin {
			tally[e.User]++
		}
	}
	var ranked []scored
	for u, c := range tally {
		ranked = append(ranked, scored{u, c})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })

	entries := make([]BoardEntry, 0, len(ranked))
	for i, r := range ranked {
		if i >= MaxTopstarUsers && !isAdmin {
			break
		}
		entries = append(entries, BoardEntry{Rank: i + 1, User: r.u, Score: r.count, Nickname: r.u.Nickname()})
	}

	rendered := &RenderedBoard{Entries: entries}
	b.cache[key] = rendered
	return rendered
}

// OnTickChange implements Lifecycle.
func (b *FirstBloodBoard) OnTickChange() {}

// OnScoreboardReset implements Lifecycle.
func (b *FirstBloodBoard) OnScoreboardReset() {
	b.blood = make(map[*Flag]*FirstBloodEntry)
	b.Invalidate()
	b.LastFirstBlood = nil
}

// OnScoreboardUpdate implements Lifecycle: records first blood the first
// time a flag is passed, replaying (inBatch) never counts as new news.
func (b *FirstBloodBoard) OnScoreboardUpdate(sub *Submission, inBatch bool) {
	b.LastFirstBlood = nil
	if sub.MatchedFlag == nil || sub.DuplicateSubmission {
		return
	}
	if _, ok := b.blood[sub.MatchedFlag]; ok {
		return
	}
	entry := &FirstBloodEntry{
		ChallengeKey: sub.Challenge.Store.Key,
		FlagIdx:      sub.MatchedFlag.Idx,
		User:         sub.User,
		AtTick:       b.game.CurTick,
	}
	b.blood[sub.MatchedFlag] = entry
	b.Invalidate()
	if !inBatch {
		b.LastFirstBlood = entry
	}
}

// OnScoreboardBatchUpdateDone implements Lifecycle.
func (b *FirstBloodBoard) OnScoreboardBatchUpdateDone() { b.Invalidate() }
