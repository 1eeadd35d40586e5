package projection

import (
	"github.com/pku-geekgame/ctf-core/internal/cryptoutil"
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// ScoreHistoryPoint is one entry of a user's compact score-over-time
// reconstruction: a tick delta and the score delta that occurred at it
// (§3 User view, "score_history").
type ScoreHistoryPoint struct {
	DeltaTick  int
	DeltaScore int
}

// User is the projected view of a UserRow and its profile, plus derived
// scoreboard state (§3).
type User struct {
	game *Game

	Store   store.UserRow
	Profile *store.UserProfileRow // nil until RegUser/UpdateProfile completes

	TotalScore int
	// history is kept as (tick, cumulative score) samples; recordScore()
	// skips a sample equal to the previous one, and ScoreHistory() turns
	// the samples into deltas on read.
	history []scoreSample
}

type scoreSample struct {
	tick  int
	score int
}

// NewUser builds a User from a persisted row.
func NewUser(game *Game, row store.UserRow, profile *store.UserProfileRow) *User {
	u := &User{game: game, Store: row, Profile: profile}
	u.resetDerived()
	return u
}

func (u *User) resetDerived() {
	u.TotalScore = 0
	u.history = nil
}

// Nickname returns the display nickname, falling back to the login key
// when no profile has been submitted yet.
func (u *User) Nickname() string {
	if u.Profile != nil && u.Profile.Nickname != nil && *u.Profile.Nickname != "" {
		return *u.Profile.Nickname
	}
	return u.Store.LoginKey
}

// GetPartition returns this user's deterministic partition index for a
// single-dimension partitioned flag value list.
func (u *User) GetPartition(challengeKey string, nPart int) int {
	return cryptoutil.GetPartition(u.Store.ID, challengeKey, nPart)
}

// GetPartitions returns this user's deterministic partition indices for a
// multi-dimension partitioned flag value.
func (u *User) GetPartitions(challengeKey string, nParts []int) []int {
	return cryptoutil.GetPartitions(u.Store.ID, challengeKey, nParts)
}

// WriteupRequired reports whether the current game policy allows writeup
// submission (§3 GamePolicy's CanSubmitWriteup); the user's group and rank
// are not consulted.
func (u *User) WriteupRequired() bool {
	if u.game.Policy.CurPolicy == nil {
		return false
	}
	return u.game.Policy.CurPolicy.CanSubmitWriteup
}

// recordScore appends a new cumulative-score sample at the current tick
// if it differs from the last recorded value.
func (u *User) recordScore(tick int, total int) {
	if len(u.history) > 0 && u.history[len(u.history)-1].score == total {
		return
	}
	u.history = append(u.history, scoreSample{tick: tick, score: total})
}

// ScoreHistory reconstructs the compact (Δtick, Δscore) diff list described
// in §3, suitable for client-side score-over-time charts.
func (u *User) ScoreHistory() []ScoreHistoryPoint {
	points := make([]ScoreHistoryPoint, 0, len(u.history))
	prevTick, prevScore := 0, 0
	for _, s := range u.history {
		points = append(points, ScoreHistoryPoint{DeltaTick: s.tick - prevTick, DeltaScore: s.score - prevScore})
		prevTick, prevScore = s.tick, s.score
	}
	return points
}

func (u *User) recomputeTotalScore() {
	total := 0
	for _, c := range u.game.Challenges.List {
		_, _, score := c.UserStatus(u)
		total += score
	}
	u.TotalScore = total
	u.recordScore(u.game.CurTick, total)
}

// OnTickChange implements Lifecycle.
func (u *User) OnTickChange() {}

// OnScoreboardReset implements Lifecycle.
func (u *User) OnScoreboardReset() { u.resetDerived() }

// OnScoreboardUpdate implements Lifecycle.
func (u *User) OnScoreboardUpdate(sub *Submission, _ bool) {
	if sub.User != u {
		return
	}
	u.recomputeTotalScore()
}

// OnScoreboardBatchUpdateDone implements Lifecycle.
func (u *User) OnScoreboardBatchUpdateDone() {}

// Users owns the user set, keyed by id.
type Users struct {
	game *Game

	List []*User
	ByID map[int64]*User
}

// NewUsers builds a Users collection from persisted rows, pairing each
// user with its profile row by UserID if one exists.
func NewUsers(game *Game, rows []store.UserRow, profiles []store.UserProfileRow) *Users {
	profileByUser := make(map[int64]store.UserProfileRow, len(profiles))
	for _, p := range profiles {
		profileByUser[p.UserID] = p
	}

	us := &Users{game: game}
	list := make([]*User, 0, len(rows))
	byID := make(map[int64]*User, len(rows))
	for _, row := range rows {
		var profile *store.UserProfileRow
		if p, ok := profileByUser[row.ID]; ok {
			pc := p
			profile = &pc
		}
		u := NewUser(game, row, profile)
		list = append(list, u)
		byID[row.ID] = u
	}
	us.List, us.ByID = list, byID
	return us
}

// Upsert applies a single UPDATE_USER event (§4.9) to the projection.
func (us *Users) Upsert(row store.UserRow, profile *store.UserProfileRow) *User {
	if u, ok := us.ByID[row.ID]; ok {
		u.Store = row
		if profile != nil {
			u.Profile = profile
		}
		return u
	}
	u := NewUser(us.game, row, profile)
	us.List = append(us.List, u)
	us.ByID[row.ID] = u
	return u
}

// Remove drops a user from the projection entirely (the rare UPDATE_USER
// delete path; users are normally retired via Store.Enabled=false instead).
func (us *Users) Remove(id int64) {
	if _, ok := us.ByID[id]; !ok {
		return
	}
	delete(us.ByID, id)
	kept := make([]*User, 0, len(us.List))
	for _, u := range us.List {
		if u.Store.ID != id {
			kept = append(kept, u)
		}
	}
	us.List = kept
}

func (us *Users) OnTickChange() {
	for _, u := range us.List {
		u.OnTickChange()
	}
}

func (us *Users) OnScoreboardReset() {
	for _, u := range us.List {
		u.OnScoreboardReset()
	}
}

func (us *Users) OnScoreboardUpdate(sub *Submission, inBatch bool) {
	if u, ok := us.ByID[sub.Store.UserID]; ok {
		u.OnScoreboardUpdate(sub, inBatch)
	}
}

func (us *Users) OnScoreboardBatchUpdateDone() {
	for _, u := range us.List {
		u.OnScoreboardBatchUpdateDone()
	}
}
