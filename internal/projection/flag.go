package projection

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/pku-geekgame/ctf-core/internal/cryptoutil"
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// DynamicFlagGenerator resolves a "dynamic" flag's correct value for a
// given user by calling out to an external generator referenced by a
// module path (§3). internal/dynflag provides the default goja-backed
// implementation; a nil generator makes every dynamic flag fail closed.
type DynamicFlagGenerator func(modulePath string, uid int64, challengeKey string) (string, error)

// ScoreHistoryEntry records a (submission id, new score) pair appended to a
// Flag's score_history whenever cur_score changes (§3).
type ScoreHistoryEntry struct {
	SubmissionID int64
	NewScore     int
}

// Flag is the projected view of one entry of a Challenge's flags list,
// with the derived scoring state of §3/§4.3. The decay formula implements
// the explicit P3 invariant (see DESIGN.md for the exact shape).
type Flag struct {
	game      *Game
	Challenge *Challenge
	Idx       int // 0-based position within Challenge.Flags

	Name      string
	Type      store.FlagType
	BaseScore int

	CurScore                int
	PassedUsers             map[*User]bool
	PassedUsersForScoreCalc map[*User]bool
	ScoreHistory            []ScoreHistoryEntry

	partitionedVals []string
	staticVal       string
	dynamicModule   string

	lastSubmissionID int64
}

// NewFlag builds a Flag from its descriptor.
func NewFlag(game *Game, descriptor store.FlagDescriptor, ch *Challenge, idx int) (*Flag, error) {
	f := &Flag{
		game:      game,
		Challenge: ch,
		Idx:       idx,
		Name:      descriptor.Name,
		Type:      descriptor.Type,
		BaseScore: descriptor.BaseScore,
	}

	switch descriptor.Type {
	case store.FlagStatic, store.FlagLeet:
		if err := json.Unmarshal(descriptor.Val, &f.staticVal); err != nil {
			return nil, fmt.Errorf("flag %q: decode val: %w", descriptor.Name, err)
		}
	case store.FlagPartitioned:
		if err := json.Unmarshal(descriptor.Val, &f.partitionedVals); err != nil {
			return nil, fmt.Errorf("flag %q: decode val: %w", descriptor.Name, err)
		}
	case store.FlagDynamic:
		if err := json.Unmarshal(descriptor.Val, &f.dynamicModule); err != nil {
			return nil, fmt.Errorf("flag %q: decode val: %w", descriptor.Name, err)
		}
	default:
		return nil, fmt.Errorf("unknown flag type: %s", descriptor.Type)
	}

	f.resetDerived()
	return f, nil
}

func (f *Flag) resetDerived() {
	f.CurScore = f.BaseScore
	f.PassedUsers = make(map[*User]bool)
	f.PassedUsersForScoreCalc = make(map[*User]bool)
	f.ScoreHistory = nil
	f.lastSubmissionID = 0
}

// CorrectFlag computes the correct flag string for user, dispatching on
// flag type (§3).
func (f *Flag) CorrectFlag(user *User) (string, error) {
	switch f.Type {
	case store.FlagStatic:
		return f.staticVal, nil
	case store.FlagLeet:
		return cryptoutil.LeetFlag(f.staticVal, user.Store.Token, f.game.FlagLeetSalt), nil
	case store.FlagPartitioned:
		if len(f.partitionedVals) == 0 {
			return "", fmt.Errorf("partitioned flag %q has no values", f.Name)
		}
		idx := cryptoutil.GetPartition(user.Store.ID, f.Challenge.Store.Key, len(f.partitionedVals))
		return f.partitionedVals[idx], nil
	case store.FlagDynamic:
		if f.game.DynamicFlagGenerator == nil {
			return "", fmt.Errorf("no dynamic flag generator configured")
		}
		return f.game.DynamicFlagGenerator(f.dynamicModule, user.Store.ID, f.Challenge.Store.Key)
	default:
		return "", fmt.Errorf("unknown flag type: %s", f.Type)
	}
}

// ValidateFlag reports whether submitted is the correct flag for user,
// after the §4.1 format check.
func (f *Flag) ValidateFlag(user *User, submitted string) bool {
	if err := store.CheckFlagFormat(submitted); err != nil {
		return false
	}
	correct, err := f.CorrectFlag(user)
	if err != nil {
		f.game.log("error", "flag.validate_flag", fmt.Sprintf("correct_flag failed: %v", err))
		return false
	}
	return submitted == correct
}

// updateCurScore recomputes CurScore from the current main-board solve
// count. Because a lower CurScore retroactively shrinks the score every
// earlier solver already banked, a change here must walk every user in
// PassedUsers and re-derive their TotalScore, not just the submitter's
// (§4.3 closing paragraph, §8 P3/P4).
func (f *Flag) updateCurScore() {
	k := len(f.PassedUsersForScoreCalc)
	newScore := int(math.Floor(float64(f.BaseScore) * (0.4 + 0.6*math.Pow(0.98, float64(k)))))
	if newScore != f.CurScore {
		f.CurScore = newScore
		if f.lastSubmissionID != 0 {
			f.ScoreHistory = append(f.ScoreHistory, ScoreHistoryEntry{SubmissionID: f.lastSubmissionID, NewScore: newScore})
		}
		for u := range f.PassedUsers {
			u.recomputeTotalScore()
		}
	}
}

// OnTickChange implements Lifecycle.
func (f *Flag) OnTickChange() {}

// OnScoreboardReset implements Lifecycle.
func (f *Flag) OnScoreboardReset() { f.resetDerived() }

// OnScoreboardUpdate implements Lifecycle: §4.3 points 3, matching the
// submission against this specific flag.
func (f *Flag) OnScoreboardUpdate(sub *Submission, _ bool) {
	if sub.MatchedFlag != f {
		return
	}
	f.PassedUsers[sub.User] = true

	if isMainBoardGroup(f.game, sub.User.Store.Group) && sub.Store.PercentageOverride == nil {
		// k in updateCurScore must count only solvers counted *before* this
		// one: the flag's first main-board solver banks the full base
		// score, and the Nth solver's acceptance decays cur_score using
		// N-1, not N (§4.3, scenario worked examples). So recompute first,
		// then add this submitter to the counted set for the next solver.
		f.lastSubmissionID = sub.Store.ID
		f.updateCurScore()
		f.PassedUsersForScoreCalc[sub.User] = true
	}
}

// OnScoreboardBatchUpdateDone implements Lifecycle.
func (f *Flag) OnScoreboardBatchUpdateDone() {}

func isMainBoardGroup(game *Game, group string) bool {
	for _, g := range game.MainBoardGroups {
		if g == group {
			return true
		}
	}
	return false
}

func (f *Flag) String() string {
	return fmt.Sprintf("[%s#%d]", f.Challenge.Store.Key, f.Idx)
}
