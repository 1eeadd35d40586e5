package projection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pku-geekgame/ctf-core/internal/store"
)

func staticFlagChallenge(t *testing.T, key string, baseScore int, val string, effectiveAfter int) store.ChallengeRow {
	t.Helper()
	raw, err := json.Marshal(val)
	require.NoError(t, err)
	return store.ChallengeRow{
		ID:             1,
		EffectiveAfter: effectiveAfter,
		Key:            key,
		Title:          key,
		Category:       "misc",
		Flags: []store.FlagDescriptor{
			{Name: "flag", Type: store.FlagStatic, Val: raw, BaseScore: baseScore},
		},
	}
}

func newBootstrappedGame(t *testing.T, mainBoardGroups []string, challenges []store.ChallengeRow, users []store.UserRow) *Game {
	t.Helper()
	g := NewGame(mainBoardGroups, "", nil)
	require.NoError(t, g.Bootstrap(nil, nil, nil, challenges, users, nil))
	return g
}

func submissionRow(id int64, userID int64, challengeKey, flag string, ts int64) store.SubmissionRow {
	return store.SubmissionRow{ID: id, UserID: userID, ChallengeKey: challengeKey, Flag: flag, TimestampMS: ts}
}

// TestApplySubmissionScoresFirstCorrectSolve exercises the baseline §4.3
// path: a main-board user submits the correct static flag and gains the
// challenge's base score.
func TestApplySubmissionScoresFirstCorrectSolve(t *testing.T) {
	users := []store.UserRow{{ID: 1, LoginKey: "alice", Group: "pku", Enabled: true}}
	chs := []store.ChallengeRow{staticFlagChallenge(t, "pwn1", 1000, "flag{abc}", 0)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, users)

	sub := g.ApplySubmission(submissionRow(1, 1, "pwn1", "flag{abc}", 0), false)

	require.NotNil(t, sub.MatchedFlag)
	assert.False(t, sub.DuplicateSubmission)
	assert.Equal(t, 1000, sub.GainedScore())
	assert.Equal(t, 1000, g.Users.ByID[1].TotalScore)
}

// TestApplySubmissionRejectsWrongFlag confirms a non-matching submission
// neither scores nor marks the challenge solved.
func TestApplySubmissionRejectsWrongFlag(t *testing.T) {
	users := []store.UserRow{{ID: 1, LoginKey: "alice", Group: "pku", Enabled: true}}
	chs := []store.ChallengeRow{staticFlagChallenge(t, "pwn1", 1000, "flag{abc}", 0)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, users)

	sub := g.ApplySubmission(submissionRow(1, 1, "pwn1", "flag{wrong}", 0), false)

	assert.Nil(t, sub.MatchedFlag)
	assert.Equal(t, 0, sub.GainedScore())
	assert.Equal(t, 0, g.Users.ByID[1].TotalScore)
}

// TestApplySubmissionDuplicateDoesNotDoubleScore covers the resubmission
// case: the same user submitting the same correct flag twice is marked
// DuplicateSubmission and gains nothing the second time.
func TestApplySubmissionDuplicateDoesNotDoubleScore(t *testing.T) {
	users := []store.UserRow{{ID: 1, LoginKey: "alice", Group: "pku", Enabled: true}}
	chs := []store.ChallengeRow{staticFlagChallenge(t, "pwn1", 1000, "flag{abc}", 0)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, users)

	g.ApplySubmission(submissionRow(1, 1, "pwn1", "flag{abc}", 0), false)
	second := g.ApplySubmission(submissionRow(2, 1, "pwn1", "flag{abc}", 0), false)

	assert.True(t, second.DuplicateSubmission)
	assert.Equal(t, 0, second.GainedScore())
	assert.Equal(t, 1000, g.Users.ByID[1].TotalScore)
}

// TestFlagScoreDecaysWithMainBoardSolveCount pins down the §8 P3 decay
// formula: cur_score = floor(base * (0.4 + 0.6 * 0.98^k)) where k is the
// count of distinct main-board solvers counted toward decay so far.
func TestFlagScoreDecaysWithMainBoardSolveCount(t *testing.T) {
	users := []store.UserRow{
		{ID: 1, LoginKey: "a", Group: "pku", Enabled: true},
		{ID: 2, LoginKey: "b", Group: "pku", Enabled: true},
		{ID: 3, LoginKey: "c", Group: "pku", Enabled: true},
	}
	chs := []store.ChallengeRow{staticFlagChallenge(t, "pwn1", 1000, "flag{abc}", 0)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, users)

	flag := g.Challenges.ByKey["pwn1"].Flags[0]
	assert.Equal(t, 1000, flag.CurScore, "no solves yet: cur_score == base_score")

	g.ApplySubmission(submissionRow(1, 1, "pwn1", "flag{abc}", 0), false)
	assert.Equal(t, 1000, flag.CurScore, "the flag's first solver banks the full base score, undecayed")
	assert.Equal(t, 1000, g.Users.ByID[1].TotalScore)

	g.ApplySubmission(submissionRow(2, 2, "pwn1", "flag{abc}", 0), false)
	assert.Less(t, flag.CurScore, 1000, "a second distinct main-board solver must decay the score")
	assert.Equal(t, flag.CurScore, g.Users.ByID[1].TotalScore, "decay must retroactively reduce the first solver's banked total, not just the submitter's")
	assert.Equal(t, flag.CurScore, g.Users.ByID[2].TotalScore)

	scoreAfterTwo := flag.CurScore
	g.ApplySubmission(submissionRow(3, 3, "pwn1", "flag{abc}", 0), false)
	assert.Less(t, flag.CurScore, scoreAfterTwo, "decay is monotonic in solver count")
	assert.Equal(t, 976, flag.CurScore, "matches the worked three-solver example: floor(1000*(0.4+0.6*0.98^2)) = 976")
	assert.Equal(t, 976, g.Users.ByID[1].TotalScore, "solver 1's total must follow the latest decay")
	assert.Equal(t, 976, g.Users.ByID[2].TotalScore, "solver 2's total must follow the latest decay")
	assert.Equal(t, 976, g.Users.ByID[3].TotalScore)
}

// TestFlagScoreIgnoresNonMainBoardSolvers confirms that a group outside
// MainBoardGroups contributes to the scoreboard view but never decays the
// shared cur_score (§4.3 point 3, Glossary "Main-board group").
func TestFlagScoreIgnoresNonMainBoardSolvers(t *testing.T) {
	users := []store.UserRow{
		{ID: 1, LoginKey: "staffer", Group: "staff", Enabled: true},
	}
	chs := []store.ChallengeRow{staticFlagChallenge(t, "pwn1", 1000, "flag{abc}", 0)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, users)

	flag := g.Challenges.ByKey["pwn1"].Flags[0]
	g.ApplySubmission(submissionRow(1, 1, "pwn1", "flag{abc}", 0), false)

	assert.Equal(t, 1000, flag.CurScore, "a non-main-board solve must not decay cur_score")
	assert.Equal(t, 1000, g.Users.ByID[1].TotalScore, "the solver still sees their own score")
}

// TestScoreOverrideReplacesTweakedScore exercises §4.3 point 5: an explicit
// score_override on the submission wins over the flag's decayed cur_score.
func TestScoreOverrideReplacesTweakedScore(t *testing.T) {
	users := []store.UserRow{{ID: 1, LoginKey: "alice", Group: "pku", Enabled: true}}
	chs := []store.ChallengeRow{staticFlagChallenge(t, "pwn1", 1000, "flag{abc}", 0)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, users)

	row := submissionRow(1, 1, "pwn1", "flag{abc}", 0)
	override := 1
	row.ScoreOverride = &override

	sub := g.ApplySubmission(row, false)

	require.NotNil(t, sub.MatchedFlag)
	assert.Equal(t, 1, sub.GainedScore())
	assert.Equal(t, 1, g.Users.ByID[1].TotalScore)
}

// TestChallengeIsEffectiveGatesOnCurTick exercises §4.3 point 1: a
// challenge whose effective_after tick has not yet been reached is
// invisible regardless of scoring state.
func TestChallengeIsEffectiveGatesOnCurTick(t *testing.T) {
	chs := []store.ChallengeRow{staticFlagChallenge(t, "late", 500, "flag{x}", 5)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, nil)

	assert.False(t, g.Challenges.ByKey["late"].IsEffective())

	g.CurTick = 5
	assert.True(t, g.Challenges.ByKey["late"].IsEffective())
}

// TestOnScoreboardResetClearsSolvesAndHistory confirms the replay protocol
// of §4.4/§4.2 operation 2: a reset followed by re-applying the same
// submissions reproduces identical state, i.e. the reset genuinely starts
// from zero rather than leaving stale solve state behind.
func TestOnScoreboardResetClearsSolvesAndHistory(t *testing.T) {
	users := []store.UserRow{{ID: 1, LoginKey: "alice", Group: "pku", Enabled: true}}
	chs := []store.ChallengeRow{staticFlagChallenge(t, "pwn1", 1000, "flag{abc}", 0)}
	g := newBootstrappedGame(t, []string{"pku"}, chs, users)

	row := submissionRow(1, 1, "pwn1", "flag{abc}", 0)
	g.ApplySubmission(row, false)
	require.Equal(t, 1000, g.Users.ByID[1].TotalScore)

	g.OnScoreboardReset()
	assert.Equal(t, 0, g.Users.ByID[1].TotalScore)
	assert.Equal(t, 0, g.SubmissionCount())
	assert.False(t, g.Challenges.ByKey["pwn1"].Flags[0].PassedUsers[g.Users.ByID[1]])

	g.ApplySubmission(row, true)
	g.OnScoreboardBatchUpdateDone()
	assert.Equal(t, 1000, g.Users.ByID[1].TotalScore, "replaying the same log after a reset must reproduce the same total")
}
