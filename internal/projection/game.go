package projection

import (
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// Game is the single in-memory aggregate owned by exactly one goroutine in
// both the reducer and each worker (Design Notes: "one goroutine exclusively
// owns the Game aggregate; other goroutines submit work via channels").
// It wires together the Trigger, GamePolicy, Announcements, Challenges,
// Users and Boards into the four lifecycle operations of §4.2.
type Game struct {
	// MainBoardGroups lists the user groups counted by the P3 decay
	// formula and shown on the main scoreboard (config-sourced).
	MainBoardGroups []string
	// FlagLeetSalt is mixed into the leet-flag HKDF seed alongside each
	// user's signing token (§3).
	FlagLeetSalt string
	// DynamicFlagGenerator resolves "dynamic" flags; nil means dynamic
	// flags always fail closed.
	DynamicFlagGenerator DynamicFlagGenerator
	// Logger receives structured lifecycle log lines; nil disables them.
	Logger Logger

	Trigger       *Trigger
	Policy        *GamePolicy
	Announcements *Announcements
	Challenges    *Challenges
	Users         *Users
	Boards        map[string]Board

	CurTick                 int
	NeedReloadingScoreboard bool

	// submissions is the append-only, id-ordered log applied so far.
	submissions []*Submission

	// components is every Lifecycle-implementing part of the aggregate,
	// in the fixed dispatch order required by §4.2: policy/trigger first
	// (they gate visibility), then challenges (so flag decay is current
	// before user totals are recomputed), then users, then boards last.
	components []Lifecycle
}

// NewGame constructs an empty Game; call Bootstrap once initial rows are
// available (typically right after a worker's SYNC handshake, or on
// reducer startup after loading from SQL).
func NewGame(mainBoardGroups []string, flagLeetSalt string, logger Logger) *Game {
	g := &Game{
		MainBoardGroups: mainBoardGroups,
		FlagLeetSalt:    flagLeetSalt,
		Logger:          logger,
		Boards:          make(map[string]Board),
	}
	return g
}

// log is the internal logging helper used by projection entities that hold
// only a *Game back-reference (trigger.go, flag.go).
func (g *Game) log(level, module, message string) {
	if g.Logger != nil {
		g.Logger(level, module, message)
	}
}

// Bootstrap wires the component tree from a fully loaded snapshot (§4.1,
// the replay-from-scratch path: reset then load every store table).
func (g *Game) Bootstrap(
	triggers []store.TriggerRow,
	policies []store.GamePolicyRow,
	announcements []store.AnnouncementRow,
	challenges []store.ChallengeRow,
	users []store.UserRow,
	profiles []store.UserProfileRow,
) error {
	g.Trigger = NewTrigger(g, triggers)
	g.Policy = NewGamePolicy(g, policies)
	g.Announcements = NewAnnouncements(g, announcements)

	chs, err := NewChallenges(g, challenges)
	if err != nil {
		return err
	}
	g.Challenges = chs
	g.Users = NewUsers(g, users, profiles)

	scoreBoard := NewScoreBoard(g)
	firstBlood := NewFirstBloodBoard(g)
	g.Boards = map[string]Board{
		scoreBoard.Name(): scoreBoard,
		firstBlood.Name(): firstBlood,
	}

	g.components = []Lifecycle{g.Policy, g.Trigger, g.Announcements, g.Challenges, g.Users, scoreBoard, firstBlood}
	g.submissions = nil
	return nil
}

// submissionsFor returns every applied submission by u against flag f, used
// by Challenge.UserStatus to find the best-scoring submission when a
// score_override/percentage_override is present.
func (g *Game) submissionsFor(u *User, f *Flag) []*Submission {
	var out []*Submission
	for _, s := range g.submissions {
		if s.User == u && s.MatchedFlag == f {
			out = append(out, s)
		}
	}
	return out
}

// OnTickChange advances CurTick to the tick in effect right now and fans
// the change out to every component (§4.2 operation 1). The caller (tick
// daemon) is responsible for calling this on a schedule and whenever the
// trigger table is reloaded.
func (g *Game) OnTickChange(nowS int64) {
	tick, _ := g.Trigger.GetTickAtTime(nowS)
	if tick == g.CurTick {
		return
	}
	g.CurTick = tick
	for _, c := range g.components {
		c.OnTickChange()
	}
}

// OnScoreboardReset clears all scoreboard-derived state in every component,
// in preparation for a full in-id-order replay (§4.2 operation 2, §4.4
// reset/replay/batch-done protocol).
func (g *Game) OnScoreboardReset() {
	g.submissions = nil
	for _, c := range g.components {
		c.OnScoreboardReset()
	}
}

// ApplySubmission resolves row against the current challenge/flag state and
// fans the resulting Submission out to every component (§4.2 operation 3).
// inBatch is true while replaying a persisted log (reset..batch-done) and
// false for a submission arriving live; components use it to suppress
// notification side effects (first blood pushes, etc.) during replay.
func (g *Game) ApplySubmission(row store.SubmissionRow, inBatch bool) *Submission {
	user := g.Users.ByID[row.UserID]
	ch := g.Challenges.ByKey[row.ChallengeKey]

	sub := resolveSubmission(g, row, user, ch)
	g.submissions = append(g.submissions, sub)

	for _, c := range g.components {
		c.OnScoreboardUpdate(sub, inBatch)
	}
	return sub
}

// ReloadScoreboardIfNeeded drives the reset/replay/batch-done protocol of
// §4.4 whenever NeedReloadingScoreboard has been set (by a trigger/policy
// reload, a challenge reload, or an UPDATE_SUBMISSION event). It is decoupled from SQL:
// loadSubmissions is supplied by the caller (reducer or worker), which is
// the only layer that knows how to reach the store.
func (g *Game) ReloadScoreboardIfNeeded(loadSubmissions func() ([]store.SubmissionRow, error)) error {
	if !g.NeedReloadingScoreboard {
		return nil
	}

	g.OnScoreboardReset()

	rows, err := loadSubmissions()
	if err != nil {
		return err
	}
	for _, row := range rows {
		g.ApplySubmission(row, true)
	}
	g.OnScoreboardBatchUpdateDone()
	return nil
}

// OnScoreboardBatchUpdateDone signals that a replay batch has finished
// (§4.2 operation 4, the batch-done message of §4.4), letting components
// that defer expensive work (e.g. board rendering) catch up once.
func (g *Game) OnScoreboardBatchUpdateDone() {
	g.NeedReloadingScoreboard = false
	for _, c := range g.components {
		c.OnScoreboardBatchUpdateDone()
	}
}

// SubmissionCount reports how many submissions have been applied so far,
// for heartbeat telemetry (§4.8 point 4).
func (g *Game) SubmissionCount() int { return len(g.submissions) }

// InvalidateBoards clears every board's render cache without waiting for a
// tick change or scoreboard update, for events that affect display but not
// scoring directly (e.g. a scoring user's profile/nickname changing under
// UPDATE_USER).
func (g *Game) InvalidateBoards() {
	for _, b := range g.Boards {
		b.Invalidate()
	}
}

// FirstBloodBoard is a typed accessor over Boards["firstblood"] for callers
// that need first-blood-specific fields (LastFirstBlood).
func (g *Game) FirstBloodBoard() *FirstBloodBoard {
	b, _ := g.Boards["firstblood"].(*FirstBloodBoard)
	return b
}

// ScoreBoard is a typed accessor over Boards["scoreboard"].
func (g *Game) ScoreBoard() *ScoreBoard {
	b, _ := g.Boards["scoreboard"].(*ScoreBoard)
	return b
}
