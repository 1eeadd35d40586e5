package store

import "encoding/json"

// TriggerRow is a row of the trigger table (§3): ticks partition wall-clock
// time into contiguous segments.
type TriggerRow struct {
	ID          int64
	Tick        int
	TimestampS  int64
	Name        string
}

// BoardBeginTick and BoardEndTick are the two sentinel ticks delimiting the
// scoring window shown on leaderboards (Glossary).
const (
	BoardBeginTick = 1000
	BoardEndTick   = 9000
)

// GamePolicyRow is a row of the game_policy table (§3).
type GamePolicyRow struct {
	ID                   int64
	EffectiveAfter       int
	CanViewProblem       bool
	CanSubmitFlag        bool
	CanSubmitWriteup     bool
	IsSubmissionDeducted bool
}

// AnnouncementRow is a row of the announcement table (§3).
type AnnouncementRow struct {
	ID              int64
	TimestampS      int64
	Title           string
	ContentTemplate string
}

// FlagType enumerates the four flag kinds of §3.
type FlagType string

const (
	FlagStatic      FlagType = "static"
	FlagLeet        FlagType = "leet"
	FlagPartitioned FlagType = "partitioned"
	FlagDynamic     FlagType = "dynamic"
)

// FlagDescriptor is one entry of a ChallengeRow's ordered, non-empty flags
// list (§3).
type FlagDescriptor struct {
	Name      string          `json:"name"`
	Type      FlagType        `json:"type"`
	Val       json.RawMessage `json:"val"`
	BaseScore int             `json:"base_score"`
}

// ActionKind enumerates the tagged action descriptors of §3.
type ActionKind string

const (
	ActionAttachment    ActionKind = "attachment"
	ActionDynAttachment ActionKind = "dyn_attachment"
	ActionWebpage       ActionKind = "webpage"
	ActionWebdocker     ActionKind = "webdocker"
	ActionTerminal      ActionKind = "terminal"
)

// ActionDescriptor is one entry of a ChallengeRow's ordered actions list.
type ActionDescriptor struct {
	Kind           ActionKind      `json:"type"`
	EffectiveAfter int             `json:"effective_after"`
	Filename       string          `json:"filename,omitempty"`
	Extra          json.RawMessage `json:"extra,omitempty"`
}

// ChallengeRow is a row of the challenge table (§3).
type ChallengeRow struct {
	ID             int64
	EffectiveAfter int
	Key            string
	Title          string
	Category       string
	SortingIndex   int
	DescTemplate   string
	Metadata       json.RawMessage
	Actions        []ActionDescriptor
	Flags          []FlagDescriptor
}

// UserRow is a row of the app_user table (§3).
type UserRow struct {
	ID              int64
	LoginKey        string
	LoginProperties json.RawMessage
	Group           string
	Enabled         bool
	Token           string
	AuthToken       string
	ProfileID       *int64
	TermsAgreed     bool
	TimestampMS     int64
	LastFeedbackMS  *int64
}

// UserProfileRow is a row of the user_profile table (§3). Each user has one
// row: RegUser inserts it empty and UpdateUserProfile overwrites it in
// place, so earlier revisions are not kept.
type UserProfileRow struct {
	ID          int64
	UserID      int64
	Nickname    *string
	QQ          *string
	Tel         *string
	Email       *string
	Gender      *string
	StuID       *string
	Comment     *string
	TimestampMS int64
}

// SubmissionRow is a row of the submission table (§3): the authoritative
// append-only event log of player activity.
type SubmissionRow struct {
	ID                 int64
	UserID             int64
	ChallengeKey        string
	Flag               string
	TimestampMS        int64
	ScoreOverride      *int
	PercentageOverride *int
}

// FeedbackRow is a row of the feedback table (§3).
type FeedbackRow struct {
	ID          int64
	UserID      int64
	ChallengeKey string
	Content     string
	TimestampMS int64
}

// LogRow is a row of the log table (§3).
type LogRow struct {
	ID          int64
	TimestampMS int64
	Level       string
	Process     string
	Module      string
	Message     string
}

// TweakScore applies a submission's score_override then percentage_override
// to a base score, per §4.3 point 5: tweak(x) = score_override if set, else
// floor(x * percentage_override/100) if set, else x.
func (s SubmissionRow) TweakScore(x int) int {
	if s.ScoreOverride != nil {
		return *s.ScoreOverride
	}
	if s.PercentageOverride != nil {
		return x * (*s.PercentageOverride) / 100
	}
	return x
}
