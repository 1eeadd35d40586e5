package projection

import (
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// Submission is the projected view of a SubmissionRow, resolved against the
// challenge's flag list at apply time (§4.3 point 2-4).
type Submission struct {
	Store store.SubmissionRow

	User      *User
	Challenge *Challenge // nil if the challenge key no longer exists

	// MatchedFlag is the first flag (in declaration order) whose correct
	// value equals the submitted string, or nil if none matched.
	MatchedFlag *Flag

	// DuplicateSubmission is true if this exact (user, challenge, flag)
	// triple was already matched by an earlier submission. It is only set
	// when MatchedFlag is non-nil, and MatchedFlag stays set on a
	// duplicate: the pair MatchedFlag == nil with DuplicateSubmission ==
	// true never occurs.
	DuplicateSubmission bool
}

// resolveSubmission matches a raw submission against a challenge's flags,
// in declaration order, returning the first match (§4.3 point 2).
func resolveSubmission(game *Game, row store.SubmissionRow, user *User, ch *Challenge) *Submission {
	s := &Submission{Store: row, User: user, Challenge: ch}
	if ch == nil || user == nil {
		return s
	}

	for _, f := range ch.Flags {
		if f.ValidateFlag(user, row.Flag) {
			s.MatchedFlag = f
			break
		}
	}

	if s.MatchedFlag != nil && s.MatchedFlag.PassedUsers[user] {
		s.DuplicateSubmission = true
	}

	return s
}

// GainedScore is the score this submission actually contributed, honoring
// any score_override/percentage_override (§4.3 point 5). Zero for
// non-matching or duplicate submissions.
func (s *Submission) GainedScore() int {
	if s.MatchedFlag == nil || s.DuplicateSubmission {
		return 0
	}
	return s.Store.TweakScore(s.MatchedFlag.CurScore)
}
