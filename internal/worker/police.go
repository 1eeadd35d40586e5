package worker

import (
	"github.com/sirupsen/logrus"

	"github.com/pku-geekgame/ctf-core/internal/projection"
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// PoliceMonitor implements §4.11: for every incorrect submission, it
// enumerates every user for whom some dynamic (leet/partitioned/dynamic)
// flag of the submitted challenge would have matched the submitted string.
// Each match implicates either a leak (the user already passed that flag)
// or, for an unused origin, likely copy/paste between contestants.
type PoliceMonitor struct {
	log *logrus.Logger
}

// NewPoliceMonitor constructs a monitor; nil unless POLICE_ENABLED.
func NewPoliceMonitor(log *logrus.Logger) *PoliceMonitor {
	return &PoliceMonitor{log: log}
}

// Inspect is called for every NEW_SUBMISSION (§4.9's "new_submission"
// local message). It only does work for incorrect submissions, matching
// §4.11 exactly ("for each incorrect submission").
func (p *PoliceMonitor) Inspect(game *projection.Game, sub *projection.Submission) {
	if sub.MatchedFlag != nil {
		return
	}

	ch, ok := game.Challenges.ByKey[sub.Store.ChallengeKey]
	if !ok {
		return
	}

	for _, f := range ch.Flags {
		if f.Type == store.FlagStatic {
			continue // static flags are identical for every user, not a leak signal
		}
		p.checkFlag(ch.Store.Key, game, f, sub)
	}
}

func (p *PoliceMonitor) checkFlag(challengeKey string, game *projection.Game, f *projection.Flag, sub *projection.Submission) {
	for _, u := range game.Users.List {
		correct, err := f.CorrectFlag(u)
		if err != nil || correct == "" {
			continue
		}
		if correct != sub.Store.Flag {
			continue
		}

		leaked := f.PassedUsers[u]
		entry := p.log.WithField("module", "worker.police").WithFields(logrus.Fields{
			"challenge":    challengeKey,
			"flag_idx":     f.Idx,
			"origin_user":  u.Store.ID,
			"submit_user":  sub.User.Store.ID,
			"already_leak": leaked,
		})
		if leaked {
			entry.Warnf("submitted flag matches an already-passed per-user flag: likely leak")
		} else {
			entry.Warnf("submitted flag matches an unused per-user flag: likely copy/paste")
		}
	}
}
