package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/pku-geekgame/ctf-core/internal/glitter"
)

// processEvent applies one event from the pub/sub channel, enforcing the
// counter invariant of §4.9/§8 P1: reports true when the caller must
// trigger a full resync (a counter gap, or a projection-handler exception
// while applying it).
func (w *Worker) processEvent(ctx context.Context, ev glitter.Event) (resyncNeeded bool) {
	w.mu.Lock()
	diff := ev.StateCounter - w.stateCounter
	w.mu.Unlock()

	switch {
	case diff == 0:
		if ev.Type == glitter.EventSync {
			w.checkSyncTick(ev)
		}
		return false

	case diff == 1:
		w.mu.Lock()
		w.stateCounter = ev.StateCounter
		w.mu.Unlock()

		if err := w.applyEvent(ctx, ev); err != nil {
			w.log.WithField("module", "worker.apply_event").
				Errorf("projection handler exception on %v, forcing resync: %v", ev.Type, err)
			return true
		}
		if err := w.game.ReloadScoreboardIfNeeded(w.loadAllSubmissions(ctx)); err != nil {
			w.log.WithField("module", "worker.apply_event").Errorf("scoreboard reload failed: %v", err)
			return true
		}

		if w.met != nil {
			w.met.EventsApplied.WithLabelValues(fmt.Sprint(ev.Type)).Inc()
			w.met.StateCounter.Set(float64(ev.StateCounter))
			w.met.CurrentTick.Set(float64(w.game.CurTick))
		}

		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
		return false

	default:
		w.log.WithField("module", "worker.apply_event").
			Warnf("state counter gap: local=%d event=%d, resyncing", w.stateCounter, ev.StateCounter)
		return true
	}
}

// checkSyncTick implements the non-mutating half of the SYNC handler
// (§4.9): if the tick carried by the frame differs from the local tick,
// force a tick transition exactly as TICK_UPDATE would.
func (w *Worker) checkSyncTick(ev glitter.Event) {
	if int(ev.Data) == w.game.CurTick {
		return
	}
	w.applyTickChange()
}

// applyEvent dispatches one mutating event to its projection handler
// (§4.9's table), fetching whatever single row the event names.
func (w *Worker) applyEvent(ctx context.Context, ev glitter.Event) error {
	switch ev.Type {
	case glitter.EventSync:
		w.checkSyncTick(ev)
		return nil

	case glitter.EventReloadGamePolicy:
		rows, err := w.repo.LoadGamePolicies(ctx)
		if err != nil {
			return err
		}
		w.game.Policy.OnStoreReload(rows)
		return nil

	case glitter.EventReloadTrigger:
		rows, err := w.repo.LoadTriggers(ctx)
		if err != nil {
			return err
		}
		w.game.Trigger.OnStoreReload(rows)
		return nil

	case glitter.EventUpdateAnnouncement:
		row, err := w.repo.GetAnnouncement(ctx, ev.Data)
		if err != nil {
			return err
		}
		inserted := w.game.Announcements.OnStoreUpdate(ev.Data, row)
		if inserted && row != nil {
			w.bus.Publish(Message{Kind: MessagePush, Push: PushPayload{Text: row.Title}})
		}
		return nil

	case glitter.EventUpdateChallenge:
		row, err := w.repo.GetChallenge(ctx, ev.Data)
		if err != nil {
			return err
		}
		if err := w.game.Challenges.OnStoreUpdate(ev.Data, row); err != nil {
			return err
		}
		w.game.InvalidateBoards()
		return nil

	case glitter.EventUpdateUser:
		return w.applyUpdateUser(ctx, ev.Data)

	case glitter.EventUpdateSubmission:
		row, err := w.repo.GetSubmission(ctx, ev.Data)
		if err != nil {
			return err
		}
		if row != nil {
			w.game.NeedReloadingScoreboard = true
		}
		return nil

	case glitter.EventNewSubmission:
		return w.applyNewSubmission(ctx, ev.Data)

	case glitter.EventTickUpdate:
		w.applyTickChange()
		return nil

	default:
		return fmt.Errorf("unknown event type %v", ev.Type)
	}
}

func (w *Worker) applyUpdateUser(ctx context.Context, userID int64) error {
	row, err := w.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if row == nil {
		w.game.Users.Remove(userID)
		w.game.NeedReloadingScoreboard = true
		w.game.InvalidateBoards()
		return nil
	}

	var oldGroup string
	if existing, ok := w.game.Users.ByID[userID]; ok {
		oldGroup = existing.Store.Group
	} else {
		oldGroup = row.Group // new user: no group change
	}

	profile, err := w.repo.GetUserProfileByUserID(ctx, userID)
	if err != nil {
		return err
	}
	w.game.Users.Upsert(*row, profile)

	if row.Group != oldGroup {
		w.game.NeedReloadingScoreboard = true
	}
	w.game.InvalidateBoards()
	return nil
}

func (w *Worker) applyNewSubmission(ctx context.Context, submissionID int64) error {
	row, err := w.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	sub := w.game.ApplySubmission(*row, false)
	w.bus.Publish(Message{Kind: MessageNewSubmission, SubmissionID: row.ID})

	if blood := w.game.FirstBloodBoard().LastFirstBlood; blood != nil {
		w.bus.Publish(Message{Kind: MessagePush, Push: PushPayload{
			Text: fmt.Sprintf("first blood: %s by %s", blood.ChallengeKey, blood.User.Nickname()),
		}})
	}

	if w.police != nil {
		w.police.Inspect(w.game, sub)
	}
	return nil
}

// applyTickChange advances CurTick from wall clock (shared by TICK_UPDATE
// and a SYNC frame whose carried tick disagrees with the local one) and
// publishes a local tick_update message, plus a push when the new tick has
// a named trigger (§4.9 TICK_UPDATE).
func (w *Worker) applyTickChange() {
	prev := w.game.CurTick
	w.game.OnTickChange(time.Now().Unix())
	if w.game.CurTick == prev {
		return
	}

	w.bus.Publish(Message{Kind: MessageTickUpdate, Tick: w.game.CurTick})

	if name, _, _ := w.game.Trigger.DescribeCurTick(); name != "" && name != "??" {
		w.bus.Publish(Message{Kind: MessagePush, Push: PushPayload{
			Text: fmt.Sprintf("tick %d: %s", w.game.CurTick, name),
		}})
	}
}
