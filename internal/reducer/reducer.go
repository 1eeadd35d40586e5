// Package reducer implements the single authoritative writer process of
// §4.7: it owns the Game aggregate on one goroutine, applies actions
// serially against SQL, and broadcasts the resulting events to every
// worker.
package reducer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pku-geekgame/ctf-core/internal/apperrors"
	"github.com/pku-geekgame/ctf-core/internal/cryptoutil"
	"github.com/pku-geekgame/ctf-core/internal/glitter"
	"github.com/pku-geekgame/ctf-core/internal/metrics"
	"github.com/pku-geekgame/ctf-core/internal/projection"
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// Config carries the reducer's process settings. SSRFToken is the shared
// secret every action request must present, per
// §4.9 ("requests are validated against a shared secret before any other
// processing"). It is process configuration, not a compiled-in constant;
// see cmd/reducer.
type Config struct {
	SSRFToken       string
	MainBoardGroups []string
	FlagLeetSalt    string
	Signer          *cryptoutil.Signer
	DynamicFlagGen  projection.DynamicFlagGenerator
}

// job is one serialized unit of work submitted to the reducer's single
// owning goroutine: either an action to apply, or an arbitrary closure
// (used by the tick daemon and the admin HTTP surface to touch the
// Game without a data race, per §5's "communicate only through the command
// channel").
type job struct {
	action  *glitter.ActionRequest
	reply   chan glitter.ActionReply
	command func(*Reducer)
	done    chan struct{}
}

// Reducer is the single-writer state container.
type Reducer struct {
	cfg    Config
	db     *sql.DB
	repo   *store.Repo
	game   *projection.Game
	events *glitter.EventServer
	log    *logrus.Logger
	met    *metrics.Metrics

	stateCounter int64
	jobs         chan job
}

// New constructs a Reducer. Call Bootstrap before Run.
func New(cfg Config, db *sql.DB, events *glitter.EventServer, log *logrus.Logger, met *metrics.Metrics) *Reducer {
	game := projection.NewGame(cfg.MainBoardGroups, cfg.FlagLeetSalt, func(level, module, message string) {
		logLine(log, level, module, message)
	})
	game.DynamicFlagGenerator = cfg.DynamicFlagGen

	return &Reducer{
		cfg:          cfg,
		db:           db,
		repo:         store.NewRepo(db),
		game:         game,
		events:       events,
		log:          log,
		met:          met,
		stateCounter: 1,
		jobs:         make(chan job, 256),
	}
}

func logLine(log *logrus.Logger, level, module, message string) {
	entry := log.WithField("module", module)
	switch level {
	case "critical":
		entry.Error(message)
	case "error":
		entry.Error(message)
	case "warning":
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Bootstrap loads every table and wires the Game aggregate (§4.1
// replay-from-scratch path), run once before Run.
func (r *Reducer) Bootstrap(ctx context.Context) error {
	triggers, err := r.repo.LoadTriggers(ctx)
	if err != nil {
		return err
	}
	policies, err := r.repo.LoadGamePolicies(ctx)
	if err != nil {
		return err
	}
	announcements, err := r.repo.LoadAnnouncements(ctx)
	if err != nil {
		return err
	}
	challenges, err := r.repo.LoadChallenges(ctx)
	if err != nil {
		return err
	}
	users, err := r.repo.LoadUsers(ctx)
	if err != nil {
		return err
	}
	profiles, err := r.repo.LoadUserProfiles(ctx)
	if err != nil {
		return err
	}

	if err := r.game.Bootstrap(triggers, policies, announcements, challenges, users, profiles); err != nil {
		return fmt.Errorf("bootstrap game: %w", err)
	}

	r.game.OnTickChange(time.Now().Unix())
	return r.game.ReloadScoreboardIfNeeded(func() ([]store.SubmissionRow, error) {
		return r.repo.LoadSubmissionsAfter(ctx, 0)
	})
}

// Run processes jobs serially until ctx is cancelled. This is the single
// goroutine that owns Game, per §5.
func (r *Reducer) Run(ctx context.Context) {
	ticker := time.NewTicker(glitter.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			r.runJob(ctx, j)
		case <-ticker.C:
			r.emitSync()
		}
	}
}

func (r *Reducer) runJob(ctx context.Context, j job) {
	if j.command != nil {
		j.command(r)
		close(j.done)
		return
	}

	oldCounter := r.stateCounter
	rep, code := r.handleActionSafely(ctx, *j.action)
	diff := r.stateCounter - oldCounter
	if diff != 0 && diff != 1 {
		r.log.WithField("module", "reducer.run_job").
			Errorf("state counter invariant violated: %d -> %d", oldCounter, r.stateCounter)
	}

	if r.met != nil {
		r.met.ActionsTotal.WithLabelValues(string(j.action.Type)).Inc()
		if rep.ErrorMsg != nil {
			r.met.ActionErrors.WithLabelValues(string(j.action.Type), string(code)).Inc()
		}
		r.met.StateCounter.Set(float64(r.stateCounter))
	}

	j.reply <- rep
	r.emitSync()
}

func (r *Reducer) handleActionSafely(ctx context.Context, req glitter.ActionRequest) (rep glitter.ActionReply, code apperrors.Code) {
	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("module", "reducer.handle_action").Errorf("panic: %v", p)
			msg := "internal error"
			rep = glitter.ActionReply{ErrorMsg: &msg, StateCounter: r.stateCounter}
			code = apperrors.CodeInternal
		}
	}()
	return r.handleAction(ctx, req)
}

// Submit enqueues an action request for serialized processing and blocks
// for its reply. Safe to call from many goroutines (e.g. many concurrent
// HTTP handlers on the action channel).
func (r *Reducer) Submit(req glitter.ActionRequest) glitter.ActionReply {
	reply := make(chan glitter.ActionReply, 1)
	r.jobs <- job{action: &req, reply: reply}
	return <-reply
}

// WithGame runs fn against the Game aggregate on the owning goroutine and
// blocks until it completes (used by the tick daemon and the admin reload
// commands).
func (r *Reducer) WithGame(fn func(*Reducer)) {
	done := make(chan struct{})
	r.jobs <- job{command: fn, done: done}
	<-done
}

func (r *Reducer) emitEvent(ctx context.Context, evType glitter.EventType, data int64) {
	r.stateCounter++
	ev := glitter.Event{Type: evType, StateCounter: r.stateCounter, Data: data}
	if r.events != nil {
		r.events.Broadcast(ev)
	}
	if r.met != nil {
		r.met.EventsEmitted.WithLabelValues(fmt.Sprint(evType)).Inc()
	}
}

func (r *Reducer) emitSync() {
	if r.events != nil {
		r.events.Broadcast(glitter.Event{
			Type:         glitter.EventSync,
			StateCounter: r.stateCounter,
			Data:         int64(r.game.CurTick),
		})
	}
}

// Game exposes the aggregate for read-only inspection by the admin HTTP
// surface (called only via WithGame).
func (r *Reducer) Game() *projection.Game { return r.game }
