package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pku-geekgame/ctf-core/internal/glitter"
	"github.com/pku-geekgame/ctf-core/internal/metrics"
	"github.com/pku-geekgame/ctf-core/internal/projection"
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// HeartbeatInterval is how often a worker sends a WorkerHeartbeat action.
// Heartbeats are sent only on this timer, not after each handled event.
// It reuses the protocol's SYNC cadence since nothing about heartbeat
// timing is separately specified.
const HeartbeatInterval = glitter.SyncInterval

// Config configures one worker process.
type Config struct {
	SSRFToken       string
	ClientName      string
	MainBoardGroups []string
	FlagLeetSalt    string
	DynamicFlagGen  projection.DynamicFlagGenerator
	PoliceEnabled   bool
}

// DialEventChannel reconnects the event channel after a resync. Supplied by
// cmd/worker since only it knows the reducer's event socket address.
type DialEventChannel func(ctx context.Context) (*glitter.EventClient, error)

type workerJob struct {
	command func(*projection.Game)
	done    chan struct{}
}

// Worker owns a local projection that mirrors the reducer's, fed by the
// event channel (§4.8). Exactly one goroutine (Run) applies events and
// runs commands against Game; every other caller goes through WithGame or
// PerformAction.
type Worker struct {
	cfg     Config
	repo    *store.Repo
	actions *glitter.ActionClient
	events  *glitter.EventClient
	dial    DialEventChannel
	log     *logrus.Logger
	met     *metrics.Metrics
	bus     *MessageBus
	police  *PoliceMonitor

	game *projection.Game

	mu           sync.Mutex
	cond         *sync.Cond
	stateCounter int64

	jobs chan workerJob
}

// New constructs a Worker. Call Bootstrap before Run.
func New(cfg Config, repo *store.Repo, actions *glitter.ActionClient, events *glitter.EventClient,
	dial DialEventChannel, log *logrus.Logger, met *metrics.Metrics) *Worker {

	game := projection.NewGame(cfg.MainBoardGroups, cfg.FlagLeetSalt, func(level, module, message string) {
		logLine(log, level, module, message)
	})
	game.DynamicFlagGenerator = cfg.DynamicFlagGen

	w := &Worker{
		cfg:     cfg,
		repo:    repo,
		actions: actions,
		events:  events,
		dial:    dial,
		log:     log,
		met:     met,
		bus:     NewMessageBus(),
		game:    game,
		jobs:    make(chan workerJob, 256),
	}
	w.cond = sync.NewCond(&w.mu)
	if cfg.PoliceEnabled {
		w.police = NewPoliceMonitor(log)
	}
	return w
}

func logLine(log *logrus.Logger, level, module, message string) {
	entry := log.WithField("module", module)
	switch level {
	case "critical", "error":
		entry.Error(message)
	case "warning":
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Bus exposes the local message bus to in-process consumers. Nothing in
// this repository subscribes to it; the police monitor is called directly
// from the NEW_SUBMISSION handler.
func (w *Worker) Bus() *MessageBus { return w.bus }

// Bootstrap performs the startup handshake of §4.8 point 1: WorkerHello,
// block for the next SYNC to seed the counter, then load every table and
// replay the submission log from scratch.
func (w *Worker) Bootstrap(ctx context.Context) error {
	if err := w.handshake(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	seed, err := w.awaitSync(ctx)
	if err != nil {
		return fmt.Errorf("await initial sync: %w", err)
	}
	w.mu.Lock()
	w.stateCounter = seed.StateCounter
	w.mu.Unlock()

	return w.loadAndReplay(ctx)
}

func (w *Worker) handshake(ctx context.Context) error {
	payload, err := json.Marshal(workerHelloPayload{ProtocolVer: glitter.ProtocolVersion})
	if err != nil {
		return err
	}
	reply, err := w.actions.Call(ctx, glitter.ActionRequest{
		Type:      glitter.ActionWorkerHello,
		SSRFToken: w.cfg.SSRFToken,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	if reply.ErrorMsg != nil {
		return fmt.Errorf("rejected: %s", *reply.ErrorMsg)
	}
	return nil
}

type workerHelloPayload struct {
	ProtocolVer string `json:"protocol_ver"`
}

// awaitSync blocks until the next SYNC frame arrives, discarding anything
// else (there should be nothing else before the worker has seeded its
// counter and joined the dispatch loop).
func (w *Worker) awaitSync(ctx context.Context) (glitter.Event, error) {
	for {
		ev, err := w.events.Next()
		if err != nil {
			return glitter.Event{}, err
		}
		if ev.Type == glitter.EventSync {
			return ev, nil
		}
	}
}

// loadAndReplay rebuilds the whole projection from SQL: every table plus a
// full in-id-order submission replay (§4.1, §4.4).
func (w *Worker) loadAndReplay(ctx context.Context) error {
	triggers, err := w.repo.LoadTriggers(ctx)
	if err != nil {
		return err
	}
	policies, err := w.repo.LoadGamePolicies(ctx)
	if err != nil {
		return err
	}
	announcements, err := w.repo.LoadAnnouncements(ctx)
	if err != nil {
		return err
	}
	challenges, err := w.repo.LoadChallenges(ctx)
	if err != nil {
		return err
	}
	users, err := w.repo.LoadUsers(ctx)
	if err != nil {
		return err
	}
	profiles, err := w.repo.LoadUserProfiles(ctx)
	if err != nil {
		return err
	}

	if err := w.game.Bootstrap(triggers, policies, announcements, challenges, users, profiles); err != nil {
		return fmt.Errorf("bootstrap game: %w", err)
	}

	w.game.OnTickChange(time.Now().Unix())
	if err := w.game.ReloadScoreboardIfNeeded(w.loadAllSubmissions(ctx)); err != nil {
		return err
	}

	if w.met != nil {
		w.met.UsersTotal.Set(float64(len(w.game.Users.List)))
		w.met.SubmitTotal.Set(float64(w.game.SubmissionCount()))
	}
	return nil
}

func (w *Worker) loadAllSubmissions(ctx context.Context) func() ([]store.SubmissionRow, error) {
	return func() ([]store.SubmissionRow, error) {
		return w.repo.LoadSubmissionsAfter(ctx, 0)
	}
}

// WithGame runs fn against the Game aggregate on the owning goroutine and
// blocks until it completes, for any external reader (e.g. the admin HTTP
// surface) that must not touch Game directly (§5).
func (w *Worker) WithGame(fn func(*projection.Game)) {
	done := make(chan struct{})
	w.jobs <- workerJob{command: fn, done: done}
	<-done
}

// PerformAction sends req to the reducer and waits until this worker's own
// projection has observed the resulting state counter before returning
// (§4.8 point 3, §8 P8), so a caller reading state immediately afterward
// sees its own write.
func (w *Worker) PerformAction(ctx context.Context, req glitter.ActionRequest) (glitter.ActionReply, error) {
	req.SSRFToken = w.cfg.SSRFToken
	reply, err := w.actions.Call(ctx, req)
	if err != nil {
		return reply, err
	}
	if err := w.waitForCounter(ctx, reply.StateCounter); err != nil {
		return reply, err
	}
	return reply, nil
}

func (w *Worker) waitForCounter(ctx context.Context, target int64) error {
	giveUp := make(chan struct{})
	defer close(giveUp)
	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		case <-giveUp:
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.stateCounter < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.cond.Wait()
	}
	return nil
}

// Run consumes events and commands until ctx is cancelled (§4.8 point 2).
// This is the single goroutine that owns Game.
func (w *Worker) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	eventsCh, errCh := w.startPump(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case j := <-w.jobs:
			j.command(w.game)
			close(j.done)

		case ev := <-eventsCh:
			if w.processEvent(ctx, ev) {
				if err := w.resync(ctx); err != nil {
					return fmt.Errorf("resync: %w", err)
				}
				eventsCh, errCh = w.startPump(ctx)
			}

		case err := <-errCh:
			w.log.WithField("module", "worker.run").Warnf("event channel error, resyncing: %v", err)
			if rerr := w.resync(ctx); rerr != nil {
				return fmt.Errorf("resync after event channel error: %w", rerr)
			}
			eventsCh, errCh = w.startPump(ctx)

		case <-heartbeat.C:
			w.sendHeartbeat(ctx)
		}
	}
}

// startPump spawns the goroutine that blockingly reads events off the
// current event connection and forwards them to a channel Run can select
// on. A fresh pump is started after every resync, since the connection is
// replaced.
func (w *Worker) startPump(ctx context.Context) (chan glitter.Event, chan error) {
	eventsCh := make(chan glitter.Event, 64)
	errCh := make(chan error, 1)

	go func(conn *glitter.EventClient) {
		for {
			ev, err := conn.Next()
			if err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case eventsCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}(w.events)

	return eventsCh, errCh
}

// resync discards the local projection and rebuilds it from scratch over a
// freshly dialed event connection (§4.9 "any gap triggers resync"; §5
// "loss recovery").
func (w *Worker) resync(ctx context.Context) error {
	if w.met != nil {
		w.met.ResyncsTotal.Inc()
	}
	if w.events != nil {
		_ = w.events.Close()
	}

	conn, err := w.dial(ctx)
	if err != nil {
		return fmt.Errorf("redial event channel: %w", err)
	}
	w.events = conn

	return w.Bootstrap(ctx)
}

func (w *Worker) sendHeartbeat(ctx context.Context) {
	payload, err := json.Marshal(workerHeartbeatPayload{
		ClientName:      w.cfg.ClientName,
		StateCounter:    w.stateCounter,
		CurTick:         w.game.CurTick,
		UserCount:       len(w.game.Users.List),
		SubmissionCount: w.game.SubmissionCount(),
	})
	if err != nil {
		return
	}
	_, err = w.actions.Call(ctx, glitter.ActionRequest{
		Type:      glitter.ActionWorkerHeartbeat,
		SSRFToken: w.cfg.SSRFToken,
		Payload:   payload,
	})
	if err != nil {
		w.log.WithField("module", "worker.heartbeat").Warnf("heartbeat failed: %v", err)
		return
	}
	w.bus.Publish(Message{Kind: MessageHeartbeatSent})
}

type workerHeartbeatPayload struct {
	ClientName      string `json:"client_name"`
	StateCounter    int64  `json:"state_counter"`
	CurTick         int    `json:"cur_tick"`
	UserCount       int    `json:"user_count"`
	SubmissionCount int    `json:"submission_count"`
}

// Game exposes the aggregate for read-only inspection by callers that have
// already gone through WithGame.
func (w *Worker) Game() *projection.Game { return w.game }
