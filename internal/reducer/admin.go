package reducer

import (
	"context"

	"github.com/pku-geekgame/ctf-core/internal/glitter"
)

// ReloadTriggers re-reads the trigger table and applies it on the owning
// goroutine, then broadcasts RELOAD_TRIGGER exactly as if the change had
// come from any other admin surface (§4.9, §6's admin HTTP endpoint).
func (r *Reducer) ReloadTriggers(ctx context.Context) error {
	rows, err := r.repo.LoadTriggers(ctx)
	if err != nil {
		return err
	}
	r.WithGame(func(rd *Reducer) {
		rd.game.Trigger.OnStoreReload(rows)
		rd.emitEvent(ctx, glitter.EventReloadTrigger, 0)
	})
	return nil
}

// ReloadPolicy re-reads the game policy table and applies it on the owning
// goroutine, then broadcasts RELOAD_GAME_POLICY.
func (r *Reducer) ReloadPolicy(ctx context.Context) error {
	rows, err := r.repo.LoadGamePolicies(ctx)
	if err != nil {
		return err
	}
	r.WithGame(func(rd *Reducer) {
		rd.game.Policy.OnStoreReload(rows)
		rd.emitEvent(ctx, glitter.EventReloadGamePolicy, 0)
	})
	return nil
}

// Status is a snapshot of reducer health for the admin HTTP /healthz route.
type Status struct {
	StateCounter int64
	CurTick      int
}

// Snapshot reads a consistent (StateCounter, CurTick) pair off the owning
// goroutine without letting the caller touch Game directly.
func (r *Reducer) Snapshot() Status {
	var st Status
	r.WithGame(func(rd *Reducer) {
		st = Status{StateCounter: rd.stateCounter, CurTick: rd.game.CurTick}
	})
	return st
}
