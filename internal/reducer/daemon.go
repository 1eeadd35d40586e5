package reducer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pku-geekgame/ctf-core/internal/glitter"
)

// RunTickDaemon recomputes the current tick once a second and broadcasts
// TICK_UPDATE whenever it changes (§4.7.4), driven by robfig/cron's Cron
// scheduler rather than a bare time.Ticker.
func (r *Reducer) RunTickDaemon(ctx context.Context) {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc("@every 1s", func() { r.tickOnce(ctx) })
	if err != nil {
		r.log.WithField("module", "reducer.tick_daemon").Errorf("schedule tick poll: %v", err)
		return
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

func (r *Reducer) tickOnce(ctx context.Context) {
	r.WithGame(func(rd *Reducer) {
		prev := rd.game.CurTick
		rd.game.OnTickChange(time.Now().Unix())
		if rd.game.CurTick != prev {
			rd.emitEvent(ctx, glitter.EventTickUpdate, int64(rd.game.CurTick))
			if rd.met != nil {
				rd.met.CurrentTick.Set(float64(rd.game.CurTick))
			}
		}
	})
}

// RunHealthDaemon samples process/host health every interval and updates
// the health gauges of §4.7.5, using gopsutil's cross-platform sampling.
func (r *Reducer) RunHealthDaemon(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleHealth(ctx)
		}
	}
}

func (r *Reducer) sampleHealth(ctx context.Context) {
	if r.met == nil {
		return
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		r.met.LoadAverage.Set(avg.Load1)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.met.MemUsedPercent.Set(vm.UsedPercent)
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		r.met.DiskUsedPercent.Set(du.UsedPercent)
	}
}
