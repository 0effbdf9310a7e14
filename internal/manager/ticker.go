package manager

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/pagekv/pagekv/internal/util/log"
)

// statTicker drives the manager's periodic statistics emission, the
// every-N-milliseconds log line the reference implementation's
// plg_LogStat produces, scheduled here with robfig/cron/v3 the way
// tinySQL's internal/storage/scheduler.go drives its own periodic jobs.
type statTicker struct {
	cron *cron.Cron
	m    *Manager
}

func newStatTicker(m *Manager) *statTicker {
	return &statTicker{cron: cron.New(cron.WithSeconds()), m: m}
}

// Start schedules the statistics job at the configured interval,
// rounding StatCheckTimeMilli up to whole seconds since cron's finest
// grain is one second.
func (t *statTicker) Start() {
	secs := (t.m.cfg.StatCheckTimeMilli + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	spec := fmt.Sprintf("@every %ds", secs)
	_, err := t.cron.AddFunc(spec, t.emit)
	if err != nil {
		log.Error("manager: failed to schedule statistics ticker", err)
		return
	}
	t.cron.Start()
}

func (t *statTicker) emit() {
	if !t.m.cfg.StatEnabled {
		return
	}
	for _, w := range t.m.workers {
		snap := w.StatSnapshot()
		log.Info("worker statistics", "worker", w.ID, "queueHighWater", snap.QueueHWM, "orders", len(snap.Messages))
	}
}

// Stop halts the scheduler and waits for any in-flight run to finish.
func (t *statTicker) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
}
