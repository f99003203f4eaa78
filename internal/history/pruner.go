package history

import (
	"log"

	"github.com/robfig/cron/v3"
)

// Pruner deletes old history records on a cron schedule.
type Pruner struct {
	cron     *cron.Cron
	keepDays int
}

// NewPruner creates a pruner that keeps records newer than keepDays.
func NewPruner(keepDays int) *Pruner {
	return &Pruner{
		cron:     cron.New(),
		keepDays: keepDays,
	}
}

// Start schedules pruning on the given cron expression (standard five
// field syntax, e.g. "0 3 * * *" for daily at 03:00).
func (p *Pruner) Start(schedule string) error {
	_, err := p.cron.AddFunc(schedule, func() {
		removed, err := Prune(p.keepDays)
		if err != nil {
			log.Printf("History prune failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("Pruned %d history records older than %d days", removed, p.keepDays)
		}
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule. A prune already running finishes first.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}
