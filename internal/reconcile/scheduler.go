package reconcile

import (
	"context"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler drains the reconciliation queue on a cron schedule.
type Scheduler struct {
	cron  *cron.Cron
	r     *Reconciler
	batch int

	// running keeps a slow drain from overlapping the next tick
	running sync.Mutex
}

func NewScheduler(r *Reconciler, spec string, batch int) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		r:     r,
		batch: batch,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start requeues tasks abandoned by a previous process and starts the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	if n, err := s.r.queue.Recover(ctx); err != nil {
		log.Printf("[reconcile] recover failed: %v", err)
	} else if n > 0 {
		log.Printf("[reconcile] recovered %d in-flight tasks", n)
	}
	s.cron.Start()
	log.Println("[reconcile] scheduler started")
}

// Stop halts the schedule and waits for a running drain to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	if !s.running.TryLock() {
		return
	}
	defer s.running.Unlock()

	n, err := s.r.RunOnce(context.Background(), s.batch)
	if err != nil {
		log.Printf("[reconcile] run failed after %d tasks: %v", n, err)
		return
	}
	if n > 0 {
		log.Printf("[reconcile] processed %d tasks", n)
	}
}
