package persist

import (
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler drives periodic snapshot and GC-sweep cadence on cron
// expressions, exactly the teacher's internal/storage.Scheduler shape
// (a *cron.Cron plus a small wrapper tracking what's currently running),
// generalized from arbitrary user SQL jobs down to the engine's two fixed
// background duties.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	running map[string]bool
}

// NewScheduler constructs a stopped scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		running: make(map[string]bool),
	}
}

// ScheduleSnapshot registers a periodic snapshot job under cronExpr (cron
// syntax with seconds, e.g. "0 */5 * * * *" for every five minutes). fn is
// expected to perform the full write-snapshot-then-rotate-log sequence.
func (s *Scheduler) ScheduleSnapshot(cronExpr string, fn func()) (cron.EntryID, error) {
	return s.schedule("snapshot", cronExpr, fn)
}

// ScheduleGC registers a periodic GC-sweep job under cronExpr.
func (s *Scheduler) ScheduleGC(cronExpr string, fn func()) (cron.EntryID, error) {
	return s.schedule("gc", cronExpr, fn)
}

func (s *Scheduler) schedule(name, cronExpr string, fn func()) (cron.EntryID, error) {
	return s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.running[name] {
			// Previous run of this job is still in flight; a snapshot or
			// GC sweep that overruns its own period must not overlap a
			// second instance, since both take the same store-wide read
			// pass.
			s.mu.Unlock()
			return
		}
		s.running[name] = true
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.running[name] = false
			s.mu.Unlock()
		}()
		fn()
	})
}

// Start begins executing scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and blocks until every job invocation that is
// already running has returned.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
