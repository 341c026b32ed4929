package pagereport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// debounceInterval is the default delay between a wake request and the
// start of a scan (§4.3's "design default ≈ 100ms"). It exists to let
// a burst of frees coalesce into one scan instead of triggering one
// scan per threshold crossing.
const debounceInterval = 100 * time.Millisecond

// scheduler is the single background worker described in §4.3. Exactly
// one exists per active configuration; it is created by Enable and
// stopped by Disable.
//
//	Idle ──request──► Pending ──delay──► Running ──drained──► Idle
//	                        ▲                 │
//	                        └───new-request───┘
//
// busy implements that state machine as a single flag: Idle is
// busy==false, Pending and Running are both busy==true (a scan cycle
// goroutine is either waiting out the debounce or actively scanning).
// Additional request() calls while busy is already true are absorbed —
// they contribute to the cycle already under way rather than starting
// a second one, which is what keeps P2 (at-most-one scan) true.
type scheduler struct {
	ctrl *Controller
	ac   *activeConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	busy atomic.Bool
}

func newScheduler(ctrl *Controller, ac *activeConfig) *scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{ctrl: ctrl, ac: ac, ctx: ctx, cancel: cancel}
}

// request asks the scheduler to run a cycle. It is safe to call from
// any number of concurrent allocator free paths; only the first caller
// to observe Idle actually starts a cycle goroutine.
func (s *scheduler) request() {
	if s.ctx.Err() != nil {
		return
	}
	if s.busy.CompareAndSwap(false, true) {
		s.wg.Add(1)
		go s.runCycle()
	}
}

// stop cancels any pending or in-flight cycle and waits for it to
// return. A Running cycle finishes the batch it is currently emitting
// before it observes cancellation and exits (§4.3's "Disabling causes
// Running to finish its current batch, then observe the lifecycle
// state and exit"); a Pending cycle never enters Running.
func (s *scheduler) stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *scheduler) runCycle() {
	defer s.wg.Done()
	defer s.busy.Store(false)

	t := time.NewTimer(debounceInterval)
	select {
	case <-t.C:
	case <-s.ctx.Done():
		t.Stop()
		return
	}

	rr := uint32(0)
	for {
		n := len(s.ac.regions)
		if n == 0 || s.ctx.Err() != nil {
			return
		}

		sawPending := false
		for k := 0; k < n; k++ {
			idx := rr % uint32(n)
			rr++
			tr := s.ac.regions[idx]
			if tr.ci.pendingCount() <= 0 {
				continue
			}
			sawPending = true
			s.ctrl.scanRegion(s.ac, tr)
			// A batch just completed (isolated blocks released).
			// This is the only point where it is safe to honor
			// cancellation without abandoning isolated work.
			if s.ctx.Err() != nil {
				return
			}
		}
		if !sawPending {
			return
		}
	}
}
