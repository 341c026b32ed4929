// Package pagereport implements the core of a free-page reporting
// engine (§1): a per-region candidate index fed by an allocator's free
// path, a debounced scheduler, and a scanner/reporter that
// re-validates, isolates, batches, and reports candidates to an
// external consumer before returning them to the allocator.
//
// The allocator itself — free lists, region locks, migration-type
// accounting — is an external collaborator satisfying the
// allocator.Allocator contract. pagereport never calls into the
// allocator's free or allocate paths; it expects the allocator to call
// Controller.Enqueue / Controller.Dequeue at those call sites instead
// (§6.2's "Hook points").
package pagereport

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/pianoyeg94/go-pagereport/allocator"
)

// activeConfig is the Active Configuration of §3: the published,
// process-wide handle that every reader (hooks, scheduler, scanner)
// reaches the engine's state through. It is immutable after
// publication — the fields that do change (candidate bitmaps,
// pending counters) live one level down, inside each trackedRegion.
type activeConfig struct {
	cfg      Config
	cfgPtr   *Config // identity of the Config passed to Enable; compared by Disable
	regions  []*trackedRegion
	byRegion map[allocator.Region]*trackedRegion
	sched    *scheduler
}

// Controller owns one free-page reporting engine wired to a single
// allocator. A process normally constructs one Controller per
// allocator instance; at most one Config may be Active on it at a
// time (§3's "Exactly one may be active").
type Controller struct {
	alloc allocator.Allocator

	// mu is the single-writer lock guarding Enable/Disable
	// transitions (§4.5). It is never held by a reader — AH hooks,
	// the scheduler, and the scanner all reach the engine through
	// the lock-free active pointer below.
	mu sync.Mutex

	// active is the publication pointer of §4.5/§9: readers load it
	// with acquire semantics (the default for atomic.Pointer) and
	// must treat a nil load as "return without touching per-region
	// state". Enable/Disable store it with release semantics under
	// mu.
	active atomic.Pointer[activeConfig]
}

// NewController wraps alloc with a free-page reporting engine. alloc
// is expected to call c.Enqueue/c.Dequeue at its free/allocate hook
// points once this Controller is handed to it.
func NewController(alloc allocator.Allocator) *Controller {
	return &Controller{alloc: alloc}
}

// Enable activates cfg (§4.5/§6.1). cfg's identity (its pointer) is
// what a later Disable call must present to deactivate it — the
// pointer plays the role of the opaque "config" handle in §6.1's
// enable/disable pair. It fails with ErrBusy if a configuration is
// already Active, and with ErrOutOfMemory if building the per-region
// candidate indices fails. Enable does not partially apply a
// configuration: on any error the controller is left exactly as it
// was before the call.
func (c *Controller) Enable(cfg *Config) error {
	if cfg.MaxPages < 1 {
		return errors.Wrap(ErrInvalidConfig, "MaxPages must be >= 1")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active.Load() != nil {
		return ErrBusy
	}

	ac, err := c.buildActiveConfig(cfg)
	if err != nil {
		return err
	}

	ac.sched = newScheduler(c, ac)

	// Publish before requesting the initial scan: the scheduler's
	// worker goroutine reads regions off ac, which is already fully
	// formed by this point, but it also matters for AH hooks racing
	// concurrently with this Enable — they must see either no
	// configuration or a complete one, never a partially built one.
	c.active.Store(ac)

	// §4.5: "request an initial scan for each populated region".
	// One request is enough — the scheduler's single cycle visits
	// every region in round-robin order and skips any with nothing
	// pending.
	ac.sched.request()

	return nil
}

// buildActiveConfig allocates a trackedRegion (and its candidate
// index) for every region the allocator currently reports. A panic
// from an oversized make (the only realistic "allocation failure" a
// Go program can hit here) is converted to ErrOutOfMemory so Enable's
// no-partial-enable guarantee holds.
func (c *Controller) buildActiveConfig(cfg *Config) (ac *activeConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			ac = nil
			err = errors.Wrapf(ErrOutOfMemory, "building candidate index: %v", r)
		}
	}()

	blockSize := cfg.blockSize()
	ac = &activeConfig{
		cfg:      *cfg,
		cfgPtr:   cfg,
		byRegion: make(map[allocator.Region]*trackedRegion),
	}

	c.alloc.ForEachRegion(func(r allocator.Region) bool {
		tr := newTrackedRegion(r, blockSize)
		ac.regions = append(ac.regions, tr)
		ac.byRegion[r] = tr
		return true
	})

	return ac, nil
}

// Disable deactivates cfg (§4.5/§6.1). It is a no-op if cfg is not the
// identity of the currently Active configuration (i.e. not the same
// Config value previously passed to a successful Enable call) —
// Disable never surfaces an error, matching the "-> Void" signature in
// §6.1.
//
// After Disable returns, no scanner invocation will observe this
// configuration's candidate-index memory again (P4), and no further
// report callbacks will be invoked for it.
func (c *Controller) Disable(cfg *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac := c.active.Load()
	if ac == nil || ac.cfgPtr != cfg {
		return
	}

	// Unpublish first (release store): from this instant, every AH
	// hook that has not yet loaded the pointer will observe nil and
	// return immediately.
	c.active.Store(nil)

	// Quiescence: any AH hook that loaded the old, non-nil pointer
	// before the unpublish is executing inside a region-lock
	// critical section. Taking and releasing every region's lock
	// here is a barrier against exactly that — once we hold a
	// region's lock, no racing hook that saw the old configuration
	// can still be touching that region's candidate index, because
	// it would have had to be holding the same lock to do so.
	for _, tr := range ac.regions {
		_ = c.alloc.WithRegionLock(tr.region, func() error { return nil })
	}

	// Cancel-and-join the scheduler: Pending never becomes Running,
	// and a Running cycle finishes its current batch before it
	// exits. After stop() returns, scanRegion is guaranteed not to
	// be running against this configuration (P2 also implies this
	// is the only concurrent scanner that could exist).
	ac.sched.stop()
}
