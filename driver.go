package ttimer

import (
	"sync"
	"time"

	"github.com/jiansoft/robin"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultTickDuration is the wall-clock length of one tick used by NewDriver.
const DefaultTickDuration = time.Second

type (
	// Driver couples a Wheel with a wall clock. It serializes every wheel
	// access behind one mutex and, once started, polls the clock on a
	// robin job and delivers all ticks elapsed since the previous poll.
	//
	// Callbacks run with the driver lock held, on whichever goroutine
	// advanced the clock. Inside a callback use the *Wheel returned by
	// Wheel (or received through Locked), never Schedule or Cancel.
	Driver struct {
		mu     sync.Mutex
		wheel  *Wheel
		job    disposer
		tick   time.Duration
		epoch  time.Time
		now    func() time.Time
		logger *zap.Logger

		running atomic.Bool
		polls   atomic.Uint64
		panics  atomic.Uint64
	}

	// DriverOption configures a Driver.
	DriverOption func(*Driver)

	// disposer is what robin hands back for a periodic job.
	disposer interface {
		Dispose()
	}
)

// WithTickDuration sets the wall-clock length of one tick.
func WithTickDuration(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.tick = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests. If the clock steps
// backwards the driver holds its current tick until the clock catches up.
func WithClock(now func() time.Time) DriverOption {
	return func(dr *Driver) {
		if now != nil {
			dr.now = now
		}
	}
}

// WithDriverLogger sets the logger shared by the driver and its wheel.
func WithDriverLogger(logger *zap.Logger) DriverOption {
	return func(dr *Driver) {
		if logger != nil {
			dr.logger = logger
		}
	}
}

// NewDriver creates a stopped driver whose wheel is sized for maxTimeout
// ticks. Tick zero is the moment NewDriver returns.
func NewDriver(maxTimeout int64, opts ...DriverOption) *Driver {
	d := &Driver{
		tick:   DefaultTickDuration,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.epoch = d.now()
	d.wheel = New(maxTimeout, 0, WithLogger(d.logger))

	return d
}

// Start launches the background poll job. Calling Start on a running
// driver does nothing.
func (d *Driver) Start() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}

	interval := d.tick.Milliseconds()
	if interval <= 0 {
		interval = 1
	}

	d.mu.Lock()
	d.job = robin.Every(interval).Milliseconds().Do(d.Advance)
	d.mu.Unlock()

	d.logger.Info("timer driver started", zap.Duration("tick", d.tick), zap.Int64("pollMs", interval))
}

// Stop cancels the background poll job. Scheduled entries stay armed
// and fire once the driver is started again or advanced manually.
func (d *Driver) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	d.mu.Lock()
	job := d.job
	d.job = nil
	d.mu.Unlock()

	if job != nil {
		job.Dispose()
	}

	d.logger.Info("timer driver stopped", zap.Uint64("polls", d.polls.Load()))
}

// Close stops the driver and destroys its wheel without running any
// pending callback.
func (d *Driver) Close() {
	d.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.wheel.Destroy()
}

// IsRunning reports whether the background poll job is active.
func (d *Driver) IsRunning() bool {
	return d.running.Load()
}

// Advance polls the clock and delivers every tick elapsed since the last
// poll. The background job calls it; it is exported for manual driving.
func (d *Driver) Advance() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.polls.Inc()
	d.catchUp(d.now())
}

// Schedule arms e to fire once after the duration has elapsed, rounded up
// to whole ticks. The wheel is brought up to date first so the delay counts
// from now, including the part of the current tick that has already passed.
func (d *Driver) Schedule(e *Entry, after time.Duration) error {
	if after <= 0 {
		return errors.Wrapf(ErrInvalidTimeout, "schedule after %v", after)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.catchUp(now)

	// 時間輪只知道 tick 邊界，目前 tick 已過去的部分要補回去，否則會提早觸發
	partial := now.Sub(d.epoch) % d.tick
	if partial < 0 {
		partial = 0
	}
	ticks := int64((after + partial + d.tick - 1) / d.tick)

	return d.wheel.Start(e, ticks)
}

// Cancel disarms e, reporting whether it was pending.
func (d *Driver) Cancel(e *Entry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.wheel.Stop(e)
}

// Locked runs fn with exclusive access to the wheel.
func (d *Driver) Locked(fn func(w *Wheel)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(d.wheel)
}

// Wheel returns the driven wheel. Only touch it from callbacks or Locked.
func (d *Driver) Wheel() *Wheel {
	return d.wheel
}

// Stats returns a snapshot of the wheel counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.wheel.Stats()
}

// Pending returns the number of scheduled entries.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.wheel.Len()
}

// Panics returns how many callback panics the driver has recovered.
func (d *Driver) Panics() uint64 {
	return d.panics.Load()
}

// elapsed returns the number of whole ticks between the epoch and now.
func (d *Driver) elapsed(now time.Time) int64 {
	return int64(now.Sub(d.epoch) / d.tick)
}

// catchUp 把時間輪推進到 now
// 時鐘倒退時維持在 lastRun，時間輪不會倒轉
// callback panic 時記錄後繼續推進，避免單一 callback 卡住整個時間輪
func (d *Driver) catchUp(now time.Time) {
	target := d.elapsed(now)
	if last := d.wheel.LastRun(); target < last {
		d.logger.Warn("timer clock went backwards", zap.Int64("tick", target), zap.Int64("lastRun", last))
		target = last
	}

	for !d.runTicks(target) {
	}
}

func (d *Driver) runTicks(now int64) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Inc()
			d.logger.Error("timer callback panicked", zap.Any("panic", r), zap.Int64("tick", d.wheel.LastRun()))
		}
	}()

	d.wheel.RunTicks(now)
	return true
}
