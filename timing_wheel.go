package ttimer

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ============================================================================
// 層級時間輪 (Hierarchical Timing Wheel) 實作說明
// ============================================================================
//
// 每一層都是 256 個槽的時間輪，最多 3 層：
//
//	Level 2  [ 0 | 1 | 2 | ... | 255 ]   每槽 = 65536 ticks
//	Level 1  [ 0 | 1 | 2 | ... | 255 ]   每槽 = 256 ticks
//	Level 0  [ 0 | 1 | 2 | ... | 255 ]   每槽 = 1 tick
//	                ▲
//	                └── hand：最近一次處理過的槽（該層的「現在」）
//
// 排程的計算方式和數字時鐘相同。假設現在是 22:58:57，加上 192 秒：
//
//	L0 (秒)：(57 + 192) div 60 = 4 餘 9
//	L1 (分)：(58 + 4)   div 60 = 1 餘 2
//	L2 (時)：(22 + 1)   div 24 = 0 餘 23
//
// 商為 0 的那一層就是要放入的層 (L2)，餘數就是槽 (23)。
// 剩餘時間 (residual) 為前面各層餘數的總和：9 + 2*60 = 129，
// 也就是時鐘走到 23:00:00 時，距離 23:02:09 還有 129 秒。
// 這裡的時鐘是 256 進位，「午夜」為 255:255:255。
//
// 超過最高層能表示的範圍時，項目先放在最高層的槽，
// 多出來的整圈數折算進 residual，等指針轉到時再重新排程。
//
// 複雜度：Start / Stop / Tick 皆為攤銷 O(1)，熱路徑不配置記憶體。
//
// 參考：G. Varghese, A. Lauck, Hashed and hierarchical timing wheels:
// efficient data structures for implementing a timer facility,
// IEEE/ACM Transactions on Networking, Vol. 5, No. 6, Dec 1997
// ============================================================================

const (
	// wheelBuckets 是每一層的槽數量，256 方便用位移與遮罩計算
	wheelBuckets = 256

	// wheelMaxLevels 是層數上限，256^3 約等於 194 天（以 1 秒為 tick）
	wheelMaxLevels = 3

	bucketShift = 8
	bucketMask  = wheelBuckets - 1
)

type (
	// Wheel is a hierarchical timing wheel driven by explicit ticks.
	//
	// A Wheel is not safe for concurrent use; wrap it in a Driver or
	// serialize every call yourself.
	Wheel struct {
		// levels 由建構時決定，之後不再改變大小
		levels []wheelLevel

		// draining 暫存本次 tick 取出的槽，callback 可以安全地
		// 取消或重新排程其中任何一個項目
		draining [wheelMaxLevels]link

		// lastRun 是 RunTicks 最後處理到的時間值
		lastRun int64

		logger    *zap.Logger
		stats     Stats
		destroyed bool
	}

	// wheelLevel 代表時間輪的單一層級
	wheelLevel struct {
		// hand 是最近一次處理過的槽
		hand    uint64
		buckets [wheelBuckets]link
	}

	// Option configures a Wheel.
	Option func(*Wheel)
)

// WithLogger sets the logger used for lifecycle and misuse reports.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Wheel) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a wheel able to express timeouts up to maxTimeout ticks
// structurally. The level count is the smallest n with 256^n > maxTimeout,
// capped at 3; a non-positive maxTimeout means unbounded and uses 3 levels.
// Longer timeouts are still honoured exactly, they are just revisited
// once per top-level rotation.
//
// now is the initial time value used by RunTicks.
func New(maxTimeout, now int64, opts ...Option) *Wheel {
	levels := 0
	for t := maxTimeout; t > 0; t >>= bucketShift {
		levels++
	}
	if levels == 0 || levels > wheelMaxLevels {
		levels = wheelMaxLevels
	}

	w := &Wheel{
		levels:  make([]wheelLevel, levels),
		lastRun: now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for i := range w.levels {
		for j := range w.levels[i].buckets {
			w.levels[i].buckets[j].init()
		}
	}
	for i := range w.draining {
		w.draining[i].init()
	}
	w.stats.levels = levels

	w.logger.Debug("timing wheel created",
		zap.Int64("maxTimeout", maxTimeout),
		zap.Int("levels", levels),
		zap.Int64("now", now))

	return w
}

// Destroy releases the wheel storage. Entries still scheduled are not
// notified and their callbacks never run; Stop can still detach them.
func (w *Wheel) Destroy() {
	if w.destroyed {
		return
	}

	w.destroyed = true
	w.levels = nil
	w.logger.Debug("timing wheel destroyed", zap.Int("pending", w.stats.pending))
}

// Start arms e to fire after timeout ticks.
//
// Misuse is reported instead of corrupting the wheel: ErrInvalidTimeout
// for timeout <= 0, ErrEntryScheduled if e is armed, ErrNoFunc if e has no
// callback and ErrDestroyed after Destroy.
func (w *Wheel) Start(e *Entry, timeout int64) error {
	var err error
	switch {
	case w.destroyed:
		err = ErrDestroyed
	case timeout <= 0:
		err = ErrInvalidTimeout
	case e.scheduled:
		err = ErrEntryScheduled
	case e.fn == nil:
		err = ErrNoFunc
	}

	if err != nil {
		w.logger.Warn("timer entry rejected", zap.Int64("timeout", timeout), zap.Error(err))
		return errors.WithStack(err)
	}

	w.schedule(e, uint64(timeout))
	w.stats.armed++
	return nil
}

// schedule 找出目標層與槽並放入項目
//
// 從第 0 層開始：sum = hand + timeout，槽 = sum mod 256，進位 = sum div 256。
// 進位為 0 就放在這一層；否則把餘數 (乘上該層的倍數) 累加到 residual，
// 帶著進位往上一層繼續算。
//
// 到了最高層仍有進位時，放在算出的槽，並把槽無法表示的整圈數
// ((timeout-1) div 256 圈) 折算進 residual。
func (w *Wheel) schedule(e *Entry, timeout uint64) {
	var (
		level             = 0
		top               = len(w.levels) - 1
		multiplier uint64 = 1
		residual   uint64
		slot       uint64
	)

	for {
		sum := w.levels[level].hand + timeout
		slot = sum & bucketMask
		carry := sum >> bucketShift
		if carry == 0 {
			break
		}

		if level == top {
			residual += multiplier * wheelBuckets * ((timeout - 1) >> bucketShift)
			break
		}

		residual += slot * multiplier
		multiplier <<= bucketShift
		timeout = carry
		level++
	}

	e.residual = residual
	e.node.owner = e
	w.levels[level].buckets[slot].pushFront(&e.node)
	e.wheel = w
	e.scheduled = true
	w.stats.pending++
}

// Stop disarms e. It returns true if e was scheduled on this wheel and
// false otherwise, so calling it on a fired or idle entry is a no-op.
func (w *Wheel) Stop(e *Entry) bool {
	if !e.scheduled || e.wheel != w {
		return false
	}

	w.detach(e)
	w.stats.cancelled++
	return true
}

func (w *Wheel) detach(e *Entry) {
	e.node.unlink()
	e.wheel = nil
	e.scheduled = false
	w.stats.pending--
}

// Tick advances the wheel by one base tick and runs every callback that
// became due. Callbacks run synchronously before Tick returns.
//
// 流程：
//  1. 第 0 層指針前進一格；若回到 0，上一層指針也前進一格，以此類推
//  2. 所有前進的指針都先更新，再把對應的槽整個取出
//  3. 由低層往高層處理取出的項目：有 residual 的重新排程（降級），
//     否則執行 callback
func (w *Wheel) Tick() {
	if w.destroyed {
		return
	}

	// 上次 callback panic 而留下的項目屬於前一個 tick，必須在指針前進前處理
	w.drainAll()
	if w.destroyed {
		return
	}
	w.stats.ticks++

	moved := 0
	for moved < len(w.levels) {
		lv := &w.levels[moved]
		lv.hand = (lv.hand + 1) & bucketMask
		lv.buckets[lv.hand].moveTo(&w.draining[moved])
		moved++

		// 這一層還沒轉完一圈，不需要進位
		if lv.hand != 0 {
			break
		}
	}

	w.drainAll()
}

// drainAll 依層級由低到高處理所有 draining 中的項目
func (w *Wheel) drainAll() {
	for level := range w.levels {
		w.drain(&w.draining[level])
	}
}

// drain 逐一處理取出的項目
// 每個項目在 callback 前已完全脫離鏈表，
// 因此 callback 內重新排程自己或取消其他項目都是安全的。
func (w *Wheel) drain(head *link) {
	for !w.destroyed && !head.empty() {
		e := head.next.owner
		w.detach(e)

		if e.residual > 0 {
			w.stats.cascaded++
			w.schedule(e, e.residual)
			continue
		}

		w.stats.fired++
		e.fn(e, e.arg)
	}
}

// RunTicks processes every tick between the last processed time value
// and now, so a caller that polls the clock irregularly still delivers
// each missed tick exactly once.
//
// Entries left undrained by a panicking callback are delivered first,
// still at the tick they were due.
func (w *Wheel) RunTicks(now int64) {
	w.drainAll()
	for w.lastRun < now && !w.destroyed {
		w.lastRun++
		w.Tick()
	}
	w.lastRun = now
}

// LastRun returns the last time value processed by RunTicks.
func (w *Wheel) LastRun() int64 {
	return w.lastRun
}

// Levels returns the number of wheel levels.
func (w *Wheel) Levels() int {
	return w.stats.levels
}

// Len returns the number of scheduled entries.
func (w *Wheel) Len() int {
	return w.stats.pending
}

// Stats returns a snapshot of the wheel counters.
func (w *Wheel) Stats() Stats {
	return w.stats
}
