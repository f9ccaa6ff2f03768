package ttimer

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidTimeout is returned when an entry is armed with a non-positive timeout.
	ErrInvalidTimeout = errors.New("ttimer: timeout must be positive")
	// ErrEntryScheduled is returned when an entry that is already armed is armed or reconfigured.
	ErrEntryScheduled = errors.New("ttimer: entry is already scheduled")
	// ErrNoFunc is returned when an entry without a callback is armed.
	ErrNoFunc = errors.New("ttimer: entry has no callback")
	// ErrDestroyed is returned when an entry is armed on a destroyed wheel.
	ErrDestroyed = errors.New("ttimer: wheel is destroyed")
)

type (
	// Func is invoked once per expiry with the entry that fired and the
	// argument configured by SetFunc.
	Func func(e *Entry, arg any)

	// link 是桶內的雙向環狀鏈表節點
	// 每個桶持有一個哨兵節點 (owner == nil)，Entry 內嵌自己的節點，
	// 因此插入與移除都是 O(1)，且不需要額外配置記憶體。
	link struct {
		prev, next *link
		owner      *Entry
	}

	// Entry is a timer owned by the caller. It can be embedded in any
	// host object; the wheel never allocates or frees it.
	//
	// The zero value is an unconfigured entry, call SetFunc before the
	// first Start. An Entry must not be copied while scheduled.
	Entry struct {
		node link
		// wheel the entry is scheduled on, nil when idle
		wheel *Wheel
		// extra base ticks to count down once the entry reaches its slot
		residual uint64
		fn       Func
		arg      any
		// true iff the entry is a bucket member
		scheduled bool
	}
)

// NewEntry returns an entry configured with fn and arg.
func NewEntry(fn Func, arg any) *Entry {
	return &Entry{fn: fn, arg: arg}
}

// SetFunc configures the callback and its argument. It fails with
// ErrEntryScheduled, leaving the entry untouched, while the entry is armed.
func (e *Entry) SetFunc(fn Func, arg any) error {
	if e.scheduled {
		return errors.WithStack(ErrEntryScheduled)
	}

	e.scheduled = false
	e.fn = fn
	e.arg = arg
	return nil
}

// Scheduled reports whether the entry is armed and waiting to fire.
func (e *Entry) Scheduled() bool {
	return e.scheduled
}

// Arg returns the argument passed to the callback.
func (e *Entry) Arg() any {
	return e.arg
}

// init turns l into an empty ring, used for bucket sentinels.
func (l *link) init() {
	l.prev = l
	l.next = l
}

func (l *link) empty() bool {
	return l.next == l
}

// pushFront links n right after the sentinel l.
func (l *link) pushFront(n *link) {
	n.prev = l
	n.next = l.next
	l.next.prev = n
	l.next = n
}

// unlink removes l from whatever ring it is in.
func (l *link) unlink() {
	l.prev.next = l.next
	l.next.prev = l.prev
	l.prev = nil
	l.next = nil
}

// moveTo appends every node of the ring l to the ring dst and leaves l
// empty. O(1) regardless of the ring length.
func (l *link) moveTo(dst *link) {
	if l.empty() {
		return
	}

	first, last := l.next, l.prev
	tail := dst.prev
	tail.next = first
	first.prev = tail
	last.next = dst
	dst.prev = last
	l.init()
}
