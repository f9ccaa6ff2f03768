package ttimer

import (
	"container/heap"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// 以最小堆積作為對照組的隨機測試
// ============================================================================
//
// 每次 Start 都把預期到期時間放進堆積；每個 tick 之後，
// 堆積中所有 due <= now 且仍有效的紀錄都必須已經觸發，
// 而 callback 觸發當下的 tick 必須剛好等於 due。

// deadline 是對照組中的一筆預期到期紀錄
type deadline struct {
	due       int64
	id        int
	index     int
	cancelled bool
	fired     bool
}

// deadlineQueue is a min heap on due, the 0th element expires first.
type deadlineQueue []*deadline

func newDeadlineQueue(capacity int) *deadlineQueue {
	pq := make(deadlineQueue, 0, capacity)
	heap.Init(&pq)
	return &pq
}

func (pq *deadlineQueue) Len() int {
	return len(*pq)
}

func (pq *deadlineQueue) Less(i, j int) bool {
	return (*pq)[i].due < (*pq)[j].due
}

func (pq *deadlineQueue) Swap(i, j int) {
	(*pq)[i], (*pq)[j] = (*pq)[j], (*pq)[i]
	(*pq)[i].index = i
	(*pq)[j].index = j
}

func (pq *deadlineQueue) Push(x any) {
	d := x.(*deadline)
	d.index = len(*pq)
	*pq = append(*pq, d)
}

func (pq *deadlineQueue) Pop() any {
	old := *pq
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*pq = old[:n-1]
	return d
}

// peek 回傳最早到期的紀錄，佇列為空時回傳 nil
func (pq *deadlineQueue) peek() *deadline {
	if pq.Len() == 0 {
		return nil
	}
	return (*pq)[0]
}

// randomTimeout 偏重短時間，但也涵蓋跨層與超出最高層的情況
func randomTimeout(rnd *rand.Rand) int64 {
	switch n := rnd.Intn(100); {
	case n < 70:
		return rnd.Int63n(300) + 1
	case n < 95:
		return rnd.Int63n(3*65536) + 1
	default:
		return rnd.Int63n(1<<26) + 1
	}
}

func TestWheelAgainstHeap(t *testing.T) {
	const (
		entries = 200
		seed    = 20161111
	)
	horizon := int64(4 * 65536)
	if testing.Short() {
		horizon = 70000
	}

	for _, maxTimeout := range []int64{0, 255, 65535} {
		var (
			w       = New(maxTimeout, 0)
			rnd     = rand.New(rand.NewSource(seed))
			pq      = newDeadlineQueue(entries)
			slots   = make([]Entry, entries)
			pending = make([]*deadline, entries)
			now     int64
			fired   int
		)

		arm := func(id int) {
			timeout := randomTimeout(rnd)
			require.NoError(t, w.Start(&slots[id], timeout))
			d := &deadline{due: now + timeout, id: id}
			pending[id] = d
			heap.Push(pq, d)
		}

		cancel := func(id int) {
			require.True(t, w.Stop(&slots[id]))
			pending[id].cancelled = true
			pending[id] = nil
		}

		for i := range slots {
			require.NoError(t, slots[i].SetFunc(func(e *Entry, arg any) {
				id := arg.(int)
				d := pending[id]
				require.NotNil(t, d, "entry %d fired without being armed", id)
				require.Equal(t, d.due, now, "entry %d fired at wrong tick", id)
				d.fired = true
				pending[id] = nil
				fired++

				switch rnd.Intn(4) {
				case 0:
					arm(id)
				case 1:
					// 取消另一個仍在排程中的項目
					other := rnd.Intn(entries)
					if pending[other] != nil {
						cancel(other)
					}
				}
			}, i))
			arm(i)
		}

		for now < horizon {
			now++
			w.Tick()

			for d := pq.peek(); d != nil && d.due <= now; d = pq.peek() {
				heap.Pop(pq)
				if !d.cancelled {
					require.True(t, d.fired, "maxTimeout %d: entry %d due at %d never fired", maxTimeout, d.id, d.due)
				}
			}

			// 每個 tick 隨機對一個項目做排程或取消
			id := rnd.Intn(entries)
			if pending[id] != nil {
				if rnd.Intn(3) == 0 {
					cancel(id)
				}
			} else {
				arm(id)
			}
		}

		live := 0
		for i := range slots {
			require.Equal(t, pending[i] != nil, slots[i].Scheduled())
			if pending[i] != nil {
				live++
			}
		}
		require.Equal(t, live, w.Len())
		require.Equal(t, uint64(fired), w.Stats().Fired())
		require.Greater(t, fired, entries)
	}
}
