package ttimer

import (
	"container/heap"
	"testing"
)

// BenchmarkStart 測試排程效能
//
// 預期：O(1) 時間複雜度，不配置記憶體
func BenchmarkStart(b *testing.B) {
	delays := []int64{3, 200, 3000, 90000, 7200000}
	w := New(0, 0)
	entries := make([]Entry, 4096)
	for i := range entries {
		_ = entries[i].SetFunc(func(*Entry, any) {}, nil)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := &entries[i%len(entries)]
		if e.Scheduled() {
			w.Stop(e)
		}
		_ = w.Start(e, delays[i%len(delays)])
	}
}

// BenchmarkStop 測試取消效能
func BenchmarkStop(b *testing.B) {
	w := New(0, 0)
	entries := make([]Entry, b.N)
	for i := range entries {
		_ = entries[i].SetFunc(func(*Entry, any) {}, nil)
		_ = w.Start(&entries[i], int64(i%100000)+1)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Stop(&entries[i])
	}
}

// BenchmarkTick 測試空轉與大量項目時的 tick 效能
func BenchmarkTick(b *testing.B) {
	b.Run("Empty", func(b *testing.B) {
		w := New(0, 0)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			w.Tick()
		}
	})

	b.Run("Rearm", func(b *testing.B) {
		// 每個項目觸發後立刻重新排程，模擬週期性計時器
		w := New(0, 0)
		entries := make([]Entry, 10000)
		for i := range entries {
			period := int64(i%1000) + 1
			_ = entries[i].SetFunc(func(e *Entry, _ any) {
				_ = w.Start(e, period)
			}, nil)
			_ = w.Start(&entries[i], period)
		}

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			w.Tick()
		}
	})
}

// BenchmarkWheelVsHeap 比較時間輪與最小堆積
// 堆積的 push / pop 為 O(log n)，時間輪為 O(1)
func BenchmarkWheelVsHeap(b *testing.B) {
	const live = 100000

	b.Run("Wheel-StartStop", func(b *testing.B) {
		w := New(0, 0)
		entries := make([]Entry, live)
		for i := range entries {
			_ = entries[i].SetFunc(func(*Entry, any) {}, nil)
			_ = w.Start(&entries[i], int64(i)+1)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e := &entries[i%live]
			w.Stop(e)
			_ = w.Start(e, int64(i%live)+1)
		}
	})

	b.Run("Heap-PushRemove", func(b *testing.B) {
		pq := newDeadlineQueue(live)
		items := make([]*deadline, live)
		for i := range items {
			items[i] = &deadline{due: int64(i) + 1, id: i}
			heap.Push(pq, items[i])
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			d := items[i%live]
			heap.Remove(pq, d.index)
			d.due = int64(i%live) + 1
			heap.Push(pq, d)
		}
	})
}
