package main

import (
	"log"
	"time"

	"github.com/jiansoft/robin"
	"github.com/jiansoft/ttimer"
	"go.uber.org/zap"
)

func main() {
	log.Println("=== TTimer Example ===")
	log.Println()

	// 1. Manual ticks
	demonstrateManualTicks()

	// 2. Periodic timer by re-arming in the callback
	demonstrateRearm()

	// 3. Driver on the wall clock
	demonstrateDriver()

	log.Println()
	log.Println("=== All examples completed ===")
}

// demonstrateManualTicks shows the core API driven by explicit ticks
func demonstrateManualTicks() {
	log.Println("--- 1. Manual Ticks ---")

	w := ttimer.New(3600, 0)
	defer w.Destroy()

	fired := ttimer.NewEntry(func(e *ttimer.Entry, arg any) {
		log.Printf("%v fired at tick %d", arg, w.LastRun())
	}, "session-timeout")
	cancelled := ttimer.NewEntry(func(e *ttimer.Entry, arg any) {
		log.Printf("%v should never fire", arg)
	}, "retry")

	if err := w.Start(fired, 300); err != nil {
		log.Printf("start: %+v", err)
		return
	}
	if err := w.Start(cancelled, 200); err != nil {
		log.Printf("start: %+v", err)
		return
	}
	log.Printf("levels=%d pending=%d", w.Levels(), w.Len())

	log.Printf("Stop(retry) = %v", w.Stop(cancelled))
	log.Printf("Stop(retry) again = %v", w.Stop(cancelled))

	// 一次補上 1000 個 tick
	w.RunTicks(1000)

	s := w.Stats()
	log.Printf("ticks=%d armed=%d cancelled=%d fired=%d cascaded=%d",
		s.Ticks(), s.Armed(), s.Cancelled(), s.Fired(), s.Cascaded())
	log.Println()
}

// demonstrateRearm shows a periodic timer
func demonstrateRearm() {
	log.Println("--- 2. Periodic Timer ---")

	w := ttimer.New(0, 0)
	defer w.Destroy()

	count := 0
	heartbeat := ttimer.NewEntry(func(e *ttimer.Entry, arg any) {
		count++
		log.Printf("heartbeat #%d at tick %d", count, w.LastRun())
		if count < 3 {
			if err := w.Start(e, arg.(int64)); err != nil {
				log.Printf("re-arm: %+v", err)
			}
		}
	}, int64(10))

	if err := w.Start(heartbeat, 10); err != nil {
		log.Printf("start: %+v", err)
		return
	}
	w.RunTicks(100)
	log.Println()
}

// demonstrateDriver shows wall-clock scheduling
func demonstrateDriver() {
	log.Println("--- 3. Driver ---")

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	d := ttimer.NewDriver(0, ttimer.WithTickDuration(10*time.Millisecond), ttimer.WithDriverLogger(logger))
	d.Start()
	defer d.Close()

	done := make(chan struct{})
	e := ttimer.NewEntry(func(e *ttimer.Entry, arg any) {
		log.Printf("%v fired", arg)
		close(done)
	}, "driver timer")

	if err := d.Schedule(e, 50*time.Millisecond); err != nil {
		log.Printf("schedule: %+v", err)
		return
	}

	robin.Delay(200).Milliseconds().Do(func() {
		log.Printf("pending after 200ms = %d", d.Pending())
	})

	<-done
	time.Sleep(250 * time.Millisecond)
}
