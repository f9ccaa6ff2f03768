package main

import (
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/jiansoft/ttimer"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type (
	simConfig struct {
		MaxTimeout int64
		Timers     int
		MaxGap     int64
		Rearms     int
		Seed       int64
	}

	// timer 是模擬中的一個計時器，due 為預期觸發的 tick
	timer struct {
		id    string
		due   int64
		armed bool
		fired int
	}

	mismatch struct {
		ID     string `yaml:"id"`
		Due    int64  `yaml:"due"`
		Actual int64  `yaml:"actual"`
		Reason string `yaml:"reason"`
	}

	report struct {
		Seed       int64              `yaml:"seed"`
		MaxTimeout int64              `yaml:"maxTimeout"`
		Levels     int                `yaml:"levels"`
		Timers     int                `yaml:"timers"`
		Fired      int                `yaml:"fired"`
		Rearmed    int                `yaml:"rearmed"`
		Polls      int                `yaml:"polls"`
		FinalTick  int64              `yaml:"finalTick"`
		Metrics    map[string]float64 `yaml:"metrics"`
		Mismatches []mismatch         `yaml:"mismatches,omitempty"`
	}
)

// defaultTimeoutRange 是 maxTimeout 未設定時隨機逾時的上限
const defaultTimeoutRange = 1 << 20

// simulate 在一個時間輪上排程 cfg.Timers 個隨機計時器，
// 以隨機間隔呼叫 RunTicks，並檢查每個計時器都剛好在 due 觸發一次
func simulate(cfg simConfig, logger *zap.Logger) (*report, error) {
	if cfg.Timers <= 0 {
		return nil, errors.Errorf("timers must be positive, got %d", cfg.Timers)
	}
	if cfg.MaxGap <= 0 {
		return nil, errors.Errorf("max-gap must be positive, got %d", cfg.MaxGap)
	}

	limit := cfg.MaxTimeout
	if limit <= 0 {
		limit = defaultTimeoutRange
	}

	var (
		rnd    = rand.New(rand.NewSource(cfg.Seed))
		w      = ttimer.New(cfg.MaxTimeout, 0, ttimer.WithLogger(logger))
		timers = make([]*timer, cfg.Timers)
		rep    = &report{Seed: cfg.Seed, MaxTimeout: cfg.MaxTimeout, Levels: w.Levels(), Timers: cfg.Timers}
		latest int64
		rearms = cfg.Rearms
	)

	arm := func(e *ttimer.Entry, t *timer) error {
		timeout := rnd.Int63n(limit) + 1
		if err := w.Start(e, timeout); err != nil {
			return errors.Wrapf(err, "arm timer %s", t.id)
		}
		t.due = w.LastRun() + timeout
		t.armed = true
		if t.due > latest {
			latest = t.due
		}
		return nil
	}

	var armErr error
	fire := func(e *ttimer.Entry, arg any) {
		t := arg.(*timer)
		now := w.LastRun()
		rep.Fired++
		t.fired++

		switch {
		case !t.armed:
			rep.Mismatches = append(rep.Mismatches, mismatch{ID: t.id, Due: t.due, Actual: now, Reason: "fired twice"})
		case now != t.due:
			rep.Mismatches = append(rep.Mismatches, mismatch{ID: t.id, Due: t.due, Actual: now, Reason: "fired off schedule"})
		}
		t.armed = false

		if rearms > 0 && rnd.Intn(3) == 0 {
			rearms--
			rep.Rearmed++
			if err := arm(e, t); err != nil && armErr == nil {
				armErr = err
			}
		}
	}

	for i := range timers {
		t := &timer{id: uuid.New().String()}
		timers[i] = t
		if err := arm(ttimer.NewEntry(fire, t), t); err != nil {
			return nil, err
		}
	}

	logger.Info("simulation started",
		zap.Int("timers", cfg.Timers),
		zap.Int("levels", w.Levels()),
		zap.Int64("latestDue", latest))

	var now int64
	for w.Len() > 0 && now <= latest {
		now += rnd.Int63n(cfg.MaxGap) + 1
		w.RunTicks(now)
		rep.Polls++

		if armErr != nil {
			return nil, armErr
		}
	}

	for _, t := range timers {
		if t.armed {
			rep.Mismatches = append(rep.Mismatches, mismatch{ID: t.id, Due: t.due, Actual: -1, Reason: "never fired"})
		}
	}
	sort.Slice(rep.Mismatches, func(i, j int) bool {
		return rep.Mismatches[i].Due < rep.Mismatches[j].Due
	})

	rep.FinalTick = w.LastRun()

	metrics, err := gatherMetrics(w)
	if err != nil {
		return nil, err
	}
	rep.Metrics = metrics

	logger.Info("simulation finished",
		zap.Int("fired", rep.Fired),
		zap.Int("rearmed", rep.Rearmed),
		zap.Int("mismatches", len(rep.Mismatches)))

	return rep, nil
}

// gatherMetrics 透過 Prometheus registry 讀出時間輪的計數器
func gatherMetrics(w *ttimer.Wheel) (map[string]float64, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(ttimer.NewCollector(w, "wheelsim")); err != nil {
		return nil, errors.Wrap(err, "register collector")
	}

	families, err := reg.Gather()
	if err != nil {
		return nil, errors.Wrap(err, "gather metrics")
	}

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	return values, nil
}
