package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"text/tabwriter"
	"time"
)

// stepLatency хранит задержки шага в миллисекундах.
type stepLatency struct {
	Fastest float64 `json:"fastest_ms"`
	Mean    float64 `json:"mean_ms"`
	Median  float64 `json:"median_ms"`
	P90     float64 `json:"p90_ms"`
	P99     float64 `json:"p99_ms"`
	Slowest float64 `json:"slowest_ms"`
}

type stepOutcome struct {
	Attempts int64            `json:"attempts"`
	Passed   int64            `json:"passed"`
	Failed   int64            `json:"failed"`
	FailRate float64          `json:"fail_rate"`
	Statuses map[string]int64 `json:"statuses"`
	Latency  stepLatency      `json:"latency"`
}

// summary итог прогона: сценарии целиком и отдельные HTTP-шаги.
type summary struct {
	Started    time.Time              `json:"started"`
	Elapsed    float64                `json:"elapsed_seconds"`
	Throughput float64                `json:"scenarios_per_second"`
	Scenario   stepOutcome            `json:"scenario"`
	Steps      map[string]stepOutcome `json:"steps"`
}

func (s summary) failed() bool { return s.Scenario.Failed > 0 }

type tally struct {
	passed   int64
	failed   int64
	statuses map[string]int64
	samples  []time.Duration
}

func (t *tally) outcome() stepOutcome {
	out := stepOutcome{
		Attempts: t.passed + t.failed,
		Passed:   t.passed,
		Failed:   t.failed,
		Statuses: maps.Clone(t.statuses),
		Latency:  summarize(t.samples),
	}
	if out.Attempts > 0 {
		out.FailRate = float64(t.failed) / float64(out.Attempts)
	}
	return out
}

// recorder копит наблюдения от всех воркеров. Нулевое значение готово к работе.
type recorder struct {
	mu    sync.Mutex
	steps map[string]*tally
}

func (r *recorder) observe(step, status string, took time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.steps == nil {
		r.steps = make(map[string]*tally)
	}
	t := r.steps[step]
	if t == nil {
		t = &tally{statuses: make(map[string]int64)}
		r.steps[step] = t
	}
	if ok {
		t.passed++
	} else {
		t.failed++
	}
	t.statuses[status]++
	t.samples = append(t.samples, took)
}

func (r *recorder) summary(started time.Time, elapsed time.Duration) summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := summary{
		Started: started.UTC(),
		Elapsed: elapsed.Seconds(),
		Steps:   make(map[string]stepOutcome, len(r.steps)),
	}
	for name, t := range r.steps {
		if name == stepScenario {
			s.Scenario = t.outcome()
			continue
		}
		s.Steps[name] = t.outcome()
	}
	if elapsed > 0 {
		s.Throughput = float64(s.Scenario.Attempts) / elapsed.Seconds()
	}
	return s
}

func summarize(samples []time.Duration) stepLatency {
	if len(samples) == 0 {
		return stepLatency{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return stepLatency{
		Fastest: millis(sorted[0]),
		Mean:    millis(total / time.Duration(len(sorted))),
		Median:  millis(nearestRank(sorted, 50)),
		P90:     millis(nearestRank(sorted, 90)),
		P99:     millis(nearestRank(sorted, 99)),
		Slowest: millis(sorted[len(sorted)-1]),
	}
}

// nearestRank берёт наименьшее значение, не меньшее p процентов выборки.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(idx, 0)]
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (s summary) writeText(w io.Writer, cfg config) error {
	if _, err := fmt.Fprintf(w, "loadtest %s against %s (%s): %d scenarios, %d passed, %d failed, fail rate %.2f%%, %.1f/s\n",
		cfg.mode, cfg.channel, cfg.plan(),
		s.Scenario.Attempts, s.Scenario.Passed, s.Scenario.Failed, s.Scenario.FailRate*100, s.Throughput,
	); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STEP\tATTEMPTS\tPASSED\tFAILED\tMEDIAN\tP90\tP99\tSLOWEST")
	row := func(name string, o stepOutcome) {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2fms\t%.2fms\t%.2fms\t%.2fms\n",
			name, o.Attempts, o.Passed, o.Failed, o.Latency.Median, o.Latency.P90, o.Latency.P99, o.Latency.Slowest)
	}
	row(stepScenario, s.Scenario)
	for _, name := range slices.Sorted(maps.Keys(s.Steps)) {
		row(name, s.Steps[name])
	}
	return tw.Flush()
}

// saveSummary пишет JSON-отчёт; путь должен оставаться внутри рабочего каталога.
func saveSummary(path string, s summary) error {
	if !filepath.IsLocal(path) {
		return fmt.Errorf("report path %q must stay inside the working directory", path)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
