package logx

import (
	"sort"
	"sync"
	"time"
)

// PerformanceLogger times named operations and logs the slow and failed ones
type PerformanceLogger struct {
	logger *Logger
	slow   time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	metrics map[string]*PerformanceMetric
}

// PerformanceMetric is the running record of one operation name
type PerformanceMetric struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	ErrorCount    int64         `json:"error_count"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastExecuted  time.Time     `json:"last_executed"`
	InFlight      int64         `json:"in_flight"`
}

// Operation is one timed call, finished with Complete
type Operation struct {
	name  string
	start time.Time
	pl    *PerformanceLogger
}

// NewPerformanceLogger creates a tracker that logs operations slower than slow
func NewPerformanceLogger(logger *Logger, slow time.Duration) *PerformanceLogger {
	if logger == nil {
		logger = Discard()
	}
	return &PerformanceLogger{
		logger:  logger,
		slow:    slow,
		clock:   time.Now,
		metrics: make(map[string]*PerformanceMetric),
	}
}

// StartOperation starts timing name
func (pl *PerformanceLogger) StartOperation(name string) *Operation {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	m, ok := pl.metrics[name]
	if !ok {
		m = &PerformanceMetric{Name: name}
		pl.metrics[name] = m
	}
	m.InFlight++
	return &Operation{name: name, start: pl.clock(), pl: pl}
}

// Complete records the outcome of the operation
func (op *Operation) Complete(err error) {
	pl := op.pl
	now := pl.clock()
	d := now.Sub(op.start)

	pl.mu.Lock()
	m := pl.metrics[op.name]
	m.InFlight--
	m.Count++
	m.TotalDuration += d
	m.AvgDuration = m.TotalDuration / time.Duration(m.Count)
	if d > m.MaxDuration {
		m.MaxDuration = d
	}
	m.LastExecuted = now
	if err != nil {
		m.ErrorCount++
	}
	count, errs := m.Count, m.ErrorCount
	pl.mu.Unlock()

	switch {
	case err != nil:
		pl.logger.Warn("operation_failed", "operation", op.name, "duration_ms", d.Milliseconds(), "errors", errs, "count", count, "error", err)
	case pl.slow > 0 && d > pl.slow:
		pl.logger.Info("operation_slow", "operation", op.name, "duration_ms", d.Milliseconds(), "count", count)
	}
}

// Metrics returns a copy of every operation record, sorted by name
func (pl *PerformanceLogger) Metrics() []PerformanceMetric {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	out := make([]PerformanceMetric, 0, len(pl.metrics))
	for _, m := range pl.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
