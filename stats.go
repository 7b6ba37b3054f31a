package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ExecStats holds statement execution statistics.
type ExecStats struct {
	// TotalQueries is the total number of read statements executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of mutation statements executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of statement errors.
	Errors atomic.Int64
}

// Snapshot returns a point-in-time copy of the current statistics.
func (s *ExecStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *ExecStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of execution statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgDuration returns the average statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is called when a statement exceeds the slow threshold.
type SlowQueryHook func(ctx context.Context, query string, duration time.Duration)

// StatsExecutor wraps an Executor with statistics collection and slow
// statement detection. It is safe for concurrent use whenever the wrapped
// Executor is.
type StatsExecutor struct {
	Executor
	stats         ExecStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// StatsOption configures a StatsExecutor.
type StatsOption func(*StatsExecutor)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsExecutor) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback invoked for every slow statement.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsExecutor) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to the default logger. It is a
// convenience wrapper around WithSlowQueryHook.
func WithSlowQueryLog() StatsOption {
	return WithSlowQueryHook(func(_ context.Context, query string, duration time.Duration) {
		slog.Warn("db: slow statement", "duration", duration, "sql", query)
	})
}

// NewStatsExecutor wraps an Executor with statistics collection.
func NewStatsExecutor(exec Executor, opts ...StatsOption) *StatsExecutor {
	s := &StatsExecutor{
		Executor:      exec,
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the collected statistics.
func (s *StatsExecutor) Stats() *ExecStats {
	return &s.stats
}

// Query implements Executor.
func (s *StatsExecutor) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	start := time.Now()
	rs, err := s.Executor.Query(ctx, query, args...)
	s.observe(ctx, &s.stats.TotalQueries, query, start, err)
	return rs, err
}

// Exec implements Executor.
func (s *StatsExecutor) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	start := time.Now()
	res, err := s.Executor.Exec(ctx, query, args...)
	s.observe(ctx, &s.stats.TotalExecs, query, start, err)
	return res, err
}

func (s *StatsExecutor) observe(ctx context.Context, counter *atomic.Int64, query string, start time.Time, err error) {
	d := time.Since(start)
	counter.Add(1)
	s.stats.TotalDuration.Add(int64(d))
	if err != nil {
		s.stats.Errors.Add(1)
	}
	if d >= s.slowThreshold {
		s.stats.SlowQueries.Add(1)
		if s.slowHook != nil {
			s.slowHook(ctx, query, d)
		}
	}
}
