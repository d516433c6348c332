package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/errors"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	errs     []error
	executed int32
}

func NewMockJob(id string, duration time.Duration, errs ...error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  "mock",
		duration: duration,
		errs:     errs,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	n := atomic.AddInt32(&m.executed, 1)
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if int(n) <= len(m.errs) {
		return m.errs[n-1]
	}
	return nil
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func TestNewPool(t *testing.T) {
	t.Run("applies minimums", func(t *testing.T) {
		pool := New(Config{})
		assert.Equal(t, 1, pool.config.Size)
		assert.Equal(t, 1, cap(pool.jobs))
		assert.Nil(t, pool.limiter)
	})

	t.Run("rate limit creates limiter", func(t *testing.T) {
		pool := New(Config{Size: 4, QueueSize: 8, RateLimit: 100})
		require.NotNil(t, pool.limiter)
		assert.Equal(t, 4, pool.limiter.Burst())
		assert.Equal(t, 8, cap(pool.jobs))
	})
}

func TestRunExecutesEveryJob(t *testing.T) {
	jobs := make([]Job, 0, 25)
	mocks := make([]*MockJob, 0, 25)
	for i := 0; i < 25; i++ {
		m := NewMockJob(fmt.Sprintf("job-%d", i), time.Millisecond)
		mocks = append(mocks, m)
		jobs = append(jobs, m)
	}

	results := Run(context.Background(), Config{Size: 4, QueueSize: 4}, jobs)

	require.Len(t, results, 25)
	seen := make(map[string]bool)
	for _, res := range results {
		assert.NoError(t, res.Error)
		assert.False(t, res.Skipped)
		seen[res.JobID] = true
	}
	assert.Len(t, seen, 25)
	for _, m := range mocks {
		assert.Equal(t, int32(1), m.ExecutedCount())
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak int32
	jobs := make([]Job, 0, 20)
	for i := 0; i < 20; i++ {
		jobs = append(jobs, NewFuncJob(fmt.Sprintf("j%d", i), "bounded", func(ctx context.Context) error {
			now := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		}))
	}

	results := Run(context.Background(), Config{Size: 3}, jobs)
	assert.Len(t, results, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRetryOnlyRetryableErrors(t *testing.T) {
	t.Run("retryable error is retried", func(t *testing.T) {
		job := NewMockJob("retry", 0, errors.NewScanError(errors.CodeTimeout, "slow"))
		results := Run(context.Background(), Config{Size: 1, MaxRetries: 2, RetryDelay: time.Millisecond}, []Job{job})

		require.Len(t, results, 1)
		assert.NoError(t, results[0].Error)
		assert.Equal(t, 1, results[0].Retries)
		assert.Equal(t, int32(2), job.ExecutedCount())
	})

	t.Run("fatal error is not retried", func(t *testing.T) {
		job := NewMockJob("fatal", 0, errors.NewScanError(errors.CodeValidation, "bad port"))
		results := Run(context.Background(), Config{Size: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, []Job{job})

		require.Len(t, results, 1)
		assert.True(t, errors.IsCode(results[0].Error, errors.CodeValidation))
		assert.Equal(t, int32(1), job.ExecutedCount())
	})

	t.Run("retries are capped", func(t *testing.T) {
		timeout := errors.NewScanError(errors.CodeTimeout, "slow")
		job := NewMockJob("capped", 0, timeout, timeout, timeout, timeout)
		results := Run(context.Background(), Config{Size: 1, MaxRetries: 2, RetryDelay: time.Millisecond}, []Job{job})

		require.Len(t, results, 1)
		assert.Error(t, results[0].Error)
		assert.Equal(t, int32(3), job.ExecutedCount())
	})
}

func TestCancellationSkipsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started int32
	jobs := make([]Job, 0, 10)
	for i := 0; i < 10; i++ {
		jobs = append(jobs, NewFuncJob(fmt.Sprintf("j%d", i), "slow", func(ctx context.Context) error {
			if atomic.AddInt32(&started, 1) == 1 {
				cancel()
			}
			<-ctx.Done()
			return ctx.Err()
		}))
	}

	done := make(chan []Result)
	go func() { done <- Run(ctx, Config{Size: 1, QueueSize: 10}, jobs) }()

	select {
	case results := <-done:
		assert.Equal(t, int32(1), atomic.LoadInt32(&started), "only the first job should run")
		for _, res := range results[1:] {
			assert.True(t, res.Skipped)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	pool := New(Config{Size: 1})
	pool.Start(context.Background())
	pool.Close()
	pool.Close()

	err := pool.Submit(context.Background(), NewMockJob("late", 0))
	assert.Error(t, err)

	_, open := <-pool.Results()
	assert.False(t, open, "results should close once workers exit")
}

func TestRateLimitPacesJobs(t *testing.T) {
	jobs := make([]Job, 0, 5)
	for i := 0; i < 5; i++ {
		jobs = append(jobs, NewMockJob(fmt.Sprintf("r%d", i), 0))
	}

	start := time.Now()
	results := Run(context.Background(), Config{Size: 5, RateLimit: 50, Burst: 1}, jobs)
	elapsed := time.Since(start)

	assert.Len(t, results, 5)
	// Four jobs wait for tokens at 20ms intervals.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}
