// Package runs executes diagnostics, discovery and service scans in the
// background and keeps their progress logs and results in memory.
package runs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
)

// Kind names what a run does.
type Kind string

// Run kinds.
const (
	KindDiagnostics Kind = "diagnostics"
	KindDiscovery   Kind = "discovery"
	KindScan        Kind = "scan"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// DefaultMaxRuns is how many finished runs are kept when no limit is given.
const DefaultMaxRuns = 50

// Func is the work a run performs. Progress goes to pub. A partial result
// may be returned alongside a canceled context.
type Func func(ctx context.Context, pub events.Publisher) (any, error)

// Finished is the payload of the final run event.
type Finished struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// Summary is a point-in-time view of a run.
type Summary struct {
	ID         uuid.UUID  `json:"id"`
	Kind       Kind       `json:"kind"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Events     int        `json:"events"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
}

// Run is one background execution.
type Run struct {
	ID        uuid.UUID
	Kind      Kind
	StartedAt time.Time

	seq    uint64
	log    *events.Log
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	status     Status
	result     any
	err        error
	finishedAt time.Time
}

// Log returns the run's event log.
func (r *Run) Log() *events.Log {
	return r.log
}

// Done is closed once the run has finished, its log is closed and retention
// has been applied.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel asks the run to stop. Results gathered so far are kept.
func (r *Run) Cancel() {
	r.cancel()
}

// Status returns the current status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Summary returns a snapshot. The result is included only when withResult
// is set and the run has finished.
func (r *Run) Summary(withResult bool) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		ID:        r.ID,
		Kind:      r.Kind,
		Status:    r.status,
		StartedAt: r.StartedAt,
		Events:    r.log.Len(),
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	if r.status != StatusRunning {
		finished := r.finishedAt
		s.FinishedAt = &finished
		if withResult {
			s.Result = r.result
		}
	}
	return s
}

// finish records the outcome. A canceled run keeps its partial result and
// records why its context ended.
func (r *Run) finish(result any, err error, ctxErr error) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result = result
	r.finishedAt = time.Now()
	switch {
	case ctxErr != nil:
		r.status = StatusCanceled
		r.err = errors.FromContext(ctxErr)
	case err != nil:
		r.status = StatusFailed
		r.err = err
	default:
		r.status = StatusCompleted
	}
	return r.status, r.err
}

// Manager starts runs and retains a bounded number of finished ones.
type Manager struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*Run
	maxRuns int
	seq     uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.Logger
}

// NewManager creates a manager keeping at most maxRuns finished runs.
func NewManager(maxRuns int) *Manager {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runs:    make(map[uuid.UUID]*Run),
		maxRuns: maxRuns,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.Default().WithComponent("runs"),
	}
}

// Start launches fn in the background and returns its run immediately.
func (m *Manager) Start(kind Kind, fn Func) *Run {
	ctx, cancel := context.WithCancel(m.ctx)
	run := &Run{
		ID:        uuid.New(),
		Kind:      kind,
		StartedAt: time.Now(),
		log:       events.NewLog(),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusRunning,
	}

	m.mu.Lock()
	m.seq++
	run.seq = m.seq
	m.runs[run.ID] = run
	m.mu.Unlock()

	metrics.GetGlobalMetrics().RunStarted(string(kind))
	m.logger.WithRunID(run.ID.String()).Info("Run started", "kind", kind)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.execute(ctx, run, fn)
	}()
	return run
}

func (m *Manager) execute(ctx context.Context, run *Run, fn Func) {
	result, err := fn(ctx, run.log)
	status, runErr := run.finish(result, err, ctx.Err())

	finished := Finished{ID: run.ID, Status: status}
	if runErr != nil {
		finished.Error = runErr.Error()
	}
	run.log.Publish(events.RunFinished, finished)
	run.log.Close()

	metrics.GetGlobalMetrics().RunFinished(string(run.Kind))
	logger := m.logger.WithRunID(run.ID.String())
	if status == StatusFailed {
		logger.Warn("Run failed", "kind", run.Kind, "error", err)
	} else {
		logger.Info("Run finished", "kind", run.Kind, "status", status)
	}

	m.evict()
	close(run.done)
}

// evict drops the oldest finished runs beyond the retention limit.
func (m *Manager) evict() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var finished []*Run
	for _, run := range m.runs {
		if run.Status() != StatusRunning {
			finished = append(finished, run)
		}
	}
	if len(finished) <= m.maxRuns {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].seq < finished[j].seq
	})
	for _, run := range finished[:len(finished)-m.maxRuns] {
		delete(m.runs, run.ID)
	}
}

// Get returns the run with id.
func (m *Manager) Get(id uuid.UUID) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	return run, ok
}

// Cancel stops the run with id. It reports whether the run exists.
func (m *Manager) Cancel(id uuid.UUID) bool {
	run, ok := m.Get(id)
	if !ok {
		return false
	}
	run.Cancel()
	return true
}

// List returns summaries of every retained run, oldest first.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].seq < runs[j].seq
	})
	out := make([]Summary, len(runs))
	for i, run := range runs {
		out[i] = run.Summary(false)
	}
	return out
}

// Shutdown cancels every active run and waits for them to finish or for ctx
// to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
