// Package diagnostics runs a dependency graph of connectivity checks and
// aggregates their outcomes into a report. Independent checks run
// concurrently; a check whose dependency did not pass is skipped rather
// than failed, so the report separates what is broken from what could not
// be tested because of it.
package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/netctx"
)

// MinStepTimeout is the floor applied to a zero or unset step timeout.
const MinStepTimeout = 5 * time.Second

const canceledDetail = "run canceled"

// Status is the lifecycle state of a step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// Outcome is the overall verdict of a run.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
)

// Step is the recorded state of one check.
type Step struct {
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	Status    Status        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Tip       string        `json:"tip,omitempty"`
	Mandatory bool          `json:"mandatory"`
	DependsOn []string      `json:"depends_on,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report is the result of a diagnostics run. Steps keep definition order.
type Report struct {
	Steps      []Step        `json:"steps"`
	Outcome    Outcome       `json:"outcome"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Incomplete bool          `json:"incomplete"`
}

// HasFailures reports whether any step failed.
func (r *Report) HasFailures() bool {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Step returns the step with the given id.
func (r *Report) Step(id string) (Step, bool) {
	for _, s := range r.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Env is the immutable input shared by every check of a run.
type Env struct {
	// Net is nil when the network context could not be read.
	Net *netctx.Context
	// NetErr is the reason Net is nil.
	NetErr error
}

// Result is what a check reports.
type Result struct {
	Passed bool
	Detail string
}

// Pass builds a passing result.
func Pass(format string, args ...any) Result {
	return Result{Passed: true, Detail: fmt.Sprintf(format, args...)}
}

// Fail builds a failing result.
func Fail(format string, args ...any) Result {
	return Result{Detail: fmt.Sprintf(format, args...)}
}

// CheckFunc performs one check. It must honor ctx.
type CheckFunc func(ctx context.Context, env *Env) Result

// Definition describes a step of the graph.
type Definition struct {
	ID        string
	Label     string
	Tip       string
	Mandatory bool
	DependsOn []string
	Check     CheckFunc
}

// ContextReader supplies the network context snapshot for a run.
type ContextReader interface {
	Read(ctx context.Context) (*netctx.Context, error)
}

// Engine runs a validated step graph.
type Engine struct {
	defs        []Definition
	reader      ContextReader
	stepTimeout time.Duration
	publisher   events.Publisher
	logger      *logging.Logger
}

// NewEngine validates defs and creates an engine running them.
func NewEngine(reader ContextReader, defs ...Definition) (*Engine, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	return &Engine{
		defs:        defs,
		reader:      reader,
		stepTimeout: MinStepTimeout,
		publisher:   events.Discard,
		logger:      logging.Default().WithComponent("diagnostics"),
	}, nil
}

// SetStepTimeout sets the per-check timeout. Values below the floor are raised to it.
func (e *Engine) SetStepTimeout(timeout time.Duration) {
	if timeout < MinStepTimeout {
		timeout = MinStepTimeout
	}
	e.stepTimeout = timeout
}

// SetPublisher sets where progress events go.
func (e *Engine) SetPublisher(p events.Publisher) {
	e.publisher = events.OrDiscard(p)
}

// Validate rejects graphs with duplicate ids, unknown dependencies, missing
// checks or cycles.
func Validate(defs []Definition) error {
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		if d.ID == "" {
			return errors.NewConfigFieldError(errors.CodeValidation, "step id is empty", "steps", i)
		}
		if _, dup := index[d.ID]; dup {
			return errors.NewConfigFieldError(errors.CodeValidation, "duplicate step id", "steps", d.ID)
		}
		if d.Check == nil {
			return errors.NewConfigFieldError(errors.CodeValidation, "step has no check", "steps", d.ID)
		}
		index[d.ID] = i
	}

	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if _, ok := index[dep]; !ok {
				return errors.NewConfigFieldError(errors.CodeValidation,
					fmt.Sprintf("step %s depends on unknown step", d.ID), "steps", dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make([]int, len(defs))
	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		switch state[i] {
		case visiting:
			return errors.NewConfigFieldError(errors.CodeValidation,
				"dependency cycle: "+strings.Join(append(path, defs[i].ID), " -> "), "steps", defs[i].ID)
		case visited:
			return nil
		}
		state[i] = visiting
		for _, dep := range defs[i].DependsOn {
			if err := visit(index[dep], append(path, defs[i].ID)); err != nil {
				return err
			}
		}
		state[i] = visited
		return nil
	}
	for i := range defs {
		if err := visit(i, nil); err != nil {
			return err
		}
	}
	return nil
}

// Run executes every step and returns the report. It never returns an
// error: environment problems surface as failed steps, and cancellation
// as skipped steps with the report flagged incomplete.
func (e *Engine) Run(ctx context.Context) *Report {
	start := time.Now()
	e.logger.InfoDiagnostics("Diagnostics run started", "", "steps", len(e.defs))

	env := &Env{}
	if e.reader != nil {
		env.Net, env.NetErr = e.reader.Read(ctx)
	} else {
		env.NetErr = errors.ErrNoUsableInterface()
	}

	index := make(map[string]int, len(e.defs))
	steps := make([]Step, len(e.defs))
	done := make([]chan struct{}, len(e.defs))
	for i, d := range e.defs {
		index[d.ID] = i
		steps[i] = Step{
			ID:        d.ID,
			Label:     d.Label,
			Status:    StatusPending,
			Tip:       d.Tip,
			Mandatory: d.Mandatory,
			DependsOn: d.DependsOn,
		}
		done[i] = make(chan struct{})
	}

	// Each goroutine writes only its own step. Dependents read a step after
	// its done channel closes.
	var g errgroup.Group
	for i := range e.defs {
		g.Go(func() error {
			defer close(done[i])
			for _, dep := range e.defs[i].DependsOn {
				<-done[index[dep]]
			}
			e.runStep(ctx, env, &steps[i], e.defs[i], func(id string) Status {
				return steps[index[id]].Status
			})
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Steps:      steps,
		Outcome:    OutcomePassed,
		StartedAt:  start,
		Duration:   time.Since(start),
		Incomplete: ctx.Err() != nil,
	}
	for _, s := range steps {
		if s.Mandatory && s.Status == StatusFailed {
			report.Outcome = OutcomeFailed
		}
	}

	metrics.GetGlobalMetrics().IncrementDiagnosticRuns(string(report.Outcome))
	e.publisher.Publish(events.DiagnosticsComplete, report)
	e.logger.InfoDiagnostics("Diagnostics run finished", "",
		"outcome", report.Outcome,
		"incomplete", report.Incomplete,
		"duration", report.Duration)
	return report
}

func (e *Engine) runStep(ctx context.Context, env *Env, step *Step, def Definition, statusOf func(string) Status) {
	if ctx.Err() != nil {
		e.finish(step, StatusSkipped, canceledDetail)
		return
	}
	for _, dep := range def.DependsOn {
		if st := statusOf(dep); st != StatusPassed {
			e.finish(step, StatusSkipped, fmt.Sprintf("dependency %s %s", dep, st))
			return
		}
	}

	step.Status = StatusRunning
	step.StartedAt = time.Now()
	e.publisher.Publish(events.StepStarted, *step)

	checkCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	result := def.Check(checkCtx, env)
	timedOut := checkCtx.Err() == context.DeadlineExceeded
	cancel()

	step.Duration = time.Since(step.StartedAt)
	switch {
	case result.Passed:
		e.finish(step, StatusPassed, result.Detail)
	case ctx.Err() != nil:
		e.finish(step, StatusSkipped, canceledDetail)
	case timedOut && result.Detail == "":
		e.finish(step, StatusFailed, fmt.Sprintf("timed out after %s", e.stepTimeout))
	default:
		e.finish(step, StatusFailed, result.Detail)
	}
}

func (e *Engine) finish(step *Step, status Status, detail string) {
	step.Status = status
	step.Detail = detail

	if status == StatusFailed {
		e.logger.WarnDiagnostics("Step failed", step.ID, "detail", detail)
	} else {
		e.logger.Debug("Step finished", "step", step.ID, "status", status, "detail", detail)
	}
	metrics.IncrementDiagnosticSteps(step.ID, string(status))
	metrics.GetGlobalMetrics().IncrementDiagnosticStep(step.ID, string(status))
	e.publisher.Publish(events.StepFinished, *step)
}
