package advisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"siteplan/domain"
)

// ErrInFlight is returned while another analysis is outstanding. Requests
// are rejected, not queued.
var ErrInFlight = errors.New("advisor: analysis already in flight")

// Analyzer produces advice for a task snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, tasks []domain.Task) domain.Advice
}

// Runner runs at most one analysis at a time and keeps its result.
type Runner struct {
	analyzer Analyzer
	guard    Guard
	results  ResultStore
	logger   *log.Logger

	// releaseTimeout bounds guard and result bookkeeping after a run.
	releaseTimeout time.Duration
	onComplete     func(domain.Advice)

	runs sync.WaitGroup
}

// NewRunner wires an analyzer to a guard and a result store; nil values
// select the in-process implementations.
func NewRunner(analyzer Analyzer, guard Guard, results ResultStore, logger *log.Logger) *Runner {
	if analyzer == nil {
		panic("advisor.NewRunner: analyzer is nil")
	}
	if guard == nil {
		guard = &LocalGuard{}
	}
	if results == nil {
		results = &MemoryResults{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Runner{
		analyzer:       analyzer,
		guard:          guard,
		results:        results,
		logger:         logger,
		releaseTimeout: 5 * time.Second,
	}
}

// OnComplete registers fn to be called after each run has stored its
// advice. It must be set before the first run.
func (r *Runner) OnComplete(fn func(domain.Advice)) {
	r.onComplete = fn
}

// Start begins an analysis of a copy of tasks in the background.
func (r *Runner) Start(ctx context.Context, tasks []domain.Task) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	snapshot := domain.CloneTasks(tasks)
	runID := uuid.NewString()
	bg := context.WithoutCancel(ctx)

	r.runs.Add(1)
	go func() {
		defer r.runs.Done()
		r.complete(bg, runID, snapshot)
	}()
	return nil
}

// Run analyzes tasks on the calling goroutine.
func (r *Runner) Run(ctx context.Context, tasks []domain.Task) (domain.Advice, error) {
	if err := r.acquire(ctx); err != nil {
		return domain.Advice{}, err
	}
	return r.complete(ctx, uuid.NewString(), domain.CloneTasks(tasks)), nil
}

// State reports whether a run is outstanding and the latest advice.
func (r *Runner) State(ctx context.Context) domain.AdviceState {
	var state domain.AdviceState
	held, err := r.guard.Held(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("advisor guard unavailable")
	}
	state.InFlight = held
	advice, err := r.results.Load(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("advisor results unavailable")
	}
	state.Advice = advice
	return state
}

// Clear drops the stored advice. A running analysis still stores its result
// when it finishes.
func (r *Runner) Clear(ctx context.Context) error {
	return r.results.Clear(ctx)
}

// Wait blocks until background runs have finished.
func (r *Runner) Wait() {
	r.runs.Wait()
}

func (r *Runner) acquire(ctx context.Context) error {
	ok, err := r.guard.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire advisor guard: %w", err)
	}
	if !ok {
		return ErrInFlight
	}
	return nil
}

func (r *Runner) complete(ctx context.Context, runID string, tasks []domain.Task) domain.Advice {
	entry := r.logger.WithFields(log.Fields{"run_id": runID, "tasks": len(tasks)})
	entry.Debug("advisor run started")

	advice := r.analyzer.Analyze(ctx, tasks)

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.releaseTimeout)
	defer cancel()
	if err := r.results.Save(bookCtx, advice); err != nil {
		entry.WithError(err).Error("failed to store advice")
	}
	if err := r.guard.Release(bookCtx); err != nil {
		entry.WithError(err).Error("failed to release advisor guard")
	}
	entry.WithField("ok", advice.OK).Debug("advisor run finished")
	if r.onComplete != nil {
		r.onComplete(advice)
	}
	return advice
}
