package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"siteplan/domain"
)

// DispatcherConfig sizes the worker pool that persists and publishes appended
// tasks.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// computeWorkerDefaults scales the pool with the CPU count.
func computeWorkerDefaults(cpu int) (workers, buffer int) {
	workers = cpu * 2
	if workers < 2 {
		workers = 2
	}
	if workers > 16 {
		workers = 16
	}
	return workers, workers * 64
}

// DispatcherConfigFromEnv reads PUBLISH_WORKERS, PUBLISH_BUFFER,
// PUBLISH_TIMEOUT and PUBLISH_HANDOFF_TIMEOUT.
func DispatcherConfigFromEnv() (DispatcherConfig, error) {
	workers, buffer := computeWorkerDefaults(runtime.NumCPU())
	cfg := DispatcherConfig{
		Workers:        workers,
		Buffer:         buffer,
		Timeout:        30 * time.Second,
		HandoffTimeout: 15 * time.Millisecond,
	}
	var err error
	if cfg.Workers, err = envInt("PUBLISH_WORKERS", cfg.Workers); err != nil {
		return cfg, err
	}
	if cfg.Buffer, err = envInt("PUBLISH_BUFFER", cfg.Buffer); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = envDur("PUBLISH_TIMEOUT", cfg.Timeout); err != nil {
		return cfg, err
	}
	if cfg.HandoffTimeout, err = envDur("PUBLISH_HANDOFF_TIMEOUT", cfg.HandoffTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func envDur(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return d, nil
}

type appendJob struct {
	actor string
	task  domain.Task
}

// Dispatcher saves the task sequence and publishes a task-appended event for
// every accepted intake. Work is handed to a bounded pool; when the pool is
// saturated the caller does it inline.
type Dispatcher struct {
	projectID string
	snapshot  func() []domain.Task
	persister Persister
	publisher EventPublisher
	logger    *log.Logger
	cfg       DispatcherConfig

	// saves are serialized and read the board when they run, so a slow save
	// never overwrites a newer one.
	saveMu sync.Mutex

	mu     sync.RWMutex
	closed bool
	jobs   chan appendJob
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers workers. persister and publisher may be
// nil to skip that step.
func NewDispatcher(projectID string, snapshot func() []domain.Task, persister Persister, publisher EventPublisher, logger *log.Logger, cfg DispatcherConfig) *Dispatcher {
	if snapshot == nil {
		panic("api.NewDispatcher: snapshot is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &Dispatcher{
		projectID: projectID,
		snapshot:  snapshot,
		persister: persister,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		jobs:      make(chan appendJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("append dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

// Dispatch schedules the follow-up work of one appended task. It reports
// whether the work was queued; otherwise it ran inline and err is its result.
func (d *Dispatcher) Dispatch(actor string, task domain.Task) (queued bool, err error) {
	job := appendJob{actor: actor, task: task.Clone()}
	if d.tryEnqueue(job) {
		return true, nil
	}
	d.logger.Warn("append buffer saturated; processing inline")
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	return false, d.process(ctx, job)
}

// Close stops accepting work and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) tryEnqueue(job appendJob) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || d.cfg.Workers == 0 {
		return false
	}

	select {
	case d.jobs <- job:
		return true
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- job:
		return true
	case <-timer.C:
		return false
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for job := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		if err := d.process(ctx, job); err != nil {
			d.logger.WithFields(log.Fields{"task_id": job.task.ID, "actor": job.actor, "worker": id}).
				Errorf("append follow-up failed: %v", err)
		}
		cancel()
	}
}

func (d *Dispatcher) process(ctx context.Context, job appendJob) error {
	var errs []error
	if d.persister != nil {
		d.saveMu.Lock()
		err := d.persister.SaveAll(ctx, d.snapshot())
		d.saveMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("save tasks: %w", err))
		}
	}
	if d.publisher != nil {
		ev := domain.TaskEvent{
			ID:        uuid.NewString(),
			ProjectID: d.projectID,
			Actor:     job.actor,
			Type:      domain.EventTaskAppended,
			Task:      job.task,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := d.publisher.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("publish event: %w", err))
		}
	}
	return errors.Join(errs...)
}
