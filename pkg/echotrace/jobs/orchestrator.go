package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/echotrace/echotrace/pkg/models"
)

// ErrJobCancelled is returned from a progress checkpoint once the job's
// status has been flipped to cancelled. Handlers stop at the next
// checkpoint and propagate it.
var ErrJobCancelled = errors.New("job cancelled")

// Repository is the job persistence the orchestrator needs. The sqlite
// storage client satisfies this.
type Repository interface {
	NextPending(jobType string) (*models.ProcessingJob, error)
	ClaimJob(jobID string) (bool, error)
	UpdateJobProgress(jobID string, progress float32, step string) error
	CompleteJob(jobID string) error
	FailJob(jobID string, msg string) error
	GetJob(jobID string) (*models.ProcessingJob, error)
}

// Logger is the subset of logging the orchestrator needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// ProgressFunc persists a progress checkpoint. It returns ErrJobCancelled
// once the job has been cancelled; handlers should call it between units of
// work and stop when it does.
type ProgressFunc func(progress float32, step string) error

// HandlerFunc executes one claimed job. It must honor ctx and the
// cancellation signal from report.
type HandlerFunc func(ctx context.Context, job *models.ProcessingJob, report ProgressFunc) error

// Orchestrator polls the job table and dispatches claimed jobs to
// registered handlers on a fixed pool of workers. Exactly-once execution
// per job rests on the conditional claim, not on the poll: two orchestrator
// processes can poll the same row and only one claim succeeds.
type Orchestrator struct {
	repo     Repository
	log      Logger
	workers  int
	interval time.Duration
	policy   Policy

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator builds an orchestrator with the given worker count and
// poll interval. Zero values fall back to 2 workers and 1s.
func NewOrchestrator(repo Repository, log Logger, workers int, interval time.Duration) *Orchestrator {
	if workers <= 0 {
		workers = 2
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Orchestrator{
		repo:     repo,
		log:      log,
		workers:  workers,
		interval: interval,
		policy:   DefaultPolicy,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register installs the handler for a job type. Jobs of unregistered types
// are left pending for another process to pick up.
func (o *Orchestrator) Register(jobType string, h HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[jobType] = h
}

// Start launches the worker pool. It returns immediately; Stop blocks
// until in-flight jobs finish.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func(id int) {
			defer o.wg.Done()
			o.workerLoop(ctx, id)
		}(i)
	}
	o.log.Infof("orchestrator started with %d workers", o.workers)
}

// Stop cancels the workers and waits for them to drain.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.log.Infof("orchestrator stopped")
}

func (o *Orchestrator) workerLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.runOnce(ctx, id); err != nil {
				o.log.Errorf("worker %d: %v", id, err)
			}
		}
	}
}

// runOnce claims and executes at most one job.
func (o *Orchestrator) runOnce(ctx context.Context, workerID int) error {
	job, err := o.repo.NextPending("")
	if err != nil {
		return xerrors.New(err)
	}
	if job == nil {
		return nil
	}

	o.mu.Lock()
	handler, registered := o.handlers[job.JobType]
	o.mu.Unlock()
	if !registered {
		return nil
	}

	ok, err := o.repo.ClaimJob(job.ID)
	if err != nil {
		return xerrors.New(err)
	}
	if !ok {
		// another worker won the claim
		return nil
	}

	o.log.Infof("worker %d: running job %s (%s target=%s)", workerID, job.ID, job.JobType, job.TargetID)
	o.execute(ctx, job, handler)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, job *models.ProcessingJob, handler HandlerFunc) {
	report := func(progress float32, step string) error {
		current, err := o.repo.GetJob(job.ID)
		if err != nil {
			return err
		}
		if current != nil && current.Status == models.JobCancelled {
			return ErrJobCancelled
		}
		return WithRetry(ctx, o.policy, func() error {
			return o.repo.UpdateJobProgress(job.ID, progress, step)
		})
	}

	err := handler(ctx, job, report)
	switch {
	case err == nil:
		if cerr := WithRetry(ctx, o.policy, func() error { return o.repo.CompleteJob(job.ID) }); cerr != nil {
			o.log.Errorf("job %s: completing: %v", job.ID, cerr)
		}
	case errors.Is(err, ErrJobCancelled):
		// status already flipped by the cancel request
		o.log.Infof("job %s: cancelled", job.ID)
	case errors.Is(err, context.Canceled):
		// process shutdown mid-job: leave it running for manual retry
		o.log.Warnf("job %s: interrupted by shutdown", job.ID)
	default:
		o.log.Errorf("job %s: failed: %v", job.ID, err)
		if ferr := o.repo.FailJob(job.ID, err.Error()); ferr != nil {
			o.log.Errorf("job %s: recording failure: %v", job.ID, ferr)
		}
	}
}
