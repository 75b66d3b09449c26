package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
)

// CodeAgentArgs is the payload of one run request: a project and the user
// message that triggered it.
type CodeAgentArgs struct {
	ProjectID string `json:"project_id"`
	Value     string `json:"value"`
}

func (CodeAgentArgs) Kind() string { return "code_agent_run" }

// InsertOpts keeps retries modest: run failures are surfaced to the user as
// ERROR messages rather than retried for days.
func (CodeAgentArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 3}
}

// CodeAgentWorker adapts the coordinator to River.
type CodeAgentWorker struct {
	river.WorkerDefaults[CodeAgentArgs]
	coordinator *Coordinator
}

// Timeout must exceed the question timeout: a suspended run blocks inside the
// job until the user answers or the question expires.
func (w *CodeAgentWorker) Timeout(*river.Job[CodeAgentArgs]) time.Duration {
	return w.coordinator.questionTimeout() + time.Hour
}

// rescueStuckJobsAfter must exceed the worker timeout. River's default is one
// hour, which would treat a run legitimately blocked on a user question as
// stuck and hand it to another executor.
func rescueStuckJobsAfter(coordinator *Coordinator) time.Duration {
	return coordinator.questionTimeout() + 2*time.Hour
}

func (w *CodeAgentWorker) Work(ctx context.Context, job *river.Job[CodeAgentArgs]) error {
	log.Info().
		Str("project_id", job.Args.ProjectID).
		Int("attempt", job.Attempt).
		Msg("processing code agent run")
	return w.coordinator.Run(ctx, job.Args.ProjectID, job.Args.Value)
}

// Queue owns the River client and its worker registrations.
type Queue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// QueueConfig holds the tunable queue parameters.
type QueueConfig struct {
	// MaxWorkers bounds concurrent runs across all projects. Per-project
	// exclusivity comes from the workflow lease, not from here.
	MaxWorkers int
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxWorkers: 10}
}

// NewQueue creates the River client over an existing pgx pool. The pool is
// shared with the rest of the application and not closed by the queue.
func NewQueue(pool *pgxpool.Pool, coordinator *Coordinator, cfg QueueConfig) (*Queue, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultQueueConfig().MaxWorkers
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &CodeAgentWorker{coordinator: coordinator})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		RescueStuckJobsAfter: rescueStuckJobsAfter(coordinator),
		Workers:              workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}

	return &Queue{client: client, pool: pool}, nil
}

func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// EnqueueRun inserts a run request for the project.
func (q *Queue) EnqueueRun(ctx context.Context, projectID, value string) error {
	_, err := q.client.Insert(ctx, CodeAgentArgs{ProjectID: projectID, Value: value}, nil)
	if err != nil {
		return fmt.Errorf("enqueue code agent run: %w", err)
	}
	return nil
}
