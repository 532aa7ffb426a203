// Package workflow retires superseded credential versions safely. A
// deletion workflow republishes the live credential everywhere, waits out
// a grace period, and only then invalidates the PREVIOUS version. The wait
// is durable: the workflow suspends to disk and an external scheduler
// resumes it after the grace period.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/lgtm-migrator/amplify-ci-support/internal/logging"
	"github.com/lgtm-migrator/amplify-ci-support/internal/metrics"
	"github.com/lgtm-migrator/amplify-ci-support/internal/propagation"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// State is a deletion workflow's lifecycle position.
type State string

const (
	StatePublishing   State = "PUBLISHING"
	StateWaiting      State = "WAITING"
	StateInvalidating State = "INVALIDATING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// InvalidationError reports a failure revoking the PREVIOUS version.
type InvalidationError struct {
	CredentialID string
	Err          error
}

func (e InvalidationError) Error() string {
	return fmt.Sprintf("failed to invalidate previous version of %q: %v", e.CredentialID, e.Err)
}

func (e InvalidationError) Unwrap() error { return e.Err }

// NotDueError reports a resume attempt before the grace period elapsed.
type NotDueError struct {
	ID       string
	ResumeAt time.Time
}

func (e NotDueError) Error() string {
	return fmt.Sprintf("workflow %q is waiting until %s", e.ID, e.ResumeAt.Format(time.RFC3339))
}

// TerminalError reports an operation against a workflow already in FAILED.
type TerminalError struct {
	ID        string
	LastError string
}

func (e TerminalError) Error() string {
	return fmt.Sprintf("workflow %q already failed: %s", e.ID, e.LastError)
}

// Engine runs deletion workflows against durable storage.
type Engine struct {
	storage *FileStorage
	store   secretstore.Store
	runner  *propagation.Runner
	logger  *logging.Logger
	metrics *metrics.Recorder
	// now overrides the clock in tests
	now func() time.Time

	// Publish failures that are wholly retryable are repeated this many
	// times before the workflow fails.
	publishAttempts int
	publishDelay    time.Duration
}

// NewEngine assembles a workflow engine.
func NewEngine(storage *FileStorage, store secretstore.Store, runner *propagation.Runner, logger *logging.Logger) *Engine {
	return &Engine{
		storage: storage,
		store:   store,
		runner:  runner,
		logger:  logger,
		metrics: metrics.NewRecorder(),
		now:     time.Now,

		publishAttempts: 3,
		publishDelay:    5 * time.Second,
	}
}

// Start begins a deletion workflow: publish the live credential to every
// pair, then suspend for the grace period. Invalidation never happens in
// Start; it is reachable only through Resume after a clean publish and a
// full wait.
func (e *Engine) Start(ctx context.Context, id, credentialID string, pairs []propagation.Pair, grace time.Duration) error {
	record := &Record{
		ID:           id,
		CredentialID: credentialID,
		State:        StatePublishing,
		GracePeriod:  grace,
		CreatedAt:    e.now(),
	}
	if err := e.transition(record, StatePublishing); err != nil {
		return err
	}

	return e.publish(ctx, record, pairs)
}

// Resume advances a suspended workflow. Safe to call any number of times:
// DONE workflows are a no-op, WAITING workflows before their deadline
// return NotDueError, and a workflow interrupted mid-publish publishes
// again.
func (e *Engine) Resume(ctx context.Context, id string, pairs []propagation.Pair) error {
	record, err := e.storage.Load(id)
	if err != nil {
		return err
	}

	switch record.State {
	case StateDone:
		e.logger.Info("workflow %s already complete", id)
		return nil
	case StateFailed:
		return TerminalError{ID: id, LastError: record.LastError}
	case StatePublishing:
		// Crashed between publishing and persisting WAITING; publish again.
		return e.publish(ctx, record, pairs)
	case StateWaiting:
		if e.now().Before(record.ResumeAt) {
			return NotDueError{ID: id, ResumeAt: record.ResumeAt}
		}
		return e.invalidate(ctx, record)
	case StateInvalidating:
		// Crashed mid-invalidation; invalidation is idempotent.
		return e.invalidate(ctx, record)
	}
	return fmt.Errorf("workflow %q has unknown state %q", id, record.State)
}

// Status returns a workflow's durable record.
func (e *Engine) Status(id string) (*Record, error) {
	return e.storage.Load(id)
}

// List returns every known workflow, oldest first.
func (e *Engine) List() ([]*Record, error) {
	return e.storage.List()
}

func (e *Engine) publish(ctx context.Context, record *Record, pairs []propagation.Pair) error {
	var result propagation.RunResult
	for attempt := 0; attempt < e.publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.publishDelay):
			}
			e.logger.Warn("workflow %s: retrying publish (attempt %d of %d)",
				record.ID, attempt+1, e.publishAttempts)
		}
		result = e.runner.Run(ctx, pairs)
		if result.Err() == nil || !result.Retryable() {
			break
		}
	}
	if err := result.Err(); err != nil {
		// A failed publish must never be followed by invalidation: some
		// consumer may still hold the old value.
		record.LastError = err.Error()
		if saveErr := e.transition(record, StateFailed); saveErr != nil {
			return saveErr
		}
		return err
	}

	record.ResumeAt = e.now().Add(record.GracePeriod)
	if err := e.transition(record, StateWaiting); err != nil {
		return err
	}
	e.logger.Info("workflow %s waiting until %s", record.ID, record.ResumeAt.Format(time.RFC3339))
	return nil
}

func (e *Engine) invalidate(ctx context.Context, record *Record) error {
	if err := e.transition(record, StateInvalidating); err != nil {
		return err
	}

	if err := e.store.Invalidate(ctx, record.CredentialID, secretstore.LabelPrevious); err != nil {
		invErr := InvalidationError{CredentialID: record.CredentialID, Err: err}
		record.LastError = invErr.Error()
		if saveErr := e.transition(record, StateFailed); saveErr != nil {
			return saveErr
		}
		return invErr
	}

	if err := e.transition(record, StateDone); err != nil {
		return err
	}
	e.logger.Info("workflow %s complete, previous version of %s invalidated", record.ID, record.CredentialID)
	return nil
}

// transition persists a state change; the disk write is the transition.
func (e *Engine) transition(record *Record, state State) error {
	record.State = state
	if err := e.storage.Save(record); err != nil {
		return fmt.Errorf("persisting workflow %q state %s: %w", record.ID, state, err)
	}
	e.metrics.RecordWorkflowTransition(string(state))
	return nil
}
