package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/internal/logging"
	"github.com/lgtm-migrator/amplify-ci-support/internal/metrics"
	"github.com/lgtm-migrator/amplify-ci-support/internal/secure"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Machine drives one credential through the rotation steps.
type Machine struct {
	store     secretstore.Store
	generator Generator
	registrar Registrar
	verifier  Verifier
	logger    *logging.Logger
	metrics   *metrics.Recorder
	backoff   Backoff
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithBackoff overrides the retry policy wrapped around each step.
func WithBackoff(b Backoff) MachineOption {
	return func(m *Machine) { m.backoff = b }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) MachineOption {
	return func(m *Machine) { m.logger = logger }
}

// NewMachine assembles a rotation machine. The registrar and verifier give
// each credential type its installation and verification behavior; the
// machine itself never interprets the candidate's fields.
func NewMachine(store secretstore.Store, generator Generator, registrar Registrar, verifier Verifier, opts ...MachineOption) *Machine {
	m := &Machine{
		store:     store,
		generator: generator,
		registrar: registrar,
		verifier:  verifier,
		logger:    logging.New(false, false),
		metrics:   metrics.NewRecorder(),
		backoff:   DefaultBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rotate runs a full rotation of credentialID under token and returns the
// newly promoted CURRENT version. The token is the run's identity:
// re-invoking with the same token resumes an interrupted run, while a
// different token against a live staged version returns ConflictError.
//
// CURRENT moves only in the final promote step. Any earlier failure
// returns FailedError and leaves consumers on the old value.
func (m *Machine) Rotate(ctx context.Context, credentialID, token string) (*secretstore.Version, error) {
	if token == "" {
		return nil, dserrors.ConfigError{
			Field:      "token",
			Message:    "rotation token must not be empty",
			Suggestion: "pass a fresh UUID, or the token of the run being resumed",
		}
	}

	m.metrics.RecordRotationStarted(credentialID)
	m.logger.Info("rotating %s (token %s)", credentialID, token)

	var candidate *secure.Buffer
	if err := m.runStep(ctx, credentialID, StepCreatePending, func(ctx context.Context) error {
		var err error
		candidate, err = m.createPending(ctx, credentialID, token)
		return err
	}); err != nil {
		return nil, m.fail(credentialID, StepCreatePending, err)
	}
	defer candidate.Destroy()

	if err := m.runStep(ctx, credentialID, StepSetPending, func(ctx context.Context) error {
		values, err := openCandidate(candidate)
		if err != nil {
			return err
		}
		return m.registrar.Register(ctx, credentialID, values)
	}); err != nil {
		return nil, m.fail(credentialID, StepSetPending, err)
	}

	if err := m.runStep(ctx, credentialID, StepTestPending, func(ctx context.Context) error {
		values, err := openCandidate(candidate)
		if err != nil {
			return err
		}
		return m.verifier.Verify(ctx, credentialID, values)
	}); err != nil {
		return nil, m.fail(credentialID, StepTestPending, err)
	}

	var promoted *secretstore.Version
	if err := m.runStep(ctx, credentialID, StepPromote, func(ctx context.Context) error {
		var err error
		promoted, err = m.store.Relabel(ctx, credentialID)
		return err
	}); err != nil {
		return nil, m.fail(credentialID, StepPromote, err)
	}

	m.metrics.RecordRotationCompleted(credentialID, "success")
	m.logger.Info("rotation of %s complete, current version is %s", credentialID, promoted.ID)
	return promoted, nil
}

// createPending stages the candidate, or adopts an existing staged version
// belonging to this run. The returned buffer holds the candidate's encoded
// value set; the caller destroys it when the run ends. ConflictError is
// never retryable, so the backoff around this step surfaces it at once.
func (m *Machine) createPending(ctx context.Context, credentialID, token string) (*secure.Buffer, error) {
	pending, err := m.store.GetLabeled(ctx, credentialID, secretstore.LabelPending)
	if err == nil {
		if pending.ID != token {
			return nil, ConflictError{CredentialID: credentialID, Token: token, HolderToken: pending.ID}
		}
		// Our own staged version from an interrupted run.
		m.logger.Debug("reusing staged version %s for %s", pending.ID, credentialID)
		return secure.NewBuffer([]byte(pending.Value)), nil
	}
	var stale secretstore.StaleReadError
	if !errors.As(err, &stale) {
		return nil, err
	}
	// No staged version yet; create one.

	current, err := m.store.GetLabeled(ctx, credentialID, secretstore.LabelCurrent)
	if err != nil {
		return nil, err
	}
	currentValues, err := secretstore.DecodeValueSet(current.Value)
	if err != nil {
		return nil, fmt.Errorf("credential %q current version: %w", credentialID, err)
	}

	candidate, err := m.generator.Generate(ctx, currentValues)
	if err != nil {
		return nil, fmt.Errorf("generating candidate: %w", err)
	}

	encoded, err := candidate.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding candidate: %w", err)
	}

	if _, err := m.store.PutPending(ctx, credentialID, encoded, token); err != nil {
		return nil, err
	}
	m.logger.Debug("staged candidate for %s under token %s", credentialID, token)
	return secure.NewBuffer([]byte(encoded)), nil
}

func (m *Machine) runStep(ctx context.Context, credentialID string, step Step, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		m.metrics.RecordRotationStep(credentialID, string(step), time.Since(start).Seconds())
	}()
	m.logger.Debug("%s: %s", credentialID, step)
	return m.backoff.Do(ctx, fn)
}

func (m *Machine) fail(credentialID string, step Step, err error) error {
	var conflict ConflictError
	if errors.As(err, &conflict) {
		// A conflict is contention, not a failed run; the holder's run is
		// still live.
		m.metrics.RecordRotationCompleted(credentialID, "conflict")
		return conflict
	}
	m.metrics.RecordRotationCompleted(credentialID, "failure")
	m.logger.Error("rotation of %s failed at %s", credentialID, step)
	return FailedError{CredentialID: credentialID, Step: step, Err: err}
}

func openCandidate(buf *secure.Buffer) (secretstore.ValueSet, error) {
	locked, err := buf.Open()
	if err != nil {
		return nil, fmt.Errorf("opening candidate buffer: %w", err)
	}
	defer locked.Destroy()
	return secretstore.DecodeValueSet(locked.String())
}
