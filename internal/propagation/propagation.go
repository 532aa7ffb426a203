// Package propagation drives credential material from sources through
// mapping rules into destinations. Pairs are isolated: one failing pair
// never stops the others.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lgtm-migrator/amplify-ci-support/internal/destinations"
	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/internal/logging"
	"github.com/lgtm-migrator/amplify-ci-support/internal/mapping"
	"github.com/lgtm-migrator/amplify-ci-support/internal/metrics"
	"github.com/lgtm-migrator/amplify-ci-support/internal/sources"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Pair binds one source to one destination through a mapping rule.
type Pair struct {
	// Specifier names the destination entry this pair targets; diagnostics
	// reference it.
	Specifier string
	Source    sources.Source
	Rule      mapping.Rule
	Publisher destinations.Publisher
}

// PairResult records the outcome of one pair.
type PairResult struct {
	Specifier       string
	SourceType      string
	DestinationType string
	Err             error
}

// RunResult aggregates per-pair outcomes for one propagation run.
type RunResult struct {
	Results []PairResult
}

// Succeeded counts pairs that published cleanly.
func (r RunResult) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts pairs that did not publish.
func (r RunResult) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Retryable reports whether every failed pair failed with a retryable
// error, so a caller may repeat the whole run. False when nothing failed.
func (r RunResult) Retryable() bool {
	retryable := false
	for _, res := range r.Results {
		if res.Err == nil {
			continue
		}
		if !dserrors.IsRetryable(res.Err) {
			return false
		}
		retryable = true
	}
	return retryable
}

// Err returns nil when every pair succeeded, otherwise one error naming the
// failed specifiers.
func (r RunResult) Err() error {
	var failed []string
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res.Specifier)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("propagation failed for %d of %d pair(s): %s",
		len(failed), len(r.Results), strings.Join(failed, ", "))
}

// Runner executes propagation runs.
type Runner struct {
	logger  *logging.Logger
	metrics *metrics.Recorder

	// Stale reads are expected mid-rotation; resolution is retried a few
	// times before the pair fails.
	staleAttempts int
	staleDelay    time.Duration
}

// NewRunner creates a runner.
func NewRunner(logger *logging.Logger) *Runner {
	return &Runner{
		logger:        logger,
		metrics:       metrics.NewRecorder(),
		staleAttempts: 3,
		staleDelay:    2 * time.Second,
	}
}

// Run processes every pair and reports per-pair outcomes. A pair fails as a
// unit: resolution or mapping errors skip its publish entirely, so a
// destination never sees a partial rename of one source's fields.
func (r *Runner) Run(ctx context.Context, pairs []Pair) RunResult {
	result := RunResult{Results: make([]PairResult, 0, len(pairs))}

	for _, pair := range pairs {
		res := PairResult{
			Specifier:       pair.Specifier,
			SourceType:      pair.Source.Type(),
			DestinationType: pair.Publisher.Type(),
		}
		res.Err = r.runPair(ctx, pair)

		status := "success"
		if res.Err != nil {
			status = "failure"
			r.logger.Error("pair %s: %v", pair.Specifier, res.Err)
		} else {
			r.logger.Info("pair %s: published %d key(s)", pair.Specifier, len(pair.Rule))
		}
		r.metrics.RecordPropagationPair(res.SourceType, res.DestinationType, status)

		result.Results = append(result.Results, res)
	}

	return result
}

func (r *Runner) runPair(ctx context.Context, pair Pair) error {
	if err := pair.Rule.Validate(); err != nil {
		return err
	}

	values, err := r.resolve(ctx, pair.Source)
	if err != nil {
		return fmt.Errorf("resolving source %q: %w", pair.Source.Type(), err)
	}

	mapped, err := pair.Rule.Apply(values)
	if err != nil {
		return err
	}

	if err := pair.Publisher.Publish(ctx, mapped); err != nil {
		return fmt.Errorf("publishing to %q: %w", pair.Specifier, err)
	}
	return nil
}

func (r *Runner) resolve(ctx context.Context, src sources.Source) (secretstore.ValueSet, error) {
	var values secretstore.ValueSet
	var err error
	for attempt := 0; attempt < r.staleAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.staleDelay):
			}
		}
		values, err = src.Resolve(ctx)
		var stale secretstore.StaleReadError
		if err == nil || !errors.As(err, &stale) {
			return values, err
		}
		r.logger.Debug("stale read from %q, retrying", src.Type())
	}
	return nil, err
}
