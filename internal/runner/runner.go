// Package runner implements the pipeline runner (C8): the orchestrator
// that wires the source registrar, stage executor, and destination writer
// together around one sqlengine.Context, guaranteeing scoped teardown and
// exactly one terminal progress event per run even if a stage panics.
package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/destination"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/schema"
	"github.com/aqueducts/aqueducts/internal/source"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
	"github.com/aqueducts/aqueducts/internal/stage"
)

// EngineFactory constructs a fresh sqlengine.Context for one run. Each run
// gets its own Context so concurrent runs (client-local and remote) never
// share engine state.
type EngineFactory func(logger zerolog.Logger) (sqlengine.Context, error)

// Runner executes one Pipeline end to end: register sources, run stages
// level by level, write destinations, tear everything down.
type Runner struct {
	newEngine EngineFactory
	logger    zerolog.Logger
}

// New creates a Runner.
func New(newEngine EngineFactory, logger zerolog.Logger) *Runner {
	return &Runner{newEngine: newEngine, logger: logger.With().Str("component", "runner").Logger()}
}

// Options configures one Run call.
type Options struct {
	InMemory      source.InMemoryProvider
	ExpectedSchemas map[string]schema.Schema // destination name -> expected schema
	Tracker       progress.Tracker
}

// Run executes p to completion, or until ctx is cancelled. It always
// emits exactly one of RunCompleted/RunFailed on the tracker, even if a
// stage panics, mirroring the pipeline runner's single terminal-event
// guarantee.
func (r *Runner) Run(ctx context.Context, p *pipeline.Pipeline, opts Options) (err error) {
	tracker := opts.Tracker
	if tracker == nil {
		tracker = progress.Null{}
	}

	runID := uuid.NewString()
	tracker.RunStarted(runID)

	terminal := false
	finish := func(finalErr error) {
		if terminal {
			return
		}
		terminal = true
		if finalErr != nil {
			tracker.RunFailed(finalErr)
		} else {
			tracker.RunCompleted()
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = aqerrors.Newf(aqerrors.Internal, "runner", "panic during run: %v", rec)
			finish(err)
		}
	}()

	sqlCtx, err := r.newEngine(r.logger)
	if err != nil {
		wrapped := aqerrors.New(aqerrors.Internal, "runner", err)
		finish(wrapped)
		return wrapped
	}
	defer sqlCtx.Close()

	reg := source.New(sqlCtx, opts.InMemory, r.logger)
	defer func() {
		if tErr := reg.Teardown(context.Background()); tErr != nil {
			r.logger.Warn().Err(tErr).Msg("source teardown failed")
		}
	}()

	for _, src := range p.Sources {
		if err := reg.Register(ctx, src); err != nil {
			wrapped := fmt.Errorf("register source %q: %w", src.Name, err)
			finish(wrapped)
			return wrapped
		}
		tracker.SourceRegistered(src.Name)
	}

	stageExec := stage.New(sqlCtx, tracker, r.logger)
	defer func() {
		if tErr := stageExec.Teardown(context.Background()); tErr != nil {
			r.logger.Warn().Err(tErr).Msg("stage teardown failed")
		}
	}()

	if err := stageExec.Run(ctx, p.Stages); err != nil {
		finish(err)
		return err
	}

	if dest := p.Destination; dest != nil {
		writer := destination.New(sqlCtx, r.logger)
		var expected *schema.Schema
		if opts.ExpectedSchemas != nil {
			if s, ok := opts.ExpectedSchemas[dest.Name]; ok {
				expected = &s
			}
		}
		n, err := writer.Write(ctx, *dest, expected)
		if err != nil {
			wrapped := fmt.Errorf("write destination %q: %w", dest.Name, err)
			finish(wrapped)
			return wrapped
		}
		tracker.DestinationWritten(dest.Name, n)
	}

	finish(nil)
	return nil
}
