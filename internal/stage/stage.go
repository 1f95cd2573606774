// Package stage implements the stage executor (C5): it runs a pipeline's
// document-declared stage levels in order, fanning each level's
// sub-stages out concurrently, the same way the teacher's
// snapshot.Copier fans a worklist out across a bounded pool of workers,
// cancelling cooperatively when the run context is done.
package stage

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

// showChunkSize is how many rows of a "show" preview are batched into one
// RowsPreview call; show=0 ("unlimited") previews every row, one chunk at
// a time.
const showChunkSize = 1024

// Executor runs a pipeline's stages against a sqlengine.Context, one
// dependency level at a time.
type Executor struct {
	ctx     sqlengine.Context
	tracker progress.Tracker
	logger  zerolog.Logger

	registered []string // stage output tables, for LIFO teardown
}

// New creates a stage Executor.
func New(sqlCtx sqlengine.Context, tracker progress.Tracker, logger zerolog.Logger) *Executor {
	return &Executor{ctx: sqlCtx, tracker: tracker, logger: logger.With().Str("component", "stage").Logger()}
}

// Run executes every stage level in the document's declared order,
// registering each stage's result as a table under its own name so
// later levels (and the destination writer) can reference it. A level's
// dependency on an earlier level is author-declared by the document's
// nesting, not inferred from SQL text.
func (e *Executor) Run(ctx context.Context, levels [][]pipeline.Stage) error {
	for levelIdx, level := range levels {
		if err := ctx.Err(); err != nil {
			return aqerrors.New(aqerrors.Cancelled, "stage-run", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, st := range level {
			st := st
			g.Go(func() (err error) {
				defer func() {
					if rec := recover(); rec != nil {
						err = aqerrors.Newf(aqerrors.Internal, st.Name, "panic in stage: %v", rec)
					}
				}()
				return e.runOne(gctx, st)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		e.logger.Debug().Int("level", levelIdx).Int("stages", len(level)).Msg("level complete")
	}
	return nil
}

// Teardown deregisters every stage output table, in reverse order.
func (e *Executor) Teardown(ctx context.Context) error {
	var firstErr error
	for i := len(e.registered) - 1; i >= 0; i-- {
		if err := e.ctx.DeregisterTable(ctx, e.registered[i]); err != nil && firstErr == nil {
			firstErr = aqerrors.New(aqerrors.DataProcessing, "stage-teardown", err)
		}
	}
	e.registered = nil
	return firstErr
}

func (e *Executor) runOne(ctx context.Context, st pipeline.Stage) error {
	e.tracker.StageStarted(st.Name)

	plan, err := e.ctx.SQL(ctx, st.Query)
	if err != nil {
		e.tracker.StageFailed(st.Name, err)
		return aqerrors.New(aqerrors.DataProcessing, st.Name, err)
	}

	if st.PrintSchema {
		sch, err := plan.Schema(ctx)
		if err != nil {
			e.tracker.StageFailed(st.Name, err)
			return aqerrors.New(aqerrors.DataProcessing, st.Name, err)
		}
		e.tracker.SchemaPrinted(st.Name, sch)
	}

	if st.Explain {
		e.tracker.Explained(st.Name, st.Query)
	}

	df, err := plan.Execute(ctx)
	if err != nil {
		e.tracker.StageFailed(st.Name, err)
		return aqerrors.New(aqerrors.DataProcessing, st.Name, err)
	}
	defer df.Close()

	sch := df.Schema()
	var rows [][]any
	rowCount := 0

	// previewPending buffers at most showChunkSize preview rows before they
	// are handed to the tracker; show=0 means every row is previewed. The
	// full result is still held in rows for registration.
	var previewPending [][]any
	previewDone := false

	for df.Next(ctx) {
		row := df.Row()
		cp := make([]any, len(row))
		copy(cp, row)
		rows = append(rows, cp)
		rowCount++

		if st.Show != nil && !previewDone {
			limit := *st.Show
			if limit > 0 && rowCount > limit {
				previewDone = true
			} else {
				previewPending = append(previewPending, cp)
				if len(previewPending) >= showChunkSize {
					e.tracker.RowsPreview(st.Name, sch, previewPending)
					previewPending = nil
				}
				if limit > 0 && rowCount == limit {
					previewDone = true
				}
			}
		}
	}
	if err := df.Err(); err != nil {
		e.tracker.StageFailed(st.Name, err)
		return aqerrors.New(aqerrors.DataProcessing, st.Name, err)
	}

	if st.Show != nil && len(previewPending) > 0 {
		e.tracker.RowsPreview(st.Name, sch, previewPending)
	}

	if err := e.ctx.RegisterTable(ctx, st.Name, sch, rows); err != nil {
		e.tracker.StageFailed(st.Name, err)
		return aqerrors.New(aqerrors.DataProcessing, st.Name, err)
	}
	e.registered = append(e.registered, st.Name)

	e.tracker.StageCompleted(st.Name, rowCount)
	return nil
}
