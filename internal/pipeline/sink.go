package pipeline

import (
	"context"
	"fmt"

	"vdicollect/internal/generator"
	"vdicollect/internal/report"
	"vdicollect/internal/storage"
)

// Outputs selects where a finished run is written. Empty paths and a nil
// store are skipped.
type Outputs struct {
	Store      storage.Store
	ResultPath string
	ReportPath string
}

// Status summarizes the outcome of a run for the run history.
func (r *Result) Status() string {
	switch {
	case r.Report != nil && r.Report.HasCritical():
		return report.StatusFailed
	case r.Partial():
		return report.StatusPartial
	}
	return report.StatusOK
}

// Save persists a run: the snapshot and run history, the result document
// and the report. A failed run does not replace the stored snapshot.
func (r *Result) Save(ctx context.Context, out Outputs) error {
	if out.Store != nil {
		if r.Status() != report.StatusFailed {
			if err := out.Store.SaveGraph(ctx, r.Graph); err != nil {
				return fmt.Errorf("failed to save snapshot: %w", err)
			}
		}
		if err := out.Store.SaveRun(ctx, storage.RunRecord{
			RunID:      r.RunID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Entities:   r.Graph.Len(),
			Edges:      len(r.Graph.Edges),
			Unresolved: len(r.Graph.Unresolved),
			Errors:     len(r.Errors),
			Status:     r.Status(),
		}); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
	}
	if out.ResultPath != "" {
		doc := generator.BuildResult(r.Graph, r.RunID, r.FinishedAt, r.Errors)
		if err := doc.Save(out.ResultPath); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	if out.ReportPath != "" {
		if err := r.Report.Save(out.ReportPath); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}
