package engine

// run.go - Run entry point: selection, run lifecycle, report assembly.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/strataform/strataform/internal/dag"
	"github.com/strataform/strataform/pkg/core"
)

// RunOptions selects what a run covers.
type RunOptions struct {
	// Select names the models to run; empty selects every registered
	// model.
	Select []string

	// Downstream expands the selection with every transitive
	// dependent.
	Downstream bool

	// Upstream expands the selection with every transitive
	// dependency.
	Upstream bool

	// FullRefresh forces every selected incremental model through the
	// full-rebuild path regardless of its stored watermark.
	FullRefresh bool
}

// Run executes the selected models in dependency order and returns the
// run report. Configuration errors (unknown references, cycles,
// unknown selections) abort before any execution and before a run
// record is created.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*core.RunReport, error) {
	if err := e.ensureDBConnected(ctx); err != nil {
		return nil, err
	}

	graph, err := e.registry.BuildGraph()
	if err != nil {
		return nil, err
	}

	selected, err := e.expandSelection(graph, opts)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no models selected")
	}

	sub := graph.Subgraph(selected)

	run, err := e.store.CreateRun(opts.FullRefresh)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	e.logger.Info("starting run",
		slog.String("run_id", run.ID),
		slog.Int("models", countModels(sub)),
		slog.Bool("full_refresh", opts.FullRefresh))

	sched, err := newScheduler(e, sub, run, opts.FullRefresh)
	if err != nil {
		_ = e.store.CompleteRun(run.ID, core.RunStatusFailed, err.Error())
		return nil, err
	}
	results := sched.execute(ctx)

	report := e.buildReport(run, sub, results)

	status := core.RunStatusCompleted
	errMsg := ""
	switch {
	case ctx.Err() != nil:
		status = core.RunStatusCancelled
		errMsg = "run cancelled"
	case report.Failed():
		status = core.RunStatusFailed
		_, failed, _ := report.Counts()
		errMsg = fmt.Sprintf("%d model(s) failed", failed)
	}
	report.Status = status

	if err := e.store.CompleteRun(run.ID, status, errMsg); err != nil {
		e.logger.Error("failed to complete run record", slog.String("error", err.Error()))
	}

	e.logger.Info("run finished",
		slog.String("run_id", run.ID),
		slog.String("status", string(status)))

	return report, nil
}

// expandSelection resolves the selected model set, applying the
// downstream/upstream closure flags. Source nodes never appear in the
// result.
func (e *Engine) expandSelection(graph *dag.Graph, opts RunOptions) ([]string, error) {
	var ids []string
	if len(opts.Select) == 0 {
		for _, n := range graph.Nodes() {
			if !n.IsSource() {
				ids = append(ids, n.ID)
			}
		}
	} else {
		for _, name := range opts.Select {
			n, ok := graph.Node(name)
			if !ok || n.IsSource() {
				return nil, fmt.Errorf("unknown model in selection: %s", name)
			}
			ids = append(ids, name)
		}
		if opts.Downstream {
			ids = graph.Downstream(ids)
		}
		if opts.Upstream {
			ids = append(ids, graph.Upstream(ids)...)
		}
	}

	// Keep models only, deduplicated and sorted.
	seen := make(map[string]bool)
	var selected []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := graph.Node(id); ok && !n.IsSource() {
			selected = append(selected, id)
		}
	}
	sort.Strings(selected)
	return selected, nil
}

// buildReport assembles the run report in deterministic topological
// order.
func (e *Engine) buildReport(run *core.Run, sub *dag.Graph, results map[string]*core.ModelResult) *core.RunReport {
	report := &core.RunReport{
		RunID:       run.ID,
		FullRefresh: run.FullRefresh,
		StartedAt:   run.StartedAt,
		CompletedAt: time.Now().UTC(),
	}

	sorted, err := sub.TopologicalSort()
	if err != nil {
		// The subgraph was sorted once already; a cycle here is
		// unreachable.
		for _, r := range results {
			report.Results = append(report.Results, *r)
		}
		sort.Slice(report.Results, func(i, j int) bool {
			return report.Results[i].Model < report.Results[j].Model
		})
		return report
	}

	for _, node := range sorted {
		if r, ok := results[node.ID]; ok {
			report.Results = append(report.Results, *r)
		}
	}
	return report
}

func countModels(g *dag.Graph) int {
	count := 0
	for _, n := range g.Nodes() {
		if !n.IsSource() {
			count++
		}
	}
	return count
}
