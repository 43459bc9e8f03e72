package engine

// scheduler.go - Worker-pool dispatch with per-model state machine.
//
// Per model within a run: pending -> ready (all upstream terminal and
// succeeded) -> running -> succeeded | failed. A model moves straight
// to skipped when any upstream failed or was skipped. Ready models are
// dispatched FIFO by (topological layer, name) to a fixed-size worker
// pool; the order is a scheduling preference for deterministic runs,
// not a correctness guarantee.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/strataform/strataform/internal/dag"
	"github.com/strataform/strataform/pkg/core"
)

type completion struct {
	id     string
	result *core.ModelResult

	// block is true when downstream models must be skipped: a build
	// failure, or a failed assertion with error severity. Warn-only
	// validation failures leave downstream runnable.
	block bool
}

type scheduler struct {
	eng         *Engine
	graph       *dag.Graph
	run         *core.Run
	fullRefresh bool
	workers     int
	logger      *slog.Logger

	status  map[string]core.ModelStatus
	results map[string]*core.ModelResult
	waiting map[string]int // unresolved upstream models per model
	layer   map[string]int
	ready   []string // FIFO by (layer, name)
	total   int      // models to reach a terminal state
}

func newScheduler(eng *Engine, graph *dag.Graph, run *core.Run, fullRefresh bool) (*scheduler, error) {
	layers, err := graph.Layers()
	if err != nil {
		return nil, err
	}

	s := &scheduler{
		eng:         eng,
		graph:       graph,
		run:         run,
		fullRefresh: fullRefresh,
		workers:     eng.workers,
		logger:      eng.logger,
		status:      make(map[string]core.ModelStatus),
		results:     make(map[string]*core.ModelResult),
		waiting:     make(map[string]int),
		layer:       make(map[string]int),
	}

	for depth, ids := range layers {
		for _, id := range ids {
			s.layer[id] = depth
		}
	}

	for _, node := range graph.Nodes() {
		if node.IsSource() {
			// Sources are external leaves: nothing to execute, always
			// satisfied.
			s.status[node.ID] = core.ModelStatusSucceeded
			continue
		}
		s.total++
		s.status[node.ID] = core.ModelStatusPending

		waiting := 0
		for _, parent := range s.graph.Parents(node.ID) {
			if p, ok := s.graph.Node(parent); ok && !p.IsSource() {
				waiting++
			}
		}
		s.waiting[node.ID] = waiting
		if waiting == 0 {
			s.markReady(node.ID)
		}
	}

	return s, nil
}

// execute runs the state machine to completion and returns terminal
// results for every model. Cancellation stops dispatch of new models
// immediately; models already running finish and their outcome is
// recorded.
func (s *scheduler) execute(ctx context.Context) map[string]*core.ModelResult {
	tasks := make(chan string)
	done := make(chan completion)

	var pool errgroup.Group
	for i := 0; i < s.workers; i++ {
		pool.Go(func() error {
			for id := range tasks {
				node, _ := s.graph.Node(id)
				result, block := s.eng.executeModel(ctx, node.Model(), s.run, s.fullRefresh)
				done <- completion{id: id, result: result, block: block}
			}
			return nil
		})
	}

	completed := 0
	inFlight := 0
	for completed < s.total {
		cancelled := ctx.Err() != nil

		for !cancelled && inFlight < s.workers && len(s.ready) > 0 {
			id := s.popReady()
			s.status[id] = core.ModelStatusRunning
			s.logger.Debug("dispatching model",
				slog.String("model", id), slog.Int("layer", s.layer[id]))
			tasks <- id
			inFlight++
		}

		if inFlight == 0 {
			// Nothing running and nothing dispatchable: cancelled, or
			// every remaining model is unreachable.
			break
		}

		c := <-done
		inFlight--
		completed++
		s.status[c.id] = c.result.Status
		s.results[c.id] = c.result

		s.logger.Debug("model finished",
			slog.String("model", c.id), slog.String("status", string(c.result.Status)))

		if c.block {
			root := c.result.RootCause
			if root == "" {
				root = c.id
			}
			completed += s.skipDownstream(c.id, root)
		} else {
			s.release(c.id)
		}
	}

	close(tasks)
	_ = pool.Wait()

	// Anything still pending or ready was cut off by cancellation.
	s.skipRemaining()
	return s.results
}

// markReady transitions a model to ready and enqueues it in
// (layer, name) order.
func (s *scheduler) markReady(id string) {
	s.status[id] = core.ModelStatusReady
	s.ready = append(s.ready, id)
	sort.Slice(s.ready, func(i, j int) bool {
		a, b := s.ready[i], s.ready[j]
		if s.layer[a] != s.layer[b] {
			return s.layer[a] < s.layer[b]
		}
		return a < b
	})
}

func (s *scheduler) popReady() string {
	id := s.ready[0]
	s.ready = s.ready[1:]
	return id
}

// release decrements the waiting count of every dependent model and
// enqueues the newly ready ones.
func (s *scheduler) release(id string) {
	for _, child := range s.graph.Children(id) {
		if node, ok := s.graph.Node(child); !ok || node.IsSource() {
			continue
		}
		s.waiting[child]--
		if s.waiting[child] == 0 && s.status[child] == core.ModelStatusPending {
			s.markReady(child)
		}
	}
}

// skipDownstream transitively skips every dependent of a failed model,
// attributing the original failing model as root cause. Returns the
// number of models newly driven to a terminal state.
func (s *scheduler) skipDownstream(id, rootCause string) int {
	skipped := 0
	for _, child := range s.graph.Children(id) {
		node, ok := s.graph.Node(child)
		if !ok || node.IsSource() {
			continue
		}
		if s.status[child].Terminal() || s.status[child] == core.ModelStatusRunning {
			continue
		}
		s.skip(child, &core.UpstreamError{Model: child, RootCause: rootCause}, rootCause)
		skipped += 1 + s.skipDownstream(child, rootCause)
	}
	return skipped
}

// skipRemaining marks every non-terminal model skipped. Only reachable
// when cancellation cut the run short.
func (s *scheduler) skipRemaining() {
	for _, node := range s.graph.Nodes() {
		if node.IsSource() {
			continue
		}
		if !s.status[node.ID].Terminal() {
			s.skip(node.ID, fmt.Errorf("run cancelled"), "")
		}
	}
}

func (s *scheduler) skip(id string, cause error, rootCause string) {
	s.status[id] = core.ModelStatusSkipped
	result := &core.ModelResult{
		Model:     id,
		Status:    core.ModelStatusSkipped,
		Error:     cause,
		RootCause: rootCause,
	}
	s.results[id] = result
	if err := s.eng.store.RecordModelResult(s.run.ID, result); err != nil {
		s.logger.Error("failed to record skipped model",
			slog.String("model", id), slog.String("error", err.Error()))
	}
}
