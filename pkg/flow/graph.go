// Package flow is a small resumable workflow runtime plus the monthly
// compliance graph built on it. State is checkpointed to the relational
// store at every step, so a suspended run survives process restarts.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// End terminates a run when returned as the next node.
const End = "__end__"

// DefaultRecursionLimit bounds total node executions per run. Recheck
// loops over unchanged inputs never converge, so the limit is the only
// thing standing between them and an infinite loop.
const DefaultRecursionLimit = 100

var (
	ErrRecursionLimit = errors.New("flow: recursion limit exceeded")
	ErrNotInterrupted = errors.New("flow: thread is not awaiting resume")
)

// NodeFunc executes one stage and returns the next state.
type NodeFunc[S any] func(ctx context.Context, s S) (S, error)

// RouteFunc picks a labelled branch after a node.
type RouteFunc[S any] func(s S) string

type conditional[S any] struct {
	route   RouteFunc[S]
	targets map[string]string
}

// Graph is a directed stage graph with predicate-guarded edges and
// optional interrupt points. Build it once; it is immutable at run time.
type Graph[S any] struct {
	start      string
	nodes      map[string]NodeFunc[S]
	edges      map[string]string
	routes     map[string]conditional[S]
	interrupts map[string]bool
	limit      int
}

func NewGraph[S any](start string) *Graph[S] {
	return &Graph[S]{
		start:      start,
		nodes:      make(map[string]NodeFunc[S]),
		edges:      make(map[string]string),
		routes:     make(map[string]conditional[S]),
		interrupts: make(map[string]bool),
		limit:      DefaultRecursionLimit,
	}
}

func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	g.nodes[name] = fn
	return g
}

func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from a node through a labelled branch map.
func (g *Graph[S]) AddConditionalEdges(from string, route RouteFunc[S], targets map[string]string) *Graph[S] {
	g.routes[from] = conditional[S]{route: route, targets: targets}
	return g
}

// InterruptBefore suspends the run just before the named nodes execute.
func (g *Graph[S]) InterruptBefore(names ...string) *Graph[S] {
	for _, n := range names {
		g.interrupts[n] = true
	}
	return g
}

func (g *Graph[S]) WithRecursionLimit(n int) *Graph[S] {
	if n > 0 {
		g.limit = n
	}
	return g
}

func (g *Graph[S]) next(from string, s S) (string, error) {
	if c, ok := g.routes[from]; ok {
		label := c.route(s)
		to, ok := c.targets[label]
		if !ok {
			return "", fmt.Errorf("flow: node %s routed to unknown branch %q", from, label)
		}
		return to, nil
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	return End, nil
}

// Outcome is the result of driving a graph until it ends or suspends.
type Outcome[S any] struct {
	ThreadID    string
	State       S
	Interrupted bool
	NextNode    string
	Steps       int
}

// Runner executes graph threads against the durable checkpoint store.
type Runner[S any] struct {
	graph       *Graph[S]
	checkpoints *store.CheckpointStore
	logger      *slog.Logger
}

func NewRunner[S any](g *Graph[S], cps *store.CheckpointStore, logger *slog.Logger) *Runner[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner[S]{graph: g, checkpoints: cps, logger: logger}
}

// Run starts a fresh thread from the graph's start node.
func (r *Runner[S]) Run(ctx context.Context, threadID string, initial S) (*Outcome[S], error) {
	state, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("encode initial state: %w", err)
	}
	cp := &store.Checkpoint{
		ThreadID: threadID,
		State:    state,
		NextNode: r.graph.start,
		Status:   "running",
	}
	if err := r.checkpoints.Put(ctx, cp); err != nil {
		return nil, err
	}
	return r.drive(ctx, cp, initial, r.graph.start, false)
}

// Resume merges a patch into a suspended thread's state and continues
// from the interrupted node.
func (r *Runner[S]) Resume(ctx context.Context, threadID string, patch map[string]any) (*Outcome[S], error) {
	cp, err := r.checkpoints.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp.Status != "interrupted" {
		return nil, fmt.Errorf("%w: thread %s is %s", ErrNotInterrupted, threadID, cp.Status)
	}
	if len(patch) > 0 {
		cp, err = r.checkpoints.UpdateState(ctx, threadID, patch)
		if err != nil {
			return nil, err
		}
	}

	var s S
	if err := json.Unmarshal(cp.State, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}
	return r.drive(ctx, cp, s, cp.NextNode, true)
}

func (r *Runner[S]) drive(ctx context.Context, cp *store.Checkpoint, s S, node string, resuming bool) (*Outcome[S], error) {
	steps := 0
	for node != End {
		if steps >= r.graph.limit {
			return nil, fmt.Errorf("%w: %d steps on thread %s", ErrRecursionLimit, steps, cp.ThreadID)
		}
		if r.graph.interrupts[node] && !(resuming && steps == 0) {
			if err := r.save(ctx, cp, s, node, "interrupted"); err != nil {
				return nil, err
			}
			r.logger.Info("flow suspended", "thread_id", cp.ThreadID, "next_node", node, "steps", steps)
			return &Outcome[S]{ThreadID: cp.ThreadID, State: s, Interrupted: true, NextNode: node, Steps: steps}, nil
		}

		fn, ok := r.graph.nodes[node]
		if !ok {
			return nil, fmt.Errorf("flow: unknown node %q on thread %s", node, cp.ThreadID)
		}
		next, err := fn(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("flow: node %s: %w", node, err)
		}
		s = next

		node, err = r.graph.next(node, s)
		if err != nil {
			return nil, err
		}
		if err := r.save(ctx, cp, s, node, "running"); err != nil {
			return nil, err
		}
		steps++
	}

	if err := r.save(ctx, cp, s, End, "completed"); err != nil {
		return nil, err
	}
	r.logger.Info("flow completed", "thread_id", cp.ThreadID, "steps", steps)
	return &Outcome[S]{ThreadID: cp.ThreadID, State: s, NextNode: End, Steps: steps}, nil
}

func (r *Runner[S]) save(ctx context.Context, cp *store.Checkpoint, s S, nextNode, status string) error {
	state, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp.State = state
	cp.NextNode = nextNode
	cp.Status = status
	return r.checkpoints.Put(ctx, cp)
}
