package engine

import (
	"sort"

	"github.com/cloudops-io/workflow-core/engine/errors"
)

// Status is the closed set of workflow definition lifecycle states
// (spec §3). A definition is never mutated in place; a new version is
// a new record.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Edge connects two nodes by id. No multi-edges between the same
// ordered pair are permitted within one definition.
type Edge struct {
	ID     string
	Source string
	Target string
}

// Definition is the immutable workflow definition record of spec §3.
type Definition struct {
	ID      string
	Version int
	Status  Status
	Nodes   []Node
	Edges   []Edge
	UserID  string
	OrgID   string
}

// nodeByID indexes Nodes for O(1) lookup during traversal and
// condition pruning.
func (d *Definition) nodeByID() map[string]Node {
	out := make(map[string]Node, len(d.Nodes))
	for _, n := range d.Nodes {
		out[n.ID()] = n
	}
	return out
}

// adjacency builds the forward adjacency list (source -> targets) used
// by both topological sort and condition-branch skip propagation.
func (d *Definition) adjacency() map[string][]string {
	out := make(map[string][]string, len(d.Nodes))
	for _, e := range d.Edges {
		out[e.Source] = append(out[e.Source], e.Target)
	}
	for _, targets := range out {
		sort.Strings(targets)
	}
	return out
}

// topologicalOrder computes one valid topological ordering of the
// definition's nodes via Kahn's algorithm, breaking ties by ascending
// node id for determinism (spec §4.1 Preflight). It returns a
// Validation error if the graph contains a cycle.
func (d *Definition) topologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(d.Nodes))
	for _, n := range d.Nodes {
		indegree[n.ID()] = 0
	}
	for _, e := range d.Edges {
		if _, ok := indegree[e.Target]; !ok {
			return nil, errors.New(errors.Validation, "edge references unknown node: "+e.Target)
		}
		if _, ok := indegree[e.Source]; !ok {
			return nil, errors.New(errors.Validation, "edge references unknown node: "+e.Source)
		}
		indegree[e.Target]++
	}

	adj := d.adjacency()

	ready := make([]string, 0)
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(d.Nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		return nil, errors.New(errors.Validation, "workflow definition contains a cycle")
	}
	return order, nil
}

// skipFromBranch computes the set of node ids reachable from start
// that are not also reachable from the other branch's start — the BFS
// pruning rule of spec §4.1.1's condition dispatch. If other is empty,
// every node reachable from start is skipped.
func skipFromBranch(adj map[string][]string, start, other string) map[string]bool {
	reachableFrom := func(from string) map[string]bool {
		seen := make(map[string]bool)
		if from == "" {
			return seen
		}
		queue := []string{from}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if seen[id] {
				continue
			}
			seen[id] = true
			queue = append(queue, adj[id]...)
		}
		return seen
	}

	fromStart := reachableFrom(start)
	fromOther := reachableFrom(other)

	skip := make(map[string]bool, len(fromStart))
	for id := range fromStart {
		if !fromOther[id] {
			skip[id] = true
		}
	}
	return skip
}
