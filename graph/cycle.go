package graph

import "sort"

// adjacency builds a deterministic node-id -> outgoing-edges map. Building
// it once per call keeps DetectCycle/BreakCycles O(V+E) instead of
// rescanning g.Edges per node.
func (g *Graph) adjacency() map[string][]*Edge {
	adj := make(map[string][]*Edge, len(g.Nodes))
	for _, n := range g.Nodes {
		adj[n.ID] = nil
	}
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e)
	}
	return adj
}

// DetectCycle walks the graph depth-first, tracking a recursion stack, and
// returns the edge sequence forming the first cycle found, or nil if the
// graph is acyclic. Nodes are visited in ascending id order and each
// node's outgoing edges by (to, id), so the result is deterministic
// whatever the graph's current order.
func (g *Graph) DetectCycle() []*Edge {
	adj := g.adjacency()
	visited := make(map[string]bool, len(g.Nodes))
	onStack := make(map[string]bool, len(g.Nodes))
	var stackEdges []*Edge

	var dfs func(id string) []*Edge
	dfs = func(id string) []*Edge {
		visited[id] = true
		onStack[id] = true

		edges := append([]*Edge(nil), adj[id]...)
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			return edges[i].ID < edges[j].ID
		})

		for _, e := range edges {
			stackEdges = append(stackEdges, e)
			if !visited[e.To] {
				if cyc := dfs(e.To); cyc != nil {
					return cyc
				}
			} else if onStack[e.To] {
				return cyclePath(stackEdges, e.To)
			}
			stackEdges = stackEdges[:len(stackEdges)-1]
		}

		onStack[id] = false
		return nil
	}

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if cyc := dfs(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// cyclePath trims a DFS edge stack down to the loop that closes back on
// closesOn, i.e. the suffix of stackEdges whose From-chain starts at
// closesOn.
func cyclePath(stackEdges []*Edge, closesOn string) []*Edge {
	for i, e := range stackEdges {
		if e.From == closesOn {
			return append([]*Edge(nil), stackEdges[i:]...)
		}
	}
	return stackEdges
}

// weakestEdge returns the edge in a cycle with the smallest
// mean*exists_probability, the repair sweep's tie-break for which edge to
// drop.
func weakestEdge(cycle []*Edge) *Edge {
	weakest := cycle[0]
	weakestScore := weakest.Strength.Mean * weakest.ExistsProbability
	for _, e := range cycle[1:] {
		score := e.Strength.Mean * e.ExistsProbability
		if score < weakestScore {
			weakest = e
			weakestScore = score
		}
	}
	return weakest
}

// BreakCycles repeatedly detects and removes the weakest edge of each
// cycle found until the graph is acyclic, recording one CYCLE_BROKEN
// correction per removed edge. It mutates g.Edges in place.
func (g *Graph) BreakCycles(ctx *PipelineContext) {
	for {
		cycle := g.DetectCycle()
		if cycle == nil {
			return
		}
		dropped := weakestEdge(cycle)
		g.removeEdge(dropped)

		if ctx != nil {
			ctx.AddCorrection(Correction{
				Code:      CodeCycleBroken,
				Layer:     LayerCEE,
				FieldPath: "edges[" + dropped.ID + "]",
				Before:    dropped,
				After:     nil,
				Reason:    ReasonCycleBroken,
				Severity:  SeverityWarn,
			})
		}
	}
}

func (g *Graph) removeEdge(target *Edge) {
	out := g.Edges[:0]
	for _, e := range g.Edges {
		if e != target {
			out = append(out, e)
		}
	}
	g.Edges = out
}
