// Package graph implements the Graph Builder: a pure function from a
// Workflow Definition to an immutable Execution Graph. No I/O, no logging —
// structural problems are reported as warnings, never errors, matching the
// teacher's stance in internal/executor/conditional.go of tolerating odd
// topologies and letting the scheduler simply make no progress on them.
package graph

import (
	"fmt"

	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// NodeDependencies is the per-node entry of an Execution Graph.
type NodeDependencies struct {
	NodeID            string
	Dependencies      map[string]struct{}
	Dependents        []string // insertion order matters for tie-break (§4.3.5)
	InputConnections  []workflowdef.Connection
	OutputConnections []workflowdef.Connection
	OriginalDepCount  int
	RemainingDeps     int
}

// Graph is the derived, read-only-during-run topology of one workflow run.
type Graph struct {
	Nodes              map[string]workflowdef.NodeConfiguration
	Deps               map[string]*NodeDependencies
	SourceNodes        map[string]struct{}
	SinkNodes          map[string]struct{}
	ToolsMemoryOnly    map[string]struct{}
	UINodes            map[string]struct{}
	connections        []workflowdef.Connection
}

// Warning reports a structural issue found while building the graph. None
// of these fail construction.
type Warning struct {
	NodeID  string
	Message string
}

func (w Warning) String() string {
	if w.NodeID != "" {
		return fmt.Sprintf("%s: %s", w.NodeID, w.Message)
	}
	return w.Message
}

// Build implements the Graph Builder algorithm of §4.1.
func Build(def *workflowdef.Definition) (*Graph, []Warning) {
	g := &Graph{
		Nodes:           make(map[string]workflowdef.NodeConfiguration, len(def.Nodes)),
		Deps:            make(map[string]*NodeDependencies, len(def.Nodes)),
		SourceNodes:     make(map[string]struct{}),
		SinkNodes:       make(map[string]struct{}),
		ToolsMemoryOnly: make(map[string]struct{}),
		UINodes:         make(map[string]struct{}),
		connections:     def.Connections,
	}

	var warnings []Warning

	// 1-2: index nodes, initialize empty dependency sets.
	for _, n := range def.Nodes {
		g.Nodes[n.NodeID] = n
		g.Deps[n.NodeID] = &NodeDependencies{
			NodeID:       n.NodeID,
			Dependencies: make(map[string]struct{}),
		}
		if n.Category == workflowdef.CategoryUI {
			g.UINodes[n.NodeID] = struct{}{}
		}
	}

	// 3: walk connections.
	for _, c := range def.Connections {
		srcDeps, srcOK := g.Deps[c.SourceNodeID]
		tgtDeps, tgtOK := g.Deps[c.TargetNodeID]
		if !srcOK {
			warnings = append(warnings, Warning{c.SourceNodeID, "connection references unknown source node"})
		}
		if !tgtOK {
			warnings = append(warnings, Warning{c.TargetNodeID, "connection references unknown target node"})
		}
		if !srcOK || !tgtOK {
			continue
		}
		if c.SourceNodeID == c.TargetNodeID {
			warnings = append(warnings, Warning{c.SourceNodeID, "self-dependency"})
		}

		tgtDeps.InputConnections = append(tgtDeps.InputConnections, c)
		srcDeps.OutputConnections = append(srcDeps.OutputConnections, c)

		if workflowdef.IsCapabilityPort(c.TargetPort) {
			continue
		}
		if _, exists := tgtDeps.Dependencies[c.SourceNodeID]; !exists {
			tgtDeps.Dependencies[c.SourceNodeID] = struct{}{}
		}
		srcDeps.Dependents = appendUnique(srcDeps.Dependents, c.TargetNodeID)
	}

	// 4: original/remaining dep counts.
	for _, d := range g.Deps {
		d.OriginalDepCount = len(d.Dependencies)
		d.RemainingDeps = d.OriginalDepCount
	}

	// 7: tools/memory-only classification (needed before source_nodes, step 5).
	for id, d := range g.Deps {
		if len(d.OutputConnections) == 0 {
			continue
		}
		allCapability := true
		for _, oc := range d.OutputConnections {
			if !workflowdef.IsCapabilityPort(oc.TargetPort) {
				allCapability = false
				break
			}
		}
		if allCapability {
			g.ToolsMemoryOnly[id] = struct{}{}
		}
	}

	// 5: source_nodes.
	for id, d := range g.Deps {
		if len(d.Dependencies) == 0 {
			if _, isToolsOnly := g.ToolsMemoryOnly[id]; !isToolsOnly {
				g.SourceNodes[id] = struct{}{}
			}
		}
	}

	// 6: sink_nodes.
	for id, d := range g.Deps {
		if len(d.Dependents) == 0 {
			g.SinkNodes[id] = struct{}{}
		}
	}

	// 9: warn on no-progress topologies.
	if len(g.SourceNodes) == 0 && len(def.Nodes) > 0 {
		warnings = append(warnings, Warning{"", "no source nodes: workflow is cyclic or entirely tool-providing"})
	}

	return g, warnings
}

func appendUnique(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

// Dependents returns the dependency record's dependent node ids in the
// stable insertion order used for tie-breaking (§4.3.5).
func (g *Graph) DependentsOf(nodeID string) []string {
	if d, ok := g.Deps[nodeID]; ok {
		return d.Dependents
	}
	return nil
}

// ConnectionsBetween returns every connection from src to tgt (there may be
// more than one, targeting different ports).
func (g *Graph) ConnectionsBetween(src, tgt string) []workflowdef.Connection {
	var out []workflowdef.Connection
	for _, c := range g.connections {
		if c.SourceNodeID == src && c.TargetNodeID == tgt {
			out = append(out, c)
		}
	}
	return out
}

// NonCapabilityNodeCount is the number of nodes the scheduler will actually
// account for in progress.pending at run start (§4.3 step 1).
func (g *Graph) NonCapabilityNodeCount() int {
	return len(g.Nodes) - len(g.ToolsMemoryOnly)
}
