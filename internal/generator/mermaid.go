package generator

import (
	"fmt"
	"regexp"
	"strings"

	"vdicollect/internal/graph"
)

// MermaidGenerator renders inventory graphs as mermaid diagrams.
type MermaidGenerator struct {
	// MaxNodes caps the diagram size; 0 means no limit.
	MaxNodes int
}

// GenerateInventoryDiagram draws a top-down parent/child diagram, one
// subgraph per entity kind.
func (m *MermaidGenerator) GenerateInventoryDiagram(g *graph.Graph) string {
	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("graph TD\n")

	drawn := make(map[graph.Ref]bool)
	for _, kind := range graph.Kinds {
		entities := g.ByKind(kind)
		if len(entities) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("    subgraph %s[%q]\n", sanitizeMermaidID("kind_"+string(kind)), string(kind)))
		for _, e := range entities {
			if m.MaxNodes > 0 && len(drawn) >= m.MaxNodes {
				break
			}
			drawn[e.Ref()] = true
			sb.WriteString(fmt.Sprintf("        %s[%q]\n", nodeID(e.Ref()), nodeLabel(e)))
		}
		sb.WriteString("    end\n")
	}

	for _, edge := range g.Edges {
		if !drawn[edge.Parent] || !drawn[edge.Child] {
			continue
		}
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID(edge.Parent), nodeID(edge.Child)))
	}
	if omitted := g.Len() - len(drawn); omitted > 0 {
		sb.WriteString(fmt.Sprintf("    %%%% %d entities omitted\n", omitted))
	}
	sb.WriteString("```\n")
	return sb.String()
}

func nodeLabel(e *graph.Entity) string {
	name := e.Name
	if name == "" {
		name = e.ID
	}
	if v, ok := e.Metrics["state"]; ok && v == 0 {
		name += " (down)"
	}
	return name
}

func nodeID(r graph.Ref) string {
	return sanitizeMermaidID(string(r.Kind) + "_" + r.ID)
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9_]`)

func sanitizeMermaidID(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "node"
	}
	v = nonIDChars.ReplaceAllString(strings.ReplaceAll(v, "-", "_"), "_")
	if v[0] >= '0' && v[0] <= '9' {
		v = "n_" + v
	}
	return v
}
