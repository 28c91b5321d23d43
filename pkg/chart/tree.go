package chart

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
	"go.uber.org/zap"
)

// Tree is the subchart hierarchy below a chart, keyed by node root
type Tree struct {
	Root  string
	graph graph.Graph[string, *Node]
}

// Tree expands root into its full subchart hierarchy. Edges that would close
// a cycle are dropped.
func (g *Graph) Tree(ctx context.Context, root *Node) (*Tree, error) {
	t := &Tree{
		Root:  root.Root,
		graph: graph.New(func(n *Node) string { return n.Root }, graph.Directed(), graph.PreventCycles()),
	}
	if err := t.graph.AddVertex(root); err != nil {
		return nil, fmt.Errorf("failed to add chart %s: %w", root.Root, err)
	}
	if err := g.expand(ctx, t, root); err != nil {
		return nil, err
	}
	return t, nil
}

func (g *Graph) expand(ctx context.Context, t *Tree, parent *Node) error {
	for _, sc := range parent.Subcharts {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := g.SubchartNode(ctx, parent, sc)
		added := true
		if err := t.graph.AddVertex(child); err != nil {
			if !errors.Is(err, graph.ErrVertexAlreadyExists) {
				return fmt.Errorf("failed to add chart %s: %w", child.Root, err)
			}
			added = false
		}
		if err := t.graph.AddEdge(parent.Root, child.Root); err != nil {
			if errors.Is(err, graph.ErrEdgeCreatesCycle) || errors.Is(err, graph.ErrEdgeAlreadyExists) {
				g.logger.Warn("skipping subchart edge",
					zap.String("parent", parent.Root),
					zap.String("child", child.Root),
					zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to link %s to %s: %w", parent.Root, child.Root, err)
		}
		if added {
			if err := g.expand(ctx, t, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// Node returns the tree node with the given root
func (t *Tree) Node(root string) (*Node, bool) {
	n, err := t.graph.Vertex(root)
	if err != nil {
		return nil, false
	}
	return n, true
}

// Len returns the number of charts in the tree
func (t *Tree) Len() int {
	adjacency, err := t.graph.AdjacencyMap()
	if err != nil {
		return 0
	}
	return len(adjacency)
}

// Walk visits every node depth-first from the root, children ordered by key
func (t *Tree) Walk(fn func(node *Node, depth int)) error {
	adjacency, err := t.graph.AdjacencyMap()
	if err != nil {
		return fmt.Errorf("failed to read chart tree: %w", err)
	}
	visited := make(map[string]bool)
	var visit func(root string, depth int) error
	visit = func(root string, depth int) error {
		if visited[root] {
			return nil
		}
		visited[root] = true
		node, err := t.graph.Vertex(root)
		if err != nil {
			return fmt.Errorf("failed to read chart %s: %w", root, err)
		}
		fn(node, depth)

		children := make([]*Node, 0, len(adjacency[root]))
		for child := range adjacency[root] {
			if n, err := t.graph.Vertex(child); err == nil {
				children = append(children, n)
			}
		}
		sort.Slice(children, func(i, j int) bool {
			if children[i].Key != children[j].Key {
				return children[i].Key < children[j].Key
			}
			return children[i].Root < children[j].Root
		})
		for _, child := range children {
			if err := visit(child.Root, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(t.Root, 0)
}
