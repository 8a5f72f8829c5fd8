package formula

import "sort"

// Graph tracks dependencies between operations. An edge a -> b means the
// formula of a references b, and b is itself an operation. References to
// plain data types are not edges.
type Graph struct {
	deps map[string][]string
}

// NewGraph builds a graph from operation code to formula. Formulas that do not
// parse contribute a node with no edges.
func NewGraph(formulas map[string]string) *Graph {
	g := &Graph{deps: make(map[string][]string, len(formulas))}
	for code := range formulas {
		g.deps[code] = nil
	}
	for code, src := range formulas {
		for _, op := range ExtractOperands(src) {
			if _, isOp := g.deps[op]; isOp {
				g.deps[code] = appendUnique(g.deps[code], op)
			}
		}
		sort.Strings(g.deps[code])
	}
	return g
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}

// Nodes returns the operation codes in lexical order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.deps))
	for code := range g.deps {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the operations code depends on directly.
func (g *Graph) Dependencies(code string) []string {
	return append([]string(nil), g.deps[code]...)
}

// Partition splits the nodes into an evaluation order, where every node comes
// after its dependencies, and the nodes that sit on or behind a cycle. Ties
// break lexically so the order is deterministic.
func (g *Graph) Partition() (ordered, blocked []string) {
	pending := make(map[string]int, len(g.deps))
	dependents := make(map[string][]string, len(g.deps))
	for code, deps := range g.deps {
		pending[code] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], code)
		}
	}
	var ready []string
	for code, n := range pending {
		if n == 0 {
			ready = append(ready, code)
		}
	}
	sort.Strings(ready)
	for len(ready) > 0 {
		code := ready[0]
		ready = ready[1:]
		ordered = append(ordered, code)
		var unlocked []string
		for _, dep := range dependents[code] {
			pending[dep]--
			if pending[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}
	for code, n := range pending {
		if n > 0 {
			blocked = append(blocked, code)
		}
	}
	sort.Strings(blocked)
	return ordered, blocked
}

// TopologicalOrder returns the evaluation order or a *CycleError.
func (g *Graph) TopologicalOrder() ([]string, error) {
	ordered, blocked := g.Partition()
	if len(blocked) > 0 {
		if cycle := g.FindCycle(); cycle != nil {
			return nil, &CycleError{Path: cycle}
		}
	}
	return ordered, nil
}

// FindCycle returns one cycle as a closed path (first code repeated at the
// end), or nil when the graph is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.deps))
	var stack []string
	var found []string
	var visit func(code string) bool
	visit = func(code string) bool {
		color[code] = grey
		stack = append(stack, code)
		for _, dep := range g.deps[code] {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						found = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[code] = black
		return false
	}
	for _, code := range g.Nodes() {
		if color[code] == white && visit(code) {
			return found
		}
	}
	return nil
}
