package formula

import (
	"errors"
	"testing"
)

func TestGraphOrdersDependencies(t *testing.T) {
	g := NewGraph(map[string]string{
		"TOTAL": "SUB1+SUB2",
		"SUB1":  "A+B",
		"SUB2":  "avg(C, SUB1)",
		"RATIO": "TOTAL/A",
	})
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[string]int)
	for i, code := range order {
		pos[code] = i
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 nodes, got %v", order)
	}
	for _, edge := range [][2]string{{"TOTAL", "SUB1"}, {"TOTAL", "SUB2"}, {"SUB2", "SUB1"}, {"RATIO", "TOTAL"}} {
		if pos[edge[0]] <= pos[edge[1]] {
			t.Fatalf("%s must come after %s in %v", edge[0], edge[1], order)
		}
	}
	if deps := g.Dependencies("SUB2"); len(deps) != 1 || deps[0] != "SUB1" {
		t.Fatalf("unexpected dependencies %v", deps)
	}
}

func TestGraphDetectsCycle(t *testing.T) {
	g := NewGraph(map[string]string{
		"X":    "Y+1",
		"Y":    "Z*2",
		"Z":    "X-A",
		"FREE": "A+B",
		"TAIL": "X+FREE",
	})
	ordered, blocked := g.Partition()
	if len(ordered) != 1 || ordered[0] != "FREE" {
		t.Fatalf("expected only FREE to be ordered, got %v", ordered)
	}
	if len(blocked) != 4 {
		t.Fatalf("expected 4 blocked nodes, got %v", blocked)
	}
	_, err := g.TopologicalOrder()
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if ce.Path[0] != ce.Path[len(ce.Path)-1] || len(ce.Path) != 4 {
		t.Fatalf("unexpected cycle path %v", ce.Path)
	}
}

func TestGraphSelfReference(t *testing.T) {
	g := NewGraph(map[string]string{"X": "X+1"})
	cycle := g.FindCycle()
	if len(cycle) != 2 || cycle[0] != "X" || cycle[1] != "X" {
		t.Fatalf("unexpected cycle %v", cycle)
	}
}

func TestGraphAcyclicHasNoCycle(t *testing.T) {
	g := NewGraph(map[string]string{"X": "A+B", "Y": "X*2"})
	if cycle := g.FindCycle(); cycle != nil {
		t.Fatalf("unexpected cycle %v", cycle)
	}
	if nodes := g.Nodes(); len(nodes) != 2 || nodes[0] != "X" {
		t.Fatalf("unexpected nodes %v", nodes)
	}
}
