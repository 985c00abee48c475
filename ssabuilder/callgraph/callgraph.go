// Package callgraph represents the static call graph of a Go program.
//
package callgraph // import "github.com/staywilliam/asanopt/ssabuilder/callgraph"

import (
	"golang.org/x/tools/go/ssa"
)

// Node is a function of the call graph. Every function appears once; its
// Children are the functions it calls first.
type Node struct {
	Func     *ssa.Function
	Children []*Node
}

// Build builds the call graph of the functions statically reachable from
// root.
func Build(root *ssa.Function) *Node {
	node := &Node{Func: root}
	visited := map[*ssa.Function]bool{root: true}
	queue := []*Node{node}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, b := range n.Func.Blocks {
			for _, instr := range b.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				f := call.Common().StaticCallee()
				if f == nil || visited[f] {
					continue
				}
				visited[f] = true
				child := &Node{Func: f}
				n.Children = append(n.Children, child)
				queue = append(queue, child)
			}
		}
	}
	return node
}

// FuncVisitor is an interface for analysing callgraph with a 'visit' function.
type FuncVisitor interface {
	Visit(f *ssa.Function)
}

// Traverse callgraph in depth-first order.
func (node *Node) Traverse(v FuncVisitor) {
	v.Visit(node.Func)
	for _, c := range node.Children {
		c.Traverse(v)
	}
}

// Funcs lists the functions of the graph in depth-first order.
func (node *Node) Funcs() []*ssa.Function {
	var c collector
	node.Traverse(&c)
	return c
}

type collector []*ssa.Function

func (c *collector) Visit(f *ssa.Function) { *c = append(*c, f) }
