package ssabuilder

import (
	"io"
	"sort"

	"golang.org/x/tools/go/ssa"
)

type Members []ssa.Member

func (m Members) Len() int           { return len(m) }
func (m Members) Less(i, j int) bool { return m[i].Pos() < m[j].Pos() }
func (m Members) Swap(i, j int)      { m[i], m[j] = m[j], m[i] }

// WriteTo writes SSA IR of the functions reachable from main.main to w.
func (info *SSAInfo) WriteTo(w io.Writer) (int64, error) {
	cg := info.CallGraph()
	if cg == nil {
		return info.WriteAll(w)
	}
	var n int64
	for _, f := range cg.Funcs() {
		written, err := f.WriteTo(w)
		n += written
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// WriteAll writes SSA IR of the initial packages to w.
func (info *SSAInfo) WriteAll(w io.Writer) (int64, error) {
	var n int64
	for _, f := range info.Funcs() {
		written, err := f.WriteTo(w)
		n += written
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// sortedFuncs orders funcs by source position.
func sortedFuncs(funcs []*ssa.Function) []*ssa.Function {
	ms := make(Members, len(funcs))
	for i, f := range funcs {
		ms[i] = f
	}
	sort.Sort(ms)
	for i, m := range ms {
		funcs[i] = m.(*ssa.Function)
	}
	return funcs
}
