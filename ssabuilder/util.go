package ssabuilder

import (
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// MainPkg returns main package of a command.
func MainPkg(prog *ssa.Program) *ssa.Package {
	pkgs := prog.AllPackages()
	for _, pkg := range pkgs {
		if pkg.Pkg.Name() == "main" {
			return pkg
		}
	}
	return nil // Not found
}

// Funcs returns the functions declared in the initial packages, methods
// included, in source order.
func (info *SSAInfo) Funcs() []*ssa.Function {
	var funcs []*ssa.Function
	for _, pkg := range info.Init {
		for _, memb := range pkg.Members {
			switch memb := memb.(type) {
			case *ssa.Function:
				if memb.Synthetic == "" {
					funcs = append(funcs, memb)
				}
			case *ssa.Type:
				mset := info.Prog.MethodSets.MethodSet(types.NewPointer(memb.Type()))
				for i := 0; i < mset.Len(); i++ {
					if f := info.Prog.MethodValue(mset.At(i)); f != nil && f.Synthetic == "" {
						funcs = append(funcs, f)
					}
				}
			}
		}
	}
	return sortedFuncs(funcs)
}
