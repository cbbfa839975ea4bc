package ast_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/stilconv/internal/ast"
)

func TestSignalGroupResolveFlattensNested(t *testing.T) {
	groups := ast.NewSignalGroupTable()
	groups.Add(ast.SignalGroup{Name: "lo", Members: []string{"s0", "s1"}})
	groups.Add(ast.SignalGroup{Name: "hi", Members: []string{"s2", "s3"}})
	groups.Add(ast.SignalGroup{Name: "bus", Members: []string{"lo", "hi"}})

	flat, err := groups.Resolve("bus")
	require.NoError(t, err)
	require.Equal(t, []string{"s0", "s1", "s2", "s3"}, flat)
}

func TestSignalGroupResolveLeaf(t *testing.T) {
	groups := ast.NewSignalGroupTable()
	flat, err := groups.Resolve("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, flat)
}

func TestSignalGroupResolveCycle(t *testing.T) {
	groups := ast.NewSignalGroupTable()
	groups.Add(ast.SignalGroup{Name: "a", Members: []string{"b"}})
	groups.Add(ast.SignalGroup{Name: "b", Members: []string{"a"}})

	_, err := groups.Resolve("a")
	require.Error(t, err)
	var cycleErr *ast.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestValidateNoInlineRecursionDetectsProcedureCycle(t *testing.T) {
	procs := ast.NewProcTable()
	procs.Add(&ast.Procedure{Name: "P", Body: []ast.Stmt{&ast.CallStmt{Name: "Q"}}})
	procs.Add(&ast.Procedure{Name: "Q", Body: []ast.Stmt{&ast.CallStmt{Name: "P"}}})

	err := ast.ValidateNoInlineRecursion(procs, ast.NewMacroTable())
	require.Error(t, err)
	var cycleErr *ast.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestValidateNoInlineRecursionAcceptsDAG(t *testing.T) {
	procs := ast.NewProcTable()
	procs.Add(&ast.Procedure{Name: "P", Body: []ast.Stmt{&ast.CallStmt{Name: "Q"}}})
	procs.Add(&ast.Procedure{Name: "Q", Body: []ast.Stmt{&ast.VectorStmt{}}})

	require.NoError(t, ast.ValidateNoInlineRecursion(procs, ast.NewMacroTable()))
}

func TestValidateNoInlineRecursionWalksLoopBodies(t *testing.T) {
	procs := ast.NewProcTable()
	procs.Add(&ast.Procedure{Name: "P", Body: []ast.Stmt{
		&ast.LoopStmt{Count: 2, Body: []ast.Stmt{&ast.CallStmt{Name: "P"}}},
	}})

	err := ast.ValidateNoInlineRecursion(procs, ast.NewMacroTable())
	require.Error(t, err)
}

func TestValidateNoInlineRecursionDetectsMixedProcedureMacroCycle(t *testing.T) {
	procs := ast.NewProcTable()
	procs.Add(&ast.Procedure{Name: "P", Body: []ast.Stmt{&ast.MacroStmt{Name: "M"}}})
	macros := ast.NewMacroTable()
	macros.Add(&ast.MacroDef{Name: "M", Body: []ast.Stmt{&ast.CallStmt{Name: "P"}}})

	err := ast.ValidateNoInlineRecursion(procs, macros)
	require.Error(t, err)
	var cycleErr *ast.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestValidateNoInlineRecursionAcceptsMixedProcedureMacroDAG(t *testing.T) {
	procs := ast.NewProcTable()
	procs.Add(&ast.Procedure{Name: "P", Body: []ast.Stmt{&ast.MacroStmt{Name: "M"}}})
	macros := ast.NewMacroTable()
	macros.Add(&ast.MacroDef{Name: "M", Body: []ast.Stmt{&ast.VectorStmt{}}})

	require.NoError(t, ast.ValidateNoInlineRecursion(procs, macros))
}
