package ast

import (
	"fmt"
	"strings"
)

// CycleError reports a cycle discovered while resolving a signal group,
// or while checking Procedure/MacroDef definitions for recursive calls.
// Grounded on the teacher's validation.RecursionError: a DFS with a
// visiting set turns a cyclic reference graph into a report naming the
// exact cycle path.
type CycleError struct {
	Name    string
	Cycle   []string
	Message string
}

func (e *CycleError) Error() string { return e.Message }

// Resolve flattens a group name to its ordered list of signal names,
// expanding nested groups. A signal name that isn't itself a declared
// group is taken as a leaf. Resolution is memoized per group name.
func (t *SignalGroupTable) Resolve(name string) ([]string, error) {
	if cached, ok := t.resolved[name]; ok {
		return cached, nil
	}
	visiting := make(map[string]bool)
	var path []string
	flat, err := t.resolve(name, visiting, path)
	if err != nil {
		return nil, err
	}
	t.resolved[name] = flat
	return flat, nil
}

func (t *SignalGroupTable) resolve(name string, visiting map[string]bool, path []string) ([]string, error) {
	g, isGroup := t.groups[name]
	if !isGroup {
		// Leaf signal name, not a group.
		return []string{name}, nil
	}

	if visiting[name] {
		cycleStart := -1
		for i, n := range path {
			if n == name {
				cycleStart = i
				break
			}
		}
		var cycle []string
		if cycleStart >= 0 {
			cycle = append(append([]string{}, path[cycleStart:]...), name)
		} else {
			cycle = append(append([]string{}, path...), name)
		}
		return nil, &CycleError{
			Name:    name,
			Cycle:   cycle,
			Message: fmt.Sprintf("signal group cycle detected: %s", strings.Join(cycle, " -> ")),
		}
	}

	visiting[name] = true
	newPath := append(append([]string{}, path...), name)

	var flat []string
	for _, member := range g.Members {
		sub, err := t.resolve(member, visiting, newPath)
		if err != nil {
			return nil, err
		}
		flat = append(flat, sub...)
	}

	delete(visiting, name)
	return flat, nil
}

// inlineKind distinguishes a Procedure node from a MacroDef node on the
// combined inlining graph: Call and Macro statements each draw from their
// own namespace (spec.md §3: Procedures and MacroDefs are separate
// symbol tables), so a node identity needs both the kind and the name.
type inlineKind int

const (
	inlineProc inlineKind = iota
	inlineMacro
)

func (k inlineKind) String() string {
	if k == inlineMacro {
		return "macro"
	}
	return "procedure"
}

// inlineNode is one vertex of the Call/Macro inlining graph.
type inlineNode struct {
	kind inlineKind
	name string
}

func (n inlineNode) String() string { return fmt.Sprintf("%s %s", n.kind, n.name) }

// ValidateNoInlineRecursion walks every Procedure's and every MacroDef's
// body (transitively through nested Loop/MatchLoop bodies) over a single
// graph that mixes Call and Macro references, and fails if any node can
// reach itself, directly or indirectly (spec.md §3: "may not recursively
// call themselves"; spec.md §9: "Procedures and MacroDefs can in
// principle form cycles; the engine refuses them at symbol-table build
// time"). A cycle formed by alternating Call/Macro references — e.g.
// Procedure P calling Macro M which calls back into Procedure P — is
// caught here exactly like a same-type cycle, because both kinds share
// one visiting set. Grounded on the teacher's validation.ValidateNoRecursion.
func ValidateNoInlineRecursion(procs *ProcTable, macros *MacroTable) error {
	for name := range procs.All() {
		if err := detectInlineRecursion(inlineNode{inlineProc, name}, procs, macros, nil, make(map[inlineNode]bool)); err != nil {
			return err
		}
	}
	for name := range macros.All() {
		if err := detectInlineRecursion(inlineNode{inlineMacro, name}, procs, macros, nil, make(map[inlineNode]bool)); err != nil {
			return err
		}
	}
	return nil
}

func detectInlineRecursion(node inlineNode, procs *ProcTable, macros *MacroTable, path []inlineNode, visiting map[inlineNode]bool) error {
	if visiting[node] {
		cycleStart := -1
		for i, n := range path {
			if n == node {
				cycleStart = i
				break
			}
		}
		var cycle []inlineNode
		if cycleStart >= 0 {
			cycle = append(append([]inlineNode{}, path[cycleStart:]...), node)
		} else {
			cycle = append(append([]inlineNode{}, path...), node)
		}
		names := make([]string, len(cycle))
		for i, n := range cycle {
			names[i] = n.String()
		}
		return &CycleError{
			Name:    node.name,
			Cycle:   names,
			Message: fmt.Sprintf("recursive Call/Macro inlining detected: %s", strings.Join(names, " -> ")),
		}
	}

	var body []Stmt
	switch node.kind {
	case inlineProc:
		p, exists := procs.Get(node.name)
		if !exists {
			return nil // unresolved reference: the engine warns and lowers it to a CALL
		}
		body = p.Body
	case inlineMacro:
		m, exists := macros.Get(node.name)
		if !exists {
			return nil
		}
		body = m.Body
	}

	visiting[node] = true
	newPath := append(append([]inlineNode{}, path...), node)

	for _, ref := range findInlineReferences(body) {
		if err := detectInlineRecursion(ref, procs, macros, newPath, visiting); err != nil {
			return err
		}
	}

	delete(visiting, node)
	return nil
}

// findInlineReferences walks a statement list (recursing into Loop/
// MatchLoop bodies) collecting both Call and Macro statement targets as
// nodes on the combined inlining graph, so a cycle that alternates
// between the two is visible to a single DFS.
func findInlineReferences(body []Stmt) []inlineNode {
	var refs []inlineNode
	for _, s := range body {
		switch st := s.(type) {
		case *CallStmt:
			refs = append(refs, inlineNode{inlineProc, st.Name})
		case *MacroStmt:
			refs = append(refs, inlineNode{inlineMacro, st.Name})
		case *LoopStmt:
			refs = append(refs, findInlineReferences(st.Body)...)
		case *MatchLoopStmt:
			refs = append(refs, findInlineReferences(st.Body)...)
		}
	}
	return refs
}
