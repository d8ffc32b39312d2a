package interpreter

import (
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// carryPrefix cannot start an identifier, so carried names never collide
// with user bindings.
const carryPrefix = "$"

// carryOver prepends "name = $name" for every global that the block rebinds
// and that already exists in the namespace. Without it a block-level
// global starts unbound and "x = x + 1" fails. The returned dict holds the
// hidden predeclared values the prelude reads.
func (s *Scope) carryOver(f *syntax.File) starlark.StringDict {
	bound := make(map[string]bool)
	collectBindings(f.Stmts, bound)

	hidden := make(starlark.StringDict)
	var prelude []syntax.Stmt
	pos := syntax.MakePosition(nil, 1, 1)
	if len(f.Stmts) > 0 {
		pos, _ = f.Stmts[0].Span()
	}
	for _, name := range s.Keys() {
		if !bound[name] {
			continue
		}
		hidden[carryPrefix+name] = s.globals[name]
		prelude = append(prelude, &syntax.AssignStmt{
			OpPos: pos,
			Op:    syntax.EQ,
			LHS:   &syntax.Ident{NamePos: pos, Name: name},
			RHS:   &syntax.Ident{NamePos: pos, Name: carryPrefix + name},
		})
	}
	if len(prelude) > 0 {
		f.Stmts = append(prelude, f.Stmts...)
	}
	return hidden
}

// collectBindings records names bound at module level. Function bodies and
// comprehensions bind locals and are skipped; load() binds file-locals.
func collectBindings(stmts []syntax.Stmt, bound map[string]bool) {
	for _, st := range stmts {
		switch x := st.(type) {
		case *syntax.AssignStmt:
			collectTargets(x.LHS, bound)
		case *syntax.DefStmt:
			bound[x.Name.Name] = true
		case *syntax.ForStmt:
			collectTargets(x.Vars, bound)
			collectBindings(x.Body, bound)
		case *syntax.WhileStmt:
			collectBindings(x.Body, bound)
		case *syntax.IfStmt:
			collectBindings(x.True, bound)
			collectBindings(x.False, bound)
		}
	}
}

func collectTargets(e syntax.Expr, bound map[string]bool) {
	switch x := e.(type) {
	case *syntax.Ident:
		bound[x.Name] = true
	case *syntax.TupleExpr:
		for _, el := range x.List {
			collectTargets(el, bound)
		}
	case *syntax.ListExpr:
		for _, el := range x.List {
			collectTargets(el, bound)
		}
	case *syntax.ParenExpr:
		collectTargets(x.X, bound)
	}
}
