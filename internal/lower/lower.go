// Package lower compiles a Term into the flat block IR. Nested expressions
// are let-normalized: every sub-expression lands in a fresh temporary, every
// operand is a variable or constant, and control flow (calls, conditionals)
// becomes block terminators.
//
// Lowering also fixes the ownership protocol the interpreter relies on: a
// block owns one heap reference per parameter and per instruction result.
// Instruction operands are borrowed; terminator operands are consumed. Values
// stored into tuples and closures are retained just before the allocation,
// which takes those references over. At every terminator the edge is
// balanced: each owned local gets one retain per outgoing occurrence beyond
// the reference it already owns, and a release if it has no occurrence. Along
// every path retains match uses and every binding is released exactly once.
package lower

import (
	"fmt"

	"lamina/internal/ir"
	"lamina/internal/logger"
	"lamina/internal/term"
)

// UnboundError reports a variable with no enclosing binder. It is the only
// compile-time error class.
type UnboundError struct {
	Name string
}

func (e *UnboundError) Error() string {
	return fmt.Sprintf("unbound variable %q", e.Name)
}

// Lower compiles a closed term into an IR program whose entry block, run by
// the interpreter, yields the term's value under strict evaluation.
func Lower(t term.Term) (*ir.Program, error) {
	lw := &lowerer{prog: &ir.Program{}}
	entry := lw.newBlock("entry", nil)
	lw.prog.Entry = entry.ID
	lw.cur = entry
	if err := lw.lowerTail(t); err != nil {
		return nil, err
	}
	logger.Debug("lowered term", "blocks", len(lw.prog.Blocks))
	return lw.prog, nil
}

type scopeEntry struct {
	src  string // source-level name
	name string // IR variable currently holding its value
}

type lowerer struct {
	prog *ir.Program
	nvar int
	cur  *ir.Block

	// scope resolves source names, innermost last. locals are the IR
	// variables the current block owns a reference to, in definition order;
	// they double as the parameter list when the block has to split.
	scope  []scopeEntry
	locals []string
}

func (lw *lowerer) newBlock(name string, params []string) *ir.Block {
	b := &ir.Block{ID: ir.BlockID(len(lw.prog.Blocks)), Name: name, Params: params}
	lw.prog.Blocks = append(lw.prog.Blocks, b)
	return b
}

func (lw *lowerer) emit(i ir.Instr) {
	lw.cur.Instrs = append(lw.cur.Instrs, i)
}

func (lw *lowerer) terminate(t ir.Term) {
	lw.cur.Term = t
}

func (lw *lowerer) fresh(src string) string {
	lw.nvar++
	if src == "" {
		return fmt.Sprintf("t%d", lw.nvar)
	}
	return fmt.Sprintf("%s.%d", src, lw.nvar)
}

func (lw *lowerer) own(name string) {
	lw.locals = append(lw.locals, name)
}

func (lw *lowerer) resolve(name string) (string, error) {
	for i := len(lw.scope) - 1; i >= 0; i-- {
		if lw.scope[i].src == name {
			return lw.scope[i].name, nil
		}
	}
	return "", &UnboundError{Name: name}
}

func vref(name string) ir.Operand {
	return &ir.VarRef{Name: name}
}

func vrefs(names []string) []ir.Operand {
	out := make([]ir.Operand, len(names))
	for i, n := range names {
		out[i] = vref(n)
	}
	return out
}

// sealEdge balances ownership before a terminator whose outgoing operand
// occurrences are given by name.
func (lw *lowerer) sealEdge(outgoing []string) {
	counts := map[string]int{}
	for _, n := range outgoing {
		counts[n]++
	}
	for _, n := range lw.locals {
		c := counts[n]
		if c == 0 {
			lw.emit(&ir.Release{Val: vref(n)})
			continue
		}
		for i := 1; i < c; i++ {
			lw.emit(&ir.Retain{Val: vref(n)})
		}
	}
}

// lowerTail lowers t in tail position: the current block is terminated with
// the term's result (or a tail call producing it).
func (lw *lowerer) lowerTail(t term.Term) error {
	switch t := t.(type) {
	case *term.App:
		fn, err := lw.lowerAtom(t.Fn)
		if err != nil {
			return err
		}
		arg, err := lw.lowerAtom(t.Arg)
		if err != nil {
			return err
		}
		lw.sealEdge([]string{fn, arg})
		lw.terminate(&ir.TailCall{Fn: vref(fn), Args: []ir.Operand{vref(arg)}})
		return nil
	case *term.Let:
		v, err := lw.lowerAtom(t.Bound)
		if err != nil {
			return err
		}
		lw.scope = append(lw.scope, scopeEntry{src: t.Name, name: v})
		err = lw.lowerTail(t.Body)
		lw.scope = lw.scope[:len(lw.scope)-1]
		return err
	case *term.If:
		cond, err := lw.lowerAtom(t.Cond)
		if err != nil {
			return err
		}
		saved := append([]string{}, lw.locals...)
		thenB := lw.newBlock("then", append([]string{}, saved...))
		elseB := lw.newBlock("else", append([]string{}, saved...))
		lw.sealEdge(append([]string{cond}, saved...))
		lw.terminate(&ir.Br{Cond: vref(cond), Then: thenB.ID, Else: elseB.ID, Args: vrefs(saved)})
		arms := []struct {
			b *ir.Block
			t term.Term
		}{{thenB, t.Then}, {elseB, t.Else}}
		for _, arm := range arms {
			lw.cur = arm.b
			lw.locals = append([]string{}, saved...)
			if err := lw.lowerTail(arm.t); err != nil {
				return err
			}
		}
		return nil
	default:
		v, err := lw.lowerAtom(t)
		if err != nil {
			return err
		}
		lw.sealEdge([]string{v})
		lw.terminate(&ir.Ret{Val: vref(v)})
		return nil
	}
}

// lowerAtom lowers t in non-tail position and returns the IR variable
// holding its value. Calls and conditionals split the current block.
func (lw *lowerer) lowerAtom(t term.Term) (string, error) {
	switch t := t.(type) {
	case *term.Var:
		return lw.resolve(t.Name)
	case *term.IntLit:
		d := lw.fresh("")
		lw.emit(&ir.AllocInt{Dst: d, V: t.Value})
		lw.own(d)
		return d, nil
	case *term.BoolLit:
		d := lw.fresh("")
		lw.emit(&ir.AllocBool{Dst: d, V: t.Value})
		lw.own(d)
		return d, nil
	case *term.Let:
		v, err := lw.lowerAtom(t.Bound)
		if err != nil {
			return "", err
		}
		lw.scope = append(lw.scope, scopeEntry{src: t.Name, name: v})
		r, err := lw.lowerAtom(t.Body)
		lw.scope = lw.scope[:len(lw.scope)-1]
		return r, err
	case *term.BinOp:
		a, err := lw.lowerAtom(t.L)
		if err != nil {
			return "", err
		}
		b, err := lw.lowerAtom(t.R)
		if err != nil {
			return "", err
		}
		d := lw.fresh("")
		if t.Op.IsCompare() {
			lw.emit(&ir.Cmp{Dst: d, Op: cmpOp(t.Op), A: vref(a), B: vref(b)})
		} else {
			lw.emit(&ir.Arith{Dst: d, Op: arithOp(t.Op), A: vref(a), B: vref(b)})
		}
		lw.own(d)
		return d, nil
	case *term.Tuple:
		elems := make([]string, 0, len(t.Elems))
		for _, e := range t.Elems {
			v, err := lw.lowerAtom(e)
			if err != nil {
				return "", err
			}
			elems = append(elems, v)
		}
		// The tuple takes ownership of one new reference per element.
		for _, e := range elems {
			lw.emit(&ir.Retain{Val: vref(e)})
		}
		d := lw.fresh("")
		lw.emit(&ir.AllocTuple{Dst: d, Elems: vrefs(elems)})
		lw.own(d)
		return d, nil
	case *term.Proj:
		tp, err := lw.lowerAtom(t.Tuple)
		if err != nil {
			return "", err
		}
		d := lw.fresh("")
		lw.emit(&ir.Project{Dst: d, Tuple: vref(tp), Index: t.Index})
		lw.own(d)
		return d, nil
	case *term.Lambda:
		return lw.lowerLambda(t)
	case *term.App:
		return lw.lowerCall(t)
	case *term.If:
		return lw.lowerIf(t)
	}
	return "", fmt.Errorf("lower: unknown term %T", t)
}

func (lw *lowerer) lowerLambda(t *term.Lambda) (string, error) {
	free := term.Free(t)
	captured := make([]string, len(free))
	for i, f := range free {
		v, err := lw.resolve(f)
		if err != nil {
			return "", err
		}
		captured[i] = v
	}

	// Body block parameters: captured values, the self binding, then the
	// call argument. The interpreter binds the closure itself to the self
	// parameter, which is how recursion through the self name works.
	params := make([]string, 0, len(free)+2)
	var bscope []scopeEntry
	for _, f := range free {
		n := lw.fresh(f)
		params = append(params, n)
		bscope = append(bscope, scopeEntry{src: f, name: n})
	}
	selfSrc := t.Self
	if selfSrc == "" {
		selfSrc = "self"
	}
	selfName := lw.fresh(selfSrc)
	params = append(params, selfName)
	if t.Self != "" {
		bscope = append(bscope, scopeEntry{src: t.Self, name: selfName})
	}
	paramName := lw.fresh(t.Param)
	params = append(params, paramName)
	bscope = append(bscope, scopeEntry{src: t.Param, name: paramName})

	name := t.Self
	if name == "" {
		name = "lambda"
	}
	body := lw.newBlock(name, params)

	savedCur, savedScope, savedLocals := lw.cur, lw.scope, lw.locals
	lw.cur = body
	lw.scope = bscope
	lw.locals = append([]string{}, params...)
	err := lw.lowerTail(t.Body)
	lw.cur, lw.scope, lw.locals = savedCur, savedScope, savedLocals
	if err != nil {
		return "", err
	}

	// The closure takes ownership of one new reference per captured value.
	for _, c := range captured {
		lw.emit(&ir.Retain{Val: vref(c)})
	}
	d := lw.fresh("")
	lw.emit(&ir.AllocClosure{Dst: d, Target: body.ID, Captured: vrefs(captured)})
	lw.own(d)
	return d, nil
}

func (lw *lowerer) lowerCall(t *term.App) (string, error) {
	fn, err := lw.lowerAtom(t.Fn)
	if err != nil {
		return "", err
	}
	arg, err := lw.lowerAtom(t.Arg)
	if err != nil {
		return "", err
	}
	saved := append([]string{}, lw.locals...)
	res := lw.fresh("")
	cont := lw.newBlock("ret", append(append([]string{}, saved...), res))
	outgoing := append([]string{fn, arg}, saved...)
	lw.sealEdge(outgoing)
	lw.terminate(&ir.Call{Fn: vref(fn), Args: []ir.Operand{vref(arg)}, Cont: cont.ID, Saved: vrefs(saved)})
	lw.cur = cont
	lw.locals = append(saved, res)
	return res, nil
}

func (lw *lowerer) lowerIf(t *term.If) (string, error) {
	cond, err := lw.lowerAtom(t.Cond)
	if err != nil {
		return "", err
	}
	saved := append([]string{}, lw.locals...)
	thenB := lw.newBlock("then", append([]string{}, saved...))
	elseB := lw.newBlock("else", append([]string{}, saved...))
	res := lw.fresh("")
	cont := lw.newBlock("endif", append(append([]string{}, saved...), res))
	lw.sealEdge(append([]string{cond}, saved...))
	lw.terminate(&ir.Br{Cond: vref(cond), Then: thenB.ID, Else: elseB.ID, Args: vrefs(saved)})

	arms := []struct {
		b *ir.Block
		t term.Term
	}{{thenB, t.Then}, {elseB, t.Else}}
	for _, arm := range arms {
		lw.cur = arm.b
		lw.locals = append([]string{}, saved...)
		v, err := lw.lowerAtom(arm.t)
		if err != nil {
			return "", err
		}
		out := append(append([]string{}, saved...), v)
		lw.sealEdge(out)
		lw.terminate(&ir.Jmp{Target: cont.ID, Args: vrefs(out)})
	}

	lw.cur = cont
	lw.locals = append(saved, res)
	return res, nil
}

func arithOp(op term.Op) ir.ArithOp {
	switch op {
	case term.OpAdd:
		return ir.OpAdd
	case term.OpSub:
		return ir.OpSub
	case term.OpMul:
		return ir.OpMul
	}
	panic("lower: not an arithmetic operator: " + string(op))
}

func cmpOp(op term.Op) ir.CmpOp {
	switch op {
	case term.OpEq:
		return ir.CmpEq
	case term.OpNe:
		return ir.CmpNe
	case term.OpLt:
		return ir.CmpLt
	case term.OpLe:
		return ir.CmpLe
	case term.OpGt:
		return ir.CmpGt
	case term.OpGe:
		return ir.CmpGe
	}
	panic("lower: not a comparison operator: " + string(op))
}
