// Package interp executes the block IR against a reference-counted heap.
// The machine is iterative: it keeps its own growable frame stack instead of
// recursing on the host stack, so tail calls run in constant depth and the
// whole control state can be inspected mid-run.
package interp

import (
	"sort"

	"lamina/internal/heap"
	"lamina/internal/ir"
	"lamina/internal/logger"
)

// frame is one pending non-tail call: where to resume and the owned
// references the continuation's leading parameters will be bound to. The
// returned value becomes the continuation's final parameter.
type frame struct {
	cont  ir.BlockID
	saved []heap.Addr
}

// Machine runs one program. Step executes a single instruction or
// terminator; Run loops Step until the entry's value is produced. Callers
// wanting to bound execution drive Step themselves.
type Machine struct {
	prog  *ir.Program
	heap  *heap.Heap
	stack []frame

	block *ir.Block
	pc    int
	vars  map[string]heap.Addr
	owned map[string]int

	done   bool
	result heap.Addr
	failed bool
}

func New(p *ir.Program, h *heap.Heap) (*Machine, error) {
	m := &Machine{prog: p, heap: h}
	if err := m.enter(p.Entry, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Done reports whether evaluation has halted.
func (m *Machine) Done() bool { return m.done }

// Failed reports whether the machine halted by unwinding from an error.
func (m *Machine) Failed() bool { return m.failed }

// Result is the final value's address. The caller owns one reference to it
// and releases it when finished. Meaningful only once Done and not Failed;
// after a failure it is the zero Addr, which names no allocation the caller
// may touch.
func (m *Machine) Result() heap.Addr { return m.result }

// Depth is the number of pending call frames.
func (m *Machine) Depth() int { return len(m.stack) }

// Block and PC locate the program counter for introspection.
func (m *Machine) Block() *ir.Block { return m.block }
func (m *Machine) PC() int          { return m.pc }

// Heap exposes the machine's heap for inspection and leak accounting.
func (m *Machine) Heap() *heap.Heap { return m.heap }

// Locals returns the current activation's bindings in sorted name order.
func (m *Machine) Locals() []string {
	names := make([]string, 0, len(m.vars))
	for n := range m.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the address bound to a local, for inspection.
func (m *Machine) Lookup(name string) (heap.Addr, bool) {
	a, ok := m.vars[name]
	return a, ok
}

// Run drives Step until evaluation halts.
func (m *Machine) Run() (heap.Addr, error) {
	for !m.done {
		if err := m.Step(); err != nil {
			return 0, err
		}
	}
	return m.result, nil
}

// Step executes one instruction or terminator. On a runtime error the
// machine unwinds every live activation and frame, releasing all owned
// references, before returning the error.
func (m *Machine) Step() error {
	if m.done {
		return errf(Internal, "step after halt")
	}
	var err error
	if m.pc < len(m.block.Instrs) {
		err = m.exec(m.block.Instrs[m.pc])
		m.pc++
	} else {
		err = m.execTerm(m.block.Term)
	}
	if err != nil {
		m.unwind()
		return err
	}
	return nil
}

// enter activates a block, transferring ownership of args to its parameters.
func (m *Machine) enter(id ir.BlockID, args []heap.Addr) error {
	b := m.prog.Block(id)
	if b == nil {
		return errf(Internal, "jump to unknown block b%d", id)
	}
	if len(args) != len(b.Params) {
		return errf(Internal, "b%d %s expects %d parameters, got %d values", b.ID, b.Name, len(b.Params), len(args))
	}
	m.block = b
	m.pc = 0
	m.vars = make(map[string]heap.Addr, len(b.Params))
	m.owned = make(map[string]int, len(b.Params))
	for i, p := range b.Params {
		m.vars[p] = args[i]
		m.owned[p]++
	}
	return nil
}

// addrOf resolves an operand to an owned reference: a variable hands over
// one of the activation's references, a constant materializes fresh.
func (m *Machine) addrOf(op ir.Operand) (heap.Addr, error) {
	switch op := op.(type) {
	case *ir.VarRef:
		a, ok := m.vars[op.Name]
		if !ok {
			return 0, errf(UnboundVariable, "%%%s", op.Name)
		}
		if m.owned[op.Name] <= 0 {
			return 0, errf(Internal, "%%%s transferred more references than it owns", op.Name)
		}
		m.owned[op.Name]--
		return a, nil
	case *ir.ConstInt:
		return m.heap.AllocInt(op.V), nil
	case *ir.ConstBool:
		return m.heap.AllocBool(op.V), nil
	}
	return 0, errf(Internal, "bad operand %T", op)
}

func (m *Machine) addrsOf(ops []ir.Operand) ([]heap.Addr, error) {
	out := make([]heap.Addr, len(ops))
	for i, op := range ops {
		a, err := m.addrOf(op)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// drop releases references already consumed from the activation when a
// terminator fails partway: they are no longer in owned, so unwind cannot
// see them.
func (m *Machine) drop(addrs ...heap.Addr) {
	for _, a := range addrs {
		if err := m.heap.Release(a); err != nil {
			logger.Debug("drop release failed", "err", err)
		}
	}
}

// peek resolves a variable without transferring ownership.
func (m *Machine) peek(op *ir.VarRef) (heap.Addr, error) {
	a, ok := m.vars[op.Name]
	if !ok {
		return 0, errf(UnboundVariable, "%%%s", op.Name)
	}
	return a, nil
}

// intOf reads an integer operand, borrowing.
func (m *Machine) intOf(op ir.Operand) (int64, error) {
	switch op := op.(type) {
	case *ir.ConstInt:
		return op.V, nil
	case *ir.ConstBool:
		return 0, errf(TypeMismatch, "expected int, got bool")
	case *ir.VarRef:
		a, err := m.peek(op)
		if err != nil {
			return 0, err
		}
		o, err := m.heap.Get(a)
		if err != nil {
			return 0, errf(Internal, "%v", err)
		}
		if o.Tag != heap.Int {
			return 0, errf(TypeMismatch, "expected int, got %s", o.Tag)
		}
		return o.Int, nil
	}
	return 0, errf(Internal, "bad operand %T", op)
}

// boolOf reads a boolean operand, borrowing.
func (m *Machine) boolOf(op ir.Operand) (bool, error) {
	switch op := op.(type) {
	case *ir.ConstBool:
		return op.V, nil
	case *ir.ConstInt:
		return false, errf(TypeMismatch, "expected bool, got int")
	case *ir.VarRef:
		a, err := m.peek(op)
		if err != nil {
			return false, err
		}
		o, err := m.heap.Get(a)
		if err != nil {
			return false, errf(Internal, "%v", err)
		}
		if o.Tag != heap.Bool {
			return false, errf(TypeMismatch, "expected bool, got %s", o.Tag)
		}
		return o.Bool, nil
	}
	return false, errf(Internal, "bad operand %T", op)
}

func (m *Machine) bind(name string, a heap.Addr) {
	m.vars[name] = a
	m.owned[name]++
}

func (m *Machine) exec(i ir.Instr) error {
	switch i := i.(type) {
	case *ir.AllocInt:
		m.bind(i.Dst, m.heap.AllocInt(i.V))
	case *ir.AllocBool:
		m.bind(i.Dst, m.heap.AllocBool(i.V))
	case *ir.AllocTuple:
		// Takes over the references lowering retained for the elements.
		elems, err := m.addrsOf(i.Elems)
		if err != nil {
			return err
		}
		m.bind(i.Dst, m.heap.AllocTuple(elems))
	case *ir.AllocClosure:
		env, err := m.addrsOf(i.Captured)
		if err != nil {
			return err
		}
		m.bind(i.Dst, m.heap.AllocClosure(i.Target, env))
	case *ir.Project:
		tref, ok := i.Tuple.(*ir.VarRef)
		if !ok {
			return errf(TypeMismatch, "projecting a constant")
		}
		a, err := m.peek(tref)
		if err != nil {
			return err
		}
		o, err := m.heap.Get(a)
		if err != nil {
			return errf(Internal, "%v", err)
		}
		if o.Tag != heap.Tuple {
			return errf(TypeMismatch, "projecting %s, expected tuple", o.Tag)
		}
		if i.Index < 0 || i.Index >= len(o.Elems) {
			return errf(IndexOutOfRange, "index %d on tuple of arity %d", i.Index, len(o.Elems))
		}
		elem := o.Elems[i.Index]
		// The activation gains its own reference to the element.
		if err := m.heap.Retain(elem); err != nil {
			return errf(Internal, "%v", err)
		}
		m.bind(i.Dst, elem)
	case *ir.Arith:
		a, err := m.intOf(i.A)
		if err != nil {
			return err
		}
		b, err := m.intOf(i.B)
		if err != nil {
			return err
		}
		var v int64
		switch i.Op {
		case ir.OpAdd:
			v = a + b
		case ir.OpSub:
			v = a - b
		case ir.OpMul:
			v = a * b
		default:
			return errf(Internal, "bad arithmetic op %q", i.Op)
		}
		m.bind(i.Dst, m.heap.AllocInt(v))
	case *ir.Cmp:
		a, err := m.intOf(i.A)
		if err != nil {
			return err
		}
		b, err := m.intOf(i.B)
		if err != nil {
			return err
		}
		var v bool
		switch i.Op {
		case ir.CmpEq:
			v = a == b
		case ir.CmpNe:
			v = a != b
		case ir.CmpLt:
			v = a < b
		case ir.CmpLe:
			v = a <= b
		case ir.CmpGt:
			v = a > b
		case ir.CmpGe:
			v = a >= b
		default:
			return errf(Internal, "bad comparison op %q", i.Op)
		}
		m.bind(i.Dst, m.heap.AllocBool(v))
	case *ir.Retain:
		ref, ok := i.Val.(*ir.VarRef)
		if !ok {
			return errf(Internal, "retain of constant")
		}
		a, err := m.peek(ref)
		if err != nil {
			return err
		}
		if err := m.heap.Retain(a); err != nil {
			return errf(Internal, "%v", err)
		}
		m.owned[ref.Name]++
	case *ir.Release:
		ref, ok := i.Val.(*ir.VarRef)
		if !ok {
			return errf(Internal, "release of constant")
		}
		a, err := m.peek(ref)
		if err != nil {
			return err
		}
		if m.owned[ref.Name] <= 0 {
			return errf(Internal, "release of %%%s which the activation does not own", ref.Name)
		}
		m.owned[ref.Name]--
		if err := m.heap.Release(a); err != nil {
			return errf(Internal, "%v", err)
		}
	default:
		return errf(Internal, "bad instruction %T", i)
	}
	return nil
}

func (m *Machine) execTerm(t ir.Term) error {
	switch t := t.(type) {
	case *ir.Ret:
		a, err := m.addrOf(t.Val)
		if err != nil {
			return err
		}
		if err := m.checkDrained(); err != nil {
			m.drop(a)
			return err
		}
		if len(m.stack) == 0 {
			m.done = true
			m.result = a
			return nil
		}
		f := m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		return m.enter(f.cont, append(f.saved, a))
	case *ir.Jmp:
		args, err := m.addrsOf(t.Args)
		if err != nil {
			return err
		}
		if err := m.checkDrained(); err != nil {
			m.drop(args...)
			return err
		}
		return m.enter(t.Target, args)
	case *ir.Br:
		cond, err := m.boolOf(t.Cond)
		if err != nil {
			return err
		}
		args, err := m.addrsOf(t.Args)
		if err != nil {
			return err
		}
		// The branch consumes its condition reference.
		if ref, ok := t.Cond.(*ir.VarRef); ok {
			if m.owned[ref.Name] <= 0 {
				m.drop(args...)
				return errf(Internal, "condition %%%s not owned", ref.Name)
			}
			m.owned[ref.Name]--
			if err := m.heap.Release(m.vars[ref.Name]); err != nil {
				m.drop(args...)
				return errf(Internal, "%v", err)
			}
		}
		if err := m.checkDrained(); err != nil {
			m.drop(args...)
			return err
		}
		if cond {
			return m.enter(t.Then, args)
		}
		return m.enter(t.Else, args)
	case *ir.Call:
		return m.call(t.Fn, t.Args, t.Saved, t.Cont, false)
	case *ir.TailCall:
		return m.call(t.Fn, t.Args, nil, 0, true)
	}
	return errf(Internal, "bad terminator %T", t)
}

// call transfers control into a closure. The callee block's parameters are
// bound to the captured values (freshly retained), then the closure itself
// under its self binding (the consumed incoming reference moves there), then
// the supplied arguments. Non-tail calls push a frame; tail calls reuse the
// current one, so self-recursion runs at constant depth.
func (m *Machine) call(fn ir.Operand, args []ir.Operand, saved []ir.Operand, cont ir.BlockID, tail bool) error {
	fnAddr, err := m.addrOf(fn)
	if err != nil {
		return err
	}
	o, err := m.heap.Get(fnAddr)
	if err != nil {
		return errf(Internal, "%v", err)
	}
	if o.Tag != heap.Closure {
		m.drop(fnAddr)
		return errf(TypeMismatch, "calling %s, expected closure", o.Tag)
	}
	argAddrs, err := m.addrsOf(args)
	if err != nil {
		m.drop(fnAddr)
		return err
	}
	var savedAddrs []heap.Addr
	if !tail {
		savedAddrs, err = m.addrsOf(saved)
		if err != nil {
			m.drop(append(argAddrs, fnAddr)...)
			return err
		}
	}
	if err := m.checkDrained(); err != nil {
		m.drop(append(append(argAddrs, savedAddrs...), fnAddr)...)
		return err
	}

	callee := m.prog.Block(o.Target)
	if callee == nil {
		m.drop(append(append(argAddrs, savedAddrs...), fnAddr)...)
		return errf(Internal, "closure targets unknown block b%d", o.Target)
	}
	if len(callee.Params) != len(o.Env)+1+len(argAddrs) {
		m.drop(append(append(argAddrs, savedAddrs...), fnAddr)...)
		return errf(TypeMismatch, "function expects %d values, got %d", len(callee.Params), len(o.Env)+1+len(argAddrs))
	}

	bound := make([]heap.Addr, 0, len(callee.Params))
	for _, c := range o.Env {
		if err := m.heap.Retain(c); err != nil {
			return errf(Internal, "%v", err)
		}
		bound = append(bound, c)
	}
	bound = append(bound, fnAddr)
	bound = append(bound, argAddrs...)

	if !tail {
		m.stack = append(m.stack, frame{cont: cont, saved: savedAddrs})
	}
	return m.enter(callee.ID, bound)
}

// checkDrained verifies the lowering's ownership protocol: at a terminator,
// once the outgoing references have been transferred, the activation must
// own nothing.
func (m *Machine) checkDrained() error {
	for n, c := range m.owned {
		if c > 0 {
			return errf(Internal, "%%%s still owns %d references at block exit", n, c)
		}
	}
	return nil
}

// unwind releases everything the machine still owns: the current
// activation's references and every pending frame's saved references, so
// failed evaluations leak nothing.
func (m *Machine) unwind() {
	if m.done {
		return
	}
	for n, c := range m.owned {
		a := m.vars[n]
		for ; c > 0; c-- {
			if err := m.heap.Release(a); err != nil {
				logger.Debug("unwind release failed", "var", n, "err", err)
				break
			}
		}
	}
	for i := len(m.stack) - 1; i >= 0; i-- {
		for _, a := range m.stack[i].saved {
			if err := m.heap.Release(a); err != nil {
				logger.Debug("unwind release failed", "err", err)
			}
		}
	}
	m.stack = nil
	m.owned = nil
	m.vars = nil
	m.done = true
	m.failed = true
}
