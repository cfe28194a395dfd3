package ir

// Def returns the variable an instruction defines, if any.
func Def(i Instr) (string, bool) {
	switch i := i.(type) {
	case *AllocInt:
		return i.Dst, true
	case *AllocBool:
		return i.Dst, true
	case *AllocTuple:
		return i.Dst, true
	case *Project:
		return i.Dst, true
	case *AllocClosure:
		return i.Dst, true
	case *Arith:
		return i.Dst, true
	case *Cmp:
		return i.Dst, true
	}
	return "", false
}

// Uses returns the operands an instruction reads.
func Uses(i Instr) []Operand {
	switch i := i.(type) {
	case *AllocTuple:
		return i.Elems
	case *Project:
		return []Operand{i.Tuple}
	case *AllocClosure:
		return i.Captured
	case *Arith:
		return []Operand{i.A, i.B}
	case *Cmp:
		return []Operand{i.A, i.B}
	case *Retain:
		return []Operand{i.Val}
	case *Release:
		return []Operand{i.Val}
	}
	return nil
}

// TermUses returns the operands a terminator reads.
func TermUses(t Term) []Operand {
	switch t := t.(type) {
	case *Ret:
		return []Operand{t.Val}
	case *Br:
		out := make([]Operand, 0, len(t.Args)+1)
		out = append(out, t.Cond)
		return append(out, t.Args...)
	case *Jmp:
		return t.Args
	case *Call:
		out := make([]Operand, 0, len(t.Args)+len(t.Saved)+1)
		out = append(out, t.Fn)
		out = append(out, t.Args...)
		return append(out, t.Saved...)
	case *TailCall:
		out := make([]Operand, 0, len(t.Args)+1)
		out = append(out, t.Fn)
		return append(out, t.Args...)
	}
	return nil
}

// Edge is a control transfer to Target binding NArgs of its parameters.
type Edge struct {
	Target BlockID
	NArgs  int
}

// Edges returns the static control transfers out of a terminator. Call and
// TailCall targets are dynamic (through a closure) and are not included, but
// a Call's continuation is: it receives the saved values plus the returned
// value.
func Edges(t Term) []Edge {
	switch t := t.(type) {
	case *Br:
		return []Edge{{t.Then, len(t.Args)}, {t.Else, len(t.Args)}}
	case *Jmp:
		return []Edge{{t.Target, len(t.Args)}}
	case *Call:
		return []Edge{{t.Cont, len(t.Saved) + 1}}
	}
	return nil
}
