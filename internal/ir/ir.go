package ir

import (
	"fmt"
	"strings"
)

// BlockID indexes Program.Blocks.
type BlockID int

type Program struct {
	Blocks []*Block
	Entry  BlockID
}

func (p *Program) Block(id BlockID) *Block {
	if int(id) < 0 || int(id) >= len(p.Blocks) {
		return nil
	}
	return p.Blocks[id]
}

// Block is a linear instruction sequence ending in exactly one terminator.
// Params are the variables bound on entry; every edge into the block supplies
// one value per parameter.
type Block struct {
	ID     BlockID
	Name   string
	Params []string
	Instrs []Instr
	Term   Term
}

type Instr interface {
	instrNode()
	fmtString() string
}

type Term interface {
	termNode()
	fmtString() string
}

// Operands
type Operand interface {
	operandNode()
	fmtString() string
}

type VarRef struct {
	Name string
}

func (*VarRef) operandNode() {}
func (o *VarRef) fmtString() string {
	return "%" + o.Name
}

type ConstInt struct {
	V int64
}

func (*ConstInt) operandNode() {}
func (o *ConstInt) fmtString() string {
	return fmt.Sprintf("%d", o.V)
}

type ConstBool struct {
	V bool
}

func (*ConstBool) operandNode() {}
func (o *ConstBool) fmtString() string {
	if o.V {
		return "true"
	}
	return "false"
}

// Instructions
type AllocInt struct {
	Dst string
	V   int64
}

func (*AllocInt) instrNode() {}
func (i *AllocInt) fmtString() string {
	return fmt.Sprintf("%%%s = alloc_int %d", i.Dst, i.V)
}

type AllocBool struct {
	Dst string
	V   bool
}

func (*AllocBool) instrNode() {}
func (i *AllocBool) fmtString() string {
	return fmt.Sprintf("%%%s = alloc_bool %v", i.Dst, i.V)
}

type AllocTuple struct {
	Dst   string
	Elems []Operand
}

func (*AllocTuple) instrNode() {}
func (i *AllocTuple) fmtString() string {
	return fmt.Sprintf("%%%s = alloc_tuple(%s)", i.Dst, operandList(i.Elems))
}

type Project struct {
	Dst   string
	Tuple Operand
	Index int
}

func (*Project) instrNode() {}
func (i *Project) fmtString() string {
	return fmt.Sprintf("%%%s = project %s %d", i.Dst, i.Tuple.fmtString(), i.Index)
}

// AllocClosure allocates a closure over Target. The callee block's parameters
// are the captured variables, then the self binding, then the call argument.
type AllocClosure struct {
	Dst      string
	Target   BlockID
	Captured []Operand
}

func (*AllocClosure) instrNode() {}
func (i *AllocClosure) fmtString() string {
	return fmt.Sprintf("%%%s = alloc_closure b%d [%s]", i.Dst, i.Target, operandList(i.Captured))
}

type ArithOp string

const (
	OpAdd ArithOp = "add"
	OpSub ArithOp = "sub"
	OpMul ArithOp = "mul"
)

type Arith struct {
	Dst string
	Op  ArithOp
	A   Operand
	B   Operand
}

func (*Arith) instrNode() {}
func (i *Arith) fmtString() string {
	return fmt.Sprintf("%%%s = %s %s %s", i.Dst, string(i.Op), i.A.fmtString(), i.B.fmtString())
}

type CmpOp string

const (
	CmpEq CmpOp = "cmp_eq"
	CmpNe CmpOp = "cmp_ne"
	CmpLt CmpOp = "cmp_lt"
	CmpLe CmpOp = "cmp_le"
	CmpGt CmpOp = "cmp_gt"
	CmpGe CmpOp = "cmp_ge"
)

type Cmp struct {
	Dst string
	Op  CmpOp
	A   Operand
	B   Operand
}

func (*Cmp) instrNode() {}
func (i *Cmp) fmtString() string {
	return fmt.Sprintf("%%%s = %s %s %s", i.Dst, string(i.Op), i.A.fmtString(), i.B.fmtString())
}

type Retain struct {
	Val Operand
}

func (*Retain) instrNode() {}
func (i *Retain) fmtString() string {
	return fmt.Sprintf("retain %s", i.Val.fmtString())
}

type Release struct {
	Val Operand
}

func (*Release) instrNode() {}
func (i *Release) fmtString() string {
	return fmt.Sprintf("release %s", i.Val.fmtString())
}

// Terminators
type Ret struct {
	Val Operand
}

func (*Ret) termNode() {}
func (t *Ret) fmtString() string {
	return fmt.Sprintf("ret %s", t.Val.fmtString())
}

// Br transfers to Then or Else depending on Cond. Both targets share one
// parameter list and receive Args; the condition reference is consumed.
type Br struct {
	Cond Operand
	Then BlockID
	Else BlockID
	Args []Operand
}

func (*Br) termNode() {}
func (t *Br) fmtString() string {
	return fmt.Sprintf("br %s b%d b%d (%s)", t.Cond.fmtString(), t.Then, t.Else, operandList(t.Args))
}

// Jmp is the convergence edge: it binds Target's parameters to Args. Branch
// arms use it to pass their result to the shared continuation block.
type Jmp struct {
	Target BlockID
	Args   []Operand
}

func (*Jmp) termNode() {}
func (t *Jmp) fmtString() string {
	return fmt.Sprintf("jmp b%d (%s)", t.Target, operandList(t.Args))
}

// Call is a non-tail call: a frame saving Cont and the Saved values is
// pushed, and Cont's parameters are later bound to Saved followed by the
// returned value.
type Call struct {
	Fn    Operand
	Args  []Operand
	Cont  BlockID
	Saved []Operand
}

func (*Call) termNode() {}
func (t *Call) fmtString() string {
	return fmt.Sprintf("call %s (%s) -> b%d [%s]", t.Fn.fmtString(), operandList(t.Args), t.Cont, operandList(t.Saved))
}

type TailCall struct {
	Fn   Operand
	Args []Operand
}

func (*TailCall) termNode() {}
func (t *TailCall) fmtString() string {
	return fmt.Sprintf("tailcall %s (%s)", t.Fn.fmtString(), operandList(t.Args))
}

// FormatInstr and FormatTerm render one instruction or terminator the way
// Program.Format does, for encoders and debuggers that emit them separately.
func FormatInstr(i Instr) string { return i.fmtString() }
func FormatTerm(t Term) string   { return t.fmtString() }

func operandList(ops []Operand) string {
	var sb strings.Builder
	for i, o := range ops {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(o.fmtString())
	}
	return sb.String()
}

// Format renders the program as text for debugging and tests.
func (p *Program) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "program entry=b%d\n", p.Entry)
	for _, b := range p.Blocks {
		fmt.Fprintf(&sb, "block b%d %s(", b.ID, b.Name)
		for i, pr := range b.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("%" + pr)
		}
		sb.WriteString("):\n")
		for _, ins := range b.Instrs {
			sb.WriteString("  ")
			sb.WriteString(ins.fmtString())
			sb.WriteByte('\n')
		}
		if b.Term != nil {
			sb.WriteString("  ")
			sb.WriteString(b.Term.fmtString())
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
