package term

// Term is the source-level abstract syntax. It is produced by an external
// frontend; the pipeline only requires that the tree is closed.
type Term interface {
	termNode()
}

type Var struct {
	Name string
}

func (*Var) termNode() {}

type IntLit struct {
	Value int64
}

func (*IntLit) termNode() {}

type BoolLit struct {
	Value bool
}

func (*BoolLit) termNode() {}

// Lambda is a single-parameter function literal. Self is optional: when
// non-empty it is bound to the closure itself on every call, which is how a
// function refers to itself recursively.
type Lambda struct {
	Self  string
	Param string
	Body  Term
}

func (*Lambda) termNode() {}

type App struct {
	Fn  Term
	Arg Term
}

func (*App) termNode() {}

type Let struct {
	Name  string
	Bound Term
	Body  Term
}

func (*Let) termNode() {}

type Tuple struct {
	Elems []Term
}

func (*Tuple) termNode() {}

type Proj struct {
	Tuple Term
	Index int
}

func (*Proj) termNode() {}

type If struct {
	Cond Term
	Then Term
	Else Term
}

func (*If) termNode() {}

type Op string

const (
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLe  Op = "le"
	OpGt  Op = "gt"
	OpGe  Op = "ge"
)

// IsCompare reports whether the operator produces a boolean.
func (o Op) IsCompare() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

type BinOp struct {
	Op Op
	L  Term
	R  Term
}

func (*BinOp) termNode() {}
