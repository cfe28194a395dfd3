package lower

import (
	"errors"
	"testing"

	"lamina/internal/ir"
	"lamina/internal/term"
)

func lit(v int64) term.Term  { return &term.IntLit{Value: v} }
func ref(n string) term.Term { return &term.Var{Name: n} }
func bin(op term.Op, l, r term.Term) term.Term {
	return &term.BinOp{Op: op, L: l, R: r}
}

func sumTerm() term.Term {
	return &term.Let{
		Name:  "x",
		Bound: lit(3),
		Body: &term.Let{
			Name:  "y",
			Bound: lit(4),
			Body:  bin(term.OpAdd, ref("x"), ref("y")),
		},
	}
}

func fixtures() []term.Term {
	return []term.Term{
		lit(1),
		&term.BoolLit{Value: true},
		sumTerm(),
		&term.If{Cond: &term.BoolLit{Value: false}, Then: lit(1), Else: lit(2)},
		bin(term.OpAdd, lit(1), &term.If{Cond: &term.BoolLit{Value: true}, Then: lit(1), Else: lit(2)}),
		&term.Let{
			Name:  "p",
			Bound: &term.Tuple{Elems: []term.Term{lit(1), lit(2)}},
			Body:  &term.Proj{Tuple: ref("p"), Index: 0},
		},
		&term.App{
			Fn:  &term.Lambda{Param: "x", Body: bin(term.OpAdd, ref("x"), lit(1))},
			Arg: lit(41),
		},
		&term.Let{
			Name: "f",
			Bound: &term.Lambda{
				Self:  "f",
				Param: "n",
				Body: &term.If{
					Cond: bin(term.OpLt, ref("n"), lit(2)),
					Then: ref("n"),
					Else: &term.App{Fn: ref("f"), Arg: bin(term.OpSub, ref("n"), lit(1))},
				},
			},
			Body: &term.App{Fn: ref("f"), Arg: lit(5)},
		},
		&term.Let{
			Name: "make",
			Bound: &term.Lambda{
				Param: "x",
				Body:  &term.Lambda{Param: "y", Body: bin(term.OpAdd, ref("x"), ref("y"))},
			},
			Body: &term.App{Fn: &term.App{Fn: ref("make"), Arg: lit(3)}, Arg: lit(4)},
		},
	}
}

func TestLoweredProgramsValidate(t *testing.T) {
	for _, tm := range fixtures() {
		p, err := Lower(tm)
		if err != nil {
			t.Fatalf("lowering %T failed: %v", tm, err)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("lowered program invalid: %v\n%s", err, p.Format())
		}
	}
}

func TestSumLowersToSingleBlock(t *testing.T) {
	p, err := Lower(sumTerm())
	if err != nil {
		t.Fatalf("lowering failed: %v", err)
	}
	want := `program entry=b0
block b0 entry():
  %t1 = alloc_int 3
  %t2 = alloc_int 4
  %t3 = add %t1 %t2
  release %t1
  release %t2
  ret %t3
`
	if got := p.Format(); got != want {
		t.Fatalf("expected:\n%s\ngot:\n%s", want, got)
	}
}

func TestLoweringIsDeterministic(t *testing.T) {
	for _, tm := range fixtures() {
		first, err := Lower(tm)
		if err != nil {
			t.Fatalf("lowering failed: %v", err)
		}
		second, err := Lower(tm)
		if err != nil {
			t.Fatalf("lowering failed: %v", err)
		}
		if first.Format() != second.Format() {
			t.Fatalf("two lowerings of %T disagree:\n%s\n%s", tm, first.Format(), second.Format())
		}
	}
}

func TestUnboundVariable(t *testing.T) {
	_, err := Lower(ref("ghost"))
	var ue *UnboundError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unbound error, got %v", err)
	}
	if ue.Name != "ghost" {
		t.Fatalf("expected ghost, got %q", ue.Name)
	}
}

func TestUnboundVariableInsideLambda(t *testing.T) {
	tm := &term.Lambda{Param: "x", Body: ref("ghost")}
	var ue *UnboundError
	if _, err := Lower(tm); !errors.As(err, &ue) {
		t.Fatalf("expected unbound error, got %v", err)
	}
}

func TestLambdaBodyParamsAreCapturesSelfArg(t *testing.T) {
	// fun x -> fun y -> x + y : the inner body captures x, so its block takes
	// the capture, the self binding, and the argument.
	tm := &term.Lambda{
		Param: "x",
		Body:  &term.Lambda{Param: "y", Body: bin(term.OpAdd, ref("x"), ref("y"))},
	}
	p, err := Lower(tm)
	if err != nil {
		t.Fatalf("lowering failed: %v", err)
	}
	var inner *ir.Block
	for _, b := range p.Blocks {
		if b.Name == "lambda" && len(b.Params) == 3 {
			inner = b
		}
	}
	if inner == nil {
		t.Fatalf("no 3-parameter lambda block found:\n%s", p.Format())
	}
	var outer *ir.Block
	for _, b := range p.Blocks {
		if b.Name == "lambda" && len(b.Params) == 2 {
			outer = b
		}
	}
	if outer == nil {
		t.Fatalf("no 2-parameter lambda block found:\n%s", p.Format())
	}
	// The outer body allocates the inner closure over exactly one capture.
	found := false
	for _, ins := range outer.Instrs {
		if ac, ok := ins.(*ir.AllocClosure); ok {
			if ac.Target != inner.ID {
				t.Fatalf("closure targets b%d, expected b%d", ac.Target, inner.ID)
			}
			if len(ac.Captured) != 1 {
				t.Fatalf("expected 1 capture, got %d", len(ac.Captured))
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("outer body allocates no closure:\n%s", p.Format())
	}
}

// TestOwnershipBalancedPerBlock replays each block's reference accounting:
// parameters and results add one owned reference, retain and release adjust
// it, tuple and closure allocation consume the references retained for their
// operands, and the terminator consumes every variable occurrence it reads.
// Afterwards nothing may remain owned and no count may ever go negative.
func TestOwnershipBalancedPerBlock(t *testing.T) {
	for _, tm := range fixtures() {
		p, err := Lower(tm)
		if err != nil {
			t.Fatalf("lowering failed: %v", err)
		}
		for _, b := range p.Blocks {
			owned := map[string]int{}
			consume := func(ops []ir.Operand) {
				for _, op := range ops {
					if v, ok := op.(*ir.VarRef); ok {
						owned[v.Name]--
						if owned[v.Name] < 0 {
							t.Fatalf("b%d consumes %%%s beyond what it owns:\n%s", b.ID, v.Name, p.Format())
						}
					}
				}
			}
			for _, prm := range b.Params {
				owned[prm]++
			}
			for _, ins := range b.Instrs {
				switch ins := ins.(type) {
				case *ir.Retain:
					owned[ins.Val.(*ir.VarRef).Name]++
				case *ir.Release:
					consume([]ir.Operand{ins.Val})
				case *ir.AllocTuple:
					consume(ins.Elems)
				case *ir.AllocClosure:
					consume(ins.Captured)
				}
				if d, ok := ir.Def(ins); ok {
					owned[d]++
				}
			}
			consume(ir.TermUses(b.Term))
			for n, c := range owned {
				if c != 0 {
					t.Fatalf("b%d leaves %%%s with %d owned reference(s):\n%s", b.ID, n, c, p.Format())
				}
			}
		}
	}
}
