package ir

import (
	"testing"
)

func TestFmtStringOperands(t *testing.T) {
	cases := []struct {
		name string
		o    Operand
		want string
	}{
		{name: "var", o: &VarRef{Name: "t3"}, want: "%t3"},
		{name: "named_var", o: &VarRef{Name: "x.1"}, want: "%x.1"},
		{name: "int", o: &ConstInt{V: 7}, want: "7"},
		{name: "negative_int", o: &ConstInt{V: -2}, want: "-2"},
		{name: "bool_true", o: &ConstBool{V: true}, want: "true"},
		{name: "bool_false", o: &ConstBool{V: false}, want: "false"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.o.fmtString(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFmtStringInstructions(t *testing.T) {
	cases := []struct {
		name string
		i    Instr
		want string
	}{
		{name: "alloc_int", i: &AllocInt{Dst: "t0", V: 42}, want: "%t0 = alloc_int 42"},
		{name: "alloc_tuple", i: &AllocTuple{Dst: "t1", Elems: []Operand{&VarRef{Name: "a"}, &ConstInt{V: 2}}}, want: "%t1 = alloc_tuple(%a, 2)"},
		{name: "project", i: &Project{Dst: "t2", Tuple: &VarRef{Name: "p"}, Index: 1}, want: "%t2 = project %p 1"},
		{name: "closure", i: &AllocClosure{Dst: "t3", Target: 2, Captured: []Operand{&VarRef{Name: "x"}}}, want: "%t3 = alloc_closure b2 [%x]"},
		{name: "cmp", i: &Cmp{Dst: "t4", Op: CmpLt, A: &VarRef{Name: "n"}, B: &ConstInt{V: 2}}, want: "%t4 = cmp_lt %n 2"},
		{name: "retain", i: &Retain{Val: &VarRef{Name: "x"}}, want: "retain %x"},
		{name: "release", i: &Release{Val: &VarRef{Name: "x"}}, want: "release %x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.i.fmtString(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFmtStringTerminators(t *testing.T) {
	cases := []struct {
		name string
		term Term
		want string
	}{
		{name: "ret", term: &Ret{Val: &VarRef{Name: "t0"}}, want: "ret %t0"},
		{name: "br", term: &Br{Cond: &VarRef{Name: "c"}, Then: 1, Else: 2, Args: []Operand{&VarRef{Name: "x"}}}, want: "br %c b1 b2 (%x)"},
		{name: "jmp", term: &Jmp{Target: 3, Args: []Operand{&VarRef{Name: "x"}, &VarRef{Name: "v"}}}, want: "jmp b3 (%x, %v)"},
		{name: "call", term: &Call{Fn: &VarRef{Name: "f"}, Args: []Operand{&VarRef{Name: "a"}}, Cont: 4, Saved: []Operand{&VarRef{Name: "x"}}}, want: "call %f (%a) -> b4 [%x]"},
		{name: "tailcall", term: &TailCall{Fn: &VarRef{Name: "f"}, Args: []Operand{&VarRef{Name: "a"}}}, want: "tailcall %f (%a)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.term.fmtString(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
