package main

import "lamina/internal/term"

// example is a named built-in program. build takes the program's input; n is
// preset to def for programs that ignore it.
type example struct {
	name  string
	note  string
	def   int64
	build func(n int64) term.Term
}

func intLit(v int64) term.Term { return &term.IntLit{Value: v} }
func ref(n string) term.Term   { return &term.Var{Name: n} }
func app(f, a term.Term) term.Term {
	return &term.App{Fn: f, Arg: a}
}

// examples returns the built-in programs in listing order.
func examples() []example {
	return []example{
		{
			name: "sum",
			note: "two lets and an addition",
			build: func(int64) term.Term {
				return &term.Let{
					Name:  "x",
					Bound: intLit(3),
					Body: &term.Let{
						Name:  "y",
						Bound: intLit(4),
						Body:  &term.BinOp{Op: term.OpAdd, L: ref("x"), R: ref("y")},
					},
				}
			},
		},
		{
			name: "fib",
			note: "naive recursive fibonacci of n (default 20)",
			def:  20,
			build: func(n int64) term.Term {
				return &term.Let{
					Name: "fib",
					Bound: &term.Lambda{
						Self:  "fib",
						Param: "n",
						Body: &term.If{
							Cond: &term.BinOp{Op: term.OpLt, L: ref("n"), R: intLit(2)},
							Then: ref("n"),
							Else: &term.BinOp{
								Op: term.OpAdd,
								L:  app(ref("fib"), &term.BinOp{Op: term.OpSub, L: ref("n"), R: intLit(1)}),
								R:  app(ref("fib"), &term.BinOp{Op: term.OpSub, L: ref("n"), R: intLit(2)}),
							},
						},
					},
					Body: app(ref("fib"), intLit(n)),
				}
			},
		},
		{
			name: "countdown",
			note: "tail-recursive loop from n (default 100000), constant stack depth",
			def:  100000,
			build: func(n int64) term.Term {
				return &term.Let{
					Name: "loop",
					Bound: &term.Lambda{
						Self:  "loop",
						Param: "n",
						Body: &term.If{
							Cond: &term.BinOp{Op: term.OpEq, L: ref("n"), R: intLit(0)},
							Then: intLit(0),
							Else: app(ref("loop"), &term.BinOp{Op: term.OpSub, L: ref("n"), R: intLit(1)}),
						},
					},
					Body: app(ref("loop"), intLit(n)),
				}
			},
		},
		{
			name: "pair",
			note: "nested tuple construction and projection",
			build: func(int64) term.Term {
				return &term.Let{
					Name: "p",
					Bound: &term.Tuple{Elems: []term.Term{
						intLit(1),
						&term.Tuple{Elems: []term.Term{intLit(2), &term.BoolLit{Value: true}}},
					}},
					Body: &term.Proj{
						Tuple: &term.Proj{Tuple: ref("p"), Index: 1},
						Index: 0,
					},
				}
			},
		},
		{
			name: "capture",
			note: "a closure capturing a let binding that outlives its frame",
			build: func(int64) term.Term {
				return &term.Let{
					Name: "make",
					Bound: &term.Lambda{
						Param: "x",
						Body: &term.Lambda{
							Param: "y",
							Body:  &term.BinOp{Op: term.OpAdd, L: ref("x"), R: ref("y")},
						},
					},
					Body: &term.Let{
						Name:  "add3",
						Bound: app(ref("make"), intLit(3)),
						Body:  app(ref("add3"), intLit(4)),
					},
				}
			},
		},
	}
}

func findExample(name string) (example, bool) {
	for _, e := range examples() {
		if e.name == name {
			return e, true
		}
	}
	return example{}, false
}
