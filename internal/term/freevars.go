package term

import "sort"

// Free returns the free variables of t in sorted order. Lowering uses it to
// decide what a lambda captures; a closed term has no free variables.
func Free(t Term) []string {
	s := &freeScan{bound: map[string]int{}, free: map[string]bool{}}
	s.walk(t)
	out := make([]string, 0, len(s.free))
	for name := range s.free {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type freeScan struct {
	bound map[string]int
	free  map[string]bool
}

func (s *freeScan) bind(name string) {
	if name != "" {
		s.bound[name]++
	}
}

func (s *freeScan) unbind(name string) {
	if name != "" {
		s.bound[name]--
	}
}

func (s *freeScan) walk(t Term) {
	switch t := t.(type) {
	case *Var:
		if s.bound[t.Name] == 0 {
			s.free[t.Name] = true
		}
	case *IntLit, *BoolLit:
	case *Lambda:
		s.bind(t.Self)
		s.bind(t.Param)
		s.walk(t.Body)
		s.unbind(t.Param)
		s.unbind(t.Self)
	case *App:
		s.walk(t.Fn)
		s.walk(t.Arg)
	case *Let:
		// The bound name does not scope over its own definition.
		s.walk(t.Bound)
		s.bind(t.Name)
		s.walk(t.Body)
		s.unbind(t.Name)
	case *Tuple:
		for _, e := range t.Elems {
			s.walk(e)
		}
	case *Proj:
		s.walk(t.Tuple)
	case *If:
		s.walk(t.Cond)
		s.walk(t.Then)
		s.walk(t.Else)
	case *BinOp:
		s.walk(t.L)
		s.walk(t.R)
	}
}
