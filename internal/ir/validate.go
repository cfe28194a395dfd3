package ir

import "fmt"

// Validate checks the structural invariants the rest of the pipeline relies
// on: every block ends in exactly one terminator, every variable read is a
// parameter or the result of a strictly earlier instruction in the same
// block, and every edge supplies one argument per target parameter.
func (p *Program) Validate() error {
	if p.Block(p.Entry) == nil {
		return fmt.Errorf("entry b%d out of range", p.Entry)
	}
	for i, b := range p.Blocks {
		if b.ID != BlockID(i) {
			return fmt.Errorf("block at index %d has id b%d", i, b.ID)
		}
		if b.Term == nil {
			return fmt.Errorf("b%d %s: missing terminator", b.ID, b.Name)
		}
		defined := map[string]bool{}
		for _, prm := range b.Params {
			if defined[prm] {
				return fmt.Errorf("b%d %s: duplicate parameter %q", b.ID, b.Name, prm)
			}
			defined[prm] = true
		}
		for j, ins := range b.Instrs {
			for _, u := range Uses(ins) {
				if v, ok := u.(*VarRef); ok && !defined[v.Name] {
					return fmt.Errorf("b%d %s: instruction %d reads undefined %%%s", b.ID, b.Name, j, v.Name)
				}
			}
			if dst, ok := Def(ins); ok {
				if defined[dst] {
					return fmt.Errorf("b%d %s: %%%s redefined", b.ID, b.Name, dst)
				}
				defined[dst] = true
			}
		}
		for _, u := range TermUses(b.Term) {
			if v, ok := u.(*VarRef); ok && !defined[v.Name] {
				return fmt.Errorf("b%d %s: terminator reads undefined %%%s", b.ID, b.Name, v.Name)
			}
		}
		for _, e := range Edges(b.Term) {
			tgt := p.Block(e.Target)
			if tgt == nil {
				return fmt.Errorf("b%d %s: edge to unknown block b%d", b.ID, b.Name, e.Target)
			}
			if len(tgt.Params) != e.NArgs {
				return fmt.Errorf("b%d %s: edge to b%d passes %d values for %d parameters",
					b.ID, b.Name, e.Target, e.NArgs, len(tgt.Params))
			}
		}
	}
	return nil
}
