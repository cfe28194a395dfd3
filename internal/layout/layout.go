// Package layout assigns every block-local variable a frame slot. Slots are
// reused greedily once a variable's live range ends, so a block's frame is
// usually much smaller than its variable count. The pass is per-block: blocks
// only communicate through parameter passing, so no cross-block liveness is
// needed.
package layout

import (
	"fmt"

	"lamina/internal/ir"
)

// BlockLayout maps one block's variables to slots. Parameters occupy slots
// 0..len(Params)-1 in order; temporaries fill in behind them, reusing slots
// whose occupant is dead.
type BlockLayout struct {
	Slots     map[string]int
	FrameSize int
}

// Layout holds the slot assignment for every block of a program.
type Layout struct {
	Blocks map[ir.BlockID]*BlockLayout
}

// Compute lays out every block. The result is deterministic: it depends only
// on the program, so running it twice yields identical assignments.
func Compute(p *ir.Program) (*Layout, error) {
	l := &Layout{Blocks: make(map[ir.BlockID]*BlockLayout, len(p.Blocks))}
	for _, b := range p.Blocks {
		bl, err := computeBlock(b)
		if err != nil {
			return nil, err
		}
		l.Blocks[b.ID] = bl
	}
	return l, nil
}

// interval is a variable's live range in instruction positions. Position i is
// instruction i; position len(Instrs) is the terminator. A parameter is live
// from position 0 (before any instruction runs), a temporary from its
// defining instruction.
type interval struct {
	name    string
	def     int
	lastUse int
}

func computeBlock(b *ir.Block) (*BlockLayout, error) {
	term := len(b.Instrs)

	// Collect intervals in definition order: parameters first, then each
	// instruction's result.
	order := make([]*interval, 0, len(b.Params)+len(b.Instrs))
	byName := make(map[string]*interval, cap(order))
	add := func(name string, def int) error {
		if _, dup := byName[name]; dup {
			return fmt.Errorf("b%d: %%%s defined twice", b.ID, name)
		}
		iv := &interval{name: name, def: def, lastUse: def}
		order = append(order, iv)
		byName[name] = iv
		return nil
	}
	for _, p := range b.Params {
		if err := add(p, 0); err != nil {
			return nil, err
		}
	}
	use := func(ops []ir.Operand, pos int) error {
		for _, op := range ops {
			ref, ok := op.(*ir.VarRef)
			if !ok {
				continue
			}
			iv, ok := byName[ref.Name]
			if !ok {
				return fmt.Errorf("b%d: %%%s used before definition", b.ID, ref.Name)
			}
			if pos > iv.lastUse {
				iv.lastUse = pos
			}
		}
		return nil
	}
	for i, instr := range b.Instrs {
		if err := use(ir.Uses(instr), i); err != nil {
			return nil, err
		}
		if d, ok := ir.Def(instr); ok {
			if err := add(d, i); err != nil {
				return nil, err
			}
		}
	}
	if err := use(ir.TermUses(b.Term), term); err != nil {
		return nil, err
	}

	// Greedy scan in definition order. Parameters are pinned so callers can
	// bind them without consulting the layout; temporaries take the lowest
	// free slot, where free means every previous occupant's range has ended
	// before this definition.
	bl := &BlockLayout{Slots: make(map[string]int, len(order))}
	slotEnd := make([]int, 0, len(order))
	for i, p := range b.Params {
		bl.Slots[p] = i
		slotEnd = append(slotEnd, byName[p].lastUse)
	}
	for _, iv := range order[len(b.Params):] {
		slot := -1
		for s := len(b.Params); s < len(slotEnd); s++ {
			if slotEnd[s] < iv.def {
				slot = s
				break
			}
		}
		if slot < 0 {
			slot = len(slotEnd)
			slotEnd = append(slotEnd, 0)
		}
		bl.Slots[iv.name] = slot
		slotEnd[slot] = iv.lastUse
	}
	bl.FrameSize = len(slotEnd)
	return bl, nil
}
