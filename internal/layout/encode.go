package layout

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"lamina/internal/ir"
)

// blockDoc is the serialized form of one laid-out block.
type blockDoc struct {
	ID         int            `yaml:"id"`
	Name       string         `yaml:"name"`
	Params     []string       `yaml:"params,omitempty"`
	Instrs     []string       `yaml:"instrs,omitempty"`
	Terminator string         `yaml:"terminator"`
	Slots      map[string]int `yaml:"slots,omitempty"`
	FrameSize  int            `yaml:"frame_size"`
}

type programDoc struct {
	Entry  int        `yaml:"entry"`
	Blocks []blockDoc `yaml:"blocks"`
}

// WriteYAML emits the program together with its slot assignment as a YAML
// document, one record per block in block order.
func WriteYAML(w io.Writer, p *ir.Program, l *Layout) error {
	doc := programDoc{Entry: int(p.Entry), Blocks: make([]blockDoc, 0, len(p.Blocks))}
	for _, b := range p.Blocks {
		bl, ok := l.Blocks[b.ID]
		if !ok {
			return fmt.Errorf("no layout for block b%d", b.ID)
		}
		bd := blockDoc{
			ID:        int(b.ID),
			Name:      b.Name,
			Params:    b.Params,
			Slots:     bl.Slots,
			FrameSize: bl.FrameSize,
		}
		for _, ins := range b.Instrs {
			bd.Instrs = append(bd.Instrs, ir.FormatInstr(ins))
		}
		bd.Terminator = ir.FormatTerm(b.Term)
		doc.Blocks = append(doc.Blocks, bd)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	return enc.Close()
}

// FormatBlock renders one block's slot table as text, sorted by slot then
// name, for the debugger's locals view.
func (bl *BlockLayout) FormatBlock() string {
	type entry struct {
		name string
		slot int
	}
	entries := make([]entry, 0, len(bl.Slots))
	for n, s := range bl.Slots {
		entries = append(entries, entry{n, s})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].slot != entries[j].slot {
			return entries[i].slot < entries[j].slot
		}
		return entries[i].name < entries[j].name
	})
	out := fmt.Sprintf("frame size %d\n", bl.FrameSize)
	for _, e := range entries {
		out += fmt.Sprintf("  slot %d: %%%s\n", e.slot, e.name)
	}
	return out
}
