// Package heap implements the reference-counted runtime object model. Every
// object carries a strong-reference count; the count hitting zero frees the
// object immediately and releases every reference it owns. The language has
// no mutation, so the object graph is acyclic and plain counting is enough.
package heap

import (
	"fmt"
	"strings"

	"lamina/internal/ir"
)

type Addr uint32

type Tag int

const (
	Int Tag = iota
	Bool
	Tuple
	Closure
)

func (t Tag) String() string {
	switch t {
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Tuple:
		return "tuple"
	case Closure:
		return "closure"
	}
	return "<bad tag>"
}

type Object struct {
	Tag    Tag
	Int    int64
	Bool   bool
	Elems  []Addr     // Tuple: owned element references
	Target ir.BlockID // Closure target block
	Env    []Addr     // Closure: owned captured references

	refs int
}

// Refs reports the object's current reference count.
func (o *Object) Refs() int { return o.refs }

// Heap maps addresses to live objects. Addresses are abstract; mapping them
// onto a native allocator is a backend concern.
type Heap struct {
	mem    map[Addr]*Object
	next   Addr
	allocs int
	frees  int
}

// New returns an empty heap. Address 0 is never issued, so the zero Addr is
// safe to use as a not-a-value sentinel.
func New() *Heap {
	return &Heap{mem: map[Addr]*Object{}, next: 1}
}

func (h *Heap) alloc(o *Object) Addr {
	a := h.next
	h.next++
	o.refs = 1
	h.mem[a] = o
	h.allocs++
	return a
}

func (h *Heap) AllocInt(v int64) Addr {
	return h.alloc(&Object{Tag: Int, Int: v})
}

func (h *Heap) AllocBool(v bool) Addr {
	return h.alloc(&Object{Tag: Bool, Bool: v})
}

// AllocTuple takes ownership of one reference per element; callers retain
// beforehand if they keep their own.
func (h *Heap) AllocTuple(elems []Addr) Addr {
	return h.alloc(&Object{Tag: Tuple, Elems: elems})
}

// AllocClosure takes ownership of one reference per captured value.
func (h *Heap) AllocClosure(target ir.BlockID, env []Addr) Addr {
	return h.alloc(&Object{Tag: Closure, Target: target, Env: env})
}

func (h *Heap) Get(a Addr) (*Object, error) {
	o, ok := h.mem[a]
	if !ok {
		return nil, fmt.Errorf("heap: invalid address %d", a)
	}
	return o, nil
}

func (h *Heap) Retain(a Addr) error {
	o, err := h.Get(a)
	if err != nil {
		return err
	}
	o.refs++
	return nil
}

// Release drops one reference. Objects whose count reaches zero are freed at
// once; the cascade over owned references runs on an explicit worklist so
// deeply nested structures do not recurse.
func (h *Heap) Release(a Addr) error {
	work := []Addr{a}
	for len(work) > 0 {
		a := work[len(work)-1]
		work = work[:len(work)-1]
		o, ok := h.mem[a]
		if !ok {
			return fmt.Errorf("heap: release of invalid address %d", a)
		}
		o.refs--
		if o.refs > 0 {
			continue
		}
		if o.refs < 0 {
			return fmt.Errorf("heap: over-release of address %d", a)
		}
		delete(h.mem, a)
		h.frees++
		work = append(work, o.Elems...)
		work = append(work, o.Env...)
	}
	return nil
}

// Live is the number of objects not yet freed.
func (h *Heap) Live() int { return len(h.mem) }

func (h *Heap) Allocs() int { return h.allocs }
func (h *Heap) Frees() int  { return h.frees }

// Format renders the value at a for display.
func (h *Heap) Format(a Addr) string {
	o, ok := h.mem[a]
	if !ok {
		return fmt.Sprintf("<dangling %d>", a)
	}
	switch o.Tag {
	case Int:
		return fmt.Sprintf("%d", o.Int)
	case Bool:
		if o.Bool {
			return "true"
		}
		return "false"
	case Tuple:
		var sb strings.Builder
		sb.WriteByte('(')
		for i, e := range o.Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(h.Format(e))
		}
		sb.WriteByte(')')
		return sb.String()
	case Closure:
		return fmt.Sprintf("<closure b%d>", o.Target)
	}
	return "<bad object>"
}
