package graph

import (
	"fmt"
	"slices"
)

// Program owns every class for the duration of a compilation. All
// structural mutation (class removal, member moves) goes through it, so
// every pass sees one consistent view. The zero value is unusable; use
// NewProgram.
type Program struct {
	classes map[Type]*Class
	order   []Type
}

// NewProgram builds a program from the given classes. Iteration order is
// the deterministic sorted order of class names, independent of input
// order.
func NewProgram(classes []*Class) (*Program, error) {
	p := &Program{classes: make(map[Type]*Class, len(classes))}
	for _, c := range classes {
		if _, dup := p.classes[c.Type]; dup {
			return nil, fmt.Errorf("duplicate class definition %q", c.Type)
		}
		p.classes[c.Type] = c
		p.order = append(p.order, c.Type)
	}
	slices.Sort(p.order)
	return p, nil
}

// Class looks up a class by type, or nil if the type is not a program
// class (library types are outside the closed world we rewrite).
func (p *Program) Class(t Type) *Class {
	return p.classes[t]
}

// ClassesWithDeterministicOrder iterates all live classes sorted by name.
func (p *Program) ClassesWithDeterministicOrder() []*Class {
	out := make([]*Class, 0, len(p.order))
	for _, t := range p.order {
		if c, ok := p.classes[t]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Size reports the number of live classes.
func (p *Program) Size() int { return len(p.classes) }

// RemoveClass deletes a merged-away class from the program. Removing a
// class that still has members is an internal error.
func (p *Program) RemoveClass(t Type) error {
	c, ok := p.classes[t]
	if !ok {
		return fmt.Errorf("removing unknown class %q", t)
	}
	if c.HasMembers() {
		return fmt.Errorf("removing class %q that still has members", t)
	}
	delete(p.classes, t)
	p.order = slices.DeleteFunc(p.order, func(o Type) bool { return o == t })
	return nil
}

// Subtypes returns the program classes whose direct super type or
// implemented interface is t, in deterministic order.
func (p *Program) Subtypes(t Type) []*Class {
	var subs []*Class
	for _, c := range p.ClassesWithDeterministicOrder() {
		if c.Super == t || slices.Contains(c.Interfaces, t) {
			subs = append(subs, c)
		}
	}
	return subs
}

// IsSubtypeOf walks the super/interface edges from sub looking for super.
// Only program classes are traversed; edges into library types end the walk.
func (p *Program) IsSubtypeOf(sub, super Type) bool {
	if sub == super {
		return true
	}
	c := p.classes[sub]
	if c == nil {
		return false
	}
	if c.Super != "" && p.IsSubtypeOf(c.Super, super) {
		return true
	}
	for _, itf := range c.Interfaces {
		if p.IsSubtypeOf(itf, super) {
			return true
		}
	}
	return false
}

// Validate checks closed-world invariants and returns a fatal
// compilation error on the first violation: a declared super type must
// resolve within the program or be an explicitly-external name, a super
// edge must never point at an interface, an interface edge must never
// point at a class, and the super/interface graph must be acyclic.
func (p *Program) Validate(external func(Type) bool) error {
	for _, c := range p.ClassesWithDeterministicOrder() {
		for _, itf := range c.Interfaces {
			if ic := p.classes[itf]; ic != nil && !ic.IsInterface() {
				return fmt.Errorf("class %q implements non-interface %q", c.Type, itf)
			}
		}
		if c.Super == "" {
			continue
		}
		sup := p.classes[c.Super]
		if sup == nil {
			if external != nil && external(c.Super) {
				continue
			}
			return fmt.Errorf("class %q extends %q which is absent from the program", c.Type, c.Super)
		}
		if sup.IsInterface() {
			return fmt.Errorf("class %q extends interface %q", c.Type, c.Super)
		}
	}
	return p.checkAcyclicHierarchy()
}

// checkAcyclicHierarchy rejects programs whose super/interface edges form
// a cycle; every super-chain walk in the pipeline relies on termination.
func (p *Program) checkAcyclicHierarchy() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[Type]int, len(p.classes))
	var visit func(t Type) error
	visit = func(t Type) error {
		c := p.classes[t]
		if c == nil {
			return nil
		}
		switch state[t] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("class hierarchy cycle through %q", t)
		}
		state[t] = visiting
		if c.Super != "" {
			if err := visit(c.Super); err != nil {
				return err
			}
		}
		for _, itf := range c.Interfaces {
			if err := visit(itf); err != nil {
				return err
			}
		}
		state[t] = done
		return nil
	}
	for _, c := range p.ClassesWithDeterministicOrder() {
		if err := visit(c.Type); err != nil {
			return err
		}
	}
	return nil
}

// ResolveMethod resolves a method reference against the class hierarchy:
// the holder's own tables first, then super classes. Returns the class
// actually declaring the method, or nil.
func (p *Program) ResolveMethod(ref MethodRef) (*Class, *Method) {
	for t := ref.Holder; t != ""; {
		c := p.classes[t]
		if c == nil {
			return nil, nil
		}
		if m := c.LookupVirtualMethod(ref.Name, ref.Proto); m != nil {
			return c, m
		}
		if m := c.LookupDirectMethod(ref.Name, ref.Proto); m != nil {
			return c, m
		}
		t = c.Super
	}
	return nil, nil
}
