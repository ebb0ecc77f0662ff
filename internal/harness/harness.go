// Package harness provides fixture builders for constructing test programs.
package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/shrink/pkg/graph"
)

// ProgramBuilder accumulates classes and produces a validated program.
type ProgramBuilder struct {
	classes []*graph.Class
}

// NewProgram creates an empty program builder.
func NewProgram() *ProgramBuilder {
	return &ProgramBuilder{}
}

// Class starts a new class extending java.lang.Object.
func (p *ProgramBuilder) Class(name graph.Type) *ClassBuilder {
	c := &graph.Class{
		Type:  name,
		Super: graph.ObjectType,
		Flags: graph.AccPublic,
	}
	p.classes = append(p.classes, c)
	return &ClassBuilder{program: p, class: c}
}

// Interface starts a new abstract interface extending java.lang.Object.
func (p *ProgramBuilder) Interface(name graph.Type) *ClassBuilder {
	b := p.Class(name)
	b.class.Flags |= graph.AccInterface | graph.AccAbstract
	return b
}

// Build assembles the program and fails the test on duplicates.
func (p *ProgramBuilder) Build(t *testing.T) *graph.Program {
	t.Helper()
	program, err := graph.NewProgram(p.classes)
	require.NoError(t, err)
	return program
}

// ClassBuilder configures a single class under construction.
type ClassBuilder struct {
	program *ProgramBuilder
	class   *graph.Class
}

// Extending sets the superclass.
func (b *ClassBuilder) Extending(super graph.Type) *ClassBuilder {
	b.class.Super = super
	return b
}

// Implementing appends implemented interfaces.
func (b *ClassBuilder) Implementing(ifaces ...graph.Type) *ClassBuilder {
	b.class.Interfaces = append(b.class.Interfaces, ifaces...)
	return b
}

// Flags replaces the class access flags.
func (b *ClassBuilder) Flags(flags graph.AccessFlags) *ClassBuilder {
	b.class.Flags = flags
	return b
}

// StaticField adds a static field.
func (b *ClassBuilder) StaticField(name string, typ graph.Type, flags graph.AccessFlags) *ClassBuilder {
	b.class.StaticFields = append(b.class.StaticFields, &graph.Field{
		Ref:   graph.FieldRef{Holder: b.class.Type, Name: name, Type: typ},
		Flags: flags | graph.AccStatic,
	})
	return b
}

// InstanceField adds an instance field.
func (b *ClassBuilder) InstanceField(name string, typ graph.Type, flags graph.AccessFlags) *ClassBuilder {
	b.class.InstanceFields = append(b.class.InstanceFields, &graph.Field{
		Ref:   graph.FieldRef{Holder: b.class.Type, Name: name, Type: typ},
		Flags: flags,
	})
	return b
}

// DirectMethod adds a private, static, or constructor method.
func (b *ClassBuilder) DirectMethod(m *MethodBuilder) *ClassBuilder {
	b.class.DirectMethods = append(b.class.DirectMethods, m.build(b.class.Type))
	return b
}

// VirtualMethod adds a dynamically dispatched method.
func (b *ClassBuilder) VirtualMethod(m *MethodBuilder) *ClassBuilder {
	b.class.VirtualMethods = append(b.class.VirtualMethods, m.build(b.class.Type))
	return b
}

// And returns to the program builder for chaining further classes.
func (b *ClassBuilder) And() *ProgramBuilder {
	return b.program
}

// MethodBuilder configures a single method under construction.
type MethodBuilder struct {
	name    string
	proto   graph.Proto
	flags   graph.AccessFlags
	insns   []graph.Instruction
	tries   []graph.TryCatch
	hasCode bool
}

// Method starts a method returning void with no parameters.
func Method(name string) *MethodBuilder {
	return &MethodBuilder{
		name:    name,
		proto:   graph.NewProto("void"),
		flags:   graph.AccPublic,
		hasCode: true,
	}
}

// Constructor starts an instance initializer.
func Constructor() *MethodBuilder {
	m := Method(graph.InstanceInitializerName)
	m.flags |= graph.AccConstructor
	return m
}

// ClassInitializer starts a static initializer.
func ClassInitializer() *MethodBuilder {
	m := Method(graph.ClassInitializerName)
	m.flags = graph.AccStatic | graph.AccConstructor
	return m
}

// Proto sets the return type and parameters.
func (m *MethodBuilder) Proto(ret graph.Type, params ...graph.Type) *MethodBuilder {
	m.proto = graph.NewProto(ret, params...)
	return m
}

// Flags replaces the method access flags.
func (m *MethodBuilder) Flags(flags graph.AccessFlags) *MethodBuilder {
	m.flags = flags
	return m
}

// Abstract drops the body.
func (m *MethodBuilder) Abstract() *MethodBuilder {
	m.flags |= graph.AccAbstract
	m.hasCode = false
	return m
}

// Invoke appends an invoke instruction to the body.
func (m *MethodBuilder) Invoke(kind graph.InvokeKind, target graph.MethodRef) *MethodBuilder {
	m.insns = append(m.insns, graph.InvokeInstruction{Kind: kind, Target: target})
	return m
}

// FieldAccess appends a field instruction to the body.
func (m *MethodBuilder) FieldAccess(op graph.FieldOp, target graph.FieldRef) *MethodBuilder {
	m.insns = append(m.insns, graph.FieldInstruction{Op: op, Target: target})
	return m
}

// TypeUse appends a type instruction to the body.
func (m *MethodBuilder) TypeUse(op graph.TypeOp, target graph.Type) *MethodBuilder {
	m.insns = append(m.insns, graph.TypeInstruction{Op: op, Target: target})
	return m
}

// Opaque appends an uninterpreted instruction to the body.
func (m *MethodBuilder) Opaque(mnemonic string) *MethodBuilder {
	m.insns = append(m.insns, graph.OpaqueInstruction{Mnemonic: mnemonic})
	return m
}

// Catch appends a try-catch range guarding the whole body so far.
func (m *MethodBuilder) Catch(catchType graph.Type, handler int) *MethodBuilder {
	m.tries = append(m.tries, graph.TryCatch{
		Start:     0,
		End:       len(m.insns),
		CatchType: catchType,
		Handler:   handler,
	})
	return m
}

func (m *MethodBuilder) build(holder graph.Type) *graph.Method {
	method := &graph.Method{
		Ref:   graph.MethodRef{Holder: holder, Name: m.name, Proto: m.proto},
		Flags: m.flags,
	}
	if m.hasCode {
		method.Code = &graph.Code{Instructions: m.insns, TryCatches: m.tries}
	}
	return method
}
