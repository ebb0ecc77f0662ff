// Package graph provides the in-memory program model: classes, members,
// instruction bodies, and the reference types everything else keys on.
package graph

import (
	"fmt"
	"strings"
)

// Type identifies a class or interface by its fully qualified name
// (e.g. "com.example.Foo"). Primitive and array types use their source
// spelling ("int", "java.lang.String[]"). Types are plain comparable
// values so they can key maps directly.
type Type string

// Package returns the package portion of the type name, or "" for
// types in the default package and for primitives.
func (t Type) Package() string {
	if i := strings.LastIndexByte(string(t), '.'); i >= 0 {
		return string(t)[:i]
	}
	return ""
}

// SimpleName returns the type name without its package qualifier.
func (t Type) SimpleName() string {
	if i := strings.LastIndexByte(string(t), '.'); i >= 0 {
		return string(t)[i+1:]
	}
	return string(t)
}

// Proto is a method prototype: parameter types plus return type.
// Params is a canonical comma-joined encoding so Proto stays comparable.
type Proto struct {
	Return Type
	Params string
}

// NewProto builds a Proto from a return type and parameter types.
func NewProto(ret Type, params ...Type) Proto {
	if len(params) == 0 {
		return Proto{Return: ret}
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = string(p)
	}
	return Proto{Return: ret, Params: strings.Join(parts, ",")}
}

// ParamTypes decodes the parameter list.
func (p Proto) ParamTypes() []Type {
	if p.Params == "" {
		return nil
	}
	parts := strings.Split(p.Params, ",")
	types := make([]Type, len(parts))
	for i, s := range parts {
		types[i] = Type(s)
	}
	return types
}

// Arity returns the number of parameters.
func (p Proto) Arity() int {
	if p.Params == "" {
		return 0
	}
	return strings.Count(p.Params, ",") + 1
}

func (p Proto) String() string {
	return fmt.Sprintf("(%s)%s", p.Params, p.Return)
}

// FieldRef identifies a field by holder, name and type.
type FieldRef struct {
	Holder Type
	Name   string
	Type   Type
}

func (f FieldRef) String() string {
	return fmt.Sprintf("%s %s.%s", f.Type, f.Holder, f.Name)
}

// WithHolder returns the same field signature on a different holder.
func (f FieldRef) WithHolder(holder Type) FieldRef {
	f.Holder = holder
	return f
}

// WithName returns the same field on the same holder under a new name.
func (f FieldRef) WithName(name string) FieldRef {
	f.Name = name
	return f
}

// MethodRef identifies a method by holder, name and prototype.
type MethodRef struct {
	Holder Type
	Name   string
	Proto  Proto
}

func (m MethodRef) String() string {
	return fmt.Sprintf("%s %s.%s(%s)", m.Proto.Return, m.Holder, m.Name, m.Proto.Params)
}

// WithHolder returns the same method signature on a different holder.
func (m MethodRef) WithHolder(holder Type) MethodRef {
	m.Holder = holder
	return m
}

// WithName returns the same method on the same holder under a new name.
func (m MethodRef) WithName(name string) MethodRef {
	m.Name = name
	return m
}

// Compare totally orders method references. Used wherever deterministic
// iteration over methods is required.
func (m MethodRef) Compare(o MethodRef) int {
	if c := strings.Compare(string(m.Holder), string(o.Holder)); c != 0 {
		return c
	}
	if c := strings.Compare(m.Name, o.Name); c != 0 {
		return c
	}
	if c := strings.Compare(m.Proto.Params, o.Proto.Params); c != 0 {
		return c
	}
	return strings.Compare(string(m.Proto.Return), string(o.Proto.Return))
}

// FieldEquivalenceKey returns the bucket key for a field under the given
// equivalence. With ignoreName, fields that would collide if stripped of
// their name share a key.
func FieldEquivalenceKey(f FieldRef, ignoreName bool) string {
	if ignoreName {
		return "f:" + string(f.Type)
	}
	return "f:" + f.Name + ":" + string(f.Type)
}

// MethodEquivalenceKey returns the bucket key for a method under the given
// equivalence. With ignoreName, methods that would collide if stripped of
// their name share a key.
func MethodEquivalenceKey(m MethodRef, ignoreName bool) string {
	if ignoreName {
		return "m:" + m.Proto.String()
	}
	return "m:" + m.Name + ":" + m.Proto.String()
}
