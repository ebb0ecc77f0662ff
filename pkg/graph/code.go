package graph

// InvokeKind is the dispatch mode of a method call instruction.
type InvokeKind int

const (
	InvokeVirtual InvokeKind = iota
	InvokeDirect
	InvokeStatic
	InvokeSuper
	InvokeInterface
)

func (k InvokeKind) String() string {
	switch k {
	case InvokeVirtual:
		return "invoke-virtual"
	case InvokeDirect:
		return "invoke-direct"
	case InvokeStatic:
		return "invoke-static"
	case InvokeSuper:
		return "invoke-super"
	case InvokeInterface:
		return "invoke-interface"
	}
	return "invoke-?"
}

// FieldOp is the access mode of a field instruction.
type FieldOp int

const (
	StaticGet FieldOp = iota
	StaticPut
	InstanceGet
	InstancePut
)

// TypeOp is the operation of a type-referencing instruction.
type TypeOp int

const (
	NewInstance TypeOp = iota
	CheckCast
	InstanceOf
	ConstClass
)

// Instruction is one element of a method body. Exactly the subset of
// shapes the rewriting passes care about is modeled; anything that
// references no type, field, or method is an OpaqueInstruction.
type Instruction interface {
	isInstruction()
}

// InvokeInstruction calls Target with the given dispatch kind.
type InvokeInstruction struct {
	Kind   InvokeKind
	Target MethodRef
}

// FieldInstruction reads or writes Target.
type FieldInstruction struct {
	Op     FieldOp
	Target FieldRef
}

// TypeInstruction references Target as a bare type.
type TypeInstruction struct {
	Op     TypeOp
	Target Type
}

// OpaqueInstruction carries no program references.
type OpaqueInstruction struct {
	Mnemonic string
}

func (InvokeInstruction) isInstruction() {}
func (FieldInstruction) isInstruction()  {}
func (TypeInstruction) isInstruction()   {}
func (OpaqueInstruction) isInstruction() {}

// TryCatch is one exception-table entry: a handler guarding the
// instruction range [Start, End) for throwables of type CatchType.
type TryCatch struct {
	Start, End int
	CatchType  Type
	Handler    int
}

// Code is a method body.
type Code struct {
	Instructions []Instruction
	TryCatches   []TryCatch
}

// RefKind tags one entry of an instruction's reference set.
type RefKind int

const (
	RefType RefKind = iota
	RefField
	RefMethod
)

// Reference is one entity an instruction touches.
type Reference struct {
	Kind   RefKind
	Type   Type
	Field  FieldRef
	Method MethodRef
}

// References reports every type, field, and method the instruction
// touches. It is a pure function usable for both liveness scanning and
// rewriting without coupling the two.
func References(insn Instruction) []Reference {
	switch i := insn.(type) {
	case InvokeInstruction:
		return []Reference{
			{Kind: RefMethod, Method: i.Target},
			{Kind: RefType, Type: i.Target.Holder},
		}
	case FieldInstruction:
		return []Reference{
			{Kind: RefField, Field: i.Target},
			{Kind: RefType, Type: i.Target.Holder},
		}
	case TypeInstruction:
		return []Reference{{Kind: RefType, Type: i.Target}}
	}
	return nil
}
