package shrink

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/715d/shrink/pkg/graph"
)

// The on-disk program format: a closed set of classes with their members
// and instruction bodies, as emitted by the front-end reader.

type programFile struct {
	Classes []classJSON `json:"classes"`
}

type classJSON struct {
	Name           string       `json:"name"`
	Super          string       `json:"super,omitempty"`
	Interfaces     []string     `json:"interfaces,omitempty"`
	Flags          []string     `json:"flags,omitempty"`
	StaticFields   []fieldJSON  `json:"staticFields,omitempty"`
	InstanceFields []fieldJSON  `json:"instanceFields,omitempty"`
	DirectMethods  []methodJSON `json:"directMethods,omitempty"`
	VirtualMethods []methodJSON `json:"virtualMethods,omitempty"`
}

type fieldJSON struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Flags []string `json:"flags,omitempty"`
}

type methodJSON struct {
	Name   string    `json:"name"`
	Return string    `json:"return"`
	Params []string  `json:"params,omitempty"`
	Flags  []string  `json:"flags,omitempty"`
	Code   *codeJSON `json:"code,omitempty"`
}

type codeJSON struct {
	Instructions []instructionJSON `json:"instructions,omitempty"`
	TryCatches   []tryCatchJSON    `json:"tryCatches,omitempty"`
}

type instructionJSON struct {
	Op     string         `json:"op"`
	Method *methodRefJSON `json:"method,omitempty"`
	Field  *fieldRefJSON  `json:"field,omitempty"`
	Type   string         `json:"type,omitempty"`
}

type methodRefJSON struct {
	Holder string   `json:"holder"`
	Name   string   `json:"name"`
	Return string   `json:"return"`
	Params []string `json:"params,omitempty"`
}

type fieldRefJSON struct {
	Holder string `json:"holder"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

type tryCatchJSON struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	CatchType string `json:"catchType"`
	Handler   int    `json:"handler"`
}

var flagNames = map[string]graph.AccessFlags{
	"public":      graph.AccPublic,
	"private":     graph.AccPrivate,
	"protected":   graph.AccProtected,
	"static":      graph.AccStatic,
	"final":       graph.AccFinal,
	"abstract":    graph.AccAbstract,
	"interface":   graph.AccInterface,
	"native":      graph.AccNative,
	"synthetic":   graph.AccSynthetic,
	"constructor": graph.AccConstructor,
}

func parseFlags(names []string) (graph.AccessFlags, error) {
	var flags graph.AccessFlags
	for _, name := range names {
		f, ok := flagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown access flag %q", name)
		}
		flags |= f
	}
	return flags, nil
}

// LoadProgram reads and decodes a program file.
func LoadProgram(path string) (*graph.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return ParseProgram(data)
}

// ParseProgram decodes the JSON program format into the program model.
func ParseProgram(data []byte) (*graph.Program, error) {
	var file programFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse program: %w", err)
	}
	classes := make([]*graph.Class, 0, len(file.Classes))
	for _, cj := range file.Classes {
		class, err := decodeClass(cj)
		if err != nil {
			return nil, fmt.Errorf("class %q: %w", cj.Name, err)
		}
		classes = append(classes, class)
	}
	return graph.NewProgram(classes)
}

func decodeClass(cj classJSON) (*graph.Class, error) {
	flags, err := parseFlags(cj.Flags)
	if err != nil {
		return nil, err
	}
	class := &graph.Class{
		Type:  graph.Type(cj.Name),
		Super: graph.Type(cj.Super),
		Flags: flags,
	}
	for _, itf := range cj.Interfaces {
		class.Interfaces = append(class.Interfaces, graph.Type(itf))
	}
	holder := class.Type
	for _, fj := range cj.StaticFields {
		f, err := decodeField(holder, fj)
		if err != nil {
			return nil, err
		}
		class.StaticFields = append(class.StaticFields, f)
	}
	for _, fj := range cj.InstanceFields {
		f, err := decodeField(holder, fj)
		if err != nil {
			return nil, err
		}
		class.InstanceFields = append(class.InstanceFields, f)
	}
	for _, mj := range cj.DirectMethods {
		m, err := decodeMethod(holder, mj)
		if err != nil {
			return nil, err
		}
		class.DirectMethods = append(class.DirectMethods, m)
	}
	for _, mj := range cj.VirtualMethods {
		m, err := decodeMethod(holder, mj)
		if err != nil {
			return nil, err
		}
		class.VirtualMethods = append(class.VirtualMethods, m)
	}
	return class, nil
}

func decodeField(holder graph.Type, fj fieldJSON) (*graph.Field, error) {
	flags, err := parseFlags(fj.Flags)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", fj.Name, err)
	}
	return &graph.Field{
		Ref:   graph.FieldRef{Holder: holder, Name: fj.Name, Type: graph.Type(fj.Type)},
		Flags: flags,
	}, nil
}

func decodeMethod(holder graph.Type, mj methodJSON) (*graph.Method, error) {
	flags, err := parseFlags(mj.Flags)
	if err != nil {
		return nil, fmt.Errorf("method %q: %w", mj.Name, err)
	}
	if mj.Name == graph.InstanceInitializerName {
		flags |= graph.AccConstructor
	}
	method := &graph.Method{
		Ref: graph.MethodRef{
			Holder: holder,
			Name:   mj.Name,
			Proto:  graph.NewProto(graph.Type(mj.Return), toTypes(mj.Params)...),
		},
		Flags: flags,
	}
	if mj.Code != nil {
		code, err := decodeCode(mj.Code)
		if err != nil {
			return nil, fmt.Errorf("method %q: %w", mj.Name, err)
		}
		method.Code = code
	}
	return method, nil
}

func decodeCode(cj *codeJSON) (*graph.Code, error) {
	code := &graph.Code{}
	for i, ij := range cj.Instructions {
		insn, err := decodeInstruction(ij)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		code.Instructions = append(code.Instructions, insn)
	}
	for _, tj := range cj.TryCatches {
		code.TryCatches = append(code.TryCatches, graph.TryCatch{
			Start:     tj.Start,
			End:       tj.End,
			CatchType: graph.Type(tj.CatchType),
			Handler:   tj.Handler,
		})
	}
	return code, nil
}

var invokeOps = map[string]graph.InvokeKind{
	"invoke-virtual":   graph.InvokeVirtual,
	"invoke-direct":    graph.InvokeDirect,
	"invoke-static":    graph.InvokeStatic,
	"invoke-super":     graph.InvokeSuper,
	"invoke-interface": graph.InvokeInterface,
}

var fieldOps = map[string]graph.FieldOp{
	"sget": graph.StaticGet,
	"sput": graph.StaticPut,
	"iget": graph.InstanceGet,
	"iput": graph.InstancePut,
}

var typeOps = map[string]graph.TypeOp{
	"new-instance": graph.NewInstance,
	"check-cast":   graph.CheckCast,
	"instance-of":  graph.InstanceOf,
	"const-class":  graph.ConstClass,
}

func decodeInstruction(ij instructionJSON) (graph.Instruction, error) {
	if kind, ok := invokeOps[ij.Op]; ok {
		if ij.Method == nil {
			return nil, fmt.Errorf("%s without method reference", ij.Op)
		}
		return graph.InvokeInstruction{Kind: kind, Target: decodeMethodRef(*ij.Method)}, nil
	}
	if op, ok := fieldOps[ij.Op]; ok {
		if ij.Field == nil {
			return nil, fmt.Errorf("%s without field reference", ij.Op)
		}
		return graph.FieldInstruction{Op: op, Target: decodeFieldRef(*ij.Field)}, nil
	}
	if op, ok := typeOps[ij.Op]; ok {
		if ij.Type == "" {
			return nil, fmt.Errorf("%s without type", ij.Op)
		}
		return graph.TypeInstruction{Op: op, Target: graph.Type(ij.Type)}, nil
	}
	if strings.HasPrefix(ij.Op, "invoke") {
		return nil, fmt.Errorf("unknown invoke op %q", ij.Op)
	}
	return graph.OpaqueInstruction{Mnemonic: ij.Op}, nil
}

func decodeMethodRef(mj methodRefJSON) graph.MethodRef {
	return graph.MethodRef{
		Holder: graph.Type(mj.Holder),
		Name:   mj.Name,
		Proto:  graph.NewProto(graph.Type(mj.Return), toTypes(mj.Params)...),
	}
}

func decodeFieldRef(fj fieldRefJSON) graph.FieldRef {
	return graph.FieldRef{Holder: graph.Type(fj.Holder), Name: fj.Name, Type: graph.Type(fj.Type)}
}

func toTypes(names []string) []graph.Type {
	types := make([]graph.Type, len(names))
	for i, n := range names {
		types[i] = graph.Type(n)
	}
	return types
}
