// Package keep holds the liveness-analyzer outputs the merge passes
// consume: pinned references, never-merge types, inlining directives,
// and the main-dex partition.
package keep

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/715d/shrink/pkg/graph"
)

// Info is the keep-constraint view of one compilation. All sets are
// read-only during merge passes.
type Info struct {
	pinnedTypes   map[graph.Type]bool
	pinnedFields  map[graph.FieldRef]bool
	pinnedMethods map[graph.MethodRef]bool
	neverMerge    map[graph.Type]bool
	alwaysInline  map[graph.MethodRef]bool
	noSideEffects map[graph.MethodRef]bool

	mainDexRoots        map[graph.Type]bool
	mainDexDependencies map[graph.Type]bool
}

// NewInfo creates an empty keep set (nothing pinned).
func NewInfo() *Info {
	return &Info{
		pinnedTypes:         make(map[graph.Type]bool),
		pinnedFields:        make(map[graph.FieldRef]bool),
		pinnedMethods:       make(map[graph.MethodRef]bool),
		neverMerge:          make(map[graph.Type]bool),
		alwaysInline:        make(map[graph.MethodRef]bool),
		noSideEffects:       make(map[graph.MethodRef]bool),
		mainDexRoots:        make(map[graph.Type]bool),
		mainDexDependencies: make(map[graph.Type]bool),
	}
}

func (i *Info) PinType(t graph.Type)              { i.pinnedTypes[t] = true }
func (i *Info) PinField(f graph.FieldRef)         { i.pinnedFields[f] = true }
func (i *Info) PinMethod(m graph.MethodRef)       { i.pinnedMethods[m] = true }
func (i *Info) NeverMerge(t graph.Type)           { i.neverMerge[t] = true }
func (i *Info) AlwaysInline(m graph.MethodRef)    { i.alwaysInline[m] = true }
func (i *Info) NoSideEffects(m graph.MethodRef)   { i.noSideEffects[m] = true }
func (i *Info) AddMainDexRoot(t graph.Type)       { i.mainDexRoots[t] = true }
func (i *Info) AddMainDexDependency(t graph.Type) { i.mainDexDependencies[t] = true }

func (i *Info) IsTypePinned(t graph.Type) bool         { return i.pinnedTypes[t] }
func (i *Info) IsFieldPinned(f graph.FieldRef) bool    { return i.pinnedFields[f] }
func (i *Info) IsMethodPinned(m graph.MethodRef) bool  { return i.pinnedMethods[m] }
func (i *Info) IsNeverMerge(t graph.Type) bool         { return i.neverMerge[t] }
func (i *Info) IsAlwaysInline(m graph.MethodRef) bool  { return i.alwaysInline[m] }
func (i *Info) IsNoSideEffects(m graph.MethodRef) bool { return i.noSideEffects[m] }

// HasMainDexPartition reports whether any main-dex roots or dependencies
// are configured.
func (i *Info) HasMainDexPartition() bool {
	return len(i.mainDexRoots)+len(i.mainDexDependencies) > 0
}

// IsMainDexRoot reports membership in the main-dex root partition.
func (i *Info) IsMainDexRoot(t graph.Type) bool { return i.mainDexRoots[t] }

// IsMainDexDependency reports membership in the main-dex dependency
// partition.
func (i *Info) IsMainDexDependency(t graph.Type) bool { return i.mainDexDependencies[t] }

// fileFormat is the on-disk YAML schema for keep configuration.
type fileFormat struct {
	PinnedTypes   []string `yaml:"pinned_types"`
	PinnedFields  []ref    `yaml:"pinned_fields"`
	PinnedMethods []ref    `yaml:"pinned_methods"`
	NeverMerge    []string `yaml:"never_merge"`
	AlwaysInline  []ref    `yaml:"always_inline"`
	NoSideEffects []ref    `yaml:"no_side_effects"`
	MainDex       struct {
		Roots        []string `yaml:"roots"`
		Dependencies []string `yaml:"dependencies"`
	} `yaml:"main_dex"`
}

type ref struct {
	Holder string   `yaml:"holder"`
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type,omitempty"`   // field type
	Return string   `yaml:"return,omitempty"` // method return type
	Params []string `yaml:"params,omitempty"` // method parameter types
}

func (r ref) fieldRef() graph.FieldRef {
	return graph.FieldRef{Holder: graph.Type(r.Holder), Name: r.Name, Type: graph.Type(r.Type)}
}

func (r ref) methodRef() graph.MethodRef {
	params := make([]graph.Type, len(r.Params))
	for i, p := range r.Params {
		params[i] = graph.Type(p)
	}
	return graph.MethodRef{
		Holder: graph.Type(r.Holder),
		Name:   r.Name,
		Proto:  graph.NewProto(graph.Type(r.Return), params...),
	}
}

// Load reads a keep configuration file.
func Load(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keep config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML keep configuration.
func Parse(data []byte) (*Info, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keep config: %w", err)
	}
	info := NewInfo()
	for _, t := range f.PinnedTypes {
		info.PinType(graph.Type(t))
	}
	for _, r := range f.PinnedFields {
		info.PinField(r.fieldRef())
	}
	for _, r := range f.PinnedMethods {
		info.PinMethod(r.methodRef())
	}
	for _, t := range f.NeverMerge {
		info.NeverMerge(graph.Type(t))
	}
	for _, r := range f.AlwaysInline {
		info.AlwaysInline(r.methodRef())
	}
	for _, r := range f.NoSideEffects {
		info.NoSideEffects(r.methodRef())
	}
	for _, t := range f.MainDex.Roots {
		info.AddMainDexRoot(graph.Type(t))
	}
	for _, t := range f.MainDex.Dependencies {
		info.AddMainDexDependency(graph.Type(t))
	}
	return info, nil
}
