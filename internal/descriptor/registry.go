// Package descriptor implements the versioned schema registry: classes,
// their properties, declared indexes, and inverse-reference bindings.
// Grounded on the teacher's pkg/database/catalog.go and metadata.go.
package descriptor

import (
	"fmt"
	"sync"

	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
)

// IndexKind distinguishes the three secondary-index engines: hash,
// sorted, and inverse reference.
type IndexKind int

const (
	IndexHash IndexKind = iota
	IndexSorted
	IndexInverseReference
)

// IndexDesc describes one declared secondary index.
type IndexDesc struct {
	Name     string
	Class    ClassID
	Property string
	Kind     IndexKind
	Unique   bool
}

// ClassDesc describes one registered class: its properties and the
// indexes declared over it.
type ClassDesc struct {
	ID         ClassID
	Name       string
	Properties []PropertyDesc
	Indexes    []IndexDesc
}

// PropertyByName looks up a property by name within this class.
func (c *ClassDesc) PropertyByName(name string) (PropertyDesc, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDesc{}, false
}

// Registry is the versioned, swappable schema descriptor. An assembly
// update installs a different *Registry through AssemblyManager.Update
// (see assembly.go) instead of editing the installed one, so that an
// in-flight transaction holding a *Registry pointer keeps a consistent
// view even while an assembly update is underway (spec.md §4.9: "old
// descriptor remains valid until no transaction references it").
// RegisterClass and DeclareIndex mutate the Registry they are called on.
type Registry struct {
	mu          sync.RWMutex
	classes     map[ClassID]*ClassDesc
	classByName map[string]ClassID
	nextClassID ClassID
	seqs        map[ClassID]*ids.SequenceAllocator
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes:     make(map[ClassID]*ClassDesc),
		classByName: make(map[string]ClassID),
		nextClassID: 1,
		seqs:        make(map[ClassID]*ids.SequenceAllocator),
	}
}

// RegisterClass adds a new class to the registry and returns its assigned
// ClassID. Names must be unique.
func (r *Registry) RegisterClass(name string, properties []PropertyDesc) (ClassID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classByName[name]; exists {
		return 0, errs.New(errs.KindConfiguration, errs.SubDuplicateName, fmt.Sprintf("class %q already registered", name))
	}

	id := r.nextClassID
	r.nextClassID++

	desc := &ClassDesc{ID: id, Name: name, Properties: properties}
	r.classes[id] = desc
	r.classByName[name] = id
	r.seqs[id] = &ids.SequenceAllocator{}
	return id, nil
}

// Class returns the descriptor for id, or NotFound.Class.
func (r *Registry) Class(id ClassID) (*ClassDesc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, errs.SubClass, fmt.Sprintf("class id %d", id))
	}
	return c, nil
}

// ClassByName resolves a registered class name to its descriptor.
func (r *Registry) ClassByName(name string) (*ClassDesc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.classByName[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, errs.SubClass, name)
	}
	return r.classes[id], nil
}

// Classes returns a snapshot slice of every registered class.
func (r *Registry) Classes() []*ClassDesc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ClassDesc, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	return out
}

// DeclareIndex adds an index declaration to an existing class.
func (r *Registry) DeclareIndex(class ClassID, idx IndexDesc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[class]
	if !ok {
		return errs.New(errs.KindNotFound, errs.SubClass, fmt.Sprintf("class id %d", class))
	}
	for _, existing := range c.Indexes {
		if existing.Name == idx.Name {
			return errs.New(errs.KindConfiguration, errs.SubDuplicateName, idx.Name)
		}
	}
	idx.Class = class
	c.Indexes = append(c.Indexes, idx)
	return nil
}

// NextObjectID allocates a fresh ObjectID for the given class.
func (r *Registry) NextObjectID(class ClassID) (ids.ObjectID, error) {
	r.mu.RLock()
	seq, ok := r.seqs[class]
	r.mu.RUnlock()
	if !ok {
		return 0, errs.New(errs.KindNotFound, errs.SubClass, fmt.Sprintf("class id %d", class))
	}
	return ids.NewObjectID(class, seq.Next()), nil
}
