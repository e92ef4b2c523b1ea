// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package structfield provides types to track struct field offsets across
// versions of the package defining the struct.
package structfield

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-version"
)

// Index holds all struct field offsets.
type Index struct {
	dataMu sync.RWMutex
	data   map[ID]*Offsets
}

// NewIndex returns a new empty Index.
func NewIndex() *Index {
	return &Index{data: make(map[ID]*Offsets)}
}

// Get returns the Offsets and true for an id contained in the Index i. It will
// return nil and false for any id not contained in i.
func (i *Index) Get(id ID) (*Offsets, bool) {
	i.dataMu.RLock()
	defer i.dataMu.RUnlock()

	o, ok := i.data[id]
	return o, ok
}

// GetOffset returns the offset of id for the version ver. False is returned
// if id is unknown, no range of id matches ver, or the matching range marks
// the field as absent.
func (i *Index) GetOffset(id ID, ver *version.Version) (uint64, bool) {
	offs, ok := i.Get(id)
	if !ok {
		return 0, false
	}
	o, ok := offs.Get(ver)
	if !ok || !o.Valid {
		return 0, false
	}
	return o.Offset, true
}

// Put stores offsets in the Index i for id, replacing any existing ones.
func (i *Index) Put(id ID, offsets *Offsets) {
	i.dataMu.Lock()
	defer i.dataMu.Unlock()

	if i.data == nil {
		i.data = make(map[ID]*Offsets)
	}
	i.data[id] = offsets
}

// PutOffset adds the offset of id for the versions matching constraint.
func (i *Index) PutOffset(id ID, constraint string, offset uint64, valid bool) error {
	i.dataMu.Lock()
	defer i.dataMu.Unlock()

	if i.data == nil {
		i.data = make(map[ID]*Offsets)
	}
	off, ok := i.data[id]
	if !ok {
		off = NewOffsets()
		i.data[id] = off
	}
	return off.Put(constraint, OffsetKey{Offset: offset, Valid: valid})
}

// IDs returns the ids known to i in a stable order.
func (i *Index) IDs() []ID {
	i.dataMu.RLock()
	defer i.dataMu.RUnlock()

	ids := make([]ID, 0, len(i.data))
	for id := range i.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a].String() < ids[b].String() })
	return ids
}

// UnmarshalJSON unmarshals the offset JSON data into i.
func (i *Index) UnmarshalJSON(data []byte) error {
	var mods []*jsonModule
	if err := json.Unmarshal(data, &mods); err != nil {
		return err
	}

	m := make(map[ID]*Offsets)
	for _, mod := range mods {
		for _, p := range mod.Packages {
			for _, s := range p.Structs {
				for _, f := range s.Fields {
					id := NewID(mod.Module, p.Package, s.Struct, f.Field)
					off, ok := m[id]
					if !ok {
						off = NewOffsets()
						m[id] = off
					}
					for _, o := range f.Offsets {
						key := OffsetKey{Valid: o.Offset != nil}
						if o.Offset != nil {
							key.Offset = *o.Offset
						}
						if err := off.Put(o.Versions, key); err != nil {
							return fmt.Errorf("%s: %w", id, err)
						}
					}
				}
			}
		}
	}

	i.dataMu.Lock()
	i.data = m
	i.dataMu.Unlock()

	return nil
}

// MarshalJSON marshals i into JSON data.
func (i *Index) MarshalJSON() ([]byte, error) {
	var out []*jsonModule
	for _, id := range i.IDs() {
		off, _ := i.Get(id)
		jm := find(&out, func(p *jsonModule) bool {
			return id.ModPath == p.Module
		})
		jm.Module = id.ModPath
		jm.addOffsets(id.PkgPath, id.Struct, id.Field, off)
	}
	return json.Marshal(out)
}

// ID is a struct field identifier for an offset.
type ID struct {
	// ModPath is the module path containing the struct field package.
	//
	// If set to "std", the struct field belongs to the standard Go library.
	ModPath string
	// PkgPath package import path containing the struct field.
	PkgPath string
	// Struct is the name of the struct containing the field.
	Struct string
	// Field is the field name.
	Field string
}

// NewID returns a new ID using pkg for the PkgPath, strct for the Struct, and
// field for the Field.
func NewID(mod, pkg, strct, field string) ID {
	return ID{ModPath: mod, PkgPath: pkg, Struct: strct, Field: field}
}

func (i ID) String() string {
	return fmt.Sprintf("%s.%s:%s", i.PkgPath, i.Struct, i.Field)
}

// OffsetKey is the offset of a specific struct field in a range of versions.
// If Valid is false, the field does not exist in those versions.
type OffsetKey struct {
	Offset uint64
	Valid  bool
}

type offsetRange struct {
	versions    string
	constraints version.Constraints
	offset      OffsetKey
}

// Offsets are the byte offsets for a struct field over version ranges of
// the package containing the struct. Ranges are matched in the order they
// were added.
type Offsets struct {
	mu     sync.RWMutex
	ranges []offsetRange
}

// NewOffsets returns a new empty *Offsets.
func NewOffsets() *Offsets { return &Offsets{} }

// Put adds offset for the versions matching constraint.
func (o *Offsets) Put(constraint string, offset OffsetKey) error {
	c, err := version.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid versions %q: %w", constraint, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.ranges = append(o.ranges, offsetRange{
		versions:    constraint,
		constraints: c,
		offset:      offset,
	})
	return nil
}

// Get returns the offset of the first range matching ver.
func (o *Offsets) Get(ver *version.Version) (OffsetKey, bool) {
	if o == nil || ver == nil {
		return OffsetKey{}, false
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, r := range o.ranges {
		if r.constraints.Check(ver) {
			return r.offset, true
		}
	}
	return OffsetKey{}, false
}
