// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package structfield

type jsonOffset struct {
	Offset   *uint64 `json:"offset"`
	Versions string  `json:"versions"`
}

type jsonField struct {
	Field   string        `json:"field"`
	Offsets []*jsonOffset `json:"offsets"`
}

func (jf *jsonField) addOffsets(off *Offsets) {
	off.mu.RLock()
	defer off.mu.RUnlock()

	for _, r := range off.ranges {
		jo := &jsonOffset{Versions: r.versions}
		if r.offset.Valid {
			v := r.offset.Offset
			jo.Offset = &v
		}
		jf.Offsets = append(jf.Offsets, jo)
	}
}

type jsonStruct struct {
	Struct string       `json:"struct"`
	Fields []*jsonField `json:"fields"`
}

func (js *jsonStruct) addOffsets(field string, off *Offsets) {
	jf := find(&js.Fields, func(f *jsonField) bool {
		return field == f.Field
	})
	jf.Field = field
	jf.addOffsets(off)
}

type jsonPackage struct {
	Package string        `json:"package"`
	Structs []*jsonStruct `json:"structs"`
}

func (jp *jsonPackage) addOffsets(strct, field string, off *Offsets) {
	js := find(&jp.Structs, func(s *jsonStruct) bool {
		return strct == s.Struct
	})
	js.Struct = strct
	js.addOffsets(field, off)
}

type jsonModule struct {
	Module   string         `json:"module"`
	Packages []*jsonPackage `json:"packages"`
}

func (jm *jsonModule) addOffsets(pkg, strct, field string, off *Offsets) {
	jp := find(&jm.Packages, func(p *jsonPackage) bool {
		return pkg == p.Package
	})
	jp.Package = pkg
	jp.addOffsets(strct, field, off)
}

// find returns the value in slice where f evaluates to true. If none exists a
// new value of *T is created and appended to slice.
func find[T any](slice *[]*T, f func(*T) bool) *T {
	for _, s := range *slice {
		if f(s) {
			return s
		}
	}
	t := new(T)
	*slice = append(*slice, t)
	return t
}
