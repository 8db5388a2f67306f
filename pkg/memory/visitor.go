package memory

import "reflect"

// Visitor is applied to the pointer fields of managed objects. Graph walks
// (freeze, thaw, finish, copy, release, cycle collection) are all visitors.
type Visitor interface {
	VisitShared(p SharedField)
	VisitWeak(p WeakField)
}

// Visitable is implemented by anything that can route a Visitor to the
// pointers it contains: objects, pointers, and composite containers.
type Visitable interface {
	Accept(v Visitor)
}

// Iterable is implemented by containers whose elements may be visitable.
// Range yields a pointer to each element so visitors can update it.
type Iterable interface {
	Range(yield func(elem any) bool)
}

// SharedField is the view of a Shared pointer available to visitors.
type SharedField interface {
	Target() Object
	World() *World
	setTarget(o Object)
	setWorld(w *World)
}

// WeakField is the view of a Weak pointer available to visitors.
type WeakField interface {
	Target() Object
	World() *World
	setTarget(o Object)
	setWorld(w *World)
}

// Visit dispatches v over each field by capability: visitable fields
// accept v, iterable fields are visited element by element, and anything
// else is walked by reflection. Reflection reaches the elements of slices
// and arrays, the exported fields of structs, the values of maps, and the
// targets of plain Go pointers. Map values are visited on a copy that is
// stored back when a visitor updates it, so a Clone method must copy any
// map it shares with its source. Map keys and unexported struct fields
// are opaque and must not hold managed pointers. Generated Accept methods call Visit with the
// address of each field in declaration order.
func Visit(v Visitor, fields ...any) {
	for _, f := range fields {
		visitOne(v, f)
	}
}

func visitOne(v Visitor, f any) {
	switch f := f.(type) {
	case nil:
	case Visitable:
		f.Accept(v)
	case Iterable:
		f.Range(func(elem any) bool {
			visitOne(v, elem)
			return true
		})
	default:
		visitReflect(v, reflect.ValueOf(f))
	}
}

func visitReflect(v Visitor, rv reflect.Value) {
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	elem := rv.Elem()
	switch elem.Kind() {
	case reflect.Slice, reflect.Array:
		if trivial(elem.Type().Elem()) {
			return
		}
		for i := 0; i < elem.Len(); i++ {
			visitOne(v, elem.Index(i).Addr().Interface())
		}
	case reflect.Struct:
		t := elem.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() || trivial(t.Field(i).Type) {
				continue
			}
			visitOne(v, elem.Field(i).Addr().Interface())
		}
	case reflect.Map:
		if elem.IsNil() || trivial(elem.Type().Elem()) {
			return
		}
		for _, k := range elem.MapKeys() {
			s := &mapSlot{m: elem, k: k, v: reflect.New(elem.Type().Elem()).Elem()}
			s.v.Set(elem.MapIndex(k))
			visitOne(slotVisitor{v, s}, s.v.Addr().Interface())
		}
	case reflect.Pointer:
		if !elem.IsNil() {
			visitOne(v, elem.Interface())
		}
	}
}

// mapSlot is an addressable copy of one map value. Fields inside it are
// handed to visitors through slotField, which stores the copy back into
// the map whenever a visitor updates a field, including updates made
// after the walk such as weak fixups of a deep copy. Read-only walks
// never write the map.
type mapSlot struct {
	m, k, v reflect.Value
}

func (s *mapSlot) store() { s.m.SetMapIndex(s.k, s.v) }

type slotVisitor struct {
	Visitor
	s *mapSlot
}

func (sv slotVisitor) VisitShared(p SharedField) { sv.Visitor.VisitShared(slotField{p, sv.s}) }
func (sv slotVisitor) VisitWeak(p WeakField)     { sv.Visitor.VisitWeak(slotField{p, sv.s}) }

type slotField struct {
	SharedField
	s *mapSlot
}

func (f slotField) setTarget(o Object) {
	f.SharedField.setTarget(o)
	f.s.store()
}

func (f slotField) setWorld(w *World) {
	f.SharedField.setWorld(w)
	f.s.store()
}

// trivial reports whether values of t can never contain a managed pointer.
func trivial(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128, reflect.String:
		return true
	}
	return false
}

// releaser drops every reference held by a dying object.
type releaser struct{}

func (releaser) VisitShared(p SharedField) {
	if t := p.Target(); t != nil {
		p.setTarget(nil)
		t.header().DecShared()
	}
	if w := p.World(); w != nil {
		p.setWorld(nil)
		w.DecShared()
	}
}

func (releaser) VisitWeak(p WeakField) {
	if t := p.Target(); t != nil {
		p.setTarget(nil)
		t.header().DecWeak()
	}
	if w := p.World(); w != nil {
		p.setWorld(nil)
		w.DecShared()
	}
}

// freezer freezes the targets of pointer fields, both as stored and as
// currently resolved in the pointer's world.
type freezer struct{}

func (freezer) VisitShared(p SharedField) {
	t := p.Target()
	if t == nil {
		return
	}
	t.header().Freeze()
	if w := p.World(); w != nil {
		if r := w.Pull(t); r != t {
			r.header().Freeze()
		}
	}
}

func (freezer) VisitWeak(p WeakField) {
	if t := p.Target(); t != nil && t.header().NumShared() > 0 {
		t.header().Freeze()
	}
}

// rebinder moves pointer fields to a new world.
type rebinder struct {
	w *World
}

func (r rebinder) VisitShared(p SharedField) {
	rebind(p, r.w)
}

func (r rebinder) VisitWeak(p WeakField) {
	rebind(p, r.w)
}

func rebind(p interface {
	World() *World
	setWorld(*World)
}, w *World) {
	old := p.World()
	if old == w {
		return
	}
	if w != nil {
		w.IncShared()
	}
	p.setWorld(w)
	if old != nil {
		old.DecShared()
	}
}

// finisher resolves pointer fields and finishes their targets. Fields of
// frozen objects are read without being updated.
type finisher struct {
	frozen bool
}

func (f finisher) VisitShared(p SharedField) {
	t := p.Target()
	if t == nil {
		return
	}
	w := p.World()
	if w != nil {
		if f.frozen {
			t = w.Pull(t)
		} else {
			t = resolve(p, true)
		}
	}
	t.header().Finish()
}

func (finisher) VisitWeak(WeakField) {}
