package memory

import "github.com/cockroachdb/errors"

// Shared is an owning pointer to an object as materialized in a World.
//
// Go copies structs without a hook, so ownership is explicit: Copy takes a
// new strong reference, Release drops one, Assign replaces the target.
// Passing a Shared by value lends it; it does not share ownership.
//
// Get resolves the target for writing in the pointer's world, copying it
// on first write if it is frozen, and stores the resolution back. Pull
// resolves for reading and never copies.
type Shared[T Object] struct {
	obj   Object
	world *World
}

// New binds a freshly allocated object to w and returns the only strong
// reference to it.
func New[T Object](w *World, o T) Shared[T] {
	o.header().bind(o, w, 1)
	w.IncShared()
	return Shared[T]{obj: o, world: w}
}

// Target returns the stored target without resolving it.
func (p *Shared[T]) Target() Object {
	return p.obj
}

// World returns the world the pointer is bound to.
func (p *Shared[T]) World() *World {
	return p.world
}

func (p *Shared[T]) setTarget(o Object) { p.obj = o }
func (p *Shared[T]) setWorld(w *World)  { p.world = w }

// Accept implements Visitable.
func (p *Shared[T]) Accept(v Visitor) {
	v.VisitShared(p)
}

// Query reports whether the pointer is non-null.
func (p *Shared[T]) Query() bool {
	return p.obj != nil
}

// Get resolves the target for writing.
func (p *Shared[T]) Get() T {
	if p.obj == nil {
		panic(errors.AssertionFailedf("memory: dereference of null %T", p))
	}
	return resolve(p, true).(T)
}

// Pull resolves the target for reading.
func (p *Shared[T]) Pull() T {
	if p.obj == nil {
		panic(errors.AssertionFailedf("memory: dereference of null %T", p))
	}
	return source(p.obj, p.world).(T)
}

// resolve replaces a frozen target with its copy in the pointer's world.
func resolve(p SharedField, sole bool) Object {
	t := p.Target()
	w := p.World()
	if t == nil || w == nil || !t.header().IsFrozen() {
		return t
	}
	r := w.get(t, sole)
	if r != t {
		r.header().IncShared()
		p.setTarget(r)
		t.header().DecShared()
	}
	return r
}

// Copy returns a new strong reference to the same target in the same world.
func (p *Shared[T]) Copy() Shared[T] {
	if p.obj != nil {
		p.obj.header().IncShared()
	}
	if p.world != nil {
		p.world.IncShared()
	}
	return Shared[T]{obj: p.obj, world: p.world}
}

// CopyTo returns a new strong reference to the same target bound to w. The
// pointer's world must be w or one of its ancestors.
func (p *Shared[T]) CopyTo(w *World) Shared[T] {
	if !w.compatible(p.world) {
		panic(errors.AssertionFailedf("memory: world %d is not an ancestor of world %d", p.world.ID(), w.ID()))
	}
	if p.obj != nil {
		p.obj.header().IncShared()
	}
	w.IncShared()
	return Shared[T]{obj: p.obj, world: w}
}

// Assign makes p point to q's target. q must be bound to p's world or one
// of its ancestors; a null p adopts q's world.
func (p *Shared[T]) Assign(q Shared[T]) {
	if p.world != nil && !p.world.compatible(q.world) {
		panic(errors.AssertionFailedf("memory: cannot assign pointer from world %d into world %d", q.world.ID(), p.world.ID()))
	}
	if q.obj != nil {
		q.obj.header().IncShared()
	}
	if p.world == nil && q.world != nil {
		q.world.IncShared()
		p.world = q.world
	}
	old := p.obj
	p.obj = q.obj
	if old != nil {
		old.header().DecShared()
	}
}

// Release drops the pointer's references and makes it null.
func (p *Shared[T]) Release() {
	releaser{}.VisitShared(p)
}

// Weak returns a weak pointer to the same target in the same world.
func (p *Shared[T]) Weak() Weak[T] {
	if p.obj != nil {
		p.obj.header().IncWeak()
	}
	if p.world != nil {
		p.world.IncShared()
	}
	return Weak[T]{obj: p.obj, world: p.world}
}

// Cast returns a new strong reference to p's target as a U if the target's
// current resolution is a U.
func Cast[U, T Object](p *Shared[T]) (Shared[U], bool) {
	if p.obj == nil {
		return Shared[U]{}, false
	}
	u, ok := source(p.obj, p.world).(U)
	if !ok {
		return Shared[U]{}, false
	}
	u.header().IncShared()
	p.world.IncShared()
	return Shared[U]{obj: u, world: p.world}, true
}

// MustCast is Cast for conversions known to succeed.
func MustCast[U, T Object](p *Shared[T]) Shared[U] {
	u, ok := Cast[U](p)
	if !ok && p.obj != nil {
		panic(errors.AssertionFailedf("memory: %T is not a %T", p.obj, *new(U)))
	}
	return u
}
