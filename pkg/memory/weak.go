package memory

// Weak is a non-owning pointer. It contributes to the target's weak count,
// keeping its storage but not its contents alive, and does not count as an
// edge for cycle detection. Lock upgrades it to a Shared if the target is
// still live.
type Weak[T Object] struct {
	obj   Object
	world *World
}

// Target returns the stored target without resolving it.
func (p *Weak[T]) Target() Object {
	return p.obj
}

// World returns the world the pointer is bound to.
func (p *Weak[T]) World() *World {
	return p.world
}

func (p *Weak[T]) setTarget(o Object) { p.obj = o }
func (p *Weak[T]) setWorld(w *World)  { p.world = w }

// Accept implements Visitable.
func (p *Weak[T]) Accept(v Visitor) {
	v.VisitWeak(p)
}

// Query reports whether the pointer is non-null. The target may be dead.
func (p *Weak[T]) Query() bool {
	return p.obj != nil
}

// Lock returns a strong reference to the target, or false if the target
// has been destroyed.
func (p *Weak[T]) Lock() (Shared[T], bool) {
	if p.obj == nil || !p.obj.header().tryIncShared() {
		return Shared[T]{}, false
	}
	p.world.IncShared()
	return Shared[T]{obj: p.obj, world: p.world}, true
}

// Copy returns a new weak reference to the same target.
func (p *Weak[T]) Copy() Weak[T] {
	if p.obj != nil {
		p.obj.header().IncWeak()
	}
	if p.world != nil {
		p.world.IncShared()
	}
	return Weak[T]{obj: p.obj, world: p.world}
}

// Release drops the pointer's references and makes it null.
func (p *Weak[T]) Release() {
	releaser{}.VisitWeak(p)
}
