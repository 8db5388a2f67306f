package memory

// Generation boundary operations. An inference loop typically calls
// Freeze (or Clone, which freezes) on each surviving root, forks new
// roots with Clone, releases the old ones and calls Runtime.Collect.

// Freeze makes p's target and everything reachable from it read-only.
func Freeze[T Object](p *Shared[T]) {
	if p.obj == nil {
		return
	}
	p.obj.header().Freeze()
	if r := source(p.obj, p.world); r != p.obj {
		r.header().Freeze()
	}
}

// Clone freezes p's target and returns a pointer to it bound to a new
// child of p's world. Nothing is copied until it is written through the
// new pointer or pointers reached from it.
func Clone[T Object](p *Shared[T]) Shared[T] {
	if p.world == nil {
		return Shared[T]{}
	}
	Freeze(p)
	child := p.world.Fork()
	o := source(p.obj, p.world)
	if o != nil {
		o.header().IncShared()
	}
	child.IncShared()
	return Shared[T]{obj: o, world: child}
}

// Thaw rebinds o to w for reuse. See Header.Thaw.
func Thaw(o Object, w *World) {
	o.header().Thaw(w)
}

// Finish resolves every pointer reachable from p in its world, completing
// the lazy clone.
func Finish[T Object](p *Shared[T]) {
	if p.obj == nil {
		return
	}
	resolve(p, true).header().Finish()
}

// DeepCopy eagerly copies the graph reachable from p into w.
func DeepCopy[T Object](p *Shared[T], w *World) Shared[T] {
	w.IncShared()
	if p.obj == nil {
		return Shared[T]{world: w}
	}
	c := newCopier(w, true)
	root := c.copy(source(p.obj, p.world))
	c.fixWeak()
	root.header().IncShared()
	w.rt.stats.deepCopies.Add(1)
	return Shared[T]{obj: root, world: w}
}
