package memory

import "lazyclone/pkg/memo"

// Graph Copier
//
// A copier clones objects into a destination world. In shallow mode it
// copies a single object: the copy's pointer fields keep their targets and
// are rebound to the destination world. This is the lazy path used by
// World.Get.
//
// In deep mode it copies everything reachable through Shared pointers. A
// transient memo maps each original to its copy; the copy is memoized
// before its fields are visited so diamonds and cycles resolve to the one
// copy. Weak pointers are fixed up once the strong graph has been copied:
// they point to the copy of their target if there is one, otherwise to the
// original target.

type copier struct {
	w    *World
	deep bool
	memo *memo.Map[Object, Object]
	weak []weakFixup
}

type weakFixup struct {
	p    WeakField
	from *World
}

func newCopier(w *World, deep bool) *copier {
	c := &copier{w: w, deep: deep}
	if deep {
		c.memo = memo.New(memo.Hooks[Object, Object]{}, w.rt.memoOptions()...)
	}
	return c
}

func (c *copier) shallow(o Object) Object {
	clone := o.Clone()
	clone.header().bind(clone, c.w, 0)
	clone.Accept(c)
	return clone
}

func (c *copier) copy(o Object) Object {
	if v, ok := c.memo.Get(o); ok {
		return v
	}
	clone := o.Clone()
	clone.header().bind(clone, c.w, 0)
	c.memo.Put(o, clone)
	clone.Accept(c)
	return clone
}

// source returns the version of t visible through a pointer bound to w.
func source(t Object, w *World) Object {
	if w == nil {
		return t
	}
	return w.Pull(t)
}

func (c *copier) VisitShared(p SharedField) {
	if t := p.Target(); t != nil {
		if c.deep {
			v := c.copy(source(t, p.World()))
			v.header().IncShared()
			p.setTarget(v)
		} else {
			t.header().IncShared()
		}
	}
	c.w.IncShared()
	p.setWorld(c.w)
}

func (c *copier) VisitWeak(p WeakField) {
	if t := p.Target(); t != nil {
		if c.deep {
			c.weak = append(c.weak, weakFixup{p: p, from: p.World()})
		} else {
			t.header().IncWeak()
		}
	}
	c.w.IncShared()
	p.setWorld(c.w)
}

// fixWeak retargets weak pointers recorded during a deep copy.
func (c *copier) fixWeak() {
	for _, f := range c.weak {
		t := f.p.Target()
		if v, ok := c.memo.Get(source(t, f.from)); ok {
			t = v
			f.p.setTarget(v)
		}
		t.header().IncWeak()
	}
	c.weak = nil
}
