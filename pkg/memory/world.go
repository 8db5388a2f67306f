package memory

import (
	"context"

	"lazyclone/pkg/memo"
)

// World - clone context for lazy deep copies
//
// A World identifies one generation of an object graph. Worlds form a tree
// through ancestor links: Fork creates a child that sees the parent's
// objects as they were at the fork. Objects are copied into a world only
// when first written through a pointer bound to it; the per-world memo
// records old object -> copy so later accesses find the same copy.
//
// Unfrozen objects resolve to themselves. A frozen object resolves through
// the memo, following chains (o -> o' -> o'') until an unfrozen copy or a
// miss. On a miss the last frozen object in the chain is copied.
//
// A world is itself reference counted. Every Shared and Weak pointer bound
// to it holds a strong reference; its memo holds its copies strongly and
// their originals weakly. Worlds take part in cycle collection.

// World is a clone context.
type World struct {
	Header

	id       uint64
	ancestor *World
	rt       *Runtime
	memo     *memo.Map[Object, Object]
}

func newWorld(rt *Runtime, ancestor *World) *World {
	w := &World{
		id:       rt.nextWorld.Add(1),
		ancestor: ancestor,
		rt:       rt,
	}
	w.memo = memo.New(memo.Hooks[Object, Object]{
		RetainKey:    func(k Object) { k.header().IncWeak() },
		ReleaseKey:   func(k Object) { k.header().DecWeak() },
		RetainValue:  func(v Object) { v.header().IncShared() },
		ReleaseValue: func(v Object) { v.header().DecShared() },
	}, rt.memoOptions()...)
	w.bind(w, nil, 0)
	rt.register(w)
	return w
}

// Accept implements Visitable. A world has no pointer fields; its memo is
// walked by the cycle collector directly.
func (w *World) Accept(Visitor) {}

// ID returns the world's identifier, unique within its runtime.
func (w *World) ID() uint64 {
	return w.id
}

// Ancestor returns the world this one was forked from, or nil for a root.
func (w *World) Ancestor() *World {
	return w.ancestor
}

// Runtime returns the runtime that owns the world.
func (w *World) Runtime() *Runtime {
	return w.rt
}

// IsAncestorOf reports whether w is a strict ancestor of o.
func (w *World) IsAncestorOf(o *World) bool {
	for a := o.ancestor; a != nil; a = a.ancestor {
		if a == w {
			return true
		}
	}
	return false
}

// compatible reports whether a pointer bound to from may be rebound to w.
func (w *World) compatible(from *World) bool {
	return from == nil || from == w || from.IsAncestorOf(w)
}

// MemoLen returns the number of memoized copies.
func (w *World) MemoLen() int {
	return w.memo.Len()
}

// Get resolves o for writing in w, copying it into w if it is frozen and
// has no unfrozen copy yet. Two calls with the same object return the same
// copy.
func (w *World) Get(o Object) Object {
	return w.get(o, false)
}

// get is Get; sole says the caller's strong reference is o's only one
// when o's count is one, which permits thawing o in place.
func (w *World) get(o Object, sole bool) Object {
	if o == nil || !o.header().IsFrozen() {
		return o
	}
	prev, next := w.follow(o)
	if next != nil {
		return next
	}

	h := prev.header()
	if sole && prev == o && w.rt.cfg.SingleReference && h.IsSingle() && h.NumShared() == 1 {
		h.Thaw(w)
		return prev
	}

	c := w.copy(prev)
	return w.memo.Put(prev, c)
}

// Pull resolves o for reading in w without copying.
func (w *World) Pull(o Object) Object {
	if o == nil || !o.header().IsFrozen() {
		return o
	}
	prev, next := w.follow(o)
	if next != nil {
		return next
	}
	return prev
}

// follow walks memo entries from o. It returns the last frozen object in
// the chain and the unfrozen object the chain ends at, if any.
func (w *World) follow(o Object) (prev, next Object) {
	prev = o
	for {
		n, ok := w.memo.Get(prev)
		if !ok {
			return prev, nil
		}
		if !n.header().IsFrozen() {
			return prev, n
		}
		prev = n
	}
}

// compress re-records every memo entry whose value has itself been copied
// in w so that it maps straight to the end of its chain. The intermediate
// copies lose the memo's hold on them. It must run at a safe point.
func (w *World) compress() int {
	type hop struct{ from, to Object }
	var hops []hop
	w.memo.Range(func(k, v Object) bool {
		end, next := w.follow(v)
		if next != nil {
			end = next
		}
		if end != v {
			hops = append(hops, hop{k, end})
		}
		return true
	})
	if len(hops) == 0 {
		return 0
	}
	// releasing an intermediate copy may drop the last other hold on w
	w.IncShared()
	defer w.DecShared()
	for _, h := range hops {
		w.memo.Set(h.from, h.to)
	}
	return len(hops)
}

// copy makes a shallow copy of o bound to w. The copy's pointer fields
// share o's targets and are rebound to w.
func (w *World) copy(o Object) Object {
	c := newCopier(w, false)
	clone := c.shallow(o)
	w.rt.stats.lazyCopies.Add(1)
	return clone
}

// Fork creates a child world. Entries already in w's memo are frozen and
// copied into the child, so the child resolves objects as w did at the
// time of the fork.
func (w *World) Fork() *World {
	child := newWorld(w.rt, w)
	w.memo.Range(func(k, v Object) bool {
		v.header().Freeze()
		child.memo.Put(k, v)
		return true
	})
	w.rt.log.Debug("world forked", "parent", w.id, "child", child.id, "memo", child.memo.Len())
	return child
}

// release drops the memo when the world dies.
func (w *World) release() {
	w.rt.unregister(w)
	w.memo.Release()
	w.rt.log.Debug("world destroyed", "world", w.id)
}

type worldKey struct{}

// WithWorld returns a context carrying w as the current world.
func WithWorld(ctx context.Context, w *World) context.Context {
	return context.WithValue(ctx, worldKey{}, w)
}

// WorldFrom returns the current world carried by ctx, or nil.
func WorldFrom(ctx context.Context) *World {
	w, _ := ctx.Value(worldKey{}).(*World)
	return w
}
