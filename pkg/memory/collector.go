package memory

// Cycle Collector - trial deletion over possible roots
//
// Reference counts cannot free a group of objects that only reference each
// other. Any object whose strong count drops to a non-zero value is
// buffered as a possible root. Collect then works in three phases:
//
//   mark:    from each root, copy every strong count into a trial count
//            and subtract one for each strong edge from inside the
//            traversed set (pointer targets, pointer worlds, memo values)
//   scan:    anything with a positive trial count is referenced from
//            outside; it and everything it reaches are reached
//   collect: the biconnected collector sets Collected on the remaining
//            (white) nodes, then the whole component is torn down at once
//
// During teardown edges between white nodes are dropped by adjusting the
// count directly, without the DecShared cascade, so that no node is
// released while another white node still refers to it. Edges out to
// reached nodes are released normally.
//
// Collect runs at a safe point: no other goroutine may use objects of the
// runtime while it runs.

// CollectReport summarises a Collect call.
type CollectReport struct {
	Passes      int
	Objects     int
	Worlds      int
	MemoEntries int
	Compressed  int
}

// Collect sweeps stale memo entries and reclaims unreachable cycles,
// repeating until a pass frees nothing.
func (rt *Runtime) Collect() CollectReport {
	rt.collectMu.Lock()
	defer rt.collectMu.Unlock()

	var rep CollectReport
	for {
		rep.Passes++
		entries, compressed := rt.sweepMemos()
		objects, worlds := rt.collectCycles()
		rep.MemoEntries += entries
		rep.Compressed += compressed
		rep.Objects += objects
		rep.Worlds += worlds
		if entries == 0 && compressed == 0 && objects == 0 && worlds == 0 {
			break
		}
	}
	rt.stats.collections.Add(1)
	rt.log.Debug("collect",
		"passes", rep.Passes,
		"objects", rep.Objects,
		"worlds", rep.Worlds,
		"memo_entries", rep.MemoEntries,
		"compressed", rep.Compressed,
	)
	return rep
}

// sweepMemos drops memo entries whose keys have been destroyed, then
// shortens the chains that remain. Destroyed keys can never be looked up
// again: every path to them held a strong count.
func (rt *Runtime) sweepMemos() (swept, compressed int) {
	for _, w := range rt.liveWorlds() {
		swept += w.memo.Collect(func(k Object) bool {
			return !k.header().IsDestroyed()
		})
		compressed += w.compress()
	}
	return swept, compressed
}

type cycleCollector struct {
	visited []node
	white   []node
}

func (rt *Runtime) collectCycles() (objects, worlds int) {
	roots := rt.takeRoots()
	live := roots[:0]
	for _, n := range roots {
		h := n.header()
		if h.IsDestroyed() || h.NumShared() <= 0 {
			continue
		}
		live = append(live, n)
	}
	if len(live) == 0 {
		return 0, 0
	}

	c := &cycleCollector{}
	for _, n := range live {
		c.markGray(n)
	}
	for _, n := range live {
		c.scan(n)
	}
	b := biconnectedCollector{c: c}
	for _, n := range live {
		b.visitObject(n)
	}
	objects, worlds = c.teardown(rt)
	c.reset()
	return objects, worlds
}

// forEachEdge calls fn for each node n holds a strong reference to.
func forEachEdge(n node, fn func(node)) {
	if w, ok := n.(*World); ok {
		w.memo.Range(func(_, v Object) bool {
			fn(v)
			return true
		})
		return
	}
	n.Accept(edgeVisitor(fn))
}

type edgeVisitor func(node)

func (f edgeVisitor) VisitShared(p SharedField) {
	if t := p.Target(); t != nil {
		f(t)
	}
	if w := p.World(); w != nil {
		f(w)
	}
}

func (f edgeVisitor) VisitWeak(p WeakField) {
	if w := p.World(); w != nil {
		f(w)
	}
}

func (c *cycleCollector) markGray(n node) {
	h := n.header()
	if h.flags.Or(uint32(marked))&uint32(marked) != 0 {
		return
	}
	h.trial = h.shared.Load()
	c.visited = append(c.visited, n)
	forEachEdge(n, func(t node) {
		c.markGray(t)
		t.header().trial--
	})
}

func (c *cycleCollector) scan(n node) {
	h := n.header()
	f := h.flags.Load()
	if f&uint32(marked) == 0 || f&uint32(scanned|reached) != 0 {
		return
	}
	h.flags.Or(uint32(scanned))
	if h.trial > 0 {
		c.scanBlack(n)
		return
	}
	forEachEdge(n, c.scan)
}

func (c *cycleCollector) scanBlack(n node) {
	h := n.header()
	if h.flags.Or(uint32(reached))&uint32(reached) != 0 {
		return
	}
	forEachEdge(n, c.scanBlack)
}

func white(h *Header) bool {
	f := h.flags.Load()
	return f&uint32(marked) != 0 && f&uint32(reached) == 0
}

// biconnectedCollector gathers the unreachable component. The exchange-or
// on Collected means each node is entered once.
type biconnectedCollector struct {
	c *cycleCollector
}

func (b biconnectedCollector) visitObject(n node) {
	h := n.header()
	if !white(h) {
		return
	}
	if h.flags.Or(uint32(Collected))&uint32(Collected) != 0 {
		return
	}
	b.c.white = append(b.c.white, n)
	if w, ok := n.(*World); ok {
		w.memo.Range(func(_, v Object) bool {
			b.visitObject(v)
			return true
		})
		return
	}
	n.Accept(b)
}

func (b biconnectedCollector) VisitShared(p SharedField) {
	if t := p.Target(); t != nil {
		b.visitObject(t)
	}
	if w := p.World(); w != nil {
		b.visitObject(w)
	}
}

func (b biconnectedCollector) VisitWeak(p WeakField) {
	if w := p.World(); w != nil {
		b.visitObject(w)
	}
}

// drop releases one strong reference to n. References between white nodes
// are dropped without cascading; the component is destroyed as a unit.
func drop(n node) {
	h := n.header()
	if white(h) && h.IsCollected() {
		h.shared.Add(-1)
		return
	}
	h.DecShared()
}

type teardownVisitor struct{}

func (teardownVisitor) VisitShared(p SharedField) {
	if t := p.Target(); t != nil {
		p.setTarget(nil)
		drop(t)
	}
	if w := p.World(); w != nil {
		p.setWorld(nil)
		drop(w)
	}
}

func (teardownVisitor) VisitWeak(p WeakField) {
	if t := p.Target(); t != nil {
		p.setTarget(nil)
		t.header().DecWeak()
	}
	if w := p.World(); w != nil {
		p.setWorld(nil)
		drop(w)
	}
}

func (c *cycleCollector) teardown(rt *Runtime) (objects, worlds int) {
	for _, n := range c.white {
		if w, ok := n.(*World); ok {
			rt.unregister(w)
			w.memo.Drain(func(k, v Object) {
				k.header().DecWeak()
				drop(v)
			})
			continue
		}
		n.Accept(teardownVisitor{})
	}
	for _, n := range c.white {
		h := n.header()
		h.flags.Or(uint32(destroyed))
		h.shared.Store(0)
		if _, ok := n.(*World); ok {
			worlds++
		} else {
			objects++
			rt.stats.destroyed.Add(1)
			rt.stats.collected.Add(1)
		}
		if h.weak.Load() == 0 {
			h.deallocate()
		}
	}
	if len(c.white) > 0 {
		rt.log.Debug("cycles reclaimed", "objects", objects, "worlds", worlds)
	}
	return objects, worlds
}

func (c *cycleCollector) reset() {
	for _, n := range c.visited {
		h := n.header()
		h.flags.And(^colours)
		h.trial = 0
	}
}
