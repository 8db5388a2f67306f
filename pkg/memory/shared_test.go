package memory

import "testing"

func TestShared_NullDereference(t *testing.T) {
	var p Shared[*Cell]
	if p.Query() {
		t.Error("Zero pointer should be null")
	}
	expectAssertion(t, func() { p.Get() })
	expectAssertion(t, func() { p.Pull() })
}

func TestShared_AssignSameWorld(t *testing.T) {
	rt := newTestRuntime()
	a := newCell(rt.Root(), 1)
	b := newCell(rt.Root(), 2)
	ac, bc := a.Pull(), b.Pull()

	a.Assign(b)
	if a.Pull() != bc {
		t.Error("Assign should retarget the pointer")
	}
	expectReclaimed(t, ac)
	if bc.NumShared() != 2 {
		t.Errorf("Expected shared=2, got %d", bc.NumShared())
	}
	a.Release()
	b.Release()
	expectReclaimed(t, bc)
}

func TestShared_AssignFromAncestor(t *testing.T) {
	rt := newTestRuntime()
	a := newCell(rt.Root(), 1)
	b := Clone(&a)
	d := newCell(rt.Root(), 5)

	b.Get().Next.Assign(d)
	if b.Pull().Next.Pull() != d.Pull() {
		t.Error("Pointer from an ancestor world should be assignable")
	}
	if b.Pull().Next.World() != b.World() {
		t.Error("Assign should keep the destination's world")
	}

	d.Release()
	b.Release()
	a.Release()
}

func TestShared_AssignAcrossWorldsPanics(t *testing.T) {
	rt := newTestRuntime()
	a := newCell(rt.Root(), 1)
	b := Clone(&a)
	c := Clone(&a)

	expectAssertion(t, func() { b.Get().Next.Assign(c) })
	expectAssertion(t, func() {
		x := a.Copy()
		defer x.Release()
		x.Assign(b)
	})

	c.Release()
	b.Release()
	a.Release()
}

func TestShared_AssignToNullAdoptsWorld(t *testing.T) {
	rt := newTestRuntime()
	a := newCell(rt.Root(), 1)

	var p Shared[*Cell]
	p.Assign(a)
	if p.World() != rt.Root() || p.Pull() != a.Pull() {
		t.Error("Null pointer should adopt the source's world and target")
	}
	p.Release()
	a.Release()
}

func TestShared_CopyToDescendant(t *testing.T) {
	rt := newTestRuntime()
	a := newCell(rt.Root(), 1)
	Freeze(&a)
	child := rt.Root().Fork()

	p := a.CopyTo(child)
	p.Get().SetValue(2)
	if a.Pull().Value != 1 || p.Pull().Value != 2 {
		t.Error("Pointer rebound to a child world should copy on write")
	}

	other := rt.Root().Fork()
	q := a.CopyTo(other)
	expectAssertion(t, func() { p.CopyTo(other) })

	q.Release()
	p.Release()
	a.Release()
}

func TestShared_Cast(t *testing.T) {
	rt := newTestRuntime()
	p := New[Object](rt.Root(), &Leaf{Label: "x"})

	leaf, ok := Cast[*Leaf](&p)
	if !ok || leaf.Pull().Label != "x" {
		t.Fatal("Cast to the dynamic type should succeed")
	}
	if _, ok := Cast[*Cell](&p); ok {
		t.Error("Cast to an unrelated type should fail")
	}
	expectAssertion(t, func() { MustCast[*Cell](&p) })

	back := MustCast[Object](&leaf)
	if back.Pull() != Object(leaf.Pull()) {
		t.Error("Upcast should keep the target")
	}
	if leaf.Pull().NumShared() != 3 {
		t.Errorf("Each cast should hold a reference, got %d", leaf.Pull().NumShared())
	}

	back.Release()
	leaf.Release()
	p.Release()
}

func TestShared_ContainersVisited(t *testing.T) {
	rt := newTestRuntime()
	w := rt.Root()

	a := newCell(w, 0)
	c := a.Get()
	c.Children = append(c.Children, newCell(w, 1), newCell(w, 2))
	c.Extra = Some(newCell(w, 3))
	c.Plain = append(c.Plain, newCell(w, 4))

	kids := []Object{
		c.Children[0].Pull(),
		c.Children[1].Pull(),
		c.Extra.Ptr().Pull(),
		c.Plain[0].Pull(),
	}
	Freeze(&a)
	for i, k := range kids {
		if !k.header().IsFrozen() {
			t.Errorf("Child %d should be reached through its container", i)
		}
	}

	a.Release()
	expectReclaimed(t, kids...)
}
