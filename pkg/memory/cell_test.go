package memory

import (
	"testing"

	"github.com/cockroachdb/errors"
)

// Cell is a managed object with every kind of pointer field.
type Cell struct {
	Header
	Value    int
	Next     Shared[*Cell]
	Back     Weak[*Cell]
	Children Slice[Shared[*Cell]]
	Extra    Optional[Shared[*Cell]]
	Plain    []Shared[*Cell]
}

func (c *Cell) Accept(v Visitor) {
	Visit(v, &c.Value, &c.Next, &c.Back, &c.Children, &c.Extra, &c.Plain)
}

func (c *Cell) Clone() Object {
	return &Cell{
		Value:    c.Value,
		Next:     c.Next,
		Back:     c.Back,
		Children: c.Children.Clone(),
		Extra:    c.Extra,
		Plain:    append([]Shared[*Cell](nil), c.Plain...),
	}
}

func (c *Cell) SetValue(v int) {
	c.CheckMutable()
	c.Value = v
}

// Leaf has no pointer fields.
type Leaf struct {
	Header
	Label string
}

func (l *Leaf) Accept(Visitor) {}

func (l *Leaf) Clone() Object {
	return &Leaf{Label: l.Label}
}

func newTestRuntime() *Runtime {
	return NewRuntime(DefaultConfig())
}

func newCell(w *World, v int) Shared[*Cell] {
	return New(w, &Cell{Value: v})
}

// link makes from.Next point to to, taking ownership of to.
func link(from *Shared[*Cell], to Shared[*Cell]) {
	from.Get().Next = to
}

func expectAssertion(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected an assertion failure")
		}
		err, ok := r.(error)
		if !ok || !errors.IsAssertionFailure(err) {
			t.Fatalf("expected an assertion failure, got %v", r)
		}
	}()
	fn()
}

func expectReclaimed(t *testing.T, objs ...Object) {
	t.Helper()
	for i, o := range objs {
		if !o.header().IsReclaimed() {
			t.Errorf("object %d (%T) should be reclaimed", i, o)
		}
	}
}

func expectLive(t *testing.T, objs ...Object) {
	t.Helper()
	for i, o := range objs {
		h := o.header()
		if h.IsDestroyed() || h.IsCollected() {
			t.Errorf("object %d (%T) should be live", i, o)
		}
	}
}
