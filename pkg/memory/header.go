package memory

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Object Header - reference counts and status bits for lazily cloned objects
//
// Every managed object embeds a Header. The header carries:
// - shared: strong count; the object is live while it is positive
// - weak:   weak count; storage is released once both counts are zero
// - flags:  Frozen, Finished, Collected, Single plus collector bits
// - context: the World the instance was created in (not an owning reference)
//
// Reaching zero strong references destroys the object: its pointer fields
// are released, which may cascade. Dropping to a non-zero count buffers the
// object as a possible cycle root for the next Collect.

// Flag is a status bit in an object header.
type Flag uint32

const (
	Frozen    Flag = 1 << iota // read-only for its generation
	Finished                   // deep finish already applied
	Collected                  // reclaimed by the cycle collector
	Single                     // one strong and at most one weak referrer at freeze time

	buffered    // queued as a possible cycle root
	marked      // trial counts initialised
	scanned     // trial counts inspected
	reached     // reachable from outside the candidate set
	destroyed   // pointer fields released
	deallocated // storage released
)

const colours = uint32(marked | scanned | reached)

// node is anything that takes part in reference counting: objects and worlds.
type node interface {
	Visitable
	Identity() uintptr
	header() *Header
}

// Object is the interface implemented by managed objects. Types satisfy it
// by embedding Header and implementing Accept and Clone.
//
// Clone returns a shallow copy: scalar fields by value, pointer fields as
// raw copies, containers duplicated so the copy does not share backing
// storage. The header of the copy must be left zero.
type Object interface {
	node
	Clone() Object
}

// Header is embedded in every managed object.
type Header struct {
	shared  atomic.Int64
	weak    atomic.Int64
	flags   atomic.Uint32
	context *World
	self    node
	trial   int64
}

func (h *Header) header() *Header {
	return h
}

// Identity returns the address of the header, used as the object's
// identity by memo tables.
func (h *Header) Identity() uintptr {
	return uintptr(unsafe.Pointer(h))
}

// bind is called once, before the object is published. self is never
// written again, so concurrent DecShared calls may read it freely.
func (h *Header) bind(self node, w *World, shared int64) {
	h.self = self
	h.context = w
	h.shared.Store(shared)
	if w != nil {
		w.rt.stats.allocated.Add(1)
	}
}

func (h *Header) runtime() *Runtime {
	if w, ok := h.self.(*World); ok {
		return w.rt
	}
	if h.context != nil {
		return h.context.rt
	}
	return nil
}

// Context returns the World in which this instance was created.
func (h *Header) Context() *World {
	return h.context
}

// NumShared returns the strong reference count.
func (h *Header) NumShared() int64 {
	return h.shared.Load()
}

// NumWeak returns the weak reference count.
func (h *Header) NumWeak() int64 {
	return h.weak.Load()
}

// Flags returns the status bits.
func (h *Header) Flags() Flag {
	return Flag(h.flags.Load())
}

func (h *Header) has(f Flag) bool {
	return h.flags.Load()&uint32(f) != 0
}

// IsFrozen reports whether the object is read-only.
func (h *Header) IsFrozen() bool { return h.has(Frozen) }

// IsFinished reports whether Finish has been applied.
func (h *Header) IsFinished() bool { return h.has(Finished) }

// IsSingle reports whether, when frozen, the object had a single referrer.
func (h *Header) IsSingle() bool { return h.has(Single) }

// IsCollected reports whether the cycle collector reclaimed the object.
func (h *Header) IsCollected() bool { return h.has(Collected) }

// IsDestroyed reports whether the object's fields have been released.
func (h *Header) IsDestroyed() bool { return h.has(destroyed) }

// IsReclaimed reports whether the object's storage has been released.
func (h *Header) IsReclaimed() bool { return h.has(deallocated) }

// IncShared increments the strong count.
func (h *Header) IncShared() {
	h.shared.Add(1)
}

// DecShared decrements the strong count and returns the new count. At zero
// the object is destroyed.
func (h *Header) DecShared() int64 {
	n := h.shared.Add(-1)
	if n == 0 {
		h.destroy()
	} else if n > 0 {
		h.possibleRoot()
	}
	return n
}

// IncWeak increments the weak count.
func (h *Header) IncWeak() {
	h.weak.Add(1)
}

// DecWeak decrements the weak count and returns the new count. A destroyed
// object with no weak references left is deallocated.
func (h *Header) DecWeak() int64 {
	n := h.weak.Add(-1)
	if n == 0 && h.IsDestroyed() {
		h.deallocate()
	}
	return n
}

// tryIncShared increments the strong count only if it is non-zero.
func (h *Header) tryIncShared() bool {
	for {
		n := h.shared.Load()
		if n <= 0 {
			return false
		}
		if h.shared.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *Header) possibleRoot() {
	rt := h.runtime()
	if rt == nil || h.self == nil {
		return
	}
	if h.flags.Or(uint32(buffered))&uint32(buffered) == 0 {
		rt.buffer(h.self)
	}
}

func (h *Header) destroy() {
	if h.flags.Or(uint32(destroyed))&uint32(destroyed) != 0 {
		return
	}
	switch s := h.self.(type) {
	case nil:
	case *World:
		s.release()
	default:
		s.Accept(releaser{})
	}
	if h.context != nil {
		h.context.rt.stats.destroyed.Add(1)
	}
	if h.weak.Load() == 0 {
		h.deallocate()
	}
}

func (h *Header) deallocate() {
	if h.flags.Or(uint32(deallocated))&uint32(deallocated) != 0 {
		return
	}
	if h.context != nil {
		h.context.rt.stats.deallocated.Add(1)
	}
}

// Freeze makes the object and everything reachable from it read-only. It
// is idempotent.
func (h *Header) Freeze() {
	if h.flags.Or(uint32(Frozen))&uint32(Frozen) != 0 {
		return
	}
	nshared := h.shared.Load()
	if nshared <= 1 && h.weak.Load() <= 1 {
		h.flags.Or(uint32(Single))
	}
	if nshared > 0 && h.self != nil {
		h.self.Accept(freezer{})
	}
}

// Thaw rebinds a frozen object to w for reuse, clearing Frozen, Finished
// and Single. Its pointer fields are rebound to w as a copy into w would
// be. The caller must hold a strong reference.
func (h *Header) Thaw(w *World) {
	h.context = w
	h.flags.And(^uint32(Frozen | Finished | Single))
	if h.self != nil {
		h.self.Accept(rebinder{w: w})
	}
	if rt := h.runtime(); rt != nil {
		rt.stats.thaws.Add(1)
	}
}

// Finish completes a lazy clone: every pointer reachable from the object
// is resolved in its world. It is idempotent.
func (h *Header) Finish() {
	if h.flags.Or(uint32(Finished))&uint32(Finished) != 0 {
		return
	}
	if h.shared.Load() > 0 && h.self != nil {
		h.self.Accept(finisher{frozen: h.IsFrozen()})
	}
}

// CheckMutable panics if the object is frozen. Setters call it before
// writing a field.
func (h *Header) CheckMutable() {
	if h.IsFrozen() {
		panic(errors.AssertionFailedf("memory: mutation of frozen object %T", h.self))
	}
}
