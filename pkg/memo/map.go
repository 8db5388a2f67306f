package memo

import (
	"encoding/binary"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Open-addressed identity map used to memoize clones.
//
// Slots hold an immutable (key, value) pair behind an atomic pointer, so
// installing an association is a single compare-and-swap. Readers and
// writers share the read side of a RWMutex; only a resize takes the write
// side. Writers reserve capacity before probing: once reservations exceed
// the crowd threshold (3/4 of capacity by default) the reserving writer
// grows the table, re-checking under the exclusive lock so that racing
// writers resize only once.

// DefaultFloor is the minimum number of slots allocated for a table.
const DefaultFloor = 256

// DefaultCrowding is the occupancy fraction above which the table grows.
const DefaultCrowding = 0.75

// Keyed is implemented by keys whose identity is a stable address.
type Keyed interface {
	Identity() uintptr
}

type entry[K Keyed, V any] struct {
	key   K
	value V
}

type table[K Keyed, V any] struct {
	slots []atomic.Pointer[entry[K, V]]
	mask  uint64
}

func newTable[K Keyed, V any](n int) *table[K, V] {
	return &table[K, V]{
		slots: make([]atomic.Pointer[entry[K, V]], n),
		mask:  uint64(n - 1),
	}
}

func (t *table[K, V]) size() int {
	if t == nil {
		return 0
	}
	return len(t.slots)
}

func (t *table[K, V]) index(id uintptr) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return xxhash.Sum64(buf[:]) & t.mask
}

// place stores e in the first free slot of its probe sequence. Only valid
// while the table is not visible to other goroutines or under the exclusive
// lock.
func (t *table[K, V]) place(e *entry[K, V]) {
	i := t.index(e.key.Identity())
	for t.slots[i].Load() != nil {
		i = (i + 1) & t.mask
	}
	t.slots[i].Store(e)
}

// Option configures a Map.
type Option func(*options)

type options struct {
	floor    int
	crowding float64
	logger   *slog.Logger
}

// WithFloor sets the minimum table size. It is rounded up to a power of two.
func WithFloor(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.floor = 1 << bits.Len(uint(n-1))
		}
	}
}

// WithCrowding sets the occupancy fraction above which the table grows.
// Values outside (0, 1) are ignored.
func WithCrowding(f float64) Option {
	return func(o *options) {
		if f > 0 && f < 1 {
			o.crowding = f
		}
	}
}

// WithLogger sets the logger used to report resizes.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Hooks account for the references a table holds on its keys and values.
// Any hook may be nil.
type Hooks[K Keyed, V any] struct {
	RetainKey    func(K)
	ReleaseKey   func(K)
	RetainValue  func(V)
	ReleaseValue func(V)
}

// Map is a concurrent identity map from K to V.
type Map[K Keyed, V any] struct {
	lock     sync.RWMutex
	tab      atomic.Pointer[table[K, V]]
	reserved atomic.Int64
	resizes  atomic.Int64
	hooks    Hooks[K, V]
	opts     options
}

// New creates an empty map. No slots are allocated until the first insert.
func New[K Keyed, V any](hooks Hooks[K, V], opts ...Option) *Map[K, V] {
	m := &Map[K, V]{
		hooks: hooks,
		opts: options{
			floor:    DefaultFloor,
			crowding: DefaultCrowding,
			logger:   slog.New(slog.DiscardHandler),
		},
	}
	for _, opt := range opts {
		opt(&m.opts)
	}
	return m
}

func (m *Map[K, V]) crowd(n int) int64 {
	return int64(float64(n) * m.opts.crowding)
}

// Get returns the value associated with key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var zero V
	t := m.tab.Load()
	if t == nil {
		return zero, false
	}
	id := key.Identity()
	i := t.index(id)
	for {
		e := t.slots[i].Load()
		if e == nil {
			return zero, false
		}
		if e.key.Identity() == id {
			return e.value, true
		}
		i = (i + 1) & t.mask
	}
}

// Put associates value with key unless key is already present, in which
// case the existing value is returned and value is released. The first
// writer wins.
func (m *Map[K, V]) Put(key K, value V) V {
	m.reserve()
	if m.hooks.RetainValue != nil {
		m.hooks.RetainValue(value)
	}

	m.lock.RLock()
	t := m.tab.Load()
	e := &entry[K, V]{key: key, value: value}
	id := key.Identity()
	i := t.index(id)
	var existing *entry[K, V]
	for {
		if t.slots[i].CompareAndSwap(nil, e) {
			break
		}
		cur := t.slots[i].Load()
		if cur != nil && cur.key.Identity() == id {
			existing = cur
			break
		}
		if cur != nil {
			i = (i + 1) & t.mask
		}
	}
	m.lock.RUnlock()

	if existing != nil {
		m.unreserve()
		if m.hooks.ReleaseValue != nil {
			m.hooks.ReleaseValue(value)
		}
		return existing.value
	}
	if m.hooks.RetainKey != nil {
		m.hooks.RetainKey(key)
	}
	return value
}

// Set associates value with key, replacing any existing association.
func (m *Map[K, V]) Set(key K, value V) V {
	m.reserve()
	if m.hooks.RetainValue != nil {
		m.hooks.RetainValue(value)
	}

	m.lock.RLock()
	t := m.tab.Load()
	e := &entry[K, V]{key: key, value: value}
	id := key.Identity()
	i := t.index(id)
	var displaced *entry[K, V]
	for {
		if t.slots[i].CompareAndSwap(nil, e) {
			break
		}
		cur := t.slots[i].Load()
		if cur != nil && cur.key.Identity() == id {
			for !t.slots[i].CompareAndSwap(cur, e) {
				cur = t.slots[i].Load()
			}
			displaced = cur
			break
		}
		if cur != nil {
			i = (i + 1) & t.mask
		}
	}
	m.lock.RUnlock()

	if displaced != nil {
		m.unreserve()
		if m.hooks.ReleaseValue != nil {
			m.hooks.ReleaseValue(displaced.value)
		}
		return value
	}
	if m.hooks.RetainKey != nil {
		m.hooks.RetainKey(key)
	}
	return value
}

func (m *Map[K, V]) reserve() {
	n := m.reserved.Add(1)
	if n <= m.crowd(m.tab.Load().size()) {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	old := m.tab.Load()
	if n <= m.crowd(old.size()) {
		return
	}
	size := max(2*old.size(), m.opts.floor)
	next := newTable[K, V](size)
	if old != nil {
		for i := range old.slots {
			if e := old.slots[i].Load(); e != nil {
				next.place(e)
			}
		}
		m.resizes.Add(1)
		m.opts.logger.Debug("memo resized", "from", old.size(), "to", size, "reserved", n)
	}
	m.tab.Store(next)
}

func (m *Map[K, V]) unreserve() {
	m.reserved.Add(-1)
}

// Collect drops every entry whose key is not alive, releasing the table's
// holds on both its key and value, and rehashes the survivors. It returns
// the number of entries dropped.
func (m *Map[K, V]) Collect(alive func(K) bool) int {
	m.lock.Lock()
	old := m.tab.Load()
	if old == nil {
		m.lock.Unlock()
		return 0
	}
	var dead []*entry[K, V]
	next := newTable[K, V](old.size())
	live := 0
	for i := range old.slots {
		e := old.slots[i].Load()
		if e == nil {
			continue
		}
		if alive(e.key) {
			next.place(e)
			live++
		} else {
			dead = append(dead, e)
		}
	}
	if len(dead) > 0 {
		m.tab.Store(next)
		m.reserved.Store(int64(live))
	}
	m.lock.Unlock()

	for _, e := range dead {
		m.release(e)
	}
	return len(dead)
}

// Release empties the map, releasing every hold it has.
func (m *Map[K, V]) Release() {
	m.Drain(func(k K, v V) {
		m.release(&entry[K, V]{key: k, value: v})
	})
}

// Drain empties the map and passes every entry to fn instead of the
// release hooks. The caller takes over the table's holds.
func (m *Map[K, V]) Drain(fn func(K, V)) {
	m.lock.Lock()
	old := m.tab.Swap(nil)
	m.reserved.Store(0)
	m.lock.Unlock()

	if old == nil {
		return
	}
	for i := range old.slots {
		if e := old.slots[i].Load(); e != nil {
			fn(e.key, e.value)
		}
	}
}

func (m *Map[K, V]) release(e *entry[K, V]) {
	if m.hooks.ReleaseKey != nil {
		m.hooks.ReleaseKey(e.key)
	}
	if m.hooks.ReleaseValue != nil {
		m.hooks.ReleaseValue(e.value)
	}
}

// Range calls fn for each entry present when Range was called. fn runs
// without any lock held and may use the map.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	m.lock.RLock()
	t := m.tab.Load()
	var snapshot []*entry[K, V]
	if t != nil {
		for i := range t.slots {
			if e := t.slots[i].Load(); e != nil {
				snapshot = append(snapshot, e)
			}
		}
	}
	m.lock.RUnlock()

	for _, e := range snapshot {
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()

	t := m.tab.Load()
	if t == nil {
		return 0
	}
	n := 0
	for i := range t.slots {
		if t.slots[i].Load() != nil {
			n++
		}
	}
	return n
}

// Cap returns the number of slots.
func (m *Map[K, V]) Cap() int {
	return m.tab.Load().size()
}

// Empty reports whether no slots have been allocated or all were drained.
func (m *Map[K, V]) Empty() bool {
	return m.tab.Load() == nil
}

// Resizes returns how many times a populated table has grown.
func (m *Map[K, V]) Resizes() int {
	return int(m.resizes.Load())
}
