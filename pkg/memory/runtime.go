package memory

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"lazyclone/pkg/memo"
)

// Config holds the runtime's tunables.
type Config struct {
	// SingleReference enables thawing a frozen object in place, instead of
	// copying it, when it had a single referrer at freeze time and still
	// has exactly one.
	SingleReference bool

	// MemoFloor is the minimum slot count of a memo table.
	MemoFloor int

	// MemoCrowding is the occupancy fraction above which a memo table grows.
	MemoCrowding float64

	// Logger receives debug events. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		MemoFloor:    memo.DefaultFloor,
		MemoCrowding: memo.DefaultCrowding,
	}
}

// Stats tracks runtime activity.
type Stats struct {
	Allocated       int64
	Destroyed       int64
	Deallocated     int64
	Collected       int64
	Collections     int64
	LazyCopies      int64
	DeepCopies      int64
	Thaws           int64
	WorldsCreated   int64
	WorldsDestroyed int64
	LiveWorlds      int
	PossibleRoots   int
}

type counters struct {
	allocated       atomic.Int64
	destroyed       atomic.Int64
	deallocated     atomic.Int64
	collected       atomic.Int64
	collections     atomic.Int64
	lazyCopies      atomic.Int64
	deepCopies      atomic.Int64
	thaws           atomic.Int64
	worldsCreated   atomic.Int64
	worldsDestroyed atomic.Int64
}

// Runtime is the process-wide state shared by a family of worlds: the
// root world, the registry of live worlds, the buffer of possible cycle
// roots and statistics. Create one with NewRuntime and end it with Close.
type Runtime struct {
	cfg Config
	log *slog.Logger

	root      *World
	nextWorld atomic.Uint64

	mu     sync.Mutex
	worlds map[uint64]*World

	rootsMu sync.Mutex
	roots   []node

	collectMu sync.Mutex

	stats counters
}

// NewRuntime creates a runtime with a root world.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	rt := &Runtime{
		cfg:    cfg,
		log:    cfg.Logger,
		worlds: make(map[uint64]*World),
	}
	rt.root = newWorld(rt, nil)
	rt.root.IncShared()
	return rt
}

// Root returns the root world. Objects allocated outside any clone belong
// to it.
func (rt *Runtime) Root() *World {
	return rt.root
}

// Config returns the runtime's tunables.
func (rt *Runtime) Config() Config {
	return rt.cfg
}

// Close releases the runtime's hold on the root world. A Collect after
// Close reclaims whatever the root world kept alive; objects still
// referenced stay usable.
func (rt *Runtime) Close() {
	rt.collectMu.Lock()
	defer rt.collectMu.Unlock()

	if rt.root != nil {
		rt.root.DecShared()
		rt.root = nil
	}
}

func (rt *Runtime) memoOptions() []memo.Option {
	return []memo.Option{
		memo.WithFloor(rt.cfg.MemoFloor),
		memo.WithCrowding(rt.cfg.MemoCrowding),
		memo.WithLogger(rt.log),
	}
}

func (rt *Runtime) register(w *World) {
	rt.mu.Lock()
	rt.worlds[w.id] = w
	rt.mu.Unlock()
	rt.stats.worldsCreated.Add(1)
}

func (rt *Runtime) unregister(w *World) {
	rt.mu.Lock()
	delete(rt.worlds, w.id)
	rt.mu.Unlock()
	rt.stats.worldsDestroyed.Add(1)
}

func (rt *Runtime) liveWorlds() []*World {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ws := make([]*World, 0, len(rt.worlds))
	for _, w := range rt.worlds {
		ws = append(ws, w)
	}
	return ws
}

// Worlds returns the number of live worlds.
func (rt *Runtime) Worlds() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.worlds)
}

func (rt *Runtime) buffer(n node) {
	rt.rootsMu.Lock()
	rt.roots = append(rt.roots, n)
	rt.rootsMu.Unlock()
}

func (rt *Runtime) takeRoots() []node {
	rt.rootsMu.Lock()
	roots := rt.roots
	rt.roots = nil
	rt.rootsMu.Unlock()
	for _, n := range roots {
		n.header().flags.And(^uint32(buffered))
	}
	return roots
}

// Stats returns a snapshot of runtime statistics.
func (rt *Runtime) Stats() Stats {
	rt.rootsMu.Lock()
	possible := len(rt.roots)
	rt.rootsMu.Unlock()
	return Stats{
		Allocated:       rt.stats.allocated.Load(),
		Destroyed:       rt.stats.destroyed.Load(),
		Deallocated:     rt.stats.deallocated.Load(),
		Collected:       rt.stats.collected.Load(),
		Collections:     rt.stats.collections.Load(),
		LazyCopies:      rt.stats.lazyCopies.Load(),
		DeepCopies:      rt.stats.deepCopies.Load(),
		Thaws:           rt.stats.thaws.Load(),
		WorldsCreated:   rt.stats.worldsCreated.Load(),
		WorldsDestroyed: rt.stats.worldsDestroyed.Load(),
		LiveWorlds:      rt.Worlds(),
		PossibleRoots:   possible,
	}
}
