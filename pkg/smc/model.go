package smc

import (
	"context"
	"math"
	"math/rand"

	"lazyclone/pkg/memory"
)

// Node is one entry of a particle's path. Paths share their prefixes
// between particles descended from the same ancestor.
type Node struct {
	memory.Header
	X    float64
	Prev memory.Shared[*Node]
}

func (n *Node) Accept(v memory.Visitor) {
	memory.Visit(v, &n.X, &n.Prev)
}

func (n *Node) Clone() memory.Object {
	return &Node{X: n.X, Prev: n.Prev}
}

// Particle is the state of one hypothesis of a random walk observed with
// Gaussian noise.
type Particle struct {
	memory.Header
	X         float64
	LogWeight float64
	Path      memory.Shared[*Node]
}

func (p *Particle) Accept(v memory.Visitor) {
	memory.Visit(v, &p.X, &p.LogWeight, &p.Path)
}

func (p *Particle) Clone() memory.Object {
	return &Particle{X: p.X, LogWeight: p.LogWeight, Path: p.Path}
}

// advance moves the particle one step and weights it against y. The old
// path becomes the tail of a new node in the world carried by ctx, or the
// particle's own world if ctx carries none.
func (p *Particle) advance(ctx context.Context, rng *rand.Rand, y float64, m Model) {
	p.CheckMutable()
	w := memory.WorldFrom(ctx)
	if w == nil {
		w = p.Context()
	}
	p.X += rng.NormFloat64() * m.Noise
	d := (p.X - y) / m.ObsNoise
	p.LogWeight = -0.5*d*d - math.Log(m.ObsNoise) - 0.5*math.Log(2*math.Pi)

	p.Path = memory.New(w, &Node{X: p.X, Prev: p.Path})
}

// Model is a one-dimensional random walk with Gaussian observations.
type Model struct {
	Noise    float64
	ObsNoise float64
}

// Simulate draws n observations from the model starting at zero.
func (m Model) Simulate(rng *rand.Rand, n int) []float64 {
	obs := make([]float64, n)
	x := 0.0
	for i := range obs {
		x += rng.NormFloat64() * m.Noise
		obs[i] = x + rng.NormFloat64()*m.ObsNoise
	}
	return obs
}
