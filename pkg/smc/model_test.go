package smc

import (
	"context"
	"math/rand"
	"testing"

	"lazyclone/pkg/memory"
)

func TestParticle_AdvanceInContextWorld(t *testing.T) {
	rt := memory.NewRuntime(memory.DefaultConfig())
	p := memory.New(rt.Root(), &Particle{})
	b := memory.Clone(&p)

	c := b.Get()
	ctx := memory.WithWorld(context.Background(), b.World())
	c.advance(ctx, rand.New(rand.NewSource(1)), 0, Model{Noise: 1, ObsNoise: 1})

	if c.Path.World() != b.World() {
		t.Error("New path node should be bound to the world carried by the context")
	}
	if n := c.Path.Pull(); n.X != c.X || n.Context() != b.World() {
		t.Error("New path node should record the particle's position in its world")
	}
	if p.Pull().Path.Query() {
		t.Error("Advancing the clone should not touch the original")
	}

	b.Release()
	p.Release()
}

func TestParticle_AdvanceWithoutWorld(t *testing.T) {
	rt := memory.NewRuntime(memory.DefaultConfig())
	p := memory.New(rt.Root(), &Particle{})

	c := p.Get()
	c.advance(context.Background(), rand.New(rand.NewSource(1)), 0, Model{Noise: 1, ObsNoise: 1})
	if c.Path.Pull().Context() != rt.Root() {
		t.Error("Without a world in the context the particle's own world should be used")
	}
	p.Release()
}
