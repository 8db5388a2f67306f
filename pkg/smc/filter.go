package smc

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"

	"lazyclone/pkg/memory"
)

// Bootstrap particle filter
//
// Each generation every particle advances in its own world. Resampling
// clones the chosen ancestors: the clone is lazy, so a particle copies an
// ancestor's state only when it writes to it, and descendants share the
// path prefix they have in common. Released generations form cycles
// between worlds and their copies; the filter collects them periodically.

// Config controls a filter run.
type Config struct {
	Particles    int
	Workers      int
	Seed         int64
	CollectEvery int
	Model        Model
}

// DefaultConfig returns a small filter configuration.
func DefaultConfig() Config {
	return Config{
		Particles:    64,
		Workers:      1,
		Seed:         1,
		CollectEvery: 1,
		Model:        Model{Noise: 1, ObsNoise: 0.5},
	}
}

func (c Config) validate() error {
	if c.Particles <= 0 {
		return errors.Newf("particles must be positive, got %d", c.Particles)
	}
	if c.Workers <= 0 {
		return errors.Newf("workers must be positive, got %d", c.Workers)
	}
	if c.Model.Noise <= 0 || c.Model.ObsNoise <= 0 {
		return errors.Newf("noise must be positive, got %g and %g", c.Model.Noise, c.Model.ObsNoise)
	}
	return nil
}

// Result is the outcome of a filter run.
type Result struct {
	// Trajectory is the path of the heaviest final particle.
	Trajectory []float64
	// LogLikelihood estimates the log marginal likelihood of the
	// observations.
	LogLikelihood float64
	// ESS is the effective sample size at each step.
	ESS []float64
}

// Filter runs a bootstrap particle filter over a memory runtime.
type Filter struct {
	cfg Config
	rt  *memory.Runtime
	log *slog.Logger
	rng *rand.Rand

	particles []memory.Shared[*Particle]
}

// NewFilter returns a filter allocating in rt.
func NewFilter(rt *memory.Runtime, cfg Config, log *slog.Logger) (*Filter, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid filter config")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Filter{
		cfg: cfg,
		rt:  rt,
		log: log,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run filters obs and returns the result. The filter's particles are
// released before it returns.
func (f *Filter) Run(ctx context.Context, obs []float64) (Result, error) {
	defer f.release()

	f.particles = make([]memory.Shared[*Particle], f.cfg.Particles)
	for i := range f.particles {
		f.particles[i] = memory.New(f.rt.Root(), &Particle{})
	}

	var res Result
	for t, y := range obs {
		if err := ctx.Err(); err != nil {
			return Result{}, errors.Wrapf(err, "step %d", t)
		}
		f.propagate(ctx, t, y)
		weights, ll := normalize(f.logWeights())
		res.LogLikelihood += ll
		ess := effectiveSampleSize(weights)
		res.ESS = append(res.ESS, ess)

		if t < len(obs)-1 {
			f.resample(weights)
		} else {
			res.Trajectory = f.trajectory(weights)
		}
		if f.cfg.CollectEvery > 0 && (t+1)%f.cfg.CollectEvery == 0 {
			f.rt.Collect()
		}
		f.log.Debug("step", "t", t, "ess", ess, "worlds", f.rt.Worlds())
	}
	st := f.rt.Stats()
	f.log.Info("filter done",
		"steps", len(obs),
		"particles", f.cfg.Particles,
		"log_likelihood", res.LogLikelihood,
		"lazy_copies", st.LazyCopies,
		"thaws", st.Thaws,
		"collected", st.Collected,
	)
	return res, nil
}

// propagate advances every particle. Particles live in distinct worlds,
// so workers never write the same object.
func (f *Filter) propagate(ctx context.Context, t int, y float64) {
	n := len(f.particles)
	var wg sync.WaitGroup
	for k := 0; k < f.cfg.Workers; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for i := k; i < n; i += f.cfg.Workers {
				rng := rand.New(rand.NewSource(f.cfg.Seed + int64(t*n+i) + 1))
				p := &f.particles[i]
				c := p.Get()
				c.advance(memory.WithWorld(ctx, p.World()), rng, y, f.cfg.Model)
			}
		}(k)
	}
	wg.Wait()
}

func (f *Filter) logWeights() []float64 {
	lw := make([]float64, len(f.particles))
	for i := range f.particles {
		lw[i] = f.particles[i].Pull().LogWeight
	}
	return lw
}

// resample replaces the particles by lazy clones of ancestors drawn with
// systematic resampling.
func (f *Filter) resample(weights []float64) {
	n := len(f.particles)
	next := make([]memory.Shared[*Particle], n)
	u := f.rng.Float64() / float64(n)
	cum := weights[0]
	j := 0
	for i := range next {
		for u > cum && j < n-1 {
			j++
			cum += weights[j]
		}
		next[i] = memory.Clone(&f.particles[j])
		u += 1 / float64(n)
	}
	f.release()
	f.particles = next
}

// trajectory finishes the heaviest particle and reads its path.
func (f *Filter) trajectory(weights []float64) []float64 {
	best := 0
	for i, w := range weights {
		if w > weights[best] {
			best = i
		}
	}
	p := f.particles[best].Copy()
	defer p.Release()
	memory.Finish(&p)

	var xs []float64
	for n := p.Pull().Path; n.Query(); n = n.Pull().Prev {
		xs = append(xs, n.Pull().X)
	}
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
	return xs
}

func (f *Filter) release() {
	for i := range f.particles {
		f.particles[i].Release()
	}
	f.particles = nil
}

// normalize turns log weights into normalized weights and returns the log
// of their mean.
func normalize(lw []float64) ([]float64, float64) {
	m := math.Inf(-1)
	for _, v := range lw {
		m = math.Max(m, v)
	}
	w := make([]float64, len(lw))
	sum := 0.0
	for i, v := range lw {
		w[i] = math.Exp(v - m)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w, m + math.Log(sum/float64(len(lw)))
}

func effectiveSampleSize(w []float64) float64 {
	ss := 0.0
	for _, v := range w {
		ss += v * v
	}
	return 1 / ss
}
