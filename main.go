package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lazyclone/pkg/memory"
	"lazyclone/pkg/metrics"
	"lazyclone/pkg/smc"
)

var (
	particles    = flag.Int("particles", 256, "Number of particles")
	steps        = flag.Int("steps", 50, "Number of observations to simulate and filter")
	workers      = flag.Int("workers", 1, "Goroutines used to propagate particles")
	seed         = flag.Int64("seed", 1, "Random seed")
	collectEvery = flag.Int("collect-every", 1, "Run the cycle collector every N steps (0 disables)")
	single       = flag.Bool("single", false, "Thaw singly referenced objects in place instead of copying")
	memoFloor    = flag.Int("memo-floor", memory.DefaultConfig().MemoFloor, "Minimum memo table size")
	memoCrowding = flag.Float64("memo-crowding", memory.DefaultConfig().MemoCrowding, "Memo occupancy that triggers a resize")
	metricsAddr  = flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	verbose      = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lazyclone - particle filter over lazily cloned object graphs\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -particles 1024 -steps 100       # Filter a simulated series\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -single -workers 4 -v             # Thaw in place, 4 workers\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -metrics :9090 -steps 100000      # Long run with metrics\n", os.Args[0])
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if *verbose {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg := memory.DefaultConfig()
	cfg.SingleReference = *single
	cfg.MemoFloor = *memoFloor
	cfg.MemoCrowding = *memoCrowding
	cfg.Logger = log
	rt := memory.NewRuntime(cfg)

	if *metricsAddr != "" {
		if err := serveMetrics(rt, *metricsAddr, log); err != nil {
			return err
		}
	}

	fcfg := smc.DefaultConfig()
	fcfg.Particles = *particles
	fcfg.Workers = *workers
	fcfg.Seed = *seed
	fcfg.CollectEvery = *collectEvery
	f, err := smc.NewFilter(rt, fcfg, log)
	if err != nil {
		return err
	}

	obs := fcfg.Model.Simulate(rand.New(rand.NewSource(*seed)), *steps)
	res, err := f.Run(ctx, obs)
	if err != nil {
		return errors.Wrap(err, "filter")
	}

	rt.Close()
	rep := rt.Collect()
	st := rt.Stats()
	if st.Allocated != st.Deallocated {
		return errors.Newf("%d objects not reclaimed", st.Allocated-st.Deallocated)
	}

	fmt.Printf("log likelihood: %.4f\n", res.LogLikelihood)
	fmt.Printf("trajectory:     %s\n", formatSeries(res.Trajectory, 8))
	fmt.Printf("objects:        %d allocated, %d lazy copies, %d thaws, %d collected\n",
		st.Allocated, st.LazyCopies, st.Thaws, st.Collected)
	fmt.Printf("worlds:         %d created, %d live\n", st.WorldsCreated, st.LiveWorlds)
	fmt.Printf("final collect:  %d passes, %d objects, %d worlds\n", rep.Passes, rep.Objects, rep.Worlds)
	return nil
}

func serveMetrics(rt *memory.Runtime, addr string, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector("lazyclone", rt, nil)); err != nil {
		return errors.Wrap(err, "register metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return nil
}

// formatSeries prints up to n values from the end of xs.
func formatSeries(xs []float64, n int) string {
	var b strings.Builder
	if len(xs) > n {
		b.WriteString("... ")
		xs = xs[len(xs)-n:]
	}
	for i, x := range xs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.3f", x)
	}
	return b.String()
}
