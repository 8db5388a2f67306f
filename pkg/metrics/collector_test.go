package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"lazyclone/pkg/memory"
)

type fixedStats memory.Stats

func (f fixedStats) Stats() memory.Stats { return memory.Stats(f) }

func TestCollector_Count(t *testing.T) {
	c := NewCollector("lazyclone", fixedStats{}, nil)
	if n := testutil.CollectAndCount(c); n != 12 {
		t.Errorf("Expected 12 metrics, got %d", n)
	}
}

func TestCollector_Values(t *testing.T) {
	c := NewCollector("lazyclone", fixedStats{
		Allocated:  7,
		Collected:  3,
		LiveWorlds: 2,
	}, nil)

	expected := `
# HELP lazyclone_objects_allocated_total Objects bound to a world.
# TYPE lazyclone_objects_allocated_total counter
lazyclone_objects_allocated_total 7
# HELP lazyclone_objects_collected_total Objects reclaimed by the cycle collector.
# TYPE lazyclone_objects_collected_total counter
lazyclone_objects_collected_total 3
# HELP lazyclone_worlds_live Worlds currently alive.
# TYPE lazyclone_worlds_live gauge
lazyclone_worlds_live 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"lazyclone_objects_allocated_total",
		"lazyclone_objects_collected_total",
		"lazyclone_worlds_live",
	)
	if err != nil {
		t.Error(err)
	}
}

func TestCollector_Runtime(t *testing.T) {
	rt := memory.NewRuntime(memory.DefaultConfig())
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector("lazyclone", rt, prometheus.Labels{"runtime": "test"})); err != nil {
		t.Fatal(err)
	}

	rt.Root().Fork()
	n, err := testutil.GatherAndCount(reg, "lazyclone_worlds_live")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected one series, got %d", n)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "lazyclone_worlds_live" {
			continue
		}
		if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 2 {
			t.Errorf("Expected 2 live worlds, got %v", v)
		}
	}
	rt.Close()
}
