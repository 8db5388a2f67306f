package memory

import (
	"testing"
)

// ============ Reference Count Benchmarks ============

func BenchmarkShared_CopyRelease(b *testing.B) {
	rt := newTestRuntime()
	p := newCell(rt.Root(), 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := p.Copy()
		q.Release()
	}
}

func BenchmarkShared_NewRelease(b *testing.B) {
	rt := newTestRuntime()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := newCell(rt.Root(), i)
		p.Release()
	}
}

func BenchmarkWeak_Lock(b *testing.B) {
	rt := newTestRuntime()
	p := newCell(rt.Root(), 1)
	wp := p.Weak()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q, _ := wp.Lock()
		q.Release()
	}
}

// ============ Lazy Clone Benchmarks ============

func benchmarkChain(w *World, n int) Shared[*Cell] {
	head := newCell(w, 0)
	cur := head.Pull()
	for i := 1; i < n; i++ {
		cur.Next = newCell(w, i)
		cur = cur.Next.Pull()
	}
	return head
}

func BenchmarkClone_NoWrite(b *testing.B) {
	rt := newTestRuntime()
	p := benchmarkChain(rt.Root(), 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := Clone(&p)
		q.Release()
	}
}

func BenchmarkClone_WriteHead(b *testing.B) {
	rt := newTestRuntime()
	p := benchmarkChain(rt.Root(), 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := Clone(&p)
		q.Get().SetValue(i)
		q.Release()
		if i%64 == 0 {
			rt.Collect()
		}
	}
}

func BenchmarkClone_Finish(b *testing.B) {
	rt := newTestRuntime()
	p := benchmarkChain(rt.Root(), 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := Clone(&p)
		Finish(&q)
		q.Release()
		if i%16 == 0 {
			rt.Collect()
		}
	}
}

func BenchmarkDeepCopy_Chain(b *testing.B) {
	rt := newTestRuntime()
	p := benchmarkChain(rt.Root(), 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := DeepCopy(&p, rt.Root())
		q.Release()
	}
}

// ============ Collector Benchmarks ============

func BenchmarkCollect_Cycles(b *testing.B) {
	rt := newTestRuntime()
	w := rt.Root()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 100; j++ {
			r, _, _ := twoCycle(w)
			r.Release()
		}
		b.StartTimer()
		rt.Collect()
	}
}

func BenchmarkCollect_Idle(b *testing.B) {
	rt := newTestRuntime()
	p := benchmarkChain(rt.Root(), 100)
	defer p.Release()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rt.Collect()
	}
}
