package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/kvbind/lib/store"
)

// RunStoreBenchmarks runs all benchmarks for a store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory Factory) {
	b.Run(name+"/Set", func(b *testing.B) {
		benchmarkSet(b, factory(NewClock()))
	})

	b.Run(name+"/Get", func(b *testing.B) {
		benchmarkGet(b, factory(NewClock()))
	})

	b.Run(name+"/Arithmetic", func(b *testing.B) {
		benchmarkArithmetic(b, factory(NewClock()))
	})

	b.Run(name+"/MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory(NewClock()))
	})
}

func benchmarkSet(b *testing.B, s store.IStore) {
	value := []byte("benchmark-value")
	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter.Add(1))
			s.Store(store.ModeSet, key, value, 0, 0, 0)
		}
	})
}

func benchmarkGet(b *testing.B, s store.IStore) {
	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		s.Store(store.ModeSet, fmt.Sprintf("key-%d", i), []byte("value"), 0, 0, 0)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			s.Get(fmt.Sprintf("key-%d", r.Intn(numKeys)))
		}
	})
}

func benchmarkArithmetic(b *testing.B, s store.IStore) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.Arithmetic("counter", 1, 0, true, 0)
		}
	})
}

// 70% reads, 20% writes, 10% removes
func benchmarkMixedUsage(b *testing.B, s store.IStore) {
	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		s.Store(store.ModeSet, fmt.Sprintf("key-%d", i), []byte("value"), 0, 0, 0)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(numKeys))
			switch op := r.Intn(10); {
			case op < 7:
				s.Get(key)
			case op < 9:
				s.Store(store.ModeSet, key, []byte("updated"), 0, 60, 0)
			default:
				s.Remove(key, 0)
			}
		}
	})
}
