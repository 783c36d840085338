package bikeserial

import (
	"fmt"
	"testing"
)

func TestBufferPool_Stats(t *testing.T) {
	bp := NewBufferPool(64)

	buf := bp.Get()
	if len(buf) != 64 {
		t.Fatalf("expected 64 byte buffer, got %d", len(buf))
	}
	buf[0] = 0xff
	bp.Put(buf)

	// Foreign sizes are not pooled.
	bp.Put(make([]byte, 32))

	stats := bp.Stats()
	if stats.Gets != 1 || stats.Puts != 1 || stats.Creates != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.HitRatio() != 0 {
		t.Fatalf("first Get allocates, expected hit ratio 0, got %v", stats.HitRatio())
	}
	if (PoolStats{}).HitRatio() != 0 {
		t.Fatal("empty stats should report zero")
	}
}

// BenchmarkGetPooledBuffer measures buffer pool allocation performance
func BenchmarkGetPooledBuffer(b *testing.B) {
	for _, size := range []int{256, 1024, 4096} {
		bp := NewBufferPool(size)
		b.Run(fmt.Sprintf("Size%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				bp.Put(bp.Get())
			}
		})
	}
}

// BenchmarkDirectAllocation measures direct allocation performance for comparison
func BenchmarkDirectAllocation(b *testing.B) {
	for _, size := range []int{256, 1024, 4096} {
		b.Run(fmt.Sprintf("Size%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				buf := make([]byte, size)
				_ = buf
			}
		})
	}
}
