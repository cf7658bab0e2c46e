package pool_test

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-aio/core/buffer"
	"github.com/momentics/hioload-aio/pool"
)

func TestBufferPoolReuse(t *testing.T) {
	bp := pool.New(4)
	b1 := bp.Get(1000)
	if b1.Cap() != 2048 || b1.Len() != 0 {
		t.Fatalf("Get(1000): cap=%d len=%d", b1.Cap(), b1.Len())
	}
	b1.SetLen(10)
	bp.Put(b1)
	b2 := bp.Get(1500)
	if b2 != b1 {
		t.Fatal("buffer not reused")
	}
	if b2.Len() != 0 {
		t.Fatal("reused buffer not reset")
	}
	want := pool.Stats{TotalAlloc: 1, Reused: 1, Returned: 1}
	if diff := cmp.Diff(want, bp.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestBufferPoolDropsInFlightAndOddSizes(t *testing.T) {
	bp := pool.New(4)
	b := bp.Get(512)
	if err := b.Acquire(); err != nil {
		t.Fatal(err)
	}
	bp.Put(b)
	bp.Put(buffer.New(100))
	bp.Put(nil)
	huge := bp.Get(4 << 20)
	if huge.Cap() != 4<<20 {
		t.Fatalf("oversized Get cap = %d", huge.Cap())
	}
	bp.Put(huge)
	if got := bp.Stats().Dropped; got != 4 {
		t.Fatalf("Dropped = %d, want 4", got)
	}
}

func TestBufferPoolConcurrent(t *testing.T) {
	bp := pool.New(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b := bp.Get(4096)
				b.SetLen(1)
				bp.Put(b)
			}
		}()
	}
	wg.Wait()
	st := bp.Stats()
	if st.TotalAlloc+st.Reused != 8000 {
		t.Fatalf("alloc+reuse = %d, want 8000", st.TotalAlloc+st.Reused)
	}
}
