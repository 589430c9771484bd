package ring

import (
	"sort"
	"sync"
	"testing"
)

func TestPopOnEmptyRingReportsNotOK(t *testing.T) {
	r := New[int](8, 1, 1)
	if _, ok := r.Consumer(0).Pop(); ok {
		t.Fatal("Pop on empty ring should report ok=false")
	}
}

func TestPushThenPopSingleProducerConsumer(t *testing.T) {
	r := New[int](8, 1, 1)
	p := r.Producer(0)
	c := r.Consumer(0)

	for i := 0; i < 5; i++ {
		p.Push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := c.Pop()
		if !ok || v != i {
			t.Fatalf("Pop() = %d, %v, want %d, true", v, ok, i)
		}
	}
	if _, ok := c.Pop(); ok {
		t.Fatal("ring should be drained")
	}
}

func TestConcurrentProducersConsumersPreserveEveryValue(t *testing.T) {
	const (
		nProd      = 4
		nCons      = 4
		perProd    = 2000
		ringSize   = 1 << 10
	)

	r := New[int](ringSize, nProd, nCons)

	var produced sync.WaitGroup
	for p := 0; p < nProd; p++ {
		produced.Add(1)
		go func(id int) {
			defer produced.Done()
			h := r.Producer(id)
			base := id * perProd
			for i := 0; i < perProd; i++ {
				h.Push(base + i)
			}
		}(p)
	}

	results := make(chan int, nProd*perProd)
	var consumed sync.WaitGroup
	stop := make(chan struct{})
	for c := 0; c < nCons; c++ {
		consumed.Add(1)
		go func(id int) {
			defer consumed.Done()
			h := r.Consumer(id)
			for {
				if v, ok := h.Pop(); ok {
					results <- v
					continue
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		}(c)
	}

	produced.Wait()

	// Let consumers drain everything still in flight, then signal them
	// to stop polling an empty ring.
	want := nProd * perProd
	got := make([]int, 0, want)
	for len(got) < want {
		got = append(got, <-results)
	}
	close(stop)
	consumed.Wait()

	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing or duplicate value at position %d: got %d", i, v)
		}
	}
}
