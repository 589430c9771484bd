// Package ring implements a bounded MPMC ring buffer used by the
// load-balancer distribution module to hand records to a pool of worker
// goroutines without a mutex on the hot path. It is grounded line-for-line
// on modules/loadbalance/pqueue.c's thr_pos shadow-cursor protocol: Go has
// no implicit thread-local storage, so the original's __thread thr_id /
// get_thr_pos pattern becomes an explicit handle the caller obtains once
// per goroutine and reuses for every push/pop.
package ring

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/lcap-io/lcapd/internal/constants"
)

// spinBudget bounds how many times Push/Pop yields the scheduler before
// falling back to a short sleep, mirroring the original's pause()-then-
// usleep(50) backoff.
const spinBudget = 100

// noPos marks a shadow cursor as "not currently reserving a slot", the
// equivalent of the original leaving thr_pos entries untouched until a
// thread's first push/pop.
const noPos = ^uint64(0)

// cursor is a padded atomic counter. The padding keeps head, tail,
// lastHead and lastTail on separate cache lines so producers spinning on
// one don't thrash a consumer updating another.
type cursor struct {
	v atomic.Uint64
	_ [constants.CacheLineSize - 8]byte
}

// thrPos is one goroutine's published shadow cursor, letting other
// goroutines see "how far has this one reserved" without an explicit
// completion signal. Mirrors struct thr_pos.
type thrPos struct {
	pos atomic.Uint64
}

// Ring is a bounded MPMC ring buffer of capacity slots holding T. Capacity
// must be a power of two, matching the original's requirement that size-1
// forms a usable mask.
type Ring[T any] struct {
	head     cursor
	tail     cursor
	lastHead cursor
	lastTail cursor

	mask  uint64
	slots []T

	// prodHeads/consTails are the shadow cursors producers and
	// consumers publish their in-flight reservation through, indexed by
	// the caller-supplied id. Sized independently since a producer and
	// a consumer with the same id must not alias each other.
	prodHeads []thrPos
	consTails []thrPos
}

// New creates a Ring with room for size elements, serving up to nProd
// concurrent producers and nCons concurrent consumers. size must be a
// power of two.
func New[T any](size int, nProd, nCons int) *Ring[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic("ring: size must be a power of two")
	}

	r := &Ring[T]{
		mask:      uint64(size - 1),
		slots:     make([]T, size),
		prodHeads: make([]thrPos, nProd),
		consTails: make([]thrPos, nCons),
	}
	for i := range r.prodHeads {
		r.prodHeads[i].pos.Store(noPos)
	}
	for i := range r.consTails {
		r.consTails[i].pos.Store(noPos)
	}
	return r
}

// ProducerHandle lets one goroutine push into a Ring. It is not safe for
// concurrent use by more than one goroutine: obtain one handle per
// producer goroutine via Ring.Producer and keep it for that goroutine's
// lifetime, exactly as the original binds thr_id once per thread.
type ProducerHandle[T any] struct {
	r  *Ring[T]
	id int
}

// ConsumerHandle is the consumer-side counterpart of ProducerHandle.
type ConsumerHandle[T any] struct {
	r  *Ring[T]
	id int
}

// Producer returns the handle producer goroutine id pushes through. The
// caller must use a distinct id per concurrent producer goroutine and
// must not share a handle across goroutines.
func (r *Ring[T]) Producer(id int) *ProducerHandle[T] { return &ProducerHandle[T]{r: r, id: id} }

// Consumer returns the handle consumer goroutine id pops through. Same
// one-goroutine-per-id contract as Producer.
func (r *Ring[T]) Consumer(id int) *ConsumerHandle[T] { return &ConsumerHandle[T]{r: r, id: id} }

// Push reserves the next slot, backing off while the ring is full
// relative to what consumers have drained, writes v, and publishes the
// reservation as done. Mirrors pqueue_push.
func (h *ProducerHandle[T]) Push(v T) {
	r := h.r
	pos := &r.prodHeads[h.id]

	// Publish a lower bound before reserving, so no consumer can pass
	// this slot between the increment and the second store.
	pos.pos.Store(r.head.v.Load())
	mine := r.head.v.Add(1) - 1
	pos.pos.Store(mine)

	spins := 0
	for mine >= r.lastTail.v.Load()+uint64(len(r.slots)) {
		r.refreshLastTail()
		if mine < r.lastTail.v.Load()+uint64(len(r.slots)) {
			break
		}
		backoff(&spins)
	}

	r.slots[mine&r.mask] = v
	pos.pos.Store(noPos)
}

// Pop removes and returns the oldest pushed value, or reports empty if
// nothing is currently available. Mirrors pqueue_pop: it peeks at
// head/tail without reserving anything when the ring looks empty, then
// reserves a slot and waits for the producer owning it to finish writing.
func (h *ConsumerHandle[T]) Pop() (v T, ok bool) {
	r := h.r
	pos := &r.consTails[h.id]

	for {
		tail := r.tail.v.Load()
		if tail >= r.head.v.Load() {
			var zero T
			return zero, false
		}
		// Publish the claim before making it, so no producer can reuse
		// this slot between the CAS and the store.
		pos.pos.Store(tail)
		if !r.tail.v.CompareAndSwap(tail, tail+1) {
			pos.pos.Store(noPos)
			continue
		}

		spins := 0
		for tail >= r.lastHead.v.Load() {
			r.refreshLastHead()
			if tail < r.lastHead.v.Load() {
				break
			}
			backoff(&spins)
		}

		v = r.slots[tail&r.mask]
		pos.pos.Store(noPos)
		return v, true
	}
}

// refreshLastTail recomputes the floor below which every slot has been
// drained by every consumer, by taking the minimum of the committed tail
// and every consumer's in-flight reservation. Mirrors pqueue_push's
// last_tail refresh scan.
func (r *Ring[T]) refreshLastTail() {
	min := r.tail.v.Load()
	for i := range r.consTails {
		if p := r.consTails[i].pos.Load(); p != noPos && p < min {
			min = p
		}
	}
	r.lastTail.v.Store(min)
}

// refreshLastHead recomputes the ceiling up to which every slot has been
// written by every producer, the pop-side counterpart of refreshLastTail.
// Mirrors pqueue_pop's last_head refresh scan.
func (r *Ring[T]) refreshLastHead() {
	min := r.head.v.Load()
	for i := range r.prodHeads {
		if p := r.prodHeads[i].pos.Load(); p != noPos && p < min {
			min = p
		}
	}
	r.lastHead.v.Store(min)
}

// backoff yields the scheduler to let the goroutine(s) we're waiting on
// make progress, falling back to a short sleep once a spin budget is
// exhausted. Replaces the original's _mm_pause()/usleep(50) pair: Go has
// no pause instrinsic, and a busy spin would starve the runtime's own
// goroutine scheduling on a GOMAXPROCS=1 build.
func backoff(spins *int) {
	*spins++
	if *spins < spinBudget {
		runtime.Gosched()
		return
	}
	*spins = 0
	time.Sleep(50 * time.Microsecond)
}
