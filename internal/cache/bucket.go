// Package cache implements the reader's bounded in-memory record cache:
// an ordered FIFO of fixed-capacity buckets, handed to consumers whole.
package cache

import "github.com/lcap-io/lcapd/internal/source"

// Bucket is an ordered group of up to capacity records, aggregated for a
// single DEQUEUE reply. Once handed to a consumer via Cache.Pop, the
// bucket belongs to that consumer exclusively until it Clears or the
// consumer is removed — no further synchronization is needed on it.
type Bucket struct {
	Records  []source.Record
	Size     int // aggregate payload bytes across Records
	capacity int
}

func newBucket(capacity int) *Bucket {
	return &Bucket{
		Records:  make([]source.Record, 0, capacity),
		capacity: capacity,
	}
}

// Full reports whether the bucket has reached its configured capacity.
func (b *Bucket) Full() bool {
	return len(b.Records) >= b.capacity
}

// Add appends rec to the bucket. The caller must check Full first.
func (b *Bucket) Add(rec source.Record) {
	b.Records = append(b.Records, rec)
	b.Size += len(rec.Payload)
}

// Index returns the highest record index currently held, or -1 if empty.
func (b *Bucket) Index() int64 {
	if len(b.Records) == 0 {
		return -1
	}
	return b.Records[len(b.Records)-1].Index
}
