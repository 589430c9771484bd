package cache

import "github.com/lcap-io/lcapd/internal/source"

// Cache is an ordered FIFO of buckets bounded to batchSize*maxBuckets
// records, mirroring a single reader's re_buckets list.
type Cache struct {
	buckets   []*Bucket
	batchSize int
	maxBucket int
}

// New creates an empty cache with the given per-bucket capacity and
// maximum number of cached buckets.
func New(batchSize, maxBuckets int) *Cache {
	return &Cache{batchSize: batchSize, maxBucket: maxBuckets}
}

// Full reports whether the cache already holds batchSize*maxBuckets
// records, at which point the reader's enqueue phase must stop pulling
// from its source until a consumer drains a bucket.
func (c *Cache) Full() bool {
	return c.TotalCached() >= c.batchSize*c.maxBucket
}

// TotalCached returns the total number of records held across all
// buckets currently in the cache.
func (c *Cache) TotalCached() int {
	total := 0
	for _, b := range c.buckets {
		total += len(b.Records)
	}
	return total
}

// BucketCount returns the number of buckets currently cached.
func (c *Cache) BucketCount() int {
	return len(c.buckets)
}

// Push appends rec to the tail bucket, allocating a new one if the tail
// is full or the cache is empty.
func (c *Cache) Push(rec source.Record) {
	var tail *Bucket
	if n := len(c.buckets); n > 0 {
		tail = c.buckets[n-1]
	}
	if tail == nil || tail.Full() {
		tail = newBucket(c.batchSize)
		c.buckets = append(c.buckets, tail)
	}
	tail.Add(rec)
}

// Pop removes and returns the head bucket, or nil if the cache is empty.
// The returned bucket's ownership transfers to the caller.
func (c *Cache) Pop() *Bucket {
	if len(c.buckets) == 0 {
		return nil
	}
	bkt := c.buckets[0]
	c.buckets = c.buckets[1:]
	return bkt
}
