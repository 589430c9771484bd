package constants

import "time"

// Default configuration constants, matching the defaults of the original
// lcapd config grammar.
const (
	// DefaultRecBatch is the default number of records aggregated into a
	// single bucket before it is handed to a consumer.
	DefaultRecBatch = 64

	// DefaultMaxBuckets is the default number of buckets a reader will
	// cache (one cache per reader) before applying backpressure to its
	// source.
	DefaultMaxBuckets = 16

	// DefaultWorkerCount is the default number of consumer slots in the
	// distribution module's worker pool when the config file does not
	// set "workers". Reader goroutines are one per MDT regardless.
	DefaultWorkerCount = 4

	// MaxMDTCount is the hard ceiling on configured metadata targets.
	MaxMDTCount = 128

	// DefaultConfigPath is where the daemon looks for its config file
	// absent a -c flag.
	DefaultConfigPath = "/etc/lcap.cfg"

	// DefaultBrokerEndpoint is the broker's default ZeroMQ bind address.
	DefaultBrokerEndpoint = "tcp://*:8189"

	// AnyIndex resumes a changelog reader at whatever index the source
	// considers "current".
	AnyIndex = -1
)

// Poll timing for the reader's serve phase.
//
// A reader with an open source handle (more records may still arrive)
// polls for consumer requests at a tight interval so it can interleave
// enqueue and serve work. A reader whose source has reached EOF and
// closed idles at a longer interval; the next enqueue pass reopens the
// source.
const (
	// ServePollActive is the receive timeout while the source handle is open.
	ServePollActive = 50 * time.Millisecond

	// ServePollIdle is the receive timeout once the source has closed.
	ServePollIdle = 1 * time.Second
)

// Ring buffer sizing for the optional load-balancer distribution module.
const (
	// RingSize must be a power of two; it bounds the number of
	// in-flight records the single ring shared by every MDT can hold.
	RingSize = 1 << 15

	// CacheLineSize is used to pad hot cursors apart to avoid false sharing
	// between producer and consumer goroutines.
	CacheLineSize = 64
)
