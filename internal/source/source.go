// Package source defines the pluggable interface a reader uses to pull
// change records from a metadata target, and a simulated implementation
// usable in tests.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/lcap-io/lcapd/internal/constants"
)

// ErrEOF is returned by Recv when no more records are currently available.
// It is not necessarily terminal: a source opened with Follow may produce
// more records later.
var ErrEOF = errors.New("source: no more records available")

// OpenOptions configures a Source at Open time.
type OpenOptions struct {
	// MDT is the metadata target name to read from.
	MDT string

	// Start is the first index to resume from; constants.AnyIndex means
	// "whatever the source considers current".
	Start int64

	// Follow requests the source keep blocking for new records past the
	// current end of stream instead of returning ErrEOF once drained.
	Follow bool

	// JobID requests the source enrich yielded records with job
	// identifiers when it supports doing so.
	JobID bool
}

// Record is a single raw record as yielded by a Source: an index and an
// opaque, source-owned payload. The reader keeps Payload as returned,
// without copying, until it hands the record back through Free, so a
// source may reuse the backing buffer only after Free.
type Record struct {
	Index   int64
	Payload []byte
}

// Source models the blocking, external change-log extraction API a
// reader worker drives. Open, Recv and Close may block; Free and Clear
// are expected to be cheap and non-blocking.
//
// A production implementation wraps a real filesystem-native changelog
// API (out of scope for this module); Simulated below is a self-contained
// stand-in used for tests and by cmd/lcapd.
type Source interface {
	// Open begins a changelog read session for opts.MDT. It blocks until
	// the session is ready to serve Recv.
	Open(ctx context.Context, opts OpenOptions) error

	// Recv blocks (up to the source's own internal pacing) for the next
	// record at or after the last index returned. It returns ErrEOF once
	// no further record is currently available.
	Recv(ctx context.Context) (Record, error)

	// Free releases any resources associated with a record returned by
	// Recv. Safe to call with a zero-value Record.
	Free(rec Record)

	// Clear acknowledges records up to and including endIndex for the
	// named reader identity, letting the underlying filesystem reclaim
	// the records' storage.
	Clear(ctx context.Context, readerID string, endIndex int64) error

	// Close ends the session. After Close, Recv returns an error until
	// the source is opened again.
	Close(ctx context.Context) error
}

// Simulated is an in-memory Source generating a finite, pre-seeded
// stream of records, used by tests and cmd/lcapd in place of a real
// filesystem-native changelog API. It records OpenOptions.Follow but
// does not act on it: Recv returns ErrEOF once the records run out.
type Simulated struct {
	records []Record
	pos     int
	opened  bool
	follow  bool
	delay   time.Duration
}

// NewSimulated returns a Simulated source that will yield recs in order,
// starting from the first record whose index is at or after the one Open
// is called with (or from the first record for AnyIndex).
func NewSimulated(recs []Record) *Simulated {
	cp := make([]Record, len(recs))
	copy(cp, recs)
	return &Simulated{records: cp}
}

// WithRecvDelay makes each Recv pause briefly before returning, to
// exercise a reader's serve-phase polling without a busy loop.
func (s *Simulated) WithRecvDelay(d time.Duration) *Simulated {
	s.delay = d
	return s
}

func (s *Simulated) Open(ctx context.Context, opts OpenOptions) error {
	s.opened = true
	s.follow = opts.Follow
	s.pos = 0
	if opts.Start != constants.AnyIndex {
		s.pos = len(s.records)
		for i, r := range s.records {
			if r.Index >= opts.Start {
				s.pos = i
				break
			}
		}
	}
	return nil
}

func (s *Simulated) Recv(ctx context.Context) (Record, error) {
	if !s.opened {
		return Record{}, errors.New("source: not open")
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.pos >= len(s.records) {
		return Record{}, ErrEOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *Simulated) Free(rec Record) {}

func (s *Simulated) Clear(ctx context.Context, readerID string, endIndex int64) error {
	return nil
}

func (s *Simulated) Close(ctx context.Context) error {
	s.opened = false
	return nil
}
