// Package reader implements one changelog reader worker: it pulls
// records for a single metadata target from a source.Source into a
// bounded cache.Cache, and serves START/DEQUEUE/CLEAR/FINI requests
// forwarded by the broker on behalf of consumers, mirroring reader.c's
// changelog_reader_enqueue/changelog_reader_serve split.
package reader

import (
	"context"
	"fmt"

	"github.com/lcap-io/lcapd/internal/bufpool"
	"github.com/lcap-io/lcapd/internal/cache"
	"github.com/lcap-io/lcapd/internal/constants"
	"github.com/lcap-io/lcapd/internal/lbmod"
	"github.com/lcap-io/lcapd/internal/logging"
	"github.com/lcap-io/lcapd/internal/source"
	"github.com/lcap-io/lcapd/internal/transport"
	"github.com/lcap-io/lcapd/internal/wire"

	lcap "github.com/lcap-io/lcapd"
)

// Reply status codes carried back in an ACK body. Unlike the original
// daemon these are not POSIX errno values: lcapd owns this wire format
// end to end, so the codes only need to be consistent with themselves.
const (
	rcOK       int32 = 0
	rcEOF      int32 = 1
	rcProtocol int32 = -1
	rcInvalid  int32 = -2
	rcAlready  int32 = -3
)

// Reader holds the state of one reader worker, scoped to a single MDT.
type Reader struct {
	MDT       string
	Source    source.Source
	Cache     *cache.Cache
	Sender    Sender
	Metrics   *lcap.Metrics
	BatchSize int

	// Follow keeps the source open across EOF, waiting for new records
	// instead of reporting the reader as drained. New sets this true;
	// oneshot mode (-o) clears it so the daemon can detect "this reader
	// has nothing left to say" and exit.
	Follow bool

	// Distributor, when non-nil, redirects this reader's enqueued
	// records to a shared lbmod.Distributor instead of its own per-MDT
	// Cache, and DEQUEUE/CLEAR draw from and report back to it. Left
	// nil unless the daemon was configured with a loadmodule directive.
	Distributor lbmod.Distributor
	// WorkerID is this reader's consumer slot on Distributor, in
	// [0, workerCount). Unused when Distributor is nil.
	WorkerID int

	srec       int64 // next index to request from Source
	sourceOpen bool
	consumers  []*consumerState
	log        *logging.Logger
}

// New creates a Reader for mdt, starting its source cursor at startIndex
// (constants.AnyIndex to let the source pick).
func New(mdt string, src source.Source, batchSize, maxBuckets int, startIndex int64, sender Sender, metrics *lcap.Metrics) *Reader {
	return &Reader{
		MDT:       mdt,
		Source:    src,
		Cache:     cache.New(batchSize, maxBuckets),
		Sender:    sender,
		Metrics:   metrics,
		BatchSize: batchSize,
		Follow:    true,
		srec:      startIndex,
		log:       logging.Default().WithPrefix(fmt.Sprintf("reader[%s]", mdt)),
	}
}

// Drained reports whether this reader's source has run dry and is
// currently closed, with nothing cached left to serve. In oneshot mode
// this is the daemon's exit signal for this reader.
func (r *Reader) Drained() bool {
	return !r.sourceOpen && r.Cache.TotalCached() == 0
}

// Enqueue pulls records from the source into the cache, mirroring
// changelog_reader_enqueue. A pass stops once the cache is full, the
// source runs dry, or the pass has taken more than BatchSize records,
// so filling an empty cache can take several passes. It opens
// the source lazily and closes it again once the source reports it has
// run dry, so the next call reopens it — the same "EOF means re-START
// next time" contract the original LLAPI changelog stream has.
func (r *Reader) Enqueue(ctx context.Context) error {
	if r.Cache.Full() {
		return nil
	}

	if !r.sourceOpen {
		if err := r.Source.Open(ctx, source.OpenOptions{
			MDT:    r.MDT,
			Start:  r.srec,
			JobID:  true,
			Follow: r.Follow,
		}); err != nil {
			return lcap.WrapError("ENQUEUE", err)
		}
		r.sourceOpen = true
	}

	batchCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := r.Source.Recv(ctx)
		if err != nil {
			r.log.Debugf("source drained, will resume next pass: %v", err)
			r.Metrics.RecordSourceError()
			r.closeSource(ctx)
			return nil
		}

		if rec.Index < r.srec {
			r.Source.Free(rec)
			continue
		}

		if r.Distributor != nil {
			if err := r.Distributor.Enqueue(r.MDT, rec); err != nil {
				r.log.Warnf("distributor rejected record #%d: %v", rec.Index, err)
				r.Source.Free(rec)
				continue
			}
		} else {
			r.Cache.Push(rec)
		}
		r.srec = rec.Index + 1
		r.Metrics.RecordEnqueue(uint64(len(rec.Payload)))
		batchCount++

		if batchCount > r.BatchSize || (r.Distributor == nil && r.Cache.Full()) {
			break
		}
	}

	return nil
}

func (r *Reader) closeSource(ctx context.Context) {
	if !r.sourceOpen {
		return
	}
	if err := r.Source.Close(ctx); err != nil {
		r.log.Warnf("error closing source: %v", err)
	}
	r.sourceOpen = false
}

// ServePollTimeout returns how long the broker-facing Serve call should
// poll before giving up: short while a source is open and might produce
// more records worth announcing, long once it has run dry.
func (r *Reader) ServePollTimeout() (timeout int) {
	if r.sourceOpen {
		return int(constants.ServePollActive.Milliseconds())
	}
	return int(constants.ServePollIdle.Milliseconds())
}

// Serve drains every request currently queued on sock, dispatching each
// to the matching handler and reporting the number handled, mirroring
// changelog_reader_serve's single non-blocking lcap_rpc_recv call.
func (r *Reader) Serve(ctx context.Context, sock transport.Socket, poller transport.Poller) (int, error) {
	return transport.RecvAll(ctx, sock, poller, transport.NoEnvelope, r.handleRequest)
}

// handleRequest dispatches a single reassembled request to its handler
// and, where the handler didn't already reply itself, sends the
// resulting status back as an ACK, mirroring changelog_reader_rpc_hdl.
func (r *Reader) handleRequest(req *transport.Request) error {
	op, err := wire.PeekOp(req.Body)
	if err != nil {
		return r.Sender.Ack(req.Forward, rcProtocol)
	}
	if !op.Valid() {
		return r.Sender.Ack(req.Forward, rcInvalid)
	}

	var rc int32
	switch op {
	case wire.OpStart:
		rc = r.handleStart(req)
	case wire.OpDequeue:
		rc = r.handleDequeue(req)
	case wire.OpClear:
		rc = r.handleClear(req)
	case wire.OpFini:
		rc = r.handleFini(req)
	default:
		r.log.Errorf("received unexpected %s RPC", op)
		rc = rcProtocol
	}

	if rc < 0 || rc == rcEOF {
		return r.Sender.Ack(req.Forward, rc)
	}
	return nil
}

// handleStart registers a new consumer, mirroring reader_handle_start.
func (r *Reader) handleStart(req *transport.Request) int32 {
	var reg wire.Register
	if err := reg.Unmarshal(req.Body); err != nil {
		return rcInvalid
	}

	if r.findConsumer(req.Forward) != nil {
		r.log.Infof("START from already-registered consumer")
		return rcAlready
	}

	r.addConsumer(&consumerState{ident: req.Forward, start: reg.Start})

	if err := r.Sender.Ack(req.Forward, rcOK); err != nil {
		r.log.Warnf("cannot ack START: %v", err)
	}
	return rcOK
}

// handleDequeue hands the consumer the next cached bucket, if any,
// mirroring reader_handle_dequeue/enqueue_rec.
func (r *Reader) handleDequeue(req *transport.Request) int32 {
	var dq wire.Dequeue
	if err := dq.Unmarshal(req.Body); err != nil {
		return rcInvalid
	}

	cs := r.findConsumer(req.Forward)
	if cs == nil {
		r.log.Infof("DEQUEUE from unregistered consumer")
		return rcProtocol
	}
	if cs.bucket != nil {
		r.log.Infof("consumer did not CLEAR its outstanding bucket")
		return rcProtocol
	}

	var bkt *cache.Bucket
	if r.Distributor != nil {
		bkt = r.dequeueFromDistributor()
	} else {
		bkt = r.Cache.Pop()
	}
	if bkt == nil {
		r.Metrics.RecordDequeue(false, 0)
		return rcEOF
	}
	cs.bucket = bkt

	total := 0
	for _, rec := range bkt.Records {
		total += len(rec.Payload)
	}
	records := bufpool.Get(total)
	pos := 0
	for _, rec := range bkt.Records {
		pos += copy(records[pos:], rec.Payload)
	}

	err := r.Sender.Enqueue(req.Forward, uint32(len(bkt.Records)), records)
	bufpool.Put(records)
	if err != nil {
		r.log.Warnf("cannot deliver ENQUEUE: %v", err)
		return rcProtocol
	}
	r.Metrics.RecordDequeue(true, 0)
	r.Metrics.RecordSent(uint64(len(bkt.Records)), uint64(total))
	return rcOK
}

// dequeueFromDistributor drains up to BatchSize records from this
// reader's worker slot on Distributor into a bucket shaped the same way
// Cache.Pop's would be, so the rest of handleDequeue doesn't need to
// know which source it came from. Mirrors ack_send_records' dequeue
// loop, which likewise keeps pulling single records until it has a
// batch or the module reports none left.
func (r *Reader) dequeueFromDistributor() *cache.Bucket {
	bkt := &cache.Bucket{Records: make([]source.Record, 0, r.BatchSize)}
	for len(bkt.Records) < r.BatchSize {
		rec, ok := r.Distributor.Dequeue(r.WorkerID)
		if !ok {
			break
		}
		bkt.Records = append(bkt.Records, rec)
		bkt.Size += len(rec.Payload)
	}
	if len(bkt.Records) == 0 {
		return nil
	}
	return bkt
}

// handleClear releases a consumer's outstanding bucket and advances the
// underlying source's low-water mark, mirroring reader_handle_clear. The
// original left the underlying clear call disabled; this implementation
// wires it up, since a reader that never reclaims storage defeats the
// point of CLEAR.
func (r *Reader) handleClear(req *transport.Request) int32 {
	var cl wire.Clear
	if err := cl.Unmarshal(req.Body); err != nil {
		return rcInvalid
	}

	cs := r.findConsumer(req.Forward)
	if cs == nil {
		r.log.Infof("CLEAR from unregistered consumer")
		return rcProtocol
	}
	if cs.bucket == nil {
		// Nothing to clear: acknowledge with OK so the consumer, which
		// waits for a reply to every CLEAR, is not left blocked.
		if err := r.Sender.Ack(req.Forward, rcOK); err != nil {
			r.log.Warnf("cannot ack CLEAR: %v", err)
		}
		return rcOK
	}

	for _, rec := range cs.bucket.Records {
		r.Source.Free(rec)
	}
	cleared := uint64(len(cs.bucket.Records))
	cs.bucket = nil

	if err := r.Source.Clear(context.Background(), cl.ReaderID, cl.Index); err != nil {
		r.log.Warnf("source clear failed: %v", err)
		return rcProtocol
	}
	r.Metrics.RecordClear(cleared)
	if r.Distributor != nil {
		r.Distributor.SetAck(r.MDT, cl.Index)
	}

	if err := r.Sender.Ack(req.Forward, rcOK); err != nil {
		r.log.Warnf("cannot ack CLEAR: %v", err)
	}
	return rcOK
}

// handleFini deregisters a consumer, mirroring reader_handle_fini.
func (r *Reader) handleFini(req *transport.Request) int32 {
	var fin wire.Fini
	if err := fin.Unmarshal(req.Body); err != nil {
		return rcInvalid
	}

	cs := r.findConsumer(req.Forward)
	if cs == nil {
		r.log.Infof("FINI from unregistered consumer")
		return rcProtocol
	}
	r.removeConsumer(cs)

	if err := r.Sender.Ack(req.Forward, rcOK); err != nil {
		r.log.Warnf("cannot ack FINI: %v", err)
	}
	return rcOK
}

// Signal reports this reader's health to the broker. Call it with ret 0
// immediately after start-up, and with a nonzero ret right before exiting
// on error.
func (r *Reader) Signal(ret uint64) error {
	return r.Sender.Signal(ret, r.MDT)
}

// ReaderStats is a point-in-time summary of one reader's activity over
// its lifetime, mirroring struct reader_stats.
type ReaderStats struct {
	MDT             string
	RecordsRead     uint64
	RecordsSent     uint64
	RecordsAcked    uint64
	BytesSent       uint64
	ProcessingRate  float64 // records read per second over the reader's lifetime
}

// Stats returns the reader's current statistics.
func (r *Reader) Stats() ReaderStats {
	snap := r.Metrics.Snapshot()
	stats := ReaderStats{
		MDT:          r.MDT,
		RecordsRead:  snap.RecordsRead,
		RecordsSent:  snap.RecordsSent,
		RecordsAcked: snap.RecordsAcked,
		BytesSent:    snap.BytesSent,
	}
	if snap.UptimeNs > 0 {
		stats.ProcessingRate = float64(snap.RecordsRead) / (float64(snap.UptimeNs) / 1e9)
	}
	return stats
}

// Close releases the reader's source handle and logs a final processing
// summary, mirroring changelog_reader_release/changelog_reader_print_stats.
func (r *Reader) Close(ctx context.Context) {
	r.closeSource(ctx)
	r.Metrics.Stop()

	stats := r.Stats()
	r.log.Infof("%d records processed (%d/s)",
		stats.RecordsRead, int(stats.ProcessingRate))
}
