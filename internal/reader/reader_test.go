package reader

import (
	"context"
	"testing"

	"github.com/lcap-io/lcapd/internal/constants"
	"github.com/lcap-io/lcapd/internal/lbmod"
	"github.com/lcap-io/lcapd/internal/source"
	"github.com/lcap-io/lcapd/internal/transport"
	"github.com/lcap-io/lcapd/internal/wire"

	lcap "github.com/lcap-io/lcapd"
)

type fakeSender struct {
	acks     []struct{ dst transport.Identity; rc int32 }
	enqueues []struct {
		dst     transport.Identity
		count   uint32
		records []byte
	}
	signals []struct {
		ret uint64
		mdt string
	}
}

func (f *fakeSender) Ack(dst transport.Identity, rc int32) error {
	f.acks = append(f.acks, struct {
		dst transport.Identity
		rc  int32
	}{dst, rc})
	return nil
}

func (f *fakeSender) Enqueue(dst transport.Identity, count uint32, records []byte) error {
	f.enqueues = append(f.enqueues, struct {
		dst     transport.Identity
		count   uint32
		records []byte
	}{dst, count, records})
	return nil
}

func (f *fakeSender) Signal(ret uint64, mdt string) error {
	f.signals = append(f.signals, struct {
		ret uint64
		mdt string
	}{ret, mdt})
	return nil
}

func newTestReader(recs []source.Record) (*Reader, *fakeSender) {
	sender := &fakeSender{}
	r := New("lustre-MDT0000", source.NewSimulated(recs), 4, 4, constants.AnyIndex, sender, lcap.NewMetrics())
	return r, sender
}

func TestEnqueueFillsCacheFromSource(t *testing.T) {
	recs := []source.Record{
		{Index: 1, Payload: []byte("a")},
		{Index: 2, Payload: []byte("b")},
		{Index: 3, Payload: []byte("c")},
	}
	r, _ := newTestReader(recs)

	if err := r.Enqueue(context.Background()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := r.Cache.TotalCached(); got != 3 {
		t.Errorf("TotalCached = %d, want 3", got)
	}
	if r.sourceOpen {
		t.Error("source should be closed again once drained")
	}
}

func TestEnqueueSkipsStaleRecords(t *testing.T) {
	recs := []source.Record{
		{Index: 1, Payload: []byte("a")},
		{Index: 2, Payload: []byte("b")},
	}
	r, _ := newTestReader(recs)
	r.srec = 2

	if err := r.Enqueue(context.Background()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := r.Cache.TotalCached(); got != 1 {
		t.Errorf("TotalCached = %d, want 1 (stale record #1 skipped)", got)
	}
}

func TestEnqueueStopsWhenCacheFull(t *testing.T) {
	recs := make([]source.Record, 20)
	for i := range recs {
		recs[i] = source.Record{Index: int64(i), Payload: []byte("x")}
	}
	sender := &fakeSender{}
	r := New("mdt0", source.NewSimulated(recs), 4, 2, constants.AnyIndex, sender, lcap.NewMetrics())

	// One pass stops after BatchSize+1 records (5), so a second pass is
	// needed to reach batchSize*maxBuckets.
	for pass := 0; pass < 2; pass++ {
		if err := r.Enqueue(context.Background()); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if !r.Cache.Full() {
		t.Error("cache should be full (batchSize*maxBuckets = 8)")
	}
	if got := r.Cache.TotalCached(); got > 8 {
		t.Errorf("TotalCached = %d, exceeds batchSize*maxBuckets", got)
	}
}

func TestHandleStartRegistersConsumer(t *testing.T) {
	r, sender := newTestReader(nil)
	reg := wire.Register{Start: 0, MDTName: r.MDT}
	req := &transport.Request{Forward: "client-1", Body: reg.Marshal()}

	if err := r.handleRequest(req); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	if r.findConsumer("client-1") == nil {
		t.Fatal("consumer should be registered")
	}
	if len(sender.acks) != 1 || sender.acks[0].rc != rcOK {
		t.Errorf("acks = %+v, want one OK ack", sender.acks)
	}
}

func TestHandleStartDuplicateIsRejected(t *testing.T) {
	r, sender := newTestReader(nil)
	reg := wire.Register{MDTName: r.MDT}
	req := &transport.Request{Forward: "client-1", Body: reg.Marshal()}

	if err := r.handleRequest(req); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	if err := r.handleRequest(req); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}

	if len(sender.acks) != 2 || sender.acks[1].rc != rcAlready {
		t.Errorf("acks = %+v, want second ack to be rcAlready", sender.acks)
	}
}

func TestHandleDequeueWithoutStartIsProtocolError(t *testing.T) {
	r, sender := newTestReader(nil)
	dq := wire.Dequeue{}
	req := &transport.Request{Forward: "client-1", Body: dq.Marshal()}

	if err := r.handleRequest(req); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	if len(sender.acks) != 1 || sender.acks[0].rc != rcProtocol {
		t.Errorf("acks = %+v, want rcProtocol", sender.acks)
	}
}

func TestHandleDequeueDeliversBucketAndBlocksSecond(t *testing.T) {
	recs := []source.Record{
		{Index: 1, Payload: []byte("a")},
		{Index: 2, Payload: []byte("b")},
	}
	r, sender := newTestReader(recs)
	if err := r.Enqueue(context.Background()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reg := wire.Register{MDTName: r.MDT}
	startReq := &transport.Request{Forward: "client-1", Body: reg.Marshal()}
	if err := r.handleRequest(startReq); err != nil {
		t.Fatalf("handleRequest(START): %v", err)
	}
	sender.acks = nil

	dq := wire.Dequeue{}
	dqReq := &transport.Request{Forward: "client-1", Body: dq.Marshal()}
	if err := r.handleRequest(dqReq); err != nil {
		t.Fatalf("handleRequest(DEQUEUE): %v", err)
	}
	if len(sender.enqueues) != 1 || sender.enqueues[0].count != 2 {
		t.Fatalf("enqueues = %+v, want one batch of 2", sender.enqueues)
	}

	// A second DEQUEUE before CLEAR must be rejected: the bucket is still
	// checked out.
	if err := r.handleRequest(dqReq); err != nil {
		t.Fatalf("handleRequest(DEQUEUE#2): %v", err)
	}
	if len(sender.acks) != 1 || sender.acks[0].rc != rcProtocol {
		t.Errorf("acks = %+v, want one rcProtocol ack", sender.acks)
	}
}

func TestHandleDequeueEmptyCacheReturnsEOF(t *testing.T) {
	r, sender := newTestReader(nil)
	reg := wire.Register{MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: reg.Marshal()}); err != nil {
		t.Fatalf("handleRequest(START): %v", err)
	}
	sender.acks = nil

	dq := wire.Dequeue{}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: dq.Marshal()}); err != nil {
		t.Fatalf("handleRequest(DEQUEUE): %v", err)
	}
	if len(sender.acks) != 1 || sender.acks[0].rc != rcEOF {
		t.Errorf("acks = %+v, want rcEOF", sender.acks)
	}
}

func TestHandleClearReleasesBucketAndCallsSourceClear(t *testing.T) {
	recs := []source.Record{{Index: 1, Payload: []byte("a")}}
	r, sender := newTestReader(recs)
	if err := r.Enqueue(context.Background()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reg := wire.Register{MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: reg.Marshal()}); err != nil {
		t.Fatalf("handleRequest(START): %v", err)
	}
	sender.acks = nil
	dq := wire.Dequeue{}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: dq.Marshal()}); err != nil {
		t.Fatalf("handleRequest(DEQUEUE): %v", err)
	}

	cs := r.findConsumer("client-1")
	if cs == nil || cs.bucket == nil {
		t.Fatal("consumer should hold a checked-out bucket")
	}

	cl := wire.Clear{Index: 1, ReaderID: "client-1", MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: cl.Marshal()}); err != nil {
		t.Fatalf("handleRequest(CLEAR): %v", err)
	}
	if cs.bucket != nil {
		t.Error("bucket should be released after CLEAR")
	}
	if len(sender.acks) != 1 || sender.acks[0].rc != rcOK {
		t.Errorf("acks = %+v, want one OK ack", sender.acks)
	}
}

func TestHandleClearWithNoOutstandingBucketAcksOK(t *testing.T) {
	r, sender := newTestReader(nil)
	reg := wire.Register{MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: reg.Marshal()}); err != nil {
		t.Fatalf("handleRequest(START): %v", err)
	}
	sender.acks = nil

	cl := wire.Clear{ReaderID: "client-1", MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: cl.Marshal()}); err != nil {
		t.Fatalf("handleRequest(CLEAR): %v", err)
	}
	if len(sender.acks) != 1 || sender.acks[0].rc != rcOK {
		t.Errorf("acks = %+v, want one OK ack", sender.acks)
	}
}

func TestEnqueueAndDequeueRouteThroughDistributor(t *testing.T) {
	dist, err := lbmod.New("loadbalance", []string{"lustre-MDT0000"}, 1)
	if err != nil {
		t.Fatalf("lbmod.New: %v", err)
	}

	recs := []source.Record{
		{Index: 1, Payload: []byte("a")},
		{Index: 2, Payload: []byte("b")},
	}
	r, sender := newTestReader(recs)
	r.Distributor = dist
	r.WorkerID = 0

	if err := r.Enqueue(context.Background()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if r.Cache.TotalCached() != 0 {
		t.Errorf("TotalCached = %d, want 0 (records should bypass the per-MDT cache)", r.Cache.TotalCached())
	}

	reg := wire.Register{MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: reg.Marshal()}); err != nil {
		t.Fatalf("handleRequest(START): %v", err)
	}

	dq := wire.Dequeue{}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: dq.Marshal()}); err != nil {
		t.Fatalf("handleRequest(DEQUEUE): %v", err)
	}
	if len(sender.enqueues) != 1 || sender.enqueues[0].count != 2 {
		t.Fatalf("enqueues = %+v, want one batch of 2", sender.enqueues)
	}

	cl := wire.Clear{Index: 2, ReaderID: "client-1", MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: cl.Marshal()}); err != nil {
		t.Fatalf("handleRequest(CLEAR): %v", err)
	}
	if got, ok := dist.GetAck(r.MDT); !ok || got != 2 {
		t.Errorf("GetAck(%q) = (%d, %v), want (2, true)", r.MDT, got, ok)
	}
}

func TestHandleFiniDeregistersConsumer(t *testing.T) {
	r, sender := newTestReader(nil)
	reg := wire.Register{MDTName: r.MDT}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: reg.Marshal()}); err != nil {
		t.Fatalf("handleRequest(START): %v", err)
	}

	fin := wire.Fini{}
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: fin.Marshal()}); err != nil {
		t.Fatalf("handleRequest(FINI): %v", err)
	}
	if r.findConsumer("client-1") != nil {
		t.Error("consumer should be removed")
	}
	if len(sender.acks) != 2 || sender.acks[1].rc != rcOK {
		t.Errorf("acks = %+v, want second ack OK", sender.acks)
	}
}

func TestHandleRequestMalformedBodyIsProtocolError(t *testing.T) {
	r, sender := newTestReader(nil)
	if err := r.handleRequest(&transport.Request{Forward: "client-1", Body: []byte{1}}); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	if len(sender.acks) != 1 || sender.acks[0].rc != rcProtocol {
		t.Errorf("acks = %+v, want rcProtocol", sender.acks)
	}
}

func TestSignalSendsThroughSender(t *testing.T) {
	r, sender := newTestReader(nil)
	if err := r.Signal(0); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if len(sender.signals) != 1 || sender.signals[0].mdt != r.MDT {
		t.Errorf("signals = %+v", sender.signals)
	}
}
