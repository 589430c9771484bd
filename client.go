package lcap

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/lcap-io/lcapd/internal/constants"
	"github.com/lcap-io/lcapd/internal/source"
	"github.com/lcap-io/lcapd/internal/transport"
	"github.com/lcap-io/lcapd/internal/wire"
)

// StartFlags controls how Start connects to a metadata target's change
// stream, mirroring enum lcap_cl_flags.
type StartFlags uint32

const (
	// FlagFollow is passed to the source's Open as OpenOptions.Follow in
	// DIRECT mode, and carried in START's flags field otherwise. The
	// reader does not act on it: in proxy mode Recv still returns ErrEOF
	// whenever the reader has no bucket ready.
	FlagFollow StartFlags = 1
	// FlagBlock is carried in START's flags field only. Start does not
	// wait for a reader: it fails with CodeNotAvailable when none is
	// registered for mdt, whether or not this flag is set.
	FlagBlock StartFlags = 2
	// FlagDirect bypasses the broker/reader daemon entirely and reads
	// straight from a source.Source in this process, mirroring
	// cl_ops_null versus cl_ops_proxy in the original client library.
	FlagDirect StartFlags = 4
	// FlagJobID requests job-identifier enrichment on yielded records,
	// where the underlying source supports it.
	FlagJobID StartFlags = 8
)

// Reply status codes, matching the reader/broker's own small enum
// (internal/reader, internal/broker). Duplicated here rather than
// exported from those internal packages since this is the wire
// contract's public face, not an implementation detail of either.
const (
	rcOK         int32 = 0
	rcEOF        int32 = 1
	rcProtocol   int32 = -1
	rcInvalid    int32 = -2
	rcAlready    int32 = -3
	rcUnknownMDT int32 = -4
)

// DirectSourceFactory builds the source.Source a FlagDirect client reads
// from. The original DIRECT mode links straight to Lustre's LLAPI
// changelog calls in-process; this module's Source is a pluggable
// interface with no default real-filesystem implementation (out of
// scope per the Non-goals), so FlagDirect instead reads through whatever
// factory the embedding program registers here — the package's tests
// point it at source.NewSimulated.
var DirectSourceFactory func() (source.Source, error)

// Client is a registered consumer of one metadata target's change
// stream, mirroring struct lcap_cl_ctx.
type Client struct {
	ops clientOps
	mdt string
}

// clientOps is the strategy a Client dispatches every operation
// through, mirroring struct lcap_cl_operations. proxyOps talks to the
// broker over ZeroMQ; directOps reads a source.Source in-process.
type clientOps interface {
	recv(ctx context.Context) (*ChangeRecord, error)
	free(rec *ChangeRecord)
	clear(ctx context.Context, mdt, readerID string, endIndex int64) error
	fini(ctx context.Context) error
}

// Start registers a new consumer for mdt's change stream starting at
// start (AnyIndex to let the reader pick), mirroring
// lcap_changelog_start's ops-table dispatch on LCAP_CL_DIRECT.
func Start(ctx context.Context, flags StartFlags, mdt string, start int64) (*Client, error) {
	var ops clientOps
	var err error

	if flags&FlagDirect != 0 {
		ops, err = newDirectOps(ctx, flags, mdt, start)
	} else {
		ops, err = newProxyOps(ctx, flags, mdt, start)
	}
	if err != nil {
		return nil, err
	}
	return &Client{ops: ops, mdt: mdt}, nil
}

// Recv returns the next available record, blocking according to the
// flags Start was called with. Returns ErrEOF once the source (or
// reader) has no further record currently available.
func (c *Client) Recv(ctx context.Context) (*ChangeRecord, error) {
	return c.ops.recv(ctx)
}

// Free releases any resources associated with rec.
func (c *Client) Free(rec *ChangeRecord) {
	c.ops.free(rec)
}

// Clear acknowledges records up to and including endIndex for readerID
// (the configured "clreader" slot), letting the underlying source
// reclaim their storage.
func (c *Client) Clear(ctx context.Context, mdt, readerID string, endIndex int64) error {
	return c.ops.clear(ctx, mdt, readerID, endIndex)
}

// Fini deregisters the client and releases its resources.
func (c *Client) Fini(ctx context.Context) error {
	return c.ops.fini(ctx)
}

func mapRetCode(op, mdt string, rc int32) error {
	switch rc {
	case rcOK:
		return nil
	case rcEOF:
		return ErrEOF
	case rcAlready:
		return NewMDTError(op, mdt, CodeNotAvailable, "consumer already registered")
	case rcUnknownMDT:
		return NewMDTError(op, mdt, CodeNotAvailable, "no reader currently registered for mdt")
	case rcProtocol:
		return NewMDTError(op, mdt, CodeProtocol, "protocol violation")
	case rcInvalid:
		return NewMDTError(op, mdt, CodeInvalidArgument, "invalid request")
	default:
		return NewMDTError(op, mdt, CodeFatal, fmt.Sprintf("unexpected retcode %d", rc))
	}
}

// proxyOps talks to the broker over a ZeroMQ DEALER socket, addressing
// every request directly to mdt as the forward identity (every reader's
// ZeroMQ identity is its MDT device name), mirroring struct px_zmq_data
// and px_client.c's cl_ops_proxy operations.
type proxyOps struct {
	sock    transport.Socket
	closeFn func() error
	mdt     string

	pending []*ChangeRecord
	pos     int
}

func newProxyOps(ctx context.Context, flags StartFlags, mdt string, start int64) (*proxyOps, error) {
	dealer := zmq4.NewDealer(ctx)
	if err := dealer.Dial(constants.DefaultBrokerEndpoint); err != nil {
		return nil, NewMDTError("START", mdt, CodeTransport, err.Error())
	}

	p := &proxyOps{sock: dealer, closeFn: dealer.Close, mdt: mdt}

	reg := wire.Register{Flags: uint32(flags), Start: start, MDTName: mdt}
	if err := transport.Send(p.sock, true, transport.Identity(mdt), reg.Marshal()); err != nil {
		dealer.Close()
		return nil, WrapError("START", err)
	}

	req, err := transport.Recv(p.sock, transport.NoEnvelope)
	if err != nil {
		dealer.Close()
		return nil, WrapError("START", err)
	}

	var ack wire.Ack
	if err := ack.Unmarshal(req.Body); err != nil {
		dealer.Close()
		return nil, NewMDTError("START", mdt, CodeProtocol, "malformed START reply")
	}
	if err := mapRetCode("START", mdt, ack.RetCode); err != nil {
		dealer.Close()
		return nil, err
	}

	return p, nil
}

func (p *proxyOps) dequeue(ctx context.Context) error {
	dq := wire.Dequeue{}
	if err := transport.Send(p.sock, true, transport.Identity(p.mdt), dq.Marshal()); err != nil {
		return WrapError("DEQUEUE", err)
	}

	req, err := transport.Recv(p.sock, transport.NoEnvelope)
	if err != nil {
		return WrapError("DEQUEUE", err)
	}

	op, err := wire.PeekOp(req.Body)
	if err != nil {
		return NewMDTError("DEQUEUE", p.mdt, CodeProtocol, "malformed reply")
	}

	switch op {
	case wire.OpAck:
		var ack wire.Ack
		if err := ack.Unmarshal(req.Body); err != nil {
			return NewMDTError("DEQUEUE", p.mdt, CodeProtocol, "malformed ACK reply")
		}
		return mapRetCode("DEQUEUE", p.mdt, ack.RetCode)
	case wire.OpEnqueue:
		var enq wire.Enqueue
		if err := enq.Unmarshal(req.Body); err != nil {
			return NewMDTError("DEQUEUE", p.mdt, CodeProtocol, "malformed ENQUEUE reply")
		}
		recs, err := DecodeRecords(enq.Records, enq.Count)
		if err != nil {
			return WrapError("DEQUEUE", err)
		}
		p.pending = recs
		p.pos = 0
		return nil
	default:
		return NewMDTError("DEQUEUE", p.mdt, CodeProtocol, "unexpected reply op "+op.String())
	}
}

func (p *proxyOps) recv(ctx context.Context) (*ChangeRecord, error) {
	if p.pos >= len(p.pending) {
		if err := p.dequeue(ctx); err != nil {
			return nil, err
		}
	}
	if p.pos >= len(p.pending) {
		return nil, ErrEOF
	}
	rec := p.pending[p.pos]
	p.pos++
	return rec, nil
}

// free is a no-op: Go's garbage collector reclaims a decoded
// ChangeRecord once nothing references it, unlike the original's
// explicit rec_buff free once a batch is fully consumed.
func (p *proxyOps) free(rec *ChangeRecord) {}

func (p *proxyOps) clear(ctx context.Context, mdt, readerID string, endIndex int64) error {
	// Mirrors px_changelog_clear's short-circuit: skip the round trip
	// while the local cache still holds unconsumed records from the
	// last DEQUEUE.
	if p.pos < len(p.pending) {
		return nil
	}

	cl := wire.Clear{Index: endIndex, ReaderID: readerID, MDTName: mdt}
	if err := transport.Send(p.sock, true, transport.Identity(mdt), cl.Marshal()); err != nil {
		return WrapError("CLEAR", err)
	}

	req, err := transport.Recv(p.sock, transport.NoEnvelope)
	if err != nil {
		return WrapError("CLEAR", err)
	}
	var ack wire.Ack
	if err := ack.Unmarshal(req.Body); err != nil {
		return NewMDTError("CLEAR", mdt, CodeProtocol, "malformed CLEAR reply")
	}
	return mapRetCode("CLEAR", mdt, ack.RetCode)
}

func (p *proxyOps) fini(ctx context.Context) error {
	fin := wire.Fini{}
	if err := transport.Send(p.sock, true, transport.Identity(p.mdt), fin.Marshal()); err != nil {
		return WrapError("FINI", err)
	}

	req, err := transport.Recv(p.sock, transport.NoEnvelope)
	if err != nil {
		return WrapError("FINI", err)
	}
	var ack wire.Ack
	if err := ack.Unmarshal(req.Body); err != nil {
		return NewMDTError("FINI", p.mdt, CodeProtocol, "malformed FINI reply")
	}

	if p.closeFn != nil {
		p.closeFn()
	}
	return mapRetCode("FINI", p.mdt, ack.RetCode)
}

// directOps reads straight from a source.Source, bypassing the broker
// and reader daemon entirely, mirroring cl_ops_null.
type directOps struct {
	src source.Source
	mdt string
}

func newDirectOps(ctx context.Context, flags StartFlags, mdt string, start int64) (*directOps, error) {
	if DirectSourceFactory == nil {
		return nil, NewMDTError("START", mdt, CodeInvalidArgument,
			"FlagDirect requires lcap.DirectSourceFactory to be set")
	}
	src, err := DirectSourceFactory()
	if err != nil {
		return nil, WrapError("START", err)
	}

	if err := src.Open(ctx, source.OpenOptions{
		MDT:    mdt,
		Start:  start,
		Follow: flags&FlagFollow != 0,
		JobID:  flags&FlagJobID != 0,
	}); err != nil {
		return nil, WrapError("START", err)
	}

	return &directOps{src: src, mdt: mdt}, nil
}

func (d *directOps) recv(ctx context.Context) (*ChangeRecord, error) {
	rec, err := d.src.Recv(ctx)
	if err != nil {
		if err == source.ErrEOF {
			return nil, ErrEOF
		}
		return nil, WrapError("RECV", err)
	}

	var cr ChangeRecord
	if _, err := cr.Unmarshal(rec.Payload); err != nil {
		return nil, WrapError("RECV", err)
	}
	return &cr, nil
}

func (d *directOps) free(rec *ChangeRecord) {}

func (d *directOps) clear(ctx context.Context, mdt, readerID string, endIndex int64) error {
	if err := d.src.Clear(ctx, readerID, endIndex); err != nil {
		return WrapError("CLEAR", err)
	}
	return nil
}

func (d *directOps) fini(ctx context.Context) error {
	if err := d.src.Close(ctx); err != nil {
		return WrapError("FINI", err)
	}
	return nil
}
