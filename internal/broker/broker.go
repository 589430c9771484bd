// Package broker implements the lcapd broker: a stateless RPC switch
// sitting between clients and reader workers on a single ROUTER socket,
// mirroring broker.c's lcapd_process_request/broker_rpc_handle dispatch.
//
// Clients address a reader directly by its identity (a reader's ZeroMQ
// identity is always its MDT device name, set by the reader at start-up);
// the broker never has to resolve "which reader serves MDT X" itself. Its
// job is to relay START/DEQUEUE/CLEAR/FINI to the named reader, relay
// ENQUEUE/ACK back to the originating client, and track reader liveness
// through SIGNAL so it can reject traffic aimed at a reader that never
// came up (or has since crashed) instead of forwarding into the void.
package broker

import (
	"context"
	"fmt"

	"github.com/lcap-io/lcapd/internal/logging"
	"github.com/lcap-io/lcapd/internal/transport"
	"github.com/lcap-io/lcapd/internal/wire"
)

const (
	rcOK         int32 = 0
	rcProtocol   int32 = -1
	rcInvalid    int32 = -2
	rcUnknownMDT int32 = -4
)

// Broker relays RPCs between clients and reader workers over a single
// bound ROUTER socket.
type Broker struct {
	mdts    map[string]bool               // configured MDT devices, from the daemon config
	readers map[string]transport.Identity // mdt name -> live reader identity
}

// New creates a Broker configured to accept traffic for the given set of
// MDT device names.
func New(mdts []string) *Broker {
	b := &Broker{
		mdts:    make(map[string]bool, len(mdts)),
		readers: make(map[string]transport.Identity, len(mdts)),
	}
	for _, mdt := range mdts {
		b.mdts[mdt] = true
	}
	return b
}

// Serve drains every request currently queued on sock and dispatches
// each, mirroring lcapd_process_request being invoked once per received
// RPC by lcap_rpc_recv.
func (b *Broker) Serve(ctx context.Context, sock transport.Socket, poller transport.Poller) (int, error) {
	return transport.RecvAll(ctx, sock, poller, 0, func(req *transport.Request) error {
		return b.handleRequest(sock, req)
	})
}

func (b *Broker) handleRequest(sock transport.Socket, req *transport.Request) error {
	op, err := wire.PeekOp(req.Body)
	if err != nil {
		logging.Default().Errorf("broker: received truncated RPC")
		return ackError(sock, req.Remote, rcProtocol)
	}
	if !op.Valid() {
		logging.Default().Errorf("broker: received RPC with invalid opcode %d", op)
		return ackError(sock, req.Remote, rcInvalid)
	}

	switch op {
	case wire.OpStart, wire.OpDequeue, wire.OpClear, wire.OpFini:
		return b.forwardToReader(sock, req)
	case wire.OpEnqueue, wire.OpAck:
		return b.forwardToClient(sock, req)
	case wire.OpSignal:
		return b.handleSignal(sock, req)
	default:
		logging.Default().Errorf("broker: received unexpected %s RPC", op)
		return ackError(sock, req.Remote, rcProtocol)
	}
}

// forwardToReader relays a client RPC to the reader named by req.Forward,
// mirroring broker_reader_send. The client names its target reader
// itself (by MDT name) in every request; the broker only validates that
// reader is currently registered before relaying.
func (b *Broker) forwardToReader(sock transport.Socket, req *transport.Request) error {
	mdt := string(req.Forward)
	if _, ok := b.readers[mdt]; !ok {
		logging.Default().Infof("broker: request for unregistered reader %q", mdt)
		return ackError(sock, req.Remote, rcUnknownMDT)
	}

	logging.Default().Debugf("broker: forwarding request to reader %q", mdt)
	return transport.Forward(sock, req.Forward, req.Remote, req.Body)
}

// forwardToClient relays a reader's reply to the client named by
// req.Forward, mirroring broker_client_send.
func (b *Broker) forwardToClient(sock transport.Socket, req *transport.Request) error {
	return transport.Send(sock, true, req.Forward, req.Body)
}

// handleSignal registers or deregisters a reader's liveness for an MDT,
// mirroring broker_handle_signal/changelog_reader_register.
func (b *Broker) handleSignal(sock transport.Socket, req *transport.Request) error {
	var sig wire.Signal
	if err := sig.Unmarshal(req.Body); err != nil {
		return ackError(sock, req.Remote, rcInvalid)
	}

	if sig.Ret == 0 {
		if !b.mdts[sig.MDTName] {
			logging.Default().Errorf("broker: registration for unconfigured MDT %q", sig.MDTName)
			return ackError(sock, req.Remote, rcUnknownMDT)
		}
		b.readers[sig.MDTName] = req.Remote
		logging.Default().Infof("broker: registered reader for %q", sig.MDTName)
		return nil
	}

	for mdt, ident := range b.readers {
		if ident == req.Remote {
			delete(b.readers, mdt)
			logging.Default().Errorf("broker: reader for %q exited with error %d", mdt, sig.Ret)
			break
		}
	}
	return nil
}

// ReaderIdentity returns the live reader identity registered for mdt, and
// whether one is currently registered.
func (b *Broker) ReaderIdentity(mdt string) (transport.Identity, bool) {
	ident, ok := b.readers[mdt]
	return ident, ok
}

func ackError(sock transport.Socket, dst transport.Identity, rc int32) error {
	ack := wire.Ack{RetCode: rc}
	if err := transport.Send(sock, true, dst, ack.Marshal()); err != nil {
		return fmt.Errorf("broker: cannot ack error %d to %q: %w", rc, dst, err)
	}
	return nil
}
