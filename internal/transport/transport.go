// Package transport wraps ZeroMQ ROUTER/DEALER/REQ sockets with the
// envelope handling, non-blocking drain loop, and identity-addressed
// send/receive the broker, readers and clients need, mirroring
// lcap_rpc_recv/peer_rpc_send from the original transport layer.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Identity is an opaque routing identity, compared by value.
type Identity string

// RecvFlags mirrors LCAP_RECV_NO_ENVELOPE. There is no non-blocking
// flag: RecvAll polls with a zero timeout instead.
type RecvFlags int

const (
	// NoEnvelope indicates the socket is a DEALER/REQ connected
	// point-to-point, so no leading ROUTER identity frame is present.
	NoEnvelope RecvFlags = 1 << iota
)

// ErrWouldBlock is surfaced by a Socket implementation whose Recv was
// interrupted by a zero-timeout poll finding nothing queued.
var ErrWouldBlock = errors.New("transport: would block")

// Request is a single reassembled, routable RPC as delivered to a
// handler, mirroring struct lcapnet_request.
type Request struct {
	Remote  Identity // envelope identity a reply must target (ROUTER sockets only)
	Forward Identity // identity the body should ultimately be routed to, if any
	Body    []byte
}

// Socket is the subset of zmq4.Socket this package depends on, kept
// narrow so tests can fake it without a real ZeroMQ context.
type Socket interface {
	Send(zmq4.Msg) error
	Recv() (zmq4.Msg, error)
}

// Recv reads and reassembles one message from sock. On a ROUTER socket
// (flags without NoEnvelope) the first frame is the sender's identity;
// remaining frames are an optional forward-identity frame (when more
// than two frames are present) followed by the RPC body.
func Recv(sock Socket, flags RecvFlags) (*Request, error) {
	msg, err := sock.Recv()
	if err != nil {
		return nil, err
	}
	frames := msg.Frames
	req := &Request{}

	if flags&NoEnvelope == 0 {
		if len(frames) == 0 {
			return nil, errors.New("transport: empty envelope")
		}
		req.Remote = Identity(frames[0])
		frames = frames[1:]
	}

	switch len(frames) {
	case 0:
		return nil, errors.New("transport: missing body frame")
	case 1:
		req.Body = frames[0]
	default:
		req.Forward = Identity(frames[0])
		req.Body = frames[len(frames)-1]
	}
	return req, nil
}

// Poller reports whether sock currently has a message ready, without
// blocking. NewPoller adapts a *zmq4.Poller, registered with a single
// socket, to this millisecond-timeout interface.
type Poller interface {
	Poll(timeout int) ([]zmq4.PollEvent, error)
}

// RecvAll drains every message currently queued on sock, polling poller
// with a zero timeout before each Recv so the call never blocks,
// invoking handle for each successfully reassembled Request. It returns
// the count of requests for which handle returned nil, stopping once the
// poll reports nothing pending.
func RecvAll(ctx context.Context, sock Socket, poller Poller, flags RecvFlags, handle func(*Request) error) (int, error) {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}

		events, err := poller.Poll(0)
		if err != nil {
			return n, err
		}
		if len(events) == 0 {
			return n, nil
		}

		req, err := Recv(sock, flags)
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return n, nil
			}
			return n, err
		}
		if err := handle(req); err == nil {
			n++
		}
	}
}

// Send transmits body. When routed is true, dst is sent as a leading
// frame: a ROUTER socket routes on it, and through a DEALER it reaches
// the broker as the forward identity. When routed is false, dst is
// ignored and only body is sent.
func Send(sock Socket, routed bool, dst Identity, body []byte) error {
	var frames [][]byte
	if routed {
		frames = [][]byte{[]byte(dst), body}
	} else {
		frames = [][]byte{body}
	}
	return sock.Send(zmq4.NewMsgFrom(frames...))
}

// Forward re-sends body through a ROUTER socket to dst, prefixed with
// src as the reply-to identity, mirroring broker_reader_send's two-hop
// relay of client traffic through a reader's dealer connection.
func Forward(sock Socket, dst, src Identity, body []byte) error {
	return sock.Send(zmq4.NewMsgFrom([]byte(dst), []byte(src), body))
}

// zpoller is the subset of *zmq4.Poller this package depends on.
type zpoller interface {
	Poll(timeout time.Duration) ([]zmq4.PollEvent, error)
}

// socketPoller adapts a *zmq4.Poller watching a single socket to the
// millisecond-timeout Poller interface RecvAll expects.
type socketPoller struct {
	p zpoller
}

// NewPoller registers sock with a fresh zmq4.Poller and returns a Poller
// RecvAll can drive. Call once per production socket at startup.
func NewPoller(sock zmq4.Socket) Poller {
	p := zmq4.NewPoller()
	p.Add(sock, zmq4.POLLIN)
	return &socketPoller{p: p}
}

func (s *socketPoller) Poll(timeoutMs int) ([]zmq4.PollEvent, error) {
	return s.p.Poll(time.Duration(timeoutMs) * time.Millisecond)
}
