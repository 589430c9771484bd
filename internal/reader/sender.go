package reader

import (
	"github.com/lcap-io/lcapd/internal/transport"
	"github.com/lcap-io/lcapd/internal/wire"
)

// Sender is the narrow outbound surface a Reader needs on its dealer
// connection to the broker: replying to a consumer's request, delivering
// a batch of records, and announcing the reader's own health. Splitting
// it out from transport.Socket keeps the dispatch logic in reader.go
// testable without a real connection.
type Sender interface {
	Ack(dst transport.Identity, retcode int32) error
	Enqueue(dst transport.Identity, count uint32, records []byte) error
	Signal(ret uint64, mdtName string) error
}

// socketSender is the production Sender, wrapping a dealer socket already
// connected to the broker under its MDT-named identity.
type socketSender struct {
	sock transport.Socket
}

// NewSocketSender adapts sock into a Sender.
func NewSocketSender(sock transport.Socket) Sender {
	return &socketSender{sock: sock}
}

func (s *socketSender) Ack(dst transport.Identity, retcode int32) error {
	ack := wire.Ack{RetCode: retcode}
	return transport.Send(s.sock, true, dst, ack.Marshal())
}

func (s *socketSender) Enqueue(dst transport.Identity, count uint32, records []byte) error {
	enq := wire.Enqueue{Count: count, Records: records}
	return transport.Send(s.sock, true, dst, enq.Marshal())
}

// Signal reports to the broker that this reader is up (ret == 0) or that
// it is exiting on an error (ret != 0), so the broker can route or stop
// routing DEQUEUE/CLEAR traffic for mdtName. The broker identifies the
// reader from the envelope identity ZeroMQ attaches automatically, so no
// forward identity is needed here.
func (s *socketSender) Signal(ret uint64, mdtName string) error {
	sig := wire.Signal{Ret: ret, MDTName: mdtName}
	return transport.Send(s.sock, false, "", sig.Marshal())
}
