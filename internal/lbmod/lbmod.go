// Package lbmod provides the record distribution strategies a reader can
// hand its output to instead of the default per-consumer cache.Bucket
// scheme. It replaces modules.c's dlopen-based external plugin loading:
// Go has no idiomatic dlopen/dlsym story, so a strategy here is a
// compile-time-registered constructor returning a value that satisfies
// Distributor, the same shape the teacher's internal/ctrl package uses
// for its own control-plane construction.
package lbmod

import (
	"fmt"

	"github.com/lcap-io/lcapd/internal/source"
)

// Distributor is the interface a reader dispatches enqueued records
// through when running in a distribution module, in place of its normal
// per-consumer cache.Cache. It mirrors modules.h's cpm_rec_enqueue/
// cpm_rec_dequeue/cpm_set_ack/cpm_get_ack operation set.
type Distributor interface {
	// Name identifies the strategy, mirroring cpo_name.
	Name() string

	// Enqueue hands rec, read for mdt, to the distributor. Mirrors
	// cpo_rec_enqueue.
	Enqueue(mdt string, rec source.Record) error

	// Dequeue returns the next record available to worker goroutine
	// workerID, or ok=false if none is currently available. workerID
	// must be a stable index in [0, workerCount) owned by one goroutine
	// for its lifetime, the same contract ring.Ring.Consumer imposes.
	// Mirrors cpo_rec_dequeue.
	Dequeue(workerID int) (rec source.Record, ok bool)

	// SetAck records recno as the highest index a worker has finished
	// processing for device. Mirrors cpo_set_ack.
	SetAck(device string, recno int64)

	// GetAck returns the last index SetAck recorded for device, or
	// ok=false if none has been set yet. Mirrors cpo_get_ack.
	GetAck(device string) (recno int64, ok bool)

	// Close releases the distributor's resources. Mirrors cpo_destroy.
	Close() error
}

// Constructor builds a Distributor for the given set of configured MDT
// device names and worker pool size.
type Constructor func(mdts []string, workerCount int) (Distributor, error)

var registry = map[string]Constructor{
	"loadbalance": newLoadBalancer,
}

// New builds the distributor registered under name (Config.ModuleName),
// mirroring lcap_module_load_external's symbol resolution without the
// dlopen: the "symbol table" here is the registry map above, populated at
// init time instead of at runtime from a shared object path.
func New(name string, mdts []string, workerCount int) (Distributor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("lbmod: unknown module %q", name)
	}
	return ctor(mdts, workerCount)
}
