package reader

import (
	"github.com/lcap-io/lcapd/internal/cache"
	"github.com/lcap-io/lcapd/internal/transport"
)

// consumerState tracks one registered consumer's position and any bucket
// currently checked out to it, mirroring struct client_state.
type consumerState struct {
	ident  transport.Identity
	start  int64
	bucket *cache.Bucket
}

// findConsumer does a linear scan over the registered consumer set. The
// set is expected to stay small (one entry per active reader-of-record
// process), so the O(N) scan costs less than the bookkeeping a map with
// Identity-string keys would add.
func (r *Reader) findConsumer(ident transport.Identity) *consumerState {
	for _, cs := range r.consumers {
		if cs.ident == ident {
			return cs
		}
	}
	return nil
}

func (r *Reader) addConsumer(cs *consumerState) {
	r.consumers = append(r.consumers, cs)
}

func (r *Reader) removeConsumer(cs *consumerState) {
	for i, c := range r.consumers {
		if c == cs {
			r.consumers = append(r.consumers[:i], r.consumers[i+1:]...)
			return
		}
	}
}
