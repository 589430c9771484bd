package lbmod

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lcap-io/lcapd/internal/source"
)

func TestNewUnknownModuleErrors(t *testing.T) {
	_, err := New("nope", nil, 1)
	require.Error(t, err)
}

func TestLoadBalancerRoundTripsRecords(t *testing.T) {
	d, err := New("loadbalance", []string{"mdt0", "mdt1"}, 2)
	require.NoError(t, err)

	rec := source.Record{Index: 1, Payload: []byte("x")}
	require.NoError(t, d.Enqueue("mdt0", rec))

	got, ok := d.Dequeue(0)
	if !ok {
		got, ok = d.Dequeue(1)
	}
	require.True(t, ok, "Dequeue should find the enqueued record on one of the two workers")
	require.Equal(t, rec.Index, got.Index)
}

func TestLoadBalancerEnqueueRejectsUnconfiguredMDT(t *testing.T) {
	d, err := New("loadbalance", []string{"mdt0"}, 1)
	require.NoError(t, err)
	require.Error(t, d.Enqueue("mdt1", source.Record{}))
}

func TestLoadBalancerAckRoundTrip(t *testing.T) {
	d, err := New("loadbalance", []string{"mdt0"}, 1)
	require.NoError(t, err)

	_, ok := d.GetAck("mdt0")
	require.False(t, ok, "no ack should be set yet")

	d.SetAck("mdt0", 42)
	got, ok := d.GetAck("mdt0")
	require.True(t, ok)
	require.Equal(t, int64(42), got)
}

func TestLoadBalancerDequeueUnknownWorkerIsFalse(t *testing.T) {
	d, err := New("loadbalance", []string{"mdt0"}, 1)
	require.NoError(t, err)
	_, ok := d.Dequeue(5)
	require.False(t, ok, "Dequeue on out-of-range workerID should report false")
}
