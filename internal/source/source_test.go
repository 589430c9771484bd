package source

import (
	"context"
	"errors"
	"testing"

	"github.com/lcap-io/lcapd/internal/constants"
)

func TestSimulatedRecvInOrder(t *testing.T) {
	s := NewSimulated([]Record{
		{Index: 1, Payload: []byte("a")},
		{Index: 2, Payload: []byte("b")},
	})
	ctx := context.Background()
	if err := s.Open(ctx, OpenOptions{MDT: "mdt0", Start: constants.AnyIndex}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if rec.Index != 1 {
		t.Errorf("Index = %d, want 1", rec.Index)
	}

	rec, err = s.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if rec.Index != 2 {
		t.Errorf("Index = %d, want 2", rec.Index)
	}

	_, err = s.Recv(ctx)
	if !errors.Is(err, ErrEOF) {
		t.Errorf("err = %v, want ErrEOF", err)
	}
}

func TestSimulatedResumeFromStart(t *testing.T) {
	s := NewSimulated([]Record{
		{Index: 1}, {Index: 2}, {Index: 3},
	})
	ctx := context.Background()
	if err := s.Open(ctx, OpenOptions{Start: 2}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if rec.Index != 2 {
		t.Errorf("Index = %d, want 2", rec.Index)
	}
}

func TestSimulatedRecvBeforeOpen(t *testing.T) {
	s := NewSimulated(nil)
	_, err := s.Recv(context.Background())
	if err == nil {
		t.Fatal("expected error recving before Open")
	}
}

func TestSimulatedCloseThenRecv(t *testing.T) {
	s := NewSimulated([]Record{{Index: 1}})
	ctx := context.Background()
	_ = s.Open(ctx, OpenOptions{Start: constants.AnyIndex})
	_ = s.Close(ctx)

	_, err := s.Recv(ctx)
	if err == nil {
		t.Fatal("expected error recving after Close")
	}
}
