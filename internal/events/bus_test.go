package events

import (
	"context"
	"testing"
	"time"
)

func TestBusFansOutToSubscribers(t *testing.T) {
	bus := NewBus(8)
	sub1 := bus.Subscribe(8)
	sub2 := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Emit(NewStart(3, 2))

	select {
	case e := <-sub1:
		if e.Kind != KindStart || e.Start.TaskCount != 3 {
			t.Fatalf("unexpected event on sub1: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on sub1")
	}

	select {
	case e := <-sub2:
		if e.Kind != KindStart {
			t.Fatalf("unexpected event on sub2: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on sub2")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Close()

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected subscriber channel closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for subscriber channel to close")
	}
}
