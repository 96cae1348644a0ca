package kb

import (
	"errors"
	"fmt"
	"testing"
)

func TestLinkDeduplicatesInOrder(t *testing.T) {
	b := NewBuilder()
	for _, dst := range []uint32{3, 2, 3, 4, 2} {
		if err := b.Link(1, dst); err != nil {
			t.Fatalf("Link(1, %d) error: %v", dst, err)
		}
	}
	topo := b.Build()
	got := topo.Destinations(1)
	want := []uint32{3, 2, 4}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Destinations(1) = %v, want %v", got, want)
	}
	if topo.Destinations(9) != nil {
		t.Fatalf("expected no destinations for unknown source")
	}
	if topo.LinkCount() != 3 {
		t.Fatalf("LinkCount = %d, want 3", topo.LinkCount())
	}
}

func TestLinkRange(t *testing.T) {
	b := NewBuilder()
	if err := b.LinkRange(1, 2, 5, 6); err != nil {
		t.Fatalf("LinkRange error: %v", err)
	}
	topo := b.Build()
	if got := fmt.Sprint(topo.Sources()); got != "[1 2]" {
		t.Fatalf("Sources = %s, want [1 2]", got)
	}
	if got := fmt.Sprint(topo.Destinations(2)); got != "[5 6]" {
		t.Fatalf("Destinations(2) = %s, want [5 6]", got)
	}
	if err := b.LinkRange(4, 3, 1, 1); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
}

func TestLinkLimit(t *testing.T) {
	b := NewBuilder()
	if err := b.LinkRange(7, 7, 1, MaxLinks); err != nil {
		t.Fatalf("LinkRange up to MaxLinks error: %v", err)
	}
	err := b.Link(7, MaxLinks+1)
	if !errors.Is(err, ErrTooManyLinks) {
		t.Fatalf("Link beyond MaxLinks error = %v, want ErrTooManyLinks", err)
	}
}

func TestBuildSnapshotIsIndependent(t *testing.T) {
	b := NewBuilder()
	_ = b.Link(1, 2)
	topo := b.Build()
	_ = b.Link(1, 3)
	if got := len(topo.Destinations(1)); got != 1 {
		t.Fatalf("snapshot changed after Build: %d destinations", got)
	}
	var nilTopo *Topology
	if nilTopo.Destinations(1) != nil || nilTopo.LinkCount() != 0 {
		t.Fatalf("nil topology should have no links")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	b := NewBuilder()
	var events []Event
	unsub := b.Subscribe(func(ev Event) { events = append(events, ev) })

	_ = b.Link(1, 2)
	_ = b.Link(1, 2)
	unsub()
	unsub()
	_ = b.Link(2, 1)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventLinkAdded || events[0].Source != 1 || events[0].Dest != 2 {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestUnsubscribeRemovesOnlyItsCallback(t *testing.T) {
	b := NewBuilder()
	var a, bb, c int
	unsubA := b.Subscribe(func(Event) { a++ })
	b.Subscribe(func(Event) { bb++ })
	unsubC := b.Subscribe(func(Event) { c++ })

	unsubA()
	unsubC()
	_ = b.Link(1, 2)
	if a != 0 || bb != 1 || c != 0 {
		t.Fatalf("after removing the first and last callbacks: a=%d b=%d c=%d, want 0 1 0", a, bb, c)
	}
}

func TestUnsubscribeDuringNotification(t *testing.T) {
	b := NewBuilder()
	var first, second int
	var unsub func()
	unsub = b.Subscribe(func(Event) {
		first++
		unsub()
	})
	b.Subscribe(func(Event) { second++ })

	_ = b.Link(1, 2)
	_ = b.Link(1, 3)
	if first != 1 || second != 2 {
		t.Fatalf("first=%d second=%d, want 1 2", first, second)
	}
}
