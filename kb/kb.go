package kb

import (
	"errors"
	"fmt"
	"sort"
)

// MaxLinks bounds the number of destinations a single source may fan out to.
const MaxLinks = 10001

// ErrTooManyLinks is returned when a source exceeds MaxLinks destinations.
var ErrTooManyLinks = errors.New("too many connections")

// EventType indicates what kind of change happened in the builder.
type EventType int

const (
	EventLinkAdded EventType = iota
)

// Event is emitted to subscribers when a link is recorded.
type Event struct {
	Type   EventType
	Source uint32
	Dest   uint32
}

// Builder collects directed links while a scenario is being loaded. It is
// used from the loading goroutine only; the Topology it produces is
// immutable.
type Builder struct {
	links map[uint32][]uint32
	seen  map[[2]uint32]struct{}

	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Event)
}

// NewBuilder constructs an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		links: make(map[uint32][]uint32),
		seen:  make(map[[2]uint32]struct{}),
	}
}

// Link records src -> dst. Repeated links are ignored so that every
// destination list stays duplicate-free in first-seen order.
func (b *Builder) Link(src, dst uint32) error {
	key := [2]uint32{src, dst}
	if _, dup := b.seen[key]; dup {
		return nil
	}
	if len(b.links[src]) >= MaxLinks {
		return fmt.Errorf("source %d: %w (%d)", src, ErrTooManyLinks, MaxLinks)
	}
	b.seen[key] = struct{}{}
	b.links[src] = append(b.links[src], dst)

	// A callback may unsubscribe, so walk a copy.
	event := Event{Type: EventLinkAdded, Source: src, Dest: dst}
	for _, sub := range append([]subscriber(nil), b.subs...) {
		sub.fn(event)
	}
	return nil
}

// LinkRange links every source in [srcLo, srcHi] to every destination in
// [dstLo, dstHi], the shape produced by an interrupt alias declaration.
func (b *Builder) LinkRange(srcLo, srcHi, dstLo, dstHi uint32) error {
	if srcLo > srcHi || dstLo > dstHi {
		return fmt.Errorf("invalid link range %d..%d -> %d..%d", srcLo, srcHi, dstLo, dstHi)
	}
	for s := uint64(srcLo); s <= uint64(srcHi); s++ {
		for d := uint64(dstLo); d <= uint64(dstHi); d++ {
			if err := b.Link(uint32(s), uint32(d)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Subscribe registers a callback for newly recorded links. The returned
// function removes exactly this callback and may be called more than once.
func (b *Builder) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Build snapshots the recorded links into an immutable Topology.
func (b *Builder) Build() *Topology {
	t := &Topology{links: make(map[uint32][]uint32, len(b.links))}
	for src, dsts := range b.links {
		t.links[src] = append([]uint32(nil), dsts...)
	}
	return t
}

// Topology is the static directed graph consulted by packet delivery.
type Topology struct {
	links map[uint32][]uint32
}

// Destinations returns the destinations of src in insertion order, or nil if
// src has no outgoing links. The slice must not be modified.
func (t *Topology) Destinations(src uint32) []uint32 {
	if t == nil {
		return nil
	}
	return t.links[src]
}

// Sources returns every node with at least one outgoing link, ascending.
func (t *Topology) Sources() []uint32 {
	if t == nil {
		return nil
	}
	res := make([]uint32, 0, len(t.links))
	for src := range t.links {
		res = append(res, src)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// LinkCount returns the total number of directed links.
func (t *Topology) LinkCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, dsts := range t.links {
		n += len(dsts)
	}
	return n
}
