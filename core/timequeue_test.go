package core

import (
	"math/rand"
	"testing"
)

// checkQueue verifies that the node list is sorted by clock and that the
// buckets partition it into maximal spans of equal clocks.
func checkQueue(t *testing.T, q *timeQueue) {
	t.Helper()
	var prev *Node
	for n := q.head; n != nil; n = n.next {
		if n.prev != prev {
			t.Fatalf("node %d: broken back link", n.id)
		}
		if prev != nil && prev.ticks > n.ticks {
			t.Fatalf("queue not sorted: %d (%d) before %d (%d)", prev.id, prev.ticks, n.id, n.ticks)
		}
		if n.bucket == nil || n.bucket.value != n.ticks {
			t.Fatalf("node %d (%d) in wrong bucket %+v", n.id, n.ticks, n.bucket)
		}
		prev = n
	}
	if q.tail != prev {
		t.Fatalf("tail mismatch")
	}

	var prevB *bucket
	n := q.head
	for b := q.first; b != nil; b = b.next {
		if b.prev != prevB {
			t.Fatalf("bucket %d: broken back link", b.value)
		}
		if prevB != nil && prevB.value >= b.value {
			t.Fatalf("buckets not strictly ascending: %d then %d", prevB.value, b.value)
		}
		if b.items < 1 {
			t.Fatalf("empty bucket %d", b.value)
		}
		for i := 0; i < b.items; i++ {
			if n == nil || n.bucket != b {
				t.Fatalf("bucket %d span does not match node list", b.value)
			}
			if i == b.items-1 && b.last != n {
				t.Fatalf("bucket %d last = %d, want %d", b.value, b.last.id, n.id)
			}
			n = n.next
		}
		prevB = b
	}
	if n != nil {
		t.Fatalf("node %d not covered by a bucket", n.id)
	}
	if q.last != prevB {
		t.Fatalf("last bucket mismatch")
	}
}

func queueIDs(q *timeQueue) []uint32 {
	var ids []uint32
	for _, n := range q.nodes() {
		ids = append(ids, n.id)
	}
	return ids
}

func newQueue(count int) (*timeQueue, []*Node) {
	nodes := make([]*Node, count)
	for i := range nodes {
		nodes[i] = &Node{id: uint32(i + 1)}
	}
	q := &timeQueue{}
	q.reset(nodes)
	return q, nodes
}

func TestTimeQueueKeepsRegistrationOrder(t *testing.T) {
	q, _ := newQueue(4)
	checkQueue(t, q)
	ids := queueIDs(q)
	for i, id := range ids {
		if id != uint32(i+1) {
			t.Fatalf("initial order = %v", ids)
		}
	}
}

func TestTimeQueueEqualClocksMostRecentFirst(t *testing.T) {
	q, nodes := newQueue(3)

	nodes[0].ticks = 5
	q.reorder(nodes[0])
	nodes[1].ticks = 5
	q.reorder(nodes[1])
	checkQueue(t, q)

	got := queueIDs(q)
	want := []uint32{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if q.front() != nodes[2] {
		t.Fatalf("front = %d, want 3", q.front().id)
	}

	nodes[2].ticks = 2
	q.reorder(nodes[2])
	nodes[2].ticks = 5
	q.reorder(nodes[2])
	if got := queueIDs(q); got[0] != 3 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("after re-bucketing node 3: %v", got)
	}
	checkQueue(t, q)
}

func TestTimeQueueReorderBackwards(t *testing.T) {
	q, nodes := newQueue(3)
	for i, n := range nodes {
		n.ticks = uint64(10 * (i + 1))
		q.reorder(n)
	}
	nodes[2].ticks = 1
	q.reorder(nodes[2])
	checkQueue(t, q)
	if q.front() != nodes[2] {
		t.Fatalf("rewound node not at front: %v", queueIDs(q))
	}
	if q.first.value != 1 || q.last.value != 20 {
		t.Fatalf("bucket range %d..%d", q.first.value, q.last.value)
	}
}

func TestTimeQueueRandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q, nodes := newQueue(16)
	live := append([]*Node(nil), nodes...)

	for step := 0; step < 5000; step++ {
		if len(live) == 0 {
			break
		}
		i := rng.Intn(len(live))
		n := live[i]
		switch r := rng.Intn(100); {
		case r < 2:
			q.remove(n)
			live = append(live[:i], live[i+1:]...)
		case r < 20:
			// rewind somewhere into the past
			n.ticks = uint64(rng.Intn(int(n.ticks) + 1))
			q.reorder(n)
		default:
			n.ticks += uint64(rng.Intn(4))
			q.reorder(n)
		}
		checkQueue(t, q)
		if len(q.nodes()) != len(live) {
			t.Fatalf("queue holds %d nodes, want %d", len(q.nodes()), len(live))
		}
	}
	if q.avgSearches <= 0 {
		t.Fatalf("average search length not tracked")
	}
}

func TestTimeQueueRemoveLast(t *testing.T) {
	q, nodes := newQueue(1)
	q.remove(nodes[0])
	if q.front() != nil || q.first != nil || q.last != nil || q.tail != nil {
		t.Fatalf("queue not empty after removing its only node")
	}
	nodes[0].ticks = 3
	q.reorder(nodes[0])
	checkQueue(t, q)
}
