// core/timequeue.go
package core

// bucket groups the contiguous span of queued nodes that share one clock
// value. last is the tail node of the span.
type bucket struct {
	value      uint64
	last       *Node
	items      int
	prev, next *bucket
}

// timeQueue orders every live node by ascending clock. Buckets run from the
// smallest value (first) to the largest (last). reorder, remove and the
// initial fill in reset are the only mutation paths.
type timeQueue struct {
	head, tail  *Node
	first, last *bucket

	searches    uint64
	avgSearches float64
}

// reset fills the queue with nodes, which must all have the same clock.
func (q *timeQueue) reset(nodes []*Node) {
	*q = timeQueue{}
	if len(nodes) == 0 {
		return
	}
	b := &bucket{value: nodes[0].ticks}
	var prev *Node
	for _, n := range nodes {
		n.prev, n.next = prev, nil
		if prev != nil {
			prev.next = n
		} else {
			q.head = n
		}
		n.bucket = b
		b.items++
		prev = n
	}
	q.tail = prev
	b.last = prev
	q.first, q.last = b, b
}

// front returns the node with the smallest clock.
func (q *timeQueue) front() *Node { return q.head }

func (q *timeQueue) linkAfter(n, prev *Node) {
	if prev != nil {
		n.prev = prev
		n.next = prev.next
		if prev.next != nil {
			prev.next.prev = n
		} else {
			q.tail = n
		}
		prev.next = n
		return
	}
	if q.head != nil {
		q.head.prev = n
	}
	n.next = q.head
	n.prev = nil
	q.head = n
	if q.tail == nil {
		q.tail = n
	}
}

func (q *timeQueue) unlinkBucket(b *bucket) {
	if b.prev != nil {
		b.prev.next = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	if q.first == b {
		q.first = b.next
	}
	if q.last == b {
		q.last = b.prev
	}
	b.prev, b.next = nil, nil
}

// remove detaches n from the node list and from its bucket, dropping the
// bucket once it is empty.
func (q *timeQueue) remove(n *Node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if q.head == n {
		q.head = n.next
	}
	if q.tail == n {
		q.tail = n.prev
	}
	if b := n.bucket; b != nil {
		b.items--
		if b.items == 0 {
			q.unlinkBucket(b)
		} else if b.last == n {
			b.last = n.prev
		}
	}
	n.prev, n.next, n.bucket = nil, nil, nil
}

// spanStart returns the node preceding b's span, or nil when b is first.
func spanStart(b *bucket) *Node {
	if b.prev == nil {
		return nil
	}
	return b.prev.last
}

// reorder moves n to the position matching its clock. The search starts at
// the largest bucket, since a node that just executed usually has the
// largest clock in the queue. A node joining an existing bucket goes to the
// front of its span so that the most recently moved node runs first among
// equals.
func (q *timeQueue) reorder(n *Node) {
	q.remove(n)

	searched := 0
	var b *bucket
	for b = q.last; b != nil; b = b.prev {
		searched++
		if b.value == n.ticks {
			q.linkAfter(n, spanStart(b))
			b.items++
			n.bucket = b
			break
		}
		if b.value < n.ticks {
			q.linkAfter(n, b.last)
			nb := &bucket{value: n.ticks, last: n, items: 1, prev: b, next: b.next}
			if b.next != nil {
				b.next.prev = nb
			} else {
				q.last = nb
			}
			b.next = nb
			n.bucket = nb
			break
		}
	}
	if b == nil {
		q.linkAfter(n, nil)
		nb := &bucket{value: n.ticks, last: n, items: 1, next: q.first}
		if q.first != nil {
			q.first.prev = nb
		}
		q.first = nb
		if q.last == nil {
			q.last = nb
		}
		n.bucket = nb
	}

	q.searches++
	q.avgSearches += (float64(searched) - q.avgSearches) / float64(q.searches)
}

// nodes returns the queue head to tail.
func (q *timeQueue) nodes() []*Node {
	var res []*Node
	for n := q.head; n != nil; n = n.next {
		res = append(res, n)
	}
	return res
}
