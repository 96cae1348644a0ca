// core/scheduler.go
package core

// Reschedule picks the process that runs next on n. Delayed processes whose
// countdown expired and waiters whose semaphore became positive are made
// runnable; the runnable process with the highest priority wins, ties going
// to the first one in the list (the most recently created). A process whose
// DMA transfer completed is chosen at once. A node blocked at the barrier
// dispatches nothing.
func (e *Emulator) Reschedule(n *Node) {
	n.saveCurrent()
	if n.syncWait {
		n.current = nil
		n.stack = nil
		return
	}

	var pick *Process
	for p := n.procs; p != nil; p = p.next {
		if p.status == Delaying && p.dticks == 0 {
			p.setStatus(Running)
		}
		if p.status == Waiting {
			if v := n.load(p.sem); v > 0 {
				n.store(p.sem, v-1)
				p.setStatus(Running)
			}
		}
		if p.status == Running {
			if pick == nil || p.priority > pick.priority {
				pick = p
			}
		}
		if p.status == DMATransfer && n.dmaTicks == 0 {
			p.setStatus(Running)
			pick = p
			break
		}
	}

	if pick == nil {
		n.current = nil
		n.stack = nil
		return
	}
	n.restore(pick)
}
