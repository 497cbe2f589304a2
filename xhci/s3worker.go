package xhci

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// vbdpState is the S3 suspend-cache entry state (§3 S3 suspend cache).
type vbdpState int

const (
	vbdpNone vbdpState = iota
	vbdpStart
	vbdpEnd
)

// vbdpEntry is one (path, vport, state) tuple of vbdp_devs[].
type vbdpEntry struct {
	path  string
	vport int
	state vbdpState
}

// s3Worker is the single background actor of §4.8: it blocks on a
// one-slot semaphore (the teacher's bus.go blocks endpoint transfers on a
// *sync.Cond rendezvous point in the same spirit — here the rendezvous is
// "a vbdp entry reached END", not "a transfer descriptor completed") and,
// each wake, looks for an END entry to resolve.
type s3Worker struct {
	sem     *semaphore.Weighted
	ctrl    *Controller
	polling bool
	done    chan struct{}
}

func newS3Worker(c *Controller) *s3Worker {
	return &s3Worker{
		sem:     semaphore.NewWeighted(1),
		ctrl:    c,
		polling: true,
		done:    make(chan struct{}),
	}
}

// signal wakes the worker. Called with Controller.mu held or not; the
// semaphore release is safe either way since it never blocks.
func (w *s3Worker) signal() {
	w.sem.TryAcquire(1)
	w.sem.Release(1)
}

// run is the worker's main loop; it owns its own execution context so a
// Disable-Slot command handler can signal it without blocking the MMIO
// write that produced the command (§4.8, §5 Suspension points).
func (w *s3Worker) run() {
	ctx := context.Background()

	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}

		w.ctrl.mu.Lock()
		if !w.polling {
			w.ctrl.mu.Unlock()
			close(w.done)
			return
		}

		entry := w.ctrl.popVBDPEnd()
		if entry == nil {
			w.ctrl.mu.Unlock()
			continue
		}

		entry.state = vbdpNone

		nb, ok := w.ctrl.nativePorts[entry.path]
		var raise bool
		var speed int
		if ok && nb.state == vportConnected {
			raise = true
			speed = w.ctrl.portByVnum(nb.vport).boundSpeed
		}
		w.ctrl.mu.Unlock()

		if raise {
			w.ctrl.mu.Lock()
			p := w.ctrl.portByVnum(entry.vport)
			p.boundSpeed = speed
			w.ctrl.raisePortStatusChange(entry.vport)
			w.ctrl.mu.Unlock()
		}
	}
}

// stop implements the shutdown sequence of §5 Cancellation: sets
// polling=false, signals, and waits for the worker to exit.
func (w *s3Worker) stop() {
	w.ctrl.mu.Lock()
	w.polling = false
	w.ctrl.mu.Unlock()
	w.signal()
	<-w.done
}

// --- Controller-side vbdp bookkeeping, called with mu held -------------

// saveState implements §4.2/§3's Save-State behavior: every VPORT_EMULATED
// binding moves to the vbdp cache in state START, its PORTSC is
// re-initialized, and the port-level binding reverts to ASSIGNED.
func (c *Controller) saveState() {
	for path, nb := range c.nativePorts {
		if nb.state != vportEmulated {
			continue
		}
		p := c.portByVnum(nb.vport)
		c.vbdp = append(c.vbdp, &vbdpEntry{path: path, vport: nb.vport, state: vbdpStart})
		p.portsc = 1 << portsccPP
		nb.state = vportAssigned
	}
}

func (c *Controller) findVBDP(path string) *vbdpEntry {
	for _, e := range c.vbdp {
		if e.path == path {
			return e
		}
	}
	return nil
}

// popVBDPEnd returns (and does not remove) the first entry in state END,
// for the worker to resolve.
func (c *Controller) popVBDPEnd() *vbdpEntry {
	for _, e := range c.vbdp {
		if e.state == vbdpEnd {
			return e
		}
	}
	return nil
}

// markVBDPEnd transitions the vbdp entry bound to the given physical path
// to END and signals the worker, implementing Disable-Slot's §4.4
// "transition to END and signal the worker" step. If no binding is found
// (the physical device never suspended through the cache) the worker is
// still signaled so it can retry later, as §4.4 specifies.
func (c *Controller) markVBDPEnd(path string) {
	if e := c.findVBDP(path); e != nil && e.state == vbdpStart {
		e.state = vbdpEnd
	}
	c.s3.signal()
}
