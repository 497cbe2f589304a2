package xhci

import (
	"sync"

	"github.com/acrn-hypervisor/xhci/xhci/backend"
)

// blockMarker is a USB-data-transfer block's life-cycle marker (§3 USB
// data transfer).
type blockMarker int

const (
	blockFree blockMarker = iota
	blockPending
	blockHandled
)

// USBMaxXferBlocks is the nominal capacity of a data transfer's block ring
// (§3). Nothing in this package checks against it: decodeTransferTRB
// appends blocks without a limit.
const USBMaxXferBlocks = 32

// transferBlock is one entry of a USB data transfer's bounded block ring
// (§3 USB data transfer).
type transferBlock struct {
	marker blockMarker

	trbType int
	trbAddr uint64
	cycle   bool
	stream  uint16

	data      []byte // nil for a sentinel/zero-length block
	immediate bool

	bytesDone int
	status    CompletionCode
	isSetup   bool
	isEventData bool
	ioc       bool
	isp       bool
	ed        bool
}

// dataTransfer is the single in-flight USB data transfer on an endpoint
// (§3; §3 invariant: at most one in flight per endpoint).
type dataTransfer struct {
	mu sync.Mutex

	blocks []transferBlock
	head   int // first block not yet HANDLED, for resumed retries

	ureq *backend.DeviceRequest

	setupPending bool
}

// ringTransferDoorbell implements §4.6: triggered by a doorbell write to
// slot s, endpoint e, stream sid.
func (c *Controller) ringTransferDoorbell(slotID uint8, dci uint8, sid uint16) {
	slot, ok := c.validSlot(slotID)
	if !ok {
		c.Log.Printf("xhci: doorbell on invalid slot %d", slotID)
		return
	}
	if dci == 0 || int(dci) > maxEndpoints {
		return
	}
	ep := slot.endpoints[dci]
	if ep.state == EPDisabled {
		return
	}

	if ep.xfer != nil && slot.devKind == backend.KindStatic {
		// §4.6 step 2: static backend with outstanding data short-
		// circuits straight into the retry path.
		c.retrySubmission(slotID, dci, slot, ep)
		return
	}

	xfer := &dataTransfer{}
	r := ep.dequeueCycle(sid)

	// r is ep's own stored (dequeue, cycle) pair (or a stream's), so
	// ring.consumerWalk's in-place advance already leaves the endpoint
	// record observing progress mid-transfer (§4.6 step 3, "update the
	// endpoint's stored dequeue/cycle").
	aborted := false
	r.consumerWalk(c.gw, func(trb TRB) bool {
		keepGoing := c.decodeTransferTRB(xfer, trb, r)
		if keepGoing == walkAbort {
			aborted = true
			return false
		}
		return keepGoing == walkContinue
	})

	if aborted || len(xfer.blocks) == 0 {
		return
	}

	ep.xfer = xfer
	ep.state = EPRunning

	c.submitTransfer(slotID, dci, slot, ep, xfer)
}

type walkResult int

const (
	walkContinue walkResult = iota
	walkStopIOC
	walkAbort
)

// decodeTransferTRB implements the per-TRB-type switch of §4.6 step 3.
func (c *Controller) decodeTransferTRB(xfer *dataTransfer, trb TRB, r *ring) walkResult {
	switch trb.Type() {
	case TRBLink:
		return walkContinue

	case TRBSetupStage:
		if !trb.IDT() || trb.TransferLength() != 8 {
			return walkAbort
		}
		req := &backend.DeviceRequest{
			RequestType: uint8(trb.Parameter),
			Request:     uint8(trb.Parameter >> 8),
			Value:       uint16(trb.Parameter >> 16),
			Index:       uint16(trb.Parameter >> 32),
			Length:      uint16(trb.Parameter >> 48),
		}
		xfer.ureq = req
		xfer.setupPending = true
		xfer.blocks = append(xfer.blocks, transferBlock{marker: blockHandled, isSetup: true, trbType: TRBSetupStage})

	case TRBNormal, TRBIsoch:
		if xfer.setupPending && trb.Type() == TRBNormal {
			return walkAbort
		}
		xfer.blocks = append(xfer.blocks, c.buildDataBlock(trb))

	case TRBDataStage:
		xfer.setupPending = false
		xfer.blocks = append(xfer.blocks, c.buildDataBlock(trb))

	case TRBStatusStage:
		xfer.setupPending = false
		xfer.blocks = append(xfer.blocks, transferBlock{
			marker: blockPending, trbType: TRBStatusStage, trbAddr: 0,
			ioc: trb.IOC(), ed: trb.ED(),
		})

	case TRBEventData:
		b := transferBlock{marker: blockHandled, isEventData: true, trbType: TRBEventData}
		b.trbAddr = trb.Parameter
		xfer.blocks = append(xfer.blocks, b)

	case TRBNoop:
		xfer.blocks = append(xfer.blocks, transferBlock{marker: blockHandled, trbType: TRBNoop})

	default:
		return walkAbort
	}

	if trb.IOC() {
		return walkStopIOC
	}
	return walkContinue
}

func (c *Controller) buildDataBlock(trb TRB) transferBlock {
	length := trb.TransferLength()
	b := transferBlock{
		marker:    blockPending,
		trbType:   trb.Type(),
		immediate: trb.IDT(),
		ioc:       trb.IOC(),
		isp:       trb.ISP(),
	}
	if trb.IDT() {
		// immediate data lives in the parameter field itself.
		buf := make([]byte, 8)
		for i := 0; i < 8; i++ {
			buf[i] = byte(trb.Parameter >> (8 * i))
		}
		if int(length) < len(buf) {
			buf = buf[:length]
		}
		b.data = buf
	} else {
		b.data = c.gw.Translate(trb.Parameter, int(length))
		b.trbAddr = trb.Parameter
	}
	return b
}

// submitTransfer implements §4.6 step 4: submit to the device backend via
// the appropriate hook.
func (c *Controller) submitTransfer(slotID uint8, dci uint8, slot *Slot, ep *Endpoint, xfer *dataTransfer) {
	bx := &backend.Xfer{Slot: slotID, Endpoint: dci}

	var status backend.Status
	if dci == 1 {
		bx.Request = xfer.ureq
		bx.Data = totalData(xfer)
		status = slot.dev.Request(bx)
	} else {
		dir, num := epDirAndNumber(dci)
		bx.Data = totalData(xfer)
		d := backend.DirOut
		if dir == 1 {
			d = backend.DirIn
		}
		status = slot.dev.Data(bx, d, num)
	}

	if status == backend.StatusCancelled {
		// §4.6 step 5: NAK treated as successful-but-deferred.
		return
	}
	if status == backend.StatusAsyncPending {
		// An asynchronous backend has taken ownership of bx and will
		// complete it later via Notifier.Notify -> Controller.OnNotify
		// (§6.5), which runs the same scatter-back/completion routine.
		return
	}

	scatterBack(xfer, bx.Data, bx.BytesDone)
	c.completeTransfer(slotID, dci, ep, mapBackendStatus(status), bx.BytesDone)
}

// retrySubmission implements §4.6.3: re-issue once at doorbell time for a
// static class emulator with outstanding data.
func (c *Controller) retrySubmission(slotID uint8, dci uint8, slot *Slot, ep *Endpoint) {
	xfer := ep.xfer
	if xfer == nil {
		return
	}
	ep.state = EPRunning
	c.submitTransfer(slotID, dci, slot, ep, xfer)
}

func totalData(xfer *dataTransfer) []byte {
	var out []byte
	for i := range xfer.blocks {
		b := &xfer.blocks[i]
		if b.marker != blockPending || b.data == nil {
			continue
		}
		out = append(out, b.data...)
	}
	return out
}

// scatterBack writes the backend's aggregate response buffer back across
// the individual pending blocks' own guest-memory windows (§4.6 step 4:
// the backend sees one flattened buffer per transfer, the guest sees one
// buffer per TRB). Copying is harmless for host-to-device blocks, whose
// data a well-behaved backend leaves unchanged.
func scatterBack(xfer *dataTransfer, data []byte, bytesDone int) {
	off := 0
	remaining := bytesDone
	for i := range xfer.blocks {
		b := &xfer.blocks[i]
		if b.marker != blockPending {
			continue
		}
		n := len(b.data)
		if n > remaining {
			n = remaining
		}
		if off+n <= len(data) {
			copy(b.data, data[off:off+n])
		}
		b.bytesDone = n
		remaining -= n
		off += len(b.data)
	}
}

// completeTransfer implements §4.6.2's completion routine. It returns
// whether the interrupter should be raised (do_intr).
func (c *Controller) completeTransfer(slotID uint8, dci uint8, ep *Endpoint, code CompletionCode, bytesDone int) bool {
	xfer := ep.xfer
	if xfer == nil {
		return false
	}

	if code == CCStallError {
		ep.state = EPHalted
	}

	doIntr := false
	var edtla uint32

	for xfer.head < len(xfer.blocks) {
		b := &xfer.blocks[xfer.head]

		if b.marker == blockFree {
			break
		}

		if b.isEventData {
			var evt TRB
			evt.SetType(TRBTransferEvent)
			evt.Parameter = b.trbAddr
			status := (edtla & 0xFFFFF) | uint32(code)<<24
			evt.Status = status
			evt.SetSlotID(slotID)
			evt.SetEndpointID(dci)
			evt.Control |= 1 << trbEDBit
			c.insertEvent(evt, true)
			doIntr = true
			edtla = 0
			xfer.head++
			continue
		}

		edtla += uint32(b.bytesDone)

		notify := b.ioc || (code == CCShortPacket && b.isp)
		if notify {
			var evt TRB
			evt.SetType(TRBTransferEvent)
			evt.Parameter = b.trbAddr
			evt.SetTransferLength(uint32(len(b.data) - b.bytesDone))
			evt.SetCompletionCode(code)
			evt.SetSlotID(slotID)
			evt.SetEndpointID(dci)
			c.insertEvent(evt, true)
			doIntr = true
		}

		b.marker = blockFree
		xfer.head++
	}

	if xfer.head >= len(xfer.blocks) {
		ep.xfer = nil
	}

	return doIntr
}
