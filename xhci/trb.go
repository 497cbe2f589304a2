// Package xhci implements the core of an xHCI (eXtensible Host Controller
// Interface) USB 3.0 host-controller emulator: the MMIO register file,
// command and transfer ring consumers, event ring producer, slot/endpoint
// lifecycle and root-hub port state machine. It multiplexes fully-emulated
// USB devices and passed-through physical devices behind a single narrow
// backend interface (see package xhci/backend).
package xhci

import "encoding/binary"

// TRBLen is the fixed size in bytes of every Transfer Request Block.
const TRBLen = 16

// TRB is a 16-byte Transfer Request Block: a 64-bit parameter, a 32-bit
// status and a 32-bit control word. The low bit of Control is the cycle
// bit; the remaining control bits encode TRB type and per-type flags.
type TRB struct {
	Parameter uint64
	Status    uint32
	Control   uint32
}

// Control-word bit positions and field shifts shared by every TRB type.
const (
	trbCycleBit = 0
	trbENT      = 1 // Evaluate Next TRB (NORMAL)
	trbISP      = 2 // Interrupt on Short Packet
	trbNS       = 3 // No Snoop
	trbChain    = 4 // Chain bit
	trbIOC      = 5 // Interrupt On Completion
	trbIDT      = 6 // Immediate Data
	trbTC       = 1 // Toggle Cycle (LINK only, bit 1)
	trbTypeShift = 10
	trbTypeMask  = 0x3f

	trbEDBit = 2 // Event Data bit, status-stage/event-data TRBs (bit 2 of control, reuse position)
)

// TRB types (xHCI v1.10 Table 6-91).
const (
	TRBReserved = iota
	TRBNormal
	TRBSetupStage
	TRBDataStage
	TRBStatusStage
	TRBIsoch
	TRBLink
	TRBEventData
	TRBNoop
	TRBEnableSlotCmd
	TRBDisableSlotCmd
	TRBAddressDeviceCmd
	TRBConfigureEPCmd
	TRBEvaluateContextCmd
	TRBResetEPCmd
	TRBStopEPCmd
	TRBSetTRDequeueCmd
	TRBResetDeviceCmd
	TRBForceEventCmd
	_
	_
	TRBGetPortBandwidthCmd
	_
	TRBNoopCmd
	_
	_
	_
	_
	_
	_
	_
	_
	TRBTransferEvent    = 32
	TRBCommandComplEvt  = 33
	TRBPortStatusChgEvt = 34
	TRBHostControllerEvt = 37
)

// Cycle reports the TRB's cycle bit.
func (t *TRB) Cycle() bool { return t.Control&(1<<trbCycleBit) != 0 }

// SetCycle overwrites the TRB's cycle bit.
func (t *TRB) SetCycle(c bool) {
	if c {
		t.Control |= 1 << trbCycleBit
	} else {
		t.Control &^= 1 << trbCycleBit
	}
}

// Type returns the TRB type field.
func (t *TRB) Type() int { return int((t.Control >> trbTypeShift) & trbTypeMask) }

// SetType sets the TRB type field.
func (t *TRB) SetType(typ int) {
	t.Control = (t.Control &^ (trbTypeMask << trbTypeShift)) | (uint32(typ&trbTypeMask) << trbTypeShift)
}

func (t *TRB) flag(bit int) bool  { return t.Control&(1<<bit) != 0 }
func (t *TRB) setFlag(bit int, v bool) {
	if v {
		t.Control |= 1 << bit
	} else {
		t.Control &^= 1 << bit
	}
}

// IOC reports the Interrupt-On-Completion flag.
func (t *TRB) IOC() bool { return t.flag(trbIOC) }

// ISP reports the Interrupt-on-Short-Packet flag.
func (t *TRB) ISP() bool { return t.flag(trbISP) }

// IDT reports the Immediate-Data flag (SETUP_STAGE, and NORMAL when used
// for immediate transfers).
func (t *TRB) IDT() bool { return t.flag(trbIDT) }

// Chain reports the Chain-bit (multi-TRB TD linkage).
func (t *TRB) Chain() bool { return t.flag(trbChain) }

// TC reports the Toggle-Cycle flag of a LINK TRB.
func (t *TRB) TC() bool { return t.flag(trbTC) }

// ED reports the Event-Data flag carried by STATUS_STAGE/NORMAL TRBs that
// request an EVENT_DATA-style completion.
func (t *TRB) ED() bool { return t.flag(trbEDBit) }

// TransferLength returns the length field of a NORMAL/DATA_STAGE/ISOCH TRB
// (bits 0..16 of Status).
func (t *TRB) TransferLength() uint32 { return t.Status & 0x1FFFF }

// SetTransferLength sets the length field, preserving the rest of Status.
func (t *TRB) SetTransferLength(n uint32) {
	t.Status = (t.Status &^ 0x1FFFF) | (n & 0x1FFFF)
}

// SlotID returns the slot-id field carried by command/event TRBs (bits
// 24..31 of Control).
func (t *TRB) SlotID() uint8 { return uint8(t.Control >> 24) }

// SetSlotID sets the slot-id field.
func (t *TRB) SetSlotID(id uint8) {
	t.Control = (t.Control &^ (0xff << 24)) | (uint32(id) << 24)
}

// EndpointID returns the endpoint-id field (bits 16..20) carried by
// transfer-event and several command TRBs.
func (t *TRB) EndpointID() uint8 { return uint8((t.Control >> 16) & 0x1f) }

// SetEndpointID sets the endpoint-id field.
func (t *TRB) SetEndpointID(ep uint8) {
	t.Control = (t.Control &^ (0x1f << 16)) | (uint32(ep&0x1f) << 16)
}

// CompletionCode returns the completion-code field of an event TRB (bits
// 24..31 of Status).
func (t *TRB) CompletionCode() CompletionCode { return CompletionCode(t.Status >> 24) }

// SetCompletionCode sets the completion-code field of an event TRB.
func (t *TRB) SetCompletionCode(c CompletionCode) {
	t.Status = (t.Status &^ (0xff << 24)) | (uint32(c) << 24)
}

// Bytes marshals the TRB to its 16-byte little-endian wire representation.
func (t *TRB) Bytes() []byte {
	b := make([]byte, TRBLen)
	binary.LittleEndian.PutUint64(b[0:8], t.Parameter)
	binary.LittleEndian.PutUint32(b[8:12], t.Status)
	binary.LittleEndian.PutUint32(b[12:16], t.Control)
	return b
}

// TRBFromBytes unmarshals a 16-byte little-endian TRB.
func TRBFromBytes(b []byte) TRB {
	return TRB{
		Parameter: binary.LittleEndian.Uint64(b[0:8]),
		Status:    binary.LittleEndian.Uint32(b[8:12]),
		Control:   binary.LittleEndian.Uint32(b[12:16]),
	}
}
