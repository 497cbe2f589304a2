package xhci

import (
	"fmt"

	"github.com/acrn-hypervisor/xhci/xhci/backend"
)

// CompletionCode is the xHCI completion-code carried by every event TRB
// (§7's error taxonomy, mapped 1:1 onto xHCI v1.10 Table 6-90 where a
// standard code exists).
type CompletionCode uint8

const (
	CCInvalid CompletionCode = iota
	CCSuccess
	CCDataBufferError
	CCBabbleDetected
	CCUSBTransactionError
	CCTRBError
	CCStallError
	CCResourceError
	CCBandwidthError
	CCNoSlotsAvailable
	CCInvalidStreamType
	CCSlotNotEnabled
	CCEndpointNotEnabled
	CCShortPacket
	CCRingUnderrun
	CCRingOverrun
	CCVFEventRingFull
	CCParameterError
	CCBandwidthOverrun
	CCContextStateError
	CCNoPingResponse
	CCEventRingFullError
	CCIncompatibleDevice
	CCMissedService
	CCCommandRingStopped
	CCCommandAborted
	CCStopped
	CCStoppedLengthInvalid
	CCStoppedShortPacket
	CCMaxExitLatencyTooLarge
	_
	CCIsochBufferOverrun
	CCEventLostError
	CCUndefinedError
	CCInvalidStreamID
	CCSecondaryBandwidthError
	CCSplitTransactionError
)

func (c CompletionCode) String() string {
	switch c {
	case CCSuccess:
		return "SUCCESS"
	case CCDataBufferError:
		return "DATA_BUF"
	case CCBabbleDetected:
		return "BABBLE"
	case CCUSBTransactionError:
		return "XACT"
	case CCTRBError:
		return "TRB"
	case CCStallError:
		return "STALL"
	case CCResourceError:
		return "RESOURCE"
	case CCNoSlotsAvailable:
		return "NO_SLOTS"
	case CCSlotNotEnabled:
		return "SLOT_NOT_ON"
	case CCEndpointNotEnabled:
		return "ENDP_NOT_ON"
	case CCShortPacket:
		return "SHORT_PKT"
	case CCParameterError:
		return "PARAMETER"
	case CCContextStateError:
		return "CONTEXT_STATE"
	case CCEventRingFullError:
		return "EV_RING_FULL"
	case CCIncompatibleDevice:
		return "INCOMPAT_DEV"
	case CCCommandAborted:
		return "CMD_ABORTED"
	case CCStopped:
		return "STOPPED"
	case CCUndefinedError:
		return "UNDEFINED"
	default:
		return fmt.Sprintf("CC(%d)", uint8(c))
	}
}

// CommandError wraps a CompletionCode produced by a command handler so a
// caller can errors.As down to it without string matching, while command
// dispatch itself never breaks control flow on it (§9: "exception-free
// error returns" — every handler returns a code by value, this type only
// exists for callers that want a Go error).
type CommandError struct {
	Code CompletionCode
	Slot uint8
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("xhci: command failed on slot %d: %s", e.Slot, e.Code)
}

// TransferError wraps a backend completion status for logging at the
// transfer engine's boundary (§4.6.2); it never crosses the Transfer event
// path as a Go error, only as a CompletionCode field.
type TransferError struct {
	Code     CompletionCode
	Slot     uint8
	Endpoint uint8
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("xhci: transfer failed on slot %d ep %d: %s", e.Slot, e.Endpoint, e.Code)
}

// mapBackendStatus implements §4.6.2's status → completion-code table.
// backend.Status is defined in package backend (§6.4) since it is part
// of the Device interface's contract, not just an internal detail.
func mapBackendStatus(status backend.Status) CompletionCode {
	switch status {
	case backend.StatusNormalCompletion:
		return CCSuccess
	case backend.StatusShortXfer:
		return CCShortPacket
	case backend.StatusTimeout, backend.StatusIOError:
		return CCUSBTransactionError
	case backend.StatusBadBufSize:
		return CCBabbleDetected
	case backend.StatusStall:
		return CCStallError
	default:
		return CCUndefinedError
	}
}
