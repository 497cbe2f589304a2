// Package backend defines the narrow device-backend interface (§6.4) the
// xHCI core submits transfers to, and the notify/interrupt callback
// surface (§6.5) backends use to report asynchronous completions.
package backend

// Kind distinguishes a fully in-process emulated device from one bridged
// to a physical USB endpoint (§3 "USB data transfer", §6.4).
type Kind int

const (
	// KindStatic devices are fully emulated in-process.
	KindStatic Kind = iota
	// KindPortMapped devices bridge to a physical USB endpoint and
	// deliver asynchronous completions via Notifier.Notify.
	KindPortMapped
)

// Direction of a non-control transfer (§6.4 data()).
type Direction int

const (
	DirOut Direction = iota
	DirIn
)

// InfoTopic selects the value returned by Device.Info (§6.4).
type InfoTopic int

const (
	InfoVersion InfoTopic = iota
	InfoSpeed
)

// DeviceRequest is the 8-byte SETUP packet of a control transfer.
type DeviceRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Xfer is the data carried across a single backend call: the SETUP
// packet (control transfers only) plus zero or more data-stage bytes.
// Completion fields are filled in by the backend and read back by the
// transfer engine's completion routine (§4.6.2).
type Xfer struct {
	Request *DeviceRequest
	Data    []byte

	// Status/BytesDone are set by the backend on return from
	// Request/Data, or asynchronously before Notifier.Notify is called.
	Status    Status
	BytesDone int

	// StreamID is the primary-stream id this transfer targeted, or 0.
	StreamID uint16

	// set by the transfer engine before submission, read back by
	// asynchronous backends when completing via Notifier.Notify.
	Slot     uint8
	Endpoint uint8
}

// Status is the backend completion status (§7 Backend errors map per
// §4.6.2).
type Status int

const (
	StatusNormalCompletion Status = iota
	StatusShortXfer
	StatusStall
	StatusTimeout
	StatusIOError
	StatusBadBufSize
	StatusCancelled
	// StatusAsyncPending is returned by Request/Data instead of a final
	// status when the backend has handed the transfer to its own
	// completion goroutine; the real status arrives later via
	// Notifier.Notify (§6.4, §6.5).
	StatusAsyncPending
)

// CancelSubcode qualifies StatusCancelled (§4.6 step 5).
type CancelSubcode int

const (
	CancelGeneric CancelSubcode = iota
	CancelNAK
)

// Info describes a physical or emulated device's identity, passed to
// Device.Init (§6.4 init(device_info, cfg_string)).
type Info struct {
	VID, PID uint16
	Speed    int
	CfgString string
}

// Device is the narrow interface every USB device backend (class
// emulator or pass-through bridge) implements (§6.4).
type Device interface {
	Init(info Info, cfgString string) error
	Info(topic InfoTopic) int
	Reset()
	// Request handles a control transfer (endpoint 1).
	Request(xfer *Xfer) Status
	// Data handles a non-control transfer.
	Data(xfer *Xfer, dir Direction, endpointNumber int) Status
	Stop()
	Deinit()
	Kind() Kind
}

// Notifier is implemented by the xHCI core and passed to asynchronous
// (port-mapped) backends so they can report a transfer completion or an
// unconditional interrupt request (§6.5 on_notify/on_interrupt).
type Notifier interface {
	// Notify reports a completed transfer; the return value mirrors
	// §6.5's {0: no interrupt, 1: interrupt needed, -1: error}.
	Notify(xfer *Xfer) int
	// Interrupt unconditionally raises the interrupter.
	Interrupt()
}
