package xhci

// Extended capability IDs (xHCI v1.10 Table 7-1).
const (
	excapIDSupportedProtocol = 2
	excapIDVendorDRD         = 192 // vendor-specific range
)

// Profile selects the extended-capability layout (§6.3).
type Profile int

const (
	// ProfileDefault exposes only the USB2/USB3 Supported-Protocol
	// capabilities.
	ProfileDefault Profile = iota
	// ProfileVendorDRD additionally exposes a vendor-specific
	// Dual-Role-Device capability with two writable 32-bit config
	// registers, forwarded to an external role-switch sink.
	ProfileVendorDRD
)

// excapWord is one 32-bit word of the extended-capability window.
type excapWord struct {
	value    uint32
	writable bool
}

// buildExtCaps lays out the extended-capability window for the selected
// profile (§6.3): a USB2 Supported-Protocol capability for ports
// [MaxDevs/2+1..MaxDevs] (rev 2.0), a USB3 Supported-Protocol capability
// for ports [1..MaxDevs/2] (rev 3.0), and, for ProfileVendorDRD, a
// trailing Dual-Role-Device capability.
func buildExtCaps(profile Profile) []excapWord {
	words := []excapWord{}

	appendSupportedProtocol := func(major, minor uint8, portOffset, portCount uint8, name uint32) {
		// Word 0: cap id | next cap ptr (patched below) | rev minor | rev major
		words = append(words, excapWord{value: uint32(excapIDSupportedProtocol) | uint32(minor)<<16 | uint32(major)<<24})
		// Word 1: name string (e.g. "USB ")
		words = append(words, excapWord{value: name})
		// Word 2: compatible port offset/count
		words = append(words, excapWord{value: uint32(portOffset) | uint32(portCount)<<8})
		// Word 3: protocol-defined / PSIC etc, unused here.
		words = append(words, excapWord{value: 0})
	}

	const usbName = 0x20425355 // "USB "

	appendSupportedProtocol(2, 0, uint8(MaxDevs/2+1), uint8(MaxDevs/2), usbName)
	appendSupportedProtocol(3, 0, 1, uint8(MaxDevs/2), usbName)

	if profile == ProfileVendorDRD {
		words = append(words, excapWord{value: uint32(excapIDVendorDRD)})
		words = append(words, excapWord{value: 0, writable: true}) // drdcfg0
		words = append(words, excapWord{value: 0, writable: true}) // drdcfg1
	}

	// Patch next-capability-pointer fields (bits 8..15 of the first
	// word of every capability) to chain caps in 32-bit-word units,
	// zero on the last.
	capStarts := []int{}
	for i := 0; i < len(words); {
		capStarts = append(capStarts, i)
		if words[i].value&0xff == excapIDSupportedProtocol {
			i += 4
		} else {
			i += 3
		}
	}
	for idx, start := range capStarts {
		if idx == len(capStarts)-1 {
			continue
		}
		next := capStarts[idx+1] - start
		words[start].value |= uint32(next) << 8
	}

	return words
}

func (c *Controller) extCapRead(rel uint32) uint64 {
	idx := int(rel / 4)
	if idx < 0 || idx >= len(c.excap) {
		return 0
	}
	return uint64(c.excap[idx].value)
}

// extCapWrite implements §6.3's vendor-DRD writable registers: writes
// that change mode are forwarded to the external role-switch sink.
func (c *Controller) extCapWrite(rel uint32, val uint32) {
	idx := int(rel / 4)
	if idx < 0 || idx >= len(c.excap) {
		return
	}
	w := &c.excap[idx]
	if !w.writable {
		return
	}
	changed := w.value != val
	w.value = val
	if changed && c.RoleSwitch != nil {
		c.RoleSwitch(rel, val)
	}
}
