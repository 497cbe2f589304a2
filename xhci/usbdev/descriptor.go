// Package usbdev provides the USB descriptor set a static-class backend
// serves during enumeration (§6.4 "the backend answers GET_DESCRIPTOR
// itself"). It mirrors a guest-side device stack's descriptor builder,
// generalized from bcdUSB 2.0 fixed layouts to also emit the SuperSpeed
// endpoint-companion descriptor a xHCI device needs at USB 3 speeds.
package usbdev

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// Standard descriptor type codes (USB 2.0 Table 9-5, plus the USB 3.0
// SuperSpeed companion and BOS additions).
const (
	DescriptorDevice                  = 1
	DescriptorConfiguration           = 2
	DescriptorString                  = 3
	DescriptorInterface                = 4
	DescriptorEndpoint                 = 5
	DescriptorBOS                      = 15
	DescriptorSSEndpointCompanion      = 48
)

// Standard descriptor fixed lengths.
const (
	DeviceLength             = 18
	ConfigurationLength      = 9
	InterfaceLength          = 9
	EndpointLength           = 7
	SSEndpointCompanionLength = 6
)

// HID class constants (boot-protocol mouse).
const (
	ClassHID           = 0x03
	SubclassBoot       = 0x01
	ProtocolMouse      = 0x02
	DescriptorHID      = 0x21
	DescriptorHIDReport = 0x22
)

// DeviceDescriptor implements USB 3.2 Table 9-11, Standard Device
// Descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	BCDUSB            uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	Device            uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// NewPointerDeviceDescriptor builds the device descriptor for the static
// boot-protocol pointer backend, at the given negotiated speed ("full",
// "high" or "super").
func NewPointerDeviceDescriptor(vid, pid uint16, speed string) DeviceDescriptor {
	d := DeviceDescriptor{
		Length:            DeviceLength,
		DescriptorType:    DescriptorDevice,
		BCDUSB:            0x0200,
		MaxPacketSize0:    64,
		VendorID:          vid,
		ProductID:         pid,
		NumConfigurations: 1,
		Manufacturer:      1,
		Product:           2,
		SerialNumber:      3,
	}
	if speed == "super" {
		d.BCDUSB = 0x0300
		d.MaxPacketSize0 = 9 // 2^9 bytes for SuperSpeed EP0, per ch9
	}
	return d
}

// Bytes serializes the descriptor in wire order.
func (d DeviceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// EndpointDescriptor implements USB 3.2 Table 9-24, Standard Endpoint
// Descriptor.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

func (d EndpointDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// SSEndpointCompanionDescriptor implements USB 3.2 Table 9-26, SuperSpeed
// Endpoint Companion Descriptor — required on every endpoint of a
// SuperSpeed configuration.
type SSEndpointCompanionDescriptor struct {
	Length           uint8
	DescriptorType   uint8
	MaxBurst         uint8
	Attributes       uint8
	BytesPerInterval uint16
}

func NewSSEndpointCompanion() SSEndpointCompanionDescriptor {
	return SSEndpointCompanionDescriptor{
		Length:         SSEndpointCompanionLength,
		DescriptorType: DescriptorSSEndpointCompanion,
	}
}

func (d SSEndpointCompanionDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// InterfaceDescriptor implements USB 3.2 Table 9-15, Standard Interface
// Descriptor.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
}

func (d InterfaceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// ConfigurationDescriptor implements USB 3.2 Table 9-14, Standard
// Configuration Descriptor, plus its nested interface/endpoint
// descriptors and an optional HID descriptor and report descriptor.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

// PointerConfiguration bundles everything GET_DESCRIPTOR(CONFIGURATION)
// returns for the boot-protocol pointer: the configuration, interface,
// HID and endpoint descriptors concatenated in wire order, with (for
// SuperSpeed) an endpoint-companion descriptor following the endpoint.
func PointerConfiguration(speed string) []byte {
	hidReport := pointerHIDReportDescriptor()

	iface := InterfaceDescriptor{
		Length:            InterfaceLength,
		DescriptorType:    DescriptorInterface,
		NumEndpoints:      1,
		InterfaceClass:    ClassHID,
		InterfaceSubClass: SubclassBoot,
		InterfaceProtocol: ProtocolMouse,
	}

	hid := hidDescriptor{
		Length:           9,
		DescriptorType:   DescriptorHID,
		BCDHID:           0x0110,
		CountryCode:      0,
		NumDescriptors:   1,
		ReportType:       DescriptorHIDReport,
		ReportLength:     uint16(len(hidReport)),
	}

	ep := EndpointDescriptor{
		Length:          EndpointLength,
		DescriptorType:  DescriptorEndpoint,
		EndpointAddress: 0x81, // EP1 IN
		Attributes:      0x03, // interrupt
		MaxPacketSize:   4,
		Interval:        8,
	}

	body := new(bytes.Buffer)
	body.Write(iface.Bytes())
	body.Write(hid.Bytes())
	body.Write(ep.Bytes())
	if speed == "super" {
		ep.MaxPacketSize = 4
		comp := NewSSEndpointCompanion()
		comp.BytesPerInterval = ep.MaxPacketSize
		body.Write(comp.Bytes())
	}

	cfg := ConfigurationDescriptor{
		Length:             ConfigurationLength,
		DescriptorType:     DescriptorConfiguration,
		TotalLength:        uint16(ConfigurationLength + body.Len()),
		NumInterfaces:      1,
		ConfigurationValue: 1,
		Attributes:         0x80, // bus-powered
		MaxPower:           50,   // 100mA in 2mA units
	}

	out := new(bytes.Buffer)
	binary.Write(out, binary.LittleEndian, cfg)
	out.Write(body.Bytes())
	return out.Bytes()
}

// hidDescriptor implements HID 1.11 §6.2.1, specialized to a single
// class-descriptor entry (the report descriptor).
type hidDescriptor struct {
	Length         uint8
	DescriptorType uint8
	BCDHID         uint16
	CountryCode    uint8
	NumDescriptors uint8
	ReportType     uint8
	ReportLength   uint16
}

func (d hidDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// pointerHIDReportDescriptor is the report descriptor for the canonical
// 3-byte boot-mouse report (buttons + relative X/Y), per HID 1.11
// Appendix E.10.
func pointerHIDReportDescriptor() []byte {
	return []byte{
		0x05, 0x01, // Usage Page (Generic Desktop)
		0x09, 0x02, // Usage (Mouse)
		0xa1, 0x01, // Collection (Application)
		0x09, 0x01, //   Usage (Pointer)
		0xa1, 0x00, //   Collection (Physical)
		0x05, 0x09, //     Usage Page (Button)
		0x19, 0x01, //     Usage Minimum (1)
		0x29, 0x03, //     Usage Maximum (3)
		0x15, 0x00, //     Logical Minimum (0)
		0x25, 0x01, //     Logical Maximum (1)
		0x95, 0x03, //     Report Count (3)
		0x75, 0x01, //     Report Size (1)
		0x81, 0x02, //     Input (Data,Var,Abs)
		0x95, 0x01, //     Report Count (1)
		0x75, 0x05, //     Report Size (5)
		0x81, 0x01, //     Input (Cnst,Ary,Abs)
		0x05, 0x01, //     Usage Page (Generic Desktop)
		0x09, 0x30, //     Usage (X)
		0x09, 0x31, //     Usage (Y)
		0x15, 0x81, //     Logical Minimum (-127)
		0x25, 0x7f, //     Logical Maximum (127)
		0x75, 0x08, //     Report Size (8)
		0x95, 0x02, //     Report Count (2)
		0x81, 0x06, //     Input (Data,Var,Rel)
		0xc0, //        End Collection
		0xc0, //      End Collection
	}
}

// HIDReportDescriptor exposes the boot-mouse report descriptor for
// GET_DESCRIPTOR(HID_REPORT) requests.
func HIDReportDescriptor() []byte { return pointerHIDReportDescriptor() }

// StringDescriptor encodes s as a USB UTF-16LE string descriptor (USB
// 3.2 §9.6.9), or, for index 0, the language-ID descriptor.
func StringDescriptor(index int, s string) []byte {
	if index == 0 {
		return []byte{4, DescriptorString, 0x09, 0x04} // en-US
	}
	u16 := utf16.Encode([]rune(s))
	buf := new(bytes.Buffer)
	buf.WriteByte(0) // length, patched below
	buf.WriteByte(DescriptorString)
	for _, c := range u16 {
		binary.Write(buf, binary.LittleEndian, c)
	}
	out := buf.Bytes()
	out[0] = byte(len(out))
	return out
}

// PointerStrings is the string table the boot-pointer backend serves,
// indexed 1..3 to match NewPointerDeviceDescriptor's Manufacturer/
// Product/SerialNumber indices.
var PointerStrings = []string{"", "xhci", "Emulated Pointer", "0001"}
