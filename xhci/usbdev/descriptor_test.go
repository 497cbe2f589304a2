package usbdev

import "testing"

func TestDeviceDescriptorLengthAndSpeedFields(t *testing.T) {
	d := NewPointerDeviceDescriptor(0x1234, 0x5678, "high")
	b := d.Bytes()
	if len(b) != DeviceLength {
		t.Fatalf("device descriptor length = %d, want %d", len(b), DeviceLength)
	}
	if b[0] != DeviceLength || b[1] != DescriptorDevice {
		t.Fatalf("descriptor header = %d,%d, want %d,%d", b[0], b[1], DeviceLength, DescriptorDevice)
	}
	if d.BCDUSB != 0x0200 || d.MaxPacketSize0 != 64 {
		t.Fatalf("non-super device descriptor = %+v, want USB 2.0/64-byte EP0", d)
	}
}

func TestDeviceDescriptorSuperSpeedFields(t *testing.T) {
	d := NewPointerDeviceDescriptor(0x1234, 0x5678, "super")
	if d.BCDUSB != 0x0300 {
		t.Fatalf("BCDUSB = %#x, want 0x0300 for SuperSpeed", d.BCDUSB)
	}
	if d.MaxPacketSize0 != 9 {
		t.Fatalf("MaxPacketSize0 = %d, want 9 (2^9) for SuperSpeed", d.MaxPacketSize0)
	}
}

func TestPointerConfigurationNonSuperOmitsCompanion(t *testing.T) {
	cfg := PointerConfiguration("high")
	want := ConfigurationLength + InterfaceLength + 9 /* hid */ + EndpointLength
	if len(cfg) != want {
		t.Fatalf("configuration bundle length = %d, want %d (no SS companion at non-super speed)", len(cfg), want)
	}
	if cfg[0] != ConfigurationLength || cfg[1] != DescriptorConfiguration {
		t.Fatalf("configuration header = %d,%d, want %d,%d", cfg[0], cfg[1], ConfigurationLength, DescriptorConfiguration)
	}
	totalLength := uint16(cfg[2]) | uint16(cfg[3])<<8
	if int(totalLength) != len(cfg) {
		t.Fatalf("wTotalLength = %d, want %d (actual bundle length)", totalLength, len(cfg))
	}
}

func TestPointerConfigurationSuperIncludesCompanion(t *testing.T) {
	cfg := PointerConfiguration("super")
	want := ConfigurationLength + InterfaceLength + 9 /* hid */ + EndpointLength + SSEndpointCompanionLength
	if len(cfg) != want {
		t.Fatalf("SuperSpeed configuration bundle length = %d, want %d", len(cfg), want)
	}
	// the SS companion descriptor is the final SSEndpointCompanionLength
	// bytes of the bundle.
	tail := cfg[len(cfg)-SSEndpointCompanionLength:]
	if tail[0] != SSEndpointCompanionLength || tail[1] != DescriptorSSEndpointCompanion {
		t.Fatalf("SS companion header = %d,%d, want %d,%d", tail[0], tail[1], SSEndpointCompanionLength, DescriptorSSEndpointCompanion)
	}
}

func TestStringDescriptorLanguageID(t *testing.T) {
	got := StringDescriptor(0, "")
	want := []byte{4, DescriptorString, 0x09, 0x04}
	if len(got) != len(want) {
		t.Fatalf("language-ID descriptor length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("language-ID descriptor[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestStringDescriptorEncodesUTF16AndLength(t *testing.T) {
	got := StringDescriptor(1, "xhci")
	wantLen := 2 + 2*len("xhci") // header + 2 bytes per UTF-16 code unit
	if len(got) != wantLen {
		t.Fatalf("string descriptor length = %d, want %d", len(got), wantLen)
	}
	if got[0] != byte(wantLen) || got[1] != DescriptorString {
		t.Fatalf("string descriptor header = %d,%d, want %d,%d", got[0], got[1], wantLen, DescriptorString)
	}
	if got[2] != 'x' || got[4] != 'h' {
		t.Fatal("string descriptor did not encode ASCII characters as the low byte of each UTF-16 code unit")
	}
}

func TestHIDReportDescriptorIsNonEmpty(t *testing.T) {
	got := HIDReportDescriptor()
	if len(got) == 0 {
		t.Fatal("HIDReportDescriptor returned no bytes")
	}
	// every HID report descriptor item stream ends with an End
	// Collection (0xc0) closing the top-level Application collection.
	if got[len(got)-1] != 0xc0 {
		t.Fatalf("last byte = %#x, want 0xc0 (End Collection)", got[len(got)-1])
	}
}
