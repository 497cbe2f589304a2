package bits

import "testing"

func TestGetSetClear(t *testing.T) {
	var v uint32
	Set(&v, 3)
	if !Get(&v, 3) {
		t.Fatal("bit 3 not set after Set")
	}
	Clear(&v, 3)
	if Get(&v, 3) {
		t.Fatal("bit 3 still set after Clear")
	}
}

func TestSetTo(t *testing.T) {
	var v uint32
	SetTo(&v, 5, true)
	if !Get(&v, 5) {
		t.Fatal("SetTo(true) did not set the bit")
	}
	SetTo(&v, 5, false)
	if Get(&v, 5) {
		t.Fatal("SetTo(false) did not clear the bit")
	}
}

func TestGetNSetN(t *testing.T) {
	var v uint32
	SetN(&v, 4, 0xf, 0xa)
	if got := GetN(&v, 4, 0xf); got != 0xa {
		t.Fatalf("GetN = %#x, want 0xa", got)
	}
	// bits outside the field must be untouched.
	Set(&v, 0)
	if got := GetN(&v, 4, 0xf); got != 0xa {
		t.Fatalf("GetN after setting an unrelated bit = %#x, want 0xa", got)
	}
}

func TestGetSetClear64(t *testing.T) {
	var v uint64
	Set64(&v, 40)
	if v&(1<<40) == 0 {
		t.Fatal("bit 40 not set after Set64")
	}
	Clear64(&v, 40)
	if v&(1<<40) != 0 {
		t.Fatal("bit 40 still set after Clear64")
	}
}

func TestSetTo64(t *testing.T) {
	var v uint64
	SetTo64(&v, 10, true)
	if v&(1<<10) == 0 {
		t.Fatal("SetTo64(true) did not set the bit")
	}
	SetTo64(&v, 10, false)
	if v&(1<<10) != 0 {
		t.Fatal("SetTo64(false) did not clear the bit")
	}
}

func TestGetSetN64(t *testing.T) {
	var v uint64
	SetN64(&v, 8, 0xff, 0x5a)
	if got := Get64(&v, 8, 0xff); got != 0x5a {
		t.Fatalf("Get64 = %#x, want 0x5a", got)
	}
}
