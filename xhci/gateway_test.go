package xhci

// fakeGateway backs a Gateway with a single flat byte slice standing in
// for guest memory, for use across this package's tests. Real callers
// get a window bounded to a 4 KiB page (§4.1); tests only need enough
// memory to host the rings/contexts a scenario touches, so a flat
// buffer large enough for every fixture is simpler than faking pages.
type fakeGateway struct {
	mem []byte
}

func newFakeGateway(size int) *fakeGateway {
	return &fakeGateway{mem: make([]byte, size)}
}

func (g *fakeGateway) Translate(gpa uint64, length int) []byte {
	if int(gpa)+length > len(g.mem) {
		panic("fakeGateway: access beyond fixture memory")
	}
	return g.mem[gpa : int(gpa)+length]
}

func (g *fakeGateway) writeTRB(addr uint64, trb TRB) {
	copy(g.mem[addr:addr+TRBLen], trb.Bytes())
}
