package pcnet_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bobuhiro11/gokernel/dma"
	"github.com/bobuhiro11/gokernel/iobus"
	"github.com/bobuhiro11/gokernel/pci"
	"github.com/bobuhiro11/gokernel/pcnet"
	"github.com/bobuhiro11/gokernel/pcnetsim"
)

const testIOBase = 0xd000

var testMAC = [6]byte{0x52, 0x54, 0x00, 0xaa, 0xbb, 0xcc}

type testRig struct {
	arena  *dma.Arena
	router *iobus.Router
	ctrl   *pcnetsim.Controller
	egress [][]byte
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	arena, err := dma.New(0x100000, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	rig := &testRig{arena: arena, router: iobus.NewRouter()}

	rig.ctrl = pcnetsim.NewController(testIOBase, arena, testMAC, nil,
		func(frame []byte) { rig.egress = append(rig.egress, frame) })

	if err := rig.router.Register(rig.ctrl); err != nil {
		t.Fatal(err)
	}

	return rig
}

func (rig *testRig) newDevice(t *testing.T, cfg pcnet.Config) *pcnet.Device {
	t.Helper()

	fn := &pci.Function{InterruptLine: 11}
	bars := []pci.BARInfo{{Index: 0, Base: testIOBase, Size: 0x20}}

	dev, err := pcnet.New(fn, bars, rig.router, nil, rig.router, rig.arena, cfg)
	if err != nil {
		t.Fatal(err)
	}

	return dev
}

func testFrame(n int) []byte {
	frame := make([]byte, n)
	for i := range frame {
		frame[i] = byte(i)
	}

	return frame
}

func TestBringUp(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	dev := rig.newDevice(t, pcnet.Config{})

	if actual := dev.MAC(); actual != testMAC {
		t.Fatalf("expected: %v, actual: %v", testMAC, actual)
	}

	if actual := dev.Transport(); actual != pcnet.TransportPIO {
		t.Fatalf("expected: %v, actual: %v", pcnet.TransportPIO, actual)
	}

	if dev.Running() {
		t.Fatalf("expected: %v, actual: %v", false, dev.Running())
	}

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	if !dev.Running() || !dev.Up() {
		t.Fatalf("expected: %v, actual: %v", true, dev.Running())
	}

	csr0 := dev.CSR0()
	expected := uint16(pcnet.CSR0STRT | pcnet.CSR0TXON | pcnet.CSR0RXON | pcnet.CSR0INEA)

	if csr0&expected != expected {
		t.Fatalf("expected: %#x, actual: %#x", expected, csr0)
	}

	dev.Stop()

	if dev.Up() || dev.Running() {
		t.Fatalf("expected: %v, actual: %v", false, dev.Up())
	}
}

func TestStyleMismatch(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	rig.ctrl.RejectStyle = true

	fn := &pci.Function{}
	bars := []pci.BARInfo{{Base: testIOBase, Size: 0x20}}

	_, err := pcnet.New(fn, bars, rig.router, nil, rig.router, rig.arena, pcnet.Config{})
	if !errors.Is(err, pcnet.ErrStyleMismatch) {
		t.Fatalf("expected: %v, actual: %v", pcnet.ErrStyleMismatch, err)
	}
}

func TestInitTimeout(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	rig.ctrl.SuppressIDON = true

	dev := rig.newDevice(t, pcnet.Config{})

	if err := dev.Start(); !errors.Is(err, pcnet.ErrInitTimeout) {
		t.Fatalf("expected: %v, actual: %v", pcnet.ErrInitTimeout, err)
	}

	if dev.Running() {
		t.Fatalf("expected: %v, actual: %v", false, dev.Running())
	}
}

func TestRollbackOnFailure(t *testing.T) {
	t.Parallel()

	// Too small for the ring buffers: construction fails partway through
	// and must put every allocation back.
	arena, err := dma.New(0x100000, 1<<12)
	if err != nil {
		t.Fatal(err)
	}

	router := iobus.NewRouter()
	ctrl := pcnetsim.NewController(testIOBase, arena, testMAC, nil, nil)

	if err := router.Register(ctrl); err != nil {
		t.Fatal(err)
	}

	mark := arena.Mark()

	fn := &pci.Function{}
	bars := []pci.BARInfo{{Base: testIOBase, Size: 0x20}}

	_, err = pcnet.New(fn, bars, router, nil, router, arena, pcnet.Config{})
	if !errors.Is(err, dma.ErrOutOfMemory) {
		t.Fatalf("expected: %v, actual: %v", dma.ErrOutOfMemory, err)
	}

	if actual := arena.Mark(); actual != mark {
		t.Fatalf("expected: %v, actual: %v", mark, actual)
	}
}

func TestSendBeforeStart(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	dev := rig.newDevice(t, pcnet.Config{})

	if err := dev.Send(testFrame(64)); !errors.Is(err, pcnet.ErrNotRunning) {
		t.Fatalf("expected: %v, actual: %v", pcnet.ErrNotRunning, err)
	}
}

func TestSendBadSizes(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	dev := rig.newDevice(t, pcnet.Config{})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	if err := dev.Send(nil); !errors.Is(err, pcnet.ErrFrameTooLarge) {
		t.Fatalf("expected: %v, actual: %v", pcnet.ErrFrameTooLarge, err)
	}

	if err := dev.Send(testFrame(pcnet.BufSize + 1)); !errors.Is(err, pcnet.ErrFrameTooLarge) {
		t.Fatalf("expected: %v, actual: %v", pcnet.ErrFrameTooLarge, err)
	}
}

func TestBadRingSize(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	fn := &pci.Function{}
	bars := []pci.BARInfo{{Base: testIOBase, Size: 0x20}}

	_, err := pcnet.New(fn, bars, rig.router, nil, rig.router, rig.arena,
		pcnet.Config{RxShift: 12})
	if !errors.Is(err, pcnet.ErrBadRingSize) {
		t.Fatalf("expected: %v, actual: %v", pcnet.ErrBadRingSize, err)
	}
}

func TestSendTransmits(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	dev := rig.newDevice(t, pcnet.Config{})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	frame := testFrame(64)

	if err := dev.Send(frame); err != nil {
		t.Fatal(err)
	}

	if len(rig.egress) != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, len(rig.egress))
	}

	if !bytes.Equal(rig.egress[0], frame) {
		t.Fatalf("expected: %v, actual: %v", frame, rig.egress[0])
	}

	// Completion is latched; the handler turns it into counters.
	dev.Poll()

	st := dev.Stats()

	if st.TxPackets != 1 || st.TxBytes != 64 {
		t.Fatalf("expected: %v, actual: %v", 1, st.TxPackets)
	}
}

func TestTxRingFull(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	rig.ctrl.StallTx = true

	dev := rig.newDevice(t, pcnet.Config{TxShift: 2})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if err := dev.Send(testFrame(64)); err != nil {
			t.Fatal(err)
		}
	}

	if err := dev.Send(testFrame(64)); !errors.Is(err, pcnet.ErrTxBusy) {
		t.Fatalf("expected: %v, actual: %v", pcnet.ErrTxBusy, err)
	}

	// The controller catching up frees the ring.
	rig.ctrl.StallTx = false
	rig.ctrl.Demand()
	dev.Poll()

	if err := dev.Send(testFrame(64)); err != nil {
		t.Fatal(err)
	}
}

func TestCompletionInterrupt(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	rig.ctrl.StallTx = true

	disp := &captureDispatcher{}
	dev := rig.newDevice(t, pcnet.Config{Dispatcher: disp})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	if err := dev.Send(testFrame(64)); err != nil {
		t.Fatal(err)
	}

	// Queued but not yet taken by the controller.
	if len(rig.egress) != 0 || dev.Stats().TxPackets != 0 {
		t.Fatalf("expected: %v, actual: %v", 0, dev.Stats().TxPackets)
	}

	// Hardware completion: ownership returns, TINT latches.
	rig.ctrl.StallTx = false
	rig.ctrl.Demand()

	dev.Poll()

	st := dev.Stats()

	if st.TxPackets != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, st.TxPackets)
	}

	// No receive work happened.
	if st.RxPackets != 0 || len(disp.frames) != 0 {
		t.Fatalf("expected: %v, actual: %v", 0, st.RxPackets)
	}
}

type captureDispatcher struct {
	frames [][]byte
}

func (c *captureDispatcher) DeliverFrame(buf []byte, n int) {
	c.frames = append(c.frames, append([]byte{}, buf[:n]...))
}

func TestReceive(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	disp := &captureDispatcher{}
	dev := rig.newDevice(t, pcnet.Config{Dispatcher: disp})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	frame := testFrame(128)

	if err := rig.ctrl.DeliverFrame(frame); err != nil {
		t.Fatal(err)
	}

	dev.Poll()

	if len(disp.frames) != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, len(disp.frames))
	}

	if !bytes.Equal(disp.frames[0], frame) {
		t.Fatalf("expected: %v, actual: %v", frame, disp.frames[0])
	}

	st := dev.Stats()

	if st.RxPackets != 1 || st.RxBytes != 128 {
		t.Fatalf("expected: %v, actual: %v", 1, st.RxPackets)
	}
}

func TestReceiveRingWraps(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	disp := &captureDispatcher{}
	dev := rig.newDevice(t, pcnet.Config{RxShift: 2, Dispatcher: disp})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	// More frames than the ring holds; drain between batches rearms it.
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			if err := rig.ctrl.DeliverFrame(testFrame(60 + i)); err != nil {
				t.Fatal(err)
			}
		}

		dev.Poll()
	}

	if len(disp.frames) != 12 {
		t.Fatalf("expected: %v, actual: %v", 12, len(disp.frames))
	}
}

func TestReceiveErrorRearms(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	disp := &captureDispatcher{}
	dev := rig.newDevice(t, pcnet.Config{Dispatcher: disp})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	if err := rig.ctrl.InjectRxError(); err != nil {
		t.Fatal(err)
	}

	dev.Poll()

	st := dev.Stats()

	if st.Errors != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, st.Errors)
	}

	if len(disp.frames) != 0 {
		t.Fatalf("expected: %v, actual: %v", 0, len(disp.frames))
	}

	// The errored slot went back to the controller; reception continues.
	if err := rig.ctrl.DeliverFrame(testFrame(64)); err != nil {
		t.Fatal(err)
	}

	dev.Poll()

	if len(disp.frames) != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, len(disp.frames))
	}
}

func TestInterruptAckPreservesINEA(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	dev := rig.newDevice(t, pcnet.Config{})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	if err := rig.ctrl.DeliverFrame(testFrame(64)); err != nil {
		t.Fatal(err)
	}

	dev.Poll()

	csr0 := rig.ctrl.CSR(0)

	if csr0&pcnet.CSR0INEA == 0 {
		t.Fatalf("expected: %v, actual: %#x", "INEA set", csr0)
	}

	if csr0&(pcnet.CSR0RINT|pcnet.CSR0INTR) != 0 {
		t.Fatalf("expected: %v, actual: %#x", "causes cleared", csr0)
	}
}

func TestHandlerNoWork(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	dev := rig.newDevice(t, pcnet.Config{})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	before := dev.Stats()

	dev.Poll()

	if actual := dev.Stats(); actual != before {
		t.Fatalf("expected: %v, actual: %v", before, actual)
	}
}

func TestErrorSummaryCounted(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)
	dev := rig.newDevice(t, pcnet.Config{})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	rig.ctrl.SetCSR0Bits(pcnet.CSR0MISS)

	dev.Poll()

	st := dev.Stats()

	if st.Errors != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, st.Errors)
	}

	// The summary bits were acknowledged along with the cause.
	if csr0 := rig.ctrl.CSR(0); csr0&(pcnet.CSR0MISS|pcnet.CSR0ERR) != 0 {
		t.Fatalf("expected: %v, actual: %#x", "MISS cleared", csr0)
	}
}
