// Package pcnet drives an AMD PCnet-PCI Ethernet controller: dual-transport
// register access, the shared init block, descriptor rings with the OWN-bit
// handoff protocol, and the interrupt top half.
package pcnet

import (
	"errors"
	"fmt"
	"time"

	"github.com/bobuhiro11/gokernel/dma"
	"github.com/bobuhiro11/gokernel/iobus"
	"github.com/bobuhiro11/gokernel/link"
	"github.com/bobuhiro11/gokernel/pci"
)

var (
	ErrStyleMismatch = errors.New("software style negotiation failed")
	ErrInitTimeout   = errors.New("initialization-done flag never set")
	ErrTxBusy        = errors.New("transmit ring full")
	ErrFrameTooLarge = errors.New("frame exceeds descriptor buffer capacity")
	ErrNotRunning    = errors.New("device not running")
)

const (
	// DefaultRingShift gives 16-descriptor rings.
	DefaultRingShift = 4

	// maxRingShift is the largest exponent the init block encodes.
	maxRingShift = 9

	// BufSize holds one maximum-size link-layer frame.
	BufSize = 1536

	resetSettle   = time.Millisecond
	initPollLimit = 1000
)

type Config struct {
	Name    string
	RxShift uint
	TxShift uint

	// Mode goes into the init block mode field unmodified.
	Mode uint16

	// Filter is the logical address filter; all-ones accepts everything.
	Filter uint64

	Transport  TransportKind
	Dispatcher link.Dispatcher
}

// Device is the driver's live state. One instance exists per probed
// controller; other subsystems only ever hold its link.Interface view.
type Device struct {
	name  string
	fn    *pci.Function
	xport transport
	mem   *dma.Arena

	mac [6]byte

	rx       *ring
	tx       *ring
	initAddr uint64

	started bool
	stopped bool

	dispatcher link.Dispatcher
	stats      link.Stats
}

// New constructs and initializes a driver for the probed function, up to but
// not including the start command. Everything allocated from the arena is
// released again if a later construction step fails.
func New(fn *pci.Function, bars []pci.BARInfo, io iobus.PortIO, mmio iobus.MMIO,
	gate iobus.IntrGate, arena *dma.Arena, cfg Config,
) (*Device, error) {
	if cfg.Name == "" {
		cfg.Name = "eth0"
	}

	if cfg.RxShift == 0 {
		cfg.RxShift = DefaultRingShift
	}

	if cfg.TxShift == 0 {
		cfg.TxShift = DefaultRingShift
	}

	if cfg.RxShift > maxRingShift || cfg.TxShift > maxRingShift {
		return nil, ErrBadRingSize
	}

	if cfg.Dispatcher == nil {
		cfg.Dispatcher = &link.DropDispatcher{}
	}

	xport, err := selectTransport(bars, io, mmio, gate, cfg.Transport)
	if err != nil {
		return nil, err
	}

	d := &Device{
		name:       cfg.Name,
		fn:         fn,
		xport:      xport,
		mem:        arena,
		dispatcher: cfg.Dispatcher,
	}

	// Reset first; the controller wants quiet on the bus while it settles.
	xport.Reset()
	time.Sleep(resetSettle)

	// Negotiate 32-bit descriptor structures. A controller that does not
	// take the style is a hard failure, not something to retry.
	style := xport.ReadBCR(bcrSWStyle)
	xport.WriteBCR(bcrSWStyle, style&^swStyleMask|swStyle32)

	if got := xport.ReadBCR(bcrSWStyle); got&swStyleMask != swStyle32 {
		return nil, fmt.Errorf("%w: bcr20=0x%x", ErrStyleMismatch, got)
	}

	d.mac = xport.ReadMAC()

	mark := arena.Mark()
	if err := d.setupRings(cfg); err != nil {
		arena.Release(mark)

		return nil, err
	}

	// Publish the init block, low half then high half; the indexed
	// register interface is narrower than the address.
	xport.WriteCSR(csrInitLow, uint16(d.initAddr))
	xport.WriteCSR(csrInitHigh, uint16(d.initAddr>>16))

	return d, nil
}

func (d *Device) setupRings(cfg Config) error {
	var err error

	if d.initAddr, err = d.mem.Alloc(initBlockSize, dma.MinAlign); err != nil {
		return err
	}

	if d.rx, err = newRing(d.mem, cfg.RxShift, BufSize); err != nil {
		return err
	}

	if d.tx, err = newRing(d.mem, cfg.TxShift, BufSize); err != nil {
		return err
	}

	// Receive descriptors start NIC-owned with full capacity advertised.
	for i := 0; i < d.rx.count; i++ {
		desc, err := d.rx.desc(i)
		if err != nil {
			return err
		}

		setDescAddr(desc, uint32(d.rx.bufferAddr(i)))
		setDescBCNT(desc, EncodeBCNT(BufSize))
		setDescStatus(desc, descOWN)
	}

	// Transmit descriptors start software-owned and empty.
	for i := 0; i < d.tx.count; i++ {
		desc, err := d.tx.desc(i)
		if err != nil {
			return err
		}

		setDescAddr(desc, uint32(d.tx.bufferAddr(i)))
		setDescBCNT(desc, 0)
		setDescStatus(desc, 0)
	}

	ib := initBlock{
		Mode:   cfg.Mode,
		RLen:   uint8(cfg.RxShift) << 4,
		TLen:   uint8(cfg.TxShift) << 4,
		MAC:    d.mac,
		Filter: cfg.Filter,
		RxRing: uint32(d.rx.descBase),
		TxRing: uint32(d.tx.descBase),
	}

	b, err := ib.Bytes()
	if err != nil {
		return err
	}

	dst, err := d.mem.Bytes(d.initAddr, initBlockSize)
	if err != nil {
		return err
	}

	copy(dst, b)

	return nil
}

// Start issues the initialize command, polls for completion and turns the
// controller on with interrupts enabled. On timeout the device is left
// unstarted.
func (d *Device) Start() error {
	d.xport.WriteCSR(csrStatus, CSR0INIT)

	done := false

	for i := 0; i < initPollLimit; i++ {
		if d.xport.ReadCSR(csrStatus)&CSR0IDON != 0 {
			done = true

			break
		}
	}

	if !done {
		return ErrInitTimeout
	}

	// Acknowledge IDON (write-one-to-clear), then start.
	d.xport.WriteCSR(csrStatus, CSR0IDON)
	d.xport.WriteCSR(csrStatus, CSR0STRT|CSR0INEA)

	d.started = true
	d.stopped = false

	return nil
}

// Stop halts the controller and marks the interface down.
func (d *Device) Stop() {
	d.xport.WriteCSR(csrStatus, CSR0STOP)
	d.started = false
	d.stopped = true
}

// Send queues one frame on the next transmit descriptor. A NIC-owned
// descriptor means the ring is full: the caller retries later; nothing
// blocks and nothing is queued beyond ring depth.
func (d *Device) Send(frame []byte) error {
	if !d.started {
		return ErrNotRunning
	}

	n := len(frame)
	if n == 0 || n > d.tx.bufSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	desc, err := d.tx.desc(d.tx.idx)
	if err != nil {
		return err
	}

	if descStatus(desc)&descOWN != 0 {
		return ErrTxBusy
	}

	buf, err := d.mem.Bytes(uint64(descAddr(desc)), d.tx.bufSize)
	if err != nil {
		return err
	}

	copy(buf, frame)

	setDescBCNT(desc, EncodeBCNT(n))
	setDescMCNT(desc, 0)
	// Ownership transfer is the last write; it publishes the descriptor.
	setDescStatus(desc, descOWN|descSTP|descENP)

	d.tx.advance()
	d.stats.TxBytes += uint64(n)

	d.xport.WriteCSR(csrStatus, CSR0TDMD|CSR0INEA)

	return nil
}

// drainReceive walks software-owned receive descriptors until it meets a
// NIC-owned one. Every drained slot is rearmed before the index advances,
// error path included, so the ring never starves.
func (d *Device) drainReceive() {
	for {
		desc, err := d.rx.desc(d.rx.idx)
		if err != nil {
			return
		}

		status := descStatus(desc)
		if status&descOWN != 0 {
			// Ring empty for this pass.
			return
		}

		if status&descERR != 0 {
			d.stats.Errors++
		} else {
			n := int(descMCNT(desc) & mcntMask)

			if buf, err := d.mem.Bytes(uint64(descAddr(desc)), n); err == nil {
				d.dispatcher.DeliverFrame(buf, n)
				d.stats.RxBytes += uint64(n)
			}
		}

		setDescBCNT(desc, EncodeBCNT(d.rx.bufSize))
		setDescMCNT(desc, 0)
		setDescStatus(desc, descOWN)

		d.rx.advance()
	}
}

// HandleInterrupt is the top half bound to the controller's vector. The
// acknowledgment write must land before any drain work: the source is
// level-triggered and re-asserts until its cause bits are cleared.
func (d *Device) HandleInterrupt() {
	csr0 := d.xport.ReadCSR(csrStatus)

	d.xport.WriteCSR(csrStatus, csr0&csr0W1C|CSR0INEA)

	if csr0&CSR0RINT != 0 {
		d.drainReceive()
		d.stats.RxPackets++
	}

	if csr0&CSR0TINT != 0 {
		d.stats.TxPackets++
	}

	if csr0&CSR0ERR != 0 {
		d.stats.Errors++
	}

	if csr0&CSR0IDON != 0 {
		d.started = true
	}
}

// Poll re-invokes the interrupt handler synchronously, for environments
// without delivered interrupts.
func (d *Device) Poll() {
	d.HandleInterrupt()
}

// CSR0 returns the current status register value.
func (d *Device) CSR0() uint16 {
	return d.xport.ReadCSR(csrStatus)
}

// Transport reports which register transport construction selected.
func (d *Device) Transport() TransportKind {
	return d.xport.Kind()
}

// InterruptLine returns the line assigned by configuration space.
func (d *Device) InterruptLine() uint8 {
	return d.fn.InterruptLine
}

// link.Interface implementation.

func (d *Device) Name() string {
	return d.name
}

func (d *Device) MAC() [6]byte {
	return d.mac
}

func (d *Device) Up() bool {
	return !d.stopped
}

func (d *Device) Running() bool {
	return d.started
}

func (d *Device) Stats() link.Stats {
	return d.stats
}
