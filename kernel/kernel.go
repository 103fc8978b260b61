// Package kernel boots the hardware core: interrupt tables first, then the
// bus scan, then drivers for what the scan found. It owns the mapping from
// hardware interrupt lines to installed handlers and the pending-line state
// for interrupts raised while delivery is masked.
package kernel

import (
	"errors"
	"fmt"
	"log"
	"math/bits"

	"github.com/bobuhiro11/gokernel/dma"
	"github.com/bobuhiro11/gokernel/idt"
	"github.com/bobuhiro11/gokernel/iobus"
	"github.com/bobuhiro11/gokernel/link"
	"github.com/bobuhiro11/gokernel/pci"
	"github.com/bobuhiro11/gokernel/pcnet"
)

var (
	ErrNoNIC      = errors.New("no supported network controller found")
	ErrBadIRQLine = errors.New("interrupt line out of range")
)

const (
	timerLine    = 0
	keyboardLine = 1

	keyboardDataPort = 0x60
)

// Kernel is one booted instance. Everything hangs off it; there is no
// process-wide state, so tests boot as many as they like.
type Kernel struct {
	router *iobus.Router
	mmio   iobus.MMIO
	arena  *dma.Arena

	table  *idt.Table
	loader *lidtRecorder

	bus  *pci.Bus
	enum *pci.Enumerator

	ifaces *link.Registry
	nic    *pcnet.Device

	// pending is the bitmask of lines raised while delivery was masked.
	pending uint16

	// Ticks counts timer interrupts; LastScancode holds the most recent
	// keyboard byte.
	Ticks        uint64
	LastScancode uint8

	text     []byte
	textBase uint64
}

// lidtRecorder stands in for the lidt instruction: it keeps the encoded
// table so its contents can be inspected after activation.
type lidtRecorder struct {
	table []byte
}

func (l *lidtRecorder) LIDT(table []byte) error {
	l.table = make([]byte, len(table))
	copy(l.table, table)

	return nil
}

// New brings up the interrupt plumbing: a full descriptor table with the CPU
// exception range pointed at the fault logger, the timer and keyboard lines
// installed, the interrupt controllers remapped clear of the exception
// vectors, and the table activated. The bus is not scanned yet.
func New(router *iobus.Router, mmio iobus.MMIO, arena *dma.Arena) (*Kernel, error) {
	k := &Kernel{
		router: router,
		mmio:   mmio,
		arena:  arena,
		table:  idt.NewTable(),
		loader: &lidtRecorder{},
		ifaces: link.NewRegistry(),
	}

	for v := 0; v < idt.HWIRQBase; v++ {
		k.table.InstallVector(uint8(v), k.handleFault, idt.KernelCS, idt.FlagsIntrGate)
	}

	k.table.InstallVector(idt.VectorForLine(timerLine), k.handleTimer,
		idt.KernelCS, idt.FlagsIntrGate)
	k.table.InstallVector(idt.VectorForLine(keyboardLine), k.handleKeyboard,
		idt.KernelCS, idt.FlagsIntrGate)

	idt.RemapPIC(router)

	if err := k.table.Activate(k.loader); err != nil {
		return nil, err
	}

	router.OnUnmask = k.deliverPending

	return k, nil
}

// LoadText registers the executable image for fault-path disassembly.
func (k *Kernel) LoadText(base uint64, text []byte) {
	k.textBase = base
	k.text = text
}

func (k *Kernel) handleFault(f *idt.Frame) {
	if asm, err := k.disasm(f.IP); err == nil {
		log.Printf("fault: vector %d code %#x ip %#x: %s", f.Vector, f.Code, f.IP, asm)

		return
	}

	log.Printf("fault: vector %d code %#x ip %#x", f.Vector, f.Code, f.IP)
}

func (k *Kernel) handleTimer(f *idt.Frame) {
	k.Ticks++
}

func (k *Kernel) handleKeyboard(f *idt.Frame) {
	k.LastScancode = k.router.In8(keyboardDataPort)
}

// ScanPCI probes the whole bus/slot/function space. Safe to call more than
// once; later scans replace the discovery list.
func (k *Kernel) ScanPCI() *pci.Enumerator {
	k.bus = pci.NewBus(k.router)
	k.enum = pci.NewEnumerator(k.bus)
	k.enum.Probe()

	return k.enum
}

// AttachNIC finds the network controller, grants it bus mastering, builds
// the driver and starts it. The interrupt line configuration space assigned
// is bound to the driver's handler before the start command.
func (k *Kernel) AttachNIC(cfg pcnet.Config) (*pcnet.Device, error) {
	if k.enum == nil {
		k.ScanPCI()
	}

	fn := k.enum.LookupByIDs(pcnet.VendorAMD, pcnet.DevicePCnet)
	if fn == nil {
		fn = k.enum.LookupByClass(pcnet.ClassNetwork, pcnet.SubclassEthern)
	}

	if fn == nil {
		return nil, ErrNoNIC
	}

	if err := k.enum.EnableBusMastering(fn); err != nil {
		return nil, err
	}

	bars := k.enum.ParseBARs(fn)

	dev, err := pcnet.New(fn, bars, k.router, k.mmio, k.router, k.arena, cfg)
	if err != nil {
		return nil, err
	}

	k.table.InstallVector(idt.VectorForLine(fn.InterruptLine),
		func(f *idt.Frame) { dev.HandleInterrupt() },
		idt.KernelCS, idt.FlagsIntrGate)

	if err := dev.Start(); err != nil {
		return nil, err
	}

	k.nic = dev
	k.ifaces.Register(dev)

	return dev, nil
}

// InjectIRQ models a device asserting a hardware line. With delivery masked
// the line is latched pending, level-trigger style, and delivered when the
// mask drops; otherwise the handler runs immediately.
func (k *Kernel) InjectIRQ(line uint8) error {
	if line > 15 {
		return fmt.Errorf("%w: %d", ErrBadIRQLine, line)
	}

	if k.router.Masked() {
		k.pending |= 1 << line

		return nil
	}

	return k.dispatchLine(line)
}

// dispatchLine runs a line's handler with further delivery masked, the way
// an interrupt gate clears IF on entry.
func (k *Kernel) dispatchLine(line uint8) error {
	restore := k.router.Disable()
	defer restore()

	return k.table.Dispatch(&idt.Frame{Vector: idt.VectorForLine(line)})
}

// deliverPending drains the pending bitmask, lowest line first. Handlers run
// masked, so lines raised during a handler land back in the mask and are
// picked up by the delivery pass their restore triggers.
func (k *Kernel) deliverPending() {
	for k.pending != 0 {
		line := uint8(bits.TrailingZeros16(k.pending))
		k.pending &^= 1 << line

		if err := k.dispatchLine(line); err != nil {
			log.Printf("irq line %d: %v", line, err)
		}
	}
}

// Pending reports the lines currently latched awaiting delivery.
func (k *Kernel) Pending() uint16 {
	return k.pending
}

// IDT exposes the vector table, for late handler installs.
func (k *Kernel) IDT() *idt.Table {
	return k.table
}

// IDTImage returns the encoded table the activation loaded.
func (k *Kernel) IDTImage() []byte {
	return k.loader.table
}

// Interfaces returns the published network interface registry.
func (k *Kernel) Interfaces() *link.Registry {
	return k.ifaces
}

// NIC returns the attached driver, or nil before AttachNIC succeeds.
func (k *Kernel) NIC() *pcnet.Device {
	return k.nic
}
