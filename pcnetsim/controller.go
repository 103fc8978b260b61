// Package pcnetsim is a software model of the PCnet machine: the controller
// register file and DMA engine, a configuration-space device and an MMIO
// view of the same registers. It backs the tests and the demo binary the
// way device emulation backs a VMM.
package pcnetsim

import (
	"encoding/binary"
	"errors"

	"github.com/bobuhiro11/gokernel/dma"
	"github.com/bobuhiro11/gokernel/pcnet"
)

var (
	ErrReceiverOff = errors.New("receiver not enabled")
	ErrNoRxBuffer  = errors.New("no NIC-owned receive descriptor")
	ErrFrameTooBig = errors.New("frame exceeds descriptor capacity")
)

// IRQInjector raises the controller's interrupt line. Adapted from the
// virtio devices' injector contract.
type IRQInjector interface {
	InjectNICIRQ()
}

const (
	wioRDP   = 0x10
	wioRAP   = 0x12
	wioReset = 0x14
	wioBDP   = 0x16

	descSize = 16
)

// Controller emulates the Am79C970A register file and its DMA engine.
// It executes synchronously: commands written to CSR0 run before the
// write returns, and the interrupt line is raised through the injector.
type Controller struct {
	Base uint16

	mem    *dma.Arena
	irq    IRQInjector
	egress func([]byte)

	aprom [16]byte
	rap   uint16
	csr   [128]uint16
	bcr   [128]uint16

	rxBase  uint64
	txBase  uint64
	rxCount int
	txCount int
	rxIdx   int
	txIdx   int

	// RejectStyle makes BCR20 ignore writes, for negotiation-failure
	// tests.
	RejectStyle bool

	// SuppressIDON makes the INIT command never complete, for timeout
	// tests.
	SuppressIDON bool

	// StallTx leaves queued transmit descriptors NIC-owned, modeling a
	// controller that has fallen behind.
	StallTx bool
}

// NewController places the register window at base. egress receives every
// transmitted frame; nil drops them.
func NewController(base uint16, mem *dma.Arena, mac [6]byte,
	irq IRQInjector, egress func([]byte),
) *Controller {
	c := &Controller{Base: base, mem: mem, irq: irq, egress: egress}

	copy(c.aprom[:6], mac[:])
	c.reset()

	return c
}

func (c *Controller) reset() {
	c.rap = 0
	c.csr = [128]uint16{}
	c.bcr = [128]uint16{}
	c.csr[0] = pcnet.CSR0STOP
	c.rxIdx, c.txIdx = 0, 0
}

func (c *Controller) Read(port uint64, data []byte) error {
	off := uint16(port) - c.Base

	switch {
	case off < 0x10:
		for i := range data {
			if int(off)+i < len(c.aprom) {
				data[i] = c.aprom[int(off)+i]
			}
		}
	case off == wioRDP:
		binary.LittleEndian.PutUint16(data, c.csr[c.rap&0x7f])
	case off == wioRAP:
		binary.LittleEndian.PutUint16(data, c.rap)
	case off == wioReset:
		c.reset()

		for i := range data {
			data[i] = 0
		}
	case off == wioBDP:
		binary.LittleEndian.PutUint16(data, c.bcr[c.rap&0x7f])
	}

	return nil
}

func (c *Controller) Write(port uint64, data []byte) error {
	if len(data) < 2 {
		return nil
	}

	off := uint16(port) - c.Base
	v := binary.LittleEndian.Uint16(data)

	switch off {
	case wioRDP:
		c.writeCSR(c.rap&0x7f, v)
	case wioRAP:
		c.rap = v
	case wioBDP:
		c.writeBCR(c.rap&0x7f, v)
	}

	return nil
}

func (c *Controller) IOPort() uint64 {
	return uint64(c.Base)
}

func (c *Controller) Size() uint64 {
	return pcnet.WIOWindow
}

func (c *Controller) writeBCR(idx, v uint16) {
	if idx == 20 && c.RejectStyle {
		return
	}

	c.bcr[idx] = v
}

func (c *Controller) writeCSR(idx, v uint16) {
	if idx != 0 {
		c.csr[idx] = v

		return
	}

	// Write-one-to-clear cause bits.
	c.csr[0] &^= v & (pcnet.CSR0IDON | pcnet.CSR0TINT | pcnet.CSR0RINT |
		pcnet.CSR0MERR | pcnet.CSR0MISS | pcnet.CSR0CERR | pcnet.CSR0BABL)

	// INEA is a plain read/write bit.
	c.csr[0] = c.csr[0]&^pcnet.CSR0INEA | v&pcnet.CSR0INEA

	switch {
	case v&pcnet.CSR0STOP != 0:
		c.csr[0] = pcnet.CSR0STOP | c.csr[0]&pcnet.CSR0INEA
	case v&pcnet.CSR0INIT != 0:
		c.initialize()
	case v&pcnet.CSR0STRT != 0:
		c.csr[0] &^= pcnet.CSR0STOP
		c.csr[0] |= pcnet.CSR0STRT | pcnet.CSR0TXON | pcnet.CSR0RXON
	}

	if v&pcnet.CSR0TDMD != 0 {
		c.processTx()
	}

	c.updateIntr()
}

// initialize reads the init block from DMA memory and latches the rings.
func (c *Controller) initialize() {
	if c.SuppressIDON {
		return
	}

	addr := uint64(c.csr[1]) | uint64(c.csr[2])<<16

	b, err := c.mem.Bytes(addr, 28)
	if err != nil {
		return
	}

	c.rxCount = 1 << (b[2] >> 4)
	c.txCount = 1 << (b[3] >> 4)
	copy(c.aprom[:6], b[4:10])
	c.rxBase = uint64(binary.LittleEndian.Uint32(b[20:24]))
	c.txBase = uint64(binary.LittleEndian.Uint32(b[24:28]))
	c.rxIdx, c.txIdx = 0, 0

	c.csr[0] &^= pcnet.CSR0STOP
	c.csr[0] |= pcnet.CSR0IDON
}

// processTx drains NIC-owned transmit descriptors: read out each frame,
// hand it to egress, return the descriptor to software with TINT latched.
func (c *Controller) processTx() {
	if c.csr[0]&pcnet.CSR0TXON == 0 || c.StallTx {
		return
	}

	for {
		d, err := c.mem.Bytes(c.txBase+uint64(c.txIdx*descSize), descSize)
		if err != nil {
			return
		}

		status := binary.LittleEndian.Uint16(d[6:8])
		if status&0x8000 == 0 { // software-owned: nothing more queued
			return
		}

		n := pcnet.DecodeBCNT(binary.LittleEndian.Uint16(d[4:6]))
		addr := uint64(binary.LittleEndian.Uint32(d[0:4]))

		if buf, err := c.mem.Bytes(addr, n); err == nil && c.egress != nil {
			frame := make([]byte, n)
			copy(frame, buf)
			c.egress(frame)
		}

		binary.LittleEndian.PutUint16(d[6:8], status&^0x8000)
		c.csr[0] |= pcnet.CSR0TINT

		c.txIdx = (c.txIdx + 1) % c.txCount
	}
}

// DeliverFrame is the ingress path: the frame lands in the next NIC-owned
// receive descriptor and ownership returns to software with RINT latched.
func (c *Controller) DeliverFrame(frame []byte) error {
	if c.csr[0]&pcnet.CSR0RXON == 0 {
		return ErrReceiverOff
	}

	d, err := c.mem.Bytes(c.rxBase+uint64(c.rxIdx*descSize), descSize)
	if err != nil {
		return err
	}

	status := binary.LittleEndian.Uint16(d[6:8])
	if status&0x8000 == 0 {
		c.csr[0] |= pcnet.CSR0MISS
		c.updateIntr()

		return ErrNoRxBuffer
	}

	capacity := pcnet.DecodeBCNT(binary.LittleEndian.Uint16(d[4:6]))
	if len(frame) > capacity {
		return ErrFrameTooBig
	}

	addr := uint64(binary.LittleEndian.Uint32(d[0:4]))

	buf, err := c.mem.Bytes(addr, len(frame))
	if err != nil {
		return err
	}

	copy(buf, frame)

	binary.LittleEndian.PutUint32(d[8:12], uint32(len(frame))&0x0fff)
	binary.LittleEndian.PutUint16(d[6:8], status&^0x8000|0x0200|0x0100)

	c.rxIdx = (c.rxIdx + 1) % c.rxCount

	c.csr[0] |= pcnet.CSR0RINT
	c.updateIntr()

	return nil
}

// InjectRxError hands the next receive descriptor back to software with the
// error bit set and no payload, as a corrupted frame would.
func (c *Controller) InjectRxError() error {
	d, err := c.mem.Bytes(c.rxBase+uint64(c.rxIdx*descSize), descSize)
	if err != nil {
		return err
	}

	status := binary.LittleEndian.Uint16(d[6:8])
	if status&0x8000 == 0 {
		return ErrNoRxBuffer
	}

	binary.LittleEndian.PutUint16(d[6:8], status&^0x8000|0x4000)

	c.rxIdx = (c.rxIdx + 1) % c.rxCount

	c.csr[0] |= pcnet.CSR0RINT
	c.updateIntr()

	return nil
}

// Demand runs the transmit engine as if the controller caught up on its
// own, without a TDMD write from the driver.
func (c *Controller) Demand() {
	c.processTx()
	c.updateIntr()
}

// CSR returns a register value directly, for assertions.
func (c *Controller) CSR(idx int) uint16 {
	return c.csr[idx&0x7f]
}

// SetCSR0Bits latches extra cause bits, for error-path tests.
func (c *Controller) SetCSR0Bits(bits uint16) {
	c.csr[0] |= bits
	c.updateIntr()
}

func (c *Controller) updateIntr() {
	causes := c.csr[0] & (pcnet.CSR0IDON | pcnet.CSR0TINT | pcnet.CSR0RINT |
		pcnet.CSR0MERR | pcnet.CSR0MISS | pcnet.CSR0CERR | pcnet.CSR0BABL)

	if causes != 0 {
		c.csr[0] |= pcnet.CSR0INTR
	} else {
		c.csr[0] &^= pcnet.CSR0INTR
	}

	// ERR summarizes the error causes.
	if c.csr[0]&(pcnet.CSR0MERR|pcnet.CSR0MISS|pcnet.CSR0CERR|pcnet.CSR0BABL) != 0 {
		c.csr[0] |= pcnet.CSR0ERR
	} else {
		c.csr[0] &^= pcnet.CSR0ERR
	}

	if c.csr[0]&pcnet.CSR0INTR != 0 && c.csr[0]&pcnet.CSR0INEA != 0 && c.irq != nil {
		c.irq.InjectNICIRQ()
	}
}
