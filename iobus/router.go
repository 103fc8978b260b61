package iobus

import (
	"encoding/binary"
	"fmt"
)

// Router is the software bus the hosted kernel runs on. Devices claim port
// windows; PortIO accesses are routed to the claiming device. It doubles as
// the IntrGate: Disable bumps a nesting depth instead of touching RFLAGS,
// which is all a single execution context needs.
type Router struct {
	devices []Device
	masked  int

	// OnUnmask runs whenever the mask depth drops back to zero. The
	// kernel hangs pending interrupt delivery off it.
	OnUnmask func()
}

func NewRouter() *Router {
	return &Router{}
}

// Register claims [IOPort, IOPort+Size) for dev.
func (r *Router) Register(dev Device) error {
	s, e := dev.IOPort(), dev.IOPort()+dev.Size()
	for _, d := range r.devices {
		ds, de := d.IOPort(), d.IOPort()+d.Size()
		if s < de && ds < e {
			return fmt.Errorf("%w: [0x%x, 0x%x)", ErrPortConflict, s, e)
		}
	}

	r.devices = append(r.devices, dev)

	return nil
}

func (r *Router) find(port uint16) Device {
	for _, d := range r.devices {
		if uint64(port) >= d.IOPort() && uint64(port) < d.IOPort()+d.Size() {
			return d
		}
	}

	return nil
}

func (r *Router) in(port uint16, data []byte) {
	d := r.find(port)
	if d == nil {
		// Bus float: no device drives the data lines.
		for i := range data {
			data[i] = 0xff
		}

		return
	}

	_ = d.Read(uint64(port), data)
}

func (r *Router) out(port uint16, data []byte) {
	if d := r.find(port); d != nil {
		_ = d.Write(uint64(port), data)
	}
}

func (r *Router) In8(port uint16) uint8 {
	var b [1]byte

	r.in(port, b[:])

	return b[0]
}

func (r *Router) Out8(port uint16, v uint8) {
	r.out(port, []byte{v})
}

func (r *Router) In16(port uint16) uint16 {
	var b [2]byte

	r.in(port, b[:])

	return binary.LittleEndian.Uint16(b[:])
}

func (r *Router) Out16(port uint16, v uint16) {
	var b [2]byte

	binary.LittleEndian.PutUint16(b[:], v)
	r.out(port, b[:])
}

func (r *Router) In32(port uint16) uint32 {
	var b [4]byte

	r.in(port, b[:])

	return binary.LittleEndian.Uint32(b[:])
}

func (r *Router) Out32(port uint16, v uint32) {
	var b [4]byte

	binary.LittleEndian.PutUint32(b[:], v)
	r.out(port, b[:])
}

func (r *Router) Disable() (restore func()) {
	r.masked++

	released := false

	return func() {
		if released {
			return
		}

		released = true
		r.masked--

		if r.masked == 0 && r.OnUnmask != nil {
			r.OnUnmask()
		}
	}
}

// Masked reports whether at least one Disable is outstanding.
func (r *Router) Masked() bool {
	return r.masked > 0
}
