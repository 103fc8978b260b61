// Package link is the boundary between NIC drivers and the rest of the
// kernel. Drivers publish an Interface; a layer-2 Dispatcher consumes
// received frames. Nothing here interprets frame contents.
package link

// Dispatcher receives each completed inbound frame as a (buffer, length)
// pair. The buffer is only valid for the duration of the call; the driver
// rearms it immediately after.
type Dispatcher interface {
	DeliverFrame(buf []byte, n int)
}

// Stats are the running counters an interface exposes.
type Stats struct {
	TxPackets uint64
	RxPackets uint64
	TxBytes   uint64
	RxBytes   uint64
	Errors    uint64
}

// Interface is the published view of a network device. It is the only
// handle other kernel subsystems may hold.
type Interface interface {
	Name() string
	MAC() [6]byte
	Up() bool
	Running() bool
	Send(frame []byte) error
	Stats() Stats
}

// DropDispatcher discards every frame. Default consumer until a protocol
// layer attaches.
type DropDispatcher struct {
	Dropped uint64
}

func (d *DropDispatcher) DeliverFrame(buf []byte, n int) {
	d.Dropped++
}
