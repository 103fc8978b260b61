package iobus

// NoopDevice claims a port window and ignores everything written to it.
// Reads return zeros. Useful for legacy ranges the kernel touches but does
// not model (DMA page registers, CMOS, VGA).
type NoopDevice struct {
	Port  uint64
	Range uint64
}

func NewNoopDevice(port, size uint64) *NoopDevice {
	return &NoopDevice{Port: port, Range: size}
}

func (n *NoopDevice) Read(port uint64, data []byte) error {
	for i := range data {
		data[i] = 0
	}

	return nil
}

func (n *NoopDevice) Write(port uint64, data []byte) error {
	return nil
}

func (n *NoopDevice) IOPort() uint64 {
	return n.Port
}

func (n *NoopDevice) Size() uint64 {
	return n.Range
}
