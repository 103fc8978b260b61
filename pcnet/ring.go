package pcnet

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/bobuhiro11/gokernel/dma"
)

var ErrBadRingSize = errors.New("ring size must be a power of two")

const (
	// descSize is the style-2 descriptor footprint:
	// buffer address u32, byte count u16, status u16,
	// message count / error u32, user u32.
	descSize = 16

	initBlockSize = 28

	// bcntOnes are the reserved high bits of the byte-count field; the
	// controller requires them set.
	bcntOnes = 0xf000

	// mcntMask extracts the received length from the message-count field.
	mcntMask = 0x0fff
)

// EncodeBCNT encodes a buffer capacity as the 12-bit two's-complement
// negation the descriptor format requires.
func EncodeBCNT(n int) uint16 {
	return bcntOnes | uint16(-n)&0x0fff
}

// DecodeBCNT recovers the capacity from an encoded byte-count field.
func DecodeBCNT(v uint16) int {
	return 0x1000 - int(v&0x0fff)
}

// Descriptor field accessors over the raw 16-byte record in DMA memory.

func descAddr(d []byte) uint32         { return binary.LittleEndian.Uint32(d[0:4]) }
func setDescAddr(d []byte, v uint32)   { binary.LittleEndian.PutUint32(d[0:4], v) }
func descBCNT(d []byte) uint16         { return binary.LittleEndian.Uint16(d[4:6]) }
func setDescBCNT(d []byte, v uint16)   { binary.LittleEndian.PutUint16(d[4:6], v) }
func descStatus(d []byte) uint16       { return binary.LittleEndian.Uint16(d[6:8]) }
func setDescStatus(d []byte, v uint16) { binary.LittleEndian.PutUint16(d[6:8], v) }
func descMCNT(d []byte) uint32         { return binary.LittleEndian.Uint32(d[8:12]) }
func setDescMCNT(d []byte, v uint32)   { binary.LittleEndian.PutUint32(d[8:12], v) }

// ring tracks one descriptor array and its fixed per-slot buffers. The
// index advances monotonically modulo the power-of-two count.
type ring struct {
	mem      *dma.Arena
	descBase uint64
	bufBase  uint64
	bufSize  int
	count    int
	idx      int
}

func newRing(mem *dma.Arena, shift uint, bufSize int) (*ring, error) {
	count := 1 << shift

	r := &ring{mem: mem, bufSize: bufSize, count: count}

	var err error
	if r.descBase, err = mem.Alloc(count*descSize, dma.MinAlign); err != nil {
		return nil, err
	}

	if r.bufBase, err = mem.Alloc(count*bufSize, dma.MinAlign); err != nil {
		return nil, err
	}

	return r, nil
}

// desc returns the live view of descriptor i.
func (r *ring) desc(i int) ([]byte, error) {
	return r.mem.Bytes(r.descBase+uint64(i*descSize), descSize)
}

// bufferAddr returns the bus address of slot i's fixed buffer.
func (r *ring) bufferAddr(i int) uint64 {
	return r.bufBase + uint64(i*r.bufSize)
}

func (r *ring) advance() {
	r.idx = (r.idx + 1) & (r.count - 1)
}

// initBlock is the shared control block the controller reads at
// initialization. It must stay at a fixed address once CSR1/CSR2 latch it.
type initBlock struct {
	Mode   uint16
	RLen   uint8 // rx ring length exponent in the high nibble
	TLen   uint8 // tx ring length exponent in the high nibble
	MAC    [6]byte
	_      uint16
	Filter uint64 // logical address filter; all-ones accepts everything
	RxRing uint32
	TxRing uint32
}

func (ib *initBlock) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, ib); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}
