package pcnet_test

import (
	"testing"

	"github.com/bobuhiro11/gokernel/pcnet"
)

func TestBCNTRoundTrip(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 0x1000; n++ {
		encoded := pcnet.EncodeBCNT(n)

		if encoded&0xf000 != 0xf000 {
			t.Fatalf("expected: %v, actual: %#x", "ones in the high nibble", encoded)
		}

		if actual := pcnet.DecodeBCNT(encoded); actual != n {
			t.Fatalf("expected: %v, actual: %v", n, actual)
		}
	}
}

func TestBCNTKnownValues(t *testing.T) {
	t.Parallel()

	// -1536 in 12-bit two's complement is 0xa00.
	expected := uint16(0xfa00)
	actual := pcnet.EncodeBCNT(1536)

	if expected != actual {
		t.Fatalf("expected: %#x, actual: %#x", expected, actual)
	}

	if pcnet.DecodeBCNT(0xffff) != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, pcnet.DecodeBCNT(0xffff))
	}
}
