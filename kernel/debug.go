package kernel

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

var ErrNoText = errors.New("no text image covers the address")

// disasm decodes the instruction at ip in the registered text image and
// returns it in GNU syntax.
func (k *Kernel) disasm(ip uint64) (string, error) {
	if k.text == nil || ip < k.textBase || ip >= k.textBase+uint64(len(k.text)) {
		return "", fmt.Errorf("%w: %#x", ErrNoText, ip)
	}

	off := int(ip - k.textBase)

	end := off + 16
	if end > len(k.text) {
		end = len(k.text)
	}

	d, err := x86asm.Decode(k.text[off:end], 64)
	if err != nil {
		return "", fmt.Errorf("decoding %#02x:%w", k.text[off:end], err)
	}

	return x86asm.GNUSyntax(d, ip, nil), nil
}
