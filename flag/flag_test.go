package flag_test

import (
	"testing"

	"github.com/bobuhiro11/gokernel/flag"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name   string
		s      string
		unit   string
		amt    int
		errNil bool
	}{
		{name: "badsuffix", s: "1T", errNil: false, amt: -1},
		{name: "1G", s: "1G", errNil: true, amt: 1 << 30},
		{name: "1g", s: "1g", errNil: true, amt: 1 << 30},
		{name: "1M", s: "1M", errNil: true, amt: 1 << 20},
		{name: "1m", s: "1m", errNil: true, amt: 1 << 20},
		{name: "1K", s: "1K", errNil: true, amt: 1 << 10},
		{name: "1k", s: "1k", errNil: true, amt: 1 << 10},
		{name: "defaultm", s: "4", unit: "m", errNil: true, amt: 4 << 20},
		{name: "hex", s: "0x10", errNil: true, amt: 16},
		{name: "empty", s: "", errNil: false, amt: -1},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			amt, err := flag.ParseSize(tt.s, tt.unit)
			if (err == nil) != tt.errNil {
				t.Fatalf("expected: %v, actual: %v", tt.errNil, err)
			}

			if amt != tt.amt {
				t.Fatalf("expected: %v, actual: %v", tt.amt, amt)
			}
		})
	}
}
