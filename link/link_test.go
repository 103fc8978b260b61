package link_test

import (
	"testing"

	"github.com/bobuhiro11/gokernel/link"
)

type fakeInterface struct {
	name string
}

func (f *fakeInterface) Name() string            { return f.name }
func (f *fakeInterface) MAC() [6]byte            { return [6]byte{} }
func (f *fakeInterface) Up() bool                { return true }
func (f *fakeInterface) Running() bool           { return true }
func (f *fakeInterface) Send(frame []byte) error { return nil }
func (f *fakeInterface) Stats() link.Stats       { return link.Stats{} }

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := link.NewRegistry()

	if r.Len() != 0 {
		t.Fatalf("expected: %v, actual: %v", 0, r.Len())
	}

	eth0 := &fakeInterface{name: "eth0"}
	eth1 := &fakeInterface{name: "eth1"}

	if idx := r.Register(eth0); idx != 0 {
		t.Fatalf("expected: %v, actual: %v", 0, idx)
	}

	if idx := r.Register(eth1); idx != 1 {
		t.Fatalf("expected: %v, actual: %v", 1, idx)
	}

	if actual := r.ByIndex(1); actual != link.Interface(eth1) {
		t.Fatalf("expected: %v, actual: %v", eth1, actual)
	}

	if actual := r.ByIndex(2); actual != nil {
		t.Fatalf("expected: %v, actual: %v", nil, actual)
	}

	if actual := r.ByName("eth0"); actual != link.Interface(eth0) {
		t.Fatalf("expected: %v, actual: %v", eth0, actual)
	}

	if actual := r.ByName("wlan0"); actual != nil {
		t.Fatalf("expected: %v, actual: %v", nil, actual)
	}
}

func TestDropDispatcher(t *testing.T) {
	t.Parallel()

	d := &link.DropDispatcher{}
	d.DeliverFrame(make([]byte, 64), 64)
	d.DeliverFrame(make([]byte, 64), 64)

	if d.Dropped != 2 {
		t.Fatalf("expected: %v, actual: %v", 2, d.Dropped)
	}
}
