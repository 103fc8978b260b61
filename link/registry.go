package link

// Registry owns the published interfaces. Callers hold indices or names,
// never process-wide globals.
type Registry struct {
	ifaces []Interface
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends i and returns its stable index.
func (r *Registry) Register(i Interface) int {
	r.ifaces = append(r.ifaces, i)

	return len(r.ifaces) - 1
}

// ByIndex returns the interface at index, or nil if out of range.
func (r *Registry) ByIndex(idx int) Interface {
	if idx < 0 || idx >= len(r.ifaces) {
		return nil
	}

	return r.ifaces[idx]
}

// ByName returns the first interface with the given name, or nil.
func (r *Registry) ByName(name string) Interface {
	for _, i := range r.ifaces {
		if i.Name() == name {
			return i
		}
	}

	return nil
}

// Len returns the number of registered interfaces.
func (r *Registry) Len() int {
	return len(r.ifaces)
}
