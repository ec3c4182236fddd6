package voltage

// VirtualChannelSet is a ChannelSet with an append-only stack of
// virtualisation layers. Tuning points and sequences may address any source
// name of any layer; ResolveVoltages flattens them into physical levels,
// starting with the most recently added layer.
type VirtualChannelSet struct {
	*ChannelSet
}

// NewVirtualChannelSet creates a virtual set over the given outputs.
func NewVirtualChannelSet(id string, outputs map[string]Output) (*VirtualChannelSet, error) {
	base, err := NewChannelSet(id, outputs)
	if err != nil {
		return nil, err
	}
	return &VirtualChannelSet{ChannelSet: base}, nil
}

// Layers returns the layer stack in the order layers were added.
func (v *VirtualChannelSet) Layers() []*Layer {
	return append([]*Layer(nil), v.layers...)
}

// AddLayer appends a layer. Targets must be physical channels or sources of
// an earlier layer, and may not be targeted twice. Sources must be new names.
func (v *VirtualChannelSet) AddLayer(source, target []string, matrix [][]float64) (*Layer, error) {
	if v.active != nil {
		return nil, ErrSequenceActive
	}
	source = normalizeAll(source)
	target = normalizeAll(target)
	layer, err := NewLayer(source, target, matrix)
	if err != nil {
		return nil, err
	}

	targeted := make(map[string]struct{})
	sources := make(map[string]struct{})
	for _, l := range v.layers {
		for _, name := range l.target {
			targeted[name] = struct{}{}
		}
		for _, name := range l.source {
			sources[name] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(target))
	for _, name := range target {
		if _, dup := seen[name]; dup {
			return nil, &LayerError{Name: name, Reason: "listed twice as target"}
		}
		seen[name] = struct{}{}
		_, physical := v.outputs[name]
		_, virtual := sources[name]
		if !physical && !virtual {
			return nil, &UnknownChannelError{Name: name, Namespace: v.Namespace()}
		}
		if _, taken := targeted[name]; taken {
			return nil, &LayerError{Name: name, Reason: "already targeted by an earlier layer"}
		}
	}

	seen = make(map[string]struct{}, len(source))
	for _, name := range source {
		if name == "" {
			return nil, &LayerError{Name: name, Reason: "source name must not be empty"}
		}
		if _, dup := seen[name]; dup {
			return nil, &LayerError{Name: name, Reason: "listed twice as source"}
		}
		seen[name] = struct{}{}
		if _, physical := v.outputs[name]; physical {
			return nil, &LayerError{Name: name, Reason: "collides with a physical channel"}
		}
		if _, taken := sources[name]; taken {
			return nil, &LayerError{Name: name, Reason: "already a source of an earlier layer"}
		}
		if _, taken := targeted[name]; taken {
			return nil, &LayerError{Name: name, Reason: "already a target of an earlier layer"}
		}
	}

	v.layers = append(v.layers, layer)
	return layer, nil
}

func normalizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = normalizeName(name)
	}
	return out
}
