// core/scenario_loader.go
package core

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/signalsfoundry/nodesim/internal/logging"
	"github.com/signalsfoundry/nodesim/kb"
	"github.com/signalsfoundry/nodesim/model"
	"github.com/signalsfoundry/nodesim/timectrl"
)

// Scenario is a summary of what was loaded from JSON. It's mainly useful
// for logging from main() and for opening the declared log channels.
type Scenario struct {
	NodeIDs []uint32
	Links   int
	// VectorLinks counts the links implied by packet vectors alone.
	VectorLinks int
	// Sources lists the nodes with at least one outgoing link, ascending.
	Sources  []uint32
	Channels []ChannelSpec
}

// ChannelSpec describes one data log channel with its globals resolved to
// offsets in the node's global vector.
type ChannelSpec struct {
	Node      uint32
	Prototype string
	Name      string
	Format    string
	Start     uint64
	Stop      uint64
	Interval  uint64
	Periodic  bool
	Offsets   []uint32
}

// internal JSON shapes – keep them unexported so we're free to evolve them.
type scenarioJSON struct {
	Nodes    []nodeJSON    `json:"nodes"`
	Links    []linkJSON    `json:"links"`
	Channels []channelJSON `json:"channels"`
}

type nodeJSON struct {
	ID        uint32       `json:"id"`
	Last      uint32       `json:"last"` // optional; declares ids ID..Last
	Prototype string       `json:"prototype"`
	Vectors   []vectorJSON `json:"vectors"`
}

// vectorJSON binds interrupts from sources First..Last (or Source alone) to
// a handler procedure. Source 0 is the clock.
type vectorJSON struct {
	Source  *uint32 `json:"source"`
	First   uint32  `json:"first"`
	Last    uint32  `json:"last"`
	Handler string  `json:"handler"`
	Address uint32  `json:"address"`
}

type linkJSON struct {
	From   uint32 `json:"from"`
	To     uint32 `json:"to"`
	FromHi uint32 `json:"from_last"`
	ToHi   uint32 `json:"to_last"`
}

type channelJSON struct {
	Node     uint32   `json:"node"`
	Name     string   `json:"name"`
	Format   string   `json:"format"`
	Start    float32  `json:"start"`
	Stop     *float32 `json:"stop"`
	Interval float32  `json:"interval"`
	Periodic *bool    `json:"periodic"` // defaults to true
	Globals  []string `json:"globals"`
}

// LoadScenario reads a JSON scenario from r and registers its nodes and
// topology with e. Prototypes must already be registered. Every vector for
// a packet source also links that source to the node, so a node receives
// exactly the packets it declares a handler for; explicit links add to that.
func LoadScenario(e *Emulator, r io.Reader) (*Scenario, error) {
	if e == nil {
		return nil, errors.New("LoadScenario: emulator is nil")
	}

	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "LoadScenario: decode failed")
	}

	result := &Scenario{}
	links := kb.NewBuilder()
	explicit := false
	unsubscribe := links.Subscribe(func(ev kb.Event) {
		if !explicit {
			result.VectorLinks++
		}
		e.log.Debug(e.ctx, "link added",
			logging.Uint32("source", ev.Source),
			logging.Uint32("dest", ev.Dest),
			logging.Any("explicit", explicit))
	})
	defer unsubscribe()

	// 1) Nodes and their interrupt vectors
	for _, jsN := range payload.Nodes {
		proto, ok := e.prototypes[jsN.Prototype]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownPrototype, "LoadScenario: node %d prototype %q", jsN.ID, jsN.Prototype)
		}
		vectors, sources, err := resolveVectors(proto.Prototype, jsN.Vectors)
		if err != nil {
			return nil, errors.Wrapf(err, "LoadScenario: node %d", jsN.ID)
		}
		last := jsN.Last
		if last < jsN.ID {
			last = jsN.ID
		}
		for id := uint64(jsN.ID); id <= uint64(last); id++ {
			if err := e.AddNode(uint32(id), jsN.Prototype, vectors); err != nil {
				return nil, errors.Wrap(err, "LoadScenario")
			}
			for _, src := range sources {
				if err := links.Link(src, uint32(id)); err != nil {
					return nil, errors.Wrap(err, "LoadScenario")
				}
			}
			result.NodeIDs = append(result.NodeIDs, uint32(id))
		}
	}

	// 2) Explicit links
	explicit = true
	for _, jsL := range payload.Links {
		fromHi, toHi := max(jsL.FromHi, jsL.From), max(jsL.ToHi, jsL.To)
		if jsL.From == 0 || jsL.To == 0 {
			return nil, errors.Errorf("LoadScenario: link %d->%d uses reserved node 0", jsL.From, jsL.To)
		}
		if err := links.LinkRange(jsL.From, fromHi, jsL.To, toHi); err != nil {
			return nil, errors.Wrap(err, "LoadScenario")
		}
	}

	topo := links.Build()
	if err := e.SetTopology(topo); err != nil {
		return nil, errors.Wrap(err, "LoadScenario")
	}
	result.Links = topo.LinkCount()
	result.Sources = topo.Sources()

	// 3) Log channels
	for _, jsC := range payload.Channels {
		spec, err := resolveChannel(e, jsC)
		if err != nil {
			return nil, err
		}
		result.Channels = append(result.Channels, spec)
	}

	return result, nil
}

func resolveVectors(p *model.Prototype, in []vectorJSON) ([]model.InterruptVector, []uint32, error) {
	var (
		vectors []model.InterruptVector
		sources []uint32
	)
	for _, v := range in {
		addr := v.Address
		if v.Handler != "" {
			a, ok := handlerAddress(p, v.Handler)
			if !ok {
				return nil, nil, errors.Errorf("unknown handler %q in prototype %q", v.Handler, p.Name)
			}
			addr = a
		}
		if addr == 0 {
			return nil, nil, errors.Errorf("vector without handler or address")
		}
		first, last := v.First, v.Last
		if v.Source != nil {
			first, last = *v.Source, *v.Source
		}
		if last < first {
			last = first
		}
		for src := uint64(first); src <= uint64(last); src++ {
			vectors = append(vectors, model.InterruptVector{Source: uint32(src), Address: addr})
			if src != 0 {
				sources = append(sources, uint32(src))
			}
		}
	}
	return vectors, sources, nil
}

// handlerAddress resolves a procedure name to its entry address.
func handlerAddress(p *model.Prototype, name string) (uint32, bool) {
	for i := 1; i < len(p.Procedures); i++ {
		proc := p.Procedures[i]
		if proc.Name == name && int(proc.Label) < len(p.Labels) {
			return p.Labels[proc.Label], true
		}
	}
	return 0, false
}

func resolveChannel(e *Emulator, c channelJSON) (ChannelSpec, error) {
	n := e.FindNode(c.Node)
	if n == nil {
		return ChannelSpec{}, errors.Errorf("LoadScenario: channel %q: unknown node %d", c.Name, c.Node)
	}
	if c.Name == "" || c.Format == "" {
		return ChannelSpec{}, errors.Errorf("LoadScenario: channel on node %d needs a name and a format", c.Node)
	}
	spec := ChannelSpec{
		Node:      c.Node,
		Prototype: n.proto.Name,
		Name:      c.Name,
		Format:    c.Format,
		Start:     timectrl.TimeToTicks(c.Start),
		Stop:      ^uint64(0),
		Interval:  timectrl.TimeToTicks(c.Interval),
		Periodic:  true,
	}
	if c.Stop != nil {
		spec.Stop = timectrl.TimeToTicks(*c.Stop)
	}
	if c.Periodic != nil {
		spec.Periodic = *c.Periodic
	}
	for _, g := range c.Globals {
		sym, ok := n.proto.GlobalSymbol(g)
		if !ok {
			return ChannelSpec{}, errors.Errorf("LoadScenario: channel %q: unknown global %q", c.Name, g)
		}
		spec.Offsets = append(spec.Offsets, sym.Offset)
	}
	return spec, nil
}
