package patch

import (
	"fmt"
	"strings"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/doc"
	"github.com/vsariola/klavier/engine"
	"github.com/vsariola/klavier/modulation"
	"github.com/vsariola/klavier/prep"
	"github.com/vsariola/klavier/reconcile"
	"golang.org/x/exp/slices"
)

type (
	prepListener  Model
	cableListener Model
	modListener   Model

	modulatorListener struct {
		m *Model
		p *Preparation
	}
)

func (m *Model) suitablePreparation(n *doc.Node) bool {
	return n.Type() == doc.TypePreparation && m.reg.Has(n.GetString(doc.KeyType, ""))
}

// createPreparation builds the unit of n and adds it to the engine under the
// node id stored in the document, if it is free.
func (m *Model) createPreparation(n *doc.Node) (*Preparation, error) {
	unit, err := m.reg.New(n)
	if err != nil {
		return nil, err
	}
	p := &Preparation{node: n, typ: n.GetString(doc.KeyType, ""), unit: unit}
	stored := n.GetInt(doc.KeyNodeID, 0)
	p.id = m.engine.AddNode(unit, engine.NodeID(stored))
	if stored != int(p.id) {
		n.Set(doc.KeyNodeID, int(p.id))
	}
	if proc, ok := unit.(*modulation.Processor); ok {
		proc.Bind(m.engine, p.id)
		proc.SetAuxChain(m.aux)
		p.modulators = reconcile.New(n, reconcile.Config[*Modulator]{
			Suitable: func(c *doc.Node) bool {
				return c.Type() == doc.TypeModulator && c.GetString(doc.KeyName, "") != "" && m.reg.HasModulator(c.GetString(doc.KeyType, ""))
			},
			Create: func(c *doc.Node) (*Modulator, error) {
				mod, err := m.reg.NewModulator(c)
				if err != nil {
					return nil, err
				}
				return &Modulator{node: c, mod: mod}, nil
			},
		}, &modulatorListener{m: m, p: p})
	}
	switch p.typ {
	case prep.TypeMIDIIn:
		m.engine.SetInput(p.id)
	case prep.TypeOutput:
		m.engine.SetOutput(p.id)
	}
	return p, nil
}

// destroyPreparation removes the unit from the engine. The audio goroutine
// keeps it until the queued plan swap runs.
func (m *Model) destroyPreparation(p *Preparation) {
	if p.modulators != nil {
		p.modulators.Close()
	}
	m.engine.RemoveNode(p.id)
}

func (l *prepListener) ObjectAdded(*Preparation, int) {}
func (l *prepListener) OrderChanged()                 {}

// ObjectRemoved removes every connection touching p from the document.
func (l *prepListener) ObjectRemoved(p *Preparation, _ int) {
	m := (*Model)(l)
	for _, mc := range slices.Clone(m.mods.Objects()) {
		if mc.touches(p.id) {
			mc.node.Detach()
		}
	}
	for _, c := range slices.Clone(m.cables.Objects()) {
		if c.conn.Source.Node == p.id || c.conn.Destination.Node == p.id {
			c.node.Detach()
		}
	}
}

func (l *modulatorListener) ObjectAdded(mod *Modulator, _ int) {
	proc, _ := l.p.Processor()
	if err := proc.AddModulator(mod.Name(), mod.mod); err != nil {
		l.m.alerts.Add(fmt.Sprintf("Can't add modulator: %v", err), klavier.Warning)
		mod.node.Detach()
	}
}

func (l *modulatorListener) ObjectRemoved(mod *Modulator, _ int) {
	source := SourceName(mod.Name())
	for _, mc := range slices.Clone(l.m.mods.Objects()) {
		if mc.Source() == source && mc.node.GetInt(doc.KeySourceNode, 0) == int(l.p.id) {
			mc.node.Detach()
		}
	}
	proc, _ := l.p.Processor()
	proc.RemoveModulator(mod.Name())
}

func (l *modulatorListener) OrderChanged() {}

func createCable(n *doc.Node) (*Cable, error) {
	return &Cable{node: n, conn: engine.Connection{
		Source:      engine.NodeAndChannel{Node: engine.NodeID(n.GetInt(doc.KeySourceNode, 0)), Channel: n.GetInt(doc.KeySourceCh, 0)},
		Destination: engine.NodeAndChannel{Node: engine.NodeID(n.GetInt(doc.KeyDestNode, 0)), Channel: n.GetInt(doc.KeyDestCh, 0)},
	}}, nil
}

func (l *cableListener) ObjectAdded(c *Cable, _ int) {
	m := (*Model)(l)
	if !m.engine.AddConnection(c.conn) {
		m.alerts.Add(fmt.Sprintf("Can't connect %v", c.conn), klavier.Warning)
		c.node.Detach()
		return
	}
	c.added = true
}

func (l *cableListener) ObjectRemoved(c *Cable, _ int) {
	if c.added {
		(*Model)(l).engine.RemoveConnection(c.conn)
		c.added = false
	}
}

func (l *cableListener) OrderChanged() {}

// ObjectAdded wires mc. An aux connection whose target is further down in
// the document waits until the target is wired.
func (l *modListener) ObjectAdded(mc *ModCable, _ int) {
	m := (*Model)(l)
	if m.waitsForTarget(mc) {
		m.waiting = append(m.waiting, mc)
		return
	}
	m.connect(mc)
	m.settleWaiting()
}

func (l *modListener) ObjectRemoved(mc *ModCable, _ int) {
	m := (*Model)(l)
	m.unwire(mc)
	m.waiting = slices.DeleteFunc(m.waiting, func(x *ModCable) bool { return x == mc })
	m.settleWaiting()
}

func (m *Model) connect(mc *ModCable) {
	if err := m.wire(mc); err != nil {
		m.alerts.Add(fmt.Sprintf("Can't connect %s to %s: %v", mc.Source(), mc.Destination(), err), klavier.Warning)
		mc.node.Detach()
	}
}

// waitsForTarget reports whether mc drives a connection that is in the
// document but not wired yet.
func (m *Model) waitsForTarget(mc *ModCable) bool {
	target := mc.node.GetString(keyTarget, "")
	if target == "" || mc.IsState() || m.bank.FindUUID(target) != nil {
		return false
	}
	if _, ok := modulation.ParseAmountParam(mc.Destination()); !ok {
		return false
	}
	n := m.mods.Parent().ChildWithProperty(doc.KeyUUID, target)
	return n != nil && n != mc.node && !n.GetBool(doc.KeyIsState, false)
}

// settleWaiting wires the waiting aux connections whose targets got wired,
// and rejects those whose targets left the document. Wiring one can unblock
// another further up a chain, so it repeats until nothing changes.
func (m *Model) settleWaiting() {
	if m.settling {
		return
	}
	m.settling = true
	defer func() { m.settling = false }()
	for progress := true; progress; {
		progress = false
		for _, mc := range slices.Clone(m.waiting) {
			if !slices.Contains(m.waiting, mc) || m.waitsForTarget(mc) {
				continue
			}
			m.waiting = slices.DeleteFunc(m.waiting, func(x *ModCable) bool { return x == mc })
			m.connect(mc)
			progress = true
		}
	}
}

func (l *modListener) OrderChanged() {}

// wire resolves the endpoints of a modulation connection node, takes a bank
// slot for it and connects it in the processor and the engine. Whatever was
// wired before an error is recorded in mc and undone by unwire.
func (m *Model) wire(mc *ModCable) error {
	n := mc.node
	src, ok := m.PreparationByID(engine.NodeID(n.GetInt(doc.KeySourceNode, 0)))
	if !ok {
		return fmt.Errorf("%w: no source preparation %d", ErrUnknownEndpoint, n.GetInt(doc.KeySourceNode, 0))
	}
	proc, ok := src.Processor()
	if !ok {
		return fmt.Errorf("%w: %s is not a modulation preparation", ErrTypeMismatch, src.Name())
	}
	dst, ok := m.PreparationByID(engine.NodeID(n.GetInt(doc.KeyDestNode, 0)))
	if !ok {
		return fmt.Errorf("%w: no destination preparation %d", ErrUnknownEndpoint, n.GetInt(doc.KeyDestNode, 0))
	}
	modulator, ok := strings.CutSuffix(mc.Source(), SourceName(""))
	mod, found := proc.Modulator(modulator)
	if !ok || !found {
		return fmt.Errorf("%w: no modulator %q in %s", ErrUnknownEndpoint, mc.Source(), src.Name())
	}
	state := mc.IsState()
	if !m.rule(src, dst, state) {
		return fmt.Errorf("%w: %s to %s", ErrNotAllowed, src.Type(), dst.Type())
	}
	switch _, ok := mod.(modulation.StateSource); {
	case ok && !state:
		return fmt.Errorf("%w: %s feeds only state connections", ErrTypeMismatch, modulator)
	case !ok && state:
		return fmt.Errorf("%w: %s does not produce state", ErrTypeMismatch, modulator)
	}
	mc.proc = proc
	if state {
		return m.wireState(mc, modulator, dst)
	}
	return m.wireModulation(mc, modulator, src, dst)
}

func (m *Model) wireState(mc *ModCable, modulator string, dst *Preparation) error {
	recv, ok := dst.unit.(klavier.StateReceiver)
	if !ok {
		return fmt.Errorf("%w: %s does not receive state", ErrTypeMismatch, dst.Name())
	}
	c := m.states.Create(mc.Source(), mc.Destination())
	if c == nil {
		return ErrPoolFull
	}
	mc.state = c
	c.SetUUID(mc.node.UUID())
	c.SetBypassed(mc.node.GetBool(doc.KeyBypassed, false))
	m.states.SetPush(c, recv.ReceiveState)
	return mc.proc.AttachState(c, modulator)
}

func (m *Model) wireModulation(mc *ModCable, modulator string, src, dst *Preparation) error {
	n := mc.node
	dest := mc.Destination()
	target, isAux := modulation.ParseAmountParam(dest)
	param := -1
	if isAux {
		if dst != src {
			return fmt.Errorf("%w: an aux connection must stay inside %s", ErrTypeMismatch, src.Name())
		}
		if id := n.GetString(keyTarget, ""); id != "" {
			t := m.bank.FindUUID(id)
			if t == nil {
				return fmt.Errorf("%w: aux target %s is not connected", ErrUnknownEndpoint, id)
			}
			if t.Index() != target {
				target, dest = t.Index(), modulation.AmountParam(t.Index())
				n.Set(doc.KeyDest, dest)
			}
		}
	} else {
		mod, ok := dst.unit.(klavier.Modulatable)
		if !ok {
			return fmt.Errorf("%w: %s has no modulatable parameters", ErrTypeMismatch, dst.Name())
		}
		name, ok := strings.CutPrefix(dest, dst.Name()+"_")
		if ok {
			param, ok = mod.ParamIndex(name)
		}
		if !ok {
			return fmt.Errorf("%w: no parameter %q", ErrUnknownEndpoint, dest)
		}
	}
	c := m.bank.Create(mc.Source(), dest)
	if c == nil {
		return ErrPoolFull
	}
	mc.conn, mc.index = c, c.Index()
	c.SetUUID(n.UUID())
	c.SetBipolar(n.GetBool(doc.KeyBipolar, c.Bipolar()))
	c.SetStereo(n.GetBool(doc.KeyStereo, false))
	c.SetBypassed(n.GetBool(doc.KeyBypassed, false))
	if isAux && !m.aux.Add(c.Index(), target) {
		return fmt.Errorf("slot %d cannot drive slot %d", c.Index(), target)
	}
	m.aux.SetRaw(c.Index(), float32(n.GetFloat(doc.KeyModAmount, 1)))
	if err := mc.proc.Attach(c, modulator); err != nil {
		return err
	}
	if isAux {
		return nil
	}
	mc.channel = c.Channel()
	if !m.engine.GrowBus(dst.id, true, klavier.ModulationBus, param+1) {
		return fmt.Errorf("%s has no modulation input", dst.Name())
	}
	off, _ := m.engine.ChannelOffset(dst.id, true, klavier.ModulationBus)
	route := engine.Connection{
		Source:      engine.NodeAndChannel{Node: src.id, Channel: mc.proc.OutputChannel(c.Channel())},
		Destination: engine.NodeAndChannel{Node: dst.id, Channel: off + param},
	}
	if !m.engine.IsConnected(route) && !m.engine.AddConnection(route) {
		return fmt.Errorf("route %v would create a cycle", route)
	}
	mc.route, mc.routed = route, true
	c.SetRoute(route)
	return nil
}

// unwire undoes wire. Releasing a connection also releases the aux
// connection driving it, which removes that one from the document in turn.
func (m *Model) unwire(mc *ModCable) {
	if c := mc.state; c != nil {
		mc.state = nil
		mc.proc.DetachState(c)
		m.states.Release(c)
	}
	c := mc.conn
	if c == nil {
		return
	}
	mc.conn = nil
	mc.proc.Detach(c)
	if mc.routed && !mc.proc.ChannelInUse(mc.channel) {
		m.engine.RemoveConnection(mc.route)
	}
	mc.routed = false
	driver, driven := m.aux.Source(mc.index)
	m.aux.Remove(mc.index)
	m.bank.Release(c)
	if driven {
		m.bank.Release(m.bank.At(driver))
	}
}
