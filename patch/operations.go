package patch

import (
	"fmt"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/doc"
	"github.com/vsariola/klavier/engine"
	"github.com/vsariola/klavier/modulation"
	"github.com/vsariola/klavier/prep"
)

// AddPreparation adds a preparation of the given type. An empty name is
// replaced by the type followed by the first free number.
func (m *Model) AddPreparation(typ, name string) (*Preparation, error) {
	if !m.reg.Has(typ) {
		return nil, fmt.Errorf("preparation %q: %w", typ, prep.ErrUnknownType)
	}
	if name == "" {
		name = m.uniqueName(typ)
	} else if m.nameTaken(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrNameTaken)
	}
	m.history.Save(m.root)
	n := doc.NewNode(doc.TypePreparation, doc.KeyType, typ, doc.KeyName, name)
	m.preps.Parent().AddChild(n, -1)
	p, ok := m.preps.Find(n)
	if !ok {
		return nil, fmt.Errorf("preparation %q was rejected", name)
	}
	return p, nil
}

// RemovePreparation removes the preparation with the given id, together
// with every connection touching it.
func (m *Model) RemovePreparation(id engine.NodeID) bool {
	p, ok := m.PreparationByID(id)
	if !ok {
		return false
	}
	m.history.Save(m.root)
	p.node.Detach()
	return true
}

// AddModulator adds a modulator to a modulation preparation and returns its
// name, which is unique within the patch.
func (m *Model) AddModulator(p *Preparation, typ, name string) (string, error) {
	if _, ok := p.Processor(); !ok {
		return "", fmt.Errorf("%w: %s is not a modulation preparation", ErrTypeMismatch, p.Name())
	}
	if !m.reg.HasModulator(typ) {
		return "", fmt.Errorf("modulator %q: %w", typ, prep.ErrUnknownType)
	}
	if name == "" {
		name = m.uniqueName(typ)
	} else if m.nameTaken(name) {
		return "", fmt.Errorf("%q: %w", name, ErrNameTaken)
	}
	m.history.Save(m.root)
	n := doc.NewNode(doc.TypeModulator, doc.KeyType, typ, doc.KeyName, name)
	p.node.AddChild(n, -1)
	if n.Parent() == nil {
		return "", fmt.Errorf("modulator %q was rejected", name)
	}
	return name, nil
}

// RemoveModulator removes a modulator and every connection it feeds.
func (m *Model) RemoveModulator(p *Preparation, name string) bool {
	for _, c := range p.node.Children() {
		if c.Type() == doc.TypeModulator && c.GetString(doc.KeyName, "") == name {
			m.history.Save(m.root)
			c.Detach()
			return true
		}
	}
	return false
}

// SetParam sets a parameter of a preparation. The running unit follows the
// document.
func (m *Model) SetParam(p *Preparation, name string, value float32) {
	m.history.Save(m.root)
	p.node.Set(name, float64(value))
}

// Connect connects an output channel of src to an input channel of dst.
// Returns nil, and raises an alert, if the graph rejects the connection.
func (m *Model) Connect(src *Preparation, srcCh int, dst *Preparation, dstCh int) *Cable {
	m.history.Save(m.root)
	n := doc.NewNode(doc.TypeConnection,
		doc.KeySourceNode, int(src.id), doc.KeySourceCh, srcCh,
		doc.KeyDestNode, int(dst.id), doc.KeyDestCh, dstCh)
	m.cables.Parent().AddChild(n, -1)
	c, ok := m.cables.Find(n)
	if !ok {
		return nil
	}
	return c
}

// ConnectMIDI routes the MIDI events of src to dst.
func (m *Model) ConnectMIDI(src, dst *Preparation) *Cable {
	return m.Connect(src, engine.MIDIChannel, dst, engine.MIDIChannel)
}

func (m *Model) Disconnect(c *Cable) {
	if c == nil || c.node.Parent() == nil {
		return
	}
	m.history.Save(m.root)
	c.node.Detach()
}

// ConnectModulation connects a modulator of the modulation preparation src
// to the parameter param of dst. Returns nil, and raises an alert, if the
// bank is full or the connection is invalid.
func (m *Model) ConnectModulation(src *Preparation, modulator string, dst *Preparation, param string) *modulation.Connection {
	source, dest := SourceName(modulator), DestName(dst.Name(), param)
	if !m.bank.Available() {
		m.poolFull(source, dest, m.bank.Cap())
		return nil
	}
	mc := m.addModCable(doc.NewNode(doc.TypeModConnection,
		doc.KeySource, source, doc.KeyDest, dest,
		doc.KeySourceNode, int(src.id), doc.KeyDestNode, int(dst.id),
		doc.KeyModAmount, 1.0, doc.KeyIsMod, true))
	if mc == nil {
		return nil
	}
	return mc.conn
}

// ConnectState connects a state source modulator of src to dst, which must
// receive state.
func (m *Model) ConnectState(src *Preparation, modulator string, dst *Preparation) *modulation.StateConnection {
	source, dest := SourceName(modulator), StateDest(dst.Name())
	if !m.states.Available() {
		m.poolFull(source, dest, m.states.Cap())
		return nil
	}
	mc := m.addModCable(doc.NewNode(doc.TypeModConnection,
		doc.KeySource, source, doc.KeyDest, dest,
		doc.KeySourceNode, int(src.id), doc.KeyDestNode, int(dst.id),
		doc.KeyIsState, true))
	if mc == nil {
		return nil
	}
	return mc.state
}

// ConnectAux connects a modulator of src to the amount of the connection
// to, which must be fed by the same preparation.
func (m *Model) ConnectAux(src *Preparation, modulator string, to *modulation.Connection) *modulation.Connection {
	if to == nil || to.IsFree() {
		return nil
	}
	source, dest := SourceName(modulator), modulation.AmountParam(to.Index())
	if !m.bank.Available() {
		m.poolFull(source, dest, m.bank.Cap())
		return nil
	}
	mc := m.addModCable(doc.NewNode(doc.TypeModConnection,
		doc.KeySource, source, doc.KeyDest, dest,
		doc.KeySourceNode, int(src.id), doc.KeyDestNode, int(src.id),
		doc.KeyModAmount, 1.0, doc.KeyIsMod, true, keyTarget, to.UUID()))
	if mc == nil {
		return nil
	}
	return mc.conn
}

// DisconnectModulation removes c and frees its slot. Removing a connection
// that is driven by an aux connection removes the aux connection too.
func (m *Model) DisconnectModulation(c *modulation.Connection) {
	if c == nil || c.IsFree() {
		return
	}
	m.history.Save(m.root)
	if mc, ok := m.findModCable(c.UUID()); ok {
		mc.node.Detach()
		return
	}
	m.bank.Release(c)
}

// DisconnectAux removes the aux connection from, restoring the amount range
// of the connection it drove.
func (m *Model) DisconnectAux(from *modulation.Connection) { m.DisconnectModulation(from) }

func (m *Model) DisconnectState(c *modulation.StateConnection) {
	if c == nil || c.IsFree() {
		return
	}
	m.history.Save(m.root)
	if mc, ok := m.findModCable(c.UUID()); ok {
		mc.node.Detach()
		return
	}
	m.states.Release(c)
}

// SetModAmount sets the raw amount of c.
func (m *Model) SetModAmount(c *modulation.Connection, v float32) bool {
	return m.setModProperty(c, doc.KeyModAmount, float64(v))
}

func (m *Model) SetModBipolar(c *modulation.Connection, v bool) bool {
	return m.setModProperty(c, doc.KeyBipolar, v)
}

func (m *Model) SetModBypassed(c *modulation.Connection, v bool) bool {
	return m.setModProperty(c, doc.KeyBypassed, v)
}

func (m *Model) setModProperty(c *modulation.Connection, key string, v any) bool {
	if c == nil || c.IsFree() {
		return false
	}
	mc, ok := m.findModCable(c.UUID())
	if !ok {
		return false
	}
	m.history.Save(m.root)
	mc.node.Set(key, v)
	return true
}

func (m *Model) addModCable(n *doc.Node) *ModCable {
	m.history.Save(m.root)
	m.mods.Parent().AddChild(n, -1)
	mc, ok := m.mods.Find(n)
	if !ok {
		return nil
	}
	return mc
}

func (m *Model) poolFull(source, dest string, slots int) {
	m.alerts.AddNamed("PoolFull", fmt.Sprintf("Can't connect %s to %s: all %d slots are in use", source, dest, slots), klavier.Warning)
}
