// Package patch ties the patch document to the running audio graph. The
// Model mirrors the preparations, connections and modulation connections of
// the document into live objects and keeps the engine, the modulation banks
// and the aux chain in step with every document change.
package patch

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/vsariola/klavier"
	"github.com/vsariola/klavier/doc"
	"github.com/vsariola/klavier/engine"
	"github.com/vsariola/klavier/modulation"
	"github.com/vsariola/klavier/prep"
	"github.com/vsariola/klavier/reconcile"
)

type (
	// Model owns the patch document and everything derived from it. All
	// methods must be called on the UI goroutine; only the engine's Process
	// runs on the audio goroutine.
	Model struct {
		cfg     Config
		reg     *prep.Registry
		root    *doc.Node
		engine  *engine.Engine
		bank    *modulation.Bank
		states  *modulation.StateBank
		aux     *modulation.AuxChain
		history *doc.History
		alerts  Alerts
		rule    ConnectionRule

		preps  *reconcile.List[*Preparation]
		cables *reconcile.List[*Cable]
		mods   *reconcile.List[*ModCable]
		sub    *doc.Subscription

		waiting  []*ModCable // aux connections whose target is not wired yet
		settling bool
	}

	// ConnectionRule decides whether src may modulate dst. state is true for
	// state connections.
	ConnectionRule func(src, dst *Preparation, state bool) bool

	// Preparation is the live object of a PREPARATION node.
	Preparation struct {
		node       *doc.Node
		id         engine.NodeID
		typ        string
		unit       klavier.Node
		modulators *reconcile.List[*Modulator] // modulation preparations only
	}

	// Modulator is the live object of a MODULATOR node inside a modulation
	// preparation.
	Modulator struct {
		node *doc.Node
		mod  modulation.Modulator
	}

	// Cable is the live object of a CONNECTION node.
	Cable struct {
		node  *doc.Node
		conn  engine.Connection
		added bool
	}

	// ModCable is the live object of a MODCONNECTION node. It remembers
	// what was wired for it, since the bank slot is reset before the cable
	// is unwired when a connection is released directly.
	ModCable struct {
		node    *doc.Node
		conn    *modulation.Connection
		state   *modulation.StateConnection
		proc    *modulation.Processor
		index   int
		channel int
		route   engine.Connection
		routed  bool
	}
)

// keyTarget is the uuid of the connection an aux connection drives. Slot
// indices are not stable across loads, so the dest of an aux connection is
// rewritten from it.
const keyTarget = "auxTarget"

var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrPoolFull        = errors.New("all connection slots are in use")
	ErrNotAllowed      = errors.New("connection not allowed")
	ErrNameTaken       = errors.New("name already in use")
)

// AllowAll is the default ConnectionRule.
func AllowAll(src, dst *Preparation, state bool) bool { return true }

// SourceName returns the modulation source name of a modulator.
func SourceName(modulator string) string { return modulator + "_out" }

// DestName returns the modulation destination name of a parameter.
func DestName(prepName, param string) string { return prepName + "_" + param }

// StateDest returns the destination name of state connections into prepName.
func StateDest(prepName string) string { return prepName + "_state" }

// New returns a model with an empty patch. A nil registry means
// prep.DefaultRegistry.
func New(cfg Config, reg *prep.Registry) *Model {
	if reg == nil {
		reg = prep.DefaultRegistry()
	}
	m := &Model{
		cfg:     cfg,
		reg:     reg,
		engine:  engine.New(cfg.SampleRate, cfg.BlockSize, cfg.QueueCapacity),
		bank:    modulation.NewBank(cfg.ModulationSlots),
		states:  modulation.NewStateBank(cfg.StateSlots),
		history: doc.NewHistory(cfg.UndoDepth),
		rule:    AllowAll,
	}
	m.aux = modulation.NewAuxChain(m.bank)
	m.bank.OnRelease = m.released
	m.states.OnRelease = m.released
	m.root = doc.NewNode(doc.TypePatch)
	sections := map[string]*doc.Node{}
	for _, typ := range []string{doc.TypePreparations, doc.TypeConnections, doc.TypeModConnections} {
		sections[typ] = doc.NewNode(typ)
		m.root.AddChild(sections[typ], -1)
	}
	m.preps = reconcile.New(sections[doc.TypePreparations], reconcile.Config[*Preparation]{
		Suitable: m.suitablePreparation,
		Create:   m.createPreparation,
		Destroy:  m.destroyPreparation,
	}, (*prepListener)(m))
	m.cables = reconcile.New(sections[doc.TypeConnections], reconcile.Config[*Cable]{
		Suitable: func(n *doc.Node) bool { return n.Type() == doc.TypeConnection },
		Create:   createCable,
	}, (*cableListener)(m))
	m.mods = reconcile.New(sections[doc.TypeModConnections], reconcile.Config[*ModCable]{
		Suitable: func(n *doc.Node) bool { return n.Type() == doc.TypeModConnection },
		Create:   func(n *doc.Node) (*ModCable, error) { return &ModCable{node: n, channel: -1}, nil },
	}, (*modListener)(m))
	m.sub = m.root.Subscribe(m.propertyChanged)
	return m
}

func (m *Model) Config() Config                   { return m.cfg }
func (m *Model) Engine() *engine.Engine           { return m.engine }
func (m *Model) Bank() *modulation.Bank           { return m.bank }
func (m *Model) StateBank() *modulation.StateBank { return m.states }
func (m *Model) AuxChain() *modulation.AuxChain   { return m.aux }
func (m *Model) Alerts() *Alerts                  { return &m.alerts }
func (m *Model) Document() *doc.Node              { return m.root }
func (m *Model) Preparations() []*Preparation     { return m.preps.Objects() }
func (m *Model) Cables() []*Cable                 { return m.cables.Objects() }
func (m *Model) ModCables() []*ModCable           { return m.mods.Objects() }
func (m *Model) Registry() *prep.Registry         { return m.reg }

func (m *Model) SetConnectionRule(r ConnectionRule) {
	if r == nil {
		r = AllowAll
	}
	m.rule = r
}

func (m *Model) PreparationByID(id engine.NodeID) (*Preparation, bool) {
	for _, p := range m.preps.Objects() {
		if p.id == id {
			return p, true
		}
	}
	return nil, false
}

func (m *Model) PreparationByName(name string) (*Preparation, bool) {
	for _, p := range m.preps.Objects() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Update merges the alerts raised by the engine, moves actions that did not
// fit the engine queue and ages the alerts by d. Returns true while alerts
// remain visible.
func (m *Model) Update(d time.Duration) bool {
	m.engine.Flush()
loop:
	for {
		select {
		case a := <-m.engine.Alerts():
			m.alerts.AddAlert(a)
		default:
			break loop
		}
	}
	return m.alerts.Update(d)
}

// Load replaces the patch with the one read from r. Loading can be undone.
func (m *Model) Load(r io.Reader) error {
	root, err := doc.Read(r)
	if err != nil {
		return fmt.Errorf("could not load patch: %w", err)
	}
	if root.Type() != doc.TypePatch {
		return fmt.Errorf("could not load patch: root is a %s node", root.Type())
	}
	m.history.Save(m.root)
	m.apply(root)
	if s := m.preps.Parent(); s.NumChildren() != m.preps.Len() {
		m.alerts.AddNamed("UnknownPreparations", fmt.Sprintf("%d preparations of unknown type were not loaded", s.NumChildren()-m.preps.Len()), klavier.Warning)
	}
	return nil
}

func (m *Model) Save(w io.Writer) error {
	if err := doc.Write(w, m.root); err != nil {
		return fmt.Errorf("could not save patch: %w", err)
	}
	return nil
}

// apply redirects the sections of the live document to the sections of
// root. Connections are emptied first and filled last, so that they always
// refer to live preparations.
func (m *Model) apply(root *doc.Node) {
	section := func(typ string) *doc.Node {
		if s := root.ChildOfType(typ); s != nil {
			return s
		}
		return doc.NewNode(typ)
	}
	preps, cables, mods := section(doc.TypePreparations), section(doc.TypeConnections), section(doc.TypeModConnections)
	m.mods.Parent().Redirect(doc.NewNode(doc.TypeModConnections))
	m.cables.Parent().Redirect(doc.NewNode(doc.TypeConnections))
	m.preps.Parent().Redirect(preps)
	m.cables.Parent().Redirect(cables)
	m.mods.Parent().Redirect(mods)
}

func (m *Model) nameTaken(name string) bool {
	for _, p := range m.preps.Parent().Children() {
		if p.GetString(doc.KeyName, "") == name {
			return true
		}
		for _, c := range p.Children() {
			if c.Type() == doc.TypeModulator && c.GetString(doc.KeyName, "") == name {
				return true
			}
		}
	}
	return false
}

func (m *Model) uniqueName(prefix string) string {
	for i := 1; ; i++ {
		if name := prefix + strconv.Itoa(i); !m.nameTaken(name) {
			return name
		}
	}
}

// released removes the document node of a connection whose slot was
// released.
func (m *Model) released(_ int, uuid string) {
	if uuid == "" {
		return
	}
	if n := m.mods.Parent().ChildWithProperty(doc.KeyUUID, uuid); n != nil {
		n.Detach()
	}
}

func (m *Model) propertyChanged(e doc.Event) {
	pc, ok := e.(doc.PropertyChanged)
	if !ok {
		return
	}
	n := pc.Node
	switch n.Type() {
	case doc.TypePreparation:
		if p, ok := m.preps.Find(n); ok {
			setParam(p.unit, n, pc.Key)
		}
	case doc.TypeModulator:
		if p, ok := m.preps.Find(n.Parent()); ok && p.modulators != nil {
			if mod, ok := p.modulators.Find(n); ok {
				setParam(mod.mod, n, pc.Key)
				if proc, ok := p.Processor(); ok {
					proc.UpdateState(mod.Name())
				}
			}
		}
	case doc.TypeModConnection:
		mc, ok := m.mods.Find(n)
		if !ok {
			return
		}
		switch pc.Key {
		case doc.KeyModAmount:
			if mc.conn != nil {
				m.aux.SetRaw(mc.index, float32(n.GetFloat(doc.KeyModAmount, 1)))
			}
		case doc.KeyBipolar:
			if mc.conn != nil {
				mc.conn.SetBipolar(n.GetBool(doc.KeyBipolar, modulation.DefaultBipolar(mc.conn.Source())))
			}
		case doc.KeyStereo:
			if mc.conn != nil {
				mc.conn.SetStereo(n.GetBool(doc.KeyStereo, false))
			}
		case doc.KeyBypassed:
			bypassed := n.GetBool(doc.KeyBypassed, false)
			if mc.conn != nil {
				mc.conn.SetBypassed(bypassed)
			}
			if mc.state != nil {
				mc.state.SetBypassed(bypassed)
			}
		}
	}
}

func setParam(target any, n *doc.Node, key string) {
	s, ok := target.(prep.ParamSetter)
	if !ok || !n.Has(key) {
		return
	}
	s.SetParam(key, float32(n.GetFloat(key, 0)))
}

func (p *Preparation) DocNode() *doc.Node { return p.node }
func (p *Preparation) ID() engine.NodeID  { return p.id }
func (p *Preparation) Type() string       { return p.typ }
func (p *Preparation) Name() string       { return p.node.GetString(doc.KeyName, "") }
func (p *Preparation) Node() klavier.Node { return p.unit }

// Processor returns the modulation processor of a modulation preparation.
func (p *Preparation) Processor() (*modulation.Processor, bool) {
	proc, ok := p.unit.(*modulation.Processor)
	return proc, ok
}

// Modulators returns the names of the modulators inside a modulation
// preparation, in document order.
func (p *Preparation) Modulators() []string {
	if p.modulators == nil {
		return nil
	}
	ret := make([]string, 0, p.modulators.Len())
	for _, mod := range p.modulators.Objects() {
		ret = append(ret, mod.Name())
	}
	return ret
}

func (m *Modulator) DocNode() *doc.Node              { return m.node }
func (m *Modulator) Name() string                    { return m.node.GetString(doc.KeyName, "") }
func (m *Modulator) Type() string                    { return m.node.GetString(doc.KeyType, "") }
func (m *Modulator) Modulator() modulation.Modulator { return m.mod }

func (c *Cable) DocNode() *doc.Node            { return c.node }
func (c *Cable) Connection() engine.Connection { return c.conn }

func (c *ModCable) DocNode() *doc.Node                           { return c.node }
func (c *ModCable) Source() string                               { return c.node.GetString(doc.KeySource, "") }
func (c *ModCable) Destination() string                          { return c.node.GetString(doc.KeyDest, "") }
func (c *ModCable) IsState() bool                                { return c.node.GetBool(doc.KeyIsState, false) }
func (c *ModCable) Connection() *modulation.Connection           { return c.conn }
func (c *ModCable) StateConnection() *modulation.StateConnection { return c.state }

func (c *ModCable) touches(id engine.NodeID) bool {
	return c.node.GetInt(doc.KeySourceNode, 0) == int(id) || c.node.GetInt(doc.KeyDestNode, 0) == int(id)
}

func (m *Model) findModCable(uuid string) (*ModCable, bool) {
	if uuid == "" {
		return nil, false
	}
	for _, mc := range m.mods.Objects() {
		if mc.node.UUID() == uuid {
			return mc, true
		}
	}
	return nil, false
}
