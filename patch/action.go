package patch

type (
	// Action describes a user action that can be performed on the model by
	// calling Do. Action advertises whether it is enabled, so that a UI can
	// e.g. gray out buttons. If the underlying Doer implements Enabler, it
	// decides; otherwise the action is always allowed.
	Action struct {
		doer Doer
	}

	Doer interface {
		Do()
	}

	Enabler interface {
		Enabled() bool
	}
)

func MakeAction(doer Doer) Action {
	return Action{doer: doer}
}

func (a Action) Do() {
	if e, ok := a.doer.(Enabler); ok && !e.Enabled() {
		return
	}
	if a.doer != nil {
		a.doer.Do()
	}
}

func (a Action) Enabled() bool {
	if a.doer == nil {
		return false
	}
	e, ok := a.doer.(Enabler)
	if !ok {
		return true
	}
	return e.Enabled()
}

// undo
type undo Model

func (m *Model) Undo() Action { return MakeAction((*undo)(m)) }
func (m *undo) Enabled() bool { return m.history.CanUndo() }
func (m *undo) Do() {
	if prev, ok := m.history.Undo(m.root); ok {
		(*Model)(m).apply(prev)
	}
}

// redo
type redo Model

func (m *Model) Redo() Action { return MakeAction((*redo)(m)) }
func (m *redo) Enabled() bool { return m.history.CanRedo() }
func (m *redo) Do() {
	if next, ok := m.history.Redo(m.root); ok {
		(*Model)(m).apply(next)
	}
}

// removePreparation
type removePreparation struct {
	m *Model
	p *Preparation
}

// RemovePreparationAction returns an action removing p and everything
// connected to it.
func (m *Model) RemovePreparationAction(p *Preparation) Action {
	return MakeAction(removePreparation{m: m, p: p})
}
func (r removePreparation) Enabled() bool { return r.p != nil && r.p.node.Parent() != nil }
func (r removePreparation) Do()           { r.m.RemovePreparation(r.p.id) }
