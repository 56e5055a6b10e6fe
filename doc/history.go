package doc

// History keeps undo and redo stacks of document snapshots. It never touches a
// live document: callers take the snapshot returned by Undo or Redo and apply
// it themselves, e.g. with Redirect.
type History struct {
	undo, redo []*Node
	depth      int
}

const defaultHistoryDepth = 64

func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = defaultHistoryDepth
	}
	return &History{depth: depth}
}

// Save pushes a copy of the current document to the undo stack and clears the
// redo stack.
func (h *History) Save(current *Node) {
	h.undo = push(h.undo, current.Copy(), h.depth)
	h.redo = h.redo[:0]
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Undo returns the previous snapshot, saving a copy of current for Redo.
func (h *History) Undo(current *Node) (*Node, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	h.redo = push(h.redo, current.Copy(), h.depth)
	ret := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	return ret, true
}

// Redo returns the next snapshot, saving a copy of current for Undo.
func (h *History) Redo(current *Node) (*Node, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	h.undo = push(h.undo, current.Copy(), h.depth)
	ret := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	return ret, true
}

func push(stack []*Node, n *Node, depth int) []*Node {
	stack = append(stack, n)
	if len(stack) > depth {
		copy(stack, stack[len(stack)-depth:])
		stack = stack[:depth]
	}
	return stack
}
