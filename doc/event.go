package doc

type (
	// Event is a change notification raised by a node. Events are delivered
	// first to the subscribers of the node that raised them and then to the
	// subscribers of each of its ancestors, so subscribing to a node observes
	// changes anywhere in its subtree.
	Event interface {
		// Origin is the node that raised the event.
		Origin() *Node
	}

	// ChildAdded is raised by Parent after Child was inserted at Index.
	ChildAdded struct {
		Parent, Child *Node
		Index         int
	}

	// ChildRemoved is raised by Parent after Child was removed from Index.
	ChildRemoved struct {
		Parent, Child *Node
		Index         int
	}

	// OrderChanged is raised by Parent after a child moved from From to To.
	OrderChanged struct {
		Parent   *Node
		From, To int
	}

	// PropertyChanged is raised after property Key of Node was set or unset.
	PropertyChanged struct {
		Node *Node
		Key  string
	}

	// Redirected is raised after the whole contents of Node were swapped, e.g.
	// when a patch is loaded.
	Redirected struct {
		Node *Node
	}

	// Subscription is a token returned by Subscribe. Closing it unsubscribes;
	// closing an already closed subscription does nothing.
	Subscription struct {
		node *Node
		fn   func(Event)
	}
)

func (e ChildAdded) Origin() *Node      { return e.Parent }
func (e ChildRemoved) Origin() *Node    { return e.Parent }
func (e OrderChanged) Origin() *Node    { return e.Parent }
func (e PropertyChanged) Origin() *Node { return e.Node }
func (e Redirected) Origin() *Node      { return e.Node }

// Subscribe registers fn to be called for every event raised by n or any node
// in its subtree.
func (n *Node) Subscribe(fn func(Event)) *Subscription {
	s := &Subscription{node: n, fn: fn}
	n.subs = append(n.subs, s)
	return s
}

func (s *Subscription) Close() {
	if s == nil || s.node == nil {
		return
	}
	n := s.node
	for i, o := range n.subs {
		if o == s {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			break
		}
	}
	s.node = nil
}

func (n *Node) emit(e Event) {
	for p := n; p != nil; p = p.parent {
		if len(p.subs) == 0 {
			continue
		}
		// subscribers may unsubscribe (or subscribe) while handling the event
		subs := append([]*Subscription(nil), p.subs...)
		for _, s := range subs {
			if s.node != nil {
				s.fn(e)
			}
		}
	}
}
