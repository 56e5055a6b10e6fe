// Package doc implements the declarative patch document: a tree of typed nodes
// with string keyed properties. The document is owned by the UI goroutine; all
// mutation and all event delivery happens there, synchronously.
package doc

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Node types used by the patch document.
const (
	TypePatch          = "PATCH"
	TypePreparations   = "PREPARATIONS"
	TypePreparation    = "PREPARATION"
	TypePort           = "PORT"
	TypeConnections    = "CONNECTIONS"
	TypeConnection     = "CONNECTION"
	TypeModConnections = "MODCONNECTIONS"
	TypeModConnection  = "MODCONNECTION"
	TypeModulator      = "MODULATOR"
)

// Property keys. These names are part of the persisted format.
const (
	KeyUUID       = "uuid"
	KeyNodeID     = "nodeID"
	KeyType       = "type"
	KeyName       = "name"
	KeyChannel    = "chIdx"
	KeyIsInput    = "isIn"
	KeyModAmount  = "modAmt"
	KeyBipolar    = "isBipolar"
	KeyStereo     = "isStereo"
	KeyBypassed   = "isBypassed"
	KeyIsState    = "isState"
	KeyIsMod      = "isMod"
	KeySource     = "src"
	KeyDest       = "dest"
	KeySourceNode = "srcNode"
	KeyDestNode   = "destNode"
	KeySourceCh   = "srcCh"
	KeyDestCh     = "destCh"
)

var (
	ErrNotChild  = errors.New("node is not a child of this node")
	ErrHasParent = errors.New("node already has a parent")
	ErrAncestor  = errors.New("node cannot be added under itself")
)

// Node is a typed, ordered container of child nodes and properties.
type Node struct {
	typ      string
	props    map[string]any
	children []*Node
	parent   *Node
	subs     []*Subscription
}

// NewNode returns a detached node of the given type, with properties set from
// alternating key, value pairs.
func NewNode(typ string, keyValues ...any) *Node {
	n := &Node{typ: typ, props: map[string]any{}}
	for i := 0; i+1 < len(keyValues); i += 2 {
		if k, ok := keyValues[i].(string); ok {
			n.props[k] = normalize(keyValues[i+1])
		}
	}
	return n
}

func (n *Node) Type() string     { return n.typ }
func (n *Node) Parent() *Node    { return n.parent }
func (n *Node) NumChildren() int { return len(n.children) }

// Child returns the i-th child, or nil if out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// Children returns the children of the node. The returned slice must not be
// modified.
func (n *Node) Children() []*Node { return n.children }

// IndexOf returns the index of child c, or -1.
func (n *Node) IndexOf(c *Node) int {
	for i, ch := range n.children {
		if ch == c {
			return i
		}
	}
	return -1
}

// Root returns the topmost ancestor of the node.
func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// AddChild inserts c at index; index -1 (or any index out of range) appends.
// Connection nodes in the added subtree that lack a uuid are given one before
// ChildAdded is raised.
func (n *Node) AddChild(c *Node, index int) error {
	if c.parent != nil {
		return ErrHasParent
	}
	for p := n; p != nil; p = p.parent {
		if p == c {
			return ErrAncestor
		}
	}
	if index < 0 || index > len(n.children) {
		index = len(n.children)
	}
	AssignUUIDs(c)
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = c
	c.parent = n
	n.emit(ChildAdded{Parent: n, Child: c, Index: index})
	return nil
}

// RemoveChild removes c from the children of n.
func (n *Node) RemoveChild(c *Node) error {
	i := n.IndexOf(c)
	if i < 0 {
		return ErrNotChild
	}
	n.children = append(n.children[:i], n.children[i+1:]...)
	c.parent = nil
	n.emit(ChildRemoved{Parent: n, Child: c, Index: i})
	return nil
}

// Detach removes the node from its parent, if it has one.
func (n *Node) Detach() {
	if n.parent != nil {
		n.parent.RemoveChild(n)
	}
}

// MoveChild moves the child at index from to index to.
func (n *Node) MoveChild(from, to int) error {
	if from < 0 || from >= len(n.children) || to < 0 || to >= len(n.children) {
		return fmt.Errorf("MoveChild(%d, %d): index out of range [0,%d)", from, to, len(n.children))
	}
	if from == to {
		return nil
	}
	c := n.children[from]
	n.children = append(n.children[:from], n.children[from+1:]...)
	n.children = append(n.children[:to], append([]*Node{c}, n.children[to:]...)...)
	n.emit(OrderChanged{Parent: n, From: from, To: to})
	return nil
}

// Redirect replaces the properties and children of n with those of other,
// keeping the identity of n (and thus its subscriptions). The children of other
// are moved, leaving other empty. A single Redirected event is raised; no
// ChildAdded or ChildRemoved events are raised for the swapped children.
func (n *Node) Redirect(other *Node) {
	for _, c := range n.children {
		c.parent = nil
	}
	n.children = nil
	n.props = map[string]any{}
	if other != nil {
		for k, v := range other.props {
			n.props[k] = v
		}
		n.children = other.children
		other.children = nil
		for _, c := range n.children {
			c.parent = n
			AssignUUIDs(c)
		}
	}
	n.emit(Redirected{Node: n})
}

// Set sets a property and raises PropertyChanged if the value changed. A uuid,
// once assigned, is never reassigned: setting KeyUUID on a node that already
// has a non-empty uuid is ignored.
func (n *Node) Set(key string, value any) {
	value = normalize(value)
	if old, ok := n.props[key]; ok {
		if key == KeyUUID && old != "" {
			return
		}
		if old == value {
			return
		}
	}
	n.props[key] = value
	n.emit(PropertyChanged{Node: n, Key: key})
}

// Unset removes a property.
func (n *Node) Unset(key string) {
	if _, ok := n.props[key]; !ok || key == KeyUUID {
		return
	}
	delete(n.props, key)
	n.emit(PropertyChanged{Node: n, Key: key})
}

func (n *Node) Get(key string) (any, bool) {
	v, ok := n.props[key]
	return v, ok
}

func (n *Node) Has(key string) bool {
	_, ok := n.props[key]
	return ok
}

// Keys returns the property keys of the node in no particular order.
func (n *Node) Keys() []string {
	ret := make([]string, 0, len(n.props))
	for k := range n.props {
		ret = append(ret, k)
	}
	return ret
}

func (n *Node) GetString(key, def string) string {
	if s, ok := n.props[key].(string); ok {
		return s
	}
	return def
}

func (n *Node) GetBool(key string, def bool) bool {
	switch v := n.props[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	}
	return def
}

func (n *Node) GetInt(key string, def int) int {
	switch v := n.props[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}
		return 0
	}
	return def
}

func (n *Node) GetFloat(key string, def float64) float64 {
	switch v := n.props[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// UUID returns the uuid of the node, or "" if it has none.
func (n *Node) UUID() string { return n.GetString(KeyUUID, "") }

// ChildWithProperty returns the first child whose property key equals value.
func (n *Node) ChildWithProperty(key string, value any) *Node {
	value = normalize(value)
	for _, c := range n.children {
		if v, ok := c.props[key]; ok && v == value {
			return c
		}
	}
	return nil
}

// ChildOfType returns the first child of the given type, or nil.
func (n *Node) ChildOfType(typ string) *Node {
	for _, c := range n.children {
		if c.typ == typ {
			return c
		}
	}
	return nil
}

// Copy makes a deep copy of the node and its subtree, without parent or
// subscriptions. UUIDs are copied as is.
func (n *Node) Copy() *Node {
	ret := &Node{typ: n.typ, props: make(map[string]any, len(n.props))}
	for k, v := range n.props {
		ret.props[k] = v
	}
	ret.children = make([]*Node, len(n.children))
	for i, c := range n.children {
		ret.children[i] = c.Copy()
		ret.children[i].parent = ret
	}
	return ret
}

// HasUUIDType reports whether nodes of the given type get an automatically
// assigned uuid. Only connection nodes do.
func HasUUIDType(typ string) bool {
	return typ == TypeConnection || typ == TypeModConnection
}

// AssignUUIDs gives every uuid bearing node in the subtree of n a fresh uuid,
// unless it already has one.
func AssignUUIDs(n *Node) {
	if HasUUIDType(n.typ) && n.UUID() == "" {
		n.props[KeyUUID] = uuid.NewString()
	}
	for _, c := range n.children {
		AssignUUIDs(c)
	}
}

// normalize maps numeric types to int or float64, so that properties compare
// equal regardless of the exact numeric type used to set them.
func normalize(v any) any {
	switch x := v.(type) {
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case uint:
		return int(x)
	case uint64:
		if x > math.MaxInt {
			return float64(x)
		}
		return int(x)
	case float32:
		return float64(x)
	}
	return v
}
