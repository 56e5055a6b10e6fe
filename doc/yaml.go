package doc

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlNode is the persisted shape of a node.
type yamlNode struct {
	Type     string         `yaml:"type"`
	Props    map[string]any `yaml:"props,omitempty,flow"`
	Children []*yamlNode    `yaml:"children,omitempty"`
}

func (n *Node) toYAML() *yamlNode {
	ret := &yamlNode{Type: n.typ}
	if len(n.props) > 0 {
		ret.Props = make(map[string]any, len(n.props))
		for k, v := range n.props {
			ret.Props[k] = v
		}
	}
	for _, c := range n.children {
		ret.Children = append(ret.Children, c.toYAML())
	}
	return ret
}

func (y *yamlNode) toNode() (*Node, error) {
	if y.Type == "" {
		return nil, fmt.Errorf("node without a type")
	}
	ret := &Node{typ: y.Type, props: make(map[string]any, len(y.Props))}
	for k, v := range y.Props {
		switch v.(type) {
		case string, bool, int, float64:
			ret.props[k] = v
		default:
			return nil, fmt.Errorf("property %q of %s node has unsupported type %T", k, y.Type, v)
		}
	}
	for _, c := range y.Children {
		child, err := c.toNode()
		if err != nil {
			return nil, err
		}
		child.parent = ret
		ret.children = append(ret.children, child)
	}
	return ret, nil
}

// MarshalYAML implements yaml.Marshaler.
func (n *Node) MarshalYAML() (any, error) {
	return n.toYAML(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. It replaces the contents of n
// without raising events; use Redirect to swap the contents of a live node.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var y yamlNode
	if err := value.Decode(&y); err != nil {
		return err
	}
	m, err := y.toNode()
	if err != nil {
		return err
	}
	AssignUUIDs(m)
	n.typ, n.props, n.children = m.typ, m.props, m.children
	for _, c := range n.children {
		c.parent = n
	}
	return nil
}

// Read decodes a document from r. Connection nodes without a uuid are given
// one.
func Read(r io.Reader) (*Node, error) {
	n := new(Node)
	if err := yaml.NewDecoder(r).Decode(n); err != nil {
		return nil, fmt.Errorf("could not decode document: %w", err)
	}
	return n, nil
}

// Write encodes the document rooted at n to w.
func Write(w io.Writer, n *Node) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return fmt.Errorf("could not encode document: %w", err)
	}
	return enc.Close()
}
