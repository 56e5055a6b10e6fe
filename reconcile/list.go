// Package reconcile mirrors the children of a document node into a live,
// ordered slice of wrapper objects.
package reconcile

import (
	"fmt"

	"github.com/vsariola/klavier/doc"
	"golang.org/x/exp/slices"
)

type (
	// Object is a live wrapper around one document node.
	Object interface {
		DocNode() *doc.Node
	}

	// Listener is notified synchronously whenever the object slice changes.
	// ObjectRemoved is always called before the object is destroyed.
	Listener[T Object] interface {
		ObjectAdded(obj T, index int)
		ObjectRemoved(obj T, index int)
		OrderChanged()
	}

	// Config tells the list which children to wrap and how.
	Config[T Object] struct {
		// Suitable reports whether a child should have a wrapper.
		Suitable func(n *doc.Node) bool
		// Create builds the wrapper for a suitable child. An error is a
		// programming error and makes the list panic, since the slice and the
		// document would otherwise diverge.
		Create func(n *doc.Node) (T, error)
		// Destroy releases a wrapper after it was removed. May be nil.
		Destroy func(obj T)
	}

	// List keeps a slice of wrappers index-isomorphic to the suitable
	// children of the watched node: after every document notification, the
	// i-th object wraps the i-th suitable child.
	List[T Object] struct {
		parent    *doc.Node
		cfg       Config[T]
		objects   []T
		listeners []Listener[T]
		sub       *doc.Subscription
	}
)

// New creates a list watching parent, registers the listeners and builds the
// initial objects, notifying the listeners of each.
func New[T Object](parent *doc.Node, cfg Config[T], listeners ...Listener[T]) *List[T] {
	l := &List[T]{parent: parent, cfg: cfg, listeners: listeners}
	l.sub = parent.Subscribe(l.handle)
	l.Rebuild()
	return l
}

func (l *List[T]) Parent() *doc.Node { return l.parent }
func (l *List[T]) Len() int          { return len(l.objects) }
func (l *List[T]) At(i int) T        { return l.objects[i] }

// Objects returns the wrappers in document order. The slice must not be
// modified.
func (l *List[T]) Objects() []T { return l.objects }

// Find returns the wrapper of node n.
func (l *List[T]) Find(n *doc.Node) (obj T, ok bool) {
	if i := l.indexOf(n); i >= 0 {
		return l.objects[i], true
	}
	return obj, false
}

func (l *List[T]) AddListener(listener Listener[T]) {
	l.listeners = append(l.listeners, listener)
}

// Close unsubscribes from the document and removes every object.
func (l *List[T]) Close() {
	l.sub.Close()
	l.clear()
}

// Rebuild removes every object and recreates the objects from the current
// children, in document order.
func (l *List[T]) Rebuild() {
	l.clear()
	// listeners may remove children while being notified
	children := append([]*doc.Node(nil), l.parent.Children()...)
	for _, c := range children {
		if c.Parent() != l.parent || !l.cfg.Suitable(c) {
			continue
		}
		obj := l.create(c)
		l.objects = append(l.objects, obj)
		l.notifyAdded(obj, len(l.objects)-1)
	}
}

func (l *List[T]) handle(e doc.Event) {
	switch e := e.(type) {
	case doc.ChildAdded:
		if e.Parent == l.parent {
			l.childAdded(e.Child)
		}
	case doc.ChildRemoved:
		if e.Parent == l.parent {
			l.childRemoved(e.Child)
		}
	case doc.OrderChanged:
		if e.Parent == l.parent {
			l.childOrderChanged()
		}
	case doc.Redirected:
		if e.Node == l.parent {
			l.Rebuild()
		}
	}
}

func (l *List[T]) childAdded(n *doc.Node) {
	if !l.cfg.Suitable(n) || l.indexOf(n) >= 0 {
		return
	}
	obj := l.create(n)
	docIndex := l.parent.IndexOf(n)
	index := 0
	for index < len(l.objects) && l.parent.IndexOf(l.objects[index].DocNode()) < docIndex {
		index++
	}
	l.objects = slices.Insert(l.objects, index, obj)
	l.notifyAdded(obj, index)
}

func (l *List[T]) notifyAdded(obj T, index int) {
	for _, li := range l.listeners {
		if l.indexOf(obj.DocNode()) < 0 {
			return // an earlier listener removed it again
		}
		li.ObjectAdded(obj, index)
	}
}

func (l *List[T]) childRemoved(n *doc.Node) {
	index := l.indexOf(n)
	if index < 0 {
		return
	}
	obj := l.objects[index]
	l.objects = slices.Delete(l.objects, index, index+1)
	for _, li := range l.listeners {
		li.ObjectRemoved(obj, index)
	}
	if l.cfg.Destroy != nil {
		l.cfg.Destroy(obj)
	}
}

func (l *List[T]) childOrderChanged() {
	slices.SortStableFunc(l.objects, func(a, b T) int {
		return l.parent.IndexOf(a.DocNode()) - l.parent.IndexOf(b.DocNode())
	})
	for _, li := range l.listeners {
		li.OrderChanged()
	}
}

func (l *List[T]) clear() {
	for len(l.objects) > 0 {
		index := len(l.objects) - 1
		obj := l.objects[index]
		l.objects = l.objects[:index]
		for _, li := range l.listeners {
			li.ObjectRemoved(obj, index)
		}
		if l.cfg.Destroy != nil {
			l.cfg.Destroy(obj)
		}
	}
}

func (l *List[T]) create(n *doc.Node) T {
	obj, err := l.cfg.Create(n)
	if err != nil {
		panic(fmt.Sprintf("reconcile: could not create an object for a %s node: %v", n.Type(), err))
	}
	return obj
}

func (l *List[T]) indexOf(n *doc.Node) int {
	for i, obj := range l.objects {
		if obj.DocNode() == n {
			return i
		}
	}
	return -1
}
