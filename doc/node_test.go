package doc_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/vsariola/klavier/doc"
)

func TestUUIDAssignedOnlyToConnections(t *testing.T) {
	root := doc.NewNode(doc.TypePatch)
	prep := doc.NewNode(doc.TypePreparation, doc.KeyName, "osc1")
	conn := doc.NewNode(doc.TypeModConnection, doc.KeySource, "lfo1_out")
	if err := root.AddChild(prep, -1); err != nil {
		t.Fatal(err)
	}
	if err := root.AddChild(conn, -1); err != nil {
		t.Fatal(err)
	}
	if prep.UUID() != "" {
		t.Errorf("preparation node got a uuid %q", prep.UUID())
	}
	id := conn.UUID()
	if id == "" {
		t.Fatal("connection node did not get a uuid")
	}
	conn.Set(doc.KeyUUID, "something else")
	if conn.UUID() != id {
		t.Errorf("uuid was reassigned from %q to %q", id, conn.UUID())
	}
	root.RemoveChild(conn)
	root.AddChild(conn, 0)
	if conn.UUID() != id {
		t.Errorf("uuid changed when the node was re-added")
	}
}

func TestEventsBubbleToAncestors(t *testing.T) {
	root := doc.NewNode(doc.TypePatch)
	section := doc.NewNode(doc.TypeConnections)
	root.AddChild(section, -1)
	var got []string
	sub := root.Subscribe(func(e doc.Event) {
		switch e := e.(type) {
		case doc.ChildAdded:
			got = append(got, "added:"+e.Child.Type())
		case doc.ChildRemoved:
			got = append(got, "removed:"+e.Child.Type())
		case doc.OrderChanged:
			got = append(got, "order")
		case doc.PropertyChanged:
			got = append(got, "prop:"+e.Key)
		case doc.Redirected:
			got = append(got, "redirected:"+e.Node.Type())
		}
	})
	a := doc.NewNode(doc.TypeConnection)
	b := doc.NewNode(doc.TypeConnection)
	section.AddChild(a, -1)
	section.AddChild(b, -1)
	section.MoveChild(1, 0)
	b.Set(doc.KeyDestCh, 3)
	b.Set(doc.KeyDestCh, 3) // no change, no event
	section.RemoveChild(a)
	section.Redirect(doc.NewNode(doc.TypeConnections))
	sub.Close()
	sub.Close()
	section.AddChild(doc.NewNode(doc.TypeConnection), -1)
	want := "added:CONNECTION added:CONNECTION order prop:destCh removed:CONNECTION redirected:CONNECTIONS"
	if s := strings.Join(got, " "); s != want {
		t.Errorf("got events\n%s\nwant\n%s", s, want)
	}
}

func TestAddChildErrors(t *testing.T) {
	root := doc.NewNode(doc.TypePatch)
	child := doc.NewNode(doc.TypePreparations)
	root.AddChild(child, -1)
	if err := root.AddChild(child, -1); !errors.Is(err, doc.ErrHasParent) {
		t.Errorf("adding a child twice: got %v, want ErrHasParent", err)
	}
	if err := child.AddChild(root, -1); !errors.Is(err, doc.ErrAncestor) {
		t.Errorf("adding an ancestor: got %v, want ErrAncestor", err)
	}
	if err := root.RemoveChild(doc.NewNode(doc.TypePort)); !errors.Is(err, doc.ErrNotChild) {
		t.Errorf("removing a stranger: got %v, want ErrNotChild", err)
	}
}

func TestReadAssignsMissingUUIDs(t *testing.T) {
	const src = `type: PATCH
children:
  - type: MODCONNECTIONS
    children:
      - type: MODCONNECTION
        props: {src: lfo1_out, dest: osc1_freq, modAmt: 0.5, isMod: true}
      - type: MODCONNECTION
        props: {uuid: fixed, src: lfo1_out, dest: osc1_level}
`
	root, err := doc.Read(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	mods := root.ChildOfType(doc.TypeModConnections)
	if mods == nil || mods.NumChildren() != 2 {
		t.Fatalf("unexpected document structure")
	}
	if mods.Child(0).UUID() == "" {
		t.Error("missing uuid was not assigned")
	}
	if mods.Child(1).UUID() != "fixed" {
		t.Errorf("existing uuid was replaced with %q", mods.Child(1).UUID())
	}
	if v := mods.Child(0).GetFloat(doc.KeyModAmount, 0); v != 0.5 {
		t.Errorf("modAmt = %v, want 0.5", v)
	}
	if mods.Child(0).Parent() != mods {
		t.Error("parent links not restored")
	}
	var buf bytes.Buffer
	if err := doc.Write(&buf, root); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	again, err := doc.Read(&buf)
	if err != nil {
		t.Fatalf("Read of written document failed: %v", err)
	}
	if got := again.ChildOfType(doc.TypeModConnections).Child(1).GetString(doc.KeyDest, ""); got != "osc1_level" {
		t.Errorf("dest after round trip = %q", got)
	}
}

func TestHistory(t *testing.T) {
	h := doc.NewHistory(2)
	n := doc.NewNode(doc.TypePatch, doc.KeyName, "a")
	for _, name := range []string{"b", "c", "d"} {
		h.Save(n)
		n.Set(doc.KeyName, name)
	}
	prev, ok := h.Undo(n)
	if !ok || prev.GetString(doc.KeyName, "") != "c" {
		t.Fatalf("first undo gave %v", prev)
	}
	prev, ok = h.Undo(prev)
	if !ok || prev.GetString(doc.KeyName, "") != "b" {
		t.Fatalf("second undo gave %v", prev)
	}
	if h.CanUndo() {
		t.Error("history deeper than its depth")
	}
	next, ok := h.Redo(prev)
	if !ok || next.GetString(doc.KeyName, "") != "c" {
		t.Fatalf("redo gave %v", next)
	}
}
