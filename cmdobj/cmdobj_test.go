package cmdobj_test

import (
	"fmt"
	"testing"

	"github.com/bdube/extruderfin/cmdobj"
	"github.com/bdube/extruderfin/status"
)

// fixtureTable builds a small table shaped like the real one (two
// groups, two singles each, plus the group rows and the uber-group
// row) bound to plain Go floats, mirroring how controller wires the
// live cfgArray.
func fixtureTable(h1tmp, h1set, s1tmp, s1svm *float64) cmdobj.Table {
	bind := func(p *float64) (cmdobj.GetFunc, cmdobj.SetFunc) {
		return func() float64 { return *p },
			func(v float64) status.Code { *p = v; return status.Ok }
	}
	print := func(v float64) string { return fmt.Sprintf("%0.2f", v) }

	g1, s1 := bind(h1tmp)
	g2, s2 := bind(h1set)
	g3, s3 := bind(s1tmp)
	g4, s4 := bind(s1svm)

	return cmdobj.Table{
		cmdobj.NewSingle("h1", "h1tmp", 0, 2, cmdobj.KindFloat, g1, s1, print, -273.15),
		cmdobj.NewSingle("h1", "h1set", 0, 2, cmdobj.KindFloat, g2, s2, print, 0),
		cmdobj.NewSingle("s1", "s1tmp", 0, 2, cmdobj.KindFloat, g3, s3, print, -273.15),
		cmdobj.NewSingle("s1", "s1svm", 0, 2, cmdobj.KindFloat, g4, s4, print, 2),
		cmdobj.NewGroup("h1"),
		cmdobj.NewGroup("s1"),
		cmdobj.NewUberGroup(),
	}
}

func TestResetRelinksAndClears(t *testing.T) {
	l := cmdobj.NewList()
	c, code := l.AddInteger("h1", "h1st", 2)
	if code != status.Ok {
		t.Fatalf("AddInteger: %v", code)
	}
	if c.Kind != cmdobj.KindInteger {
		t.Fatalf("expected KindInteger, got %v", c.Kind)
	}
	if code := l.Reset(); code != status.Ok {
		t.Fatalf("Reset: %v", code)
	}
	if len(l.Body()) != 0 {
		t.Fatalf("expected an empty body after Reset, got %d nodes", len(l.Body()))
	}
	if l.Header().Next != 1 || l.Footer().Prev != cmdobj.ListLen-2 {
		t.Errorf("expected header->body[0] and body[last]->footer links, got header.Next=%d footer.Prev=%d", l.Header().Next, l.Footer().Prev)
	}
}

func TestResolveFindsSingleByFullToken(t *testing.T) {
	h1tmp, h1set, s1tmp, s1svm := 150.0, 10.0, 22.0, 2.0
	tbl := fixtureTable(&h1tmp, &h1set, &s1tmp, &s1svm)
	idx, ok := tbl.Resolve("h1tmp")
	if !ok {
		t.Fatal("expected h1tmp to resolve")
	}
	l := cmdobj.NewList()
	c, code := l.AddObject()
	if code != status.Ok {
		t.Fatalf("AddObject: %v", code)
	}
	if code := tbl.Get(idx, c); code != status.Ok {
		t.Fatalf("Get: %v", code)
	}
	if c.ValueF32 != 150.0 {
		t.Errorf("expected 150.0, got %f", c.ValueF32)
	}
}

func TestSetWritesThroughToBoundTarget(t *testing.T) {
	h1tmp, h1set, s1tmp, s1svm := 150.0, 10.0, 22.0, 2.0
	tbl := fixtureTable(&h1tmp, &h1set, &s1tmp, &s1svm)
	idx, _ := tbl.Resolve("h1set")
	l := cmdobj.NewList()
	c, _ := l.AddObject()
	c.ValueF32 = 205
	if code := tbl.Set(idx, c); code != status.Ok {
		t.Fatalf("Set: %v", code)
	}
	if h1set != 205 {
		t.Errorf("expected bound target updated to 205, got %f", h1set)
	}
}

func TestSetOnGroupRowIsReadOnly(t *testing.T) {
	h1tmp, h1set, s1tmp, s1svm := 150.0, 10.0, 22.0, 2.0
	tbl := fixtureTable(&h1tmp, &h1set, &s1tmp, &s1svm)
	idx, _ := tbl.Resolve("h1")
	l := cmdobj.NewList()
	c, _ := l.AddObject()
	if code := tbl.Set(idx, c); code != status.ErrReadOnly {
		t.Fatalf("expected ErrReadOnly setting a group row, got %v", code)
	}
}

func TestExpandGroupAddsOnlyThatGroupsMembers(t *testing.T) {
	h1tmp, h1set, s1tmp, s1svm := 150.0, 10.0, 22.0, 2.0
	tbl := fixtureTable(&h1tmp, &h1set, &s1tmp, &s1svm)
	l := cmdobj.NewList()
	parent, _ := l.AddObject()
	if code := tbl.ExpandGroup(l, parent, "h1"); code != status.Ok {
		t.Fatalf("ExpandGroup: %v", code)
	}
	body := l.Body()
	// parent + its two h1 children
	if len(body) != 3 {
		t.Fatalf("expected 3 populated nodes, got %d", len(body))
	}
}

func TestExpandUberGroupOrdersGroupsSysFirstThenH1P1S1(t *testing.T) {
	// Uses a minimal two-group table; the literal firmware order is
	// sys, h1, p1, s1 -- this fixture only has h1/s1, so it exercises
	// that ExpandUberGroup walks its own fixed order and still emits a
	// (childless) parent node for groups that have no rows rather than
	// erroring.
	h1tmp, h1set, s1tmp, s1svm := 150.0, 10.0, 22.0, 2.0
	tbl := fixtureTable(&h1tmp, &h1set, &s1tmp, &s1svm)
	l := cmdobj.NewList()
	parent, _ := l.AddObject()
	if code := tbl.ExpandUberGroup(l, parent); code != status.Ok {
		t.Fatalf("ExpandUberGroup: %v", code)
	}
	var groupTokens []string
	for _, c := range l.Body() {
		if c.Kind == cmdobj.KindParent {
			groupTokens = append(groupTokens, c.Token)
		}
	}
	want := []string{"sys", "h1", "p1", "s1"}
	if len(groupTokens) != len(want) {
		t.Fatalf("expected %d group nodes, got %d (%v)", len(want), len(groupTokens), groupTokens)
	}
	for i, w := range want {
		if groupTokens[i] != w {
			t.Errorf("group %d: expected %q, got %q", i, w, groupTokens[i])
		}
	}
}

func TestListFullReturnsNoBufferSpace(t *testing.T) {
	l := cmdobj.NewList()
	var last status.Code
	for i := 0; i < cmdobj.BodyLen+1; i++ {
		_, last = l.AddObject()
	}
	if last != status.NoBufferSpace {
		t.Fatalf("expected NoBufferSpace once the body fills, got %v", last)
	}
}

func TestArenaCopyAndReadBack(t *testing.T) {
	l := cmdobj.NewList()
	c, code := l.AddString("", "msg", "bad reading")
	if code != status.Ok {
		t.Fatalf("AddString: %v", code)
	}
	if got := l.StringAt(c.StringSlot); got != "bad reading" {
		t.Errorf("expected %q back from the arena, got %q", "bad reading", got)
	}
}

func TestResetRewindsArena(t *testing.T) {
	l := cmdobj.NewList()
	l.AddString("", "msg", "first")
	l.Reset()
	c, _ := l.AddString("", "msg", "second")
	if c.StringSlot != 0 {
		t.Errorf("expected arena write pointer rewound to 0 after Reset, got slot %d", c.StringSlot)
	}
}
