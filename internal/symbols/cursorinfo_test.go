package symbols

import (
	"testing"

	"navc/internal/location"
)

func loc(file, line, col uint32) location.Location {
	return location.Location{FileID: file, Line: line, Col: col}
}

func TestUniteInheritsNameFromEmptyReceiver(t *testing.T) {
	var a CursorInfo
	b := New(0, 3, 3, "foo", KindFunction, "int()")

	merged, changed := a.Unite(b)
	if !changed {
		t.Fatalf("expected change")
	}
	if merged.SymbolName() != "foo" {
		t.Fatalf("got name %q", merged.SymbolName())
	}
}

func TestUniteUnionsTargetsAndReferences(t *testing.T) {
	a := New(0, 3, 3, "foo", KindFunction, "")
	a, _ = a.AddTarget(loc(1, 1, 1))
	b := New(0, 3, 3, "foo", KindFunction, "")
	b, _ = b.AddTarget(loc(2, 2, 2))
	b, _ = b.AddReference(loc(3, 3, 3))

	merged, changed := a.Unite(b)
	if !changed {
		t.Fatalf("expected change")
	}
	if len(merged.Targets()) != 2 {
		t.Fatalf("want 2 targets, got %d", len(merged.Targets()))
	}
	if len(merged.References()) != 1 {
		t.Fatalf("want 1 reference, got %d", len(merged.References()))
	}

	// original a must be untouched (copy-on-write).
	if len(a.Targets()) != 1 {
		t.Fatalf("mutation leaked into receiver's original targets")
	}
}

func TestUniteNoOpReportsNoChange(t *testing.T) {
	a := New(0, 3, 3, "foo", KindFunction, "")
	a, _ = a.AddTarget(loc(1, 1, 1))
	b := New(0, 3, 3, "foo", KindFunction, "")
	b, _ = b.AddTarget(loc(1, 1, 1))

	_, changed := a.Unite(b)
	if changed {
		t.Fatalf("expected no change when union adds nothing new")
	}
}

func TestDirtyRemovesLocationsInDirtyFiles(t *testing.T) {
	a := New(0, 3, 3, "foo", KindFunction, "")
	a, _ = a.AddTarget(loc(1, 1, 1))
	a, _ = a.AddTarget(loc(2, 2, 2))
	a, _ = a.AddReference(loc(1, 5, 5))

	dirty := map[uint32]struct{}{1: {}}
	a, changed := a.Dirty(dirty)
	if !changed {
		t.Fatalf("expected change")
	}
	if _, ok := a.Targets()[loc(1, 1, 1)]; ok {
		t.Fatalf("target in dirty file 1 was not removed")
	}
	if _, ok := a.Targets()[loc(2, 2, 2)]; !ok {
		t.Fatalf("target in clean file 2 was wrongly removed")
	}
	if len(a.References()) != 0 {
		t.Fatalf("reference in dirty file was not removed")
	}
}

func TestEnumValueWrongArmPanics(t *testing.T) {
	c := New(0, 1, 1, "E", KindDeclaration, "")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic reading EnumValue on a non-enum cursor")
		}
	}()
	_ = c.EnumValue()
}

func TestBestTargetPrefersDefinitionThenLocationOrder(t *testing.T) {
	c := New(0, 3, 3, "foo", KindFunction, "")
	declLoc := loc(1, 10, 1)
	defLoc := loc(2, 20, 1)
	c, _ = c.AddTarget(declLoc)
	c, _ = c.AddTarget(defLoc)

	all := SymbolMap{
		declLoc: New(0, 3, 3, "foo", KindDeclaration, "").SetDefinition(false),
		defLoc:  New(0, 3, 3, "foo", KindFunction, "").SetDefinition(true),
	}

	best, _, ok := c.BestTarget(all, nil)
	if !ok {
		t.Fatalf("expected a best target")
	}
	if best != defLoc {
		t.Fatalf("expected definition to win, got %v", best)
	}
}

func TestBestTargetSkipsErrorLocations(t *testing.T) {
	c := New(0, 3, 3, "foo", KindFunction, "")
	good := loc(1, 1, 1)
	bad := loc(2, 2, 2)
	c, _ = c.AddTarget(good)
	c, _ = c.AddTarget(bad)

	all := SymbolMap{
		good: New(0, 1, 1, "foo", KindFunction, ""),
		bad:  New(0, 1, 1, "foo", KindFunction, ""),
	}
	errs := SymbolMap{bad: all[bad]}

	best, _, ok := c.BestTarget(all, errs)
	if !ok || best != good {
		t.Fatalf("expected non-error location to win, got %v ok=%v", best, ok)
	}
}
