// Package symbols holds the pure data model fed to queries: CursorInfo
// occurrences, the maps that index them, and the merge ("unite") and
// dirty-invalidation operations spec §4.B and §8 describe.
//
// CursorInfo is reimplemented per spec §9: an immutable shared payload
// plus mutators that clone it before every write, rather than the
// hand-rolled atomic refcounting in RTags' CursorData (original_source
// CursorInfo.h). There is no identity-based equality: unite's change
// detection compares sets and fields.
package symbols

import (
	"fmt"

	"navc/internal/location"
)

// Kind is the fixed cursor-kind taxonomy from spec §3.
type Kind uint16

const (
	KindInvalid Kind = iota
	KindFunction
	KindClass
	KindConstructor
	KindDestructor
	KindVariable
	KindMember
	KindArgument
	KindDeclaration
	KindReference
	KindInclude
)

// payload is the shared, immutable body of a CursorInfo. Once
// constructed it is never mutated in place; CursorInfo.detach clones it
// before every write.
type payload struct {
	symbolLength int
	symbolName   string
	kind         Kind
	typeTag      string

	// definition/enumValue is a tagged union discriminated by isEnumValue,
	// resolving the Open Question in spec §9 with an explicit tag
	// rather than an untagged union.
	isEnumValue bool
	definition  bool
	enumValue   int64

	start, end int
	targets    map[location.Location]struct{}
	references map[location.Location]struct{}
}

func (p *payload) clone() *payload {
	np := *p
	np.targets = cloneSet(p.targets)
	np.references = cloneSet(p.references)
	return &np
}

func cloneSet(s map[location.Location]struct{}) map[location.Location]struct{} {
	out := make(map[location.Location]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// CursorInfo describes one symbol occurrence: a definition,
// declaration, or reference at a Location (spec glossary).
//
// The zero CursorInfo is the empty/invalid cursor (IsEmpty() == true),
// matching RTags' CursorInfo() with a nil CursorData*.
type CursorInfo struct {
	p *payload // shared; copy-on-write
}

// detach gives this CursorInfo a payload of its own: it clones the
// current payload unconditionally (Go values carry no refcount, so
// sharing cannot be detected), or allocates an empty one when there is
// none. Every mutator calls it before writing.
func (c *CursorInfo) detach() {
	if c.p == nil {
		c.p = &payload{targets: map[location.Location]struct{}{}, references: map[location.Location]struct{}{}}
		return
	}
	c.p = c.p.clone()
}

// New constructs a populated CursorInfo, mirroring RTags
// CursorInfo::init.
func New(start, end, symbolLength int, symbolName string, kind Kind, typeTag string) CursorInfo {
	return CursorInfo{p: &payload{
		start: start, end: end,
		symbolLength: symbolLength,
		symbolName:   symbolName,
		kind:         kind,
		typeTag:      typeTag,
		targets:      map[location.Location]struct{}{},
		references:   map[location.Location]struct{}{},
	}}
}

func (c CursorInfo) IsEmpty() bool {
	return c.p == nil || (c.p.symbolLength == 0 && len(c.p.targets) == 0 && len(c.p.references) == 0 && c.p.start == -1 && c.p.end == -1)
}

func (c CursorInfo) IsValid() bool { return !c.IsEmpty() }

func (c CursorInfo) SymbolName() string {
	if c.p == nil {
		return ""
	}
	return c.p.symbolName
}

func (c CursorInfo) Kind() Kind {
	if c.p == nil {
		return KindInvalid
	}
	return c.p.kind
}

func (c CursorInfo) Start() int {
	if c.p == nil {
		return -1
	}
	return c.p.start
}

func (c CursorInfo) End() int {
	if c.p == nil {
		return -1
	}
	return c.p.end
}

// IsDefinition resolves the definition/enumValue tagged union: an
// EnumConstantDecl kind is always "defining", otherwise the definition
// flag governs (spec §9 Open Question).
func (c CursorInfo) IsDefinition() bool {
	if c.p == nil {
		return false
	}
	if c.p.kind == KindDeclaration && c.p.isEnumValue {
		return true
	}
	return c.p.definition
}

// EnumValue panics if this cursor is not an enum-constant cursor; this
// is the explicit tagged-union accessor spec §9 asks for so "callers
// must never read the wrong arm".
func (c CursorInfo) EnumValue() int64 {
	if c.p == nil || !c.p.isEnumValue {
		panic("symbols: EnumValue read on a non-enum CursorInfo")
	}
	return c.p.enumValue
}

func (c CursorInfo) SetDefinition(v bool) CursorInfo {
	c.detach()
	c.p.isEnumValue = false
	c.p.definition = v
	return c
}

func (c CursorInfo) SetEnumValue(v int64) CursorInfo {
	c.detach()
	c.p.isEnumValue = true
	c.p.enumValue = v
	return c
}

func (c CursorInfo) Targets() map[location.Location]struct{} {
	if c.p == nil {
		return nil
	}
	return c.p.targets
}

func (c CursorInfo) References() map[location.Location]struct{} {
	if c.p == nil {
		return nil
	}
	return c.p.references
}

// AddTarget returns a CursorInfo with loc added to targets and
// reports whether the set actually grew.
func (c CursorInfo) AddTarget(loc location.Location) (CursorInfo, bool) {
	if c.p != nil {
		if _, ok := c.p.targets[loc]; ok {
			return c, false
		}
	}
	c.detach()
	c.p.targets[loc] = struct{}{}
	return c, true
}

func (c CursorInfo) AddReference(loc location.Location) (CursorInfo, bool) {
	if c.p != nil {
		if _, ok := c.p.references[loc]; ok {
			return c, false
		}
	}
	c.detach()
	c.p.references[loc] = struct{}{}
	return c, true
}

// Unite merges other into c, matching RTags CursorInfo::unite: targets
// and references are set-unioned; if the receiver has no symbol name
// it inherits name/kind/type/definition from other; an empty position
// is inherited too. Returns the possibly-changed receiver and whether
// anything actually changed (spec §8 property 3).
func (c CursorInfo) Unite(other CursorInfo) (CursorInfo, bool) {
	if other.p == nil {
		return c, false
	}
	if c.p == nil {
		return CursorInfo{p: other.p.clone()}, true
	}

	c.detach()
	changed := false

	if len(c.p.targets) == 0 && len(other.p.targets) > 0 {
		c.p.targets = cloneSet(other.p.targets)
		changed = true
	} else if len(other.p.targets) > 0 {
		for loc := range other.p.targets {
			if _, ok := c.p.targets[loc]; !ok {
				c.p.targets[loc] = struct{}{}
				changed = true
			}
		}
	}

	if c.p.start == -1 && c.p.end == -1 && other.p.start != -1 && other.p.end != -1 {
		c.p.start, c.p.end = other.p.start, other.p.end
		changed = true
	}

	if c.p.symbolLength == 0 && other.p.symbolLength != 0 {
		c.p.symbolLength = other.p.symbolLength
		c.p.kind = other.p.kind
		c.p.typeTag = other.p.typeTag
		c.p.symbolName = other.p.symbolName
		c.p.isEnumValue = other.p.isEnumValue
		c.p.definition = other.p.definition
		c.p.enumValue = other.p.enumValue
		changed = true
	}

	if len(c.p.references) == 0 && len(other.p.references) > 0 {
		c.p.references = cloneSet(other.p.references)
		changed = true
	} else {
		for loc := range other.p.references {
			if _, ok := c.p.references[loc]; !ok {
				c.p.references[loc] = struct{}{}
				changed = true
			}
		}
	}

	return c, changed
}

// Dirty removes any target/reference pointing into a dirtied file,
// reporting whether anything was removed (spec §4.B dirty, §8
// property 2's per-CursorInfo half).
func (c CursorInfo) Dirty(dirtyFiles map[uint32]struct{}) (CursorInfo, bool) {
	if c.p == nil {
		return c, false
	}
	changed := false
	for _, set := range []map[location.Location]struct{}{c.p.targets, c.p.references} {
		for loc := range set {
			if _, ok := dirtyFiles[loc.FileID]; ok {
				changed = true
			}
		}
	}
	if !changed {
		return c, false
	}
	c.detach()
	for _, set := range []map[location.Location]struct{}{c.p.targets, c.p.references} {
		for loc := range set {
			if _, ok := dirtyFiles[loc.FileID]; ok {
				delete(set, loc)
			}
		}
	}
	return c, true
}

func (c CursorInfo) String() string {
	if c.p == nil {
		return "<empty cursor>"
	}
	return fmt.Sprintf("%s (kind=%d, targets=%d, refs=%d)", c.p.symbolName, c.p.kind, len(c.p.targets), len(c.p.references))
}

// BestTarget resolves a cursor to its preferred definition target:
// prefer definitions over declarations, prefer results absent from
// errs when provided, and break ties by Location ordering. This
// follows the intent of RTags CursorInfo::targetRank in
// original_source/src/CursorInfo.h.
func (c CursorInfo) BestTarget(all SymbolMap, errs SymbolMap) (location.Location, CursorInfo, bool) {
	var best location.Location
	var bestInfo CursorInfo
	found := false

	for loc := range c.Targets() {
		info, ok := all[loc]
		if !ok {
			continue
		}
		if errs != nil {
			if _, isErr := errs[loc]; isErr {
				continue
			}
		}
		if !found {
			best, bestInfo, found = loc, info, true
			continue
		}
		if rankLess(loc, info, best, bestInfo) {
			best, bestInfo = loc, info
		}
	}
	return best, bestInfo, found
}

// rankLess reports whether candidate (loc,info) outranks current
// (bestLoc,bestInfo): definitions first, then Location order.
func rankLess(loc location.Location, info CursorInfo, bestLoc location.Location, bestInfo CursorInfo) bool {
	if info.IsDefinition() != bestInfo.IsDefinition() {
		return info.IsDefinition()
	}
	return loc.Less(bestLoc)
}
