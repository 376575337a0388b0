package symbols

import (
	"sort"

	"navc/internal/location"
)

// SymbolMap maps a Location to the CursorInfo occurring there,
// ordered by Location for range queries by file (spec §3).
type SymbolMap map[location.Location]CursorInfo

// SortedLocations returns the map's keys in Location order.
func (m SymbolMap) SortedLocations() []location.Location {
	out := make([]location.Location, 0, len(m))
	for loc := range m {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ForFile returns only the entries whose Location is in the given file.
func (m SymbolMap) ForFile(fileID uint32) SymbolMap {
	out := make(SymbolMap)
	for loc, ci := range m {
		if loc.FileID == fileID {
			out[loc] = ci
		}
	}
	return out
}

// SymbolNameMap maps a fully-qualified symbol name to the set of
// Locations it occurs at.
type SymbolNameMap map[string]map[location.Location]struct{}

func (m SymbolNameMap) Add(name string, loc location.Location) {
	set, ok := m[name]
	if !ok {
		set = make(map[location.Location]struct{})
		m[name] = set
	}
	set[loc] = struct{}{}
}

func (m SymbolNameMap) Locations(name string) []location.Location {
	set := m[name]
	out := make([]location.Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// DependencyMap maps a fileId X to the set of fileIds Y that X's
// translation depends on ("file X's translation depends on file Y",
// spec §3).
type DependencyMap map[uint32]map[uint32]struct{}

func (m DependencyMap) Add(from, to uint32) {
	set, ok := m[from]
	if !ok {
		set = make(map[uint32]struct{})
		m[from] = set
	}
	set[to] = struct{}{}
}

// DependsOn returns the set of files that `file` depends on.
func (m DependencyMap) DependsOn(file uint32) map[uint32]struct{} {
	return m[file]
}

// DependentsOf returns the set of files that directly depend on `file`
// (the reverse edge, ArgDependsOn in spec §4.B); TransitiveDependents
// follows the chain further.
func (m DependencyMap) DependentsOf(file uint32) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for from, deps := range m {
		if _, ok := deps[file]; ok {
			out[from] = struct{}{}
		}
	}
	return out
}

// TransitiveDependents computes every file transitively dependent on
// any file in roots, used by dirty-cascade (spec §4.B dirty, §8 S2).
// The result includes the roots themselves.
func (m DependencyMap) TransitiveDependents(roots map[uint32]struct{}) map[uint32]struct{} {
	visited := make(map[uint32]struct{})
	queue := make([]uint32, 0, len(roots))
	for r := range roots {
		queue = append(queue, r)
		visited[r] = struct{}{}
	}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for dep := range m.DependentsOf(f) {
			if _, ok := visited[dep]; !ok {
				visited[dep] = struct{}{}
				queue = append(queue, dep)
			}
		}
	}
	return visited
}

// FileInfo is per-file metadata: last-indexed time and status flags.
type FileInfo struct {
	LastIndexed int64 // unix seconds
	Indexed     bool
}

type FilesMap map[uint32]FileInfo

// UsrMap maps a compiler-emitted USR string to the set of Locations
// sharing that identity across translation units.
type UsrMap map[string]map[location.Location]struct{}

func (m UsrMap) Add(usr string, loc location.Location) {
	set, ok := m[usr]
	if !ok {
		set = make(map[location.Location]struct{})
		m[usr] = set
	}
	set[loc] = struct{}{}
}

// FixIt is a compiler-suggested edit (spec glossary).
type FixIt struct {
	Start, End  int
	Replacement string
}

// FixItMap is a per-file ordered sequence of fix-its.
type FixItMap map[uint32][]FixIt

func (m FixItMap) Append(fileID uint32, fixits ...FixIt) {
	m[fileID] = append(m[fileID], fixits...)
}

// SortFlag controls Sort's ordering/filtering, mirroring RTags
// Project::SortFlag.
type SortFlag int

const (
	SortNone SortFlag = 0
	SortDeclarationOnly SortFlag = 1 << iota
	SortReverse
)

// SortedCursor pairs a Location with its CursorInfo for sort output.
type SortedCursor struct {
	Location location.Location
	Cursor   CursorInfo
}

// Sort orders a set of locations by (isDefinition desc, Location asc),
// optionally restricted to declarations and/or reversed, matching
// RTags Project::sort's semantics (spec §4.B).
func Sort(symbols SymbolMap, locs map[location.Location]struct{}, flags SortFlag) []SortedCursor {
	out := make([]SortedCursor, 0, len(locs))
	for loc := range locs {
		ci, ok := symbols[loc]
		if !ok {
			continue
		}
		if flags&SortDeclarationOnly != 0 && ci.IsDefinition() {
			continue
		}
		out = append(out, SortedCursor{Location: loc, Cursor: ci})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cursor.IsDefinition() != out[j].Cursor.IsDefinition() {
			return out[i].Cursor.IsDefinition()
		}
		return out[i].Location.Less(out[j].Location)
	})
	if flags&SortReverse != 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// DependencyMode selects the direction of a dependency query (spec §4.B).
type DependencyMode int

const (
	DependsOnArg DependencyMode = iota
	ArgDependsOn
)
