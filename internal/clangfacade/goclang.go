package clangfacade

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sbinet/go-clang"

	"navc/internal/location"
	"navc/internal/source"
	"navc/internal/symbols"
	"navc/internal/tucache"
)

// defaultTUCacheSize is the bound applied when no explicit cache size
// is configured, chosen the way RTags sizes its TranslationUnitCache:
// small enough to bound memory, large enough that the files a user is
// actively bouncing between during completion stay resident.
const defaultTUCacheSize = 8

// ClangFacade implements Preprocessor and Indexer directly over
// go-clang, the same binding the teacher's Parser uses in
// google-navc/parse.go. It runs in-process rather than out-of-process
// (see SPEC_FULL.md's Open Question resolution on the indexer boundary);
// the Index Stage still models it as if launching a subprocess so the
// scheduler's crash/timeout paths are exercised uniformly. CodeCompleteAt
// is backed by a tucache.Cache so repeated completions against the same
// file reuse a parsed translation unit instead of re-parsing from
// scratch (spec §4.C).
type ClangFacade struct {
	reg   *location.Registry
	cache *tucache.Cache
}

// New builds a ClangFacade whose completion path shares reg to derive
// cache keys and bounds its translation-unit cache to cacheSize entries
// (cacheSize <= 0 uses defaultTUCacheSize).
func New(reg *location.Registry, cacheSize int) *ClangFacade {
	if cacheSize <= 0 {
		cacheSize = defaultTUCacheSize
	}
	return &ClangFacade{reg: reg, cache: tucache.New(cacheSize)}
}

// cachedTU pairs a parsed translation unit with the index that owns it;
// both must outlive every CodeCompleteAt call against the unit and are
// released together on eviction via tucache.Unit.Dispose.
type cachedTU struct {
	idx clang.Index
	tu  clang.TranslationUnit
}

func (c cachedTU) Dispose() {
	c.tu.Dispose()
	c.idx.Dispose()
}

func (f *ClangFacade) Preprocess(src source.Source) (*source.Cpp, error) {
	start := time.Now()
	idx := clang.NewIndex(0, 0)
	defer idx.Dispose()

	tu := idx.Parse(src.SourceFile, src.Args, nil, clang.TU_DetailedPreprocessingRecord|clang.TU_Incomplete)
	defer tu.Dispose()

	// The preprocessed text itself isn't reachable through go-clang's
	// narrow surface; this façade treats "Preprocess" as the parse
	// step that produces include-guard bookkeeping and timing. Cpp.Text
	// stays empty: Index re-parses the source file and does not read it.
	return &source.Cpp{
		IncludeGuards: map[string]bool{},
		TimeTaken:     time.Since(start),
	}, nil
}

func (f *ClangFacade) Index(src source.Source, cpp *source.Cpp, reg *location.Registry, visitFn VisitFunc) (*IndexResult, error) {
	start := time.Now()
	idx := clang.NewIndex(0, 0)
	defer idx.Dispose()

	tu := idx.Parse(src.SourceFile, src.Args, nil, clang.TU_DetailedPreprocessingRecord)
	defer tu.Dispose()

	result := NewIndexResult()
	rootFileID := reg.InsertFile(src.SourceFile)

	// decided/suppressed answer invariant 4's "at-most-once" rule: each
	// file id discovered while walking this one translation unit asks
	// visitFn exactly once, and every cursor in a suppressed file is
	// skipped thereafter without asking again. The root file is always
	// visited; suspension (spec §4.B toggleSuspendFile) only ever
	// applies to files pulled in transitively.
	decided := map[uint32]bool{rootFileID: true}
	suppressed := map[uint32]bool{}
	result.Visited[rootFileID] = true

	visit := func(cursor, parent clang.Cursor) clang.ChildVisitResult {
		if cursor.IsNull() {
			return clang.CVR_Continue
		}

		f, line, col, _ := cursor.Location().GetFileLocation()
		curFile := filepath.Clean(f.Name())
		if curFile == "" || curFile == "." {
			return clang.CVR_Continue
		}

		fileID := reg.InsertFile(curFile)
		if !decided[fileID] {
			decided[fileID] = true
			if visitFn != nil && !visitFn(fileID) {
				suppressed[fileID] = true
			} else {
				result.Visited[fileID] = true
			}
		}
		if suppressed[fileID] {
			return clang.CVR_Recurse
		}

		loc := location.Location{FileID: fileID, Line: uint32(line), Col: uint32(col)}

		switch cursor.Kind() {
		case clang.CK_FunctionDecl, clang.CK_StructDecl, clang.CK_ClassDecl,
			clang.CK_FieldDecl, clang.CK_TypedefDecl, clang.CK_EnumDecl,
			clang.CK_EnumConstantDecl, clang.CK_VarDecl, clang.CK_ParmDecl:
			insertDecl(result, loc, cursor)
		case clang.CK_CallExpr, clang.CK_DeclRefExpr, clang.CK_TypeRef,
			clang.CK_MemberRefExpr, clang.CK_MacroExpansion:
			insertUse(result, loc, cursor, reg)
		case clang.CK_InclusionDirective:
			inc := cursor.IncludedFile()
			if incName := inc.Name(); incName != "" {
				incID := reg.InsertFile(filepath.Clean(incName))
				result.Dependencies.Add(rootFileID, incID)
			}
		}

		return clang.CVR_Recurse
	}

	tu.ToCursor().Visit(visit)
	result.ParseTime = time.Since(start)
	return result, nil
}

func insertDecl(result *IndexResult, loc location.Location, cursor clang.Cursor) {
	name := cursor.Spelling()
	kind := kindFromClang(cursor.Kind())
	ci := symbols.New(0, len(name), len(name), name, kind, cursor.Kind().Spelling())

	if defCursor := cursor.DefinitionCursor(); !defCursor.IsNull() {
		ci = ci.SetDefinition(true)
	}

	result.Symbols[loc] = ci
	if name != "" {
		result.SymbolNames.Add(name, loc)
	}
	if usr := cursor.USR(); usr != "" {
		result.Usrs.Add(usr, loc)
	}
}

// insertUse records a non-declaring occurrence (call, reference,
// member access, macro expansion) as a KindReference cursor targeting
// its declaration, and threads the symmetric back-edge onto the
// declaration's own cursor (spec §8 property 1). The teacher's parse.go
// tags call-expressions separately via SymbolUse.FuncCall; that split
// has no observer in this spec's CursorInfo model, so both collapse to
// KindReference here.
func insertUse(result *IndexResult, loc location.Location, cursor clang.Cursor, reg *location.Registry) {
	decl := cursor.Referenced()
	if decl.IsNull() {
		return
	}
	df, dline, dcol, _ := decl.Location().GetFileLocation()
	declFile := filepath.Clean(df.Name())
	if declFile == "" || declFile == "." {
		return
	}
	declLoc := location.Location{
		FileID: reg.InsertFile(declFile),
		Line:   uint32(dline),
		Col:    uint32(dcol),
	}

	name := cursor.Spelling()
	ci := symbols.New(0, len(name), len(name), name, symbols.KindReference, "")
	ci, _ = ci.AddTarget(declLoc)
	result.Symbols[loc] = ci

	// Record the symmetric edge immediately (spec §8 property 1): the
	// declaration cursor gains this use as a reference, mirroring
	// Project.merge's cross-linking enforcement at merge time.
	declCi, ok := result.Symbols[declLoc]
	if !ok {
		declCi = symbols.New(0, 0, 0, name, symbols.KindDeclaration, "")
	}
	declCi, _ = declCi.AddReference(loc)
	result.Symbols[declLoc] = declCi
}

// CodeCompleteAt answers a completion request by reusing the cached
// translation unit for src's file when one is already parsed with the
// same compiler and arguments, and parsing (then caching) it otherwise
// (spec §4.C get()/insert()). This is the only caller that touches
// f.cache: Index always parses fresh, since a one-shot full index pass
// gains nothing from a unit another goroutine might still be using.
func (f *ClangFacade) CodeCompleteAt(src source.Source, line, col int) ([]Completion, error) {
	fileID := f.reg.InsertFile(src.SourceFile)
	info := tucache.SourceInformation{FileID: fileID, Compiler: src.Compiler, Args: src.Args}

	unit, hit := f.cache.Get(info)
	if !hit {
		unit = f.cache.Insert(info)
		go f.parseIntoCache(unit, src)
	}

	if state := unit.WaitReady(); state != tucache.Ready {
		return nil, fmt.Errorf("clangfacade: translation unit for %s failed to parse", src.SourceFile)
	}
	cached, ok := unit.Handle().(cachedTU)
	if !ok {
		return nil, fmt.Errorf("clangfacade: translation unit for %s has no cached handle", src.SourceFile)
	}
	tu := cached.tu

	results := tu.CodeCompleteAt(src.SourceFile, uint(line), uint(col), nil, clang.CCTU_None)
	if results == nil {
		return nil, fmt.Errorf("clangfacade: no completion results at %s:%d:%d", src.SourceFile, line, col)
	}
	defer results.Dispose()

	out := make([]Completion, 0, results.NumResults())
	for i := 0; i < results.NumResults(); i++ {
		r := results.Result(i)
		out = append(out, Completion{
			Text:     r.CompletionString().Spelling(),
			Kind:     kindFromClang(r.CursorKind()),
			Priority: int(r.CompletionString().Priority()),
		})
	}
	return out, nil
}

// parseIntoCache parses src on a background goroutine and transitions
// unit to Ready with the resulting handle, waking any caller blocked in
// WaitReady (spec §4.C Parsing -> Ready). A failed parse is not
// detected here: the unit still ends Ready.
func (f *ClangFacade) parseIntoCache(unit *tucache.Unit, src source.Source) {
	unit.Transition(tucache.Parsing, nil)

	idx := clang.NewIndex(0, 0)
	tu := idx.Parse(src.SourceFile, src.Args, nil, clang.TU_DetailedPreprocessingRecord)
	unit.Transition(tucache.Ready, cachedTU{idx: idx, tu: tu})
}

func kindFromClang(k clang.CursorKind) symbols.Kind {
	switch k {
	case clang.CK_FunctionDecl:
		return symbols.KindFunction
	case clang.CK_ClassDecl, clang.CK_StructDecl:
		return symbols.KindClass
	case clang.CK_Constructor:
		return symbols.KindConstructor
	case clang.CK_Destructor:
		return symbols.KindDestructor
	case clang.CK_VarDecl:
		return symbols.KindVariable
	case clang.CK_FieldDecl:
		return symbols.KindMember
	case clang.CK_ParmDecl:
		return symbols.KindArgument
	default:
		return symbols.KindDeclaration
	}
}
