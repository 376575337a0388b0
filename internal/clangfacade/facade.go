// Package clangfacade is the narrow façade spec §1 calls out as the
// boundary to the (out-of-scope) clang parsing/AST-visiting library:
// "preprocess source", "index translation unit", "produce
// completions". The default implementation below is grounded directly
// on the teacher's only other-process collaborator,
// github.com/sbinet/go-clang, used exactly the way google-navc/parse.go
// uses it (clang.NewIndex, idx.Parse, cursor.Visit).
package clangfacade

import (
	"time"

	"navc/internal/location"
	"navc/internal/source"
	"navc/internal/symbols"
)

// Completion is one entry produced by CodeCompleteAt.
type Completion struct {
	Text     string
	Kind     symbols.Kind
	Priority int
}

// Preprocessor runs the C preprocessor over a Source and returns the
// Cpp artifact the Preprocess Stage hands to the Index Stage (spec §4.D).
type Preprocessor interface {
	Preprocess(src source.Source) (*source.Cpp, error)
}

// VisitFunc answers a VisitFileMessage for one file id encountered
// while indexing: whether it should actually be visited (spec §4.E,
// invariant 4). Index calls it at most once per file id it discovers,
// and skips recording that file's symbols when it returns false.
type VisitFunc func(fileID uint32) bool

// Indexer parses a translation unit and produces IndexData-shaped
// results: symbols, references, dependencies. It also answers
// CodeCompleteAt requests (spec §6 QueryMessage).
type Indexer interface {
	Index(src source.Source, cpp *source.Cpp, reg *location.Registry, visit VisitFunc) (*IndexResult, error)
	CodeCompleteAt(src source.Source, line, col int) ([]Completion, error)
}

// IndexResult is everything one indexer invocation produces, prior to
// being wrapped in the scheduler's IndexData envelope.
type IndexResult struct {
	Symbols      symbols.SymbolMap
	SymbolNames  symbols.SymbolNameMap
	Dependencies symbols.DependencyMap
	Usrs         symbols.UsrMap
	FixIts       symbols.FixItMap
	Visited      map[uint32]bool // fileId -> true if actually visited (spec §4.E VisitFileMessage)
	ParseTime    time.Duration
}

func NewIndexResult() *IndexResult {
	return &IndexResult{
		Symbols:      symbols.SymbolMap{},
		SymbolNames:  symbols.SymbolNameMap{},
		Dependencies: symbols.DependencyMap{},
		Usrs:         symbols.UsrMap{},
		FixIts:       symbols.FixItMap{},
		Visited:      map[uint32]bool{},
	}
}
