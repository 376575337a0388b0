package indexjob

import (
	"errors"
	"testing"

	"navc/internal/clangfacade"
	"navc/internal/location"
	"navc/internal/source"
	"navc/internal/symbols"
)

type fakeIndexer struct {
	result *clangfacade.IndexResult
	err    error
}

func (f *fakeIndexer) Index(src source.Source, cpp *source.Cpp, reg *location.Registry, visit clangfacade.VisitFunc) (*clangfacade.IndexResult, error) {
	return f.result, f.err
}

func (f *fakeIndexer) CodeCompleteAt(src source.Source, line, col int) ([]clangfacade.Completion, error) {
	return nil, nil
}

func TestRunCompletesAndProducesIndexData(t *testing.T) {
	reg := location.NewRegistry()
	fileID := reg.InsertFile("a.c")

	result := clangfacade.NewIndexResult()
	result.Visited[fileID] = true
	result.Symbols[location.Location{FileID: fileID, Line: 1, Col: 1}] = symbols.New(0, 1, 1, "x", symbols.KindVariable, "int")
	fi := &fakeIndexer{result: result}

	j := New(1, "proj", source.Source{SourceFile: "a.c"}.SetIDs(fileID, 0), nil, FlagNone)
	data, err := j.Run(fi, reg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if j.State() != Complete {
		t.Fatalf("expected Complete, got %s", j.State())
	}
	if data.FileID() != fileID {
		t.Fatalf("expected fileId %d, got %d", fileID, data.FileID())
	}
	if _, ok := data.VisitedFiles()[fileID]; !ok {
		t.Fatalf("expected fileId %d in VisitedFiles", fileID)
	}
}

func TestRunCrashesOnIndexerError(t *testing.T) {
	reg := location.NewRegistry()
	fi := &fakeIndexer{err: errors.New("indexer exploded")}

	j := New(2, "proj", source.Source{SourceFile: "a.c"}, nil, FlagNone)
	if _, err := j.Run(fi, reg, nil); err == nil {
		t.Fatalf("expected error from Run")
	}
	if j.State() != Crashed {
		t.Fatalf("expected Crashed, got %s", j.State())
	}
}

func TestStartTwiceRejected(t *testing.T) {
	j := New(3, "proj", source.Source{SourceFile: "a.c"}, nil, FlagNone)
	if err := j.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := j.Start(); err == nil {
		t.Fatalf("expected second Start to fail")
	}
}

func TestAbortIsTerminalAndIdempotent(t *testing.T) {
	j := New(4, "proj", source.Source{SourceFile: "a.c"}, nil, FlagNone)
	j.Abort()
	if j.State() != Aborted {
		t.Fatalf("expected Aborted, got %s", j.State())
	}
	j.Crash() // must not override a terminal Aborted state
	if j.State() != Aborted {
		t.Fatalf("expected Aborted to stick, got %s", j.State())
	}
}

func TestUpdateMergesFlagsWhilePending(t *testing.T) {
	j := New(5, "proj", source.Source{SourceFile: "a.c"}, nil, FlagDirty)
	if err := j.Update(source.Source{SourceFile: "a.c"}, nil, FlagDump); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !j.Flags.Has(FlagDirty) || !j.Flags.Has(FlagDump) {
		t.Fatalf("expected both flags set, got %v", j.Flags)
	}
}

func TestUpdateRejectedAfterCompletion(t *testing.T) {
	reg := location.NewRegistry()
	fi := &fakeIndexer{result: clangfacade.NewIndexResult()}
	j := New(6, "proj", source.Source{SourceFile: "a.c"}, nil, FlagNone)
	if _, err := j.Run(fi, reg, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := j.Update(source.Source{SourceFile: "a.c"}, nil, FlagDirty); err == nil {
		t.Fatalf("expected Update to fail after Complete")
	}
}
