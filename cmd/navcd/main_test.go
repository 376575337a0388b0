package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navc/internal/indexjob"
	"navc/internal/location"
	"navc/internal/logx"
	"navc/internal/project"
	"navc/internal/symbols"
)

func newTestHandler(t *testing.T) (*RequestHandler, *project.Project, string) {
	t.Helper()
	root := t.TempDir()
	srcPath := filepath.Join(root, "a.c")
	require.NoError(t, os.WriteFile(srcPath, []byte("int foo() { retrn 1; }\n"), 0o644))

	reg := location.NewRegistry()
	mgr, err := project.NewManager(t.TempDir(), reg, 0)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.CloseAll() })

	p, err := mgr.Open(root)
	require.NoError(t, err)
	require.NoError(t, mgr.SetCurrent(root))

	rh := &RequestHandler{
		manager:  mgr,
		registry: reg,
		logger:   logx.New("navcd-test"),
		shutdown: make(chan struct{}),
	}
	return rh, p, srcPath
}

func TestRequestHandlerFixItsRendersDiff(t *testing.T) {
	rh, p, srcPath := newTestHandler(t)
	fileID := rh.registry.InsertFile(srcPath)

	jobID := p.BeginJob()
	p.Merge(jobID, &indexjob.IndexData{
		FixIts: symbols.FixItMap{
			fileID: {{Start: 12, End: 17, Replacement: "return"}},
		},
	})

	var reply []string
	err := rh.FixIts(&Symbol{File: srcPath}, &reply)
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	assert.Contains(t, reply, "-int foo() { retrn 1; }")
	assert.Contains(t, reply, "+int foo() { return 1; }")
}

func TestRequestHandlerFixItsNoneRecorded(t *testing.T) {
	rh, p, srcPath := newTestHandler(t)
	jobID := p.BeginJob()
	p.Merge(jobID, &indexjob.IndexData{})

	var reply []string
	err := rh.FixIts(&Symbol{File: srcPath}, &reply)
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestRequestHandlerFixItsUnknownProject(t *testing.T) {
	rh, _, _ := newTestHandler(t)
	var reply []string
	err := rh.FixIts(&Symbol{File: "/nowhere/x.c"}, &reply)
	assert.Error(t, err)
}
