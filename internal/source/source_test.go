package source

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeCompileCommands(t *testing.T, dir string, cmds []compileCommand) {
	t.Helper()
	b, err := json.Marshal(cmds)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "compile_commands.json"), b, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDatabaseExtractsIncludeAndDefineFlags(t *testing.T) {
	dir := t.TempDir()
	srcFile := filepath.Join(dir, "a.c")
	writeCompileCommands(t, dir, []compileCommand{
		{Directory: dir, Command: "cc -DFOO -I" + dir + "/inc -c a.c", File: srcFile},
	})

	db, err := LoadDatabase([]string{dir})
	if err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}

	args, ok := db.Args(srcFile)
	if !ok {
		t.Fatalf("expected args for %s", srcFile)
	}
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	if !contains(args, "-DFOO") {
		t.Fatalf("missing -DFOO in %v", args)
	}
	if !contains(args, "-I") {
		t.Fatalf("missing -I in %v", args)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestSourceKeyRoundTrip(t *testing.T) {
	s := Source{SourceFile: "a.c"}.SetIDs(5, 9)
	fileID, buildRootID := DecodeKey(s.Key())
	if fileID != 5 || buildRootID != 9 {
		t.Fatalf("got (%d,%d)", fileID, buildRootID)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]Language{
		"a.c":   LangC,
		"a.cpp": LangCPlusPlus,
		"a.mm":  LangObjC,
		"a.xyz": LangUnknown,
	}
	for path, want := range cases {
		if got := DetectLanguage(path); got != want {
			t.Errorf("%s: got %v want %v", path, got, want)
		}
	}
}
