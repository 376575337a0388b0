package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherReportsSourceAndHeaderChanges(t *testing.T) {
	root := t.TempDir()

	var mu sync.Mutex
	var sources, headers, removed []string

	w, err := New([]string{root}, Callbacks{
		OnSourceChanged: func(path string) { mu.Lock(); sources = append(sources, path); mu.Unlock() },
		OnHeaderChanged: func(path string) { mu.Lock(); headers = append(headers, path); mu.Unlock() },
		OnRemoved:       func(path string) { mu.Lock(); removed = append(removed, path); mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	go w.Run()

	cFile := filepath.Join(root, "a.c")
	hFile := filepath.Join(root, "a.h")

	if err := os.WriteFile(cFile, []byte("int main(){}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(hFile, []byte("void f();"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		gotSource, gotHeader := len(sources) > 0, len(headers) > 0
		mu.Unlock()
		if gotSource && gotHeader {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for events: sources=%v headers=%v", sources, headers)
}
