package preprocess

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"navc/internal/source"
)

type fakePreprocessor struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	fail  map[string]bool
}

func (f *fakePreprocessor) Preprocess(src source.Source) (*source.Cpp, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[src.SourceFile] {
		return nil, fmt.Errorf("boom: %s", src.SourceFile)
	}
	return &source.Cpp{IncludeGuards: map[string]bool{}}, nil
}

func TestPoolProcessesAllSubmittedJobs(t *testing.T) {
	fp := &fakePreprocessor{}
	p := New(fp, 3, 10)

	const n = 20
	for i := 0; i < n; i++ {
		if err := p.Submit(context.Background(), source.Source{SourceFile: fmt.Sprintf("f%d.c", i)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		r := <-p.Results()
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		seen[r.Source.SourceFile] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct results, got %d", n, len(seen))
	}
	p.Close()
}

func TestSubmitRejectsOverMaxPending(t *testing.T) {
	fp := &fakePreprocessor{delay: 50 * time.Millisecond}
	p := New(fp, 1, 2)
	defer p.Close()

	ok := 0
	for i := 0; i < 5; i++ {
		if err := p.Submit(context.Background(), source.Source{SourceFile: fmt.Sprintf("f%d.c", i)}); err == nil {
			ok++
		}
	}
	if ok > 2 {
		t.Fatalf("expected at most MaxPending admissions before backpressure, got %d", ok)
	}
	// drain to unblock the worker
	for i := 0; i < ok; i++ {
		<-p.Results()
	}
}

func TestSubmitAtCapacityFailsBeforeContextDeadline(t *testing.T) {
	fp := &fakePreprocessor{delay: 100 * time.Millisecond}
	p := New(fp, 1, 1)
	defer p.Close()

	// fill the single slot and keep the worker busy
	if err := p.Submit(context.Background(), source.Source{SourceFile: "busy.c"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	// this submission exceeds maxPending so it returns the capacity error,
	// not a context error, since capacity is checked first.
	err := p.Submit(ctx, source.Source{SourceFile: "second.c"})
	if err == nil {
		t.Fatalf("expected an error from Submit at capacity")
	}
	<-p.Results()
}

func TestResultCarriesPreprocessError(t *testing.T) {
	fp := &fakePreprocessor{fail: map[string]bool{"bad.c": true}}
	p := New(fp, 1, 4)
	defer p.Close()

	if err := p.Submit(context.Background(), source.Source{SourceFile: "bad.c"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := <-p.Results()
	if r.Err == nil {
		t.Fatalf("expected preprocessing error to surface on Result")
	}
}
