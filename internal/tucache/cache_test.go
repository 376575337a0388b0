package tucache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInsertAndGetHitRequiresMatchingArgs(t *testing.T) {
	c := New(4)
	info := SourceInformation{FileID: 1, Compiler: "cc", Args: []string{"-DX"}}
	u := c.Insert(info)
	u.Transition(Ready, "handle-1")

	got, ok := c.Get(info)
	assert.True(t, ok)
	assert.Same(t, u, got)

	mismatched := SourceInformation{FileID: 1, Compiler: "cc", Args: []string{"-DY"}}
	_, ok = c.Get(mismatched)
	assert.False(t, ok, "expected miss for mismatched args")
}

func TestFindIgnoresArgsAndPromotesMRU(t *testing.T) {
	c := New(2)
	c.Insert(SourceInformation{FileID: 1})
	c.Insert(SourceInformation{FileID: 2})

	_, ok := c.Find(1)
	assert.True(t, ok, "expected Find to locate fileId 1")

	// fileId 1 is now MRU; inserting a third entry should evict fileId 2.
	c.Insert(SourceInformation{FileID: 3})
	_, ok = c.Find(2)
	assert.False(t, ok, "expected fileId 2 to be evicted")
	_, ok = c.Find(1)
	assert.True(t, ok, "expected fileId 1 to survive eviction")
}

func TestEvictionDisposesHandle(t *testing.T) {
	c := New(1)
	disposed := false
	u := c.Insert(SourceInformation{FileID: 1})
	u.Transition(Ready, disposableHandle{&disposed})

	c.Insert(SourceInformation{FileID: 2}) // evicts fileId 1

	assert.True(t, disposed, "expected evicted unit's handle to be disposed")
}

type disposableHandle struct{ disposed *bool }

func (d disposableHandle) Dispose() { *d.disposed = true }

func TestWaitReadyBlocksUntilTransition(t *testing.T) {
	c := New(1)
	u := c.Insert(SourceInformation{FileID: 1})

	var wg sync.WaitGroup
	wg.Add(1)
	var final State
	go func() {
		defer wg.Done()
		final = u.WaitReady()
	}()

	time.Sleep(10 * time.Millisecond)
	u.Transition(Parsing, nil)
	time.Sleep(10 * time.Millisecond)
	u.Transition(Ready, "handle")

	wg.Wait()
	assert.Equal(t, Ready, final)
}

func TestWaitReadyReturnsInvalidOnFailedParse(t *testing.T) {
	c := New(1)
	u := c.Insert(SourceInformation{FileID: 1})

	var wg sync.WaitGroup
	wg.Add(1)
	var final State
	go func() {
		defer wg.Done()
		final = u.WaitReady()
	}()

	time.Sleep(10 * time.Millisecond)
	u.Transition(Invalid, nil)

	wg.Wait()
	assert.Equal(t, Invalid, final)
}

func TestCacheSizeReportsBoundedCount(t *testing.T) {
	c := New(2)
	assert.Equal(t, 2, c.MaxSize())
	c.Insert(SourceInformation{FileID: 1})
	c.Insert(SourceInformation{FileID: 2})
	c.Insert(SourceInformation{FileID: 3})
	assert.Equal(t, 2, c.Size())
}
