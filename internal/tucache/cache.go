// Package tucache is the bounded LRU of parsed translation units (spec
// §4.C), grounded directly on RTags TranslationUnitCache.h/.cpp
// (original_source/src). The LRU bookkeeping is delegated to
// hashicorp/golang-lru/v2 (the pack's real dependency, pulled from
// Keyhole-Koro-InsightifyCore and dshills-gocontext-mcp's go.mod); the
// per-entry state machine and condition-variable wait the RTags source
// hand-rolls are layered on top, since the LRU library has no notion
// of entry lifecycle.
package tucache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// State is a TranslationUnit's lifecycle state (spec §3 Lifecycles,
// §4.C).
type State int

const (
	Invalid State = iota
	Parsing
	Reparsing
	Completing
	Ready
)

// SourceInformation is the subset of Source that must match exactly
// (argument-order sensitive) for a cache hit (spec §4.C get()).
type SourceInformation struct {
	FileID   uint32
	Compiler string
	Args     []string
}

func (s SourceInformation) equal(o SourceInformation) bool {
	if s.Compiler != o.Compiler || len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// Unit is one cached, possibly in-flight, parsed translation unit. The
// cache owns it exclusively; disposing the underlying parser handle
// happens through Dispose, mirroring the RTags destructor's
// clang_disposeTranslationUnit call.
type Unit struct {
	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	info   SourceInformation
	handle any // opaque parser handle (e.g. a *clangfacade parse result)

	// transitioned is set by the first Transition, so WaitReady can tell
	// a failed parse from the Invalid state a fresh unit starts in.
	transitioned bool
}

func newUnit(info SourceInformation) *Unit {
	u := &Unit{state: Invalid, info: info}
	u.cond = sync.NewCond(&u.mu)
	return u
}

func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Unit) SourceInformation() SourceInformation { return u.info }

// Transition moves the unit to a new state, optionally installing the
// parser handle, and wakes any waiters (RTags TranslationUnit::transition).
func (u *Unit) Transition(state State, handle any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = state
	u.transitioned = true
	if handle != nil {
		u.handle = handle
	}
	u.cond.Broadcast()
}

// WaitReady blocks until the unit reaches Ready or is transitioned to
// Invalid (a failed parse), returning the final state. The Invalid
// state a freshly inserted unit starts in does not end the wait.
func (u *Unit) WaitReady() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	for u.state != Ready && !(u.state == Invalid && u.transitioned) {
		u.cond.Wait()
	}
	return u.state
}

func (u *Unit) Handle() any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.handle
}

// Dispose releases the underlying parser resource: if the handle has a
// Dispose method (e.g. a clang translation unit wrapper) it is called,
// then the handle is dropped and the unit is reset to Invalid.
func (u *Unit) Dispose() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if closer, ok := u.handle.(interface{ Dispose() }); ok {
		closer.Dispose()
	}
	u.handle = nil
	u.state = Invalid
}

// Cache is a bounded, thread-safe LRU of Units keyed by file id.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[uint32, *Unit]
	maxSize int
}

// New creates a Cache holding at most size entries. Eviction disposes
// the evicted unit's parser handle, matching RTags'
// TranslationUnitCache::purge.
func New(size int) *Cache {
	c := &Cache{maxSize: size}
	l, _ := lru.NewWithEvict(size, func(_ uint32, u *Unit) {
		u.Dispose()
	})
	c.lru = l
	return c
}

// Find returns the cached unit for fileId regardless of source
// arguments, moving it to MRU.
func (c *Cache) Find(fileID uint32) (*Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(fileID)
}

// Get returns a hit only if the cached entry's compiler and argument
// vector match exactly (spec §4.C get()).
func (c *Cache) Get(info SourceInformation) (*Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.lru.Peek(info.FileID)
	if !ok || !u.info.equal(info) {
		return nil, false
	}
	c.lru.Get(info.FileID) // promote to MRU
	return u, true
}

// Insert places a new, Invalid-state unit for info at the MRU end,
// evicting the LRU entry if the cache is over maxSize, and returns it
// for the caller to drive through Parsing -> Ready.
func (c *Cache) Insert(info SourceInformation) *Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := newUnit(info)
	c.lru.Add(info.FileID, u)
	return u
}

func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) MaxSize() int { return c.maxSize }
