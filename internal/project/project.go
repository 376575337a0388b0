// Package project is the per-project mutation and query surface (spec
// §4.B): addSource, index, merge, dirty, reindex, remove,
// suspend/resume, and the read queries (locations, sort, symbols,
// dependencies, fixIts). Persistence follows the teacher's badger-backed
// generation (google-navc/symbols_db.go): one badger directory per
// project, gob-encoded values, retried on ErrConflict. An in-memory
// snapshot keeps query latency off the badger transaction path; it is
// flushed back to badger only by Unload (and Close). There is no
// periodic or debounced sync timer.
package project

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger"

	"navc/internal/indexjob"
	"navc/internal/location"
	"navc/internal/source"
	"navc/internal/symbols"
)

// State is a Project's lifecycle state, grounded on RTags Project::State.
type State int

const (
	Unloaded State = iota
	Inited
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case Inited:
		return "Inited"
	case Loading:
		return "Loading"
	case Loaded:
		return "Loaded"
	default:
		return "Unknown"
	}
}

const databaseVersion = 1

// snapshot is the in-memory mirror of everything query reads touch.
type snapshot struct {
	symbols      symbols.SymbolMap
	symbolNames  symbols.SymbolNameMap
	dependencies symbols.DependencyMap
	files        symbols.FilesMap
	usrs         symbols.UsrMap
	fixIts       symbols.FixItMap
	suspended    map[uint32]bool
}

func newSnapshot() *snapshot {
	return &snapshot{
		symbols:      symbols.SymbolMap{},
		symbolNames:  symbols.SymbolNameMap{},
		dependencies: symbols.DependencyMap{},
		files:        symbols.FilesMap{},
		usrs:         symbols.UsrMap{},
		fixIts:       symbols.FixItMap{},
		suspended:    map[uint32]bool{},
	}
}

// dropFileLocations removes every symbols/symbolNames/usrs/fixIts entry
// physically located in any file in files, so no Location with
// fileId in files survives in any bucket afterward (spec §3
// invariant 2). Dirty and Remove both need this; Dirty additionally
// strips outgoing target/reference edges first via CursorInfo.Dirty.
func (s *snapshot) dropFileLocations(files map[uint32]struct{}) {
	for loc := range s.symbols {
		if _, ok := files[loc.FileID]; ok {
			delete(s.symbols, loc)
		}
	}
	for name, locs := range s.symbolNames {
		for loc := range locs {
			if _, ok := files[loc.FileID]; ok {
				delete(locs, loc)
			}
		}
		if len(locs) == 0 {
			delete(s.symbolNames, name)
		}
	}
	for usr, locs := range s.usrs {
		for loc := range locs {
			if _, ok := files[loc.FileID]; ok {
				delete(locs, loc)
			}
		}
		if len(locs) == 0 {
			delete(s.usrs, usr)
		}
	}
	for fileID := range files {
		delete(s.fixIts, fileID)
	}
}

// Project owns one indexed source tree: its symbol database, its
// known Sources, and its lifecycle state. Grounded on RTags Project.h.
type Project struct {
	mu sync.RWMutex

	Path  string
	state State

	reg     *location.Registry
	db      *badger.DB
	snap    *snapshot
	sources map[uint32]source.Source // fileId -> Source, spec §3 "addSource"

	indexing map[uint64]struct{} // jobIds currently in flight, spec Project.isIndexing

	// visitLedger tracks, per in-flight jobId, which file ids have
	// already answered a VisitFileMessage (spec §4.E, invariant 4): a
	// (jobId, fileId) pair answers true at most once. Entries are
	// dropped once the job finishes (Merge or FailJob).
	visitLedger map[uint64]map[uint32]bool

	// crashCounts tracks consecutive crashes per Source.Key (spec
	// §4.E crash policy, testable scenario S5): reaching MaxCrashCount
	// surfaces the job as a persistent failure instead of retrying.
	crashCounts map[uint64]int
}

// MaxCrashCount is spec §4.E's bound on consecutive crash-retries for
// the same source key before a job is surfaced as a persistent
// failure rather than rescheduled.
const MaxCrashCount = 3

// New constructs a Project rooted at path, opening (or creating) its
// badger directory under dataDir. idleUnload is accepted for call-site
// compatibility with Manager, which is solely responsible for routing
// idle-unload decisions (Manager.UnloadIdle, Manager.StartIdleUnloader)
// so that the Manager's notion of "current project" is never unloaded
// out from under a client (spec §5); Project no longer runs its own
// self-unload timer.
func New(path, dataDir string, reg *location.Registry, idleUnload time.Duration) (*Project, error) {
	dbPath := filepath.Join(dataDir, encodePath(path))
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, fmt.Errorf("project: creating db dir: %w", err)
	}

	opts := badger.DefaultOptions
	opts.Dir = dbPath
	opts.ValueDir = dbPath
	opts.SyncWrites = false
	backing, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("project: opening badger db: %w", err)
	}

	p := &Project{
		Path:        path,
		state:       Inited,
		reg:         reg,
		db:          backing,
		snap:        newSnapshot(),
		sources:     map[uint32]source.Source{},
		indexing:    map[uint64]struct{}{},
		visitLedger: map[uint64]map[uint32]bool{},
		crashCounts: map[uint64]int{},
	}
	if err := p.restore(); err != nil {
		// Corrupted persisted tables are deleted, not salvaged (spec
		// invariant 5, testable scenario S6): wipe the badger
		// directory this project was just backed by and start clean
		// rather than fail the project open entirely.
		backing.Close()
		if rmErr := os.RemoveAll(dbPath); rmErr != nil {
			return nil, fmt.Errorf("project: removing corrupted db dir: %w", rmErr)
		}
		if mkErr := os.MkdirAll(dbPath, 0700); mkErr != nil {
			return nil, fmt.Errorf("project: recreating db dir: %w", mkErr)
		}
		backing, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("project: reopening badger db after corruption: %w", err)
		}
		p.db = backing
		p.snap = newSnapshot()
	}
	return p, nil
}

func encodePath(path string) string {
	out := make([]byte, 0, len(path))
	for _, r := range path {
		if r == '/' || r == os.PathSeparator {
			out = append(out, '_')
		} else {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

// State returns the current lifecycle state.
func (p *Project) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// IsIndexing reports whether any job is currently in flight for this
// project, the condition onUnload checks before unloading (spec §4.A).
func (p *Project) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.indexing) > 0
}

// AddSource registers src for indexing, generalizing addSourceFile
// (spec §3 "addSource").
func (p *Project) AddSource(src source.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fileID, _ := source.DecodeKey(src.Key())
	p.sources[fileID] = src
}

// Sources returns the Source registered for fileId, if any.
func (p *Project) Sources(fileID uint32) (source.Source, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sources[fileID]
	return s, ok
}

// jobIDs is shared by every Project so job ids are unique process-wide.
var jobIDs atomic.Uint64

// BeginJob allocates a jobId and marks this project as indexing.
func (p *Project) BeginJob() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := jobIDs.Add(1)
	p.indexing[id] = struct{}{}
	p.state = Loading
	return id
}

// Merge folds completed IndexData into the project's symbol database,
// unioning target/reference sets via CursorInfo.Unite (spec §4.B
// merge, §8 property 3): re-indexing a file never loses a
// still-correct cross-reference discovered by a previous pass.
func (p *Project) Merge(jobID uint64, data *indexjob.IndexData) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.indexing, jobID)
	if len(p.indexing) == 0 {
		p.state = Loaded
	}

	for loc, ci := range data.Symbols {
		existing, ok := p.snap.symbols[loc]
		if !ok {
			p.snap.symbols[loc] = ci
			continue
		}
		united, _ := existing.Unite(ci)
		p.snap.symbols[loc] = united
	}
	for name, locs := range data.SymbolNames {
		for loc := range locs {
			p.snap.symbolNames.Add(name, loc)
		}
	}
	for from, tos := range data.Dependencies {
		for to := range tos {
			p.snap.dependencies.Add(from, to)
		}
	}
	for usr, locs := range data.Usrs {
		for loc := range locs {
			p.snap.usrs.Add(usr, loc)
		}
	}
	for fileID, fixits := range data.FixIts {
		for _, fi := range fixits {
			p.snap.fixIts.Append(fileID, fi)
		}
	}
	for fileID, v := range data.Visited {
		if v {
			p.snap.files[fileID] = symbols.FileInfo{LastIndexed: time.Now().Unix(), Indexed: true}
		}
	}

	delete(p.visitLedger, jobID)
	delete(p.crashCounts, data.Key)
}

// FailJob removes jobId from the in-flight set without merging any
// data, for a crashed job; a retry, if any, runs under a new jobId
// (spec §4.E).
func (p *Project) FailJob(jobID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.indexing, jobID)
	delete(p.visitLedger, jobID)
	if len(p.indexing) == 0 {
		p.state = Loaded
	}
}

// RegisterCrash records a crash for source key (spec §4.E, testable
// scenario S5) and reports whether the job should be rescheduled:
// retry is true while the running count stays below MaxCrashCount.
func (p *Project) RegisterCrash(key uint64) (retry bool, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crashCounts[key]++
	count = p.crashCounts[key]
	return count < MaxCrashCount, count
}

// Dirty invalidates any CursorInfo with a target or reference in a
// dirtied file and returns the transitive set of files that depended
// on them, so the caller can re-queue them for indexing (spec §4.B
// dirty, §8 S2's transitive dependents rule).
func (p *Project) Dirty(dirtyFiles map[uint32]struct{}) map[uint32]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	for loc, ci := range p.snap.symbols {
		cleaned, changed := ci.Dirty(dirtyFiles)
		if changed {
			p.snap.symbols[loc] = cleaned
		}
	}
	p.snap.dropFileLocations(dirtyFiles)
	for fileID := range dirtyFiles {
		delete(p.snap.files, fileID)
	}

	return p.snap.dependencies.TransitiveDependents(dirtyFiles)
}

// Reindex marks fileID (and its transitive dependents) dirty and
// returns the set of file ids that need a fresh Source admitted to the
// scheduler.
func (p *Project) Reindex(fileID uint32) map[uint32]struct{} {
	dirty := map[uint32]struct{}{fileID: {}}
	deps := p.Dirty(dirty)
	deps[fileID] = struct{}{}
	return deps
}

// Remove drops fileID's symbols and dependency edges entirely, the
// teacher's RemoveFileReferences generalized to the unified symbol map.
func (p *Project) Remove(fileID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.dropFileLocations(map[uint32]struct{}{fileID: {}})
	delete(p.snap.dependencies, fileID)
	for _, tos := range p.snap.dependencies {
		delete(tos, fileID)
	}
	delete(p.snap.files, fileID)
	delete(p.sources, fileID)
}

// Suspend toggles whether fileID is excluded from indexing (spec
// §4.B's toggleSuspendFile), returning the new suspended state.
func (p *Project) Suspend(fileID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.suspended[fileID] {
		delete(p.snap.suspended, fileID)
		return false
	}
	p.snap.suspended[fileID] = true
	return true
}

func (p *Project) IsSuspended(fileID uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.suspended[fileID]
}

// VisitFile answers a VisitFileMessage: whether fileID should be
// visited for the job identified by key, at most once per (key,
// fileID) pair (spec invariant 4). Suspended files never answer true.
// The in-process indexer (indexjob.Job.Run's visit callback) consults
// this directly rather than through protocol.VisitFileMessage's RPC
// envelope, since there is no out-of-process indexer to round-trip
// with (see SPEC_FULL.md's indexer-boundary Open Question).
func (p *Project) VisitFile(fileID uint32, key uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.suspended[fileID] {
		return false
	}
	seen, ok := p.visitLedger[key]
	if !ok {
		seen = map[uint32]bool{}
		p.visitLedger[key] = seen
	}
	if seen[fileID] {
		return false
	}
	seen[fileID] = true
	return true
}

// Symbols returns the full symbol map snapshot for read-only queries.
func (p *Project) Symbols() symbols.SymbolMap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.symbols
}

// DependencyGraph returns the full, unfiltered dependency map snapshot.
func (p *Project) DependencyGraph() symbols.DependencyMap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.dependencies
}

// Dependencies answers spec §4.B's dependencies(fileId, mode): with
// DependsOnArg it returns the files fileID depends on; with
// ArgDependsOn it returns the files that depend on fileID.
func (p *Project) Dependencies(fileID uint32, mode symbols.DependencyMode) map[uint32]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if mode == symbols.ArgDependsOn {
		return p.snap.dependencies.DependentsOf(fileID)
	}
	return p.snap.dependencies.DependsOn(fileID)
}

func (p *Project) FixIts(fileID uint32) []symbols.FixIt {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.fixIts[fileID]
}

// Locations resolves a symbol name to its recorded occurrences.
func (p *Project) Locations(name string) []location.Location {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.symbolNames.Locations(name)
}

// Sort produces spec §3's SortedCursor list for a location set.
func (p *Project) Sort(locs map[location.Location]struct{}, flags symbols.SortFlag) []symbols.SortedCursor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return symbols.Sort(p.snap.symbols, locs, flags)
}

// Unload flushes the snapshot to badger and releases in-memory state,
// matching RTags Project::unload. Callers must ensure IsIndexing is
// false first (spec §4.A onUnload).
func (p *Project) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flushLocked(); err != nil {
		return err
	}
	p.state = Unloaded
	p.snap = newSnapshot()
	return nil
}

// Close unloads and closes the backing badger store.
func (p *Project) Close() error {
	if err := p.Unload(); err != nil {
		return err
	}
	return p.db.Close()
}

// flushLocked writes the current snapshot to badger as one record per
// table, each wrapped in the (version, size) corruption-detection
// envelope spec invariant 5 requires, following symbols_db.go's
// gob-encode-then-retryUpdate idiom.
func (p *Project) flushLocked() error {
	tables := map[string]any{
		"symbols":      p.snap.symbols,
		"symbolNames":  p.snap.symbolNames,
		"dependencies": p.snap.dependencies,
		"files":        p.snap.files,
		"usrs":         p.snap.usrs,
		"fixIts":       p.snap.fixIts,
	}

	return retryUpdate(p.db, func(txn *badger.Txn) error {
		for key, table := range tables {
			enc, err := encodeTable(table)
			if err != nil {
				return fmt.Errorf("project: encoding %s: %w", key, err)
			}
			if err := txn.Set([]byte(key), enc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Project) restore() error {
	return retryView(p.db, func(txn *badger.Txn) error {
		get := func(key string, out any) error {
			item, err := txn.Get([]byte(key))
			if err == badger.ErrKeyNotFound {
				return nil
			}
			if err != nil {
				return err
			}
			return item.Value(func(bin []byte) error {
				return decodeTable(bin, out)
			})
		}
		if err := get("symbols", &p.snap.symbols); err != nil {
			return err
		}
		if err := get("symbolNames", &p.snap.symbolNames); err != nil {
			return err
		}
		if err := get("dependencies", &p.snap.dependencies); err != nil {
			return err
		}
		if err := get("files", &p.snap.files); err != nil {
			return err
		}
		if err := get("usrs", &p.snap.usrs); err != nil {
			return err
		}
		if err := get("fixIts", &p.snap.fixIts); err != nil {
			return err
		}
		return nil
	})
}

func encodeTable(v any) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(v); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	enc := gob.NewEncoder(&out)
	if err := enc.Encode(databaseVersion); err != nil {
		return nil, err
	}
	if err := enc.Encode(payload.Len()); err != nil {
		return nil, err
	}
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}

func decodeTable(bin []byte, out any) error {
	r := bytes.NewReader(bin)
	dec := gob.NewDecoder(r)

	var version, size int
	if err := dec.Decode(&version); err != nil {
		return err
	}
	if version != databaseVersion {
		return fmt.Errorf("project: unsupported database version %d", version)
	}
	if err := dec.Decode(&size); err != nil {
		return err
	}

	rest := bin[len(bin)-r.Len():]
	if len(rest) != size {
		return fmt.Errorf("project: corrupted table (expected %d bytes, got %d)", size, len(rest))
	}
	return gob.NewDecoder(bytes.NewReader(rest)).Decode(out)
}

func retryView(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for {
		err = db.View(fn)
		if err != badger.ErrConflict {
			break
		}
	}
	return err
}

func retryUpdate(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for {
		err = db.Update(fn)
		if err != badger.ErrConflict {
			break
		}
	}
	return err
}
