// Package indexjob models one Index Stage invocation (spec §4.E),
// grounded on RTags IndexerJob.h. The original packs a single flags
// bitset mixing lifecycle (Running/Crashed/Aborted/Complete) and
// modifiers (Dirty/Dump/FromRemote/Remote) into one uint; spec §9 asks
// for illegal states to be made unrepresentable, so here the core
// state is its own enum and the modifiers stay an orthogonal bitset.
package indexjob

import (
	"fmt"
	"sync"
	"time"

	"navc/internal/clangfacade"
	"navc/internal/location"
	"navc/internal/source"
	"navc/internal/symbols"
)

// State is the job's core lifecycle (mutually exclusive).
type State int

const (
	Pending State = iota
	Running
	Complete
	Crashed
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Complete:
		return "Complete"
	case Crashed:
		return "Crashed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Flags are orthogonal modifiers that can coexist with any State.
type Flags uint32

const (
	FlagNone       Flags = 0
	FlagDirty      Flags = 1 << iota
	FlagDump
	FlagFromRemote
	FlagRemote
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Job is one indexer invocation: its Source, the preprocessed Cpp, and
// the bookkeeping the scheduler needs to track it through its
// lifecycle (spec §4.E, §4.F).
type Job struct {
	mu sync.Mutex

	ID      uint64
	Project string
	Source  source.Source
	Cpp     *source.Cpp
	Flags   Flags

	state   State
	started time.Time

	// BlockedFiles lists file ids the requester already has indexed,
	// so the remote side can skip re-sending their content; only
	// meaningful when Flags.Has(FlagRemote) or FlagFromRemote.
	BlockedFiles map[uint32]bool

	visited map[uint32]bool
}

// New constructs a Pending job with a caller-supplied, process-unique
// id (in the daemon, Project.BeginJob allocates it from one process-wide
// counter, mirroring IndexerJob::nextId).
func New(id uint64, project string, src source.Source, cpp *source.Cpp, flags Flags) *Job {
	return &Job{
		ID:      id,
		Project: project,
		Source:  src,
		Cpp:     cpp,
		Flags:   flags,
		state:   Pending,
		visited: map[uint32]bool{},
	}
}

// HasFlag reports whether flag is set, synchronized against concurrent
// Update/AddFlag calls (the scheduler checks this from a different
// goroutine than the one running the job).
func (j *Job) HasFlag(flag Flags) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Flags.Has(flag)
}

// AddFlag ORs flag into Flags under j.mu, the synchronized counterpart
// to reading j.Flags directly (scheduler.Pull/AdmitRemote mark jobs
// Remote/FromRemote from outside the job's own goroutine).
func (j *Job) AddFlag(flag Flags) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Flags |= flag
}

// FlagsValue returns the full Flags bitset under j.mu, for callers that
// need to copy it onto a new Job rather than test a single bit.
func (j *Job) FlagsValue() Flags {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Flags
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// MarkVisited records fileID as visited during this job's run, live as
// the indexer discovers it rather than in bulk after Run returns. It is
// bookkeeping only: the caller supplies the VisitFunc that gates
// whether a file is visited at all (typically backed by
// Project.VisitFile's per-job ledger); MarkVisited just remembers the
// outcome for IndexData.Visited.
func (j *Job) MarkVisited(fileID uint32) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.visited[fileID] = true
}

// StartedAt returns the time Start transitioned this job to Running
// (the zero Time if it has not started), used by the scheduler's
// reschedule timer to detect unresponsive remote peers.
func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// Start transitions Pending -> Running, recording the start time used
// for crash/timeout detection in the scheduler.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Pending {
		return fmt.Errorf("indexjob: cannot start job %d from state %s", j.ID, j.state)
	}
	j.state = Running
	j.started = time.Now()
	return nil
}

// Update replaces the Source/Cpp and ORs in new flags while the job is
// still Pending or Running, matching IndexerJob::update's "a newer
// admission subsumed this one" path (spec §4.F per-key serialization).
func (j *Job) Update(src source.Source, cpp *source.Cpp, flags Flags) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Pending && j.state != Running {
		return fmt.Errorf("indexjob: cannot update job %d in state %s", j.ID, j.state)
	}
	j.Source = src
	j.Cpp = cpp
	j.Flags |= flags
	return nil
}

// Abort moves the job to Aborted from any non-terminal state.
func (j *Job) Abort() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Complete || j.state == Crashed || j.state == Aborted {
		return
	}
	j.state = Aborted
}

func (j *Job) Crash() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Complete || j.state == Aborted {
		return
	}
	j.state = Crashed
}

// Run drives the job through an Indexer synchronously, transitioning
// Running -> Complete/Crashed and recording IndexData on success. This
// stands in for RTags' launchProcess + the out-of-process VisitFile
// round-trip (see SPEC_FULL.md's Open Question resolution on the
// indexer boundary): the clangfacade implementation runs in-process,
// but the state machine here is exercised exactly as if a subprocess
// could crash mid-run. visit (if non-nil) gates and records each file
// the indexer discovers as it walks the translation unit, populating
// j.visited live rather than only after Index returns.
func (j *Job) Run(idx clangfacade.Indexer, reg *location.Registry, visit clangfacade.VisitFunc) (*IndexData, error) {
	if err := j.Start(); err != nil {
		return nil, err
	}

	result, err := idx.Index(j.Source, j.Cpp, reg, visit)
	if err != nil {
		j.Crash()
		return nil, err
	}

	j.mu.Lock()
	if j.state != Running {
		j.mu.Unlock()
		return nil, fmt.Errorf("indexjob: job %d aborted mid-run", j.ID)
	}
	j.state = Complete
	for fileID, v := range result.Visited {
		if v {
			j.visited[fileID] = true
		}
	}
	j.mu.Unlock()

	return &IndexData{
		Key:          j.Source.Key(),
		JobID:        j.ID,
		Flags:        j.Flags,
		ParseTime:    result.ParseTime,
		Symbols:      result.Symbols,
		SymbolNames:  result.SymbolNames,
		Dependencies: result.Dependencies,
		Usrs:         result.Usrs,
		FixIts:       result.FixIts,
		Visited:      result.Visited,
	}, nil
}

// IndexData is the merge-ready product of a completed Job, grounded on
// RTags IndexData.
type IndexData struct {
	Key       uint64
	JobID     uint64
	Flags     Flags
	ParseTime time.Duration

	Symbols      symbols.SymbolMap
	SymbolNames  symbols.SymbolNameMap
	Dependencies symbols.DependencyMap
	Usrs         symbols.UsrMap
	FixIts       symbols.FixItMap
	Visited      map[uint32]bool
}

// VisitedFiles returns the file ids this job actually parsed (as
// opposed to merely referenced), matching IndexData::visitedFiles.
func (d *IndexData) VisitedFiles() map[uint32]struct{} {
	out := map[uint32]struct{}{}
	for id, v := range d.Visited {
		if v {
			out[id] = struct{}{}
		}
	}
	return out
}

// FileID extracts the primary source file id from Key.
func (d *IndexData) FileID() uint32 {
	fileID, _ := source.DecodeKey(d.Key)
	return fileID
}
