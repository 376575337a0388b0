// Package scheduler is the Scheduler (spec §4.F): an admission queue,
// local/remote job-slot accounting, a reschedule timer for jobs handed
// to peers that never answered, and per-Source-key collapsing: a
// re-admission of a file whose job is still pending merges into that
// job. A job already dispatched is not waited on; a re-admission of its
// key is queued and may run alongside it when a slot is free. Grounded on RTags Server.cpp's startNextJob, onReschedule,
// handleJobRequestMessage, handleJobResponseMessage, and
// onLocalJobFinished (original_source/src/Server.cpp).
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"navc/internal/indexjob"
)

// Options configures slot accounting and timers.
type Options struct {
	JobCount          int           // local worker slots, spec §4.F availableLocal formula
	RescheduleTimeout time.Duration // spec §4.F reschedule threshold
}

// Runner executes one job to completion, synchronously. In-process
// callers pass indexjob.Job.Run bound to a clangfacade.Indexer.
type Runner func(job *indexjob.Job) (*indexjob.IndexData, error)

// CompletionFunc receives a job's IndexData (or error) once it
// finishes, local or remote.
type CompletionFunc func(job *indexjob.Job, data *indexjob.IndexData, err error)

// WorkloadSource reports the preprocess backlog (sources queued or
// being preprocessed), which availableLocal subtracts as its busy-worker
// count, so the formula reflects live load instead of a counter nobody
// updates. *preprocess.Pool satisfies this directly via its Pending
// method.
type WorkloadSource interface {
	Pending() int
}

// Scheduler admits, dispatches, and tracks IndexerJobs.
type Scheduler struct {
	opts   Options
	runner Runner
	onDone CompletionFunc

	mu             sync.Mutex
	pending        []*indexjob.Job
	processingJobs map[uint64]*indexjob.Job // job id -> job, local or remote-owned
	localJobs      map[uint64]time.Time     // job id -> dispatch time, jobs running in this process
	remotePending  int
	busyWorkers    int // fallback count, used only when workload is nil
	workload       WorkloadSource

	sf singleflight.Group // keyed on Source.Key(), collapses concurrent re-admissions

	rescheduleTicker *time.Ticker
	stopOnce         sync.Once
	stopCh           chan struct{}
}

// New creates a Scheduler. runner executes admitted jobs locally;
// onDone is invoked once per completed job (spec §4.F completion).
func New(opts Options, runner Runner, onDone CompletionFunc) *Scheduler {
	if opts.JobCount <= 0 {
		opts.JobCount = 1
	}
	if opts.RescheduleTimeout <= 0 {
		opts.RescheduleTimeout = 60 * time.Second
	}
	return &Scheduler{
		opts:           opts,
		runner:         runner,
		onDone:         onDone,
		processingJobs: map[uint64]*indexjob.Job{},
		localJobs:      map[uint64]time.Time{},
		stopCh:         make(chan struct{}),
	}
}

// SetWorkload wires in the live preprocess-worker backlog source, so
// availableLocal no longer relies on the frozen busyWorkers fallback.
func (s *Scheduler) SetWorkload(w WorkloadSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workload = w
}

// availableLocal is spec §4.F's "max(jobCount-busyPreprocessWorkers, 1)".
func (s *Scheduler) availableLocal() int {
	busy := s.busyWorkers
	if s.workload != nil {
		busy = s.workload.Pending()
	}
	n := s.opts.JobCount - busy
	if n < 1 {
		n = 1
	}
	return n
}

// availableRemote is the remaining slot budget after local jobs and
// jobs already promised to pending remote requesters are subtracted.
func (s *Scheduler) availableRemote(pendingRemoteRequests int) int {
	n := s.availableLocal() - len(s.localJobs) - pendingRemoteRequests
	if n < 0 {
		n = 0
	}
	return n
}

// Admit enqueues a job for dispatch. A job whose Source.Key matches a
// job still in pending is merged into that job via Update instead of
// being queued, matching RTags' pendingSource/pendingCpp/pendingFlags
// promotion path; a job whose key matches one already dispatched is
// queued like any other.
func (s *Scheduler) Admit(job *indexjob.Job) {
	key := keyString(job.Source.Key())
	ran := false
	defer func() {
		if !ran {
			// another Admit for this key held the singleflight slot and
			// this job's closure never ran; admit it again so it merges
			// or queues rather than being dropped.
			s.Admit(job)
		}
	}()
	s.sf.Do(key, func() (any, error) {
		ran = true
		s.mu.Lock()
		for _, p := range s.pending {
			if p.Source.Key() == job.Source.Key() {
				p.Update(job.Source, job.Cpp, job.FlagsValue())
				s.mu.Unlock()
				return nil, nil
			}
		}
		s.pending = append(s.pending, job)
		s.mu.Unlock()
		s.dispatch()
		return nil, nil
	})
}

func keyString(key uint64) string {
	return fmt.Sprintf("%d", key)
}

// dispatch drains the pending queue into local execution while slots
// remain, matching Server::startNextJob's local half.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || len(s.localJobs) >= s.availableLocal() {
			s.mu.Unlock()
			return
		}
		job := s.pending[0]
		s.pending = s.pending[1:]

		if job.HasFlag(indexjob.FlagFromRemote) {
			// FromRemote jobs are run without checking whether the
			// project they target is loaded here, and are not tracked in
			// processingJobs.
		} else {
			s.processingJobs[job.ID] = job
		}
		s.localJobs[job.ID] = time.Now()
		s.mu.Unlock()

		go s.runLocal(job)
	}
}

func (s *Scheduler) runLocal(job *indexjob.Job) {
	data, err := s.runner(job)

	s.mu.Lock()
	delete(s.localJobs, job.ID)
	delete(s.processingJobs, job.ID)
	if job.HasFlag(indexjob.FlagFromRemote) {
		s.remotePending--
	}
	s.mu.Unlock()

	if s.onDone != nil {
		s.onDone(job, data, err)
	}
	s.dispatch()
}

// Pull answers a remote peer's JobRequestMessage: it hands out up to
// count pending jobs that are not FromRemote, marking them
// Running|Remote and moving them from pending into processingJobs
// (spec §4.F, RTags handleJobRequestMessage).
func (s *Scheduler) Pull(count int) []*indexjob.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*indexjob.Job
	remaining := s.pending[:0]
	taken := 0
	for _, job := range s.pending {
		if taken >= count || job.HasFlag(indexjob.FlagFromRemote) {
			remaining = append(remaining, job)
			continue
		}
		job.AddFlag(indexjob.FlagRemote)
		job.Start()
		s.processingJobs[job.ID] = job
		out = append(out, job)
		taken++
	}
	s.pending = remaining
	return out
}

// AdmitRemote accepts a job this node pulled from a peer (delivered in
// a JobResponseMessage), running it in this process on the peer's
// behalf (spec §4.F FromRemote path).
func (s *Scheduler) AdmitRemote(job *indexjob.Job) {
	job.AddFlag(indexjob.FlagFromRemote)
	s.mu.Lock()
	s.remotePending++
	s.pending = append(s.pending, job)
	s.mu.Unlock()
	s.dispatch()
}

// Complete records the result of a job found in processingJobs, such
// as one Pull handed to a peer (FlagRemote); FromRemote jobs are never
// in processingJobs, and an unknown jobID is ignored.
func (s *Scheduler) Complete(jobID uint64, data *indexjob.IndexData, err error) {
	s.mu.Lock()
	job, ok := s.processingJobs[jobID]
	if ok {
		delete(s.processingJobs, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		job.Crash()
	}
	if s.onDone != nil {
		s.onDone(job, data, err)
	}
}

// Cancel aborts a pending or processing job by id.
func (s *Scheduler) Cancel(jobID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.pending {
		if job.ID == jobID {
			job.Abort()
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
	if job, ok := s.processingJobs[jobID]; ok {
		job.Abort()
	}
}

// StartRescheduleTimer periodically re-enqueues jobs handed to a peer
// that has exceeded RescheduleTimeout without responding, without
// removing them from processingJobs (the original reply might still
// arrive), matching Server::onReschedule.
func (s *Scheduler) StartRescheduleTimer(interval time.Duration) {
	s.rescheduleTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.rescheduleTicker.C:
				s.reschedule()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) reschedule() {
	now := time.Now()
	var toRetry []*indexjob.Job

	s.mu.Lock()
	for id, job := range s.processingJobs {
		if _, local := s.localJobs[id]; local {
			continue // local jobs don't need rescheduling
		}
		if now.Sub(job.StartedAt()) >= s.opts.RescheduleTimeout {
			toRetry = append(toRetry, job)
		}
	}
	for _, job := range toRetry {
		s.pending = append(s.pending, job)
	}
	s.mu.Unlock()

	if len(toRetry) > 0 {
		s.dispatch()
	}
}

// Stop halts the reschedule timer.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.rescheduleTicker != nil {
			s.rescheduleTicker.Stop()
		}
		close(s.stopCh)
	})
}

// PendingCount, ProcessingCount, and LocalJobCount expose queue depth for
// diagnostics and the multicast announce loop (spec §4.G).
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) ProcessingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processingJobs)
}

func (s *Scheduler) LocalJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.localJobs)
}

// DumpJobs renders one line per pending job and per job in
// processingJobs (FromRemote jobs running here are not listed), the
// supplemented "dumpJobs" operator-debugging surface SPEC_FULL.md wires
// into the Status query (spec §6), grounded on RTags' textual job dump.
func (s *Scheduler) DumpJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.pending)+len(s.processingJobs))
	for _, job := range s.pending {
		out = append(out, fmt.Sprintf("pending  job=%d source=%s remote=%v", job.ID, job.Source.SourceFile, job.HasFlag(indexjob.FlagFromRemote)))
	}
	for id, job := range s.processingJobs {
		_, local := s.localJobs[id]
		out = append(out, fmt.Sprintf("running  job=%d source=%s remote=%v local=%v", id, job.Source.SourceFile, job.HasFlag(indexjob.FlagFromRemote), local))
	}
	return out
}

// AnnounceCount is the number of locally-pending, not-yet-remote jobs
// worth announcing over multicast (spec §4.G, Server::startNextJob's
// multicast half).
func (s *Scheduler) AnnounceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remotePending >= len(s.pending) {
		return 0
	}
	return len(s.pending) - s.remotePending
}
