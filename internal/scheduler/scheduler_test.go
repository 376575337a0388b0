package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navc/internal/indexjob"
	"navc/internal/source"
)

func newTestJob(id uint64, file string) *indexjob.Job {
	return indexjob.New(id, "proj", source.Source{SourceFile: file}.SetIDs(uint32(id), 0), nil, indexjob.FlagNone)
}

func TestAdmitDispatchesWithinJobCount(t *testing.T) {
	var mu sync.Mutex
	done := map[uint64]bool{}
	var wg sync.WaitGroup
	wg.Add(3)

	runner := func(job *indexjob.Job) (*indexjob.IndexData, error) {
		time.Sleep(5 * time.Millisecond)
		return &indexjob.IndexData{JobID: job.ID}, nil
	}
	onDone := func(job *indexjob.Job, data *indexjob.IndexData, err error) {
		mu.Lock()
		done[job.ID] = true
		mu.Unlock()
		wg.Done()
	}

	s := New(Options{JobCount: 2}, runner, onDone)
	for i := uint64(1); i <= 3; i++ {
		s.Admit(newTestJob(i, "f.c"))
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	for i := uint64(1); i <= 3; i++ {
		assert.True(t, done[i], "expected job %d to complete", i)
	}
}

func TestAdmitSameSourceKeyWhileRunningRunsAfterFirst(t *testing.T) {
	var completions int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	block := make(chan struct{})
	runner := func(job *indexjob.Job) (*indexjob.IndexData, error) {
		<-block
		return &indexjob.IndexData{JobID: job.ID}, nil
	}
	onDone := func(job *indexjob.Job, data *indexjob.IndexData, err error) {
		mu.Lock()
		completions++
		mu.Unlock()
		wg.Done()
	}

	s := New(Options{JobCount: 1}, runner, onDone)
	job := newTestJob(1, "same.c")
	s.Admit(job)

	// the first job is already running, so the second admission for the
	// same Source.Key is queued and promoted once the first completes:
	// two runs in all.
	s.Admit(newTestJob(1, "same.c"))

	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, completions)
}

func TestPullHandsOutLocallyOriginatedJobs(t *testing.T) {
	s := New(Options{JobCount: 0}, func(job *indexjob.Job) (*indexjob.IndexData, error) {
		return nil, nil
	}, nil)

	// JobCount 0 still floors availableLocal to 1, so block dispatch by
	// pushing directly into the pending queue through Admit while the
	// runner channel is never drained: emulate an overloaded local
	// scheduler by admitting more than one job quickly. Since Admit
	// dispatches asynchronously, pull immediately before the goroutine
	// can drain the queue is racy; instead exercise Pull on a
	// manually queued job.
	s.mu.Lock()
	s.pending = append(s.pending, newTestJob(10, "a.c"), newTestJob(11, "b.c"))
	s.mu.Unlock()

	jobs := s.Pull(1)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Flags.Has(indexjob.FlagRemote))
	assert.Equal(t, 1, s.PendingCount())
}

func TestCancelRemovesPendingJob(t *testing.T) {
	s := New(Options{JobCount: 0}, func(job *indexjob.Job) (*indexjob.IndexData, error) {
		return nil, nil
	}, nil)
	job := newTestJob(20, "c.c")
	s.mu.Lock()
	s.pending = append(s.pending, job)
	s.mu.Unlock()

	s.Cancel(20)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, indexjob.Aborted, job.State())
}

func TestAnnounceCountExcludesRemotePending(t *testing.T) {
	s := New(Options{JobCount: 1}, func(job *indexjob.Job) (*indexjob.IndexData, error) {
		return nil, nil
	}, nil)
	s.mu.Lock()
	s.pending = append(s.pending, newTestJob(30, "d.c"), newTestJob(31, "e.c"))
	s.remotePending = 1
	s.mu.Unlock()

	assert.Equal(t, 1, s.AnnounceCount())
}
