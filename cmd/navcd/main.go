// Command navcd is the indexing daemon: it wires the Project Manager,
// Preprocess Stage, Scheduler, Cluster Layer, and the local query
// socket together (spec §2 system overview), the way google-navc's
// main.go drives its worker pool and request handler, generalized
// across the whole pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"navc/internal/clangfacade"
	"navc/internal/cluster"
	"navc/internal/config"
	"navc/internal/indexjob"
	"navc/internal/location"
	"navc/internal/logx"
	"navc/internal/preprocess"
	"navc/internal/project"
	"navc/internal/protocol"
	"navc/internal/scheduler"
	"navc/internal/source"
	"navc/internal/symbols"
	"navc/internal/watch"
)

func main() {
	fs := flag.NewFlagSet("navcd", flag.ExitOnError)
	opts, indexDirs, err := config.Parse(fs, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if len(indexDirs) == 0 {
		indexDirs = []string{"."}
	}

	logger := logx.New("navcd")

	reg, err := location.Load(opts.DataDir)
	if err != nil {
		logger.Printf("loading file-id registry: %v", err)
		reg = location.NewRegistry()
	}

	mgr, err := project.NewManager(opts.DataDir, reg, opts.UnloadTimer)
	if err != nil {
		log.Fatal(err)
	}
	defer mgr.CloseAll()

	stopIdle := mgr.StartIdleUnloader()
	defer stopIdle()

	facade := clangfacade.New(reg, 0)
	pool := preprocess.New(facade, opts.JobCount, preprocess.DefaultMaxPending)
	defer pool.Close()

	var sched *scheduler.Scheduler

	// runner composes Project.VisitFile (the authoritative per-job
	// visit gate, spec invariant 4) with Job.MarkVisited (bookkeeping
	// for IndexData.Visited) into the VisitFunc the facade calls as it
	// discovers each file in the translation unit.
	runner := func(job *indexjob.Job) (*indexjob.IndexData, error) {
		p, ok := mgr.Get(job.Project)
		if !ok {
			return job.Run(facade, reg, nil)
		}
		visit := func(fileID uint32) bool {
			if !p.VisitFile(fileID, job.ID) {
				return false
			}
			job.MarkVisited(fileID)
			return true
		}
		return job.Run(facade, reg, visit)
	}
	onDone := func(job *indexjob.Job, data *indexjob.IndexData, err error) {
		p, ok := mgr.Get(job.Project)
		if !ok {
			return
		}
		if err != nil {
			p.FailJob(job.ID)
			retry, count := p.RegisterCrash(job.Source.Key())
			if !retry {
				logger.Printf("job %d crashed %d times, giving up: %v", job.ID, count, err)
				return
			}
			logger.Printf("job %d crashed (attempt %d/%d): %v, rescheduling", job.ID, count, project.MaxCrashCount, err)
			newID := p.BeginJob()
			sched.Admit(indexjob.New(newID, job.Project, job.Source, job.Cpp, job.FlagsValue()))
			return
		}
		p.Merge(data.JobID, data)
	}
	sched = scheduler.New(scheduler.Options{
		JobCount:          opts.JobCount,
		RescheduleTimeout: opts.RescheduleTimeout,
	}, runner, onDone)
	sched.SetWorkload(pool)
	sched.StartRescheduleTimer(opts.RescheduleTimeout / 4)
	defer sched.Stop()

	go drainPreprocessResults(pool, mgr, sched, logger)

	forwards := cluster.NewForwardSet()
	for _, fwd := range opts.MulticastForwards {
		if err := forwards.Add(fwd.Host, fwd.Port); err != nil {
			logger.Printf("connecting multicast forward %s:%d: %v", fwd.Host, fwd.Port, err)
		}
	}

	clusterHandler := &ClusterHandler{scheduler: sched, tcpPort: uint16(opts.TCPPort)}
	clusterAddr := fmt.Sprintf("%s:%d", opts.MulticastAddress, opts.MulticastPort)
	announcer, err := cluster.NewAnnouncer(clusterAddr, uint16(opts.TCPPort), opts.MulticastTTL, sched, func(peerIP string, ann cluster.Announce) {
		pullRemoteJobs(peerIP, ann, opts.JobCount, sched, reg, logger)
	})
	if err != nil {
		logger.Printf("starting cluster announcer: %v", err)
	} else {
		announcer.SetForwards(forwards)
		announcer.Run(opts.RescheduleTimeout / 4)
		defer announcer.Close()

		tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.TCPPort))
		if err != nil {
			logger.Printf("starting cluster TCP listener: %v", err)
		} else {
			defer tcpLn.Close()
			clusterListener := protocol.NewListener(tcpLn, clusterHandler)
			go func() {
				if err := clusterListener.Serve(); err != nil {
					logger.Printf("cluster listener stopped: %v", err)
				}
			}()
		}
	}

	for _, dir := range indexDirs {
		p, err := mgr.Open(dir)
		if err != nil {
			logger.Printf("opening project %s: %v", dir, err)
			continue
		}
		if err := mgr.SetCurrent(dir); err != nil {
			logger.Printf("setting current project: %v", err)
		}
		submitProjectSources(p, dir, pool, logger)
	}

	var watcher *watch.Watcher
	if opts.Flags&config.OptNoFileManagerWatch == 0 {
		w, err := startWatcher(indexDirs, reg, mgr, pool, logger)
		if err != nil {
			logger.Printf("starting file watcher: %v", err)
		} else {
			watcher = w
			defer w.Close()
		}
	}

	rh := &RequestHandler{manager: mgr, scheduler: sched, registry: reg, pool: pool, logger: logger, watcher: watcher, shutdown: make(chan struct{})}

	os.Remove(opts.SocketFile)
	ln, err := net.Listen("unix", opts.SocketFile)
	if err != nil {
		log.Fatal(err)
	}
	defer ln.Close()
	defer os.Remove(opts.SocketFile)

	listener := protocol.NewListener(ln, rh)
	logger.Printf("listening on %s", opts.SocketFile)
	go func() {
		<-rh.shutdown
		logger.Printf("shutdown requested, closing listener")
		listener.Close()
	}()
	if err := listener.Serve(); err != nil {
		logger.Printf("listener stopped: %v", err)
	}

	if err := reg.Save(opts.DataDir); err != nil {
		logger.Printf("saving file-id registry: %v", err)
	}
}

// submitProjectSources walks a compile_commands.json database and
// submits every listed file to the preprocess pool, the startup-time
// equivalent of the teacher's Parser.ParseMakefile driving an initial
// full index (google-navc/parse.go).
func submitProjectSources(p *project.Project, dir string, pool *preprocess.Pool, logger *logx.Logger) {
	db, err := source.LoadDatabase([]string{dir})
	if err != nil {
		logger.Printf("loading compile database for %s: %v", dir, err)
		return
	}
	for _, file := range db.Files() {
		args, _ := db.Args(file)
		src := source.Source{
			SourceFile: file,
			Language:   source.DetectLanguage(file),
			Compiler:   db.Compiler(file),
			Args:       args,
			BuildRoot:  dir,
		}
		p.AddSource(src)
		if err := pool.Submit(context.Background(), src); err != nil {
			logger.Printf("submitting %s: %v", file, err)
		}
	}
}

// startWatcher wires an fsnotify-backed watch.Watcher to the
// preprocess pool and project dirty-tracking, the generalized
// replacement for the teacher's global handleFileChange/
// removeFileAndReparseDepends pair in files.go.
func startWatcher(roots []string, reg *location.Registry, mgr *project.Manager, pool *preprocess.Pool, logger *logx.Logger) (*watch.Watcher, error) {
	submit := func(p *project.Project, path string) {
		db, err := source.LoadDatabase([]string{p.Path})
		compiler, compilerArgs := "", []string(nil)
		if err == nil {
			compiler = db.Compiler(path)
			compilerArgs, _ = db.Args(path)
		}
		src := source.Source{
			SourceFile: path,
			Language:   source.DetectLanguage(path),
			Compiler:   compiler,
			Args:       compilerArgs,
			BuildRoot:  p.Path,
		}
		p.AddSource(src)
		if err := pool.Submit(context.Background(), src); err != nil {
			logger.Printf("watch: submitting %s: %v", path, err)
		}
	}

	w, err := watch.New(roots, watch.Callbacks{
		OnSourceChanged: func(path string) {
			if p, ok := mgr.ForLocation(path); ok {
				submit(p, path)
			}
		},
		OnHeaderChanged: func(path string) {
			p, ok := mgr.ForLocation(path)
			if !ok {
				return
			}
			fileID := reg.InsertFile(path)
			for id := range p.Reindex(fileID) {
				if src, ok := p.Sources(id); ok {
					submit(p, src.SourceFile)
				}
			}
		},
		OnRemoved: func(path string) {
			p, ok := mgr.ForLocation(path)
			if !ok {
				return
			}
			p.Remove(reg.InsertFile(path))
		},
	})
	if err != nil {
		return nil, err
	}
	go w.Run()
	return w, nil
}

func drainPreprocessResults(pool *preprocess.Pool, mgr *project.Manager, sched *scheduler.Scheduler, logger *logx.Logger) {
	for result := range pool.Results() {
		if result.Err != nil {
			logger.Printf("preprocess failed for %s: %v", result.Source.SourceFile, result.Err)
			continue
		}
		p, ok := mgr.ForLocation(result.Source.SourceFile)
		if !ok {
			continue
		}
		id := p.BeginJob()
		job := indexjob.New(id, p.Path, result.Source, result.Cpp, indexjob.FlagNone)
		sched.Admit(job)
	}
}

// ClusterHandler answers a peer's JobRequestMessage over the cluster
// TCP port, handing out up to Count locally-pending jobs via
// Scheduler.Pull, the generalized RTags handleJobRequestMessage half
// of the cluster overlay (spec §4.F, §4.G).
type ClusterHandler struct {
	scheduler *scheduler.Scheduler
	tcpPort   uint16
}

// RequestJobs answers req by pulling up to req.Count jobs off the
// local scheduler and serializing each for the wire.
func (ch *ClusterHandler) RequestJobs(req *protocol.JobRequestMessage, reply *[]protocol.JobResponseMessage) error {
	jobs := ch.scheduler.Pull(req.Count)
	out := make([]protocol.JobResponseMessage, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, protocol.JobResponseMessage{
			Job: protocol.SerializedJob{
				ID:           job.ID,
				Project:      job.Project,
				SourceFile:   job.Source.SourceFile,
				Compiler:     job.Source.Compiler,
				Args:         job.Source.Args,
				BuildRoot:    job.Source.BuildRoot,
				CppText:      job.Cpp.Text,
				Flags:        job.FlagsValue(),
				BlockedFiles: job.BlockedFiles,
			},
			TCPPort: ch.tcpPort,
		})
	}
	*reply = out
	return nil
}

// pullRemoteJobs dials the peer that announced ann over its cluster
// TCP port and pulls up to jobCount jobs, admitting each locally via
// Scheduler.AdmitRemote, the requester half of Server::startNextJob's
// multicast-driven job pull (spec §4.F, §4.G). Results of jobs pulled
// this way are merged only if the peer's Project path also resolves
// locally; returning completed work back across the wire to the
// peer that originated it is not implemented (see DESIGN.md's
// cluster wiring follow-up).
func pullRemoteJobs(peerIP string, ann cluster.Announce, jobCount int, sched *scheduler.Scheduler, reg *location.Registry, logger *logx.Logger) {
	count := int(ann.Jobs)
	if count > jobCount {
		count = jobCount
	}
	if count <= 0 {
		return
	}

	client, err := protocol.DialTCP(fmt.Sprintf("%s:%d", peerIP, ann.TCPPort))
	if err != nil {
		logger.Printf("cluster: dialing %s:%d: %v", peerIP, ann.TCPPort, err)
		return
	}
	defer client.Close()

	var reply []protocol.JobResponseMessage
	if err := client.Call("ClusterHandler.RequestJobs", &protocol.JobRequestMessage{Count: count}, &reply); err != nil {
		logger.Printf("cluster: pulling jobs from %s: %v", peerIP, err)
		return
	}

	for _, resp := range reply {
		sj := resp.Job
		fileID := reg.InsertFile(sj.SourceFile)
		buildRootID := reg.InsertFile(sj.BuildRoot)
		src := source.Source{
			SourceFile: sj.SourceFile,
			Language:   source.DetectLanguage(sj.SourceFile),
			Compiler:   sj.Compiler,
			Args:       sj.Args,
			BuildRoot:  sj.BuildRoot,
		}.SetIDs(fileID, buildRootID)
		cpp := &source.Cpp{Text: sj.CppText}
		job := indexjob.New(sj.ID, sj.Project, src, cpp, sj.Flags)
		job.BlockedFiles = sj.BlockedFiles
		sched.AdmitRemote(job)
	}
}

// RequestHandler exposes the local query surface over net/rpc,
// grounded on google-navc/request-handler.go's RequestHandler, whose
// methods the teacher's test/client.go calls by name
// ("RequestHandler.GetSymbolDecl").
type RequestHandler struct {
	manager   *project.Manager
	scheduler *scheduler.Scheduler
	registry  *location.Registry
	pool      *preprocess.Pool
	logger    *logx.Logger
	watcher   *watch.Watcher
	shutdown  chan struct{}
}

// Symbol is the RPC argument/reply shape for symbol queries, grounded
// on test/client.go's Symbol{Name, Usr, File, Line, Col}.
type Symbol struct {
	Name string
	Usr  string
	File string
	Line int
	Col  int
}

// GetSymbolDecl resolves a symbol occurrence at (File, Line, Col) to
// its declaration location, the completed form of the teacher's
// placeholder GetSymbolDecl.
func (rh *RequestHandler) GetSymbolDecl(req *Symbol, reply *Symbol) error {
	p, ok := rh.manager.ForLocation(req.File)
	if !ok {
		return fmt.Errorf("no project for %s", req.File)
	}
	if p.State() != project.Loaded {
		return fmt.Errorf("project loading")
	}

	fileID := rh.registry.InsertFile(req.File)
	loc := location.Location{FileID: fileID, Line: uint32(req.Line), Col: uint32(req.Col)}

	symbols := p.Symbols()
	ci, ok := symbols[loc]
	if !ok {
		return fmt.Errorf("no symbol at %s:%d:%d", req.File, req.Line, req.Col)
	}
	target, _, found := ci.BestTarget(symbols, nil)
	if !found {
		*reply = Symbol{Name: ci.SymbolName(), File: req.File, Line: req.Line, Col: req.Col}
		return nil
	}
	path, _ := rh.registry.Path(target.FileID)
	*reply = Symbol{Name: ci.SymbolName(), File: path, Line: int(target.Line), Col: int(target.Col)}
	return nil
}

// Status answers QueryStatus with a one-line summary per known project,
// followed by the scheduler's live job dump (the supplemented DumpJobs
// surface, SPEC_FULL.md).
func (rh *RequestHandler) Status(_ struct{}, reply *[]string) error {
	var lines []string
	for _, path := range rh.manager.All() {
		p, ok := rh.manager.Get(path)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s (indexing=%v)", path, p.State(), p.IsIndexing()))
	}
	lines = append(lines, rh.scheduler.DumpJobs()...)
	*reply = lines
	return nil
}

// DumpFile answers QueryDumpFile: the fix-its pending for req.File (as
// a rendered unified diff, one line per diff line) followed by every
// directory the file watcher currently has registered, the
// supplemented DumpFile/WatchedPaths surface (SPEC_FULL.md).
func (rh *RequestHandler) DumpFile(req *Symbol, reply *[]string) error {
	var lines []string

	p, ok := rh.manager.ForLocation(req.File)
	if ok {
		fileID := rh.registry.InsertFile(req.File)
		fixits := p.FixIts(fileID)
		if len(fixits) > 0 {
			diff, err := project.RenderFixIts(req.File, fixits)
			if err != nil {
				rh.logger.Printf("rendering fix-its for %s: %v", req.File, err)
			} else if diff != "" {
				lines = append(lines, strings.Split(strings.TrimSuffix(diff, "\n"), "\n")...)
			}
		}
	}

	if rh.watcher != nil {
		lines = append(lines, rh.watcher.WatchedPaths()...)
	}
	*reply = lines
	return nil
}

// FixIts answers QueryFixIts: the unified diff that applying every
// fix-it recorded for req.File would produce, split into reply lines
// (spec §4.B fixIts(fileId), SPEC_FULL.md's fix-it rendering
// commitment).
func (rh *RequestHandler) FixIts(req *Symbol, reply *[]string) error {
	p, ok := rh.manager.ForLocation(req.File)
	if !ok {
		return fmt.Errorf("no project for %s", req.File)
	}
	if p.State() != project.Loaded {
		return fmt.Errorf("project loading")
	}

	fileID := rh.registry.InsertFile(req.File)
	fixits := p.FixIts(fileID)
	if len(fixits) == 0 {
		*reply = nil
		return nil
	}

	diff, err := project.RenderFixIts(req.File, fixits)
	if err != nil {
		return fmt.Errorf("rendering fix-its for %s: %w", req.File, err)
	}
	if diff == "" {
		*reply = nil
		return nil
	}
	*reply = strings.Split(strings.TrimSuffix(diff, "\n"), "\n")
	return nil
}

// ReferencesLocation answers QueryReferencesLocation: every recorded
// occurrence of the symbol declared or referenced at (File, Line, Col).
func (rh *RequestHandler) ReferencesLocation(req *Symbol, reply *[]Symbol) error {
	p, ok := rh.manager.ForLocation(req.File)
	if !ok {
		return fmt.Errorf("no project for %s", req.File)
	}
	if p.State() != project.Loaded {
		return fmt.Errorf("project loading")
	}

	fileID := rh.registry.InsertFile(req.File)
	loc := location.Location{FileID: fileID, Line: uint32(req.Line), Col: uint32(req.Col)}

	symbols := p.Symbols()
	ci, ok := symbols[loc]
	if !ok {
		return fmt.Errorf("no symbol at %s:%d:%d", req.File, req.Line, req.Col)
	}
	for ref := range ci.References() {
		path, _ := rh.registry.Path(ref.FileID)
		*reply = append(*reply, Symbol{Name: ci.SymbolName(), File: path, Line: int(ref.Line), Col: int(ref.Col)})
	}
	return nil
}

// DependencyQuery is the RPC argument shape for QueryDependencies:
// File with Mode DependsOnArg resolves to the files it depends on,
// ArgDependsOn to the files that depend on it (spec §4.B).
type DependencyQuery struct {
	File string
	Mode symbols.DependencyMode
}

// Dependencies answers QueryDependencies.
func (rh *RequestHandler) Dependencies(req *DependencyQuery, reply *[]string) error {
	p, ok := rh.manager.ForLocation(req.File)
	if !ok {
		return fmt.Errorf("no project for %s", req.File)
	}
	if p.State() != project.Loaded {
		return fmt.Errorf("project loading")
	}

	fileID := rh.registry.InsertFile(req.File)
	for id := range p.Dependencies(fileID, req.Mode) {
		path, _ := rh.registry.Path(id)
		*reply = append(*reply, path)
	}
	return nil
}

// Reindex answers QueryReindex: dirty the file and its transitive
// dependents, then resubmit every affected, previously-known source.
func (rh *RequestHandler) Reindex(req *Symbol, reply *int) error {
	p, ok := rh.manager.ForLocation(req.File)
	if !ok {
		return fmt.Errorf("no project for %s", req.File)
	}
	fileID := rh.registry.InsertFile(req.File)
	affected := p.Reindex(fileID)
	resubmitted := 0
	for id := range affected {
		src, ok := p.Sources(id)
		if !ok {
			continue
		}
		if err := rh.pool.Submit(context.Background(), src); err != nil {
			rh.logger.Printf("resubmitting %s: %v", src.SourceFile, err)
			continue
		}
		resubmitted++
	}
	*reply = resubmitted
	return nil
}

// SuspendFile answers QuerySuspendFile: toggles whether fileID is
// skipped by VisitFile, returning the new suspended state.
func (rh *RequestHandler) SuspendFile(req *Symbol, reply *bool) error {
	p, ok := rh.manager.ForLocation(req.File)
	if !ok {
		return fmt.Errorf("no project for %s", req.File)
	}
	fileID := rh.registry.InsertFile(req.File)
	*reply = p.Suspend(fileID)
	return nil
}

// Shutdown answers QueryShutdown: unload every project and stop the
// daemon's listener, per spec §7's shutdown error-handling policy.
func (rh *RequestHandler) Shutdown(_ struct{}, _ *struct{}) error {
	rh.manager.CloseAll()
	close(rh.shutdown)
	return nil
}
