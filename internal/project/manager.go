package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"navc/internal/location"
)

// Manager owns the path -> Project registry and the ".currentProject"
// pointer a daemon restart needs to resume querying the last-active
// project, grounded on RTags Server.h's mProjects/mCurrentProject.
type Manager struct {
	mu         sync.RWMutex
	dataDir    string
	reg        *location.Registry
	idleUnload time.Duration

	projects map[string]*Project
	current  string
}

// NewManager creates a Manager rooted at dataDir, restoring the
// .currentProject pointer if one was persisted.
func NewManager(dataDir string, reg *location.Registry, idleUnload time.Duration) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("project: creating data dir: %w", err)
	}
	m := &Manager{
		dataDir:    dataDir,
		reg:        reg,
		idleUnload: idleUnload,
		projects:   map[string]*Project{},
	}
	m.current = m.loadCurrentProject()
	return m, nil
}

func (m *Manager) currentProjectPath() string {
	return filepath.Join(m.dataDir, ".currentProject")
}

func (m *Manager) loadCurrentProject() string {
	b, err := os.ReadFile(m.currentProjectPath())
	if err != nil {
		return ""
	}
	return string(b)
}

func (m *Manager) saveCurrentProject(path string) error {
	tmp := m.currentProjectPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(path), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, m.currentProjectPath())
}

// Open returns the Project for path, creating and loading it if this
// is the first time it's been seen this run (spec §4.A addProject).
func (m *Manager) Open(path string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.projects[path]; ok {
		return p, nil
	}

	p, err := New(path, m.dataDir, m.reg, m.idleUnload)
	if err != nil {
		return nil, err
	}
	m.projects[path] = p
	return p, nil
}

// SetCurrent records path as the active project, persisting it so a
// daemon restart (reload, spec §9 Open Question: discard in-memory
// dirty state, keep the pointer) resumes pointed at the same project.
func (m *Manager) SetCurrent(path string) error {
	m.mu.Lock()
	m.current = path
	m.mu.Unlock()
	return m.saveCurrentProject(path)
}

// Current returns the currently active project path, and whether one
// is set.
func (m *Manager) Current() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current != ""
}

// Get returns an already-open project without creating it.
func (m *Manager) Get(path string) (*Project, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[path]
	return p, ok
}

// ForLocation resolves path to the project whose root is its longest
// matching prefix, generalizing updateProjectForLocation.
func (m *Manager) ForLocation(path string) (*Project, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Project
	bestLen := -1
	for root, p := range m.projects {
		if len(root) > bestLen && isUnderRoot(path, root) {
			best, bestLen = p, len(root)
		}
	}
	return best, best != nil
}

func isUnderRoot(path, root string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	return len(path) > len(root) && path[:len(root)] == root && path[len(root)] == filepath.Separator
}

// All returns every known project path.
func (m *Manager) All() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.projects))
	for path := range m.projects {
		out = append(out, path)
	}
	return out
}

// UnloadIdle unloads every Loaded-but-idle project other than the
// current one, matching Server::onUnload.
func (m *Manager) UnloadIdle() {
	m.mu.RLock()
	cur := m.current
	projects := make([]*Project, 0, len(m.projects))
	paths := make([]string, 0, len(m.projects))
	for path, p := range m.projects {
		projects = append(projects, p)
		paths = append(paths, path)
	}
	m.mu.RUnlock()

	for i, p := range projects {
		if paths[i] == cur || p.IsIndexing() || p.State() == Unloaded {
			continue
		}
		p.Unload()
	}
}

// StartIdleUnloader runs UnloadIdle on m's configured idleUnload
// interval until the returned stop function is called, the sole path
// by which projects are unloaded for inactivity (spec §5: a project
// not currently selected, and not indexing, is eligible). A
// non-positive idleUnload disables unloading and returns a no-op stop.
func (m *Manager) StartIdleUnloader() (stop func()) {
	if m.idleUnload <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(m.idleUnload)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				m.UnloadIdle()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// CloseAll closes every open project's backing store, for clean daemon
// shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, p := range m.projects {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
