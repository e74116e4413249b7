package index

import (
	"log"
	"os"
	"path/filepath"
	gosync "sync"
	"time"
)

// BuildStatus is the lifecycle state of an index build.
type BuildStatus string

const (
	BuildIdle     BuildStatus = "idle"
	BuildRunning  BuildStatus = "building"
	BuildComplete BuildStatus = "done"
	BuildFailed   BuildStatus = "error"
)

// BuildInfo describes the current or last build of one
// account's index.
type BuildInfo struct {
	Status   BuildStatus `json:"status"`
	Progress Progress    `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

// Status is the readiness probe result for one account's index.
type Status struct {
	Exists bool      `json:"exists"`
	Ready  bool      `json:"ready"`
	Build  BuildInfo `json:"build"`
}

// Manager tracks per-account index build state and implements
// the readiness gate: queries use an index when it is usable,
// and otherwise request an asynchronous rebuild without ever
// waiting on it.
type Manager struct {
	root       string // directory containing per-account dirs
	decryptCmd string
	loc        *time.Location

	mu     gosync.Mutex
	builds map[string]*buildState
}

type buildState struct {
	status   BuildStatus
	progress Progress
	err      string

	// listeners receive progress updates for SSE streaming.
	listeners map[chan Progress]struct{}
}

// NewManager creates a Manager over the accounts root.
// decryptCmd may be empty when dumps are produced out of band.
func NewManager(root, decryptCmd string, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.Local
	}
	return &Manager{
		root:       root,
		decryptCmd: decryptCmd,
		loc:        loc,
		builds:     make(map[string]*buildState),
	}
}

// AccountDir returns the directory for an account id.
func (m *Manager) AccountDir(account string) string {
	return filepath.Join(m.root, account)
}

// Accounts lists account ids: the subdirectories of the root.
func (m *Manager) Accounts() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	var accounts []string
	for _, e := range entries {
		if e.IsDir() {
			accounts = append(accounts, e.Name())
		}
	}
	return accounts, nil
}

// OpenForQuery opens an account's index read-only when it is
// present and structurally usable. All failures degrade to
// (nil, false); the caller falls back to an empty event set.
func (m *Manager) OpenForQuery(account string) (*Index, bool) {
	ix, err := OpenExisting(Path(m.AccountDir(account)))
	if err != nil {
		return nil, false
	}
	ix.Loc = m.loc
	return ix, true
}

// Status probes one account's index. Probe failures degrade to
// not-exists/not-ready rather than erroring.
func (m *Manager) Status(account string) Status {
	var st Status
	st.Build = m.buildInfo(account)

	path := Path(m.AccountDir(account))
	if _, err := os.Stat(path); err != nil {
		return st
	}
	st.Exists = true

	ix, err := OpenExisting(path)
	if err != nil {
		return st
	}
	defer ix.Close()
	st.Ready = ix.Ready()
	return st
}

// Gate implements the readiness policy for the report path:
// when the index is not ready and no build is running or has
// failed, request an asynchronous rebuild and re-probe once for
// reporting. It never blocks on the build.
func (m *Manager) Gate(account string) Status {
	st := m.Status(account)
	if !st.Ready &&
		st.Build.Status != BuildRunning &&
		st.Build.Status != BuildFailed {
		m.StartBuild(account, st.Exists)
		st = m.Status(account)
	}
	return st
}

// buildInfo snapshots the in-memory build state for an account.
func (m *Manager) buildInfo(account string) BuildInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	bs, ok := m.builds[account]
	if !ok {
		return BuildInfo{Status: BuildIdle}
	}
	return BuildInfo{
		Status:   bs.status,
		Progress: bs.progress,
		Error:    bs.err,
	}
}

// Subscribe registers a progress listener for an account's
// builds. The returned cancel func must be called when done.
func (m *Manager) Subscribe(account string) (<-chan Progress, func()) {
	ch := make(chan Progress, 8)

	m.mu.Lock()
	bs := m.builds[account]
	if bs == nil {
		bs = &buildState{status: BuildIdle}
		m.builds[account] = bs
	}
	if bs.listeners == nil {
		bs.listeners = make(map[chan Progress]struct{})
	}
	bs.listeners[ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(bs.listeners, ch)
		m.mu.Unlock()
	}
	return ch, cancel
}

// publish updates an account's progress and fans it out to
// listeners without blocking on slow consumers.
func (m *Manager) publish(account string, p Progress) {
	m.mu.Lock()
	bs := m.builds[account]
	if bs == nil {
		m.mu.Unlock()
		return
	}
	bs.progress = p
	for ch := range bs.listeners {
		select {
		case ch <- p:
		default:
		}
	}
	m.mu.Unlock()
}

// StartBuild kicks off an asynchronous index build for the
// account. It returns false when a build is already running.
// The build is fire-and-forget: callers never wait on it.
func (m *Manager) StartBuild(account string, rebuild bool) bool {
	m.mu.Lock()
	bs := m.builds[account]
	if bs != nil && bs.status == BuildRunning {
		m.mu.Unlock()
		return false
	}
	if bs == nil {
		bs = &buildState{}
		m.builds[account] = bs
	}
	bs.status = BuildRunning
	bs.err = ""
	bs.progress = Progress{Phase: PhaseStarting}
	m.mu.Unlock()

	go m.runBuild(account, rebuild)
	return true
}

// finishBuild records the terminal state of a build.
func (m *Manager) finishBuild(account string, buildErr error) {
	m.mu.Lock()
	bs := m.builds[account]
	if bs != nil {
		if buildErr != nil {
			bs.status = BuildFailed
			bs.err = buildErr.Error()
			bs.progress.Phase = PhaseError
		} else {
			bs.status = BuildComplete
			bs.progress.Phase = PhaseDone
		}
		for ch := range bs.listeners {
			select {
			case ch <- bs.progress:
			default:
			}
		}
	}
	m.mu.Unlock()

	if buildErr != nil {
		log.Printf("index build for %s failed: %v", account, buildErr)
	}
}
