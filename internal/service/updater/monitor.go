package updater

import (
	"sync"

	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/service/download"
)

// Monitor exposes the progress of runs to observers such as the status API.
// A nil Monitor is valid and observes nothing.
type Monitor struct {
	mu      sync.RWMutex
	phase   release.Phase
	manager *download.Manager
	last    *release.Report
}

// NewMonitor returns an idle monitor.
func NewMonitor() *Monitor {
	return &Monitor{phase: release.PhaseIdle}
}

// Phase returns the phase of the current or last run.
func (m *Monitor) Phase() release.Phase {
	if m == nil {
		return release.PhaseIdle
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.phase
}

// Status returns the download snapshot of the current or last run.
// The boolean is false when no run has created a worker pool yet.
func (m *Monitor) Status() (download.Status, bool) {
	if m == nil {
		return download.EmptyStatus(false), false
	}

	m.mu.RLock()
	manager := m.manager
	m.mu.RUnlock()

	if manager == nil {
		return download.EmptyStatus(false), false
	}

	return manager.Status(), true
}

// LastReport returns a copy of the last finished run's report, or nil.
func (m *Monitor) LastReport() *release.Report {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.last.Clone()
}

// SetLastReport seeds the monitor, typically with a report loaded from disk.
func (m *Monitor) SetLastReport(report *release.Report) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = report.Clone()
}

func (m *Monitor) setPhase(phase release.Phase) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = phase
}

// begin resets the per-run state.
func (m *Monitor) begin() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = release.PhaseChecking
	m.manager = nil
}

func (m *Monitor) attach(manager *download.Manager) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.manager = manager
}

func (m *Monitor) finish(report *release.Report) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = report.Clone()

	if report.Status == release.RunNoDistros {
		m.phase = release.PhaseNoDistros
	} else {
		m.phase = release.PhaseDone
	}
}
