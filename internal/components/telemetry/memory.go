package telemetry

import (
	"strings"
	"sync"
)

// Report is a single call recorded by MemoryAPI.
type Report struct {
	Kind   string
	ID     string
	Params []any
	Count  int64
}

// MemoryAPI records every report in memory, it is meant for tests.
type MemoryAPI struct {
	mu      sync.Mutex
	reports []Report
}

func NewMemoryAPI() *MemoryAPI {
	return &MemoryAPI{}
}

func (m *MemoryAPI) push(r Report) {
	m.mu.Lock()
	m.reports = append(m.reports, r)
	m.mu.Unlock()
}

func (m *MemoryAPI) ReportBroken(id string, params ...any) {
	m.push(Report{Kind: "broken", ID: id, Params: params})
}

func (m *MemoryAPI) ReportWarning(id string, params ...any) {
	m.push(Report{Kind: "warning", ID: id, Params: params})
}

func (m *MemoryAPI) ReportDebug(msg string, params ...any) {
	m.push(Report{Kind: "debug", ID: msg, Params: params})
}

func (m *MemoryAPI) ReportCount(id string, count int64) {
	m.push(Report{Kind: "count", ID: id, Count: count})
}

// Reports returns a copy of everything recorded so far.
func (m *MemoryAPI) Reports() []Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Report, len(m.reports))
	copy(out, m.reports)
	return out
}

// Find returns the reports of the given kind whose id ends with suffix.
func (m *MemoryAPI) Find(kind, suffix string) []Report {
	var out []Report
	for _, r := range m.Reports() {
		if r.Kind == kind && strings.HasSuffix(r.ID, suffix) {
			out = append(out, r)
		}
	}
	return out
}
