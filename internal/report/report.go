// Package report records what happened during a collection run: stage
// timings, per-stage counters and signals raised along the way.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusError   = "error"
	// StatusFailed marks a whole run that was aborted.
	StatusFailed = "failed"
)

type Signal struct {
	Code     string  `json:"code"`
	Stage    string  `json:"stage"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Value    float64 `json:"value,omitempty"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type Summary struct {
	StageCount        int            `json:"stage_count"`
	FailedStages      int            `json:"failed_stages"`
	Entities          map[string]int `json:"entities"`
	Edges             int            `json:"edges"`
	Unresolved        int            `json:"unresolved"`
	SignalsBySeverity map[string]int `json:"signals_by_severity"`
}

// Report is safe for concurrent use by parallel stages.
type Report struct {
	Version     string        `json:"version"`
	RunID       string        `json:"run_id"`
	Server      string        `json:"server"`
	GeneratedAt string        `json:"generated_at"`
	Stages      []StageMetric `json:"stages"`
	Signals     []Signal      `json:"signals,omitempty"`
	Summary     Summary       `json:"summary"`

	mu sync.Mutex
}

type StageHandle struct {
	name    string
	started time.Time
}

func New(runID, server string) *Report {
	return &Report{
		Version:     "v1",
		RunID:       runID,
		Server:      server,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Stages:      []StageMetric{},
		Signals:     []Signal{},
	}
}

func (r *Report) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now().UTC()}
}

// EndStage records a finished stage. An error turns an "ok" status into
// "error"; other statuses are kept as given.
func (r *Report) EndStage(h StageHandle, status string, counters map[string]float64, notes []string, err error) {
	if r == nil || h.name == "" {
		return
	}
	if strings.TrimSpace(status) == "" {
		status = StatusOK
	}
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     status,
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
		Notes:      cleanNotes(notes),
	}
	if err != nil {
		m.Error = err.Error()
		if status == StatusOK {
			m.Status = StatusError
		}
	}
	r.mu.Lock()
	r.Stages = append(r.Stages, m)
	r.mu.Unlock()
}

func (r *Report) AddSignal(code, stage, severity, message string, value float64) {
	if r == nil {
		return
	}
	s := Signal{
		Code:     strings.TrimSpace(code),
		Stage:    strings.TrimSpace(stage),
		Severity: strings.ToLower(strings.TrimSpace(severity)),
		Message:  strings.TrimSpace(message),
		Value:    value,
	}
	if s.Code == "" || s.Stage == "" || s.Severity == "" || s.Message == "" {
		return
	}
	r.mu.Lock()
	r.Signals = append(r.Signals, s)
	r.mu.Unlock()
}

// Stage returns the metric of a recorded stage.
func (r *Report) Stage(name string) (StageMetric, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return StageMetric{}, false
}

// HasCritical reports whether any critical signal was raised.
func (r *Report) HasCritical() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.Signals {
		if s.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Finalize orders signals by severity and fills in the summary. entities
// maps kind names to counts.
func (r *Report) Finalize(entities map[string]int, edges, unresolved int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	severityCount := map[string]int{
		SeverityCritical: 0,
		SeverityWarning:  0,
		SeverityInfo:     0,
	}
	sort.SliceStable(r.Signals, func(i, j int) bool {
		pi := signalPriority(r.Signals[i].Severity)
		pj := signalPriority(r.Signals[j].Severity)
		if pi == pj {
			if r.Signals[i].Stage == r.Signals[j].Stage {
				return r.Signals[i].Code < r.Signals[j].Code
			}
			return r.Signals[i].Stage < r.Signals[j].Stage
		}
		return pi > pj
	})
	for _, s := range r.Signals {
		severityCount[s.Severity]++
	}

	failed := 0
	for _, st := range r.Stages {
		if st.Status != StatusOK {
			failed++
		}
	}

	if entities == nil {
		entities = map[string]int{}
	}
	r.Summary = Summary{
		StageCount:        len(r.Stages),
		FailedStages:      failed,
		Entities:          entities,
		Edges:             edges,
		Unresolved:        unresolved,
		SignalsBySeverity: severityCount,
	}
}

// Save writes the report as indented JSON. Call Finalize first.
func (r *Report) Save(path string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	data, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanNotes(raw []string) []string {
	var out []string
	for _, n := range raw {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func signalPriority(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}
