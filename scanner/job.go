package scanner

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// JobState is the lifecycle state of a scan job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobStopped   JobState = "stopped"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobStopped
}

// LogLevel is the severity of a job log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one line of the user-facing job log. Index is the entry's
// position in the log and is what a polling client passes back as cursor.
type LogEntry struct {
	Index   int       `json:"index"`
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
	Level   LogLevel  `json:"level"`
}

// PortResult describes one open port.
type PortResult struct {
	Port     int      `json:"port"`
	Service  string   `json:"service"`
	Version  string   `json:"version,omitempty"`
	Server   string   `json:"server,omitempty"`
	Banner   string   `json:"banner,omitempty"`
	Evidence Evidence `json:"evidence"`
	TLS      *TLSInfo `json:"tls,omitempty"`
}

// ScanRequest is what a caller submits to start a scan.
type ScanRequest struct {
	Host     string
	PortSpec string
	// Workers is advisory; the coordinator clamps it to the core budget.
	Workers int
	Timeout time.Duration
}

// validate checks the request and expands its port specification.
func (r ScanRequest) validate() ([]int, error) {
	if strings.TrimSpace(r.Host) == "" {
		return nil, &ValidationError{Field: "host", Reason: "must not be blank"}
	}
	if strings.ContainsAny(strings.TrimSpace(r.Host), " \t\r\n/") {
		return nil, &ValidationError{Field: "host", Reason: "must be a hostname or IP address"}
	}
	if r.Workers <= 0 {
		return nil, &ValidationError{Field: "workers", Reason: "must be positive"}
	}
	if r.Timeout <= 0 {
		return nil, &ValidationError{Field: "timeout", Reason: "must be positive"}
	}
	return ParsePortSpec(r.PortSpec)
}

// Snapshot is a point-in-time copy of a job as seen by a polling client.
type Snapshot struct {
	ID                    string       `json:"id"`
	State                 JobState     `json:"state"`
	Host                  string       `json:"host"`
	Ports                 string       `json:"ports"`
	ProgressPercent       int          `json:"progress_percent"`
	Probed                int          `json:"probed"`
	Total                 int          `json:"total"`
	Closed                int          `json:"closed"`
	Filtered              int          `json:"filtered"`
	Logs                  []LogEntry   `json:"logs"`
	NextLogIndex          int          `json:"next_log_index"`
	Results               []PortResult `json:"results"`
	EffectiveWorkers      int          `json:"effective_workers"`
	RequestedWorkers      int          `json:"requested_workers"`
	SystemCores           int          `json:"system_cores"`
	MaxRecommendedWorkers int          `json:"max_recommended_workers"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	FinishedAt            *time.Time   `json:"finished_at,omitempty"`
	DurationSeconds       *float64     `json:"duration_seconds,omitempty"`
}

// Job is the state of one scan. All fields behind mu are written by the
// coordinator; results reach it only through the aggregator.
type Job struct {
	id      string
	request ScanRequest
	ports   []int
	now     func() time.Time

	mu               sync.RWMutex
	state            JobState
	effectiveWorkers int
	systemCores      int
	probed           int
	closed           int
	filtered         int
	startedAt        time.Time
	finishedAt       time.Time
	logs             []LogEntry
	results          map[int]PortResult
	// sealed is set once every port has been accounted for; stop requests
	// are ignored from then on.
	sealed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newJob(id string, req ScanRequest, ports []int, now func() time.Time) *Job {
	req.Host = strings.TrimSpace(req.Host)
	return &Job{
		id:      id,
		request: req,
		ports:   ports,
		now:     now,
		state:   JobPending,
		results: make(map[int]PortResult),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// State returns the current lifecycle state.
func (j *Job) State() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Done is closed once the job is terminal and its finish hooks have run.
func (j *Job) Done() <-chan struct{} { return j.done }

// requestStop raises the stop flag. It reports false when the job had
// already finished or probed every port; repeated calls are no-ops.
func (j *Job) requestStop() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() || j.sealed {
		return false
	}
	j.stopOnce.Do(func() {
		close(j.stop)
		j.appendLogLocked(LogWarning, "Stop requested; waiting for in-flight probes to finish")
	})
	return true
}

func (j *Job) stopRequested() bool {
	select {
	case <-j.stop:
		return true
	default:
		return false
	}
}

func (j *Job) start(effective, cores int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = JobRunning
	j.effectiveWorkers = effective
	j.systemCores = cores
	j.startedAt = j.now()
}

func (j *Job) finish(state JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	j.finishedAt = j.now()
	if j.startedAt.IsZero() {
		j.startedAt = j.finishedAt
	}
}

// conclude picks the terminal state, writes the summary entry and finishes
// the job in one critical section. cancelled reports that the run context
// ended early.
func (j *Job) conclude(cancelled bool) JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sealed = true

	open, total := len(j.results), len(j.ports)
	state := JobCompleted
	if j.stopRequested() || (cancelled && j.probed < total) {
		state = JobStopped
	}

	switch {
	case state == JobStopped:
		j.appendLogLocked(LogWarning, fmt.Sprintf("Scan stopped after probing %d of %d ports. Found %d open ports.", j.probed, total, open))
	case open > 0:
		j.appendLogLocked(LogSuccess, fmt.Sprintf("Scan completed. Found %d open ports.", open))
	default:
		j.appendLogLocked(LogWarning, "Scan completed. No open ports found.")
	}

	j.state = state
	j.finishedAt = j.now()
	return state
}

func (j *Job) logf(level LogLevel, format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appendLogLocked(level, fmt.Sprintf(format, args...))
}

func (j *Job) appendLogLocked(level LogLevel, message string) {
	entry := LogEntry{
		Index:   len(j.logs),
		Time:    j.now(),
		Message: message,
		Level:   level,
	}
	j.logs = append(j.logs, entry)
	slog.Debug("job log", "job_id", j.id, "level", string(level), "message", message)
}

// record folds one worker report into the job. It is only called by the
// aggregator.
func (j *Job) record(r portReport) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.probed++
	if j.probed >= len(j.ports) {
		j.sealed = true
	}
	if j.stopRequested() {
		j.appendLogLocked(LogInfo, fmt.Sprintf("Discarded result for port %d received after stop", r.port))
		return
	}

	switch r.state {
	case StateFiltered:
		j.filtered++
		j.appendLogLocked(LogInfo, fmt.Sprintf("Port %d is filtered (no response)", r.port))
	case StateClosed:
		j.closed++
		if r.err != nil && !r.refused {
			j.appendLogLocked(LogInfo, fmt.Sprintf("Port %d is closed (%v)", r.port, r.err))
		} else {
			j.appendLogLocked(LogInfo, fmt.Sprintf("Port %d is closed", r.port))
		}
	case StateOpen:
		for _, w := range r.warnings {
			j.appendLogLocked(LogWarning, w)
		}
		res := *r.result
		if _, exists := j.results[res.Port]; exists {
			return
		}
		j.results[res.Port] = res
		j.appendLogLocked(LogSuccess, describeOpenPort(res))
		if res.TLS != nil {
			j.appendLogLocked(LogInfo, fmt.Sprintf("Port %d TLS %s, certificate subject %q issued by %q",
				res.Port, res.TLS.Version, res.TLS.Certificate.Subject, res.TLS.Certificate.Issuer))
		}
	}
}

func describeOpenPort(res PortResult) string {
	msg := fmt.Sprintf("Port %d is open: %s", res.Port, res.Service)
	if res.Version != "" {
		msg += fmt.Sprintf(" (%s)", res.Version)
	}
	return msg
}

// Snapshot copies the job state. Only log entries with Index >= cursor are
// included; a negative cursor is treated as zero.
func (j *Job) Snapshot(cursor int) Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	total := len(j.ports)
	snap := Snapshot{
		ID:                    j.id,
		State:                 j.state,
		Host:                  j.request.Host,
		Ports:                 j.request.PortSpec,
		Probed:                j.probed,
		Total:                 total,
		Closed:                j.closed,
		Filtered:              j.filtered,
		NextLogIndex:          len(j.logs),
		EffectiveWorkers:      j.effectiveWorkers,
		RequestedWorkers:      j.request.Workers,
		SystemCores:           j.systemCores,
		MaxRecommendedWorkers: j.systemCores * 2,
		ProgressPercent:       progress(j.probed, total, j.state),
	}

	if cursor < 0 {
		cursor = 0
	}
	if cursor < len(j.logs) {
		snap.Logs = append([]LogEntry(nil), j.logs[cursor:]...)
	} else {
		snap.Logs = []LogEntry{}
	}

	snap.Results = make([]PortResult, 0, len(j.results))
	for _, r := range j.results {
		snap.Results = append(snap.Results, r)
	}
	sort.Slice(snap.Results, func(a, b int) bool { return snap.Results[a].Port < snap.Results[b].Port })

	if !j.startedAt.IsZero() {
		started := j.startedAt
		snap.StartedAt = &started
	}
	if j.state.Terminal() {
		finished := j.finishedAt
		duration := finished.Sub(j.startedAt).Seconds()
		snap.FinishedAt = &finished
		snap.DurationSeconds = &duration
	}
	return snap
}

func progress(probed, total int, state JobState) int {
	if state.Terminal() {
		return 100
	}
	if total == 0 {
		return 0
	}
	return min(probed*100/total, 99)
}
