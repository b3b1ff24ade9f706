package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const pipelineMetricsFileName = "pipeline_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// Snapshot contains aggregated pipeline metrics.
type Snapshot struct {
	UpdatedAt    time.Time         `json:"updated_at"`
	Actions      int64             `json:"actions"`
	Safety       SafetyStats       `json:"safety"`
	Consent      ConsentStats      `json:"consent"`
	Execution    ExecutionStats    `json:"execution"`
	Verification VerificationStats `json:"verification"`
	Tasks        TaskStats         `json:"tasks"`
}

// SafetyStats counts verdicts by kind.
type SafetyStats struct {
	Safe              int64 `json:"safe"`
	Suspicious        int64 `json:"suspicious"`
	NeedsConfirmation int64 `json:"needs_confirmation"`
	Blocked           int64 `json:"blocked"`
	Escalations       int64 `json:"escalations"`
}

// ConsentStats counts policy outcomes and prompt answers.
type ConsentStats struct {
	Approved     int64 `json:"approved"`
	Denied       int64 `json:"denied"`
	Prompted     int64 `json:"prompted"`
	UserApproved int64 `json:"user_approved"`
	UserDenied   int64 `json:"user_denied"`
}

// ExecutionStats tracks executor calls.
type ExecutionStats struct {
	Total             int64 `json:"total"`
	Errors            int64 `json:"errors"`
	Timeouts          int64 `json:"timeouts"`
	Retries           int64 `json:"retries"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// ErrorRatio returns errors/total in [0,1].
func (e ExecutionStats) ErrorRatio() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Errors) / float64(e.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (e ExecutionStats) AvgLatencyMs() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.TotalLatencyMs) / float64(e.Total)
}

type VerificationStats struct {
	Passed   int64 `json:"passed"`
	Failed   int64 `json:"failed"`
	Critical int64 `json:"critical"`
}

type TaskStats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// HasData reports whether anything was recorded.
func (s Snapshot) HasData() bool {
	return s.Actions > 0 || s.Execution.Total > 0 || s.Tasks.Completed+s.Tasks.Failed > 0
}

// Recorder records and persists pipeline metrics. A nil Recorder is a no-op.
type Recorder struct {
	path string

	mu      sync.Mutex
	snap    Snapshot
	buckets []int64
	now     func() time.Time
}

// NewRecorder creates a recorder persisting to <workspace>/state/pipeline_metrics.json.
// An empty workspace keeps metrics in memory only.
func NewRecorder(workspacePath string) *Recorder {
	path := ""
	if strings.TrimSpace(workspacePath) != "" {
		path = snapshotPath(workspacePath)
	}
	return &Recorder{
		path:    path,
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
		now:     time.Now,
	}
}

// Snapshot returns the latest in-memory snapshot.
func (m *Recorder) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RecordAction counts one extracted action.
func (m *Recorder) RecordAction() error {
	return m.update(func(s *Snapshot) { s.Actions++ })
}

// RecordVerdict counts a safety verdict by its kind name.
func (m *Recorder) RecordVerdict(kind string) error {
	return m.update(func(s *Snapshot) {
		switch kind {
		case "safe":
			s.Safety.Safe++
		case "suspicious":
			s.Safety.Suspicious++
		case "needs_confirmation":
			s.Safety.NeedsConfirmation++
		case "blocked":
			s.Safety.Blocked++
		}
	})
}

// RecordEscalation counts one advisor consultation.
func (m *Recorder) RecordEscalation() error {
	return m.update(func(s *Snapshot) { s.Safety.Escalations++ })
}

// RecordDecision counts a consent outcome by name.
func (m *Recorder) RecordDecision(outcome string) error {
	return m.update(func(s *Snapshot) {
		switch outcome {
		case "approved":
			s.Consent.Approved++
		case "denied":
			s.Consent.Denied++
		case "needs_prompt":
			s.Consent.Prompted++
		}
	})
}

// RecordPromptAnswer counts the user's answer to a consent prompt.
func (m *Recorder) RecordPromptAnswer(approved bool) error {
	return m.update(func(s *Snapshot) {
		if approved {
			s.Consent.UserApproved++
		} else {
			s.Consent.UserDenied++
		}
	})
}

// RecordExecution updates executor metrics. retry marks a repeated attempt.
func (m *Recorder) RecordExecution(duration time.Duration, output string, runErr error, retry bool) error {
	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}
	return m.update(func(s *Snapshot) {
		s.Execution.Total++
		if retry {
			s.Execution.Retries++
		}
		s.Execution.TotalLatencyMs += latencyMs
		s.Execution.LastLatencyMs = latencyMs
		if latencyMs > s.Execution.MaxLatencyMs {
			s.Execution.MaxLatencyMs = latencyMs
		}
		if runErr != nil {
			s.Execution.Errors++
			if isTimeoutError(runErr, output) {
				s.Execution.Timeouts++
			}
		}
		m.buckets[latencyBucketIndex(latencyMs)]++
		s.Execution.P95ProxyLatencyMs = p95ProxyFromBuckets(m.buckets, s.Execution.Total)
	})
}

// RecordVerification counts a verification result.
func (m *Recorder) RecordVerification(passed, critical bool) error {
	return m.update(func(s *Snapshot) {
		switch {
		case passed:
			s.Verification.Passed++
		case critical:
			s.Verification.Failed++
			s.Verification.Critical++
		default:
			s.Verification.Failed++
		}
	})
}

// RecordTask counts a finished task by status.
func (m *Recorder) RecordTask(completed bool) error {
	return m.update(func(s *Snapshot) {
		if completed {
			s.Tasks.Completed++
		} else {
			s.Tasks.Failed++
		}
	})
}

func (m *Recorder) update(apply func(*Snapshot)) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	apply(&m.snap)
	m.snap.UpdatedAt = m.now().UTC()
	snapshot := m.snap
	m.mu.Unlock()
	return persistSnapshot(m.path, snapshot)
}

// ReadSnapshot reads the persisted snapshot from workspace state.
// If no file exists yet, it returns a zero-value snapshot and nil error.
func ReadSnapshot(workspacePath string) (Snapshot, error) {
	raw, err := os.ReadFile(snapshotPath(workspacePath))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read pipeline metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode pipeline metrics: %w", err)
	}
	return snap, nil
}

func snapshotPath(workspacePath string) string {
	return filepath.Join(workspacePath, "state", pipelineMetricsFileName)
}

func persistSnapshot(path string, snapshot Snapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pipeline metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode pipeline metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write pipeline metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename pipeline metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	last := latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return last
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return last
}

func isTimeoutError(runErr error, output string) bool {
	if errors.Is(runErr, context.DeadlineExceeded) {
		return true
	}
	combined := strings.ToLower(fmt.Sprint(runErr) + " " + output)
	return strings.Contains(combined, "deadline exceeded") ||
		strings.Contains(combined, "timeout") ||
		strings.Contains(combined, "timed out")
}
