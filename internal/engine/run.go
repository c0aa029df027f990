package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status identifies where a run is in its lifecycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Bounds accepted by RunConfig.Validate.
const (
	MaxMessageCount = 10_000_000
	MaxMessageRate  = 100_000
	MaxPayloadSize  = 1 << 20 // 1 MiB
	MaxTopicLength  = 255
)

// RunConfig describes one load test. It is immutable once the run starts.
type RunConfig struct {
	MessageCount int    `json:"message_count"`
	MessageRate  int    `json:"message_rate"`
	Topic        string `json:"topic"`
	PayloadSize  int    `json:"payload_size"`
	TestName     string `json:"test_name,omitempty"`
}

// Validate checks the config against the accepted bounds.
func (c RunConfig) Validate() error {
	var issues []string

	if c.MessageCount < 1 || c.MessageCount > MaxMessageCount {
		issues = append(issues, fmt.Sprintf("message_count must be between 1 and %d", MaxMessageCount))
	}
	if c.MessageRate < 1 || c.MessageRate > MaxMessageRate {
		issues = append(issues, fmt.Sprintf("message_rate must be between 1 and %d", MaxMessageRate))
	}
	if strings.TrimSpace(c.Topic) == "" {
		issues = append(issues, "topic is required")
	} else if len(c.Topic) > MaxTopicLength {
		issues = append(issues, fmt.Sprintf("topic must be at most %d characters", MaxTopicLength))
	}
	if c.PayloadSize < 1 || c.PayloadSize > MaxPayloadSize {
		issues = append(issues, fmt.Sprintf("payload_size must be between 1 and %d bytes", MaxPayloadSize))
	}

	if len(issues) > 0 {
		return &ValidationError{issues: issues}
	}
	return nil
}

// Snapshot is a self-consistent view of run progress at one instant.
// Field names on the wire match the HTTP status payload.
type Snapshot struct {
	Running         bool       `json:"running"`
	TestID          string     `json:"test_id,omitempty"`
	Status          Status     `json:"status"`
	MessagesSent    int64      `json:"messages_sent"`
	MessagesFailed  int64      `json:"messages_failed"`
	CurrentRate     float64    `json:"current_rate"`
	ElapsedSeconds  float64    `json:"elapsed_seconds"`
	ProgressPercent float64    `json:"progress_percent"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Config          *RunConfig `json:"config,omitempty"`
	LastError       string     `json:"last_error,omitempty"`

	// rev orders snapshots; stamped under the engine mutex so a snapshot
	// taken before a terminal transition can never displace the terminal one.
	rev uint64
}

func newRunID() string {
	return "test-" + strings.ToLower(ulid.Make().String())
}
