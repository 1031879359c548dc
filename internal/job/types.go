package job

import (
	"math"

	"repodocx/internal/conversion"
)

// State is the client-visible lifecycle state of one conversion attempt.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further automatic transitions can happen.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Server status values with special meaning. Every other value keeps the job polling.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// FailureKind records which part of the lifecycle produced a Failed state.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureSubmission    FailureKind = "submission"
	FailurePollTransport FailureKind = "poll_transport"
	FailureServer        FailureKind = "server"
)

// Handle identifies one server-side job. It is only created by a successful submission.
type Handle struct {
	JobID string `json:"job_id"`
}

// Progress is the latest progress report of a pending job.
type Progress struct {
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
	CurrentItem string `json:"current_item,omitempty"`
	Phase       string `json:"phase"`
}

// Percent is round(100*processed/total), or 0 while the total is unknown.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(p.Processed) / float64(p.Total)))
}

var phaseText = map[string]string{
	"parsing_url":    "Parsing GitHub URL...",
	"counting_files": "Counting files to process...",
	"processing":     "Processing files...",
	"saving":         "Saving documents...",
}

// PhaseText is the display text for the phase label. Unknown labels pass through verbatim.
func (p Progress) PhaseText() string {
	if text, ok := phaseText[p.Phase]; ok {
		return text
	}
	if p.Phase == "" {
		return "Working..."
	}
	return p.Phase
}

// ArtifactRef names one generated document.
type ArtifactRef struct {
	Filename string `json:"filename"`
	Folder   string `json:"folder"`
}

// PollResult is one status report for a job as returned by the remote service.
type PollResult struct {
	Status    string
	Progress  *Progress
	Artifacts []ArtifactRef
	Error     string
}

// Snapshot is a copy of the whole client session state.
type Snapshot struct {
	AttemptID   string              `json:"attempt_id,omitempty"`
	State       State               `json:"state"`
	Request     *conversion.Request `json:"request,omitempty"`
	Job         *Handle             `json:"job,omitempty"`
	Progress    *Progress           `json:"progress,omitempty"`
	Percent     int                 `json:"percent"`
	Artifacts   []ArtifactRef       `json:"artifacts,omitempty"`
	Error       string              `json:"error,omitempty"`
	FailureKind FailureKind         `json:"failure_kind,omitempty"`
	Busy        bool                `json:"busy"`
}
