package model

import (
	"fmt"
	"time"
)

// FailureStage names the pipeline step at which a candidate was lost.
type FailureStage string

const (
	StageIndex     FailureStage = "index"
	StageFetch     FailureStage = "fetch"
	StageExtract   FailureStage = "extract"
	StageReconcile FailureStage = "reconcile"
	StageStore     FailureStage = "store"
)

// ItemFailure describes one candidate that did not make it into the store.
type ItemFailure struct {
	URL     string       `json:"url"`
	Stage   FailureStage `json:"stage"`
	Kind    string       `json:"kind,omitempty"`
	Message string       `json:"message"`
}

// RunSummary is the operator-facing record of one ingestion run. It is
// written by a single goroutine (the orchestrator's reconcile loop).
type RunSummary struct {
	RunID               string                   `json:"run_id"`
	StartedAt           time.Time                `json:"started_at"`
	FinishedAt          time.Time                `json:"finished_at"`
	LinksDiscovered     int                      `json:"links_discovered"`
	LinksTruncated      int                      `json:"links_truncated"`
	CandidatesExtracted int                      `json:"candidates_extracted"`
	Dropped             int                      `json:"dropped"`
	Inserted            int                      `json:"inserted"`
	Skipped             int                      `json:"skipped"`
	Errors              int                      `json:"errors"`
	SideEffects         map[SideEffectStatus]int `json:"side_effects,omitempty"`
	DeadlineExceeded    bool                     `json:"deadline_exceeded"`
	Success             bool                     `json:"success"`
	Messages            []string                 `json:"messages,omitempty"`
	Failures            []ItemFailure            `json:"failures,omitempty"`
	OmittedMessages     int                      `json:"omitted_messages,omitempty"`

	maxMessages int
}

// NewRunSummary starts a summary. maxMessages caps both Messages and
// Failures; anything beyond the cap is only counted.
func NewRunSummary(runID string, startedAt time.Time, maxMessages int) *RunSummary {
	if maxMessages <= 0 {
		maxMessages = 25
	}
	return &RunSummary{
		RunID:       runID,
		StartedAt:   startedAt,
		Success:     true,
		SideEffects: make(map[SideEffectStatus]int),
		maxMessages: maxMessages,
	}
}

// Addf appends a formatted message, respecting the cap.
func (s *RunSummary) Addf(format string, args ...any) {
	if len(s.Messages) >= s.cap() {
		s.OmittedMessages++
		return
	}
	s.Messages = append(s.Messages, fmt.Sprintf(format, args...))
}

// RecordFailure counts an item error and keeps a sample of it.
func (s *RunSummary) RecordFailure(f ItemFailure) {
	s.Errors++
	if len(s.Failures) >= s.cap() {
		s.OmittedMessages++
		return
	}
	s.Failures = append(s.Failures, f)
}

// RecordSideEffects tallies side effect outcomes.
func (s *RunSummary) RecordSideEffects(effects []SideEffect) {
	if s.SideEffects == nil {
		s.SideEffects = make(map[SideEffectStatus]int)
	}
	for _, e := range effects {
		s.SideEffects[e.Status]++
	}
}

// Abort marks the run as failed with a reason. Work already committed is
// not affected.
func (s *RunSummary) Abort(format string, args ...any) {
	s.Success = false
	s.Addf(format, args...)
}

// Finish stamps the end time.
func (s *RunSummary) Finish(at time.Time) {
	s.FinishedAt = at
}

// Duration returns how long the run took, or zero while still running.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *RunSummary) cap() int {
	if s.maxMessages <= 0 {
		return 25
	}
	return s.maxMessages
}
