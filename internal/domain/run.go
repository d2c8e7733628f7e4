package domain

import (
	"time"
)

// DetectionRun is the stored record of one analyze + summarize pass.
type DetectionRun struct {
	ID                string            `json:"id"`
	ConfigurationName string            `json:"configurationName"`
	Configuration     RuleConfiguration `json:"configuration"`
	CreatedAt         time.Time         `json:"createdAt"`
	DurationMs        int64             `json:"durationMs"`
	Metrics           Metrics           `json:"metrics"`

	// Results is omitted from run listings.
	Results []AnnotatedTransaction `json:"results,omitempty"`
}

// RunRequest asks the pipeline to screen a transaction set.
type RunRequest struct {
	// RunID is assigned by the caller for async runs so it can be polled.
	RunID string `json:"runId,omitempty"`

	// ConfigurationName selects a preset or stored configuration.
	ConfigurationName string `json:"configurationName,omitempty"`

	// Configuration, when set, takes precedence over ConfigurationName.
	Configuration *RuleConfiguration `json:"configuration,omitempty"`

	// Transactions to screen. Nil (JSON null or absent) means all stored
	// transactions; an empty slice is an empty run. The field is never
	// omitted so the two survive the bus round trip.
	Transactions []Transaction `json:"transactions"`

	// Persist stores the run and its results.
	Persist bool `json:"persist"`
}
