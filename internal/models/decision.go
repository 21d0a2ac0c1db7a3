package models

import "time"

type DecisionStatus string

const (
	StatusAbsent DecisionStatus = "absent"
	StatusDone   DecisionStatus = "done"
)

// UnspecifiedValue is stored when a metadata field could not be recovered.
const UnspecifiedValue = "unspecified"

// DecisionRecord tracks the processing state of a single court decision.
type DecisionRecord struct {
	DecisionID       string         `json:"decision_id"`
	DecisionNumber   string         `json:"decision_number"`
	ProceedingNumber string         `json:"proceeding_number"`
	DecisionDate     *string        `json:"decision_date,omitempty"`
	Status           DecisionStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (r DecisionRecord) IsDone() bool {
	return r.Status == StatusDone
}

// DecisionMetadata is what the metadata extractor recovers from decision text.
type DecisionMetadata struct {
	Number     string
	Proceeding string
	Date       *string
}
